package track

import (
	"strings"
	"unicode"
)

const (
	runLength        = 10
	wordRepeats      = 5
	patternRepeats   = 6
	specialDensity   = 0.30
	specialMinLength = 10
	emojiDensity     = 0.20
	emojiMinLength   = 5
)

// HasSpamShape reports whether a single content value alone exhibits spam
// characteristics, independent of any window state.
func HasSpamShape(content string) (bool, string) {
	runes := []rune(content)

	if hasCharacterRun(runes) {
		return true, "repeated character run"
	}
	if hasRepeatedWord(content) {
		return true, "repeated word"
	}
	if hasRepeatingPattern(content) {
		return true, "repeating pattern"
	}
	if len(runes) > specialMinLength && density(runes, isSpecial) > specialDensity {
		return true, "special character flood"
	}
	if len(runes) > emojiMinLength && density(runes, isEmoji) > emojiDensity {
		return true, "emoji flood"
	}
	return false, ""
}

func hasCharacterRun(runes []rune) bool {
	run := 1
	for i := 1; i < len(runes); i++ {
		if runes[i] == runes[i-1] {
			run++
			if run >= runLength {
				return true
			}
			continue
		}
		run = 1
	}
	return false
}

func hasRepeatedWord(content string) bool {
	counts := make(map[string]int)
	for _, word := range strings.Fields(strings.ToLower(content)) {
		counts[word]++
		if counts[word] >= wordRepeats {
			return true
		}
	}
	return false
}

// hasRepeatingPattern looks for a short pattern (two to four characters)
// repeated consecutively at least patternRepeats times anywhere in the
// content.
func hasRepeatingPattern(content string) bool {
	runes := []rune(content)
	for size := 2; size <= 4; size++ {
		needed := size * patternRepeats
		for start := 0; start+needed <= len(runes); start++ {
			if allCopies(runes[start:start+needed], size) {
				return true
			}
		}
	}
	return false
}

func allCopies(runes []rune, size int) bool {
	for i := size; i < len(runes); i++ {
		if runes[i] != runes[i%size] {
			return false
		}
	}
	return true
}

func density(runes []rune, match func(rune) bool) float64 {
	if len(runes) == 0 {
		return 0
	}
	hits := 0
	for _, r := range runes {
		if match(r) {
			hits++
		}
	}
	return float64(hits) / float64(len(runes))
}

func isSpecial(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r)
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1FAFF:
		return true
	case r >= 0x2600 && r <= 0x27BF:
		return true
	case r >= 0x1F1E6 && r <= 0x1F1FF:
		return true
	default:
		return false
	}
}
