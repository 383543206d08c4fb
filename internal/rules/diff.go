package rules

import (
	"fmt"
	"strings"
	"unicode"

	"watchtower/internal/utils"
)

// suspicious edit keywords worth calling out in audit trails; matching
// is naive substring, lowercase.
var diffKeywords = []string{
	"free", "nitro", "giveaway", "airdrop", "claim", "verify", "prize",
}

// ClassifyChange produces a coarse, human-readable summary of what an
// edit changed. It feeds audit metadata only and never drives
// enforcement.
func ClassifyChange(oldContent, newContent string) string {
	var parts []string

	oldLinks := len(utils.ExtractURLs(oldContent))
	newLinks := len(utils.ExtractURLs(newContent))
	if d := newLinks - oldLinks; d > 0 {
		parts = append(parts, fmt.Sprintf("+%d link(s)", d))
	} else if d < 0 {
		parts = append(parts, fmt.Sprintf("%d link(s)", d))
	}

	oldMentions := strings.Count(oldContent, "<@")
	newMentions := strings.Count(newContent, "<@")
	if d := newMentions - oldMentions; d > 0 {
		parts = append(parts, fmt.Sprintf("+%d mention(s)", d))
	} else if d < 0 {
		parts = append(parts, fmt.Sprintf("%d mention(s)", d))
	}

	oldLen := len([]rune(oldContent))
	newLen := len([]rune(newContent))
	if d := newLen - oldLen; d != 0 {
		parts = append(parts, fmt.Sprintf("length %+d", d))
	}

	if capsRatio(newContent) > capsRatio(oldContent)+20 {
		parts = append(parts, "caps increase")
	}

	oldLower := strings.ToLower(oldContent)
	newLower := strings.ToLower(newContent)
	for _, kw := range diffKeywords {
		if strings.Contains(newLower, kw) && !strings.Contains(oldLower, kw) {
			parts = append(parts, fmt.Sprintf("added keyword %q", kw))
		}
	}

	if len(parts) == 0 {
		return "minor edit"
	}
	return strings.Join(parts, ", ")
}

func capsRatio(s string) int {
	letters, upper := 0, 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters == 0 {
		return 0
	}
	return upper * 100 / letters
}
