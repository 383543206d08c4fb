package track

import (
	"sync"
	"time"
)

// Window is how long a user's recent activity stays relevant to the spam
// trackers. Entries are pruned on every observation.
const Window = 30 * time.Second

const defaultThreshold = 5

type editRecord struct {
	messageID  string
	oldContent string
	newContent string
	at         time.Time
}

// EditTracker keeps a short rolling window of each user's message edits
// and matches burst, repetition and cycling patterns.
type EditTracker struct {
	mu     sync.Mutex
	byUser map[string][]editRecord
}

func NewEditTracker() *EditTracker {
	return &EditTracker{byUser: make(map[string][]editRecord)}
}

func (t *EditTracker) Observe(guildID, userID, messageID, oldContent, newContent string, threshold int, now time.Time) (bool, string) {
	if oldContent == newContent {
		return false, ""
	}
	if threshold <= 0 {
		threshold = defaultThreshold
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := guildID + ":" + userID
	records := prune(t.byUser[key], now)
	records = append(records, editRecord{messageID: messageID, oldContent: oldContent, newContent: newContent, at: now})
	t.byUser[key] = records

	if len(records) >= threshold && now.Sub(records[0].at) < Window {
		return true, "rapid edit burst"
	}

	if repeatedContent(records, threshold) {
		return true, "repeated edit content"
	}

	if cycling(records) {
		return true, "edit content cycling"
	}

	if spammy, reason := HasSpamShape(newContent); spammy {
		return true, reason
	}
	return false, ""
}

// Sweep drops users whose entire window has gone stale; the hourly
// hygiene pass calls this so idle users do not accumulate.
func (t *EditTracker) Sweep(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, records := range t.byUser {
		records = prune(records, now)
		if len(records) == 0 {
			delete(t.byUser, key)
			continue
		}
		t.byUser[key] = records
	}
}

func prune(records []editRecord, now time.Time) []editRecord {
	cutoff := now.Add(-Window)
	idx := 0
	for _, record := range records {
		if record.at.After(cutoff) {
			break
		}
		idx++
	}
	return records[idx:]
}

// repeatedContent reports whether any single content value occurs at
// least ceil(0.7*threshold) times among the last threshold edits.
func repeatedContent(records []editRecord, threshold int) bool {
	start := len(records) - threshold
	if start < 0 {
		start = 0
	}
	needed := (7*threshold + 9) / 10
	counts := make(map[string]int)
	for _, record := range records[start:] {
		counts[record.newContent]++
		if counts[record.newContent] >= needed {
			return true
		}
	}
	return false
}

// cycling matches an A,B,A,B alternation across the last four edits.
func cycling(records []editRecord) bool {
	if len(records) < 4 {
		return false
	}
	last := records[len(records)-4:]
	return last[0].newContent == last[2].newContent &&
		last[1].newContent == last[3].newContent &&
		last[0].newContent != last[1].newContent
}
