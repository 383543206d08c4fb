package track

import (
	"sync"
	"time"
)

type createRecord struct {
	messageID string
	content   string
	at        time.Time
}

// CreateTracker is the message-creation variant of the spam window. It
// applies the same burst, repetition and cycling checks as the edit
// variant, without diffing.
type CreateTracker struct {
	mu     sync.Mutex
	byUser map[string][]createRecord
}

func NewCreateTracker() *CreateTracker {
	return &CreateTracker{byUser: make(map[string][]createRecord)}
}

func (t *CreateTracker) Observe(guildID, userID, messageID, content string, threshold int, now time.Time) (bool, string) {
	if threshold <= 0 {
		threshold = defaultThreshold
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := guildID + ":" + userID
	records := pruneCreates(t.byUser[key], now)
	records = append(records, createRecord{messageID: messageID, content: content, at: now})
	t.byUser[key] = records

	if len(records) >= threshold && now.Sub(records[0].at) < Window {
		return true, "message burst"
	}

	if repeatedMessages(records, threshold) {
		return true, "repeated message content"
	}

	if messageCycling(records) {
		return true, "message content cycling"
	}

	if spammy, reason := HasSpamShape(content); spammy {
		return true, reason
	}
	return false, ""
}

func (t *CreateTracker) Sweep(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, records := range t.byUser {
		records = pruneCreates(records, now)
		if len(records) == 0 {
			delete(t.byUser, key)
			continue
		}
		t.byUser[key] = records
	}
}

func pruneCreates(records []createRecord, now time.Time) []createRecord {
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

func repeatedMessages(records []createRecord, threshold int) bool {
	start := len(records) - threshold
	if start < 0 {
		start = 0
	}
	needed := (7*threshold + 9) / 10
	counts := make(map[string]int)
	for _, record := range records[start:] {
		counts[record.content]++
		if counts[record.content] >= needed {
			return true
		}
	}
	return false
}

func messageCycling(records []createRecord) bool {
	if len(records) < 4 {
		return false
	}
	last := records[len(records)-4:]
	return last[0].content == last[2].content &&
		last[1].content == last[3].content &&
		last[0].content != last[1].content
}
