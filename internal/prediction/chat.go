package prediction

import (
	"strings"
	"time"

	"cryptodash/internal/model"
)

// DefaultChatCapacity is how many chat predictions the dashboard shows.
const DefaultChatCapacity = 5

// ChatLog keeps the most recent chat predictions, newest first.
type ChatLog struct {
	capacity int
	entries  []model.ChatPrediction
}

// NewChatLog creates a log bounded to capacity entries.
func NewChatLog(capacity int) *ChatLog {
	if capacity <= 0 {
		capacity = DefaultChatCapacity
	}
	return &ChatLog{capacity: capacity}
}

// Add records a message. Blank messages are ignored.
func (c *ChatLog) Add(msg string, at time.Time) bool {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return false
	}
	entries := make([]model.ChatPrediction, 0, c.capacity)
	entries = append(entries, model.ChatPrediction{Message: msg, ReceivedAt: at})
	for _, e := range c.entries {
		if len(entries) == c.capacity {
			break
		}
		entries = append(entries, e)
	}
	c.entries = entries
	return true
}

// Entries returns a copy of the log, newest first.
func (c *ChatLog) Entries() []model.ChatPrediction {
	out := make([]model.ChatPrediction, len(c.entries))
	copy(out, c.entries)
	return out
}

// Len returns the number of stored entries.
func (c *ChatLog) Len() int { return len(c.entries) }
