package chat

import "time"

// Role distinguishes the two sides of a conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Origin tags how a message entered the timeline. Optimistic entries are
// appended locally before any server acknowledgment and are never rolled
// back or retried.
type Origin int

const (
	Confirmed Origin = iota
	Optimistic
)

// Message is one timeline entry. Timestamps are display-only (HH:mm) and
// carry no ordering meaning; the timeline order is append order.
type Message struct {
	ID            string   `json:"id"`
	Role          Role     `json:"role"`
	Content       string   `json:"content"`
	Timestamp     string   `json:"timestamp"`
	AttachmentRef string   `json:"summaryFileUrl,omitempty"`
	FileExcerpt   string   `json:"fileExcerpt,omitempty"`
	Recommend     []string `json:"recommend,omitempty"`
	Origin        Origin   `json:"-"`
}

// Clock renders a wall-clock timestamp the way the timeline displays it.
func Clock(t time.Time) string {
	return t.Format("15:04")
}
