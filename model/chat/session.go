package chat

import "time"

// Session is a named, server-persisted conversation thread.
type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"date"`
}
