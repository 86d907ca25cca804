package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message is a private chat message between the two partners.
// Sender and Receiver are identities (lowercased usernames), the same strings
// announced over the realtime connection.
type Message struct {
	ID        uuid.UUID  `json:"id"`
	Sender    string     `json:"sender"`
	Receiver  string     `json:"receiver"`
	Body      string     `json:"body"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// IsRead reports whether the receiver has seen the message
func (m *Message) IsRead() bool {
	return m.ReadAt != nil
}

// Letter is a long-form private note. Unlike messages, letters have a title
// and are written to be kept.
type Letter struct {
	ID        uuid.UUID  `json:"id"`
	Sender    string     `json:"sender"`
	Receiver  string     `json:"receiver"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
