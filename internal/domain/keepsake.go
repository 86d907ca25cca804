package domain

import (
	"time"

	"github.com/google/uuid"
)

// KeepsakeKind distinguishes the public-feed item types
type KeepsakeKind string

const (
	KeepsakeConfession KeepsakeKind = "confession"
	KeepsakeQuote      KeepsakeKind = "quote"
	KeepsakeSong       KeepsakeKind = "song"
	KeepsakeMemory     KeepsakeKind = "memory"
	KeepsakeMeme       KeepsakeKind = "meme"
)

// KeepsakeKinds lists every known kind, in display order
var KeepsakeKinds = []KeepsakeKind{
	KeepsakeConfession,
	KeepsakeQuote,
	KeepsakeSong,
	KeepsakeMemory,
	KeepsakeMeme,
}

// ValidKeepsakeKind reports whether k is one of the known kinds
func ValidKeepsakeKind(k KeepsakeKind) bool {
	switch k {
	case KeepsakeConfession, KeepsakeQuote, KeepsakeSong, KeepsakeMemory, KeepsakeMeme:
		return true
	}
	return false
}

// Keepsake is a public-feed item: both partners see every keepsake,
// whoever posted it. MediaKey references an uploaded object for kinds
// that carry media (memes, songs, memory photos).
type Keepsake struct {
	ID        uuid.UUID    `json:"id"`
	Kind      KeepsakeKind `json:"kind"`
	Author    string       `json:"author"`
	Title     string       `json:"title,omitempty"`
	Body      string       `json:"body,omitempty"`
	MediaKey  string       `json:"media_key,omitempty"`
	Favorite  bool         `json:"favorite"`
	CreatedAt time.Time    `json:"created_at"`
}
