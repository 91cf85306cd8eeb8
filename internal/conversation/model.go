// Package conversation models the two-party messaging channel opened when a
// mutual match is detected.
package conversation

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	// ErrConversationNotFound is returned when the conversation does not exist
	// or the caller is not one of its participants.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrInvalidPair is returned when a pair is built from empty or equal ids.
	ErrInvalidPair = errors.New("conversation requires two distinct participants")

	// ErrAlreadyEnded is returned when ending a conversation that has ended.
	ErrAlreadyEnded = errors.New("conversation already ended")
)

// Pair is an unordered pair of participants stored in canonical order:
// A is always the lexicographically smaller id.
type Pair struct {
	A string
	B string
}

// NewPair canonicalises two participant ids into a Pair.
func NewPair(x, y string) (Pair, error) {
	if x == "" || y == "" || x == y {
		return Pair{}, ErrInvalidPair
	}
	if y < x {
		x, y = y, x
	}
	return Pair{A: x, B: y}, nil
}

// Key returns the pair's string form, used as the uniqueness key.
func (p Pair) Key() string {
	return p.A + ":" + p.B
}

// Has reports whether id is one of the two participants.
func (p Pair) Has(id string) bool {
	return id == p.A || id == p.B
}

// Other returns the participant that is not id.
func (p Pair) Other(id string) string {
	if id == p.A {
		return p.B
	}
	return p.A
}

// Conversation is a durable channel between exactly two participants.
type Conversation struct {
	ID             string     `json:"id"`
	ParticipantA   string     `json:"participant_a"`
	ParticipantB   string     `json:"participant_b"`
	OriginEventID  string     `json:"origin_event_id"`
	Status         Status     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}

// Pair returns the conversation's participants as a Pair.
func (c *Conversation) Pair() Pair {
	return Pair{A: c.ParticipantA, B: c.ParticipantB}
}
