// Package wave models the directional interest one attendee expresses in
// another at an event, and the storage contract that keeps it unique.
package wave

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a wave.
type Status string

// Wave statuses. Pending is the only non-terminal state.
const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusDeclined Status = "declined"
)

var (
	// ErrWaveExists is returned by Insert when (from, to, event) is already stored.
	ErrWaveExists = errors.New("wave already exists")

	// ErrWaveNotFound is returned when no wave matches the lookup.
	ErrWaveNotFound = errors.New("wave not found")

	// ErrSelfWave is returned when from and to name the same participant.
	ErrSelfWave = errors.New("participant cannot wave at themselves")

	// ErrInvalidTransition is returned when a status change is not allowed.
	ErrInvalidTransition = errors.New("invalid wave status transition")

	// ErrUnknownStatus is returned when parsing a status string fails.
	ErrUnknownStatus = errors.New("unknown wave status")
)

// Wave is one participant's interest in another, scoped to the event where
// they met.
type Wave struct {
	ID        string    `json:"id"`
	FromID    string    `json:"from_id"`
	ToID      string    `json:"to_id"`
	EventID   string    `json:"event_id"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ParseStatus converts a stored string into a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusAccepted, StatusDeclined:
		return Status(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// CanTransitionTo reports whether a wave in status s may move to next.
// Re-applying the current status is allowed so that retried match
// provisioning stays idempotent.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return true
	}
	return s == StatusPending && (next == StatusAccepted || next == StatusDeclined)
}

// CountsTowardMatch reports whether a wave in this status can complete a
// mutual match. Declined waves are terminal and never do.
func (s Status) CountsTowardMatch() bool {
	return s == StatusPending || s == StatusAccepted
}

// Key identifies a wave by its unique (from, to, event) triple.
type Key struct {
	FromID  string
	ToID    string
	EventID string
}

// Reverse returns the key of the wave travelling in the opposite direction.
func (k Key) Reverse() Key {
	return Key{FromID: k.ToID, ToID: k.FromID, EventID: k.EventID}
}

func (k Key) String() string {
	return k.EventID + "/" + k.FromID + "->" + k.ToID
}
