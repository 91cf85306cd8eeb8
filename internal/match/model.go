// Package match records waves between checked-in attendees and provisions a
// conversation once interest is mutual.
package match

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotCheckedIn is returned when the sender has no check-in for the event.
	ErrNotCheckedIn = errors.New("sender is not checked in to event")

	// ErrSelfWaveRejected is returned when the PIN resolves to the sender.
	ErrSelfWaveRejected = errors.New("cannot wave at yourself")

	// ErrInvalidPIN is returned when the entered PIN is not 4 to 6 digits.
	ErrInvalidPIN = errors.New("invalid pin")

	// ErrMatchIncomplete is returned when waves are mutual but the
	// conversation could not be provisioned. Retrying RecordWave completes it.
	ErrMatchIncomplete = errors.New("mutual match found but conversation could not be provisioned")
)

// Outcome is the non-error result of recording or declining a wave.
type Outcome string

// Wave outcomes.
const (
	OutcomeRecorded    Outcome = "recorded"
	OutcomeAlreadySent Outcome = "already_sent"
	OutcomeNotFound    Outcome = "not_found"
	OutcomeDeclined    Outcome = "declined"
)

// WaveResult is returned by Engine.RecordWave.
type WaveResult struct {
	Outcome        Outcome `json:"result"`
	Mutual         bool    `json:"mutual"`
	ConversationID string  `json:"conversation_id,omitempty"`
	WaveID         string  `json:"wave_id,omitempty"`
}

// MatchEvent is published to both participants when a new conversation is
// provisioned for them.
type MatchEvent struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversation_id"`
	EventID        string    `json:"event_id"`
	ParticipantID  string    `json:"participant_id"`
	MatchedWith    string    `json:"matched_with"`
	MatchedAt      time.Time `json:"matched_at"`
}

// MatchEventType is the Type of every MatchEvent.
const MatchEventType = "match.created"

// Publisher delivers match events to a participant's realtime feed.
type Publisher interface {
	Publish(ctx context.Context, participantID string, event any) error
}
