// Package checkin turns a validated door code into a per-event nametag PIN.
//
// An attendee RSVPs and receives a door code. At the venue the door code is
// presented, the attendee is checked in and issued a short numeric PIN that is
// unique within the event. Other attendees enter that PIN to send a wave.
package checkin

import (
	"errors"
	"time"
)

var (
	// ErrInvalidRSVP is returned when an RSVP names no participant or event.
	ErrInvalidRSVP = errors.New("participant and event are required")

	// ErrInvalidCredential is returned when the door code is missing or does
	// not match the participant's RSVP for the event.
	ErrInvalidCredential = errors.New("invalid check-in credential")

	// ErrPINSpaceExhausted is returned when no free PIN was found within the
	// configured number of attempts.
	ErrPINSpaceExhausted = errors.New("could not allocate a unique PIN for event")

	// ErrRSVPNotFound is returned when the participant has no RSVP for the event.
	ErrRSVPNotFound = errors.New("rsvp not found")

	// ErrCheckInNotFound is returned when no check-in matches the lookup.
	ErrCheckInNotFound = errors.New("check-in not found")

	// ErrPINTaken is returned by InsertCheckIn when (event, pin) is already used.
	ErrPINTaken = errors.New("pin already used at event")

	// ErrAlreadyCheckedIn is returned by InsertCheckIn when (participant, event)
	// already has a check-in.
	ErrAlreadyCheckedIn = errors.New("participant already checked in")
)

// RSVP records a participant's intent to attend and carries the door code
// they present at the venue.
type RSVP struct {
	EventID       string    `json:"event_id"`
	ParticipantID string    `json:"participant_id"`
	DoorCode      string    `json:"door_code"`
	CreatedAt     time.Time `json:"created_at"`
}

// CheckIn is a participant's presence at one event. Never deleted.
type CheckIn struct {
	ID            string    `json:"id"`
	ParticipantID string    `json:"participant_id"`
	EventID       string    `json:"event_id"`
	DoorCode      string    `json:"-"`
	PIN           string    `json:"pin"`
	GeoVerified   bool      `json:"geo_verified"`
	CoarseGeohash string    `json:"coarse_geohash,omitempty"`
	CheckedInAt   time.Time `json:"checked_in_at"`
}

// Result is returned to the caller of Service.CheckIn.
type Result struct {
	PIN         string    `json:"pin"`
	GeoVerified bool      `json:"geo_verified"`
	CheckedInAt time.Time `json:"checked_in_at"`
	// Created is false when an earlier check-in was returned unchanged.
	Created bool `json:"created"`
}
