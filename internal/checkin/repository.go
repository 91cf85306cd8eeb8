package checkin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository persists RSVPs and check-ins. InsertCheckIn must enforce both
// uniqueness constraints atomically with the write.
type Repository interface {
	// GetRSVP returns the participant's RSVP for an event, or ErrRSVPNotFound.
	GetRSVP(ctx context.Context, eventID, participantID string) (*RSVP, error)

	// UpsertRSVP stores rsvp if none exists for (event, participant) and
	// returns the stored row, which keeps its original door code.
	UpsertRSVP(ctx context.Context, rsvp *RSVP) (*RSVP, error)

	// GetCheckIn returns the participant's check-in for an event, or ErrCheckInNotFound.
	GetCheckIn(ctx context.Context, participantID, eventID string) (*CheckIn, error)

	// GetCheckInByPIN resolves a PIN within one event, or ErrCheckInNotFound.
	GetCheckInByPIN(ctx context.Context, eventID, pin string) (*CheckIn, error)

	// InsertCheckIn stores a new check-in. Returns ErrAlreadyCheckedIn or
	// ErrPINTaken when the respective unique constraint is violated.
	InsertCheckIn(ctx context.Context, ci *CheckIn) error

	// MarkGeoVerified records a successful location capture on an existing check-in.
	MarkGeoVerified(ctx context.Context, id, coarseGeohash string) error
}

type participantEvent struct {
	participantID string
	eventID       string
}

type eventPIN struct {
	eventID string
	pin     string
}

// InMemoryRepository implements Repository with maps guarded by a single mutex,
// so both unique checks and the write happen as one step.
type InMemoryRepository struct {
	mu       sync.RWMutex
	rsvps    map[participantEvent]*RSVP
	checkIns map[string]*CheckIn         // id -> check-in
	byPerson map[participantEvent]string // (participant, event) -> id
	byPIN    map[eventPIN]string         // (event, pin) -> id
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		rsvps:    make(map[participantEvent]*RSVP),
		checkIns: make(map[string]*CheckIn),
		byPerson: make(map[participantEvent]string),
		byPIN:    make(map[eventPIN]string),
	}
}

// GetRSVP returns the participant's RSVP for an event.
func (r *InMemoryRepository) GetRSVP(ctx context.Context, eventID, participantID string) (*RSVP, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rsvp, ok := r.rsvps[participantEvent{participantID, eventID}]
	if !ok {
		return nil, ErrRSVPNotFound
	}
	out := *rsvp
	return &out, nil
}

// UpsertRSVP stores rsvp unless one exists already.
func (r *InMemoryRepository) UpsertRSVP(ctx context.Context, rsvp *RSVP) (*RSVP, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := participantEvent{rsvp.ParticipantID, rsvp.EventID}
	if existing, ok := r.rsvps[key]; ok {
		out := *existing
		return &out, nil
	}

	stored := *rsvp
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	r.rsvps[key] = &stored

	out := stored
	return &out, nil
}

// GetCheckIn returns the participant's check-in for an event.
func (r *InMemoryRepository) GetCheckIn(ctx context.Context, participantID, eventID string) (*CheckIn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byPerson[participantEvent{participantID, eventID}]
	if !ok {
		return nil, ErrCheckInNotFound
	}
	out := *r.checkIns[id]
	return &out, nil
}

// GetCheckInByPIN resolves a PIN within one event.
func (r *InMemoryRepository) GetCheckInByPIN(ctx context.Context, eventID, pin string) (*CheckIn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byPIN[eventPIN{eventID, pin}]
	if !ok {
		return nil, ErrCheckInNotFound
	}
	out := *r.checkIns[id]
	return &out, nil
}

// InsertCheckIn stores a new check-in, enforcing both unique constraints.
func (r *InMemoryRepository) InsertCheckIn(ctx context.Context, ci *CheckIn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	person := participantEvent{ci.ParticipantID, ci.EventID}
	if _, exists := r.byPerson[person]; exists {
		return ErrAlreadyCheckedIn
	}
	pin := eventPIN{ci.EventID, ci.PIN}
	if _, exists := r.byPIN[pin]; exists {
		return fmt.Errorf("%w: event=%s", ErrPINTaken, ci.EventID)
	}

	if ci.ID == "" {
		ci.ID = uuid.New().String()
	}
	if ci.CheckedInAt.IsZero() {
		ci.CheckedInAt = time.Now()
	}

	stored := *ci
	r.checkIns[ci.ID] = &stored
	r.byPerson[person] = ci.ID
	r.byPIN[pin] = ci.ID
	return nil
}

// MarkGeoVerified records a successful location capture.
func (r *InMemoryRepository) MarkGeoVerified(ctx context.Context, id, coarseGeohash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ci, ok := r.checkIns[id]
	if !ok {
		return ErrCheckInNotFound
	}
	ci.GeoVerified = true
	ci.CoarseGeohash = coarseGeohash
	return nil
}

// CountCheckIns returns the number of check-ins stored for an event.
func (r *InMemoryRepository) CountCheckIns(eventID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, ci := range r.checkIns {
		if ci.EventID == eventID {
			n++
		}
	}
	return n
}
