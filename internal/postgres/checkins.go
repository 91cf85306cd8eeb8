package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/TLC405/morganisthebest/internal/checkin"
	"github.com/TLC405/morganisthebest/internal/tracing"
)

// CheckInStore implements checkin.Repository.
type CheckInStore struct {
	db *sql.DB
}

// NewCheckInStore creates a CheckInStore.
func NewCheckInStore(db *sql.DB) *CheckInStore {
	return &CheckInStore{db: db}
}

var _ checkin.Repository = (*CheckInStore)(nil)

const checkInColumns = `id, participant_id, event_id, door_code, pin, geo_verified, COALESCE(coarse_geohash, ''), checked_in_at`

func scanCheckIn(row interface{ Scan(...any) error }) (*checkin.CheckIn, error) {
	var ci checkin.CheckIn
	err := row.Scan(&ci.ID, &ci.ParticipantID, &ci.EventID, &ci.DoorCode, &ci.PIN,
		&ci.GeoVerified, &ci.CoarseGeohash, &ci.CheckedInAt)
	if err != nil {
		return nil, err
	}
	return &ci, nil
}

// GetRSVP returns the participant's RSVP for an event.
func (s *CheckInStore) GetRSVP(ctx context.Context, eventID, participantID string) (rsvp *checkin.RSVP, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "event_rsvps", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	var r checkin.RSVP
	err = s.db.QueryRowContext(ctx, `
		SELECT event_id, participant_id, door_code, created_at
		FROM event_rsvps
		WHERE event_id = $1 AND participant_id = $2`,
		eventID, participantID,
	).Scan(&r.EventID, &r.ParticipantID, &r.DoorCode, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, checkin.ErrRSVPNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query rsvp: %w", err)
	}
	return &r, nil
}

// UpsertRSVP inserts rsvp unless one exists and returns the stored row.
func (s *CheckInStore) UpsertRSVP(ctx context.Context, rsvp *checkin.RSVP) (out *checkin.RSVP, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "event_rsvps", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	// DO UPDATE with an unchanged value so RETURNING yields the existing row.
	var r checkin.RSVP
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO event_rsvps (event_id, participant_id, door_code)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id, participant_id)
		DO UPDATE SET door_code = event_rsvps.door_code
		RETURNING event_id, participant_id, door_code, created_at`,
		rsvp.EventID, rsvp.ParticipantID, rsvp.DoorCode,
	).Scan(&r.EventID, &r.ParticipantID, &r.DoorCode, &r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert rsvp: %w", err)
	}
	return &r, nil
}

// GetCheckIn returns the participant's check-in for an event.
func (s *CheckInStore) GetCheckIn(ctx context.Context, participantID, eventID string) (ci *checkin.CheckIn, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "event_checkins", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	ci, err = scanCheckIn(s.db.QueryRowContext(ctx,
		`SELECT `+checkInColumns+` FROM event_checkins WHERE participant_id = $1 AND event_id = $2`,
		participantID, eventID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, checkin.ErrCheckInNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query check-in: %w", err)
	}
	return ci, nil
}

// GetCheckInByPIN resolves a PIN within one event.
func (s *CheckInStore) GetCheckInByPIN(ctx context.Context, eventID, pin string) (ci *checkin.CheckIn, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "event_checkins", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	ci, err = scanCheckIn(s.db.QueryRowContext(ctx,
		`SELECT `+checkInColumns+` FROM event_checkins WHERE event_id = $1 AND pin = $2`,
		eventID, pin,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, checkin.ErrCheckInNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query check-in by pin: %w", err)
	}
	return ci, nil
}

// InsertCheckIn stores a new check-in. The unique constraints decide
// whether the participant or the PIN is already taken.
func (s *CheckInStore) InsertCheckIn(ctx context.Context, ci *checkin.CheckIn) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "event_checkins", tracing.DBOperationInsert)
	defer func() {
		// Expected constraint outcomes are not span errors.
		if errors.Is(err, checkin.ErrPINTaken) || errors.Is(err, checkin.ErrAlreadyCheckedIn) {
			endSpan(nil)
			return
		}
		endSpan(err)
	}()

	var geohash sql.NullString
	if ci.CoarseGeohash != "" {
		geohash = sql.NullString{String: ci.CoarseGeohash, Valid: true}
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO event_checkins (participant_id, event_id, door_code, pin, geo_verified, coarse_geohash)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, checked_in_at`,
		ci.ParticipantID, ci.EventID, ci.DoorCode, ci.PIN, ci.GeoVerified, geohash,
	).Scan(&ci.ID, &ci.CheckedInAt)
	if constraint, ok := uniqueViolation(err); ok {
		switch constraint {
		case constraintCheckInParticipant:
			return checkin.ErrAlreadyCheckedIn
		case constraintCheckInPIN:
			return fmt.Errorf("%w: event=%s", checkin.ErrPINTaken, ci.EventID)
		}
	}
	if err != nil {
		return fmt.Errorf("insert check-in: %w", err)
	}
	return nil
}

// MarkGeoVerified records a successful location capture.
func (s *CheckInStore) MarkGeoVerified(ctx context.Context, id, coarseGeohash string) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "event_checkins", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	res, err := s.db.ExecContext(ctx, `
		UPDATE event_checkins
		SET geo_verified = TRUE, coarse_geohash = $2
		WHERE id = $1`,
		id, coarseGeohash,
	)
	if invalidID(err) {
		return checkin.ErrCheckInNotFound
	}
	if err != nil {
		return fmt.Errorf("update check-in geo: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return checkin.ErrCheckInNotFound
	}
	return nil
}
