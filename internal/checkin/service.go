package checkin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/TLC405/morganisthebest/internal/tracing"
)

// DefaultGeoTimeout bounds location capture when ServiceConfig leaves it unset.
const DefaultGeoTimeout = 3 * time.Second

// ServiceConfig configures a Service. Zero values fall back to defaults.
type ServiceConfig struct {
	// PINDigits is the nametag PIN width (4 to 6).
	PINDigits int
	// MaxPINAttempts bounds regeneration after PIN collisions.
	MaxPINAttempts int
	// GeoTimeout bounds how long check-in waits for device coordinates.
	GeoTimeout time.Duration
	// PINs overrides the PIN source; defaults to RandomPINGenerator.
	PINs PINGenerator
	// Metrics is optional.
	Metrics *Metrics
}

// Service issues door codes at RSVP time and nametag PINs at check-in.
type Service struct {
	repo        Repository
	pins        PINGenerator
	maxAttempts int
	geoTimeout  time.Duration
	metrics     *Metrics
}

// NewService creates a check-in service backed by repo.
func NewService(repo Repository, cfg ServiceConfig) *Service {
	digits := cfg.PINDigits
	if digits < MinPINDigits || digits > MaxPINDigits {
		digits = DefaultPINDigits
	}
	pins := cfg.PINs
	if pins == nil {
		pins = RandomPINGenerator{Digits: digits}
	}
	attempts := cfg.MaxPINAttempts
	if attempts <= 0 {
		attempts = DefaultMaxPINAttempts
	}
	timeout := cfg.GeoTimeout
	if timeout <= 0 {
		timeout = DefaultGeoTimeout
	}

	return &Service{
		repo:        repo,
		pins:        pins,
		maxAttempts: attempts,
		geoTimeout:  timeout,
		metrics:     cfg.Metrics,
	}
}

// IssueRSVP records that participantID plans to attend eventID and returns
// the RSVP with its door code. Calling it again returns the same door code.
func (s *Service) IssueRSVP(ctx context.Context, participantID, eventID string) (rsvp *RSVP, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "checkin.issue_rsvp")
	defer func() { endSpan(err) }()

	if strings.TrimSpace(participantID) == "" || strings.TrimSpace(eventID) == "" {
		return nil, fmt.Errorf("issue rsvp: %w", ErrInvalidRSVP)
	}

	code, err := NewDoorCode()
	if err != nil {
		return nil, err
	}

	stored, err := s.repo.UpsertRSVP(ctx, &RSVP{
		EventID:       eventID,
		ParticipantID: participantID,
		DoorCode:      code,
	})
	if err != nil {
		return nil, fmt.Errorf("store rsvp: %w", err)
	}
	return stored, nil
}

// CheckIn validates credential against the participant's RSVP door code and
// returns their nametag PIN for the event, issuing one on first call.
//
// Repeated calls return the existing PIN without creating another row. If the
// earlier check-in was not geo-verified and loc now yields coordinates, the
// record is upgraded. Location failure never blocks check-in.
func (s *Service) CheckIn(ctx context.Context, participantID, eventID, credential string, loc Locator) (res *Result, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "checkin.check_in")
	defer func() { endSpan(err) }()

	rsvp, err := s.repo.GetRSVP(ctx, eventID, participantID)
	if err != nil {
		if errors.Is(err, ErrRSVPNotFound) {
			s.metrics.incCheckIn(ResultInvalidCredential)
			return nil, ErrInvalidCredential
		}
		s.metrics.incCheckIn(ResultError)
		return nil, fmt.Errorf("load rsvp: %w", err)
	}
	if !credentialMatches(credential, rsvp.DoorCode) {
		s.metrics.incCheckIn(ResultInvalidCredential)
		slog.InfoContext(ctx, "check-in rejected: credential mismatch",
			"event_id", eventID,
			"participant_id", participantID,
		)
		return nil, ErrInvalidCredential
	}

	existing, err := s.repo.GetCheckIn(ctx, participantID, eventID)
	switch {
	case err == nil:
		return s.resume(ctx, existing, loc)
	case !errors.Is(err, ErrCheckInNotFound):
		s.metrics.incCheckIn(ResultError)
		return nil, fmt.Errorf("load check-in: %w", err)
	}

	point, located := s.capture(ctx, loc)
	ci := &CheckIn{
		ParticipantID: participantID,
		EventID:       eventID,
		DoorCode:      rsvp.DoorCode,
		GeoVerified:   located,
	}
	if located {
		ci.CoarseGeohash = point
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		pin, err := s.pins.NextPIN()
		if err != nil {
			s.metrics.incCheckIn(ResultError)
			return nil, err
		}
		ci.PIN = pin

		err = s.repo.InsertCheckIn(ctx, ci)
		switch {
		case err == nil:
			s.metrics.incCheckIn(ResultCreated)
			slog.InfoContext(ctx, "participant checked in",
				"event_id", eventID,
				"participant_id", participantID,
				"geo_verified", ci.GeoVerified,
				"pin_attempts", attempt,
			)
			return &Result{PIN: ci.PIN, GeoVerified: ci.GeoVerified, CheckedInAt: ci.CheckedInAt, Created: true}, nil

		case errors.Is(err, ErrPINTaken):
			s.metrics.incPINCollision()
			tracing.AddEvent(ctx, "checkin.pin_collision", attribute.Int("attempt", attempt))
			slog.DebugContext(ctx, "pin collision, regenerating", "event_id", eventID, "attempt", attempt)
			continue

		case errors.Is(err, ErrAlreadyCheckedIn):
			// A concurrent request for the same participant won the insert.
			winner, getErr := s.repo.GetCheckIn(ctx, participantID, eventID)
			if getErr != nil {
				s.metrics.incCheckIn(ResultError)
				return nil, fmt.Errorf("load concurrent check-in: %w", getErr)
			}
			s.metrics.incCheckIn(ResultExisting)
			return &Result{PIN: winner.PIN, GeoVerified: winner.GeoVerified, CheckedInAt: winner.CheckedInAt}, nil

		default:
			s.metrics.incCheckIn(ResultError)
			return nil, fmt.Errorf("insert check-in: %w", err)
		}
	}

	s.metrics.incCheckIn(ResultExhausted)
	slog.ErrorContext(ctx, "pin space exhausted",
		"event_id", eventID,
		"attempts", s.maxAttempts,
	)
	return nil, fmt.Errorf("%w: event=%s attempts=%d", ErrPINSpaceExhausted, eventID, s.maxAttempts)
}

// resume returns an existing check-in, upgrading its geo flag if possible.
func (s *Service) resume(ctx context.Context, ci *CheckIn, loc Locator) (*Result, error) {
	if !ci.GeoVerified && loc != nil {
		if coarse, ok := s.capture(ctx, loc); ok {
			if err := s.repo.MarkGeoVerified(ctx, ci.ID, coarse); err != nil {
				// The PIN is still valid; report the stored flag.
				slog.WarnContext(ctx, "failed to record geo verification",
					"error", err,
					"event_id", ci.EventID,
				)
			} else {
				ci.GeoVerified = true
				ci.CoarseGeohash = coarse
			}
		}
	}

	s.metrics.incCheckIn(ResultExisting)
	return &Result{PIN: ci.PIN, GeoVerified: ci.GeoVerified, CheckedInAt: ci.CheckedInAt}, nil
}

// capture asks loc for coordinates within the geo timeout and returns the
// coarse geohash to persist.
func (s *Service) capture(ctx context.Context, loc Locator) (string, bool) {
	if loc == nil {
		s.metrics.incGeoCapture("unavailable")
		return "", false
	}

	ctx, cancel := context.WithTimeout(ctx, s.geoTimeout)
	defer cancel()

	point, err := locate(ctx, loc)
	if err != nil {
		outcome := "unavailable"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		s.metrics.incGeoCapture(outcome)
		slog.DebugContext(ctx, "location not captured", "reason", err)
		return "", false
	}

	s.metrics.incGeoCapture("ok")
	return point.Coarse(), true
}
