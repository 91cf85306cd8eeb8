package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/TLC405/morganisthebest/internal/tracing"
	"github.com/TLC405/morganisthebest/internal/wave"
)

// WaveStore implements wave.Repository.
type WaveStore struct {
	db *sql.DB
}

// NewWaveStore creates a WaveStore.
func NewWaveStore(db *sql.DB) *WaveStore {
	return &WaveStore{db: db}
}

var _ wave.Repository = (*WaveStore)(nil)

const waveColumns = `id, from_id, to_id, event_id, status, created_at, updated_at`

func scanWave(row interface{ Scan(...any) error }) (*wave.Wave, error) {
	var (
		w      wave.Wave
		status string
	)
	if err := row.Scan(&w.ID, &w.FromID, &w.ToID, &w.EventID, &status, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	s, err := wave.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	w.Status = s
	return &w, nil
}

// Insert stores a new pending wave. A duplicate (from, to, event) surfaces
// as wave.ErrWaveExists from the unique constraint.
func (s *WaveStore) Insert(ctx context.Context, w *wave.Wave) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "waves", tracing.DBOperationInsert)
	defer func() {
		if errors.Is(err, wave.ErrWaveExists) {
			endSpan(nil)
			return
		}
		endSpan(err)
	}()

	if w.FromID == w.ToID {
		return wave.ErrSelfWave
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO waves (from_id, to_id, event_id)
		VALUES ($1, $2, $3)
		RETURNING id, status, created_at, updated_at`,
		w.FromID, w.ToID, w.EventID,
	).Scan(&w.ID, &w.Status, &w.CreatedAt, &w.UpdatedAt)
	if constraint, ok := uniqueViolation(err); ok && constraint == constraintWaveKey {
		return fmt.Errorf("%w: %s", wave.ErrWaveExists, wave.Key{FromID: w.FromID, ToID: w.ToID, EventID: w.EventID})
	}
	if constraint, ok := checkViolation(err); ok && constraint == constraintWaveNotSelf {
		return wave.ErrSelfWave
	}
	if err != nil {
		return fmt.Errorf("insert wave: %w", err)
	}
	return nil
}

// Get returns the wave stored under key.
func (s *WaveStore) Get(ctx context.Context, key wave.Key) (w *wave.Wave, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "waves", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	w, err = scanWave(s.db.QueryRowContext(ctx,
		`SELECT `+waveColumns+` FROM waves WHERE from_id = $1 AND to_id = $2 AND event_id = $3`,
		key.FromID, key.ToID, key.EventID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wave.ErrWaveNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query wave: %w", err)
	}
	return w, nil
}

// GetByID returns the wave with the given ID.
func (s *WaveStore) GetByID(ctx context.Context, id string) (w *wave.Wave, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "waves", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	w, err = scanWave(s.db.QueryRowContext(ctx,
		`SELECT `+waveColumns+` FROM waves WHERE id = $1`, id,
	))
	if errors.Is(err, sql.ErrNoRows) || invalidID(err) {
		return nil, wave.ErrWaveNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query wave by id: %w", err)
	}
	return w, nil
}

// UpdateStatus moves a wave to status if the transition is legal. The guard
// is part of the UPDATE so concurrent transitions cannot both apply.
func (s *WaveStore) UpdateStatus(ctx context.Context, id string, status wave.Status) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "waves", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	if _, err := wave.ParseStatus(string(status)); err != nil {
		return err
	}

	// Only pending may move; re-applying the current status is a no-op.
	res, err := s.db.ExecContext(ctx, `
		UPDATE waves
		SET status = $2,
		    updated_at = CASE WHEN status = $2 THEN updated_at ELSE NOW() END
		WHERE id = $1 AND (status = $2 OR status = 'pending')`,
		id, string(status),
	)
	if invalidID(err) {
		return wave.ErrWaveNotFound
	}
	if err != nil {
		return fmt.Errorf("update wave status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update wave status: %w", err)
	}
	if n == 1 {
		return nil
	}

	current, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", wave.ErrInvalidTransition, current.Status, status)
}
