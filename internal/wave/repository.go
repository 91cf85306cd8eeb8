package wave

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository persists waves. Implementations must enforce uniqueness of
// (from, to, event) at insert time rather than relying on a prior read.
type Repository interface {
	// Insert stores a new pending wave and fills in ID and timestamps.
	// Returns ErrWaveExists if the key is already taken and ErrSelfWave
	// if FromID equals ToID.
	Insert(ctx context.Context, w *Wave) error

	// Get returns the wave stored under key, or ErrWaveNotFound.
	Get(ctx context.Context, key Key) (*Wave, error)

	// GetByID returns the wave with the given ID, or ErrWaveNotFound.
	GetByID(ctx context.Context, id string) (*Wave, error)

	// UpdateStatus moves a wave to status. Returns ErrInvalidTransition if the
	// current status does not allow it.
	UpdateStatus(ctx context.Context, id string, status Status) error
}

// InMemoryRepository is a mutex-guarded Repository used in development and tests.
type InMemoryRepository struct {
	mu    sync.RWMutex
	waves map[string]*Wave // id -> wave
	keys  map[Key]string   // key -> id
}

// NewInMemoryRepository creates an empty in-memory wave repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		waves: make(map[string]*Wave),
		keys:  make(map[Key]string),
	}
}

// Insert stores a new pending wave.
func (r *InMemoryRepository) Insert(ctx context.Context, w *Wave) error {
	if w.FromID == w.ToID {
		return ErrSelfWave
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := Key{FromID: w.FromID, ToID: w.ToID, EventID: w.EventID}
	if _, exists := r.keys[key]; exists {
		return fmt.Errorf("%w: %s", ErrWaveExists, key)
	}

	now := time.Now()
	w.ID = uuid.New().String()
	w.Status = StatusPending
	w.CreatedAt = now
	w.UpdatedAt = now

	stored := *w
	r.waves[w.ID] = &stored
	r.keys[key] = w.ID
	return nil
}

// Get returns the wave stored under key.
func (r *InMemoryRepository) Get(ctx context.Context, key Key) (*Wave, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.keys[key]
	if !ok {
		return nil, ErrWaveNotFound
	}
	w := *r.waves[id]
	return &w, nil
}

// GetByID returns the wave with the given ID.
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*Wave, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.waves[id]
	if !ok {
		return nil, ErrWaveNotFound
	}
	w := *stored
	return &w, nil
}

// UpdateStatus moves a wave to status if the transition is legal.
func (r *InMemoryRepository) UpdateStatus(ctx context.Context, id string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.waves[id]
	if !ok {
		return ErrWaveNotFound
	}
	if !stored.Status.CanTransitionTo(status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, stored.Status, status)
	}
	if stored.Status != status {
		stored.Status = status
		stored.UpdatedAt = time.Now()
	}
	return nil
}

// Count returns the number of stored waves.
func (r *InMemoryRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.waves)
}
