package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository persists conversations. Upsert must be idempotent on the
// canonical pair among active conversations, including under concurrent calls.
type Repository interface {
	// Upsert returns the active conversation for pair, creating it if none
	// exists. created reports whether this call inserted the row.
	Upsert(ctx context.Context, pair Pair, originEventID string) (conv *Conversation, created bool, err error)

	// GetByID returns a conversation or ErrConversationNotFound.
	GetByID(ctx context.Context, id string) (*Conversation, error)

	// LatestForPair returns the pair's most recently created conversation,
	// active or ended, or ErrConversationNotFound.
	LatestForPair(ctx context.Context, pair Pair) (*Conversation, error)

	// ListForParticipant returns the participant's conversations, most recent
	// activity first.
	ListForParticipant(ctx context.Context, participantID string) ([]*Conversation, error)

	// End marks an active conversation ended. Returns ErrAlreadyEnded if it
	// was not active.
	End(ctx context.Context, id string) error
}

// InMemoryRepository implements Repository with maps guarded by a mutex.
type InMemoryRepository struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation // id -> conversation
	active        map[Pair]string          // pair -> id of the active conversation
}

// NewInMemoryRepository creates an empty in-memory conversation repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		conversations: make(map[string]*Conversation),
		active:        make(map[Pair]string),
	}
}

// Upsert returns the active conversation for pair, creating it if needed.
func (r *InMemoryRepository) Upsert(ctx context.Context, pair Pair, originEventID string) (*Conversation, bool, error) {
	pair, err := NewPair(pair.A, pair.B)
	if err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.active[pair]; ok {
		c := *r.conversations[id]
		return &c, false, nil
	}

	now := time.Now()
	c := &Conversation{
		ID:             uuid.New().String(),
		ParticipantA:   pair.A,
		ParticipantB:   pair.B,
		OriginEventID:  originEventID,
		Status:         StatusActive,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	r.conversations[c.ID] = c
	r.active[pair] = c.ID

	out := *c
	return &out, true, nil
}

// GetByID returns a conversation by id.
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conversations[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	out := *c
	return &out, nil
}

// LatestForPair returns the pair's newest conversation in any status.
func (r *InMemoryRepository) LatestForPair(ctx context.Context, pair Pair) (*Conversation, error) {
	pair, err := NewPair(pair.A, pair.B)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *Conversation
	for _, c := range r.conversations {
		if c.Pair() != pair {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, ErrConversationNotFound
	}
	out := *latest
	return &out, nil
}

// ListForParticipant returns the participant's conversations.
func (r *InMemoryRepository) ListForParticipant(ctx context.Context, participantID string) ([]*Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Conversation
	for _, c := range r.conversations {
		if c.ParticipantA == participantID || c.ParticipantB == participantID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out, nil
}

// End marks an active conversation ended.
func (r *InMemoryRepository) End(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conversations[id]
	if !ok {
		return ErrConversationNotFound
	}
	if c.Status != StatusActive {
		return ErrAlreadyEnded
	}

	now := time.Now()
	c.Status = StatusEnded
	c.EndedAt = &now
	delete(r.active, c.Pair())
	return nil
}

// Count returns the number of stored conversations, active or ended.
func (r *InMemoryRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conversations)
}
