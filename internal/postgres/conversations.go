package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/TLC405/morganisthebest/internal/conversation"
	"github.com/TLC405/morganisthebest/internal/tracing"
)

// ConversationStore implements conversation.Repository.
type ConversationStore struct {
	db *sql.DB
}

// NewConversationStore creates a ConversationStore.
func NewConversationStore(db *sql.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

var _ conversation.Repository = (*ConversationStore)(nil)

const conversationColumns = `id, participant_a, participant_b, origin_event_id, status, created_at, last_activity_at, ended_at`

func scanConversation(row interface{ Scan(...any) error }, extra ...any) (*conversation.Conversation, error) {
	var (
		c       conversation.Conversation
		status  string
		endedAt sql.NullTime
	)
	dest := append([]any{&c.ID, &c.ParticipantA, &c.ParticipantB, &c.OriginEventID,
		&status, &c.CreatedAt, &c.LastActivityAt, &endedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	c.Status = conversation.Status(status)
	if endedAt.Valid {
		t := endedAt.Time
		c.EndedAt = &t
	}
	return &c, nil
}

// Upsert returns the active conversation for pair, creating it if needed.
//
// The conflict target is the partial unique index on active pairs, so two
// concurrent upserts for the same pair resolve to one row. xmax = 0 only for
// a freshly inserted tuple.
func (s *ConversationStore) Upsert(ctx context.Context, pair conversation.Pair, originEventID string) (c *conversation.Conversation, created bool, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "conversations", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	pair, err = conversation.NewPair(pair.A, pair.B)
	if err != nil {
		return nil, false, err
	}

	c, err = scanConversation(s.db.QueryRowContext(ctx, `
		INSERT INTO conversations (participant_a, participant_b, origin_event_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (participant_a, participant_b) WHERE status = 'active'
		DO UPDATE SET last_activity_at = conversations.last_activity_at
		RETURNING `+conversationColumns+`, (xmax = 0) AS inserted`,
		pair.A, pair.B, originEventID,
	), &created)
	if err != nil {
		return nil, false, fmt.Errorf("upsert conversation: %w", err)
	}
	return c, created, nil
}

// GetByID returns a conversation by id.
func (s *ConversationStore) GetByID(ctx context.Context, id string) (c *conversation.Conversation, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "conversations", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	c, err = scanConversation(s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id,
	))
	if errors.Is(err, sql.ErrNoRows) || invalidID(err) {
		return nil, conversation.ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	return c, nil
}

// LatestForPair returns the pair's most recently created conversation in any
// status.
func (s *ConversationStore) LatestForPair(ctx context.Context, pair conversation.Pair) (c *conversation.Conversation, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "conversations", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	pair, err = conversation.NewPair(pair.A, pair.B)
	if err != nil {
		return nil, err
	}

	c, err = scanConversation(s.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE participant_a = $1 AND participant_b = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		pair.A, pair.B,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, conversation.ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query latest conversation: %w", err)
	}
	return c, nil
}

// ListForParticipant returns the participant's conversations, most recent
// activity first.
func (s *ConversationStore) ListForParticipant(ctx context.Context, participantID string) (out []*conversation.Conversation, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "conversations", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE participant_a = $1 OR participant_b = $1
		ORDER BY last_activity_at DESC, id`,
		participantID,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out, nil
}

// End marks an active conversation ended.
func (s *ConversationStore) End(ctx context.Context, id string) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "conversations", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET status = 'ended', ended_at = NOW()
		WHERE id = $1 AND status = 'active'`,
		id,
	)
	if invalidID(err) {
		return conversation.ErrConversationNotFound
	}
	if err != nil {
		return fmt.Errorf("end conversation: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("end conversation: %w", err)
	}
	if n == 1 {
		return nil
	}

	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	return conversation.ErrAlreadyEnded
}
