package conversation

import (
	"context"
	"fmt"
	"log/slog"
)

// Service exposes conversations to their participants.
type Service struct {
	repo Repository
}

// NewService creates a conversation service backed by repo.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// List returns the conversations participantID belongs to.
func (s *Service) List(ctx context.Context, participantID string) ([]*Conversation, error) {
	convs, err := s.repo.ListForParticipant(ctx, participantID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}

// Get returns a conversation if participantID is one of its members.
// Non-members get ErrConversationNotFound so ids cannot be probed.
func (s *Service) Get(ctx context.Context, participantID, id string) (*Conversation, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.Pair().Has(participantID) {
		return nil, ErrConversationNotFound
	}
	return c, nil
}

// End closes a conversation on behalf of one of its participants.
func (s *Service) End(ctx context.Context, participantID, id string) error {
	if _, err := s.Get(ctx, participantID, id); err != nil {
		return err
	}
	if err := s.repo.End(ctx, id); err != nil {
		return err
	}
	slog.InfoContext(ctx, "conversation ended",
		"conversation_id", id,
		"participant_id", participantID,
	)
	return nil
}
