package api

import (
	"net/http"

	"github.com/TLC405/morganisthebest/internal/conversation"
	"github.com/TLC405/morganisthebest/internal/middleware"
	"github.com/TLC405/morganisthebest/internal/validate"
)

// ConversationResponse is a conversation as seen by one of its participants.
type ConversationResponse struct {
	*conversation.Conversation
	// With is the other participant.
	With string `json:"with"`
}

// ConversationListResponse is returned by GET /conversations.
type ConversationListResponse struct {
	Conversations []ConversationResponse `json:"conversations"`
}

// ConversationHandlers holds dependencies for conversation HTTP handlers.
type ConversationHandlers struct {
	conversations *conversation.Service
}

// NewConversationHandlers creates a new ConversationHandlers instance.
func NewConversationHandlers(conversations *conversation.Service) *ConversationHandlers {
	return &ConversationHandlers{conversations: conversations}
}

// List handles GET /conversations.
func (h *ConversationHandlers) List(w http.ResponseWriter, r *http.Request) {
	participantID, ok := requireParticipant(w, r)
	if !ok {
		return
	}

	convs, err := h.conversations.List(r.Context(), participantID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	resp := ConversationListResponse{Conversations: make([]ConversationResponse, 0, len(convs))}
	for _, c := range convs {
		resp.Conversations = append(resp.Conversations, viewFor(c, participantID))
	}
	writeJSON(w, r.Context(), http.StatusOK, resp)
}

// Get handles GET /conversations/{id}.
func (h *ConversationHandlers) Get(w http.ResponseWriter, r *http.Request) {
	participantID, id, ok := participantAndConversation(w, r)
	if !ok {
		return
	}

	c, err := h.conversations.Get(r.Context(), participantID, id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, viewFor(c, participantID))
}

// End handles POST /conversations/{id}/end.
func (h *ConversationHandlers) End(w http.ResponseWriter, r *http.Request) {
	participantID, id, ok := participantAndConversation(w, r)
	if !ok {
		return
	}

	if err := h.conversations.End(r.Context(), participantID, id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func viewFor(c *conversation.Conversation, participantID string) ConversationResponse {
	return ConversationResponse{
		Conversation: c,
		With:         c.Pair().Other(participantID),
	}
}

// participantAndConversation answers 404 for a malformed {id}, matching what
// an unknown id gets.
func participantAndConversation(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	participantID, ok := requireParticipant(w, r)
	if !ok {
		return "", "", false
	}

	id, err := validate.Identifier(r.PathValue("id"))
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Conversation not found")
		return "", "", false
	}
	return participantID, id, true
}

func requireParticipant(w http.ResponseWriter, r *http.Request) (string, bool) {
	participantID, err := middleware.ParticipantFromRequest(r)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthRequired)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthRequired, "Authentication required")
		return "", false
	}
	return participantID, true
}
