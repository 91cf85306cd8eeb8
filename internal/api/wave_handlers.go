package api

import (
	"net/http"
	"strings"

	"github.com/TLC405/morganisthebest/internal/match"
	"github.com/TLC405/morganisthebest/internal/middleware"
)

// WaveRequest is the body of POST /events/{id}/waves and
// POST /events/{id}/waves/decline.
type WaveRequest struct {
	PIN string `json:"pin"`
}

// WaveHandlers holds dependencies for wave HTTP handlers.
type WaveHandlers struct {
	engine *match.Engine
}

// NewWaveHandlers creates a new WaveHandlers instance.
func NewWaveHandlers(engine *match.Engine) *WaveHandlers {
	return &WaveHandlers{engine: engine}
}

// SendWave handles POST /events/{id}/waves.
//
// recorded, already_sent and not_found are all 200 responses distinguished by
// the result field; mutual is only true when a conversation exists.
func (h *WaveHandlers) SendWave(w http.ResponseWriter, r *http.Request) {
	participantID, eventID, pin, ok := h.parse(w, r)
	if !ok {
		return
	}

	res, err := h.engine.RecordWave(r.Context(), participantID, eventID, pin)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	status := http.StatusOK
	if res.Outcome == match.OutcomeRecorded {
		status = http.StatusCreated
	}
	writeJSON(w, r.Context(), status, res)
}

// DeclineWave handles POST /events/{id}/waves/decline.
func (h *WaveHandlers) DeclineWave(w http.ResponseWriter, r *http.Request) {
	participantID, eventID, pin, ok := h.parse(w, r)
	if !ok {
		return
	}

	res, err := h.engine.DeclineWave(r.Context(), participantID, eventID, pin)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, res)
}

func (h *WaveHandlers) parse(w http.ResponseWriter, r *http.Request) (participantID, eventID, pin string, ok bool) {
	participantID, eventID, ok = participantAndEvent(w, r)
	if !ok {
		return "", "", "", false
	}

	var req WaveRequest
	if !decodeJSON(w, r, &req) {
		return "", "", "", false
	}
	pin = strings.TrimSpace(req.PIN)
	if pin == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidPIN)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidPIN, "pin is required")
		return "", "", "", false
	}
	return participantID, eventID, pin, true
}
