package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/TLC405/morganisthebest/internal/checkin"
	"github.com/TLC405/morganisthebest/internal/geo"
	"github.com/TLC405/morganisthebest/internal/middleware"
	"github.com/TLC405/morganisthebest/internal/validate"
)

// maxBodyBytes caps JSON request bodies; every request in this API is tiny.
const maxBodyBytes = 4 << 10

// RSVPResponse is returned by POST /events/{id}/rsvp.
type RSVPResponse struct {
	EventID   string    `json:"event_id"`
	DoorCode  string    `json:"door_code"`
	CreatedAt time.Time `json:"created_at"`
}

// CheckInRequest is the body of POST /events/{id}/checkin. Location is
// optional; devices that could not obtain coordinates omit it.
type CheckInRequest struct {
	Credential string     `json:"credential"`
	Location   *geo.Point `json:"location,omitempty"`
}

// CheckInResponse is returned by POST /events/{id}/checkin. The same PIN is
// returned on every call for the same participant and event.
type CheckInResponse struct {
	PIN         string    `json:"pin"`
	GeoVerified bool      `json:"geo_verified"`
	CheckedInAt time.Time `json:"checked_in_at"`
}

// RSVPHandlers holds dependencies for RSVP and check-in HTTP handlers.
type RSVPHandlers struct {
	checkins *checkin.Service
}

// NewRSVPHandlers creates a new RSVPHandlers instance.
func NewRSVPHandlers(checkins *checkin.Service) *RSVPHandlers {
	return &RSVPHandlers{checkins: checkins}
}

// IssueRSVP handles POST /events/{id}/rsvp. Repeated calls return the same
// door code.
func (h *RSVPHandlers) IssueRSVP(w http.ResponseWriter, r *http.Request) {
	participantID, eventID, ok := participantAndEvent(w, r)
	if !ok {
		return
	}

	rsvp, err := h.checkins.IssueRSVP(r.Context(), participantID, eventID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, RSVPResponse{
		EventID:   rsvp.EventID,
		DoorCode:  rsvp.DoorCode,
		CreatedAt: rsvp.CreatedAt,
	})
}

// CheckIn handles POST /events/{id}/checkin.
func (h *RSVPHandlers) CheckIn(w http.ResponseWriter, r *http.Request) {
	participantID, eventID, ok := participantAndEvent(w, r)
	if !ok {
		return
	}

	var req CheckInRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	credential, err := validate.Credential(req.Credential)
	if err != nil {
		message := "credential is malformed"
		if errors.Is(err, validate.ErrEmpty) {
			message = "credential is required"
		}
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, message)
		return
	}

	res, err := h.checkins.CheckIn(r.Context(), participantID, eventID, credential, checkin.StaticLocator(req.Location))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, r.Context(), status, CheckInResponse{
		PIN:         res.PIN,
		GeoVerified: res.GeoVerified,
		CheckedInAt: res.CheckedInAt,
	})
}

// participantAndEvent extracts the authenticated participant and the {id}
// path value, writing an error response when either is missing.
func participantAndEvent(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	participantID, ok := requireParticipant(w, r)
	if !ok {
		return "", "", false
	}

	eventID, err := validate.Identifier(r.PathValue("id"))
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Event ID is malformed")
		return "", "", false
	}
	return participantID, eventID, true
}

// decodeJSON decodes a size-limited JSON body into v. Unknown fields are
// rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		message := "Invalid JSON in request body"
		switch {
		case errors.As(err, &tooLarge):
			message = "Request body too large"
		case errors.Is(err, io.EOF):
			message = "Request body is required"
		}
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, message)
		return false
	}
	return true
}
