package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dialverse/call-gateway/internal/core/registry"
	"github.com/dialverse/call-gateway/internal/core/state"
	"github.com/dialverse/call-gateway/internal/domain"
	"github.com/dialverse/call-gateway/internal/repository"
	"github.com/dialverse/call-gateway/internal/services/call"
	"github.com/gorilla/mux"
)

// CallHandler exposes the call control API.
type CallHandler struct {
	service *call.Service
}

// NewCallHandler creates a new call handler
func NewCallHandler(service *call.Service) *CallHandler {
	return &CallHandler{service: service}
}

// InitiateCallRequest represents an outbound dial request
type InitiateCallRequest struct {
	To                 string `json:"to"`
	From               string `json:"from,omitempty"`
	MaxDurationMinutes int    `json:"max_duration_minutes,omitempty"`
}

// UpdateNotesRequest updates the operator notes and tags on a call log
type UpdateNotesRequest struct {
	Notes string   `json:"notes"`
	Tags  []string `json:"tags,omitempty"`
}

// InitiateCall godoc
// @Summary Start an outbound call
// @Accept json
// @Produce json
// @Param call body InitiateCallRequest true "Dial request"
// @Success 201 {object} domain.CallSession
// @Router /api/calls [post]
func (h *CallHandler) InitiateCall(w http.ResponseWriter, r *http.Request) {
	var req InitiateCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.To == "" {
		http.Error(w, "to is required", http.StatusBadRequest)
		return
	}

	sess, err := h.service.InitiateCall(r.Context(), call.InitiateRequest{
		To:          req.To,
		From:        req.From,
		MaxDuration: time.Duration(req.MaxDurationMinutes) * time.Minute,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(sess)
}

// GetCall returns one call session.
func (h *CallHandler) GetCall(w http.ResponseWriter, r *http.Request) {
	callID := mux.Vars(r)["id"]

	sess, err := h.service.Get(r.Context(), callID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			http.Error(w, "Call not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sess)
}

// ListCalls godoc
// @Summary List call sessions
// @Produce json
// @Param status query string false "Filter by status"
// @Param direction query string false "Filter by direction"
// @Param number query string false "Filter by phone number (either side)"
// @Param limit query integer false "Page size" default(100)
// @Param offset query integer false "Page offset" default(0)
// @Router /api/calls [get]
func (h *CallHandler) ListCalls(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.ListFilter{
		Status:    domain.CallStatus(q.Get("status")),
		Direction: domain.CallDirection(q.Get("direction")),
		Number:    q.Get("number"),
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}
	if offsetStr := q.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}
	if sinceStr := q.Get("since"); sinceStr != "" {
		since, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			http.Error(w, "Invalid since format, use RFC3339", http.StatusBadRequest)
			return
		}
		filter.Since = since
	}

	sessions, err := h.service.List(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"calls": sessions,
		"total": len(sessions),
	})
}

// ListActiveCalls returns every non-terminal session.
func (h *CallHandler) ListActiveCalls(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.service.ListActive(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"calls": sessions,
		"total": len(sessions),
	})
}

// HangupCall tears a call down. Hanging up an already-ended call succeeds and
// returns the terminal session.
func (h *CallHandler) HangupCall(w http.ResponseWriter, r *http.Request) {
	callID := mux.Vars(r)["id"]

	sess, err := h.service.Hangup(r.Context(), callID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			http.Error(w, "Call not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sess)
}

// HoldCall places an active call on hold.
func (h *CallHandler) HoldCall(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Hold)
}

// ResumeCall takes an on-hold call back to active.
func (h *CallHandler) ResumeCall(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Resume)
}

func (h *CallHandler) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, callID string) (*domain.CallSession, error)) {
	callID := mux.Vars(r)["id"]

	sess, err := op(r.Context(), callID)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrNotFound):
			http.Error(w, "Call not found", http.StatusNotFound)
		case errors.Is(err, state.ErrInvalidTransition):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sess)
}

// SetupCallRoutes registers the call control endpoints.
func (h *CallHandler) SetupCallRoutes(router *mux.Router) {
	router.HandleFunc("/calls", h.InitiateCall).Methods("POST")
	router.HandleFunc("/calls", h.ListCalls).Methods("GET")
	router.HandleFunc("/calls/active", h.ListActiveCalls).Methods("GET")
	router.HandleFunc("/calls/{id}", h.GetCall).Methods("GET")
	router.HandleFunc("/calls/{id}", h.DeleteCall).Methods("DELETE")
	router.HandleFunc("/calls/{id}/hangup", h.HangupCall).Methods("POST")
	router.HandleFunc("/calls/{id}/hold", h.HoldCall).Methods("POST")
	router.HandleFunc("/calls/{id}/resume", h.ResumeCall).Methods("POST")
	router.HandleFunc("/calls/{id}/notes", h.UpdateNotes).Methods("PUT")
}

// UpdateNotes updates the operator notes and tags on a call log.
func (h *CallHandler) UpdateNotes(w http.ResponseWriter, r *http.Request) {
	callID := mux.Vars(r)["id"]

	var req UpdateNotesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sess, err := h.service.UpdateNotes(r.Context(), callID, req.Notes, req.Tags)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			http.Error(w, "Call not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sess)
}

// DeleteCall removes a finished call log and its recording.
func (h *CallHandler) DeleteCall(w http.ResponseWriter, r *http.Request) {
	callID := mux.Vars(r)["id"]

	if err := h.service.DeleteCall(r.Context(), callID); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			http.Error(w, "Call not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "deleted", "call_id": callID})
}
