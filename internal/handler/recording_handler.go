package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/dialverse/call-gateway/internal/services/call"
	"github.com/gorilla/mux"
)

// RecordingHandler exposes the recording metadata API.
type RecordingHandler struct {
	service *call.Service
}

// NewRecordingHandler creates a new recording handler
func NewRecordingHandler(service *call.Service) *RecordingHandler {
	return &RecordingHandler{service: service}
}

// ListRecordings returns stored recordings, newest first.
func (h *RecordingHandler) ListRecordings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	recs, err := h.service.ListRecordings(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"recordings": recs,
		"total":      len(recs),
	})
}

// GetRecording returns the recording metadata for one call.
func (h *RecordingHandler) GetRecording(w http.ResponseWriter, r *http.Request) {
	callID := mux.Vars(r)["id"]

	rec, err := h.service.GetRecording(r.Context(), callID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rec == nil {
		http.Error(w, "Recording not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

// GetRecordingURL returns a time-limited download URL for a call's recording.
func (h *RecordingHandler) GetRecordingURL(w http.ResponseWriter, r *http.Request) {
	callID := mux.Vars(r)["id"]

	ttl := 15 * time.Minute
	if minutesStr := r.URL.Query().Get("expires_minutes"); minutesStr != "" {
		if minutes, err := strconv.Atoi(minutesStr); err == nil && minutes > 0 && minutes <= 24*60 {
			ttl = time.Duration(minutes) * time.Minute
		}
	}

	url, err := h.service.PresignRecording(r.Context(), callID, ttl)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"call_id": callID,
		"url":     url,
	})
}

// DeleteRecording removes a call's recording asset and metadata.
func (h *RecordingHandler) DeleteRecording(w http.ResponseWriter, r *http.Request) {
	callID := mux.Vars(r)["id"]

	if err := h.service.DeleteRecording(r.Context(), callID); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "deleted", "call_id": callID})
}

// SetupRecordingRoutes registers the recording endpoints.
func (h *RecordingHandler) SetupRecordingRoutes(router *mux.Router) {
	router.HandleFunc("/recordings", h.ListRecordings).Methods("GET")
	router.HandleFunc("/calls/{id}/recording", h.GetRecording).Methods("GET")
	router.HandleFunc("/calls/{id}/recording", h.DeleteRecording).Methods("DELETE")
	router.HandleFunc("/calls/{id}/recording/url", h.GetRecordingURL).Methods("GET")
}
