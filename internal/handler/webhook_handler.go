package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dialverse/call-gateway/internal/repository"
	"github.com/dialverse/call-gateway/internal/services/call"
	"github.com/dialverse/call-gateway/pkg/logger"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// maxWebhookBody bounds how much of a webhook request we are willing to read.
const maxWebhookBody = 1 << 20

// WebhookHandler receives provider call events.
type WebhookHandler struct {
	service     *call.Service
	webhookRepo *repository.WebhookEventRepository
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(service *call.Service, webhookRepo *repository.WebhookEventRepository) *WebhookHandler {
	return &WebhookHandler{
		service:     service,
		webhookRepo: webhookRepo,
	}
}

// HandleCallEvent ingests one provider webhook. The provider retries on
// non-2xx, so this endpoint acknowledges everything it managed to read; all
// real failure handling happens inside the service pipeline.
func (h *WebhookHandler) HandleCallEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		logger.Base().Warn("Webhook body read failed", zap.Error(err))
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.service.HandleWebhook(r.Context(), body, time.Now()); err != nil {
		logger.Base().Warn("Webhook body unreadable", zap.Error(err))
	}

	w.WriteHeader(http.StatusOK)
}

// GetStats returns archive counts per event type.
//
// @Summary Webhook archive statistics
// @Produce json
// @Param hours query integer false "Look-back window in hours (default: all time)"
// @Router /webhooks/stats [get]
func (h *WebhookHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if hoursStr := r.URL.Query().Get("hours"); hoursStr != "" {
		hours, err := strconv.Atoi(hoursStr)
		if err != nil || hours <= 0 {
			http.Error(w, "hours must be a positive integer", http.StatusBadRequest)
			return
		}
		since = time.Now().Add(-time.Duration(hours) * time.Hour)
	}

	counts, err := h.webhookRepo.Stats(r.Context(), since)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"event_types": counts,
	})
}

// GetCallEvents returns the archived webhook trail for one call.
func (h *WebhookHandler) GetCallEvents(w http.ResponseWriter, r *http.Request) {
	callID := mux.Vars(r)["id"]

	records, err := h.webhookRepo.ListByCall(r.Context(), callID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"call_id": callID,
		"events":  records,
	})
}

// SetupWebhookRoutes registers the webhook endpoints.
func (h *WebhookHandler) SetupWebhookRoutes(router *mux.Router) {
	router.HandleFunc("/webhooks/call", h.HandleCallEvent).Methods("POST")
	router.HandleFunc("/webhooks/stats", h.GetStats).Methods("GET")
	router.HandleFunc("/webhooks/calls/{id}/events", h.GetCallEvents).Methods("GET")
}
