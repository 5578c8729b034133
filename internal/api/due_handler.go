package api

import (
	"context"
	"net/http"
	"time"

	"github.com/scarybot/bogamail/internal/events"
	"github.com/scarybot/bogamail/internal/models"
	"github.com/scarybot/bogamail/internal/observability"
	"github.com/scarybot/bogamail/internal/store"
)

type DueHandler struct {
	store       store.Store
	now         func() time.Time
	callTimeout time.Duration
}

func NewDueHandler(s store.Store, now func() time.Time, callTimeout time.Duration) *DueHandler {
	return &DueHandler{store: s, now: now, callTimeout: callTimeout}
}

// GetDue serves GET /api/v1/due: unsent messages whose send time has passed.
func (h *DueHandler) GetDue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.callTimeout)
	defer cancel()

	due, err := h.store.QueryDueForSend(ctx, h.now().Unix())
	if err != nil {
		observability.Logger().Error("DueHandler: failed to query due messages", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if due == nil {
		due = []*models.Message{}
	}
	writeJSON(w, struct {
		Messages []*models.Message `json:"messages"`
	}{due})
}

type EventsHandler struct {
	ring *events.Ring
}

func NewEventsHandler(ring *events.Ring) *EventsHandler {
	return &EventsHandler{ring: ring}
}

// GetEvents serves GET /api/v1/events, the most recent pipeline events in
// the order they happened.
func (h *EventsHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	recent := h.ring.Recent()
	if recent == nil {
		recent = []models.PipelineEvent{}
	}
	if limit := parseLimit(r, 0); limit > 0 && len(recent) > limit {
		recent = recent[len(recent)-limit:]
	}
	writeJSON(w, struct {
		Events []models.PipelineEvent `json:"events"`
	}{recent})
}
