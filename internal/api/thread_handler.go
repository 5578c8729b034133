package api

import (
	"context"
	"net/http"
	"time"

	"github.com/scarybot/bogamail/internal/models"
	"github.com/scarybot/bogamail/internal/observability"
	"github.com/scarybot/bogamail/internal/store"
	"github.com/scarybot/bogamail/internal/thread"
)

type ThreadResponse struct {
	Messages   []*models.Message `json:"messages"`
	Transcript string            `json:"transcript,omitempty"`
}

type ThreadHandler struct {
	store       store.Store
	callTimeout time.Duration
}

func NewThreadHandler(s store.Store, callTimeout time.Duration) *ThreadHandler {
	return &ThreadHandler{store: s, callTimeout: callTimeout}
}

// GetThread serves GET /api/v1/thread?a=&b=, the conversation between two
// addresses, most recent first. With ?transcript=1 an oldest-first text
// rendering is included.
func (h *ThreadHandler) GetThread(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	a, b := r.URL.Query().Get("a"), r.URL.Query().Get("b")
	if a == "" || b == "" {
		http.Error(w, "a and b are required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.callTimeout)
	defer cancel()

	messages, err := thread.Assemble(ctx, h.store, a, b)
	if err != nil {
		observability.Logger().Error("ThreadHandler: failed to assemble thread", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	resp := ThreadResponse{Messages: messages}
	if r.URL.Query().Get("transcript") != "" {
		resp.Transcript = thread.Transcript(messages, parseLimit(r, 0))
	}
	writeJSON(w, resp)
}
