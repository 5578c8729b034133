package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/scarybot/bogamail/internal/auth"
	"github.com/scarybot/bogamail/internal/events"
	"github.com/scarybot/bogamail/internal/store"
	ws "github.com/scarybot/bogamail/internal/websocket"
)

type Deps struct {
	Store       store.Store
	Auth        *auth.Authenticator
	Hub         *ws.Hub
	Events      *events.Ring
	Now         func() time.Time
	CallTimeout time.Duration
}

// NewServer returns the operations API handler. Everything but / requires
// the bearer token.
func NewServer(d Deps) http.Handler {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.CallTimeout <= 0 {
		d.CallTimeout = 10 * time.Second
	}

	threadHandler := NewThreadHandler(d.Store, d.CallTimeout)
	dueHandler := NewDueHandler(d.Store, d.Now, d.CallTimeout)
	eventsHandler := NewEventsHandler(d.Events)
	wsHandler := NewWebSocketHandler(d.Auth, d.Hub)

	mux := http.NewServeMux()

	mux.HandleFunc("/", handleRoot)

	mux.Handle("/api/v1/thread", d.Auth.RequireAuth(http.HandlerFunc(threadHandler.GetThread)))
	mux.Handle("/api/v1/due", d.Auth.RequireAuth(http.HandlerFunc(dueHandler.GetDue)))
	mux.Handle("/api/v1/events", d.Auth.RequireAuth(http.HandlerFunc(eventsHandler.GetEvents)))
	// Authenticates itself so the token can travel as a query parameter.
	mux.Handle("/api/v1/ws", http.HandlerFunc(wsHandler.Handle))

	return mux
}

func handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "bogamail is running")
}
