package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/scarybot/bogamail/internal/auth"
	"github.com/scarybot/bogamail/internal/events"
	"github.com/scarybot/bogamail/internal/models"
	"github.com/scarybot/bogamail/internal/store"
	ws "github.com/scarybot/bogamail/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const token = "s3cret"

type fixture struct {
	store  *store.Memory
	hub    *ws.Hub
	events *events.Ring
	server http.Handler
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:  store.NewMemory(),
		hub:    ws.NewHub(2),
		events: events.NewRing(10),
		now:    time.Unix(1_700_000_000, 0),
	}
	f.server = NewServer(Deps{
		Store:  f.store,
		Auth:   auth.New(token),
		Hub:    f.hub,
		Events: f.events,
		Now:    func() time.Time { return f.now },
	})

	ctx := context.Background()
	for _, m := range []*models.Message{
		{ID: "m1@x.com", Sender: models.Contact{Address: "a@x.com"}, Recipient: models.Contact{Address: "b@y.com"}, Subject: "Hi", Body: "Hello", Direction: models.DirectionIn, Sent: true, CreatedAt: 100},
		{ID: "r1@y.com", Sender: models.Contact{Address: "b@y.com"}, Recipient: models.Contact{Address: "a@x.com"}, Subject: "RE: Hi", Body: "Hey", Direction: models.DirectionOut, CreatedAt: 200},
		{ID: "r2@y.com", Sender: models.Contact{Address: "b@y.com"}, Recipient: models.Contact{Address: "a@x.com"}, Subject: "RE: Hi", Body: "Later", Direction: models.DirectionOut, CreatedAt: 300, SendAfter: f.now.Unix() + 60},
	} {
		require.NoError(t, f.store.Put(ctx, m))
	}
	return f
}

func (f *fixture) get(t *testing.T, path string, authorized bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authorized {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.server.ServeHTTP(rr, req)
	return rr
}

func TestHandleRoot(t *testing.T) {
	f := newFixture(t)

	rr := f.get(t, "/", false)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "bogamail is running", rr.Body.String())

	assert.Equal(t, http.StatusNotFound, f.get(t, "/nope", false).Code)
}

func TestEndpointsRequireAuth(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/api/v1/thread?a=a@x.com&b=b@y.com", "/api/v1/due", "/api/v1/events", "/api/v1/ws"} {
		t.Run(path, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, f.get(t, path, false).Code)
		})
	}
}

func TestGetThread(t *testing.T) {
	f := newFixture(t)

	t.Run("returns the conversation most recent first", func(t *testing.T) {
		rr := f.get(t, "/api/v1/thread?a=a@x.com&b=b@y.com", true)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp ThreadResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		ids := make([]string, 0, len(resp.Messages))
		for _, m := range resp.Messages {
			ids = append(ids, m.ID)
		}
		assert.Equal(t, []string{"r2@y.com", "r1@y.com", "m1@x.com"}, ids)
		assert.Empty(t, resp.Transcript)
	})

	t.Run("includes a transcript on request", func(t *testing.T) {
		rr := f.get(t, "/api/v1/thread?a=b@y.com&b=a@x.com&transcript=1&limit=2", true)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp ThreadResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Contains(t, resp.Transcript, "Later")
		assert.NotContains(t, resp.Transcript, "Hello")
		assert.Less(t, strings.Index(resp.Transcript, "Hey"), strings.Index(resp.Transcript, "Later"))
	})

	t.Run("requires both addresses", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/v1/thread?a=a@x.com", true).Code)
	})

	t.Run("unknown pair is empty", func(t *testing.T) {
		rr := f.get(t, "/api/v1/thread?a=c@z.com&b=d@z.com", true)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"messages":[]}`, rr.Body.String())
	})
}

func TestGetDue(t *testing.T) {
	f := newFixture(t)

	decode := func(rr *httptest.ResponseRecorder) []string {
		var resp struct {
			Messages []*models.Message `json:"messages"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		ids := []string{}
		for _, m := range resp.Messages {
			ids = append(ids, m.ID)
		}
		return ids
	}

	assert.Equal(t, []string{"r1@y.com"}, decode(f.get(t, "/api/v1/due", true)))

	f.now = f.now.Add(time.Minute)
	assert.ElementsMatch(t, []string{"r1@y.com", "r2@y.com"}, decode(f.get(t, "/api/v1/due", true)))
}

func TestGetEvents(t *testing.T) {
	f := newFixture(t)

	rr := f.get(t, "/api/v1/events", true)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"events":[]}`, rr.Body.String())

	ctx := context.Background()
	msg := &models.Message{ID: "m1@x.com", Sender: models.Contact{Address: "a@x.com"}, Recipient: models.Contact{Address: "b@y.com"}}
	f.events.Publish(ctx, events.New(models.EventMessageReceived, msg, f.now))
	f.events.Publish(ctx, events.New(models.EventReplyQueued, msg, f.now))

	var resp struct {
		Events []models.PipelineEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(f.get(t, "/api/v1/events?limit=1", true).Body.Bytes(), &resp))
	require.Len(t, resp.Events, 1)
	assert.Equal(t, models.EventReplyQueued, resp.Events[0].Type)
}

func TestWebSocketFeed(t *testing.T) {
	f := newFixture(t)
	server := httptest.NewServer(f.server)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/ws?token=" + token

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.Eventually(t, func() bool { return f.hub.ActiveConnections() == 1 }, 2*time.Second, 10*time.Millisecond)

	msg := &models.Message{ID: "m1@x.com", Sender: models.Contact{Address: "a@x.com"}, Recipient: models.Contact{Address: "b@y.com"}, Subject: "Hi"}
	f.hub.Publish(context.Background(), events.New(models.EventMessageSent, msg, f.now))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event models.PipelineEvent
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, models.EventMessageSent, event.Type)
	assert.Equal(t, "m1@x.com", event.MessageID)
	assert.Equal(t, "Hi", event.Subject)

	t.Run("rejects a bad token", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/api/v1/ws?token=nope", nil)
		require.Error(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("closes connections past the limit", func(t *testing.T) {
		second, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		defer second.Close()
		require.Eventually(t, func() bool { return f.hub.ActiveConnections() == 2 }, 2*time.Second, 10*time.Millisecond)

		third, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		defer third.Close()

		require.NoError(t, third.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err = third.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
	})
}
