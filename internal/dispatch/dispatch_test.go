package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/scarybot/bogamail/internal/codec"
	"github.com/scarybot/bogamail/internal/events"
	"github.com/scarybot/bogamail/internal/models"
	"github.com/scarybot/bogamail/internal/queue"
	"github.com/scarybot/bogamail/internal/secrets"
	"github.com/scarybot/bogamail/internal/smtp"
	"github.com/scarybot/bogamail/internal/store"
	"github.com/scarybot/bogamail/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu    sync.Mutex
	sent  []string
	creds []smtp.Credentials
	err   error
}

func (f *fakeTransport) Transmit(_ context.Context, creds smtp.Credentials, msg *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg.ID)
	f.creds = append(f.creds, creds)
	return nil
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeSecrets map[string]string

func (f fakeSecrets) DisplayName(context.Context, string) (string, error) {
	return "", secrets.ErrNotFound
}

func (f fakeSecrets) Password(_ context.Context, localPart string) (string, error) {
	if p, ok := f[localPart]; ok {
		return p, nil
	}
	return "", secrets.ErrNotFound
}

type harness struct {
	store     *store.Memory
	send      *queue.Memory
	transport *fakeTransport
	events    *events.Ring
	now       time.Time
}

func newHarness() *harness {
	return &harness{
		store:     store.NewMemory(),
		send:      queue.NewMemory(),
		transport: &fakeTransport{},
		events:    events.NewRing(20),
		now:       time.Unix(1_700_000_000, 0),
	}
}

func (h *harness) dispatcher(creds secrets.Store) *Dispatcher {
	return New(h.store, h.send, creds, h.transport,
		WithEvents(h.events),
		WithClock(func() time.Time { return h.now }),
	)
}

func (h *harness) answer(t *testing.T, sendAfter int64) *models.Message {
	t.Helper()
	orig := &models.Message{
		ID:        "m1@x.com",
		Sender:    models.Contact{Name: "Alice", Address: "a@x.com"},
		Recipient: models.Contact{Name: "Bob", Address: "b@y.com"},
		Subject:   "Hi",
	}
	msg := codec.Reply(orig, "Robert", "RE: Hi", "Hey", h.now)
	msg.SendAfter = sendAfter
	return msg
}

func (h *harness) enqueue(t *testing.T, msg *models.Message) []queue.Delivery {
	t.Helper()
	raw, err := codec.Encode(msg)
	require.NoError(t, err)
	body, err := json.Marshal(models.OutboundEvent{Email: raw, SendAfter: msg.SendAfter})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, h.send.Send(ctx, string(body)))
	batch, err := h.send.Receive(ctx, 10, 0)
	require.NoError(t, err)
	return batch
}

func (h *harness) stored(t *testing.T, msg *models.Message) *models.Message {
	t.Helper()
	got, err := h.store.Get(context.Background(), msg.Sender.Address, msg.ID)
	require.NoError(t, err)
	return got
}

var bobPassword = fakeSecrets{"b": "hunter2"}

func TestHandleOutboundSendsDueMessages(t *testing.T) {
	h := newHarness()
	d := h.dispatcher(bobPassword)
	msg := h.answer(t, 0)

	require.NoError(t, d.HandleOutbound(context.Background(), h.enqueue(t, msg)))

	assert.Equal(t, []string{msg.ID}, h.transport.sent)
	assert.Equal(t, smtp.Credentials{Username: "b@y.com", Password: "hunter2"}, h.transport.creds[0])
	assert.True(t, h.stored(t, msg).Sent)
	assert.Equal(t, []string{"m1@x.com"}, h.stored(t, msg).References)
	assert.Equal(t, 0, h.send.InFlight())
	assert.Equal(t, []models.PipelineEventType{models.EventMessageSent}, h.events.Types())
}

func TestHandleOutboundDefersFutureMessages(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	d := h.dispatcher(bobPassword)
	msg := h.answer(t, h.now.Unix()+300)

	require.NoError(t, d.HandleOutbound(ctx, h.enqueue(t, msg)))

	assert.Zero(t, h.transport.count())
	stored := h.stored(t, msg)
	assert.False(t, stored.Sent)
	assert.Equal(t, h.now.Unix()+300, stored.SendAfter)
	assert.Equal(t, 0, h.send.InFlight())

	sent, err := d.ScanDue(ctx, h.now.Add(299*time.Second))
	require.NoError(t, err)
	assert.Zero(t, sent)

	sent, err = d.ScanDue(ctx, h.now.Add(300*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.True(t, h.stored(t, msg).Sent)

	assert.Equal(t, []models.PipelineEventType{models.EventMessageDeferred, models.EventMessageSent}, h.events.Types())
}

func TestHandleOutboundPersistsFailedSends(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.transport.err = errors.New("connection refused")
	d := h.dispatcher(bobPassword)
	msg := h.answer(t, 0)

	require.NoError(t, d.HandleOutbound(ctx, h.enqueue(t, msg)))
	assert.False(t, h.stored(t, msg).Sent)
	assert.Equal(t, 0, h.send.InFlight())
	assert.Equal(t, []models.PipelineEventType{models.EventSendFailed}, h.events.Types())

	h.transport.err = nil
	sent, err := d.ScanDue(ctx, h.now)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.True(t, h.stored(t, msg).Sent)
}

func TestHandleOutboundSkipsAlreadySentMessages(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	d := h.dispatcher(bobPassword)
	msg := h.answer(t, 0)

	require.NoError(t, d.HandleOutbound(ctx, h.enqueue(t, msg)))
	require.NoError(t, d.HandleOutbound(ctx, h.enqueue(t, msg)))

	assert.Equal(t, 1, h.transport.count())
	assert.Equal(t, 0, h.send.InFlight())
}

func TestHandleOutboundDropsMalformedEvents(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	d := h.dispatcher(bobPassword)

	for _, body := range []string{"not json", `{"email":"From: nobody\n\nHi","send_after":0}`} {
		require.NoError(t, h.send.Send(ctx, body))
	}
	batch, err := h.send.Receive(ctx, 10, 0)
	require.NoError(t, err)

	require.NoError(t, d.HandleOutbound(ctx, batch))
	assert.Equal(t, 0, h.send.InFlight())
	assert.Equal(t, 0, h.store.Len())
}

func TestSendWithoutCredentials(t *testing.T) {
	h := newHarness()
	d := h.dispatcher(fakeSecrets{})

	assert.False(t, d.Send(context.Background(), h.answer(t, 0)))
	assert.Zero(t, h.transport.count())
}

func TestScanDueDoesNotSendTwice(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	d := h.dispatcher(bobPassword)

	msg := h.answer(t, h.now.Unix())
	require.NoError(t, h.store.Put(ctx, msg))

	first, err := d.ScanDue(ctx, h.now)
	require.NoError(t, err)
	second, err := d.ScanDue(ctx, h.now)
	require.NoError(t, err)

	assert.Equal(t, 1, first)
	assert.Zero(t, second)
	assert.Equal(t, 1, h.transport.count())
	assert.True(t, h.stored(t, msg).Sent)
}

// staleStore serves a due list captured before another scan marked the message sent.
type staleStore struct {
	*store.Memory
	due []*models.Message
}

func (s *staleStore) QueryDueForSend(context.Context, int64) ([]*models.Message, error) {
	return s.due, nil
}

func TestScanDueRereadsBeforeSending(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	msg := h.answer(t, 0)

	stale := *msg
	msg.Sent = true
	require.NoError(t, h.store.Put(ctx, msg))

	d := New(&staleStore{Memory: h.store, due: []*models.Message{&stale}}, nil, bobPassword, h.transport)
	sent, err := d.ScanDue(ctx, h.now)
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Zero(t, h.transport.count())
}

func TestSchedulerRun(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h := newHarness()
	d := h.dispatcher(bobPassword)
	require.NoError(t, h.store.Put(ctx, h.answer(t, h.now.Unix()-10)))

	done := make(chan error, 1)
	go func() { done <- NewScheduler(d, 10*time.Millisecond).Run(ctx) }()

	require.Eventually(t, func() bool { return h.transport.count() == 1 }, 4*time.Second, 10*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
	assert.Equal(t, 1, h.transport.count())
}

func TestDispatchOverSMTP(t *testing.T) {
	server := testutil.NewTestSMTPServer(t, "hunter2")
	h := newHarness()
	d := New(h.store, h.send, bobPassword, smtp.New(server.Address, false), WithClock(func() time.Time { return h.now }))
	msg := h.answer(t, 0)

	require.NoError(t, d.HandleOutbound(context.Background(), h.enqueue(t, msg)))

	received := server.Messages()
	require.Len(t, received, 1)
	assert.Equal(t, []string{"a@x.com"}, received[0].To)
	assert.True(t, h.stored(t, msg).Sent)
}

func TestHandleOutboundSendsRegeneratedReplyOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	d := h.dispatcher(bobPassword)

	first := h.answer(t, 0)
	regenerated := h.answer(t, 0)
	regenerated.Body = "Hey again"
	require.Equal(t, first.ID, regenerated.ID)

	require.NoError(t, d.HandleOutbound(ctx, h.enqueue(t, first)))
	require.NoError(t, d.HandleOutbound(ctx, h.enqueue(t, regenerated)))

	assert.Equal(t, []string{first.ID}, h.transport.sent)
	assert.Equal(t, "Hey", h.stored(t, first).Body)
}
