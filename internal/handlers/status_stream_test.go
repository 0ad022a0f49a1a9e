package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront_pay_echo/internal/models"
	"storefront_pay_echo/internal/services"
	"storefront_pay_echo/internal/testutil"
)

type sseStream struct {
	resp     *http.Response
	frames   chan string
	comments chan string
	cancel   context.CancelFunc
}

// openStream connects to the status stream. Once it returns the handler has
// already subscribed, because headers are flushed after the subscription.
func openStream(t *testing.T, srv *httptest.Server, refs models.Refs) *sseStream {
	t.Helper()

	q := url.Values{"ref1": {refs.Ref1}, "ref2": {refs.Ref2}}
	if refs.Ref3 != "" {
		q.Set("ref3", refs.Ref3)
	}
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/payment/status?"+q.Encode(), nil)
	require.NoError(t, err)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)

	s := &sseStream{
		resp:     resp,
		frames:   make(chan string, 4),
		comments: make(chan string, 16),
		cancel:   cancel,
	}
	t.Cleanup(func() {
		cancel()
		resp.Body.Close()
	})

	go func() {
		defer close(s.frames)
		r := bufio.NewReader(resp.Body)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "data: "):
				s.frames <- strings.TrimPrefix(line, "data: ")
			case strings.HasPrefix(line, ":"):
				select {
				case s.comments <- line:
				default:
				}
			}
		}
	}()
	return s
}

func (s *sseStream) next(t *testing.T) services.PaymentEvent {
	t.Helper()
	select {
	case frame, ok := <-s.frames:
		require.True(t, ok, "stream closed without an event")
		var evt services.PaymentEvent
		require.NoError(t, json.Unmarshal([]byte(frame), &evt), frame)
		return evt
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for an event")
		return services.PaymentEvent{}
	}
}

// closed asserts the server ended the response after its single event
func (s *sseStream) closed(t *testing.T) {
	t.Helper()
	select {
	case _, ok := <-s.frames:
		assert.False(t, ok, "unexpected second event")
	case <-time.After(3 * time.Second):
		t.Fatal("stream was not closed")
	}
}

func TestStatusStream_MissingRefs(t *testing.T) {
	app := newTestApp(t, defaultTestHeartbeat)

	rec := app.do(httptest.NewRequest(http.MethodGet, "/api/payment/status?ref1=ORDERX", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])
}

func TestStatusStream_TerminalAtConnect(t *testing.T) {
	tests := []struct {
		name        string
		status      models.PaymentStatus
		wantSuccess bool
	}{
		{"success", models.PaymentStatusSuccess, true},
		{"failed", models.PaymentStatusFailed, false},
		{"cancelled", models.PaymentStatusCancelled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(t, defaultTestHeartbeat)
			testutil.SeedOrder(t, app.db, "ORDABC123", "user42", 50000)
			p := app.seedPayment(t, "ORDABC123", "user42", webhookRefs, "")
			_, _, err := app.store.Transition(context.Background(), p.ID, tt.status, time.Now())
			require.NoError(t, err)

			srv := app.serve(t)
			stream := openStream(t, srv, webhookRefs)

			assert.Equal(t, "text/event-stream", stream.resp.Header.Get("Content-Type"))
			evt := stream.next(t)
			assert.Equal(t, tt.wantSuccess, evt.Success)
			assert.Equal(t, tt.status, evt.Status)
			assert.Equal(t, "ORDABC123", evt.OrderID)
			stream.closed(t)
		})
	}
}

func TestStatusStream_ResolvesOnPublish(t *testing.T) {
	app := newTestApp(t, defaultTestHeartbeat)
	testutil.SeedOrder(t, app.db, "ORDABC123", "user42", 50000)
	app.seedPayment(t, "ORDABC123", "user42", webhookRefs, "")

	srv := app.serve(t)

	exact := openStream(t, srv, webhookRefs)
	wildcard := openStream(t, srv, models.Refs{Ref1: webhookRefs.Ref1, Ref2: webhookRefs.Ref2})
	require.Equal(t, 1, app.dispatcher.ListenerCount(webhookRefs))
	require.Equal(t, 1, app.dispatcher.ListenerCount(webhookRefs.Wildcard()))

	rec := app.postJSON("/api/payment/callback/confirm", confirmBody(webhookRefs))
	require.Equal(t, http.StatusOK, rec.Code)

	for _, s := range []*sseStream{exact, wildcard} {
		evt := s.next(t)
		assert.True(t, evt.Success)
		assert.Equal(t, models.PaymentStatusSuccess, evt.Status)
		assert.Equal(t, "ORDABC123", evt.OrderID)
		assert.Equal(t, "2025-01-01T12:00:05+07:00", evt.TransactionTime)
		s.closed(t)
	}

	require.Eventually(t, func() bool {
		return app.dispatcher.ListenerCount(webhookRefs) == 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestStatusStream_WaitsForRecordCreatedLater(t *testing.T) {
	app := newTestApp(t, defaultTestHeartbeat)
	testutil.SeedOrder(t, app.db, "ORDABC123", "user42", 50000)

	srv := app.serve(t)
	stream := openStream(t, srv, webhookRefs)

	app.seedPayment(t, "ORDABC123", "user42", webhookRefs, "")
	require.Equal(t, http.StatusOK, app.postJSON("/api/payment/callback/confirm", confirmBody(webhookRefs)).Code)

	assert.True(t, stream.next(t).Success)
}

func TestStatusStream_DisconnectUnsubscribes(t *testing.T) {
	app := newTestApp(t, defaultTestHeartbeat)

	srv := app.serve(t)
	stream := openStream(t, srv, webhookRefs)
	require.Equal(t, 1, app.dispatcher.ListenerCount(webhookRefs))

	stream.cancel()

	require.Eventually(t, func() bool {
		return app.dispatcher.ListenerCount(webhookRefs) == 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestStatusStream_InitialCheckError(t *testing.T) {
	app := newTestApp(t, defaultTestHeartbeat)
	srv := app.serve(t)

	sqlDB, err := app.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	stream := openStream(t, srv, webhookRefs)

	select {
	case frame, ok := <-stream.frames:
		require.True(t, ok, "stream closed without an event")
		var got streamErrorFrame
		require.NoError(t, json.Unmarshal([]byte(frame), &got), frame)
		assert.Equal(t, streamErrorFrame{Success: false, Status: "error", Error: "Status check failed"}, got)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the error frame")
	}
	stream.closed(t)

	require.Eventually(t, func() bool {
		return app.dispatcher.ListenerCount(webhookRefs) == 0
	}, 3*time.Second, 10*time.Millisecond)
}

// publishOnSubscribe delivers evt as soon as a listener registers, before
// the stream has read the store.
type publishOnSubscribe struct {
	services.PaymentEvents
	evt services.PaymentEvent
}

func (p publishOnSubscribe) Subscribe(refs models.Refs, fn services.Listener) func() {
	unsubscribe := p.PaymentEvents.Subscribe(refs, fn)
	_ = p.PaymentEvents.Publish(context.Background(), refs, p.evt)
	return unsubscribe
}

func TestStatusStream_EventBeforeInitialCheck(t *testing.T) {
	app := newTestApp(t, defaultTestHeartbeat)
	testutil.SeedOrder(t, app.db, "ORDABC123", "user42", 50000)
	app.seedPayment(t, "ORDABC123", "user42", webhookRefs, "")

	evt := services.PaymentEvent{Success: true, Status: models.PaymentStatusSuccess, OrderID: "ORDABC123"}
	events := publishOnSubscribe{PaymentEvents: app.dispatcher, evt: evt}
	h := NewStatusStreamHandler(app.store, events, defaultTestHeartbeat, slog.New(slog.NewTextHandler(io.Discard, nil)))

	q := url.Values{"ref1": {webhookRefs.Ref1}, "ref2": {webhookRefs.Ref2}, "ref3": {webhookRefs.Ref3}}
	req := httptest.NewRequest(http.MethodGet, "/api/payment/status?"+q.Encode(), nil)
	rec := httptest.NewRecorder()

	done := make(chan error, 1)
	go func() { done <- h.Stream(echo.New().NewContext(req, rec)) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not deliver the early event")
	}

	frames := strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n")
	require.Len(t, frames, 1, rec.Body.String())
	var got services.PaymentEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frames[0], "data: ")), &got))
	assert.Equal(t, evt, got)
	assert.Zero(t, app.dispatcher.ListenerCount(webhookRefs))
}

func TestStatusStream_HeartbeatRechecksStore(t *testing.T) {
	app := newTestApp(t, 50*time.Millisecond)
	testutil.SeedOrder(t, app.db, "ORDABC123", "user42", 50000)
	p := app.seedPayment(t, "ORDABC123", "user42", webhookRefs, "")

	srv := app.serve(t)
	stream := openStream(t, srv, webhookRefs)

	select {
	case line := <-stream.comments:
		assert.Equal(t, ": keep-alive", line)
	case <-time.After(3 * time.Second):
		t.Fatal("no heartbeat")
	}

	// a transition that never reaches this process's dispatcher
	_, applied, err := app.store.Transition(context.Background(), p.ID, models.PaymentStatusFailed, time.Now())
	require.NoError(t, err)
	require.True(t, applied)

	evt := stream.next(t)
	assert.False(t, evt.Success)
	assert.Equal(t, models.PaymentStatusFailed, evt.Status)
}

// TestCheckoutFlow drives initiation, a waiting stream and the bank callback end to end.
func TestCheckoutFlow(t *testing.T) {
	app := newTestApp(t, defaultTestHeartbeat)
	testutil.SeedOrder(t, app.db, "ORDABC123", "user42", 50000)

	rec := app.initiate(t, "user42", url.Values{"orderId": {"ORDABC123"}}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	refs := models.Refs{
		Ref1: body["ref1"].(string),
		Ref2: body["ref2"].(string),
		Ref3: body["ref3"].(string),
	}
	require.Equal(t, "ORDERORDABC123", refs.Ref1)

	srv := app.serve(t)
	stream := openStream(t, srv, refs)

	cb := app.postJSON("/api/payment/callback/confirm", confirmBody(refs))
	require.Equal(t, http.StatusOK, cb.Code, cb.Body.String())

	evt := stream.next(t)
	assert.Equal(t, services.PaymentEvent{
		Success:         true,
		Status:          models.PaymentStatusSuccess,
		OrderID:         "ORDABC123",
		TransactionTime: "2025-01-01T12:00:05+07:00",
	}, evt)
	stream.closed(t)

	var order models.Order
	require.NoError(t, app.db.First(&order, "id = ?", "ORDABC123").Error)
	assert.Equal(t, models.OrderStatusPaid, order.Status)
}
