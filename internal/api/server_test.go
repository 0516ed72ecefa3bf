package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditflow/ledgerbus/internal/bus"
	"github.com/auditflow/ledgerbus/internal/event"
	"github.com/auditflow/ledgerbus/internal/health"
)

type invoiceFlagged struct {
	event.Base
	InvoiceID string `json:"invoice_id"`
}

func newTestServer(t *testing.T) (*bus.Bus, *Server) {
	t.Helper()

	mr := miniredis.RunT(t)
	b := bus.New(bus.Config{
		RedisURL:      "redis://" + mr.Addr(),
		PersistEvents: true,
		EventTTL:      time.Minute,
		PollTimeout:   50 * time.Millisecond,
	}, bus.WithBackoff(func(int) time.Duration { return time.Millisecond }))
	require.NoError(t, b.Connect(context.Background()))
	t.Cleanup(func() { _ = b.Disconnect(context.Background()) })

	hm := health.NewManager("test")
	hm.Register(health.PingChecker{ComponentName: "redis", Ping: b.Ping})

	return b, New(Config{ListenAddr: ":0"}, b, hm)
}

func doRequest(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestEventHistoryEndpoint(t *testing.T) {
	b, s := newTestServer(t)

	ev := invoiceFlagged{Base: event.NewBase("invoice.flagged", "fraud-service"), InvoiceID: "inv-9"}
	require.NoError(t, b.Publish(context.Background(), "fraud", ev))

	rec := doRequest(t, s, http.MethodGet, "/api/channels/fraud/events")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp historyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "fraud", resp.Channel)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, ev.ID, resp.Events[0].EventID)
}

func TestEventHistoryEmptyChannel(t *testing.T) {
	_, s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/channels/quiet/events")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp historyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Zero(t, resp.Count)
	assert.NotNil(t, resp.Events)
}

func TestDLQEndpointsRoundTrip(t *testing.T) {
	b, s := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, bus.On(ctx, b, "audits", "invoice.flagged", func(context.Context, invoiceFlagged) error {
		return errors.New("reviewer unavailable")
	}))
	require.NoError(t, b.StartListening())
	require.NoError(t, b.Publish(ctx, "audits", invoiceFlagged{
		Base:      event.NewBase("invoice.flagged", "fraud-service"),
		InvoiceID: "inv-1",
	}))

	require.Eventually(t, func() bool {
		msgs, err := b.DLQMessages(ctx, "audits", 10)
		return err == nil && len(msgs) == 1
	}, 3*time.Second, 10*time.Millisecond)

	rec := doRequest(t, s, http.MethodGet, "/api/channels/audits/dlq")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dlqResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Contains(t, resp.Messages[0].Error, "reviewer unavailable")

	rec = doRequest(t, s, http.MethodDelete, "/api/channels/audits/dlq")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/api/channels/audits/dlq")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Zero(t, resp.Count)
}

func TestDisconnectedBusReturns503(t *testing.T) {
	mr := miniredis.RunT(t)
	b := bus.New(bus.Config{RedisURL: "redis://" + mr.Addr()})
	s := New(Config{ListenAddr: ":0"}, b, health.NewManager("test"))

	rec := doRequest(t, s, http.MethodGet, "/api/channels/x/events")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doRequest(t, s, http.MethodDelete, "/api/channels/x/dlq")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReadyzReflectsBrokerState(t *testing.T) {
	b, s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, b.Disconnect(context.Background()))
	rec = doRequest(t, s, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthzAlwaysOK(t *testing.T) {
	b, s := newTestServer(t)
	require.NoError(t, b.Disconnect(context.Background()))

	rec := doRequest(t, s, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpointExposed(t *testing.T) {
	_, s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestParseLimit(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	assert.Equal(t, defaultLimit, parseLimit(req))

	req = httptest.NewRequest(http.MethodGet, "/x?limit=5", nil)
	assert.Equal(t, 5, parseLimit(req))

	req = httptest.NewRequest(http.MethodGet, "/x?limit=-2", nil)
	assert.Equal(t, defaultLimit, parseLimit(req))

	req = httptest.NewRequest(http.MethodGet, "/x?limit=99999", nil)
	assert.Equal(t, maxLimit, parseLimit(req))
}
