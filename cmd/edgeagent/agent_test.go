package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/edgeagent/internal/api"
	"example.com/edgeagent/internal/config"
	"example.com/edgeagent/internal/lifecycle"
	"example.com/edgeagent/internal/notify"
	"example.com/edgeagent/internal/syncqueue"
)

func newOrigin(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>shell</html>"))
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/checkins", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":7}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(upstream string) config.Config {
	return config.Config{
		UpstreamURL:          upstream,
		StoreBackend:         "memory",
		StaticCache:          config.DefaultStaticCache,
		DynamicCache:         config.DefaultDynamicCache,
		Manifest:             []string{"/"},
		APICachePatterns:     config.DefaultAPICachePatterns,
		ConnectivityProbe:    "/healthz",
		ConnectivityInterval: time.Second,
		HTTPTimeout:          time.Second,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRestoredDrainsQueueAndActivates(t *testing.T) {
	origin := newOrigin(t)
	ctx := context.Background()

	a, err := newAgent(ctx, testConfig(origin.URL), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	_, err = a.queue.Enqueue(ctx, syncqueue.Operation{Kind: syncqueue.KindCheckinCreate, GymID: 42, GymName: "Gym A", Token: "t"})
	require.NoError(t, err)

	a.monitor.Report(ctx, true)

	require.Eventually(t, func() bool {
		ops, err := a.queue.List(ctx)
		return err == nil && len(ops) == 0
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return a.controller.State() == lifecycle.StateActive
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, a.notifications.UnreadCount())
}

func TestControlHandlerRequiresTokenWhenSecretSet(t *testing.T) {
	origin := newOrigin(t)
	cfg := testConfig(origin.URL)
	cfg.ControlJWTSecret = "secret"

	a, err := newAgent(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })
	handler := a.controlHandler()

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/queue", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestBadgerBackendPersistsQueue(t *testing.T) {
	origin := newOrigin(t)
	cfg := testConfig(origin.URL)
	cfg.DataDir = t.TempDir()
	cfg.StoreBackend = "badger"
	ctx := context.Background()

	a, err := newAgent(ctx, cfg, discardLogger())
	require.NoError(t, err)
	op, err := a.queue.Enqueue(ctx, syncqueue.Operation{Kind: syncqueue.KindCheckinCheckout, CheckinID: 9, Token: "t"})
	require.NoError(t, err)
	require.NoError(t, a.Close())

	reopened, err := newAgent(ctx, cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, reopened.Close()) })

	got, err := reopened.queue.Get(ctx, op.ID)
	require.NoError(t, err)
	require.Equal(t, int64(9), got.CheckinID)
}

func TestPushRaisesAlertWithActions(t *testing.T) {
	origin := newOrigin(t)
	a, err := newAgent(context.Background(), testConfig(origin.URL), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })
	handler := a.controlHandler()

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/push", strings.NewReader(`{"title":"Class moved","data":{"url":"/gyms/42"}}`)))
	require.Equal(t, http.StatusCreated, rr.Code)
	var pushed api.PushResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &pushed))
	require.Equal(t, "Class moved", pushed.Alert.Title)
	require.Len(t, pushed.Alert.Actions, 2)
	require.Equal(t, notify.ActionOpen, pushed.Alert.Actions[0].Name)
	require.Equal(t, notify.ActionClose, pushed.Alert.Actions[1].Name)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/alerts", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var polled api.ListAlertsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &polled))
	require.Len(t, polled.Items, 1)
	require.Equal(t, pushed.Notification.ID, polled.Items[0].ID)
	require.Equal(t, pushed.Alert.Actions, polled.Items[0].Actions)
}
