package network

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClientWrapsTransportFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	client := NewClient(time.Second)
	req, err := http.NewRequest(http.MethodGet, addr+"/api/gyms", nil)
	require.NoError(t, err)

	_, err = client.Fetch(context.Background(), req)
	require.Error(t, err)
	require.True(t, IsUnavailable(err))
}

func TestClientReturnsHTTPErrorsAsResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := NewClient(time.Second).Fetch(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

type toggleFetcher struct {
	online atomic.Bool
}

func (f *toggleFetcher) Fetch(context.Context, *http.Request) (*http.Response, error) {
	if !f.online.Load() {
		return nil, ErrUnavailable
	}
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("ok"))}, nil
}

func TestMonitorSignalsRestoredOnlyOnTransition(t *testing.T) {
	fetcher := &toggleFetcher{}
	monitor := NewMonitor(fetcher, "http://origin/healthz", time.Hour)

	var restored int
	monitor.OnRestored(func(context.Context) { restored++ })

	ctx := context.Background()
	require.False(t, monitor.Check(ctx))
	require.Equal(t, StateOffline, monitor.State())
	require.Zero(t, restored)

	fetcher.online.Store(true)
	require.True(t, monitor.Check(ctx))
	require.True(t, monitor.Check(ctx))
	require.Equal(t, StateOnline, monitor.State())
	require.Equal(t, 1, restored)

	monitor.Report(ctx, false)
	monitor.Report(ctx, true)
	require.Equal(t, 2, restored)
}

func TestMonitorFirstSuccessCountsAsRestored(t *testing.T) {
	fetcher := &toggleFetcher{}
	fetcher.online.Store(true)
	monitor := NewMonitor(fetcher, "http://origin/healthz", time.Hour)

	var restored int
	monitor.OnRestored(func(context.Context) { restored++ })
	monitor.Check(context.Background())
	require.Equal(t, 1, restored)
}

func TestMonitorStartStopsOnCancel(t *testing.T) {
	fetcher := &toggleFetcher{}
	monitor := NewMonitor(fetcher, "http://origin/healthz", 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go monitor.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		monitor.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
	require.False(t, errors.Is(ctx.Err(), context.DeadlineExceeded))
}
