package network

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"example.com/edgeagent/internal/observability"
)

// Fetcher performs a network round trip.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// State is the last observed connectivity to the origin.
type State string

const (
	StateUnknown State = "unknown"
	StateOnline  State = "online"
	StateOffline State = "offline"
)

// MonitorOption configures optional behaviour for the Monitor.
type MonitorOption func(*Monitor)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) MonitorOption {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// Monitor probes the origin on an interval and signals when connectivity is restored.
type Monitor struct {
	fetcher  Fetcher
	probeURL string
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	state     State
	listeners []func(context.Context)

	shutdownComplete chan struct{}
}

// NewMonitor constructs a Monitor probing probeURL with GET requests.
func NewMonitor(fetcher Fetcher, probeURL string, interval time.Duration, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		fetcher:          fetcher,
		probeURL:         probeURL,
		interval:         interval,
		logger:           slog.Default().With(slog.String("component", "connectivity")),
		state:            StateUnknown,
		shutdownComplete: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnRestored registers fn to run every time the origin becomes reachable after
// being offline or unknown. Listeners run synchronously in registration order.
func (m *Monitor) OnRestored(fn func(context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// State returns the last observed connectivity.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Report records an externally observed connectivity change.
func (m *Monitor) Report(ctx context.Context, online bool) {
	next := StateOffline
	if online {
		next = StateOnline
	}

	m.mu.Lock()
	prev := m.state
	m.state = next
	listeners := append([]func(context.Context){}, m.listeners...)
	m.mu.Unlock()

	if prev == next {
		return
	}
	observability.RecordConnectivity(online)
	m.logger.Info("connectivity changed", slog.String("from", string(prev)), slog.String("to", string(next)))
	if next != StateOnline {
		return
	}
	for _, fn := range listeners {
		fn(ctx)
	}
}

// Check probes the origin once and records the outcome.
func (m *Monitor) Check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.probeURL, nil)
	if err != nil {
		m.logger.Error("invalid probe url", slog.String("url", m.probeURL), slog.String("error", err.Error()))
		return false
	}
	online := false
	resp, err := m.fetcher.Fetch(ctx, req)
	if err == nil {
		resp.Body.Close()
		online = resp.StatusCode < http.StatusInternalServerError
	}
	if ctx.Err() != nil {
		return online
	}
	m.Report(ctx, online)
	return online
}

// Start launches the probing loop. It should be called in a goroutine.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer func() {
		ticker.Stop()
		close(m.shutdownComplete)
	}()

	for {
		m.Check(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait waits until the probing loop stops.
func (m *Monitor) Wait() {
	<-m.shutdownComplete
}
