package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"example.com/edgeagent/internal/cache"
	"example.com/edgeagent/internal/network"
	"example.com/edgeagent/internal/observability"
)

// OfflineMessage is the error text of the network-first offline payload.
const OfflineMessage = "Offline - dados não disponíveis"

// Connectivity exposes the last observed reachability of the origin.
type Connectivity interface {
	State() network.State
	Report(ctx context.Context, online bool)
}

// Option configures optional behaviour for the Router.
type Option func(*Router)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithConnectivity lets the router skip doomed network attempts while the
// origin is known to be offline, and feed observed outcomes back.
func WithConnectivity(c Connectivity) Option {
	return func(r *Router) {
		r.connectivity = c
	}
}

// WithClock overrides the time source used to stamp snapshots.
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		r.now = now
	}
}

// Router intercepts outbound requests.
type Router struct {
	rules        Rules
	cache        *cache.Manager
	network      cache.Fetcher
	shell        *url.URL
	connectivity Connectivity
	logger       *slog.Logger
	now          func() time.Time
	flight       singleflight.Group
}

// New constructs a Router. shell is the application-shell document served to
// failed navigations.
func New(rules Rules, manager *cache.Manager, fetcher cache.Fetcher, shell *url.URL, opts ...Option) *Router {
	r := &Router{
		rules:   rules,
		cache:   manager,
		network: fetcher,
		shell:   shell,
		logger:  slog.Default().With(slog.String("component", "router")),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Classify exposes the routing decision for req.
func (r *Router) Classify(req *http.Request) Strategy {
	return r.rules.Classify(req)
}

// Intercept classifies and executes req.
func (r *Router) Intercept(ctx context.Context, req *http.Request) (*http.Response, error) {
	return r.Execute(ctx, r.Classify(req), req)
}

// Execute runs req under strategy. Only bypass and network-only requests can
// return an error; the caching strategies always produce a response.
func (r *Router) Execute(ctx context.Context, strategy Strategy, req *http.Request) (*http.Response, error) {
	switch strategy {
	case StrategyCacheFirst:
		return r.cacheFirst(ctx, req), nil
	case StrategyNetworkFirst:
		return r.networkFirst(ctx, req), nil
	default:
		resp, err := r.fetch(ctx, req)
		if err != nil {
			observability.RecordIntercepted(string(strategy), "error")
			return nil, err
		}
		observability.RecordIntercepted(string(strategy), "network")
		return resp, nil
	}
}

func (r *Router) cacheFirst(ctx context.Context, req *http.Request) *http.Response {
	key := cache.Key(http.MethodGet, req.URL)
	if entry, ok := r.match(ctx, key); ok {
		r.logger.Debug("cache hit", slog.String("key", key))
		observability.RecordIntercepted(string(StrategyCacheFirst), "cache")
		return entry.HTTPResponse(req)
	}

	// Concurrent misses for one key share a single fetch and store.
	v, err, _ := r.flight.Do(key, func() (interface{}, error) {
		// The flight outlives the caller that started it.
		fctx := context.WithoutCancel(ctx)
		resp, err := r.fetch(fctx, req)
		if err != nil {
			return nil, err
		}
		snap, err := cache.Snapshot(resp, r.now())
		if err != nil {
			return nil, err
		}
		if snap.OK() {
			r.store(fctx, key, snap)
		}
		return snap, nil
	})
	if err == nil {
		observability.RecordIntercepted(string(StrategyCacheFirst), "network")
		return v.(cache.Response).HTTPResponse(req)
	}

	r.logger.Debug("cache-first fetch failed", slog.String("key", key), slog.String("error", err.Error()))
	if IsNavigation(req) && r.shell != nil {
		if entry, ok := r.match(ctx, cache.Key(http.MethodGet, r.shell)); ok {
			observability.RecordIntercepted(string(StrategyCacheFirst), "shell")
			return entry.HTTPResponse(req)
		}
	}
	observability.RecordIntercepted(string(StrategyCacheFirst), "offline")
	return textResponse(req, http.StatusServiceUnavailable, "Offline")
}

func (r *Router) networkFirst(ctx context.Context, req *http.Request) *http.Response {
	key := cache.Key(http.MethodGet, req.URL)

	if r.connectivity != nil && r.connectivity.State() == network.StateOffline {
		if entry, ok := r.match(ctx, key); ok {
			observability.RecordIntercepted(string(StrategyNetworkFirst), "cache")
			return entry.HTTPResponse(req)
		}
	}

	resp, err := r.fetch(ctx, req)
	if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		snap, snapErr := cache.Snapshot(resp, r.now())
		if snapErr == nil {
			r.store(ctx, key, snap)
			observability.RecordIntercepted(string(StrategyNetworkFirst), "network")
			return snap.HTTPResponse(req)
		}
		err = snapErr
	} else if err == nil {
		resp.Body.Close()
		r.logger.Debug("network response not ok", slog.String("key", key), slog.Int("status", resp.StatusCode))
	}

	if entry, ok := r.match(ctx, key); ok {
		observability.RecordIntercepted(string(StrategyNetworkFirst), "cache")
		return entry.HTTPResponse(req)
	}
	observability.RecordIntercepted(string(StrategyNetworkFirst), "offline")
	return OfflineResponse(req)
}

func (r *Router) fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := r.network.Fetch(ctx, req)
	if r.connectivity != nil && ctx.Err() == nil {
		switch {
		case err == nil:
			r.connectivity.Report(ctx, true)
		case network.IsUnavailable(err):
			r.connectivity.Report(ctx, false)
		}
	}
	return resp, err
}

func (r *Router) match(ctx context.Context, key string) (cache.Response, bool) {
	entry, err := r.cache.Match(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			r.logger.Warn("cache lookup failed", slog.String("key", key), slog.String("error", err.Error()))
		}
		return cache.Response{}, false
	}
	return entry, true
}

// store writes into the dynamic tier. A refused write only loses the caching
// side effect; the response is still delivered.
func (r *Router) store(ctx context.Context, key string, snap cache.Response) {
	dynamic := r.cache.Version().Dynamic
	if err := r.cache.Put(ctx, dynamic, key, snap); err != nil {
		observability.RecordCacheWriteDropped(dynamic)
		r.logger.Warn("cache write dropped", slog.String("key", key), slog.String("error", err.Error()))
	}
}

// OfflineResponse is the structured payload returned when a network-first
// request has neither network nor stored fallback.
func OfflineResponse(req *http.Request) *http.Response {
	body, _ := json.Marshal(map[string]string{"error": OfflineMessage})
	resp := textResponse(req, http.StatusServiceUnavailable, string(body))
	resp.Header.Set("Content-Type", "application/json")
	return resp
}

func textResponse(req *http.Request, status int, body string) *http.Response {
	return &http.Response{
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
		Body:          io.NopCloser(bytes.NewReader([]byte(body))),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
