package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrInstallAborted is returned when any manifest entry cannot be primed.
var ErrInstallAborted = errors.New("install aborted")

// Version is the (static, dynamic) store name pair fixed per deployment.
type Version struct {
	Static  string
	Dynamic string
}

// Names returns the two store names that survive activation.
func (v Version) Names() []string {
	return []string{v.Static, v.Dynamic}
}

func (v Version) has(name string) bool {
	return name == v.Static || name == v.Dynamic
}

// Fetcher performs a network round trip.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Claimer takes control of every open client session.
type Claimer interface {
	Claim(ctx context.Context) error
}

// Option configures optional behaviour for the Manager.
type Option func(*Manager)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock overrides the time source used to stamp snapshots.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager owns the static and dynamic tiers on top of a Store.
type Manager struct {
	store    Store
	version  Version
	manifest []string
	origin   *url.URL
	logger   *slog.Logger
	now      func() time.Time
}

// NewManager constructs a Manager. Relative manifest entries resolve against origin.
func NewManager(store Store, version Version, manifest []string, origin *url.URL, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		version:  version,
		manifest: append([]string(nil), manifest...),
		origin:   origin,
		logger:   slog.Default().With(slog.String("component", "cache")),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Version returns the store names the manager writes to.
func (m *Manager) Version() Version {
	return m.version
}

// ManifestURLs resolves the manifest against the origin.
func (m *Manager) ManifestURLs() ([]*url.URL, error) {
	out := make([]*url.URL, 0, len(m.manifest))
	for _, entry := range m.manifest {
		ref, err := url.Parse(entry)
		if err != nil {
			return nil, fmt.Errorf("manifest entry %q: %w", entry, err)
		}
		out = append(out, m.origin.ResolveReference(ref))
	}
	return out, nil
}

// Install primes the static store with every manifest entry. Entries are
// fetched concurrently and written only once all of them succeeded; a single
// failure leaves no trace of a store that did not exist before.
func (m *Manager) Install(ctx context.Context, fetcher Fetcher) error {
	targets, err := m.ManifestURLs()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInstallAborted, err)
	}

	snapshots := make([]Response, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, target := range targets {
		g.Go(func() error {
			req, err := http.NewRequestWithContext(gctx, http.MethodGet, target.String(), nil)
			if err != nil {
				return err
			}
			resp, err := fetcher.Fetch(gctx, req)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", target, err)
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				resp.Body.Close()
				return fmt.Errorf("fetch %s: status %d", target, resp.StatusCode)
			}
			snap, err := Snapshot(resp, m.now())
			if err != nil {
				return fmt.Errorf("read %s: %w", target, err)
			}
			snapshots[i] = snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		m.logger.Error("static manifest priming failed", slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", ErrInstallAborted, err)
	}

	existed, err := m.store.Has(ctx, m.version.Static)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInstallAborted, err)
	}
	if err := m.store.Open(ctx, m.version.Static); err != nil {
		return fmt.Errorf("%w: %v", ErrInstallAborted, err)
	}
	for i, target := range targets {
		if err := m.store.Put(ctx, m.version.Static, Key(http.MethodGet, target), snapshots[i]); err != nil {
			if !existed {
				if dropErr := m.store.Drop(ctx, m.version.Static); dropErr != nil {
					err = errors.Join(err, dropErr)
				}
			}
			m.logger.Error("static store write failed", slog.String("error", err.Error()))
			return fmt.Errorf("%w: %v", ErrInstallAborted, err)
		}
	}
	m.logger.Info("static store primed", slog.String("store", m.version.Static), slog.Int("entries", len(targets)))
	return nil
}

// Activate deletes every store outside the current version, makes sure the
// current pair exists, then lets claimer take over open client sessions.
// It returns the names of the purged stores.
func (m *Manager) Activate(ctx context.Context, claimer Claimer) ([]string, error) {
	names, err := m.store.Names(ctx)
	if err != nil {
		return nil, err
	}
	var purged []string
	for _, name := range names {
		if m.version.has(name) {
			continue
		}
		if err := m.store.Drop(ctx, name); err != nil {
			return purged, fmt.Errorf("drop store %s: %w", name, err)
		}
		m.logger.Info("deleted outdated cache store", slog.String("store", name))
		purged = append(purged, name)
	}
	for _, name := range m.version.Names() {
		if err := m.store.Open(ctx, name); err != nil {
			return purged, err
		}
	}
	if claimer != nil {
		if err := claimer.Claim(ctx); err != nil {
			return purged, fmt.Errorf("claim clients: %w", err)
		}
	}
	return purged, nil
}

// Match looks key up in the static store, then the dynamic store.
func (m *Manager) Match(ctx context.Context, key string) (Response, error) {
	for _, name := range m.version.Names() {
		entry, err := m.store.Get(ctx, name, key)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, ErrMiss) {
			return Response{}, err
		}
	}
	return Response{}, ErrMiss
}

// Put writes value under key in the named store, opening it on first use.
func (m *Manager) Put(ctx context.Context, name, key string, value Response) error {
	err := m.store.Put(ctx, name, key, value)
	if errors.Is(err, ErrUnknownStore) {
		if err := m.store.Open(ctx, name); err != nil {
			return err
		}
		err = m.store.Put(ctx, name, key, value)
	}
	return err
}

// Get returns the entry stored under key in the named store.
func (m *Manager) Get(ctx context.Context, name, key string) (Response, error) {
	return m.store.Get(ctx, name, key)
}

// Delete removes key from the named store.
func (m *Manager) Delete(ctx context.Context, name, key string) error {
	return m.store.Delete(ctx, name, key)
}

// Names lists every store currently present.
func (m *Manager) Names(ctx context.Context) ([]string, error) {
	return m.store.Names(ctx)
}
