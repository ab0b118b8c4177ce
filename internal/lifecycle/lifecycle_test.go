package lifecycle

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/edgeagent/internal/cache"
	"example.com/edgeagent/internal/network"
)

type originFetcher struct {
	down map[string]bool
}

func (f *originFetcher) Fetch(_ context.Context, req *http.Request) (*http.Response, error) {
	if f.down[req.URL.Path] {
		return nil, network.ErrUnavailable
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader("asset " + req.URL.Path)),
	}, nil
}

func newManager(t *testing.T, store cache.Store) *cache.Manager {
	t.Helper()
	origin, err := url.Parse("http://app.local")
	require.NoError(t, err)
	return cache.NewManager(store, cache.Version{Static: "unipass-static-v2", Dynamic: "unipass-dynamic-v2"},
		[]string{"/", "/static/js/bundle.js", "/manifest.json"}, origin)
}

func TestStartInstallsActivatesAndClaims(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore(0)
	require.NoError(t, store.Open(ctx, "unipass-static-v1"))
	require.NoError(t, store.Open(ctx, "unipass-dynamic-v1"))

	clients := NewClients(nil)
	open := clients.Register("http://app.local/profile")
	req := httptest.NewRequest(http.MethodGet, "/api/gyms", nil)
	req.Header.Set(ClientHeader, open.ID)
	require.False(t, clients.Controls(req))

	ctrl := NewController(newManager(t, store), &originFetcher{}, clients, nil)
	require.Equal(t, StateIdle, ctrl.State())
	require.NoError(t, ctrl.Start(ctx))

	status := ctrl.Status()
	require.Equal(t, StateActive, status.State)
	require.NotNil(t, status.ActivatedAt)
	require.ElementsMatch(t, []string{"unipass-static-v1", "unipass-dynamic-v1"}, status.Purged)

	names, err := store.Names(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"unipass-static-v2", "unipass-dynamic-v2"}, names)

	require.True(t, clients.Controls(req), "already-open sessions are taken over")
	require.True(t, clients.List()[0].Controlled)
	require.True(t, clients.Register("http://app.local/").Controlled)

	require.NoError(t, ctrl.Start(ctx))
}

func TestInstallFailureKeepsPreviousState(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore(0)
	require.NoError(t, store.Open(ctx, "unipass-static-v1"))
	clients := NewClients(nil)
	fetcher := &originFetcher{down: map[string]bool{"/manifest.json": true}}

	ctrl := NewController(newManager(t, store), fetcher, clients, nil)
	err := ctrl.Start(ctx)
	require.ErrorIs(t, err, cache.ErrInstallAborted)

	status := ctrl.Status()
	require.Equal(t, StateIdle, status.State)
	require.Nil(t, status.ActivatedAt)
	require.NotEmpty(t, status.LastError)

	names, err := store.Names(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"unipass-static-v1"}, names, "the previous version stays untouched")
	require.False(t, clients.Controls(httptest.NewRequest(http.MethodGet, "/", nil)))

	fetcher.down = nil
	require.NoError(t, ctrl.Start(ctx))
	require.Equal(t, StateActive, ctrl.State())
}

type failingClaimer struct{}

func (failingClaimer) Claim(context.Context) error { return errors.New("host refused") }

func TestActivationFailureStaysInstalled(t *testing.T) {
	ctx := context.Background()
	ctrl := NewController(newManager(t, cache.NewMemoryStore(0)), &originFetcher{}, failingClaimer{}, nil)

	require.Error(t, ctrl.Start(ctx))
	require.Equal(t, StateInstalled, ctrl.State())
}

func TestNavigateUsesFirstClientOrOpensOne(t *testing.T) {
	ctx := context.Background()
	clients := NewClients(nil)

	require.NoError(t, clients.Navigate(ctx, "/profile"))
	list := clients.List()
	require.Len(t, list, 1)
	require.Equal(t, "/profile", list[0].PendingURL)

	second := clients.Register("http://app.local/checkin")
	require.NoError(t, clients.Navigate(ctx, "/gyms/3"))

	target, ok := clients.TakeNavigation(list[0].ID)
	require.True(t, ok)
	require.Equal(t, "/gyms/3", target)
	target, ok = clients.TakeNavigation(list[0].ID)
	require.True(t, ok)
	require.Empty(t, target)

	target, _ = clients.TakeNavigation(second.ID)
	require.Empty(t, target)

	clients.Unregister(list[0].ID)
	_, ok = clients.TakeNavigation(list[0].ID)
	require.False(t, ok)
	require.Len(t, clients.List(), 1)
}
