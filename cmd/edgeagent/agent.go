package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/edgeagent/internal/cache"
	"example.com/edgeagent/internal/checkin"
	"example.com/edgeagent/internal/config"
	"example.com/edgeagent/internal/lifecycle"
	"example.com/edgeagent/internal/network"
	"example.com/edgeagent/internal/notify"
	"example.com/edgeagent/internal/router"
	badgerstore "example.com/edgeagent/internal/storage/badger"
	"example.com/edgeagent/internal/syncqueue"
	"example.com/edgeagent/internal/syncqueue/postgres"
)

// agent holds the wired components shared by every command.
type agent struct {
	ctx    context.Context
	cfg    config.Config
	logger *slog.Logger
	origin *url.URL

	network       *network.Client
	monitor       *network.Monitor
	cache         *cache.Manager
	router        *router.Router
	clients       *lifecycle.Clients
	controller    *lifecycle.Controller
	notifications *notify.Dispatcher
	alerts        *notify.Inbox
	queue         *syncqueue.Queue

	closers []func() error
}

type stores struct {
	cache         cache.Store
	notifications notify.Store
	queue         syncqueue.Store
}

func newAgent(ctx context.Context, cfg config.Config, logger *slog.Logger) (*agent, error) {
	origin, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}

	a := &agent{ctx: ctx, cfg: cfg, logger: logger, origin: origin}
	if err := a.wire(ctx); err != nil {
		return nil, errors.Join(err, a.Close())
	}
	return a, nil
}

func (a *agent) wire(ctx context.Context) error {
	cfg, logger, origin := a.cfg, a.logger, a.origin

	st, err := a.openStores(ctx)
	if err != nil {
		return err
	}

	a.network = network.NewClient(cfg.HTTPTimeout)
	probe := origin.ResolveReference(&url.URL{Path: cfg.ConnectivityProbe})
	a.monitor = network.NewMonitor(a.network, probe.String(), cfg.ConnectivityInterval,
		network.WithLogger(logger.With(slog.String("component", "connectivity"))))

	version := cache.Version{Static: cfg.StaticCache, Dynamic: cfg.DynamicCache}
	a.cache = cache.NewManager(st.cache, version, cfg.Manifest, origin,
		cache.WithLogger(logger.With(slog.String("component", "cache"))))

	manifest, err := a.cache.ManifestURLs()
	if err != nil {
		return err
	}
	rules, err := router.NewRules(manifest, cfg.APICachePatterns)
	if err != nil {
		return err
	}
	a.router = router.New(rules, a.cache, a.network, origin.ResolveReference(&url.URL{Path: "/"}),
		router.WithLogger(logger.With(slog.String("component", "router"))),
		router.WithConnectivity(a.monitor))

	a.clients = lifecycle.NewClients(logger)
	a.controller = lifecycle.NewController(a.cache, a.network, a.clients, logger)

	a.alerts = notify.NewInbox()
	a.notifications, err = notify.NewDispatcher(ctx, st.notifications,
		notify.WithLogger(logger.With(slog.String("component", "notifications"))),
		notify.WithNavigator(a.clients),
		notify.WithAlerter(a.alerts))
	if err != nil {
		return err
	}

	a.queue = syncqueue.New(st.queue, checkin.NewClient(origin, a.network),
		syncqueue.WithLogger(logger.With(slog.String("component", "syncqueue"))),
		syncqueue.WithNotifier(a.notifications),
		syncqueue.WithStallAlert(cfg.ReplayAlertAfter))

	a.monitor.OnRestored(a.restored)
	return nil
}

func (a *agent) openStores(ctx context.Context) (stores, error) {
	st := stores{
		cache:         cache.NewMemoryStore(0),
		notifications: notify.NewMemoryStore(),
		queue:         syncqueue.NewMemoryStore(),
	}

	var db *badgerstore.DB
	if a.cfg.DataDir != "" {
		dbCfg := badgerstore.DefaultConfig(a.cfg.DataDir)
		dbCfg.Logger = a.logger.With(slog.String("component", "badger"))
		opened, err := badgerstore.Open(dbCfg)
		if err != nil {
			return stores{}, fmt.Errorf("open data dir: %w", err)
		}
		db = opened
		a.closers = append(a.closers, db.Close)
		st.cache = cache.NewBadgerStore(db)
		st.notifications = notify.NewBadgerStore(db)
	}

	switch a.cfg.StoreBackend {
	case "badger":
		st.queue = syncqueue.NewBadgerStore(db)
	case "postgres":
		pool, err := pgxpool.New(ctx, a.cfg.PostgresURL)
		if err != nil {
			return stores{}, fmt.Errorf("connect to postgres: %w", err)
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		pgStore := postgres.NewStore(pool)
		if err := pgStore.Migrate(ctx); err != nil {
			return stores{}, err
		}
		st.queue = pgStore
	}
	return st, nil
}

// restored runs on every offline-to-online transition. Listeners are called
// inline by the monitor, so the slow work moves to its own goroutines.
func (a *agent) restored(context.Context) {
	go a.drain()
	if a.controller.State() != lifecycle.StateActive {
		go func() {
			if err := a.controller.Start(a.ctx); err != nil {
				a.logger.Warn("lifecycle retry failed", slog.String("error", err.Error()))
			}
		}()
	}
}

func (a *agent) drain() {
	report, err := a.queue.Drain(a.ctx)
	if err != nil {
		a.logger.Warn("sync queue drain incomplete", slog.Int("succeeded", len(report.Succeeded)), slog.Int("remaining", report.Remaining), slog.String("error", err.Error()))
		return
	}
	if len(report.Succeeded) > 0 {
		a.logger.Info("sync queue drained", slog.Int("succeeded", len(report.Succeeded)))
	}
}

// Close releases storage in reverse order of acquisition.
func (a *agent) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
