// Package lifecycle drives a deployment from install to active and keeps
// the registry of open client sessions.
package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"example.com/edgeagent/internal/cache"
	"example.com/edgeagent/internal/observability"
)

// State is the lifecycle phase of the running version.
type State string

const (
	StateIdle       State = "idle"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActive     State = "active"
)

// Tiers is the part of the cache manager the controller drives.
type Tiers interface {
	Version() cache.Version
	Install(ctx context.Context, fetcher cache.Fetcher) error
	Activate(ctx context.Context, claimer cache.Claimer) ([]string, error)
}

// Status describes the controller for the control API.
type Status struct {
	State       State         `json:"state"`
	Version     cache.Version `json:"version"`
	ActivatedAt *time.Time    `json:"activatedAt,omitempty"`
	Purged      []string      `json:"purged,omitempty"`
	LastError   string        `json:"lastError,omitempty"`
}

// Controller sequences install and activation.
type Controller struct {
	tiers   Tiers
	fetcher cache.Fetcher
	clients cache.Claimer
	logger  *slog.Logger
	now     func() time.Time

	run sync.Mutex

	mu          sync.Mutex
	state       State
	activatedAt time.Time
	purged      []string
	lastErr     string
}

// NewController constructs a Controller in the idle state.
func NewController(tiers Tiers, fetcher cache.Fetcher, clients cache.Claimer, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		tiers:   tiers,
		fetcher: fetcher,
		clients: clients,
		logger:  logger.With(slog.String("component", "lifecycle")),
		now:     time.Now,
		state:   StateIdle,
	}
}

// Start installs the current version and activates it straight away,
// without waiting for open clients to close. An install failure returns the
// controller to the state it had before, leaving a previously active
// version in control. Start on an active controller is a no-op.
func (c *Controller) Start(ctx context.Context) error {
	c.run.Lock()
	defer c.run.Unlock()

	prev := c.State()
	if prev == StateActive {
		return nil
	}

	if prev != StateInstalled {
		c.transition(StateInstalling)
		if err := c.tiers.Install(ctx, c.fetcher); err != nil {
			c.fail(prev, err)
			return err
		}
		c.transition(StateInstalled)
	}

	c.transition(StateActivating)
	purged, err := c.tiers.Activate(ctx, c.clients)
	if err != nil {
		c.fail(StateInstalled, err)
		return err
	}

	now := c.now().UTC()
	c.mu.Lock()
	c.state = StateActive
	c.activatedAt = now
	c.purged = purged
	c.lastErr = ""
	c.mu.Unlock()
	observability.RecordActivated(now)
	c.logger.Info("lifecycle transition", slog.String("state", string(StateActive)), slog.Any("purged", purged))
	return nil
}

// State returns the current phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot for reporting.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		State:     c.state,
		Version:   c.tiers.Version(),
		Purged:    append([]string(nil), c.purged...),
		LastError: c.lastErr,
	}
	if !c.activatedAt.IsZero() {
		at := c.activatedAt
		st.ActivatedAt = &at
	}
	return st
}

func (c *Controller) transition(next State) {
	c.mu.Lock()
	c.state = next
	c.mu.Unlock()
	c.logger.Info("lifecycle transition", slog.String("state", string(next)))
}

func (c *Controller) fail(back State, err error) {
	c.mu.Lock()
	c.state = back
	c.lastErr = err.Error()
	c.mu.Unlock()
	c.logger.Error("lifecycle step failed", slog.String("state", string(back)), slog.String("error", err.Error()))
}
