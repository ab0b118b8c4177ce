package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/edgeagent/internal/observability"
)

// MaxRecords caps the persisted list; the oldest records are evicted first.
const MaxRecords = 50

var (
	// ErrNotFound is returned when no record carries the requested id.
	ErrNotFound = errors.New("notification not found")
	// ErrCorrupt is returned by stores whose persisted list cannot be decoded.
	ErrCorrupt = errors.New("notification store corrupt")
)

// Listener receives the complete current list after every mutation.
// Listeners must not call back into the Dispatcher.
type Listener func([]Record)

// Navigator moves a client window to a URL.
type Navigator interface {
	Navigate(ctx context.Context, url string) error
}

// Option configures optional behaviour for the Dispatcher.
type Option func(*Dispatcher)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// WithAlerter sets where platform-level alerts are shown.
func WithAlerter(a Alerter) Option {
	return func(d *Dispatcher) {
		d.alerter = a
	}
}

// WithNavigator sets how click and alert actions open URLs.
func WithNavigator(n Navigator) Option {
	return func(d *Dispatcher) {
		d.navigator = n
	}
}

// Dispatcher owns the notification list.
type Dispatcher struct {
	store     Store
	alerter   Alerter
	navigator Navigator
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string

	mu        sync.Mutex
	records   []Record
	listeners map[int]Listener
	nextSub   int

	// fanout keeps broadcasts in mutation order.
	fanout sync.Mutex
}

// NewDispatcher loads the persisted list from store.
func NewDispatcher(ctx context.Context, store Store, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		store:     store,
		logger:    slog.Default().With(slog.String("component", "notify")),
		now:       time.Now,
		newID:     uuid.NewString,
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(d)
	}

	records, err := store.Load(ctx)
	switch {
	case errors.Is(err, ErrCorrupt):
		d.logger.Error("discarding unreadable notification list", slog.String("error", err.Error()))
	case err != nil:
		return nil, fmt.Errorf("load notifications: %w", err)
	}
	if len(records) > MaxRecords {
		records = records[:MaxRecords]
	}
	d.records = records
	observability.SetUnread(unread(records))
	return d, nil
}

// Add assigns id and timestamp, inserts n at the head of the list, evicts
// past MaxRecords, persists and broadcasts.
func (d *Dispatcher) Add(ctx context.Context, n Notification) (Record, error) {
	if err := n.Validate(); err != nil {
		return Record{}, err
	}
	rec := Record{
		ID:         d.newID(),
		Title:      n.Title,
		Message:    n.Message,
		Type:       n.Type,
		Timestamp:  d.now().UnixMilli(),
		ActionURL:  n.ActionURL,
		ActionText: n.ActionText,
	}

	err := d.mutate(ctx, func(records []Record) ([]Record, bool) {
		out := make([]Record, 0, len(records)+1)
		out = append(out, rec)
		out = append(out, records...)
		if len(out) > MaxRecords {
			out = out[:MaxRecords]
		}
		return out, true
	})
	observability.RecordNotification(string(rec.Type), d.UnreadCount())
	d.logger.Debug("notification added", slog.String("id", rec.ID), slog.String("type", string(rec.Type)))
	return rec, err
}

// MarkAsRead flags one record as read.
func (d *Dispatcher) MarkAsRead(ctx context.Context, id string) error {
	found := false
	err := d.mutate(ctx, func(records []Record) ([]Record, bool) {
		for i := range records {
			if records[i].ID == id {
				found = true
				records[i].IsRead = true
				return records, true
			}
		}
		return records, false
	})
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}

// MarkAllAsRead flags every record as read.
func (d *Dispatcher) MarkAllAsRead(ctx context.Context) error {
	return d.mutate(ctx, func(records []Record) ([]Record, bool) {
		for i := range records {
			records[i].IsRead = true
		}
		return records, true
	})
}

// Remove deletes one record.
func (d *Dispatcher) Remove(ctx context.Context, id string) error {
	found := false
	err := d.mutate(ctx, func(records []Record) ([]Record, bool) {
		out := records[:0]
		for _, r := range records {
			if r.ID == id {
				found = true
				continue
			}
			out = append(out, r)
		}
		return out, found
	})
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}

// ClearAll removes every record.
func (d *Dispatcher) ClearAll(ctx context.Context) error {
	return d.mutate(ctx, func([]Record) ([]Record, bool) {
		return nil, true
	})
}

// List returns a copy of the current list, newest first.
func (d *Dispatcher) List() []Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Record(nil), d.records...)
}

// Get returns the record with id.
func (d *Dispatcher) Get(id string) (Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.records {
		if r.ID == id {
			return r, nil
		}
	}
	return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// UnreadCount is derived from the list on every call.
func (d *Dispatcher) UnreadCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return unread(d.records)
}

// Subscribe registers l and returns a function that removes it.
func (d *Dispatcher) Subscribe(l Listener) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextSub
	d.nextSub++
	d.listeners[id] = l
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.listeners, id)
	}
}

// Click marks the record read if needed and navigates to its action URL.
// It returns the URL navigated to, empty when the record has none.
func (d *Dispatcher) Click(ctx context.Context, id string) (string, error) {
	rec, err := d.Get(id)
	if err != nil {
		return "", err
	}
	if !rec.IsRead {
		if err := d.MarkAsRead(ctx, id); err != nil {
			return "", err
		}
	}
	if rec.ActionURL == "" {
		return "", nil
	}
	return rec.ActionURL, d.navigate(ctx, rec.ActionURL)
}

func (d *Dispatcher) navigate(ctx context.Context, url string) error {
	if d.navigator == nil {
		d.logger.Debug("no navigator configured", slog.String("url", url))
		return nil
	}
	return d.navigator.Navigate(ctx, url)
}

// mutate applies fn under the lock. When fn reports a change the new list is
// persisted and broadcast. A failed save keeps the in-memory change.
func (d *Dispatcher) mutate(ctx context.Context, fn func([]Record) ([]Record, bool)) error {
	d.mu.Lock()
	next, changed := fn(append([]Record(nil), d.records...))
	if !changed {
		d.mu.Unlock()
		return nil
	}
	d.records = next
	snapshot := append([]Record(nil), next...)
	listeners := make([]Listener, 0, len(d.listeners))
	for i := 0; i < d.nextSub; i++ {
		if l, ok := d.listeners[i]; ok {
			listeners = append(listeners, l)
		}
	}
	d.fanout.Lock()
	d.mu.Unlock()
	defer d.fanout.Unlock()

	err := d.store.Save(ctx, snapshot)
	if err != nil {
		d.logger.Error("saving notifications failed", slog.String("error", err.Error()))
		err = fmt.Errorf("save notifications: %w", err)
	}
	observability.SetUnread(unread(snapshot))
	for _, l := range listeners {
		l(append([]Record(nil), snapshot...))
	}
	return err
}
