package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/edgeagent/internal/auth"
	"example.com/edgeagent/internal/checkin"
	"example.com/edgeagent/internal/network"
	"example.com/edgeagent/internal/notify"
	"example.com/edgeagent/internal/observability"
)

// Replayer performs the remote calls behind queued operations.
type Replayer interface {
	Create(ctx context.Context, req checkin.Request) (checkin.Result, error)
	Checkout(ctx context.Context, req checkin.Request) (checkin.Result, error)
}

// Notifier receives the user-visible outcome of a replay.
type Notifier interface {
	Add(ctx context.Context, n notify.Notification) (notify.Record, error)
}

// Option configures optional behaviour for the Queue.
type Option func(*Queue)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// WithNotifier sets where replay outcomes are reported.
func WithNotifier(n Notifier) Option {
	return func(q *Queue) {
		q.notifier = n
	}
}

// WithStallAlert emits one warning notification when an operation's attempt
// count reaches after. Zero disables the warning.
func WithStallAlert(after int) Option {
	return func(q *Queue) {
		q.alertAfter = after
	}
}

// Queue owns the queued operations.
type Queue struct {
	store      Store
	replayer   Replayer
	notifier   Notifier
	logger     *slog.Logger
	now        func() time.Time
	newID      func() (string, error)
	alertAfter int

	// draining serializes replays: at most one remote call is in flight.
	draining sync.Mutex

	// inflight holds the keys with a remote call under way, live or replayed.
	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// New constructs a Queue.
func New(store Store, replayer Replayer, opts ...Option) *Queue {
	q := &Queue{
		store:    store,
		replayer: replayer,
		logger:   slog.Default().With(slog.String("component", "syncqueue")),
		now:      time.Now,
		inflight: make(map[string]struct{}),
		newID: func() (string, error) {
			id, err := uuid.NewV7()
			if err != nil {
				return "", err
			}
			return id.String(), nil
		},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue persists op as pending. An empty ID is filled with a fresh
// time-ordered idempotency key; a caller-supplied one is kept. Enqueueing a
// key that is already queued returns the stored entry untouched; a key with
// a call under way fails with ErrInFlight.
func (q *Queue) Enqueue(ctx context.Context, op Operation) (Operation, error) {
	prepared, err := q.prepare(op)
	if err != nil {
		return Operation{}, err
	}
	if !q.claim(prepared.ID) {
		return Operation{}, fmt.Errorf("%w: %s", ErrInFlight, prepared.ID)
	}
	defer q.release(prepared.ID)

	existing, ok, err := q.lookup(ctx, prepared.ID)
	if err != nil {
		return Operation{}, err
	}
	if ok {
		return existing, nil
	}
	return prepared, q.persist(ctx, prepared)
}

func (q *Queue) lookup(ctx context.Context, id string) (Operation, bool, error) {
	op, err := q.store.Get(ctx, id)
	switch {
	case err == nil:
		return op, true, nil
	case errors.Is(err, ErrNotFound):
		return Operation{}, false, nil
	default:
		return Operation{}, false, fmt.Errorf("look up operation %s: %w", id, err)
	}
}

func (q *Queue) claim(id string) bool {
	q.inflightMu.Lock()
	defer q.inflightMu.Unlock()
	if _, busy := q.inflight[id]; busy {
		return false
	}
	q.inflight[id] = struct{}{}
	return true
}

func (q *Queue) release(id string) {
	q.inflightMu.Lock()
	delete(q.inflight, id)
	q.inflightMu.Unlock()
}

func (q *Queue) prepare(op Operation) (Operation, error) {
	if err := op.Validate(); err != nil {
		return Operation{}, err
	}
	if op.ID == "" {
		id, err := q.newID()
		if err != nil {
			return Operation{}, fmt.Errorf("generate idempotency key: %w", err)
		}
		op.ID = id
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = q.now().UTC()
	}
	op.Status = StatusPending
	if claims, err := auth.Inspect(op.Token); err == nil {
		op.Subject = claims.Subject
		if claims.Expired(q.now()) {
			q.logger.Warn("queued operation carries an expired token", slog.String("id", op.ID), slog.String("subject", claims.Subject))
		}
	}
	return op, nil
}

func (q *Queue) persist(ctx context.Context, op Operation) error {
	if err := q.store.Put(ctx, op); err != nil {
		return fmt.Errorf("persist operation %s: %w", op.ID, err)
	}
	q.logger.Info("operation queued", slog.String("id", op.ID), slog.String("kind", string(op.Kind)), slog.Int64("gym_id", op.GymID))
	q.publishDepth(ctx)
	return nil
}

// Outcome reports how Submit handled an operation.
type Outcome struct {
	Queued    bool
	Operation Operation
	Result    checkin.Result
}

// Submit attempts op live. Only a connectivity failure queues it; the live
// attempt and every replay share the same idempotency key. Application-level
// rejections are returned to the caller unqueued. A key that is already
// queued is left to the drain and reported as queued without a new call; a
// key with a call still under way fails with ErrInFlight.
func (q *Queue) Submit(ctx context.Context, op Operation) (Outcome, error) {
	prepared, err := q.prepare(op)
	if err != nil {
		return Outcome{}, err
	}
	if !q.claim(prepared.ID) {
		return Outcome{Operation: prepared}, fmt.Errorf("%w: %s", ErrInFlight, prepared.ID)
	}
	defer q.release(prepared.ID)

	existing, ok, err := q.lookup(ctx, prepared.ID)
	if err != nil {
		return Outcome{}, err
	}
	if ok {
		q.logger.Info("operation already queued", slog.String("id", existing.ID), slog.Int("attempts", existing.Attempts))
		return Outcome{Queued: true, Operation: existing}, nil
	}

	res, err := q.call(ctx, prepared)
	if err == nil {
		return Outcome{Operation: prepared, Result: res}, nil
	}
	if !network.IsUnavailable(err) {
		return Outcome{Operation: prepared}, err
	}
	if err := q.persist(context.WithoutCancel(ctx), prepared); err != nil {
		return Outcome{}, err
	}
	return Outcome{Queued: true, Operation: prepared}, nil
}

// List returns every queued operation, oldest first.
func (q *Queue) List(ctx context.Context) ([]Operation, error) {
	return q.store.List(ctx)
}

// Get returns one queued operation.
func (q *Queue) Get(ctx context.Context, id string) (Operation, error) {
	return q.store.Get(ctx, id)
}

// Report summarizes one drain cycle.
type Report struct {
	Succeeded []string `json:"succeeded"`
	Failed    []string `json:"failed"`
	Remaining int      `json:"remaining"`
}

// Drain replays every queued operation in order, one at a time. A replayed
// operation is deleted only after the remote call succeeded; a failed one
// has its attempt count raised and stays queued for the next cycle.
// Concurrent callers wait for the running cycle and then start their own.
func (q *Queue) Drain(ctx context.Context) (Report, error) {
	q.draining.Lock()
	defer q.draining.Unlock()

	start := q.now()
	defer func() { observability.ObserveDrain(q.now().Sub(start)) }()

	ops, err := q.store.List(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list queued operations: %w", err)
	}

	var (
		report Report
		errs   []error
	)
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if !q.claim(op.ID) {
			// A live submit holds the key; the entry stays for the next cycle.
			q.logger.Debug("skipping operation with a call under way", slog.String("id", op.ID))
			continue
		}
		ok, err := q.replay(ctx, op)
		q.release(op.ID)
		if ok {
			report.Succeeded = append(report.Succeeded, op.ID)
		} else {
			report.Failed = append(report.Failed, op.ID)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	report.Remaining = q.publishDepth(context.WithoutCancel(ctx))
	if len(ops) > 0 {
		q.logger.Info("drain finished", slog.Int("succeeded", len(report.Succeeded)), slog.Int("failed", len(report.Failed)), slog.Int("remaining", report.Remaining))
	}
	return report, errors.Join(errs...)
}

// replay runs one operation. ok reports whether the remote call succeeded.
func (q *Queue) replay(ctx context.Context, op Operation) (ok bool, err error) {
	op.Status = StatusInFlight
	if err := q.store.Put(ctx, op); err != nil {
		return false, fmt.Errorf("mark %s in flight: %w", op.ID, err)
	}

	_, callErr := q.call(ctx, op)
	observability.RecordReplay(string(op.Kind), callErr == nil)
	if callErr == nil {
		if err := q.store.Delete(ctx, op.ID); err != nil {
			return true, fmt.Errorf("delete replayed operation %s: %w", op.ID, err)
		}
		q.logger.Info("operation replayed", slog.String("id", op.ID), slog.String("kind", string(op.Kind)), slog.Int("attempts", op.Attempts+1))
		q.emit(ctx, q.successNotification(op))
		return true, nil
	}

	op.Attempts++
	op.Status = StatusPending
	op.LastError = callErr.Error()
	q.logger.Warn("replay failed", slog.String("id", op.ID), slog.Int("attempts", op.Attempts), slog.String("error", callErr.Error()))
	// The cycle may have been cancelled mid-call; the attempt still counts.
	if err := q.store.Put(context.WithoutCancel(ctx), op); err != nil {
		return false, errors.Join(fmt.Errorf("%w: %s: %w", ErrReplay, op.ID, callErr), err)
	}
	if q.alertAfter > 0 && op.Attempts == q.alertAfter {
		q.emit(ctx, notify.ReplayStalled(op.GymName, op.Attempts))
	}
	return false, fmt.Errorf("%w: %s: %w", ErrReplay, op.ID, callErr)
}

func (q *Queue) call(ctx context.Context, op Operation) (checkin.Result, error) {
	req := checkin.Request{
		GymID:          op.GymID,
		CheckinID:      op.CheckinID,
		Token:          op.Token,
		IdempotencyKey: op.ID,
	}
	if op.Kind == KindCheckinCheckout {
		return q.replayer.Checkout(ctx, req)
	}
	return q.replayer.Create(ctx, req)
}

func (q *Queue) successNotification(op Operation) notify.Notification {
	if op.Kind == KindCheckinCheckout {
		return notify.CheckoutReplayed(op.GymName)
	}
	return notify.CheckinReplayed(op.GymName)
}

func (q *Queue) emit(ctx context.Context, n notify.Notification) {
	if q.notifier == nil {
		return
	}
	if _, err := q.notifier.Add(ctx, n); err != nil {
		q.logger.Warn("replay notification failed", slog.String("title", n.Title), slog.String("error", err.Error()))
	}
}

func (q *Queue) publishDepth(ctx context.Context) int {
	ops, err := q.store.List(ctx)
	if err != nil {
		q.logger.Warn("counting queued operations failed", slog.String("error", err.Error()))
		return 0
	}
	observability.SetQueueDepth(len(ops))
	return len(ops)
}
