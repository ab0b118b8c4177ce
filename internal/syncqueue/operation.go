// Package syncqueue persists check-in operations that failed for lack of
// connectivity and replays them one at a time once the origin is reachable.
package syncqueue

import (
	"errors"
	"fmt"
	"time"
)

// Kind names the remote call an operation replays.
type Kind string

const (
	KindCheckinCreate   Kind = "CHECKIN_CREATE"
	KindCheckinCheckout Kind = "CHECKIN_CHECKOUT"
)

// Status tracks an operation through a drain cycle. Succeeded operations are
// deleted, so no stored entry ever carries that state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusInFlight Status = "in-flight"
)

var (
	// ErrReplay wraps the cause of a failed replay attempt.
	ErrReplay = errors.New("replay failed")
	// ErrInFlight is returned when a remote call for the same key is under way.
	ErrInFlight = errors.New("operation already in flight")
	// ErrNotFound is returned when no queued operation carries the id.
	ErrNotFound = errors.New("queued operation not found")
	// ErrInvalidOperation is returned by Enqueue for an operation it cannot replay.
	ErrInvalidOperation = errors.New("invalid operation")
)

// Operation is one queued mutating call. ID doubles as the idempotency key.
type Operation struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	GymID     int64     `json:"gymId,omitempty"`
	GymName   string    `json:"gymName,omitempty"`
	CheckinID int64     `json:"checkinId,omitempty"`
	Token     string    `json:"token"`
	Subject   string    `json:"subject,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Attempts  int       `json:"attempts"`
	Status    Status    `json:"status"`
	LastError string    `json:"lastError,omitempty"`
}

// Validate checks that op carries what its kind needs for replay.
func (op Operation) Validate() error {
	switch op.Kind {
	case KindCheckinCreate:
		if op.GymID <= 0 {
			return fmt.Errorf("%w: gym id is required", ErrInvalidOperation)
		}
	case KindCheckinCheckout:
		if op.CheckinID <= 0 {
			return fmt.Errorf("%w: check-in id is required", ErrInvalidOperation)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidOperation, op.Kind)
	}
	if op.Token == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidOperation)
	}
	return nil
}

// less orders operations by creation time, then id.
func less(a, b Operation) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
