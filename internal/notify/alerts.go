package notify

import (
	"context"
	"sync"
)

// MaxPendingAlerts bounds the Inbox; the oldest alert is dropped beyond it.
const MaxPendingAlerts = MaxRecords

// AlertFor builds the platform alert raised for a push record.
func AlertFor(rec Record) Alert {
	url := rec.ActionURL
	if url == "" {
		url = DefaultPushURL
	}
	return Alert{
		ID:      rec.ID,
		Title:   rec.Title,
		Body:    rec.Message,
		URL:     url,
		Actions: append([]Action(nil), PushActions...),
	}
}

// Dismisser is implemented by alerters that can retract a shown alert.
type Dismisser interface {
	Dismiss(id string)
}

// Inbox keeps shown alerts until a host session collects them.
type Inbox struct {
	mu      sync.Mutex
	pending []Alert
}

// NewInbox constructs an empty Inbox.
func NewInbox() *Inbox {
	return &Inbox{}
}

// Show queues alert, replacing a pending alert with the same id.
func (i *Inbox) Show(_ context.Context, alert Alert) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.remove(alert.ID)
	i.pending = append(i.pending, alert)
	if len(i.pending) > MaxPendingAlerts {
		i.pending = i.pending[len(i.pending)-MaxPendingAlerts:]
	}
	return nil
}

// Take returns the pending alerts, oldest first, and empties the Inbox.
func (i *Inbox) Take() []Alert {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := i.pending
	i.pending = nil
	if out == nil {
		out = []Alert{}
	}
	return out
}

// Pending returns a copy of the alerts not yet collected.
func (i *Inbox) Pending() []Alert {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]Alert{}, i.pending...)
}

// Dismiss drops the pending alert with id, if any.
func (i *Inbox) Dismiss(id string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.remove(id)
}

func (i *Inbox) remove(id string) {
	for n, alert := range i.pending {
		if alert.ID == id {
			i.pending = append(i.pending[:n], i.pending[n+1:]...)
			return
		}
	}
}
