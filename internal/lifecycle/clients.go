package lifecycle

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ClientHeader carries the client session id on proxied requests.
const ClientHeader = "X-Client-ID"

// Client is one open application session.
type Client struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	Controlled   bool      `json:"controlled"`
	PendingURL   string    `json:"pendingUrl,omitempty"`
	RegisteredAt time.Time `json:"registeredAt"`
	LastSeen     time.Time `json:"lastSeen"`
}

// Clients tracks open sessions. Nothing is controlled until Claim runs; from
// then on every session, including ones opened later, is intercepted.
type Clients struct {
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	claimed bool
	order   []string
	byID    map[string]*Client
}

// NewClients constructs an empty registry.
func NewClients(logger *slog.Logger) *Clients {
	if logger == nil {
		logger = slog.Default()
	}
	return &Clients{
		logger: logger.With(slog.String("component", "clients")),
		now:    time.Now,
		byID:   make(map[string]*Client),
	}
}

// Register records a newly opened session at url.
func (c *Clients) Register(url string) Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.add(url)
}

func (c *Clients) add(url string) *Client {
	now := c.now().UTC()
	client := &Client{
		ID:           uuid.NewString(),
		URL:          url,
		Controlled:   c.claimed,
		RegisteredAt: now,
		LastSeen:     now,
	}
	c.byID[client.ID] = client
	c.order = append(c.order, client.ID)
	return client
}

// Unregister forgets a closed session.
func (c *Clients) Unregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byID[id]; !ok {
		return
	}
	delete(c.byID, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// List returns every session in registration order.
func (c *Clients) List() []Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Client, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.byID[id])
	}
	return out
}

// Claim takes control of every open session.
func (c *Clients) Claim(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.claimed = true
	for _, client := range c.byID {
		client.Controlled = true
	}
	c.logger.Info("claimed open clients", slog.Int("count", len(c.byID)))
	return nil
}

// Controls reports whether requests from r's session are intercepted.
func (c *Clients) Controls(r *http.Request) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.byID[r.Header.Get(ClientHeader)]; ok {
		client.LastSeen = c.now().UTC()
	}
	return c.claimed
}

// Navigate points the first open session at url, or opens a new one when
// none is open.
func (c *Clients) Navigate(_ context.Context, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.order) > 0 {
		client := c.byID[c.order[0]]
		client.PendingURL = url
		c.logger.Info("navigating client", slog.String("client", client.ID), slog.String("url", url))
		return nil
	}
	client := c.add(url)
	client.PendingURL = url
	c.logger.Info("opened client window", slog.String("client", client.ID), slog.String("url", url))
	return nil
}

// TakeNavigation returns and clears the pending navigation of session id.
func (c *Clients) TakeNavigation(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	client, ok := c.byID[id]
	if !ok {
		return "", false
	}
	url := client.PendingURL
	client.PendingURL = ""
	client.LastSeen = c.now().UTC()
	return url, true
}
