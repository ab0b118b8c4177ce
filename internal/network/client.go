// Package network performs the agent's upstream round trips and tracks
// connectivity to the origin.
package network

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrUnavailable marks a round trip that never produced a response.
var ErrUnavailable = errors.New("network unavailable")

// Client issues requests to the network, folding every transport failure into ErrUnavailable.
type Client struct {
	http *http.Client
}

// NewClient constructs a Client. Redirects are returned to the caller untouched.
func NewClient(timeout time.Duration) *Client {
	return &Client{http: &http.Client{
		Timeout: timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}}
}

// NewClientWith wraps an existing http.Client.
func NewClientWith(client *http.Client) *Client {
	return &Client{http: client}
}

// Fetch performs req. A non-nil error always wraps ErrUnavailable; a caller
// that cancelled ctx additionally gets the context error.
func (c *Client) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, ctxErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return resp, nil
}

// IsUnavailable reports whether err stems from a connectivity failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
