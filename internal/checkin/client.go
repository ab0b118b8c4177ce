// Package checkin talks to the external check-in API.
package checkin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	createPath   = "/api/checkins"
	checkoutPath = "/api/checkins/checkout"
)

// APIError is an application-level rejection from the check-in API. It is
// never retried by the sync queue's enqueue path.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("check-in api: status %d", e.Status)
	}
	return fmt.Sprintf("check-in api: status %d: %s", e.Status, e.Detail)
}

// IsRejection reports whether err is an APIError.
func IsRejection(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// Fetcher performs a network round trip.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Request carries one mutating call. IdempotencyKey is forwarded so the API
// can collapse replays of the same operation.
type Request struct {
	GymID          int64
	CheckinID      int64
	Token          string
	IdempotencyKey string
}

// Result is the API's acknowledgement.
type Result struct {
	Status int
	Body   json.RawMessage
}

// Client issues check-in and check-out calls against the origin.
type Client struct {
	base    *url.URL
	fetcher Fetcher
}

// NewClient constructs a Client rooted at base.
func NewClient(base *url.URL, fetcher Fetcher) *Client {
	return &Client{base: base, fetcher: fetcher}
}

// Create performs POST /api/checkins.
func (c *Client) Create(ctx context.Context, req Request) (Result, error) {
	return c.post(ctx, createPath, map[string]int64{"gym_id": req.GymID}, req)
}

// Checkout performs POST /api/checkins/checkout.
func (c *Client) Checkout(ctx context.Context, req Request) (Result, error) {
	return c.post(ctx, checkoutPath, map[string]int64{"checkin_id": req.CheckinID}, req)
}

func (c *Client) post(ctx context.Context, path string, payload interface{}, req Request) (Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, err
	}
	target := c.base.ResolveReference(&url.URL{Path: path})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	resp, err := c.fetcher.Fetch(ctx, httpReq)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, &APIError{Status: resp.StatusCode, Detail: detail(raw)}
	}
	if !json.Valid(raw) {
		raw = nil
	}
	return Result{Status: resp.StatusCode, Body: raw}, nil
}

func detail(raw []byte) string {
	var body struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Detail != "" {
			return body.Detail
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
