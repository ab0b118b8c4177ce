package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
)

const (
	DefaultPushTitle = "Unipass"
	DefaultPushBody  = "Nova mensagem do Unipass"
	DefaultPushURL   = "/"

	ActionOpen  = "open"
	ActionClose = "close"
)

// ErrInvalidPush is returned for a push payload that fails the schema check.
var ErrInvalidPush = errors.New("invalid push payload")

// Push is a parsed inbound push message with defaults applied.
type Push struct {
	Title string
	Body  string
	URL   string
}

type pushWire struct {
	Title *string `json:"title"`
	Body  *string `json:"body"`
	Data  *struct {
		URL *string `json:"url"`
	} `json:"data"`
}

// ParsePush validates raw against {title?: string, body?: string,
// data?: {url?: string}}. An empty payload yields all defaults.
func ParsePush(raw []byte) (Push, error) {
	p := Push{Title: DefaultPushTitle, Body: DefaultPushBody, URL: DefaultPushURL}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return p, nil
	}

	var wire pushWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Push{}, fmt.Errorf("%w: %v", ErrInvalidPush, err)
	}
	if wire.Title != nil && *wire.Title != "" {
		p.Title = *wire.Title
	}
	if wire.Body != nil && *wire.Body != "" {
		p.Body = *wire.Body
	}
	if wire.Data != nil && wire.Data.URL != nil && *wire.Data.URL != "" {
		if _, err := url.Parse(*wire.Data.URL); err != nil {
			return Push{}, fmt.Errorf("%w: data.url: %v", ErrInvalidPush, err)
		}
		p.URL = *wire.Data.URL
	}
	return p, nil
}

// Action is a button offered on a platform alert.
type Action struct {
	Name  string `json:"action"`
	Title string `json:"title"`
}

// PushActions are offered on every alert raised from a push message.
var PushActions = []Action{
	{Name: ActionOpen, Title: "Abrir App"},
	{Name: ActionClose, Title: "Fechar"},
}

// Alert is a platform-level notification. ID equals the backing record id.
type Alert struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	URL     string   `json:"url"`
	Actions []Action `json:"actions"`
}

// Alerter displays platform-level alerts.
type Alerter interface {
	Show(ctx context.Context, alert Alert) error
}

// HandlePush records an inbound push message and raises an alert for it.
// A failing alerter does not undo the record.
func (d *Dispatcher) HandlePush(ctx context.Context, raw []byte) (Record, error) {
	p, err := ParsePush(raw)
	if err != nil {
		return Record{}, err
	}
	rec, err := d.Add(ctx, Notification{
		Title:     p.Title,
		Message:   p.Body,
		Type:      SeverityInfo,
		ActionURL: p.URL,
	})
	if err != nil && rec.ID == "" {
		return Record{}, err
	}
	if d.alerter != nil {
		alert := AlertFor(rec)
		if alertErr := d.alerter.Show(ctx, alert); alertErr != nil {
			d.logger.Warn("showing alert failed", slog.String("id", rec.ID), slog.String("error", alertErr.Error()))
		}
	}
	return rec, err
}

// HandleAlertAction resolves a user acting on the alert for record id.
// Acting on the alert counts as a click on the record; the close action
// then stops without navigating. Any other action opens the record's URL,
// defaulting to "/".
func (d *Dispatcher) HandleAlertAction(ctx context.Context, id, action string) (string, error) {
	rec, err := d.Get(id)
	if err != nil {
		return "", err
	}
	if dismisser, ok := d.alerter.(Dismisser); ok {
		dismisser.Dismiss(id)
	}
	if !rec.IsRead {
		if err := d.MarkAsRead(ctx, id); err != nil {
			return "", err
		}
	}
	if action == ActionClose {
		return "", nil
	}
	target := rec.ActionURL
	if target == "" {
		target = DefaultPushURL
	}
	return target, d.navigate(ctx, target)
}
