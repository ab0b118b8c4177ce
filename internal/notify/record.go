// Package notify keeps the capped, persisted notification list and turns
// sync outcomes and inbound push messages into user-visible records.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Severity is the closed set of notification kinds.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// ErrInvalidSeverity is returned for a severity outside the closed set.
var ErrInvalidSeverity = errors.New("invalid notification severity")

// ParseSeverity validates s.
func ParseSeverity(s string) (Severity, error) {
	switch sev := Severity(s); sev {
	case SeverityInfo, SeveritySuccess, SeverityWarning, SeverityError:
		return sev, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSeverity, s)
}

// UnmarshalJSON rejects unknown severities.
func (s *Severity) UnmarshalJSON(raw []byte) error {
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return err
	}
	sev, err := ParseSeverity(str)
	if err != nil {
		return err
	}
	*s = sev
	return nil
}

// Record is one persisted notification.
type Record struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Message    string   `json:"message"`
	Type       Severity `json:"type"`
	Timestamp  int64    `json:"timestamp"`
	IsRead     bool     `json:"isRead"`
	ActionURL  string   `json:"actionUrl,omitempty"`
	ActionText string   `json:"actionText,omitempty"`
}

// Notification is the caller-supplied part of a Record; the dispatcher
// assigns id, timestamp and read state.
type Notification struct {
	Title      string   `json:"title"`
	Message    string   `json:"message"`
	Type       Severity `json:"type"`
	ActionURL  string   `json:"actionUrl,omitempty"`
	ActionText string   `json:"actionText,omitempty"`
}

// Validate checks the fields a record cannot do without.
func (n Notification) Validate() error {
	if n.Title == "" {
		return errors.New("notification title is required")
	}
	if _, err := ParseSeverity(string(n.Type)); err != nil {
		return err
	}
	return nil
}

func unread(records []Record) int {
	count := 0
	for _, r := range records {
		if !r.IsRead {
			count++
		}
	}
	return count
}
