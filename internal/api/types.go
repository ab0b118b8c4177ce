package api

import (
	"encoding/json"
	"errors"
	"time"

	"example.com/edgeagent/internal/notify"
	"example.com/edgeagent/internal/syncqueue"
)

// CheckinRequest is the body of POST /v1/checkins. GymID comes from the
// already-approved geolocation or QR validation.
type CheckinRequest struct {
	GymID   int64  `json:"gym_id"`
	GymName string `json:"gym_name"`
	Token   string `json:"token"`
}

// Validate ensures required fields are present.
func (r CheckinRequest) Validate() error {
	if r.GymID <= 0 {
		return errors.New("gym_id is required")
	}
	if r.Token == "" {
		return errors.New("token is required")
	}
	return nil
}

// CheckoutRequest is the body of POST /v1/checkouts.
type CheckoutRequest struct {
	CheckinID int64  `json:"checkin_id"`
	GymName   string `json:"gym_name"`
	Token     string `json:"token"`
}

// Validate ensures required fields are present.
func (r CheckoutRequest) Validate() error {
	if r.CheckinID <= 0 {
		return errors.New("checkin_id is required")
	}
	if r.Token == "" {
		return errors.New("token is required")
	}
	return nil
}

// SubmitResponse reports whether a mutating call went through or was queued.
type SubmitResponse struct {
	Status      string          `json:"status"`
	OperationID string          `json:"operation_id"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// OperationView is a queued operation without its bearer token.
type OperationView struct {
	ID        string           `json:"id"`
	Kind      syncqueue.Kind   `json:"kind"`
	GymID     int64            `json:"gym_id,omitempty"`
	GymName   string           `json:"gym_name,omitempty"`
	CheckinID int64            `json:"checkin_id,omitempty"`
	Subject   string           `json:"subject,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	Attempts  int              `json:"attempts"`
	Status    syncqueue.Status `json:"status"`
	LastError string           `json:"last_error,omitempty"`
}

// ListQueueResponse is the body of GET /v1/queue.
type ListQueueResponse struct {
	Items []OperationView `json:"items"`
}

// DrainResponse is the body of POST /v1/queue/drain.
type DrainResponse struct {
	syncqueue.Report
	Error string `json:"error,omitempty"`
}

// ListNotificationsResponse is the body of GET /v1/notifications.
type ListNotificationsResponse struct {
	Items  []notify.Record `json:"items"`
	Unread int             `json:"unread"`
}

// NavigationResponse reports the URL an action navigated to.
type NavigationResponse struct {
	Navigated string `json:"navigated,omitempty"`
}

// PushResponse is the body of POST /v1/push: the stored record and the
// alert raised for it, with its actions.
type PushResponse struct {
	Notification notify.Record `json:"notification"`
	Alert        notify.Alert  `json:"alert"`
}

// ListAlertsResponse is the body of GET /v1/alerts.
type ListAlertsResponse struct {
	Items []notify.Alert `json:"items"`
}

// AlertActionRequest is the body of POST /v1/alerts/action.
type AlertActionRequest struct {
	ID     string `json:"id"`
	Action string `json:"action"`
}

// TemplateRequest carries the parameters of the canned notifications.
type TemplateRequest struct {
	GymName  string `json:"gym_name"`
	UserName string `json:"user_name"`
	Checkins int    `json:"checkins"`
	Hours    int    `json:"hours"`
}

// RegisterClientRequest is the body of POST /v1/clients.
type RegisterClientRequest struct {
	URL string `json:"url"`
}

func toOperationView(op syncqueue.Operation) OperationView {
	return OperationView{
		ID:        op.ID,
		Kind:      op.Kind,
		GymID:     op.GymID,
		GymName:   op.GymName,
		CheckinID: op.CheckinID,
		Subject:   op.Subject,
		CreatedAt: op.CreatedAt,
		Attempts:  op.Attempts,
		Status:    op.Status,
		LastError: op.LastError,
	}
}
