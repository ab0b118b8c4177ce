// Package api exposes the control endpoints the host application uses to
// submit check-ins, read notifications and follow the agent lifecycle.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/edgeagent/internal/auth"
	"example.com/edgeagent/internal/checkin"
	"example.com/edgeagent/internal/lifecycle"
	"example.com/edgeagent/internal/notify"
	"example.com/edgeagent/internal/syncqueue"
)

const maxPushBytes = 64 << 10

// Handler coordinates control requests with the agent components.
type Handler struct {
	queue         *syncqueue.Queue
	notifications *notify.Dispatcher
	alerts        *notify.Inbox
	lifecycle     *lifecycle.Controller
	clients       *lifecycle.Clients
	logger        *slog.Logger
}

// NewHandler builds a Handler.
func NewHandler(queue *syncqueue.Queue, notifications *notify.Dispatcher, alerts *notify.Inbox, controller *lifecycle.Controller, clients *lifecycle.Clients, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		queue:         queue,
		notifications: notifications,
		alerts:        alerts,
		lifecycle:     controller,
		clients:       clients,
		logger:        logger.With(slog.String("component", "api")),
	}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/checkins", h.createCheckin)
	mux.HandleFunc("POST /v1/checkouts", h.createCheckout)

	mux.HandleFunc("GET /v1/queue", h.listQueue)
	mux.HandleFunc("POST /v1/queue/drain", h.drainQueue)

	mux.HandleFunc("GET /v1/notifications", h.listNotifications)
	mux.HandleFunc("POST /v1/notifications", h.addNotification)
	mux.HandleFunc("DELETE /v1/notifications", h.clearNotifications)
	mux.HandleFunc("POST /v1/notifications/read-all", h.markAllRead)
	mux.HandleFunc("POST /v1/notifications/{id}/read", h.markRead)
	mux.HandleFunc("POST /v1/notifications/{id}/click", h.clickNotification)
	mux.HandleFunc("DELETE /v1/notifications/{id}", h.removeNotification)
	mux.HandleFunc("POST /v1/templates/{name}", h.addTemplate)

	mux.HandleFunc("POST /v1/push", h.receivePush)
	mux.HandleFunc("GET /v1/alerts", h.takeAlerts)
	mux.HandleFunc("POST /v1/alerts/action", h.alertAction)

	mux.HandleFunc("GET /v1/lifecycle", h.lifecycleStatus)
	mux.HandleFunc("GET /v1/clients", h.listClients)
	mux.HandleFunc("POST /v1/clients", h.registerClient)
	mux.HandleFunc("DELETE /v1/clients/{id}", h.unregisterClient)
	mux.HandleFunc("GET /v1/clients/{id}/navigation", h.takeNavigation)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) createCheckin(w http.ResponseWriter, r *http.Request) {
	var req CheckinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	h.submit(w, r, syncqueue.Operation{
		ID:      r.Header.Get("Idempotency-Key"),
		Kind:    syncqueue.KindCheckinCreate,
		GymID:   req.GymID,
		GymName: req.GymName,
		Token:   req.Token,
	})
}

func (h *Handler) createCheckout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	h.submit(w, r, syncqueue.Operation{
		ID:        r.Header.Get("Idempotency-Key"),
		Kind:      syncqueue.KindCheckinCheckout,
		CheckinID: req.CheckinID,
		GymName:   req.GymName,
		Token:     req.Token,
	})
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, op syncqueue.Operation) {
	// A JWT bearer token carried by op overrides the control caller.
	op.Subject = auth.Subject(r.Context())
	outcome, err := h.queue.Submit(r.Context(), op)
	if err != nil {
		var apiErr *checkin.APIError
		switch {
		case errors.As(err, &apiErr):
			writeError(w, apiErr.Status, "rejected", apiErr.Detail)
		case errors.Is(err, syncqueue.ErrInvalidOperation):
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		case errors.Is(err, syncqueue.ErrInFlight):
			writeError(w, http.StatusConflict, "in_flight", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		}
		return
	}

	if outcome.Queued {
		writeJSON(w, http.StatusAccepted, SubmitResponse{Status: "queued", OperationID: outcome.Operation.ID})
		return
	}
	if op.Kind == syncqueue.KindCheckinCreate && op.GymName != "" {
		if _, err := h.notifications.Add(r.Context(), notify.CheckinSuccess(op.GymName)); err != nil {
			h.logger.Warn("check-in notification failed", slog.String("error", err.Error()))
		}
	}
	writeJSON(w, http.StatusCreated, SubmitResponse{
		Status:      "submitted",
		OperationID: outcome.Operation.ID,
		Result:      outcome.Result.Body,
	})
}

func (h *Handler) listQueue(w http.ResponseWriter, r *http.Request) {
	ops, err := h.queue.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	items := make([]OperationView, 0, len(ops))
	for _, op := range ops {
		items = append(items, toOperationView(op))
	}
	writeJSON(w, http.StatusOK, ListQueueResponse{Items: items})
}

func (h *Handler) drainQueue(w http.ResponseWriter, r *http.Request) {
	report, err := h.queue.Drain(r.Context())
	h.logger.Info("drain requested", slog.String("caller", auth.Subject(r.Context())), slog.Int("succeeded", len(report.Succeeded)), slog.Int("remaining", report.Remaining))
	resp := DrainResponse{Report: report}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	items := h.notifications.List()
	if items == nil {
		items = []notify.Record{}
	}
	writeJSON(w, http.StatusOK, ListNotificationsResponse{Items: items, Unread: h.notifications.UnreadCount()})
}

func (h *Handler) addNotification(w http.ResponseWriter, r *http.Request) {
	var n notify.Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	h.add(w, r, n)
}

func (h *Handler) addTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	var n notify.Notification
	switch r.PathValue("name") {
	case "checkout-reminder":
		n = notify.CheckoutReminder(req.GymName)
	case "welcome":
		n = notify.Welcome(req.UserName)
	case "checkin-success":
		n = notify.CheckinSuccess(req.GymName)
	case "capacity-alert":
		n = notify.CapacityAlert(req.GymName)
	case "weekly-summary":
		n = notify.WeeklySummary(req.Checkins, req.Hours)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown template")
		return
	}
	h.add(w, r, n)
}

func (h *Handler) add(w http.ResponseWriter, r *http.Request, n notify.Notification) {
	if err := n.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	rec, err := h.notifications.Add(r.Context(), n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) clearNotifications(w http.ResponseWriter, r *http.Request) {
	if err := h.notifications.ClearAll(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	h.logger.Info("notifications cleared", slog.String("caller", auth.Subject(r.Context())))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) markAllRead(w http.ResponseWriter, r *http.Request) {
	if err := h.notifications.MarkAllAsRead(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	if err := h.notifications.MarkAsRead(r.Context(), r.PathValue("id")); err != nil {
		writeNotificationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) clickNotification(w http.ResponseWriter, r *http.Request) {
	target, err := h.notifications.Click(r.Context(), r.PathValue("id"))
	if err != nil {
		writeNotificationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NavigationResponse{Navigated: target})
}

func (h *Handler) removeNotification(w http.ResponseWriter, r *http.Request) {
	if err := h.notifications.Remove(r.Context(), r.PathValue("id")); err != nil {
		writeNotificationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) receivePush(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxPushBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to read body")
		return
	}
	rec, err := h.notifications.HandlePush(r.Context(), raw)
	switch {
	case errors.Is(err, notify.ErrInvalidPush):
		writeError(w, http.StatusBadRequest, "invalid_push", err.Error())
		return
	case err != nil && rec.ID == "":
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	case err != nil:
		h.logger.Warn("push recorded without persistence", slog.String("id", rec.ID), slog.String("error", err.Error()))
	}
	writeJSON(w, http.StatusCreated, PushResponse{Notification: rec, Alert: notify.AlertFor(rec)})
}

func (h *Handler) takeAlerts(w http.ResponseWriter, r *http.Request) {
	items := []notify.Alert{}
	if h.alerts != nil {
		items = h.alerts.Take()
	}
	writeJSON(w, http.StatusOK, ListAlertsResponse{Items: items})
}

func (h *Handler) alertAction(w http.ResponseWriter, r *http.Request) {
	var req AlertActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "id is required")
		return
	}
	target, err := h.notifications.HandleAlertAction(r.Context(), req.ID, req.Action)
	if err != nil {
		writeNotificationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NavigationResponse{Navigated: target})
}

func (h *Handler) lifecycleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.lifecycle.Status())
}

func (h *Handler) listClients(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": h.clients.List()})
}

func (h *Handler) registerClient(w http.ResponseWriter, r *http.Request) {
	var req RegisterClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	writeJSON(w, http.StatusCreated, h.clients.Register(req.URL))
}

func (h *Handler) unregisterClient(w http.ResponseWriter, r *http.Request) {
	h.clients.Unregister(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) takeNavigation(w http.ResponseWriter, r *http.Request) {
	target, ok := h.clients.TakeNavigation(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "client not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": target})
}

func writeNotificationError(w http.ResponseWriter, err error) {
	if errors.Is(err, notify.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "notification not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "server_error", err.Error())
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
