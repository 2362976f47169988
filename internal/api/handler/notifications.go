package handler

import (
	"net/http"
	"strings"

	"github.com/albapepper/breatheasy/internal/api/respond"
	"github.com/albapepper/breatheasy/internal/apperr"
	"github.com/albapepper/breatheasy/internal/notifications"
	"github.com/albapepper/breatheasy/internal/subscription"
)

type sendTestRequest struct {
	Channel string `json:"channel"`
	To      string `json:"to"`
}

// SendTestNotification sends a transport check to any recipient (admin).
// @Summary Send a test notification
// @Tags notifications
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body sendTestRequest true "Channel and recipient"
// @Success 200 {object} respond.Envelope
// @Failure 400 {object} respond.ErrorResponse
// @Failure 502 {object} respond.ErrorResponse
// @Router /api/notifications/send-test [post]
func (h *Handler) SendTestNotification(w http.ResponseWriter, r *http.Request) {
	var req sendTestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}
	if req.Channel == "" {
		req.Channel = string(notifications.ChannelEmail)
	}
	res, err := h.Dispatcher.SendTest(r.Context(), notifications.Channel(strings.ToLower(req.Channel)), strings.TrimSpace(req.To))
	if err != nil {
		h.fail(w, err)
		return
	}
	respond.OKMessage(w, http.StatusOK, "Test notification sent successfully", res)
}

// NotificationHistory lists recent notifications for a subscription (admin).
// @Summary Notification history
// @Tags notifications
// @Produce json
// @Security BearerAuth
// @Param id path string true "Subscription ID"
// @Param limit query int false "Max rows (default 20, max 100)"
// @Success 200 {object} respond.Envelope
// @Router /api/notifications/history/{id} [get]
func (h *Handler) NotificationHistory(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	limit, err := intQuery(r, "limit", 20, 1, 100)
	if err != nil {
		h.fail(w, err)
		return
	}
	ns, err := h.Notifications.History(r.Context(), id, limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	if ns == nil {
		ns = []notifications.Notification{}
	}
	respond.OK(w, http.StatusOK, map[string]any{"notifications": ns, "count": len(ns)})
}

// NotificationStats aggregates delivery outcomes (admin).
// @Summary Notification delivery statistics
// @Tags notifications
// @Produce json
// @Security BearerAuth
// @Param hours query int false "Recent window in hours (default 24, max 720)"
// @Success 200 {object} respond.Envelope
// @Router /api/notifications/stats [get]
func (h *Handler) NotificationStats(w http.ResponseWriter, r *http.Request) {
	hours, err := intQuery(r, "hours", 24, 1, 720)
	if err != nil {
		h.fail(w, err)
		return
	}
	since := h.now().Add(-hoursDuration(hours))
	st, err := h.Notifications.Stats(r.Context(), since)
	if err != nil {
		h.fail(w, err)
		return
	}
	respond.OK(w, http.StatusOK, map[string]any{"since": since, "stats": st})
}

// RetryFailed re-sends failed notifications that have attempts left (admin).
// @Summary Retry failed notifications
// @Tags notifications
// @Produce json
// @Security BearerAuth
// @Success 200 {object} respond.Envelope
// @Router /api/notifications/retry-failed [post]
func (h *Handler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Dispatcher.RetryFailed(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	h.Logger.Info("Manual retry of failed notifications", "attempted", sum.Attempted, "sent", sum.Sent)
	respond.OK(w, http.StatusOK, sum)
}

// Templates lists the notification templates (admin).
// @Summary Notification templates
// @Tags notifications
// @Produce json
// @Security BearerAuth
// @Success 200 {object} respond.Envelope
// @Router /api/notifications/templates [get]
func (h *Handler) Templates(w http.ResponseWriter, r *http.Request) {
	respond.OK(w, http.StatusOK, map[string]any{"templates": notifications.Templates()})
}

type broadcastRequest struct {
	Subject string `json:"subject"`
	Message string `json:"message"`
	Filters struct {
		Location     string `json:"location"`
		AQIThreshold int    `json:"aqiThreshold"`
	} `json:"filters"`
}

// Broadcast emails an announcement to active, verified subscribers (admin).
// @Summary Broadcast an announcement
// @Tags notifications
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body broadcastRequest true "Announcement"
// @Success 200 {object} respond.Envelope
// @Failure 400 {object} respond.ErrorResponse
// @Router /api/notifications/broadcast [post]
func (h *Handler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}
	active, verified := true, true
	sum, err := h.Dispatcher.Broadcast(r.Context(), subscription.ListFilter{
		Active:       &active,
		Verified:     &verified,
		Location:     req.Filters.Location,
		MinThreshold: req.Filters.AQIThreshold,
	}, strings.TrimSpace(req.Subject), strings.TrimSpace(req.Message))
	if err != nil {
		h.fail(w, err)
		return
	}
	respond.OK(w, http.StatusOK, sum)
}

type deliveryCallbackRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// DeliveryCallback records a provider delivery report (internal API key).
// @Summary Provider delivery callback
// @Tags notifications
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Notification ID"
// @Param body body deliveryCallbackRequest true "Event"
// @Success 200 {object} respond.Envelope
// @Failure 400 {object} respond.ErrorResponse
// @Failure 404 {object} respond.ErrorResponse
// @Router /api/notifications/{id}/delivery [post]
func (h *Handler) DeliveryCallback(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	var req deliveryCallbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}
	if req.Status == "" {
		h.fail(w, apperr.Invalid("status", "is required"))
		return
	}
	n, err := h.Dispatcher.ApplyCallback(r.Context(), id, notifications.CallbackEvent(strings.ToLower(req.Status)), req.Reason)
	if err != nil {
		h.fail(w, err)
		return
	}
	respond.OK(w, http.StatusOK, map[string]any{
		"id":       n.ID,
		"delivery": n.Delivery,
	})
}
