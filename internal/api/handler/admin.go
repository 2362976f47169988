package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/albapepper/breatheasy/internal/api/auth"
	"github.com/albapepper/breatheasy/internal/api/respond"
	"github.com/albapepper/breatheasy/internal/apperr"
	"github.com/albapepper/breatheasy/internal/scheduler"
)

func hoursDuration(h int) time.Duration { return time.Duration(h) * time.Hour }

// Dashboard summarizes subscriptions, deliveries and jobs (admin).
// @Summary Admin dashboard
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} respond.Envelope
// @Router /api/admin/dashboard [get]
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	subs, err := h.Subscriptions.Stats(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	notes, err := h.Notifications.Stats(r.Context(), h.now().Add(-24*time.Hour))
	if err != nil {
		h.fail(w, err)
		return
	}

	verificationRate := 0.0
	if subs.Total > 0 {
		verificationRate = float64(subs.Verified) / float64(subs.Total) * 100
	}
	data := map[string]any{
		"subscriptions": map[string]any{
			"total":            subs.Total,
			"active":           subs.Active,
			"verified":         subs.Verified,
			"inactive":         subs.Inactive,
			"notifiedLast24h":  subs.NotifiedLast24h,
			"averageThreshold": subs.AverageThreshold,
			"verificationRate": verificationRate,
		},
		"notifications": notes,
		"cache":         h.Cache.Stats(),
		"aqiSources":    h.AQI.SourceNames(),
	}
	if h.Jobs != nil {
		data["jobs"] = h.Jobs.Status()
	}
	respond.OK(w, http.StatusOK, data)
}

type statusRequest struct {
	IsActive   *bool `json:"isActive"`
	IsVerified *bool `json:"isVerified"`
}

// SetSubscriptionStatus toggles active and verified flags (admin).
// @Summary Update subscription status
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Subscription ID"
// @Param body body statusRequest true "Flags"
// @Success 200 {object} respond.Envelope
// @Failure 400 {object} respond.ErrorResponse
// @Failure 404 {object} respond.ErrorResponse
// @Router /api/admin/subscriptions/{id}/status [put]
func (h *Handler) SetSubscriptionStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}
	if req.IsActive == nil && req.IsVerified == nil {
		h.fail(w, apperr.Invalid("body", "isActive or isVerified is required"))
		return
	}

	sub, err := h.Subscriptions.Get(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	if req.IsActive != nil {
		if sub, err = h.Subscriptions.SetActive(r.Context(), id, *req.IsActive); err != nil {
			h.fail(w, err)
			return
		}
	}
	if req.IsVerified != nil {
		if sub, err = h.Subscriptions.SetVerified(r.Context(), id, *req.IsVerified); err != nil {
			h.fail(w, err)
			return
		}
	}

	h.Logger.Info("Subscription status changed by admin", "subscription_id", id, "admin", adminName(r))
	respond.OKMessage(w, http.StatusOK, "Subscription status updated successfully", map[string]any{
		"subscriptionId": sub.ID,
		"email":          sub.Email,
		"status":         sub.Status,
	})
}

// DeleteSubscription removes a subscription and its notifications (admin).
// @Summary Delete a subscription
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "Subscription ID"
// @Success 200 {object} respond.Envelope
// @Failure 404 {object} respond.ErrorResponse
// @Router /api/admin/subscriptions/{id} [delete]
func (h *Handler) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	if err := h.Subscriptions.Delete(r.Context(), id); err != nil {
		h.fail(w, err)
		return
	}
	h.Logger.Info("Subscription deleted by admin", "subscription_id", id, "admin", adminName(r))
	respond.OKMessage(w, http.StatusOK, "Subscription and associated data deleted successfully", nil)
}

// SystemHealth runs the dependency health check and adds process details (admin).
// @Summary System health
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} respond.Envelope
// @Router /api/admin/system-health [get]
func (h *Handler) SystemHealth(w http.ResponseWriter, r *http.Request) {
	rep := h.Maintenance.HealthCheck(r.Context())
	uptime := time.Since(h.started)
	data := map[string]any{
		"report": rep,
		"uptime": map[string]any{
			"seconds": int64(uptime.Seconds()),
			"started": h.started.UTC(),
		},
		"memory": memoryStats(),
	}
	if h.Jobs != nil {
		data["jobs"] = h.Jobs.Status()
	}
	respond.OK(w, http.StatusOK, data)
}

// RunCleanup purges stale notifications and subscriptions now (admin).
// @Summary Run retention cleanup
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} respond.Envelope
// @Router /api/admin/maintenance/cleanup [post]
func (h *Handler) RunCleanup(w http.ResponseWriter, r *http.Request) {
	res, err := h.Maintenance.Cleanup(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	h.Logger.Info("Cleanup run by admin", "admin", adminName(r))
	respond.OKMessage(w, http.StatusOK, "Cleanup completed", res)
}

// ListJobs reports the background scheduler (admin).
// @Summary Background jobs
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} respond.Envelope
// @Router /api/admin/jobs [get]
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	var jobs []scheduler.Status
	if h.Jobs != nil {
		jobs = h.Jobs.Status()
	}
	if jobs == nil {
		jobs = []scheduler.Status{}
	}
	respond.OK(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// TriggerJob runs a background job once and waits for it (admin).
// @Summary Trigger a background job
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param name path string true "Job name"
// @Success 200 {object} respond.Envelope
// @Failure 404 {object} respond.ErrorResponse
// @Failure 409 {object} respond.ErrorResponse
// @Failure 503 {object} respond.ErrorResponse
// @Router /api/admin/jobs/{name}/trigger [post]
func (h *Handler) TriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if h.Jobs == nil {
		respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", "No scheduler configured")
		return
	}
	err := h.Jobs.Trigger(r.Context(), name)
	switch {
	case errors.Is(err, scheduler.ErrUnknownJob):
		respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	case errors.Is(err, scheduler.ErrJobBusy):
		respond.WriteError(w, http.StatusConflict, "JOB_BUSY", err.Error())
		return
	case errors.Is(err, scheduler.ErrStopping):
		respond.WriteError(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", err.Error())
		return
	case err != nil:
		respond.WriteError(w, http.StatusInternalServerError, "JOB_FAILED", err.Error())
		return
	}
	respond.OKMessage(w, http.StatusOK, "Job completed", map[string]any{"job": name})
}

func adminName(r *http.Request) string {
	if c, ok := auth.FromContext(r.Context()); ok {
		if c.Email != "" {
			return c.Email
		}
		return c.Subject
	}
	return ""
}
