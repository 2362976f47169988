package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/albapepper/breatheasy/internal/api/respond"
	"github.com/albapepper/breatheasy/internal/apperr"
	"github.com/albapepper/breatheasy/internal/subscription"
)

// SubscriptionView is the public summary of a subscription.
type SubscriptionView struct {
	ID                uuid.UUID              `json:"id"`
	Email             string                 `json:"email"`
	Location          string                 `json:"location"`
	Latitude          *float64               `json:"latitude,omitempty"`
	Longitude         *float64               `json:"longitude,omitempty"`
	AQIThreshold      int                    `json:"aqiThreshold"`
	Notifications     subscription.Channels  `json:"notifications"`
	NotificationTime  subscription.Window    `json:"notificationTime"`
	IsActive          bool                   `json:"isActive"`
	IsVerified        bool                   `json:"isVerified"`
	LastNotified      *time.Time             `json:"lastNotified"`
	NotificationCount int                    `json:"notificationCount"`
	CreatedAt         time.Time              `json:"createdAt"`
}

func viewOf(s *subscription.Subscription) SubscriptionView {
	return SubscriptionView{
		ID:                s.ID,
		Email:             s.Email,
		Location:          s.Location.FullName(),
		Latitude:          s.Location.Latitude,
		Longitude:         s.Location.Longitude,
		AQIThreshold:      s.Preferences.AQIThreshold,
		Notifications:     s.Preferences.Notifications,
		NotificationTime:  s.Preferences.NotificationTime,
		IsActive:          s.Status.IsActive,
		IsVerified:        s.Status.IsVerified,
		LastNotified:      s.Status.LastNotified,
		NotificationCount: s.Status.NotificationCount,
		CreatedAt:         s.CreatedAt,
	}
}

// Pagination describes a page of a listing.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

func paginate(page, limit, total int) Pagination {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Pagination{Page: page, Limit: limit, Total: total, Pages: pages}
}

// Subscribe creates a subscription or updates the one registered for the
// same email.
// @Summary Subscribe to AQI alerts
// @Description Creates a subscription (201) or updates and reactivates the existing one for the email (200). New subscriptions receive a verification email and are not alerted until verified.
// @Tags subscriptions
// @Accept json
// @Produce json
// @Param body body subscription.Input true "Subscription"
// @Success 200 {object} respond.Envelope
// @Success 201 {object} respond.Envelope
// @Failure 400 {object} respond.ErrorResponse
// @Router /api/subscriptions/subscribe [post]
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var in subscription.Input
	if err := decodeJSON(w, r, &in); err != nil {
		h.fail(w, err)
		return
	}
	if err := in.Validate(); err != nil {
		h.fail(w, err)
		return
	}
	h.resolveLocation(r.Context(), in.Location)
	if in.Source == "" {
		in.Source = "web"
	}

	saved, created, err := h.Subscriptions.Subscribe(r.Context(), subscription.New(&in, h.now()))
	if err != nil {
		h.fail(w, err)
		return
	}

	if !saved.Status.IsVerified && saved.VerificationToken != "" {
		if _, err := h.Dispatcher.SendVerification(r.Context(), saved); err != nil {
			h.Logger.Warn("Verification email failed", "subscription_id", saved.ID, "error", err)
		}
	}

	data := map[string]any{"subscription": viewOf(saved)}
	if created {
		h.Logger.Info("Subscription created", "subscription_id", saved.ID, "location", saved.Location.Name)
		respond.OKMessage(w, http.StatusCreated, "Successfully subscribed to AQI notifications", data)
		return
	}
	h.Logger.Info("Subscription updated", "subscription_id", saved.ID, "location", saved.Location.Name)
	respond.OKMessage(w, http.StatusOK, "Subscription updated successfully", data)
}

// resolveLocation fills coordinates and place names from the geocoder when
// the client sent only a name. Failure is tolerated; the evaluator geocodes
// again at check time.
func (h *Handler) resolveLocation(ctx context.Context, loc *subscription.LocationInput) {
	if loc == nil || h.Geocoder == nil || (loc.Latitude != nil && loc.Longitude != nil) {
		return
	}
	place, err := h.Geocoder.Resolve(ctx, loc.Name)
	if err != nil {
		h.Logger.Warn("Geocoding failed", "location", loc.Name, "error", err)
		return
	}
	loc.Latitude, loc.Longitude = &place.Latitude, &place.Longitude
	if loc.City == "" {
		loc.City = place.Name
	}
	if loc.State == "" {
		loc.State = place.State
	}
	if loc.Country == "" {
		loc.Country = place.Country
	}
}

// SubscriptionStatus reports the active subscription for an email.
// @Summary Subscription status by email
// @Tags subscriptions
// @Produce json
// @Param email path string true "Email"
// @Success 200 {object} respond.Envelope
// @Failure 404 {object} respond.ErrorResponse
// @Router /api/subscriptions/status/{email} [get]
func (h *Handler) SubscriptionStatus(w http.ResponseWriter, r *http.Request) {
	sub, err := h.Subscriptions.GetByEmail(r.Context(), chi.URLParam(r, "email"))
	if err == nil && !sub.Status.IsActive {
		err = apperr.ErrNotFound
	}
	if err != nil {
		if apperr.Code(err) == "NOT_FOUND" {
			respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", "No active subscription found")
			return
		}
		h.fail(w, err)
		return
	}
	respond.OK(w, http.StatusOK, map[string]any{
		"subscribed":   true,
		"subscription": viewOf(sub),
	})
}

// VerifySubscription confirms an email address from the link in the
// verification email.
// @Summary Verify a subscription
// @Tags subscriptions
// @Produce json
// @Param token path string true "Verification token"
// @Success 200 {object} respond.Envelope
// @Failure 404 {object} respond.ErrorResponse
// @Router /api/subscriptions/verify/{token} [get]
func (h *Handler) VerifySubscription(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if _, err := uuid.Parse(token); err != nil {
		h.fail(w, apperr.Invalid("token", "is malformed"))
		return
	}
	sub, err := h.Subscriptions.Verify(r.Context(), token)
	if err != nil {
		h.fail(w, err)
		return
	}
	if _, err := h.Dispatcher.SendWelcome(r.Context(), sub); err != nil {
		h.Logger.Warn("Welcome email failed", "subscription_id", sub.ID, "error", err)
	}
	h.Logger.Info("Subscription verified", "subscription_id", sub.ID)
	respond.OKMessage(w, http.StatusOK, "Subscription verified", map[string]any{"subscription": viewOf(sub)})
}

// UpdateSubscription changes location and preferences. Fields left out of
// the body keep their current values; the email cannot be changed.
// @Summary Update subscription preferences
// @Tags subscriptions
// @Accept json
// @Produce json
// @Param id path string true "Subscription ID"
// @Param body body subscription.Input true "Changes"
// @Success 200 {object} respond.Envelope
// @Failure 400 {object} respond.ErrorResponse
// @Failure 404 {object} respond.ErrorResponse
// @Router /api/subscriptions/{id} [put]
func (h *Handler) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	var in subscription.Input
	if err := decodeJSON(w, r, &in); err != nil {
		h.fail(w, err)
		return
	}

	sub, err := h.Subscriptions.Get(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}

	in.Email = sub.Email
	if in.Mobile == "" {
		in.Mobile = sub.Mobile
	}
	moved := in.Location != nil && !strings.EqualFold(strings.TrimSpace(in.Location.Name), sub.Location.Name)
	if in.Location == nil {
		in.Location = &subscription.LocationInput{
			Name:      sub.Location.Name,
			Latitude:  sub.Location.Latitude,
			Longitude: sub.Location.Longitude,
			Timezone:  sub.Location.Timezone,
			Country:   sub.Location.Country,
			State:     sub.Location.State,
			City:      sub.Location.City,
		}
	} else if in.Location.Timezone == "" {
		in.Location.Timezone = sub.Location.Timezone
	}
	if err := in.Validate(); err != nil {
		h.fail(w, err)
		return
	}
	if moved {
		h.resolveLocation(r.Context(), in.Location)
	}

	in.Apply(sub)
	updated, err := h.Subscriptions.Update(r.Context(), sub)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.Logger.Info("Subscription preferences updated", "subscription_id", id)
	respond.OKMessage(w, http.StatusOK, "Subscription updated successfully", map[string]any{"subscription": viewOf(updated)})
}

// Unsubscribe deactivates a subscription by id.
// @Summary Unsubscribe by id
// @Tags subscriptions
// @Produce json
// @Param id path string true "Subscription ID"
// @Success 200 {object} respond.Envelope
// @Failure 404 {object} respond.ErrorResponse
// @Router /api/subscriptions/{id}/unsubscribe [post]
func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	sub, err := h.Subscriptions.Unsubscribe(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.Logger.Info("Unsubscribed", "subscription_id", sub.ID)
	respond.OKMessage(w, http.StatusOK, "Successfully unsubscribed from notifications", nil)
}

type unsubscribeRequest struct {
	Email string `json:"email"`
}

// UnsubscribeByEmail deactivates a subscription by email.
// @Summary Unsubscribe by email
// @Tags subscriptions
// @Accept json
// @Produce json
// @Param body body unsubscribeRequest true "Email"
// @Success 200 {object} respond.Envelope
// @Failure 400 {object} respond.ErrorResponse
// @Failure 404 {object} respond.ErrorResponse
// @Router /api/subscriptions/unsubscribe [post]
func (h *Handler) UnsubscribeByEmail(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		h.fail(w, apperr.Invalid("email", "is required"))
		return
	}
	sub, err := h.Subscriptions.UnsubscribeByEmail(r.Context(), req.Email)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.Logger.Info("Unsubscribed", "subscription_id", sub.ID)
	respond.OKMessage(w, http.StatusOK, "Successfully unsubscribed from notifications", nil)
}

// ListSubscriptions returns a filtered page of subscriptions (admin).
// @Summary List subscriptions
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page (1-based)"
// @Param limit query int false "Page size (max 100)"
// @Param active query bool false "Filter by active"
// @Param verified query bool false "Filter by verified"
// @Param location query string false "Location name contains"
// @Success 200 {object} respond.Envelope
// @Router /api/admin/subscriptions [get]
func (h *Handler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	page, err := intQuery(r, "page", 1, 1, 1<<20)
	if err != nil {
		h.fail(w, err)
		return
	}
	limit, err := intQuery(r, "limit", 10, 1, 100)
	if err != nil {
		h.fail(w, err)
		return
	}
	active, err := boolQuery(r, "active")
	if err != nil {
		h.fail(w, err)
		return
	}
	verified, err := boolQuery(r, "verified")
	if err != nil {
		h.fail(w, err)
		return
	}

	subs, total, err := h.Subscriptions.List(r.Context(), subscription.ListFilter{
		Active:   active,
		Verified: verified,
		Location: r.URL.Query().Get("location"),
		Limit:    limit,
		Offset:   (page - 1) * limit,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	if subs == nil {
		subs = []subscription.Subscription{}
	}
	respond.OK(w, http.StatusOK, map[string]any{
		"subscriptions": subs,
		"pagination":    paginate(page, limit, total),
	})
}
