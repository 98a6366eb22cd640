package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/lalithlochan/taskbell/internal/db"
)

// SubscribeRequest mirrors the browser PushSubscription JSON.
type SubscribeRequest struct {
	UserID       string `json:"user_id" validate:"required"`
	Subscription struct {
		Endpoint string `json:"endpoint" validate:"required,url"`
		Keys     struct {
			P256dh string `json:"p256dh" validate:"required"`
			Auth   string `json:"auth" validate:"required"`
		} `json:"keys"`
	} `json:"subscription"`
}

type UnsubscribeRequest struct {
	UserID   string `json:"user_id" validate:"required"`
	Endpoint string `json:"endpoint" validate:"required"`
}

// Subscribe handles POST /v1/push-subscriptions
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_error", "Invalid subscription", err.Error())
		return
	}
	if !h.deps.Auth.CanAccess(PrincipalFrom(r.Context()), db.UserRecipient(req.UserID)) {
		h.forbidden(w)
		return
	}

	sub := &db.PushSubscription{
		UserID:    req.UserID,
		Endpoint:  req.Subscription.Endpoint,
		P256dh:    req.Subscription.Keys.P256dh,
		Auth:      req.Subscription.Keys.Auth,
		UserAgent: r.UserAgent(),
	}
	if err := h.deps.Subscriptions.UpsertPushSubscription(r.Context(), sub); err != nil {
		h.handleError(w, r, err, "Failed to save push subscription")
		return
	}

	h.logger.Info("push subscription saved",
		zap.String("user_id", req.UserID),
		zap.String("subscription_id", sub.ID.String()),
	)
	h.writeJSON(w, http.StatusCreated, map[string]any{
		"id":      sub.ID,
		"success": true,
	})
}

// Unsubscribe handles DELETE /v1/push-subscriptions
func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req UnsubscribeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_error", "Invalid request", err.Error())
		return
	}
	if !h.deps.Auth.CanAccess(PrincipalFrom(r.Context()), db.UserRecipient(req.UserID)) {
		h.forbidden(w)
		return
	}

	err := h.deps.Subscriptions.DeletePushSubscriptionByEndpoint(r.Context(), req.UserID, req.Endpoint)
	if errors.Is(err, db.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Subscription not found", "")
		return
	}
	if err != nil {
		h.handleError(w, r, err, "Failed to delete push subscription")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
