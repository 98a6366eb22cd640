package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/taskbell/internal/db"
	"github.com/lalithlochan/taskbell/internal/notify"
	"github.com/lalithlochan/taskbell/internal/redis"
)

// CreateNotificationRequest is the body of POST /v1/notifications.
// Exactly one recipient id must be set.
type CreateNotificationRequest struct {
	Type              db.NotificationType `json:"type"`
	Message           string              `json:"message"`
	RecipientUserID   string              `json:"recipient_user_id,omitempty"`
	RecipientClientID string              `json:"recipient_client_id,omitempty"`
	Data              json.RawMessage     `json:"data,omitempty"`
}

func (req CreateNotificationRequest) recipient() (db.Recipient, error) {
	switch {
	case req.RecipientUserID != "" && req.RecipientClientID != "":
		return db.Recipient{}, errors.New("set only one of recipient_user_id and recipient_client_id")
	case req.RecipientUserID != "":
		return db.UserRecipient(req.RecipientUserID), nil
	case req.RecipientClientID != "":
		return db.ClientRecipient(req.RecipientClientID), nil
	}
	return db.Recipient{}, errors.New("recipient_user_id or recipient_client_id is required")
}

// CreateNotification handles POST /v1/notifications
// Supports idempotency via the Idempotency-Key header.
func (h *Handler) CreateNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := PrincipalFrom(ctx)

	if !h.deps.Auth.Privileged(principal) {
		h.writeError(w, http.StatusForbidden, "forbidden", "Forbidden", "creating notifications requires a privileged role")
		return
	}

	var req CreateNotificationRequest
	if !h.decode(w, r, &req) {
		return
	}

	recipient, err := req.recipient()
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid recipient", err.Error())
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")
	scope := "anonymous"
	if principal != nil {
		scope = principal.Recipient().Key()
	}
	idem := h.deps.Idempotency
	if idempotencyKey == "" {
		idem = nil
	}

	if idem != nil {
		cached, err := idem.CheckOrReserve(ctx, scope, idempotencyKey)
		switch {
		case errors.Is(err, redis.ErrDuplicateRequest):
			h.writeError(w, http.StatusConflict, "duplicate_request",
				"Request is already being processed",
				"Another request with this idempotency key is in progress")
			return
		case err != nil:
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
			idem = nil
		case cached != nil:
			h.replay(w, r, cached)
			return
		}
	}

	delivery, err := h.deps.Notifications.CreateAndDeliver(ctx, notify.CreateInput{
		Type:      req.Type,
		Message:   req.Message,
		Recipient: recipient,
		Data:      req.Data,
	})
	if err != nil {
		if idem != nil {
			if rerr := idem.Release(ctx, scope, idempotencyKey); rerr != nil {
				h.logger.Warn("failed to release idempotency key", zap.Error(rerr))
			}
		}
		h.handleError(w, r, err, "Failed to create notification")
		return
	}

	notif := delivery.Notification
	fields := []zap.Field{
		zap.String("id", notif.ID.String()),
		zap.String("type", string(notif.Type)),
		zap.String("recipient", recipient.Key()),
	}
	for _, res := range delivery.Results {
		fields = append(fields, zap.String("channel_"+res.Channel, string(res.Outcome)))
	}
	h.logger.Info("notification created", fields...)

	if idem != nil {
		result := &redis.IdempotencyResult{
			NotificationID: notif.ID.String(),
			StatusCode:     http.StatusCreated,
			CreatedAt:      notif.CreatedAt.Unix(),
		}
		if err := idem.Store(ctx, scope, idempotencyKey, result, redis.IdempotencyTTLExact); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		}
	}

	h.writeJSON(w, http.StatusCreated, notif)
}

func (h *Handler) replay(w http.ResponseWriter, r *http.Request, cached *redis.IdempotencyResult) {
	id, err := uuid.Parse(cached.NotificationID)
	if err != nil {
		h.handleError(w, r, err, "Failed to replay request")
		return
	}
	notif, err := h.deps.ReadState.Get(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err, "Failed to replay request")
		return
	}
	w.Header().Set("X-Idempotency-Replayed", "true")
	h.writeJSON(w, cached.StatusCode, notif)
}

// ListNotifications handles GET /v1/notifications?recipient_type=user&recipient_id=42&status=unread
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	recipient, ok := h.recipientFromQuery(w, r)
	if !ok {
		return
	}

	filter := db.ListFilter{}
	filter.Limit, filter.Offset = pagination(r)
	if s := r.URL.Query().Get("status"); s != "" {
		status := db.Status(s)
		filter.Status = &status
	}

	feed, err := h.deps.ReadState.Feed(r.Context(), recipient, filter)
	if err != nil {
		h.handleError(w, r, err, "Failed to list notifications")
		return
	}

	h.logger.Debug("notifications listed",
		zap.String("recipient", recipient.Key()),
		zap.Int("count", len(feed.Notifications)),
		zap.Int("limit", feed.Limit),
		zap.Int("offset", feed.Offset),
	)
	h.writeJSON(w, http.StatusOK, feed)
}

// GetNotification handles GET /v1/notifications/{id}
func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	notif, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, notif)
}

// MarkRead handles PATCH /v1/notifications/{id}/read
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	notif, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	view, err := h.deps.ReadState.MarkAsRead(r.Context(), notif.ID)
	if err != nil {
		h.handleError(w, r, err, "Failed to mark notification read")
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// Archive handles PATCH /v1/notifications/{id}/archive
func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	notif, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	view, err := h.deps.ReadState.Archive(r.Context(), notif.ID)
	if err != nil {
		h.handleError(w, r, err, "Failed to archive notification")
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// MarkAllRead handles PATCH /v1/recipients/{recipientType}/{recipientID}/read-all
func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	recipient, ok := h.recipientFromPath(w, r)
	if !ok {
		return
	}

	updated, err := h.deps.ReadState.MarkAllAsRead(r.Context(), recipient)
	if err != nil {
		h.handleError(w, r, err, "Failed to mark notifications read")
		return
	}

	h.logger.Info("notifications marked read",
		zap.String("recipient", recipient.Key()),
		zap.Int64("updated", updated),
	)
	h.writeJSON(w, http.StatusOK, map[string]int64{"updated_count": updated})
}

// UnreadCount handles GET /v1/recipients/{recipientType}/{recipientID}/unread-count
func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	recipient, ok := h.recipientFromPath(w, r)
	if !ok {
		return
	}

	n, err := h.deps.ReadState.UnreadCount(r.Context(), recipient)
	if err != nil {
		h.handleError(w, r, err, "Failed to count unread notifications")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"unread_count": n})
}

// loadOwned fetches the notification in the URL and checks the caller may
// see it. Foreign notifications are reported as missing.
func (h *Handler) loadOwned(w http.ResponseWriter, r *http.Request) (*db.Notification, bool) {
	id, ok := h.notificationID(w, r)
	if !ok {
		return nil, false
	}

	notif, err := h.deps.ReadState.Get(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err, "Failed to load notification")
		return nil, false
	}
	if !h.deps.Auth.CanAccess(PrincipalFrom(r.Context()), notif.Recipient()) {
		h.writeError(w, http.StatusNotFound, "not_found", "Notification not found", "")
		return nil, false
	}
	return notif, true
}
