package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/taskbell/internal/circuitbreaker"
	"github.com/lalithlochan/taskbell/internal/db"
	"github.com/lalithlochan/taskbell/internal/notify"
	"github.com/lalithlochan/taskbell/internal/realtime"
	"github.com/lalithlochan/taskbell/internal/redis"
)

// SubscriptionStore persists browser push subscriptions.
type SubscriptionStore interface {
	UpsertPushSubscription(ctx context.Context, sub *db.PushSubscription) error
	DeletePushSubscriptionByEndpoint(ctx context.Context, userID, endpoint string) error
}

// ScanTrigger starts an overdue scan pass in the background.
type ScanTrigger interface {
	Trigger() (string, error)
}

// Deps are the services behind the HTTP API. Idempotency, Scans, Breakers,
// Auth and Ready are optional.
type Deps struct {
	Notifications *notify.Service
	ReadState     *notify.ReadState
	Subscriptions SubscriptionStore
	Realtime      *realtime.Bridge
	Scans         ScanTrigger
	Breakers      *circuitbreaker.Registry
	Idempotency   *redis.IdempotencyService
	Auth          *Authenticator
	TaskResource  string
	// Ready backs /ready when set.
	Ready func(ctx context.Context) error
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger   *zap.Logger
	deps     Deps
	validate *validator.Validate
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, deps Deps) *Handler {
	if deps.TaskResource == "" {
		deps.TaskResource = "tasks"
	}
	return &Handler{
		logger:   logger,
		deps:     deps,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	writeProblem(w, status, errType, title, detail)
}

func writeProblem(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// handleError maps service errors onto problem responses.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, title string) {
	switch {
	case errors.Is(err, notify.ErrValidation):
		h.writeError(w, http.StatusBadRequest, "validation_error", title, err.Error())
	case errors.Is(err, db.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Notification not found", "")
	case errors.Is(err, db.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, "invalid_transition", title, err.Error())
	default:
		h.logger.Error(title,
			zap.Error(err),
			zap.String("path", r.URL.Path),
		)
		h.writeError(w, http.StatusInternalServerError, "internal_error", title, "")
	}
}

func (h *Handler) forbidden(w http.ResponseWriter) {
	h.writeError(w, http.StatusForbidden, "forbidden", "Forbidden", "principal cannot access this recipient")
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return false
	}
	return true
}

func (h *Handler) notificationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification ID", "ID must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// recipientFromQuery reads recipient_type/recipient_id, falling back to the
// caller's own recipient.
func (h *Handler) recipientFromQuery(w http.ResponseWriter, r *http.Request) (db.Recipient, bool) {
	q := r.URL.Query()
	kind, id := q.Get("recipient_type"), q.Get("recipient_id")
	if kind == "" && id == "" {
		if p := PrincipalFrom(r.Context()); p != nil {
			return p.Recipient(), true
		}
	}
	return h.recipient(w, r, kind, id)
}

func (h *Handler) recipientFromPath(w http.ResponseWriter, r *http.Request) (db.Recipient, bool) {
	return h.recipient(w, r, chi.URLParam(r, "recipientType"), chi.URLParam(r, "recipientID"))
}

func (h *Handler) recipient(w http.ResponseWriter, r *http.Request, kind, id string) (db.Recipient, bool) {
	k, err := db.ParseRecipientKind(kind)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid recipient type", "recipient type must be user or client")
		return db.Recipient{}, false
	}
	rec := db.Recipient{Kind: k, ID: id}
	if err := rec.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid recipient", err.Error())
		return db.Recipient{}, false
	}
	if !h.deps.Auth.CanAccess(PrincipalFrom(r.Context()), rec) {
		h.forbidden(w)
		return db.Recipient{}, false
	}
	return rec, true
}

// pagination follows the lenient parsing of the feed: invalid values fall
// back to defaults.
func pagination(r *http.Request) (limit, offset int) {
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}
