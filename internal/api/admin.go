package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/taskbell/internal/scanner"
)

// requirePrivileged guards operator endpoints.
func (h *Handler) requirePrivileged(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.deps.Auth.Privileged(PrincipalFrom(r.Context())) {
			h.writeError(w, http.StatusForbidden, "forbidden", "Forbidden", "operator role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// TriggerScan handles POST /v1/admin/scans
func (h *Handler) TriggerScan(w http.ResponseWriter, r *http.Request) {
	if h.deps.Scans == nil {
		h.writeError(w, http.StatusServiceUnavailable, "unavailable", "Scanner disabled", "")
		return
	}

	passID, err := h.deps.Scans.Trigger()
	if errors.Is(err, scanner.ErrPassRunning) {
		h.writeError(w, http.StatusConflict, "scan_running", "Scan already running", err.Error())
		return
	}
	if err != nil {
		h.handleError(w, r, err, "Failed to start scan")
		return
	}

	h.logger.Info("overdue scan triggered", zap.String("pass_id", passID))
	h.writeJSON(w, http.StatusAccepted, map[string]string{"pass_id": passID})
}

// ListBreakers handles GET /v1/admin/breakers
func (h *Handler) ListBreakers(w http.ResponseWriter, r *http.Request) {
	if h.deps.Breakers == nil {
		h.writeJSON(w, http.StatusOK, map[string]any{"breakers": []any{}})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"breakers": h.deps.Breakers.Stats()})
}

// ResetBreaker handles POST /v1/admin/breakers/{name}/reset
func (h *Handler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if h.deps.Breakers == nil {
		h.writeError(w, http.StatusNotFound, "not_found", "Breaker not found", name)
		return
	}
	cb, ok := h.deps.Breakers.Get(name)
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "Breaker not found", name)
		return
	}

	cb.Reset()
	h.logger.Warn("circuit breaker reset", zap.String("breaker", name))
	h.writeJSON(w, http.StatusOK, cb.Stats())
}

// Ready handles GET /ready
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.deps.Ready != nil {
		if err := h.deps.Ready(r.Context()); err != nil {
			h.logger.Warn("readiness check failed", zap.Error(err))
			h.writeError(w, http.StatusServiceUnavailable, "unavailable", "Not ready", err.Error())
			return
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
