package api

import "net/http"

// Stream handles GET /v1/stream
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	recipient, ok := h.recipientFromQuery(w, r)
	if !ok {
		return
	}
	h.deps.Realtime.ServeSSE(w, r, recipient.Key())
}

// WebSocket handles GET /v1/ws
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	recipient, ok := h.recipientFromQuery(w, r)
	if !ok {
		return
	}
	h.deps.Realtime.ServeWS(w, r, recipient.Key())
}
