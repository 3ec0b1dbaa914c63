package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) bool
}

// HealthHandler handles health-check endpoints.
type HealthHandler struct {
	cache Pinger
}

func NewHealthHandler(cache Pinger) *HealthHandler { return &HealthHandler{cache: cache} }

func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	switch chi.URLParam(r, "action") {
	case "ping":
		writeJSON(w, http.StatusOK, MessageEnvelope{Message: "pong"})
	case "ready":
		h.ready(w, r)
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
	}
}

// ready answers 200 even without the cache; the message says degraded.
func (h *HealthHandler) ready(w http.ResponseWriter, r *http.Request) {
	if h.cache != nil && !h.cache.Ping(r.Context()) {
		writeJSON(w, http.StatusOK, MessageEnvelope{Message: "degraded: cache unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "ready"})
}
