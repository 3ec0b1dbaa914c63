package handler

import (
	"net/http"

	"github.com/go-api-notify/internal/transport/http/middleware"
)

// SocketServer upgrades an authenticated request to a realtime connection.
type SocketServer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, recipientID string)
}

type RealtimeHandler struct {
	hub SocketServer
}

func NewRealtimeHandler(hub SocketServer) *RealtimeHandler {
	return &RealtimeHandler{hub: hub}
}

func (h *RealtimeHandler) Connect(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	h.hub.ServeWS(w, r, claims.UserID)
}
