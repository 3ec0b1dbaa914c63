package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-api-notify/internal/application/push"
	"github.com/go-api-notify/internal/domain"
	"github.com/go-api-notify/internal/transport/http/middleware"
)

// PushHandler manages the caller's push subscriptions.
type PushHandler struct {
	svc            push.Service
	vapidPublicKey string
}

func NewPushHandler(svc push.Service, vapidPublicKey string) *PushHandler {
	return &PushHandler{svc: svc, vapidPublicKey: vapidPublicKey}
}

func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req domain.SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sub, err := h.svc.Subscribe(r.Context(), claims.UserID, req)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req domain.UnsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.svc.Unsubscribe(r.Context(), claims.UserID, req.Endpoint); err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "unsubscribed"})
}

func (h *PushHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	subs, err := h.svc.ListForRecipient(r.Context(), claims.UserID)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

// PublicKey exposes the VAPID application server key browsers need to subscribe.
func (h *PushHandler) PublicKey(w http.ResponseWriter, _ *http.Request) {
	if h.vapidPublicKey == "" {
		writeError(w, http.StatusNotFound, "web push is not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"public_key": h.vapidPublicKey})
}
