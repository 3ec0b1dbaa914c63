package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-api-notify/internal/application/dispatch"
	"github.com/go-api-notify/internal/domain"
	"github.com/go-chi/chi/v5"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, ev domain.NotificationEvent) (*dispatch.Result, error)
}

type ReminderScheduler interface {
	Schedule(ctx context.Context, r domain.ScheduledReminder) (*domain.ScheduledReminder, error)
	Cancel(ctx context.Context, reminderID string) error
}

// AdminHandler exposes the producer entry points to operators and trusted services.
type AdminHandler struct {
	dispatcher Dispatcher
	reminders  ReminderScheduler
}

func NewAdminHandler(d Dispatcher, reminders ReminderScheduler) *AdminHandler {
	return &AdminHandler{dispatcher: d, reminders: reminders}
}

// Dispatch answers 201 when a record was created, 202 when the event was
// deferred and 200 when it was suppressed.
func (h *AdminHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var ev domain.NotificationEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := h.dispatcher.Dispatch(r.Context(), ev)
	if err != nil {
		httpError(w, r, err)
		return
	}
	status := http.StatusOK
	switch res.Status {
	case domain.StatusSent, domain.StatusFailed:
		status = http.StatusCreated
	case domain.StatusDeferred:
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

func (h *AdminHandler) ScheduleReminder(w http.ResponseWriter, r *http.Request) {
	var req domain.ScheduledReminder
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rem, err := h.reminders.Schedule(r.Context(), req)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rem)
}

func (h *AdminHandler) CancelReminder(w http.ResponseWriter, r *http.Request) {
	if err := h.reminders.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "reminder cancelled"})
}
