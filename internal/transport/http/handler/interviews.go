package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-api-notify/internal/domain"
)

// InterviewHandler answers whether a video interview room can be joined yet.
type InterviewHandler struct {
	joinBefore      time.Duration
	defaultDuration time.Duration
	now             func() time.Time
}

func NewInterviewHandler(joinBefore, defaultDuration time.Duration) *InterviewHandler {
	return &InterviewHandler{joinBefore: joinBefore, defaultDuration: defaultDuration, now: time.Now}
}

// JoinStatus reads scheduled_at (RFC 3339) and an optional duration in minutes.
func (h *InterviewHandler) JoinStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scheduled, err := time.Parse(time.RFC3339, q.Get("scheduled_at"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "scheduled_at must be an RFC 3339 timestamp")
		return
	}
	duration := h.defaultDuration
	if raw := q.Get("duration"); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes <= 0 {
			writeError(w, http.StatusBadRequest, "duration must be a positive number of minutes")
			return
		}
		duration = time.Duration(minutes) * time.Minute
	}
	phase := domain.JoinPhaseAt(h.now(), scheduled, h.joinBefore, duration)
	writeJSON(w, http.StatusOK, JoinStatusEnvelope{Phase: phase, CanJoin: phase.CanJoin()})
}
