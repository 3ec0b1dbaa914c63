package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-api-notify/internal/domain"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode int    `json:"error_code,omitempty"`
}

// NotificationPageEnvelope wraps paginated notification list responses.
type NotificationPageEnvelope struct {
	Data        []domain.Notification `json:"data"`
	Total       int                   `json:"total"`
	Page        int                   `json:"page"`
	Limit       int                   `json:"limit"`
	TotalPages  int                   `json:"total_pages"`
	HasNextPage bool                  `json:"has_next_page"`
	HasPrevPage bool                  `json:"has_prev_page"`
}

func toPageEnvelope(p *domain.NotificationPage) NotificationPageEnvelope {
	items := p.Items
	if items == nil {
		items = []domain.Notification{}
	}
	return NotificationPageEnvelope{
		Data:        items,
		Total:       p.Total,
		Page:        p.Page,
		Limit:       p.Limit,
		TotalPages:  p.TotalPages(),
		HasNextPage: p.HasNextPage(),
		HasPrevPage: p.HasPrevPage(),
	}
}

type UnreadCountEnvelope struct {
	UnreadCount int `json:"unread_count"`
}

type MarkAllReadEnvelope struct {
	Updated int `json:"updated"`
}

type JoinStatusEnvelope struct {
	Phase   domain.JoinPhase `json:"phase"`
	CanJoin bool             `json:"can_join"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg})
}
