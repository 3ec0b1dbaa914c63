package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-api-notify/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mock ---

type mockNotificationSvc struct{ mock.Mock }

func (m *mockNotificationSvc) List(ctx context.Context, recipientID string, q domain.PageQuery) (*domain.NotificationPage, error) {
	args := m.Called(ctx, recipientID, q)
	if p, _ := args.Get(0).(*domain.NotificationPage); p != nil {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockNotificationSvc) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	args := m.Called(ctx, recipientID)
	return args.Int(0), args.Error(1)
}

func (m *mockNotificationSvc) MarkRead(ctx context.Context, recipientID, notificationID string) (*domain.Notification, error) {
	args := m.Called(ctx, recipientID, notificationID)
	if n, _ := args.Get(0).(*domain.Notification); n != nil {
		return n, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockNotificationSvc) MarkAllRead(ctx context.Context, recipientID string) (int, error) {
	args := m.Called(ctx, recipientID)
	return args.Int(0), args.Error(1)
}

func (m *mockNotificationSvc) Delete(ctx context.Context, recipientID, notificationID string) error {
	return m.Called(ctx, recipientID, notificationID).Error(0)
}

func (m *mockNotificationSvc) Refresh(ctx context.Context, recipientID string) {
	m.Called(ctx, recipientID)
}

// --- tests ---

func TestList_MissingClaims(t *testing.T) {
	h := NewNotificationHandler(&mockNotificationSvc{})
	rr := httptest.NewRecorder()
	h.List(rr, httptest.NewRequest(http.MethodGet, "/v1/notifications", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestList_PageEnvelope(t *testing.T) {
	p := newTestJWTProvider(t)
	svc := &mockNotificationSvc{}
	items := make([]domain.Notification, 10)
	for i := range items {
		items[i] = domain.Notification{NotificationID: fmt.Sprintf("n%d", i+11), RecipientID: "u1"}
	}
	svc.On("List", mock.Anything, "u1", domain.PageQuery{Page: 2, Limit: 10, UnreadOnly: false}).
		Return(&domain.NotificationPage{Items: items, Total: 25, Page: 2, Limit: 10}, nil)
	h := NewNotificationHandler(svc)

	r := bearerReq(t, p, http.MethodGet, "/v1/notifications?page=2&limit=10", "u1", "employee", nil)
	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.List), rr, r)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp NotificationPageEnvelope
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Len(t, resp.Data, 10)
	assert.Equal(t, "n11", resp.Data[0].NotificationID)
	assert.Equal(t, 25, resp.Total)
	assert.Equal(t, 3, resp.TotalPages)
	assert.True(t, resp.HasNextPage)
	assert.True(t, resp.HasPrevPage)
	svc.AssertExpectations(t)
}

func TestList_UnreadOnlyQuery(t *testing.T) {
	p := newTestJWTProvider(t)
	svc := &mockNotificationSvc{}
	svc.On("List", mock.Anything, "u1", domain.PageQuery{UnreadOnly: true}).
		Return(&domain.NotificationPage{Page: 1, Limit: 20}, nil)
	h := NewNotificationHandler(svc)

	r := bearerReq(t, p, http.MethodGet, "/v1/notifications?unreadOnly=true", "u1", "employee", nil)
	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.List), rr, r)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp NotificationPageEnvelope
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.NotNil(t, resp.Data, "empty pages encode as []")
	assert.Equal(t, 1, resp.TotalPages)
	assert.False(t, resp.HasNextPage)
	svc.AssertExpectations(t)
}

func TestUnreadCount(t *testing.T) {
	p := newTestJWTProvider(t)
	svc := &mockNotificationSvc{}
	svc.On("UnreadCount", mock.Anything, "u1").Return(10, nil)
	h := NewNotificationHandler(svc)

	r := bearerReq(t, p, http.MethodGet, "/v1/notifications/unread-count", "u1", "employee", nil)
	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.UnreadCount), rr, r)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"unread_count":10}`, rr.Body.String())
}

func TestMarkRead_NotOwned_404(t *testing.T) {
	p := newTestJWTProvider(t)
	svc := &mockNotificationSvc{}
	svc.On("MarkRead", mock.Anything, "u1", "n9").Return(nil, fmt.Errorf("notification not found: %w", domain.ErrNotFound))
	h := NewNotificationHandler(svc)

	r := withChiID(bearerReq(t, p, http.MethodPatch, "/v1/notifications/n9/read", "u1", "employee", nil), "n9")
	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.MarkRead), rr, r)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMarkRead_OK(t *testing.T) {
	p := newTestJWTProvider(t)
	svc := &mockNotificationSvc{}
	at := time.Now().UTC()
	svc.On("MarkRead", mock.Anything, "u1", "n1").Return(&domain.Notification{NotificationID: "n1", IsRead: true, ReadAt: &at}, nil)
	h := NewNotificationHandler(svc)

	r := withChiID(bearerReq(t, p, http.MethodPatch, "/v1/notifications/n1/read", "u1", "employee", nil), "n1")
	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.MarkRead), rr, r)

	require.Equal(t, http.StatusOK, rr.Code)
	var n domain.Notification
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&n))
	assert.True(t, n.IsRead)
	assert.NotNil(t, n.ReadAt)
}

func TestMarkAllRead(t *testing.T) {
	p := newTestJWTProvider(t)
	svc := &mockNotificationSvc{}
	svc.On("MarkAllRead", mock.Anything, "u1").Return(4, nil)
	h := NewNotificationHandler(svc)

	r := bearerReq(t, p, http.MethodPatch, "/v1/notifications/mark-all-read", "u1", "employee", nil)
	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.MarkAllRead), rr, r)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"updated":4}`, rr.Body.String())
}

func TestDelete_RepositoryFailure_Localized500(t *testing.T) {
	p := newTestJWTProvider(t)
	svc := &mockNotificationSvc{}
	svc.On("Delete", mock.Anything, "u1", "n1").Return(fmt.Errorf("delete notification: connection reset"))
	h := NewNotificationHandler(svc)

	r := withChiID(bearerReq(t, p, http.MethodDelete, "/v1/notifications/n1", "u1", "employee", nil), "n1")
	r.Header.Set("Accept-Language", "ar-SA,ar;q=0.9,en;q=0.8")
	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.Delete), rr, r)

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	var resp MessageEnvelope
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, internalErrorMessages["ar"], resp.Error)
	assert.NotContains(t, resp.Error, "connection reset")
}
