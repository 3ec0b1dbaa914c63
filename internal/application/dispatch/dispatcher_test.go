package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-api-notify/internal/domain"
	"github.com/go-api-notify/internal/infrastructure/cache"
	"github.com/go-api-notify/internal/infrastructure/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type memStore struct {
	mu         sync.Mutex
	seq        int
	created    []*domain.Notification
	dispatched map[string]domain.DispatchResult
	createErr  error
	sentToday  int
}

func newMemStore() *memStore {
	return &memStore{dispatched: map[string]domain.DispatchResult{}}
}

func (m *memStore) Create(_ context.Context, n *domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.seq++
	n.NotificationID = fmt.Sprintf("n%d", m.seq)
	n.CreatedAt = time.Now().UTC()
	cp := *n
	m.created = append(m.created, &cp)
	return nil
}

func (m *memStore) MarkDispatched(_ context.Context, id string, res domain.DispatchResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatched[id] = res
	return nil
}

func (m *memStore) CountDispatchedSince(_ context.Context, _ string, _ domain.NotificationType, _ time.Time) (int, error) {
	return m.sentToday, nil
}

type staticPrefs struct {
	pref *domain.UserNotificationPreference
}

func (s staticPrefs) Get(_ context.Context, recipientID string) (*domain.UserNotificationPreference, error) {
	cp := *s.pref
	cp.RecipientID = recipientID
	return &cp, nil
}

type mockPusher struct{ mock.Mock }

func (m *mockPusher) ListForRecipient(ctx context.Context, recipientID string) ([]domain.PushSubscription, error) {
	args := m.Called(ctx, recipientID)
	subs, _ := args.Get(0).([]domain.PushSubscription)
	return subs, args.Error(1)
}

func (m *mockPusher) Deliver(ctx context.Context, sub *domain.PushSubscription, payload domain.PushPayload) error {
	return m.Called(ctx, sub.Endpoint, payload).Error(0)
}

func (m *mockPusher) Remove(ctx context.Context, endpoint string) error {
	return m.Called(ctx, endpoint).Error(0)
}

type mockBroadcaster struct{ mock.Mock }

func (m *mockBroadcaster) Publish(ctx context.Context, channel, event string, data any) bool {
	return m.Called(ctx, channel, event, data).Bool(0)
}

// slowBroadcaster encodes the published notification after a delay, the way
// a real broker call reads its payload after the dispatcher has moved on.
type slowBroadcaster struct {
	delay time.Duration
	done  chan struct{}
	seen  *domain.Notification
}

func (b *slowBroadcaster) Publish(_ context.Context, _, _ string, data any) bool {
	defer close(b.done)
	time.Sleep(b.delay)
	raw, err := json.Marshal(data)
	if err != nil {
		return false
	}
	var n domain.Notification
	if json.Unmarshal(raw, &n) == nil {
		b.seen = &n
	}
	return true
}

type mockCounter struct{ mock.Mock }

func (m *mockCounter) IncrWithExpire(ctx context.Context, key string, window time.Duration) (int64, bool) {
	args := m.Called(ctx, key, window)
	return args.Get(0).(int64), args.Bool(1)
}

func (m *mockCounter) Decr(ctx context.Context, key string) bool {
	return m.Called(ctx, key).Bool(0)
}

type recordingRefresher struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingRefresher) Refresh(_ context.Context, recipientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recipientID)
}

type recordingDeferrer struct {
	at []time.Time
	ev []domain.NotificationEvent
}

func (r *recordingDeferrer) Defer(_ context.Context, at time.Time, ev domain.NotificationEvent) (*domain.ScheduledReminder, error) {
	r.at = append(r.at, at)
	r.ev = append(r.ev, ev)
	return &domain.ScheduledReminder{ReminderID: fmt.Sprintf("r%d", len(r.at)), RecipientID: ev.RecipientID}, nil
}

// --- harness ---

var fixedNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

type harness struct {
	d        *Dispatcher
	store    *memStore
	counter  *cache.Store
	mr       *miniredis.Miniredis
	pusher   *mockPusher
	rt       *mockBroadcaster
	refresh  *recordingRefresher
	deferrer *recordingDeferrer
}

func defaultPrefs() *domain.UserNotificationPreference {
	p := domain.DefaultPreference("", "UTC")
	return p
}

func newHarness(t *testing.T, pref *domain.UserNotificationPreference, opts Options) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	c := cache.New(cache.Options{Addr: mr.Addr(), DialTimeout: 200 * time.Millisecond})
	t.Cleanup(func() { _ = c.Close() })

	h := &harness{
		store:    newMemStore(),
		counter:  c,
		mr:       mr,
		pusher:   &mockPusher{},
		rt:       &mockBroadcaster{},
		refresh:  &recordingRefresher{},
		deferrer: &recordingDeferrer{},
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	h.d = New(h.store, staticPrefs{pref: pref}, c, h.pusher, h.rt, h.refresh, h.deferrer, opts)
	h.d.now = func() time.Time { return fixedNow }
	return h
}

func jobMatch(priority domain.Priority) domain.NotificationEvent {
	return domain.NotificationEvent{
		RecipientID:   "u1",
		RecipientRole: domain.RoleEmployee,
		Type:          domain.TypeJobMatch,
		Priority:      priority,
		Data:          map[string]string{"jobTitle": "Go Developer", "company": "Acme"},
	}
}

func subs(endpoints ...string) []domain.PushSubscription {
	out := make([]domain.PushSubscription, 0, len(endpoints))
	for _, e := range endpoints {
		out = append(out, domain.PushSubscription{Endpoint: e, RecipientID: "u1", Keys: domain.PushKeys{P256dh: "p", Auth: "a"}})
	}
	return out
}

// --- tests ---

func TestChannelsFor(t *testing.T) {
	assert.Equal(t, []Channel{ChannelRealtime}, ChannelsFor(domain.TypeNewMessage))
	assert.Equal(t, []Channel{ChannelPush, ChannelRealtime}, ChannelsFor(domain.TypeJobMatch))
}

func TestDispatch_InvalidEvent(t *testing.T) {
	h := newHarness(t, defaultPrefs(), Options{})
	cases := map[string]domain.NotificationEvent{
		"no recipient": {RecipientRole: domain.RoleEmployee, Type: domain.TypeSystem},
		"bad type":     {RecipientID: "u1", RecipientRole: domain.RoleEmployee, Type: "nope"},
		"bad role":     {RecipientID: "u1", RecipientRole: "guest", Type: domain.TypeSystem},
		"bad priority": {RecipientID: "u1", RecipientRole: domain.RoleEmployee, Type: domain.TypeSystem, Priority: "max"},
	}
	for name, ev := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.d.Dispatch(context.Background(), ev)
			assert.ErrorIs(t, err, domain.ErrBadRequest)
		})
	}
	assert.Empty(t, h.store.created)
}

func TestDispatch_NoTemplate_Suppressed(t *testing.T) {
	h := newHarness(t, defaultPrefs(), Options{})
	ev := jobMatch(domain.PriorityMedium)
	ev.Type = domain.TypeNewApplication

	res, err := h.d.Dispatch(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuppressed, res.Status)
	assert.Equal(t, ReasonNoTemplate, res.Reason)
	assert.Empty(t, h.store.created)
}

func TestDispatch_TypeDisabled_UrgentBypasses(t *testing.T) {
	pref := defaultPrefs()
	pref.EnabledTypes = []domain.NotificationType{domain.TypeSystem}
	h := newHarness(t, pref, Options{})
	h.pusher.On("ListForRecipient", mock.Anything, "u1").Return([]domain.PushSubscription{}, nil)
	h.rt.On("Publish", mock.Anything, realtime.PrivateChannel("u1"), realtime.EventNotification, mock.Anything).Return(true)

	res, err := h.d.Dispatch(context.Background(), jobMatch(domain.PriorityHigh))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuppressed, res.Status)
	assert.Equal(t, ReasonTypeDisabled, res.Reason)

	res, err = h.d.Dispatch(context.Background(), jobMatch(domain.PriorityUrgent))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, res.Status)
	require.Len(t, h.store.created, 1)
}

func TestDispatch_ZeroSubscriptions_RealtimeOnly_Sent(t *testing.T) {
	h := newHarness(t, defaultPrefs(), Options{})
	h.pusher.On("ListForRecipient", mock.Anything, "u1").Return([]domain.PushSubscription{}, nil)
	h.rt.On("Publish", mock.Anything, realtime.PrivateChannel("u1"), realtime.EventNotification, mock.Anything).Return(true)

	res, err := h.d.Dispatch(context.Background(), jobMatch(""))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, res.Status)

	n := res.Notification
	require.NotNil(t, n)
	assert.Equal(t, "Go Developer at Acme matches your skills", n.Message)
	assert.Equal(t, domain.PriorityMedium, n.Priority)
	assert.False(t, n.PushSent)
	assert.Nil(t, n.PushData)
	require.NotNil(t, n.SentAt)
	assert.Equal(t, fixedNow, *n.SentAt)

	assert.Equal(t, domain.StatusSent, h.store.dispatched[n.NotificationID].Status)
	assert.Equal(t, []string{"u1"}, h.refresh.calls)
	h.pusher.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatch_ChatIsRealtimeOnly(t *testing.T) {
	h := newHarness(t, defaultPrefs(), Options{})
	h.rt.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true)

	ev := domain.NotificationEvent{
		RecipientID:   "u1",
		RecipientRole: domain.RoleCompany,
		Type:          domain.TypeNewMessage,
		Data:          map[string]string{"senderName": "Sara", "preview": "hi"},
	}
	res, err := h.d.Dispatch(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, res.Status)
	assert.Equal(t, "New message from Sara", res.Notification.Title)
	h.pusher.AssertNotCalled(t, "ListForRecipient", mock.Anything, mock.Anything)
}

func TestDispatch_GoneEndpointRemoved(t *testing.T) {
	h := newHarness(t, defaultPrefs(), Options{})
	h.pusher.On("ListForRecipient", mock.Anything, "u1").Return(subs("https://push/dead", "https://push/live"), nil)
	h.pusher.On("Deliver", mock.Anything, "https://push/dead", mock.Anything).Return(domain.ErrSubscriptionGone)
	h.pusher.On("Deliver", mock.Anything, "https://push/live", mock.Anything).Return(nil)
	h.pusher.On("Remove", mock.Anything, "https://push/dead").Return(nil)
	h.rt.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true)

	res, err := h.d.Dispatch(context.Background(), jobMatch(domain.PriorityHigh))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, res.Status)

	n := res.Notification
	assert.True(t, n.PushSent)
	require.NotNil(t, n.PushData)
	assert.Equal(t, "https://push/live", n.PushData.Endpoint)
	require.Len(t, n.DeliveryErrors, 1)
	assert.Contains(t, n.DeliveryErrors[0], "https://push/dead")
	h.pusher.AssertCalled(t, "Remove", mock.Anything, "https://push/dead")
}

func TestDispatch_AllAdaptersFail_Failed(t *testing.T) {
	h := newHarness(t, defaultPrefs(), Options{})
	h.pusher.On("ListForRecipient", mock.Anything, "u1").Return(subs("https://push/a"), nil)
	h.pusher.On("Deliver", mock.Anything, "https://push/a", mock.Anything).Return(errors.New("push service returned 500"))
	h.rt.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(false)

	res, err := h.d.Dispatch(context.Background(), jobMatch(domain.PriorityHigh))
	require.NoError(t, err, "delivery failures are never returned")
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Len(t, res.Notification.DeliveryErrors, 2)
	assert.False(t, res.Notification.PushSent)
	h.pusher.AssertNotCalled(t, "Remove", mock.Anything, mock.Anything)
	assert.Equal(t, domain.StatusFailed, h.store.dispatched[res.Notification.NotificationID].Status)
}

func TestDispatch_SlowAdapterTimesOut(t *testing.T) {
	h := newHarness(t, defaultPrefs(), Options{DeliveryTimeout: 30 * time.Millisecond})
	h.pusher.On("ListForRecipient", mock.Anything, "u1").Return(subs("https://push/slow"), nil)
	h.pusher.On("Deliver", mock.Anything, "https://push/slow", mock.Anything).
		Run(func(mock.Arguments) { time.Sleep(300 * time.Millisecond) }).
		Return(nil)
	h.rt.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true)

	start := time.Now()
	res, err := h.d.Dispatch(context.Background(), jobMatch(domain.PriorityHigh))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 250*time.Millisecond)

	assert.Equal(t, domain.StatusSent, res.Status, "realtime still accepted")
	assert.False(t, res.Notification.PushSent)
	require.Len(t, res.Notification.DeliveryErrors, 1)
	assert.Contains(t, res.Notification.DeliveryErrors[0], context.DeadlineExceeded.Error())
}

func TestDispatch_TimedOutRealtimeReadsStableSnapshot(t *testing.T) {
	pusher := &mockPusher{}
	pusher.On("ListForRecipient", mock.Anything, "u1").Return([]domain.PushSubscription{}, nil)
	rt := &slowBroadcaster{delay: 100 * time.Millisecond, done: make(chan struct{})}
	store := newMemStore()
	d := New(store, staticPrefs{pref: defaultPrefs()}, &mockCounter{}, pusher, rt, &recordingRefresher{}, &recordingDeferrer{},
		Options{DeliveryTimeout: 30 * time.Millisecond, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	d.now = func() time.Time { return fixedNow }

	ev := jobMatch(domain.PriorityUrgent)
	res, err := d.Dispatch(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, res.Status)
	require.Len(t, res.Notification.DeliveryErrors, 1)
	assert.Contains(t, res.Notification.DeliveryErrors[0], context.DeadlineExceeded.Error())

	select {
	case <-rt.done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcaster never finished")
	}
	require.NotNil(t, rt.seen)
	assert.Equal(t, res.Notification.NotificationID, rt.seen.NotificationID)
	assert.Equal(t, domain.StatusCreated, rt.seen.Status, "adapter must not observe the outcome written after fan-out")
	assert.Empty(t, rt.seen.DeliveryErrors)
	assert.Nil(t, rt.seen.SentAt)
}

func TestDispatch_DailyCap(t *testing.T) {
	pref := defaultPrefs()
	pref.MaxPerDay = 2
	h := newHarness(t, pref, Options{})
	h.pusher.On("ListForRecipient", mock.Anything, "u1").Return([]domain.PushSubscription{}, nil)
	h.rt.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := h.d.Dispatch(ctx, jobMatch(domain.PriorityMedium))
		require.NoError(t, err)
		assert.Equal(t, domain.StatusSent, res.Status)
	}

	res, err := h.d.Dispatch(ctx, jobMatch(domain.PriorityMedium))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuppressed, res.Status)
	assert.Equal(t, ReasonDailyCap, res.Reason)
	assert.Len(t, h.store.created, 2)

	key := cache.DailyCapKey("u1", string(domain.TypeJobMatch), fixedNow)
	v, _ := h.counter.Get(ctx, key)
	assert.Equal(t, "2", v, "an over-cap attempt is rolled back")
	assert.Equal(t, int64(12*3600), h.counter.TTL(ctx, key), "counter expires at local midnight")

	// Urgent bypasses the cap; other types have their own counter.
	res, err = h.d.Dispatch(ctx, jobMatch(domain.PriorityUrgent))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, res.Status)

	sys := domain.NotificationEvent{RecipientID: "u1", RecipientRole: domain.RoleEmployee, Type: domain.TypeSystem,
		Data: map[string]string{"title": "t", "message": "m"}}
	res, err = h.d.Dispatch(ctx, sys)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, res.Status)
}

func TestDispatch_DailyCapConcurrent(t *testing.T) {
	pref := defaultPrefs()
	pref.MaxPerDay = 3
	h := newHarness(t, pref, Options{})
	h.pusher.On("ListForRecipient", mock.Anything, "u1").Return([]domain.PushSubscription{}, nil)
	h.rt.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true)

	var wg sync.WaitGroup
	results := make([]*Result, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = h.d.Dispatch(context.Background(), jobMatch(domain.PriorityMedium))
		}(i)
	}
	wg.Wait()

	sent := 0
	for _, r := range results {
		require.NotNil(t, r)
		if r.Status == domain.StatusSent {
			sent++
		}
	}
	assert.Equal(t, 3, sent)
}

func TestDispatch_ZeroMaxPerDaySuppressesNonUrgent(t *testing.T) {
	pref := defaultPrefs()
	pref.MaxPerDay = 0
	h := newHarness(t, pref, Options{})
	h.pusher.On("ListForRecipient", mock.Anything, "u1").Return([]domain.PushSubscription{}, nil)
	h.rt.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true)

	res, err := h.d.Dispatch(context.Background(), jobMatch(domain.PriorityHigh))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuppressed, res.Status)

	res, err = h.d.Dispatch(context.Background(), jobMatch(domain.PriorityUrgent))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, res.Status)
}

func TestDispatch_DailyCapFallsBackToStoreCount(t *testing.T) {
	pref := defaultPrefs()
	pref.MaxPerDay = 5
	counter := &mockCounter{}
	counter.On("IncrWithExpire", mock.Anything, mock.Anything, mock.Anything).Return(int64(0), false)

	store := newMemStore()
	store.sentToday = 5
	d := New(store, staticPrefs{pref: pref}, counter, &mockPusher{}, &mockBroadcaster{}, &recordingRefresher{}, &recordingDeferrer{},
		Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	d.now = func() time.Time { return fixedNow }

	res, err := d.Dispatch(context.Background(), jobMatch(domain.PriorityMedium))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuppressed, res.Status)
	assert.Equal(t, ReasonDailyCap, res.Reason)
	counter.AssertNotCalled(t, "Decr", mock.Anything, mock.Anything)
}

func TestDispatch_QuietHoursDefers(t *testing.T) {
	pref := defaultPrefs()
	pref.QuietHours = domain.QuietHours{Enabled: true, StartHour: 22, EndHour: 8}
	pref.Timezone = "Asia/Riyadh"
	h := newHarness(t, pref, Options{})
	h.d.now = func() time.Time { return time.Date(2026, 5, 4, 20, 30, 0, 0, time.UTC) } // 23:30 local

	res, err := h.d.Dispatch(context.Background(), jobMatch(domain.PriorityHigh))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeferred, res.Status)
	assert.Equal(t, ReasonQuietHours, res.Reason)
	require.NotNil(t, res.Reminder)
	assert.Empty(t, h.store.created)

	require.Len(t, h.deferrer.at, 1)
	assert.True(t, h.deferrer.at[0].Equal(time.Date(2026, 5, 5, 5, 0, 0, 0, time.UTC)), "08:00 Riyadh next day, got %s", h.deferrer.at[0])
	assert.Nil(t, h.deferrer.ev[0].ScheduledFor)

	v, _ := h.counter.Get(context.Background(), cache.DailyCapKey("u1", string(domain.TypeJobMatch), fixedNow))
	assert.Empty(t, v, "deferral must not consume the cap")
}

func TestDispatch_QuietHoursUrgentSendsNow(t *testing.T) {
	pref := defaultPrefs()
	pref.QuietHours = domain.QuietHours{Enabled: true, StartHour: 9, EndHour: 17}
	h := newHarness(t, pref, Options{})
	h.pusher.On("ListForRecipient", mock.Anything, "u1").Return([]domain.PushSubscription{}, nil)
	h.rt.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true)

	res, err := h.d.Dispatch(context.Background(), jobMatch(domain.PriorityUrgent))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, res.Status)
	assert.Empty(t, h.deferrer.at)
}

func TestDispatch_FutureScheduleDefers(t *testing.T) {
	h := newHarness(t, defaultPrefs(), Options{})
	at := fixedNow.Add(3 * time.Hour)
	ev := jobMatch(domain.PriorityLow)
	ev.ScheduledFor = &at

	res, err := h.d.Dispatch(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeferred, res.Status)
	assert.Equal(t, ReasonScheduled, res.Reason)
	require.Len(t, h.deferrer.at, 1)
	assert.True(t, h.deferrer.at[0].Equal(at))
	assert.Nil(t, h.deferrer.ev[0].ScheduledFor)
}

func TestDispatch_CreateFailureReleasesCap(t *testing.T) {
	h := newHarness(t, defaultPrefs(), Options{})
	h.store.createErr = errors.New("dynamo unavailable")

	_, err := h.d.Dispatch(context.Background(), jobMatch(domain.PriorityMedium))
	require.Error(t, err)

	v, _ := h.counter.Get(context.Background(), cache.DailyCapKey("u1", string(domain.TypeJobMatch), fixedNow))
	assert.Equal(t, "0", v)
	assert.Empty(t, h.refresh.calls)
}
