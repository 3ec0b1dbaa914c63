// Package dispatch turns producer events into persisted notifications and fans
// them out to the delivery channels.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-api-notify/internal/domain"
	"github.com/go-api-notify/internal/infrastructure/cache"
	"github.com/go-api-notify/internal/infrastructure/realtime"
	"github.com/go-api-notify/internal/pkg/validate"
)

// Suppression and deferral reasons, logged and returned in Result.Reason.
const (
	ReasonNoTemplate   = "no_template"
	ReasonTypeDisabled = "type_disabled"
	ReasonDailyCap     = "daily_cap"
	ReasonQuietHours   = "quiet_hours"
	ReasonScheduled    = "scheduled"
)

// Channel names a delivery adapter.
type Channel string

const (
	ChannelPush     Channel = "push"
	ChannelRealtime Channel = "realtime"
)

// Store is the subset of the notification repository the dispatcher uses.
type Store interface {
	Create(ctx context.Context, n *domain.Notification) error
	MarkDispatched(ctx context.Context, notificationID string, res domain.DispatchResult) error
	CountDispatchedSince(ctx context.Context, recipientID string, t domain.NotificationType, since time.Time) (int, error)
}

type Preferences interface {
	Get(ctx context.Context, recipientID string) (*domain.UserNotificationPreference, error)
}

// Counter is the atomic per-day counter backing the daily cap.
type Counter interface {
	IncrWithExpire(ctx context.Context, key string, window time.Duration) (int64, bool)
	Decr(ctx context.Context, key string) bool
}

// Pusher is the push adapter.
type Pusher interface {
	ListForRecipient(ctx context.Context, recipientID string) ([]domain.PushSubscription, error)
	Deliver(ctx context.Context, sub *domain.PushSubscription, payload domain.PushPayload) error
	Remove(ctx context.Context, endpoint string) error
}

// Broadcaster is the realtime adapter.
type Broadcaster interface {
	Publish(ctx context.Context, channel, event string, data any) bool
}

// Refresher drops cached reads of a recipient and signals the new unread count.
type Refresher interface {
	Refresh(ctx context.Context, recipientID string)
}

// Deferrer schedules ev to re-enter the dispatcher at.
type Deferrer interface {
	Defer(ctx context.Context, at time.Time, ev domain.NotificationEvent) (*domain.ScheduledReminder, error)
}

// Result is the outcome of one Dispatch call.
type Result struct {
	Status       domain.DispatchStatus     `json:"status"`
	Reason       string                    `json:"reason,omitempty"`
	Notification *domain.Notification      `json:"notification,omitempty"`
	Reminder     *domain.ScheduledReminder `json:"reminder,omitempty"`
}

type Options struct {
	Templates       *Templates
	DeliveryTimeout time.Duration
	DefaultLocation *time.Location
	Logger          *slog.Logger
}

// Dispatcher is safe for concurrent use across recipients.
type Dispatcher struct {
	store     Store
	prefs     Preferences
	counter   Counter
	push      Pusher
	realtime  Broadcaster
	refresher Refresher
	deferrer  Deferrer

	templates *Templates
	timeout   time.Duration
	loc       *time.Location
	logger    *slog.Logger
	now       func() time.Time
}

func New(store Store, prefs Preferences, counter Counter, push Pusher, rt Broadcaster, refresher Refresher, deferrer Deferrer, opts Options) *Dispatcher {
	if opts.Templates == nil {
		opts.Templates = MustTemplates(DefaultTemplates)
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = 5 * time.Second
	}
	if opts.DefaultLocation == nil {
		opts.DefaultLocation = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{
		store:     store,
		prefs:     prefs,
		counter:   counter,
		push:      push,
		realtime:  rt,
		refresher: refresher,
		deferrer:  deferrer,
		templates: opts.Templates,
		timeout:   opts.DeliveryTimeout,
		loc:       opts.DefaultLocation,
		logger:    opts.Logger.With("component", "dispatcher"),
		now:       time.Now,
	}
}

// ChannelsFor maps an event to the adapters it fans out to: chat stays
// in-session, everything else also goes to the device.
func ChannelsFor(t domain.NotificationType) []Channel {
	if t == domain.TypeNewMessage {
		return []Channel{ChannelRealtime}
	}
	return []Channel{ChannelPush, ChannelRealtime}
}

func validateEvent(ev *domain.NotificationEvent) error {
	if err := validate.BadRequest(ev); err != nil {
		return err
	}
	if ev.Priority == "" {
		ev.Priority = domain.PriorityMedium
	}
	return nil
}

// Dispatch runs one event through filtering, persistence and fan-out.
// Delivery failures are recorded on the notification and never returned;
// only invalid events and repository failures produce an error.
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.NotificationEvent) (*Result, error) {
	if err := validateEvent(&ev); err != nil {
		return nil, err
	}
	log := d.logger.With("recipient_id", ev.RecipientID, "type", ev.Type, "priority", ev.Priority)
	urgent := ev.Priority == domain.PriorityUrgent

	tpl, ok := d.templates.Lookup(ev.Type, ev.RecipientRole)
	if !ok {
		log.Info("notification suppressed", "reason", ReasonNoTemplate, "role", ev.RecipientRole)
		return &Result{Status: domain.StatusSuppressed, Reason: ReasonNoTemplate}, nil
	}

	prefs, err := d.prefs.Get(ctx, ev.RecipientID)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}
	if !urgent && !prefs.TypeEnabled(ev.Type) {
		log.Info("notification suppressed", "reason", ReasonTypeDisabled)
		return &Result{Status: domain.StatusSuppressed, Reason: ReasonTypeDisabled}, nil
	}

	now := d.now().In(prefs.Location(d.loc))
	if ev.ScheduledFor != nil && ev.ScheduledFor.After(now) {
		return d.deferTo(ctx, log, *ev.ScheduledFor, ev, ReasonScheduled)
	}
	if !urgent && prefs.QuietHours.Contains(now.Hour()) {
		return d.deferTo(ctx, log, prefs.QuietHours.NextEnd(now), ev, ReasonQuietHours)
	}

	var release func()
	if !urgent {
		allowed, rel := d.reserve(ctx, ev, prefs, now)
		if !allowed {
			log.Info("notification suppressed", "reason", ReasonDailyCap, "signal", "personalization", "max_per_day", prefs.MaxPerDay)
			return &Result{Status: domain.StatusSuppressed, Reason: ReasonDailyCap}, nil
		}
		release = rel
	}

	content, err := tpl.Render(ev.Data)
	if err != nil {
		if release != nil {
			release()
		}
		return nil, fmt.Errorf("%s: %w", err.Error(), domain.ErrBadRequest)
	}

	n := &domain.Notification{
		RecipientID:  ev.RecipientID,
		Type:         ev.Type,
		Title:        content.Title,
		Message:      content.Body,
		Icon:         content.Icon,
		Sound:        content.Sound,
		RelatedData:  ev.RelatedData,
		Priority:     ev.Priority,
		Status:       domain.StatusCreated,
		ScheduledFor: ev.ScheduledFor,
	}
	if err := d.store.Create(ctx, n); err != nil {
		if release != nil {
			release()
		}
		return nil, fmt.Errorf("create notification: %w", err)
	}

	// Past this point the dispatch is not cancellable by the caller.
	bg := context.WithoutCancel(ctx)
	res := d.fanOut(bg, log, n, ChannelsFor(ev.Type))

	n.Status = res.Status
	n.SentAt = &res.SentAt
	n.PushSent = res.PushSent
	n.PushData = res.PushData
	n.DeliveryErrors = res.Errors
	if err := d.store.MarkDispatched(bg, n.NotificationID, res); err != nil {
		log.Error("record dispatch outcome failed", "notification_id", n.NotificationID, "err", err)
	}
	d.refresher.Refresh(bg, ev.RecipientID)

	log.Info("notification dispatched", "notification_id", n.NotificationID, "status", res.Status, "errors", len(res.Errors))
	return &Result{Status: res.Status, Notification: n}, nil
}

func (d *Dispatcher) deferTo(ctx context.Context, log *slog.Logger, at time.Time, ev domain.NotificationEvent, reason string) (*Result, error) {
	ev.ScheduledFor = nil
	r, err := d.deferrer.Defer(ctx, at, ev)
	if err != nil {
		return nil, fmt.Errorf("defer notification: %w", err)
	}
	log.Info("notification deferred", "reason", reason, "until", at, "reminder_id", r.ReminderID)
	return &Result{Status: domain.StatusDeferred, Reason: reason, Reminder: r}, nil
}

// reserve claims one slot of today's cap for (recipient, type). The counter
// is incremented first and rolled back when it overshoots, so concurrent
// dispatches cannot both take the last slot. Without the cache the count of
// today's dispatched records is used instead, which is approximate. Urgent
// sends never reach here and are left out of both counts.
func (d *Dispatcher) reserve(ctx context.Context, ev domain.NotificationEvent, prefs *domain.UserNotificationPreference, now time.Time) (bool, func()) {
	if prefs.MaxPerDay <= 0 {
		return false, nil
	}
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	window := dayStart.AddDate(0, 0, 1).Sub(now)
	key := cache.DailyCapKey(ev.RecipientID, string(ev.Type), now)

	count, ok := d.counter.IncrWithExpire(ctx, key, window)
	if ok {
		if count > int64(prefs.MaxPerDay) {
			d.counter.Decr(ctx, key)
			return false, nil
		}
		return true, func() { d.counter.Decr(context.WithoutCancel(ctx), key) }
	}

	sent, err := d.store.CountDispatchedSince(ctx, ev.RecipientID, ev.Type, dayStart)
	if err != nil {
		d.logger.Warn("daily cap count failed, allowing", "recipient_id", ev.RecipientID, "err", err)
		return true, nil
	}
	return sent < prefs.MaxPerDay, nil
}

type channelOutcome struct {
	channel  Channel
	accepted bool
	skipped  bool
	pushData *domain.PushData
	errs     []error
}

// delivery is what adapters see of a notification. It is copied before any
// adapter starts, since a timed-out adapter keeps running after Dispatch has
// moved on and updated the original.
type delivery struct {
	snapshot domain.Notification
	payload  domain.PushPayload
}

func newDelivery(n *domain.Notification) *delivery {
	return &delivery{
		snapshot: *n,
		payload: domain.PushPayload{
			NotificationID: n.NotificationID,
			Type:           n.Type,
			Title:          n.Title,
			Body:           n.Message,
			Icon:           n.Icon,
			Sound:          n.Sound,
			Priority:       n.Priority,
		},
	}
}

// fanOut runs every channel concurrently, each bounded by the delivery
// timeout, and folds the outcomes into a DispatchResult.
func (d *Dispatcher) fanOut(ctx context.Context, log *slog.Logger, n *domain.Notification, channels []Channel) domain.DispatchResult {
	dv := newDelivery(n)
	outcomes := make([]channelOutcome, len(channels))
	var wg sync.WaitGroup
	for i, ch := range channels {
		wg.Add(1)
		go func(i int, ch Channel) {
			defer wg.Done()
			outcomes[i] = d.runChannel(ctx, dv, ch)
		}(i, ch)
	}
	wg.Wait()

	res := domain.DispatchResult{SentAt: d.now().UTC()}
	anyAccepted, allSkipped := false, true
	for _, o := range outcomes {
		anyAccepted = anyAccepted || o.accepted
		allSkipped = allSkipped && o.skipped
		if o.channel == ChannelPush && o.accepted {
			res.PushSent = true
			res.PushData = o.pushData
		}
		for _, err := range o.errs {
			log.Warn("delivery failed", "notification_id", n.NotificationID, "channel", o.channel, "err", err)
			res.Errors = append(res.Errors, err.Error())
		}
	}
	if anyAccepted || allSkipped {
		res.Status = domain.StatusSent
	} else {
		res.Status = domain.StatusFailed
	}
	return res
}

// runChannel bounds a single adapter call by the delivery timeout. An adapter
// that overruns counts as failed; its goroutine finishes in the background.
func (d *Dispatcher) runChannel(ctx context.Context, dv *delivery, ch Channel) channelOutcome {
	tctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan channelOutcome, 1)
	go func() {
		switch ch {
		case ChannelPush:
			done <- d.deliverPush(tctx, dv.snapshot.RecipientID, dv.payload)
		case ChannelRealtime:
			done <- d.deliverRealtime(tctx, &dv.snapshot)
		default:
			done <- channelOutcome{channel: ch, skipped: true}
		}
	}()

	select {
	case o := <-done:
		return o
	case <-tctx.Done():
		return channelOutcome{channel: ch, errs: []error{&domain.DeliveryError{Channel: string(ch), Err: tctx.Err()}}}
	}
}

func (d *Dispatcher) deliverPush(ctx context.Context, recipientID string, payload domain.PushPayload) channelOutcome {
	out := channelOutcome{channel: ChannelPush}
	subs, err := d.push.ListForRecipient(ctx, recipientID)
	if err != nil {
		out.errs = append(out.errs, &domain.DeliveryError{Channel: string(ChannelPush), Err: err})
		return out
	}
	if len(subs) == 0 {
		out.skipped = true
		return out
	}

	errs := make([]error, len(subs))
	var wg sync.WaitGroup
	for i := range subs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = d.push.Deliver(ctx, &subs[i], payload)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		sub := subs[i]
		if err == nil {
			if !out.accepted {
				out.pushData = &domain.PushData{Endpoint: sub.Endpoint, Keys: sub.Keys}
			}
			out.accepted = true
			continue
		}
		out.errs = append(out.errs, &domain.DeliveryError{Channel: string(ChannelPush), Endpoint: sub.Endpoint, Err: err})
		if errors.Is(err, domain.ErrSubscriptionGone) {
			if rmErr := d.push.Remove(context.WithoutCancel(ctx), sub.Endpoint); rmErr != nil {
				d.logger.Warn("remove dead subscription failed", "endpoint", sub.Endpoint, "err", rmErr)
			}
		}
	}
	return out
}

func (d *Dispatcher) deliverRealtime(ctx context.Context, n *domain.Notification) channelOutcome {
	out := channelOutcome{channel: ChannelRealtime}
	if d.realtime.Publish(ctx, realtime.PrivateChannel(n.RecipientID), realtime.EventNotification, n) {
		out.accepted = true
		return out
	}
	out.errs = append(out.errs, &domain.DeliveryError{Channel: string(ChannelRealtime), Err: errors.New("broker unavailable")})
	return out
}
