// Package reminder owns time-based notification producers: recurring
// reminders, one-shot reminders and notifications deferred by the dispatcher.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/go-api-notify/internal/application/dispatch"
	"github.com/go-api-notify/internal/domain"
	"github.com/go-api-notify/internal/pkg/id"
	"github.com/go-api-notify/internal/pkg/validate"
)

// cronParser accepts five-field expressions, descriptors such as "@daily" and
// an optional CRON_TZ= prefix.
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule validates a cron expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Store persists pending reminders so they survive a restart.
type Store interface {
	Put(ctx context.Context, r *domain.ScheduledReminder) error
	Delete(ctx context.Context, reminderID string) error
	List(ctx context.Context) ([]domain.ScheduledReminder, error)
}

// Target receives the event of every fired reminder.
type Target interface {
	Dispatch(ctx context.Context, ev domain.NotificationEvent) (*dispatch.Result, error)
}

// onceSchedule fires a single time at at and never again.
type onceSchedule struct{ at time.Time }

func (o onceSchedule) Next(t time.Time) time.Time {
	if t.Before(o.at) {
		return o.at
	}
	return time.Time{}
}

type Option func(*Scheduler)

// WithFireTimeout bounds one dispatch triggered by a reminder.
func WithFireTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.fireTimeout = d }
}

// Scheduler registers reminders with an in-process cron runner. Only one
// instance per deployment should be started; otherwise reminders fire once
// per instance.
type Scheduler struct {
	store       Store
	cron        *cronlib.Cron
	logger      *slog.Logger
	fireTimeout time.Duration
	now         func() time.Time

	mu      sync.Mutex
	entries map[string]cronlib.EntryID
	target  Target
	started bool
}

// NewScheduler builds a stopped scheduler. Recurring reminders are evaluated
// in loc unless their expression carries its own CRON_TZ.
func NewScheduler(store Store, loc *time.Location, logger *slog.Logger, opts ...Option) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		store:       store,
		cron:        cronlib.New(cronlib.WithParser(cronParser), cronlib.WithLocation(loc)),
		logger:      logger.With("component", "reminders"),
		fireTimeout: 30 * time.Second,
		now:         time.Now,
		entries:     make(map[string]cronlib.EntryID),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) scheduleFor(r *domain.ScheduledReminder) (cronlib.Schedule, error) {
	if r.Repeats {
		expr, err := r.Spec.CronExpr()
		if err != nil {
			return nil, err
		}
		sched, err := ParseSchedule(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid cron expression %q: %w", expr, domain.ErrBadRequest)
		}
		return sched, nil
	}
	if r.Spec.At == nil {
		return nil, fmt.Errorf("one-shot reminder needs a fire time: %w", domain.ErrBadRequest)
	}
	return onceSchedule{at: *r.Spec.At}, nil
}

func validateReminder(r *domain.ScheduledReminder) error {
	return validate.BadRequest(r)
}

// Schedule validates, persists and registers r. One-shot reminders must lie
// in the future.
func (s *Scheduler) Schedule(ctx context.Context, r domain.ScheduledReminder) (*domain.ScheduledReminder, error) {
	if err := validateReminder(&r); err != nil {
		return nil, err
	}
	sched, err := s.scheduleFor(&r)
	if err != nil {
		return nil, err
	}
	if !r.Repeats && !r.Spec.At.After(s.now()) {
		return nil, fmt.Errorf("fire time is in the past: %w", domain.ErrBadRequest)
	}

	r.CreatedAt = s.now().UTC()
	r.ReminderID = id.NewAt(r.CreatedAt)
	if err := s.store.Put(ctx, &r); err != nil {
		return nil, fmt.Errorf("store reminder: %w", err)
	}
	s.register(r, sched)
	s.logger.Info("reminder scheduled", "reminder_id", r.ReminderID, "recipient_id", r.RecipientID, "repeats", r.Repeats)
	return &r, nil
}

// Defer schedules ev as a one-shot reminder at at.
func (s *Scheduler) Defer(ctx context.Context, at time.Time, ev domain.NotificationEvent) (*domain.ScheduledReminder, error) {
	at = at.UTC()
	return s.Schedule(ctx, domain.ScheduledReminder{
		RecipientID: ev.RecipientID,
		Spec:        domain.FireSpec{At: &at},
		Payload: domain.ReminderPayload{
			Type:        ev.Type,
			Role:        ev.RecipientRole,
			Priority:    ev.Priority,
			Data:        ev.Data,
			RelatedData: ev.RelatedData,
		},
	})
}

// Cancel unregisters and forgets a reminder.
func (s *Scheduler) Cancel(ctx context.Context, reminderID string) error {
	s.mu.Lock()
	entryID, ok := s.entries[reminderID]
	delete(s.entries, reminderID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("reminder not found: %w", domain.ErrNotFound)
	}
	s.cron.Remove(entryID)
	if err := s.store.Delete(ctx, reminderID); err != nil {
		return fmt.Errorf("delete reminder: %w", err)
	}
	s.logger.Info("reminder cancelled", "reminder_id", reminderID)
	return nil
}

// Pending reports how many reminders are registered.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Scheduler) register(r domain.ScheduledReminder, sched cronlib.Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[r.ReminderID] = s.cron.Schedule(sched, cronlib.FuncJob(func() { s.fire(r) }))
}

// Start restores persisted reminders and begins firing them into target.
// One-shot reminders whose time passed while the process was down fire once
// immediately.
func (s *Scheduler) Start(ctx context.Context, target Target) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.target = target
	s.started = true
	s.mu.Unlock()

	stored, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("restore reminders: %w", err)
	}
	now := s.now()
	var overdue []domain.ScheduledReminder
	for _, r := range stored {
		s.mu.Lock()
		_, known := s.entries[r.ReminderID]
		s.mu.Unlock()
		if known {
			continue
		}
		sched, err := s.scheduleFor(&r)
		if err != nil {
			s.logger.Warn("dropping unusable reminder", "reminder_id", r.ReminderID, "err", err)
			if derr := s.store.Delete(ctx, r.ReminderID); derr != nil {
				s.logger.Error("delete reminder failed", "reminder_id", r.ReminderID, "err", derr)
			}
			continue
		}
		if !r.Repeats && !r.Spec.At.After(now) {
			overdue = append(overdue, r)
			continue
		}
		s.register(r, sched)
	}

	s.cron.Start()
	for _, r := range overdue {
		go s.fire(r)
	}
	s.logger.Info("reminder scheduler started", "restored", len(stored), "overdue", len(overdue))
	return nil
}

// Stop halts the runner and waits for in-flight reminders to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("reminder scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) fire(r domain.ScheduledReminder) {
	log := s.logger.With("reminder_id", r.ReminderID, "recipient_id", r.RecipientID, "type", r.Payload.Type)
	ctx, cancel := context.WithTimeout(context.Background(), s.fireTimeout)
	defer cancel()

	if !r.Repeats {
		s.mu.Lock()
		if entryID, ok := s.entries[r.ReminderID]; ok {
			s.cron.Remove(entryID)
			delete(s.entries, r.ReminderID)
		}
		s.mu.Unlock()
		if err := s.store.Delete(ctx, r.ReminderID); err != nil {
			log.Error("delete fired reminder failed", "err", err)
		}
	}

	s.mu.Lock()
	target := s.target
	s.mu.Unlock()
	if target == nil {
		log.Warn("reminder fired before scheduler start")
		return
	}

	res, err := target.Dispatch(ctx, r.Event())
	if err != nil {
		log.Error("reminder dispatch failed", "err", err)
		return
	}
	log.Info("reminder fired", "status", res.Status, "reason", res.Reason)
}
