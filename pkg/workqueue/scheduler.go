package workqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/workqueue/pkg/logger"
)

// Recurring is a job materialised once per schedule tick.
type Recurring struct {
	ScheduleID string
	Type       string
	Schedule   Schedule
	Input      any
	Priority   int
	Retries    int
	Timeout    time.Duration
	// Disabled schedules keep no future instances.
	Disabled bool
}

func (r Recurring) validate() error {
	if r.ScheduleID == "" {
		return ErrScheduleIDRequired
	}
	if r.Type == "" {
		return ErrTypeRequired
	}
	if r.Schedule == nil {
		return fmt.Errorf("%w: schedule %q has no expression", ErrInvalidSchedule, r.ScheduleID)
	}
	return nil
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*schedulerOptions)

type schedulerOptions struct {
	checkInterval time.Duration
	logger        *slog.Logger
}

// WithCheckInterval sets how often schedules are reconciled.
func WithCheckInterval(d time.Duration) SchedulerOption {
	return func(o *schedulerOptions) {
		if d > 0 {
			o.checkInterval = d
		}
	}
}

// WithSchedulerLogger sets the scheduler logger.
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(o *schedulerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// Scheduler keeps the upcoming tick of every recurring job materialised.
// Several processes may run one against the same store: tick ids are
// deterministic, so they converge on the same items.
type Scheduler struct {
	q         *Queue
	mu        sync.RWMutex
	schedules map[string]Recurring
	interval  time.Duration
	logger    *slog.Logger
}

// NewScheduler creates a scheduler over q.
func NewScheduler(q *Queue, opts ...SchedulerOption) (*Scheduler, error) {
	if q == nil {
		return nil, ErrQueueNil
	}

	options := &schedulerOptions{
		checkInterval: 30 * time.Second,
		logger:        q.logger,
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Scheduler{
		q:         q,
		schedules: make(map[string]Recurring),
		interval:  options.checkInterval,
		logger:    options.logger.With(logger.Component("scheduler")),
	}, nil
}

// Add registers r, replacing any schedule with the same id. Pending instances
// of a replaced schedule with a different type or priority are cancelled.
// The tick id depends only on the schedule id and tick time, so a pending tick
// cancelled this way is revived by the next Tick with its original type and
// priority. The new ones apply from the following tick.
func (s *Scheduler) Add(ctx context.Context, r Recurring) error {
	if err := r.validate(); err != nil {
		return err
	}
	if !s.q.registry.Has(r.Type) {
		return fmt.Errorf("%w: %s", ErrAdapterNotFound, r.Type)
	}

	s.mu.Lock()
	prev, replaced := s.schedules[r.ScheduleID]
	s.schedules[r.ScheduleID] = r
	s.mu.Unlock()

	if replaced && (prev.Type != r.Type || prev.Priority != r.Priority) {
		if err := s.cancel(ctx, prev, ""); err != nil {
			return err
		}
	}

	s.logger.InfoContext(ctx, "registered recurring work",
		logger.ScheduleID(r.ScheduleID),
		logger.WorkType(r.Type),
		slog.String("schedule", r.Schedule.String()),
		slog.Bool("disabled", r.Disabled))
	return nil
}

// Remove unregisters the schedule and cancels its future instances.
func (s *Scheduler) Remove(ctx context.Context, scheduleID string) error {
	s.mu.Lock()
	r, ok := s.schedules[scheduleID]
	delete(s.schedules, scheduleID)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrScheduleNotFound, scheduleID)
	}
	s.logger.InfoContext(ctx, "removed recurring work", logger.ScheduleID(scheduleID))
	return s.cancelAll(ctx, r)
}

// List returns the registered schedules.
func (s *Scheduler) List() []Recurring {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Recurring, 0, len(s.schedules))
	for _, id := range sortedKeys(s.schedules) {
		out = append(out, s.schedules[id])
	}
	return out
}

// Start reconciles immediately and then every check interval until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler shutting down")
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Run returns a function suitable for errgroup.
func (s *Scheduler) Run(ctx context.Context) func() error {
	return func() error {
		return s.Start(ctx)
	}
}

// Tick reconciles every schedule once. Failures are logged per schedule.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.q.Now()
	for _, r := range s.List() {
		if err := s.reconcile(ctx, r, now); err != nil {
			s.logger.ErrorContext(ctx, "failed to reconcile recurring work",
				logger.ScheduleID(r.ScheduleID),
				logger.Error(err))
		}
	}
}

func (s *Scheduler) reconcile(ctx context.Context, r Recurring, now time.Time) error {
	if r.Disabled {
		return s.cancelAll(ctx, r)
	}

	w, err := s.q.EnsureOneWork(ctx, OneWorkParams{
		ScheduleID: r.ScheduleID,
		Scheduled:  r.Schedule.Next(now),
		Type:       r.Type,
		Input:      r.Input,
		Priority:   r.Priority,
		Retries:    r.Retries,
		Timeout:    r.Timeout,
	})
	if err != nil {
		return err
	}
	return s.cancel(ctx, r, w.ID)
}

// cancel deletes future NEW instances of r other than exceptID.
func (s *Scheduler) cancel(ctx context.Context, r Recurring, exceptID string) error {
	_, err := s.q.EnsureNoWork(ctx, NoWorkParams{
		Type:           r.Type,
		Priority:       r.Priority,
		ScheduleID:     r.ScheduleID,
		ExceptID:       exceptID,
		ScheduledAfter: s.q.Now(),
	})
	return err
}

// cancelAll deletes future NEW instances of the schedule whatever type and
// priority they were created with, including ticks revived after a change.
func (s *Scheduler) cancelAll(ctx context.Context, r Recurring) error {
	works, err := s.q.FindWorkQueue(ctx, Filter{
		Statuses:          []Status{StatusNew},
		ScheduleID:        r.ScheduleID,
		AutoscheduledOnly: true,
	}, FindOptions{})
	if err != nil {
		return err
	}

	type variant struct {
		typ      string
		priority int
	}
	seen := map[variant]bool{{typ: r.Type, priority: r.Priority}: true}
	variants := []Recurring{r}
	for _, w := range works {
		v := variant{typ: w.Type, priority: w.Priority}
		if seen[v] {
			continue
		}
		seen[v] = true
		prev := r
		prev.Type, prev.Priority = w.Type, w.Priority
		variants = append(variants, prev)
	}

	for _, v := range variants {
		if err := s.cancel(ctx, v, ""); err != nil {
			return err
		}
	}
	return nil
}
