package workqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/workqueue/pkg/logger"
)

// Queue is the producer, consumer and operations API over a Repository.
// It is safe for concurrent use; several processes may share one store.
type Queue struct {
	repo     Repository
	registry *Registry
	logger   *slog.Logger
	clock    func() time.Time
	workerID string
	newID    func() string
	events   *eventHub
}

// NewQueue creates a queue over repo dispatching to the adapters in registry.
func NewQueue(repo Repository, registry *Registry, opts ...QueueOption) (*Queue, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}
	if registry == nil {
		return nil, ErrRegistryNil
	}

	options := &queueOptions{
		logger:      slog.Default(),
		clock:       time.Now,
		workerID:    DefaultWorkerID(),
		eventBuffer: 100,
		newID:       func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Queue{
		repo:     repo,
		registry: registry,
		logger:   options.logger.With(logger.Component("workqueue")),
		clock:    options.clock,
		workerID: options.workerID,
		newID:    options.newID,
		events:   newEventHub(options.eventBuffer, options.redactedFields),
	}, nil
}

// DefaultWorkerID returns the host name. It is stable across restarts so the
// start-up recovery sweep reclaims what the previous run left ALLOCATED.
func DefaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "worker"
	}
	return host
}

// UniqueWorkerID appends a random suffix to the host name. Processes using it
// cannot recover each other's allocations after a crash.
func UniqueWorkerID() string {
	return DefaultWorkerID() + "-" + uuid.NewString()[:8]
}

// WorkerID returns the identity used when callers do not pass one.
func (q *Queue) WorkerID() string { return q.workerID }

// Registry returns the adapter registry.
func (q *Queue) Registry() *Registry { return q.registry }

// Now returns the queue clock in UTC at millisecond precision, the
// resolution every store keeps.
func (q *Queue) Now() time.Time {
	return normalizeTime(q.clock())
}

func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// Subscribe streams queue events until ctx is done. Slow subscribers miss events.
func (q *Queue) Subscribe(ctx context.Context) <-chan Event {
	return q.events.subscribe(ctx)
}

// Close closes every subscription.
func (q *Queue) Close() error {
	q.events.close()
	return nil
}

// AddWork enqueues a one-shot item. The type must be registered.
func (q *Queue) AddWork(ctx context.Context, typ string, input any, opts ...AddOption) (*Work, error) {
	if typ == "" {
		return nil, ErrTypeRequired
	}
	if !q.registry.Has(typ) {
		return nil, fmt.Errorf("%w: %s", ErrAdapterNotFound, typ)
	}
	in, err := InputFrom(input)
	if err != nil {
		return nil, err
	}

	options := &addOptions{}
	for _, opt := range opts {
		opt(options)
	}

	now := q.Now()
	scheduled := now
	switch {
	case !options.scheduled.IsZero():
		scheduled = normalizeTime(options.scheduled)
	case options.delay > 0:
		scheduled = now.Add(options.delay)
	}
	id := options.id
	if id == "" {
		id = q.newID()
	}

	w := &Work{
		ID:             id,
		Type:           typ,
		Input:          in,
		Priority:       options.priority,
		Created:        now,
		Scheduled:      scheduled,
		Retries:        options.retries,
		Timeout:        options.timeout,
		Workers:        options.workers,
		OriginalWorkID: options.originalWorkID,
	}
	if err := q.repo.InsertWork(ctx, w); err != nil {
		return nil, fmt.Errorf("failed to add work %q of type %q: %w", id, typ, err)
	}

	q.logger.DebugContext(ctx, "work added",
		logger.WorkID(w.ID),
		logger.WorkType(w.Type),
		slog.Int("priority", w.Priority),
		slog.Time("scheduled", w.Scheduled))
	q.events.publish(EventAdded, w, now)
	return w, nil
}

// RescheduleWork moves a NEW item to a new eligibility time.
func (q *Queue) RescheduleWork(ctx context.Context, id string, scheduled time.Time) (*Work, error) {
	w, err := q.repo.RescheduleWork(ctx, id, normalizeTime(scheduled))
	if err != nil {
		return nil, fmt.Errorf("failed to reschedule work %q: %w", id, err)
	}
	q.events.publish(EventRescheduled, w, q.Now())
	return w, nil
}

// DeleteWork soft-deletes an item that is NEW or ALLOCATED.
func (q *Queue) DeleteWork(ctx context.Context, id string) (*Work, error) {
	now := q.Now()
	w, err := q.repo.DeleteWork(ctx, id, []Status{StatusNew, StatusAllocated}, now)
	if err != nil {
		return nil, fmt.Errorf("failed to delete work %q: %w", id, err)
	}
	q.logger.DebugContext(ctx, "work deleted", logger.WorkID(w.ID), logger.WorkType(w.Type))
	q.events.publish(EventDeleted, w, now)
	return w, nil
}

// FindWork returns the item with id.
func (q *Queue) FindWork(ctx context.Context, id string) (*Work, error) {
	w, err := q.repo.GetWork(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find work %q: %w", id, err)
	}
	return w, nil
}

// FindWorkByOriginalID returns the most recent item requeued from originalID.
func (q *Queue) FindWorkByOriginalID(ctx context.Context, originalID string) (*Work, error) {
	works, err := q.repo.FindWorks(ctx, Filter{OriginalWorkID: originalID}, FindOptions{
		Sort:  []SortField{{Field: FieldCreated, Desc: true}},
		Limit: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find work by original id %q: %w", originalID, err)
	}
	if len(works) == 0 {
		return nil, ErrWorkNotFound
	}
	return works[0], nil
}

// FindWorkQueue lists items matching filter, in DefaultSort unless opts says otherwise.
func (q *Queue) FindWorkQueue(ctx context.Context, filter Filter, opts FindOptions) ([]*Work, error) {
	works, err := q.repo.FindWorks(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list work queue: %w", err)
	}
	return works, nil
}

// Count returns the number of items matching filter.
func (q *Queue) Count(ctx context.Context, filter Filter) (int64, error) {
	n, err := q.repo.CountWorks(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to count work: %w", err)
	}
	return n, nil
}

// WorkExists reports whether any item matches filter.
func (q *Queue) WorkExists(ctx context.Context, filter Filter) (bool, error) {
	works, err := q.repo.FindWorks(ctx, filter, FindOptions{Limit: 1})
	if err != nil {
		return false, fmt.Errorf("failed to check work existence: %w", err)
	}
	return len(works) > 0, nil
}

// ActiveWorkTypes returns the sorted types that have NEW or ALLOCATED work.
func (q *Queue) ActiveWorkTypes(ctx context.Context) ([]string, error) {
	counts, err := q.repo.CountByType(ctx, Filter{Statuses: []Status{StatusNew, StatusAllocated}})
	if err != nil {
		return nil, fmt.Errorf("failed to list active work types: %w", err)
	}
	return sortedKeys(counts), nil
}

// Allocate claims the next eligible item of types for workerID.
// It returns nil without error when nothing is eligible.
func (q *Queue) Allocate(ctx context.Context, types []string, workerID string) (*Work, error) {
	if len(types) == 0 {
		return nil, nil
	}
	if workerID == "" {
		workerID = q.workerID
	}
	now := q.Now()
	w, err := q.repo.AllocateWork(ctx, AllocateParams{Types: types, WorkerID: workerID, Now: now})
	if errors.Is(err, ErrNoWorkToAllocate) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to allocate work: %w", err)
	}

	q.logger.DebugContext(ctx, "work allocated",
		logger.WorkID(w.ID),
		logger.WorkType(w.Type),
		logger.WorkerID(workerID))
	q.events.publish(EventAllocated, w, now)
	return w, nil
}

// FinishWork records the outcome of an item. Finishing an already finished
// item returns the stored item unchanged.
func (q *Queue) FinishWork(ctx context.Context, id string, outcome Outcome, workerID string) (*Work, error) {
	now := q.Now()
	w, err := q.repo.FinishWork(ctx, FinishParams{ID: id, Outcome: outcome, WorkerID: workerID, Now: now})
	if errors.Is(err, ErrWorkAlreadyFinished) {
		return w, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to finish work %q: %w", id, err)
	}

	attrs := []any{
		logger.WorkID(w.ID),
		logger.WorkType(w.Type),
		logger.WorkerID(w.Worker),
		logger.Duration(w.Duration()),
	}
	if outcome.Success {
		q.logger.InfoContext(ctx, "work finished", attrs...)
	} else {
		if w.Error != nil {
			attrs = append(attrs, slog.String("error_name", w.Error.Name), slog.String("error_message", w.Error.Message))
		}
		q.logger.WarnContext(ctx, "work failed", attrs...)
	}
	q.events.publish(EventFinished, w, now)
	return w, nil
}

// ProcessNextWork claims one item of a pollable type under its allocation cap,
// runs its adapter and records the outcome. It returns the finished item, or
// nil when nothing was eligible. Adapter errors and panics become failed
// outcomes. The first call freezes the registry.
func (q *Queue) ProcessNextWork(ctx context.Context, workerID string) (*Work, error) {
	q.registry.Freeze()
	if workerID == "" {
		workerID = q.workerID
	}

	types, err := q.allocatableTypes(ctx)
	if err != nil {
		return nil, err
	}
	w, err := q.Allocate(ctx, types, workerID)
	if err != nil || w == nil {
		return nil, err
	}

	outcome := q.execute(ctx, w)
	return q.FinishWork(ctx, w.ID, outcome, workerID)
}

// allocatableTypes drops types that reached their allocation cap.
func (q *Queue) allocatableTypes(ctx context.Context) ([]string, error) {
	types := q.registry.PollableTypes()
	limited := q.registry.limited(types)
	if len(limited) == 0 {
		return types, nil
	}

	counts, err := q.repo.CountByType(ctx, Filter{Types: limited, Statuses: []Status{StatusAllocated}})
	if err != nil {
		return nil, fmt.Errorf("failed to count allocated work: %w", err)
	}
	out := types[:0]
	for _, typ := range types {
		if limit := q.registry.MaxParallelAllocations(typ); limit > 0 && counts[typ] >= int64(limit) {
			continue
		}
		out = append(out, typ)
	}
	return out, nil
}

func (q *Queue) execute(ctx context.Context, w *Work) (outcome Outcome) {
	adapter, ok := q.registry.Lookup(w.Type)
	if !ok {
		return Failure("AdapterNotFound", ErrAdapterNotFound.Error()+": "+w.Type)
	}

	defer func() {
		if r := recover(); r != nil {
			q.logger.ErrorContext(ctx, "adapter panicked",
				logger.WorkID(w.ID),
				logger.WorkType(w.Type),
				slog.Any("panic", r))
			outcome = Outcome{Error: &WorkError{Name: ErrorNamePanic, Message: fmt.Sprint(r)}}
		}
	}()

	out, err := adapter.DoWork(ctx, Input(cloneMap(w.Input)), &workAPI{q: q, work: w})
	if err != nil {
		return FailureFromError(err)
	}
	return out
}

// API is handed to adapters while they run.
type API interface {
	// Work returns a copy of the item being processed.
	Work() *Work
	// AddWork enqueues follow-up work.
	AddWork(ctx context.Context, typ string, input any, opts ...AddOption) (*Work, error)
	// Requeue adds a successor of the current item with its retries decremented
	// (floored at zero) and OriginalWorkID pointing at the current item.
	Requeue(ctx context.Context, opts ...AddOption) (*Work, error)
}

type workAPI struct {
	q    *Queue
	work *Work
}

func (a *workAPI) Work() *Work { return a.work.Clone() }

func (a *workAPI) AddWork(ctx context.Context, typ string, input any, opts ...AddOption) (*Work, error) {
	return a.q.AddWork(ctx, typ, input, opts...)
}

func (a *workAPI) Requeue(ctx context.Context, opts ...AddOption) (*Work, error) {
	w := a.work
	base := []AddOption{
		WithPriority(w.Priority),
		WithRetries(max(w.Retries-1, 0)),
		WithTimeout(w.Timeout),
		WithWorkers(w.Workers...),
		WithOriginalWorkID(w.ID),
	}
	return a.q.AddWork(ctx, w.Type, w.Input, append(base, opts...)...)
}
