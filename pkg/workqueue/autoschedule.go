package workqueue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrymomot/workqueue/pkg/logger"
)

// OneWorkParams describes one tick of a recurring schedule.
type OneWorkParams struct {
	ScheduleID string
	Scheduled  time.Time
	Type       string
	Input      any
	Priority   int
	Retries    int
	Timeout    time.Duration
}

// NoWorkParams selects pending instances of a recurring schedule to cancel.
type NoWorkParams struct {
	Type       string
	Priority   int
	ScheduleID string
	// ExceptID keeps one instance alive, usually the upcoming tick.
	ExceptID string
	// ScheduledAfter limits cancellation to instances scheduled strictly later.
	ScheduledAfter time.Time
}

// ScheduledWorkID is the deterministic id of a schedule tick.
func ScheduledWorkID(scheduleID string, scheduled time.Time) string {
	return scheduleID + ":" + strconv.FormatInt(normalizeTime(scheduled).UnixMilli(), 10)
}

// EnsureOneWork makes sure exactly one live item exists for the schedule tick.
// An existing unstarted item only gets its input, retries and timeout refreshed
// and is undeleted. When the tick was already started or finished it is left
// alone and returned.
func (q *Queue) EnsureOneWork(ctx context.Context, p OneWorkParams) (*Work, error) {
	if p.ScheduleID == "" {
		return nil, ErrScheduleIDRequired
	}
	if p.Type == "" {
		return nil, ErrTypeRequired
	}
	if !q.registry.Has(p.Type) {
		return nil, fmt.Errorf("%w: %s", ErrAdapterNotFound, p.Type)
	}
	in, err := InputFrom(p.Input)
	if err != nil {
		return nil, err
	}

	now := q.Now()
	scheduled := normalizeTime(p.Scheduled)
	w := &Work{
		ID:            ScheduledWorkID(p.ScheduleID, scheduled),
		Type:          p.Type,
		Input:         in,
		Priority:      p.Priority,
		Created:       now,
		Scheduled:     scheduled,
		Retries:       p.Retries,
		Timeout:       p.Timeout,
		Autoscheduled: true,
		ScheduleID:    p.ScheduleID,
	}

	stored, inserted, err := q.repo.UpsertScheduledWork(ctx, w)
	if errors.Is(err, ErrScheduleSlotTaken) {
		q.logger.DebugContext(ctx, "schedule tick already taken, skipping",
			logger.WorkID(w.ID),
			logger.ScheduleID(p.ScheduleID))
		return q.FindWork(ctx, w.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to ensure scheduled work %q: %w", w.ID, err)
	}
	if inserted {
		q.logger.DebugContext(ctx, "scheduled work added",
			logger.WorkID(stored.ID),
			logger.WorkType(stored.Type),
			logger.ScheduleID(p.ScheduleID))
		q.events.publish(EventAdded, stored, now)
	}
	return stored, nil
}

// EnsureNoWork soft-deletes NEW auto-scheduled instances of a schedule.
// Manual work and instances already started are never touched.
func (q *Queue) EnsureNoWork(ctx context.Context, p NoWorkParams) ([]*Work, error) {
	if p.ScheduleID == "" {
		return nil, ErrScheduleIDRequired
	}

	priority := p.Priority
	filter := Filter{
		Statuses:          []Status{StatusNew},
		ScheduleID:        p.ScheduleID,
		AutoscheduledOnly: true,
		Priority:          &priority,
	}
	if p.Type != "" {
		filter.Types = []string{p.Type}
	}
	if p.ExceptID != "" {
		filter.ExcludeIDs = []string{p.ExceptID}
	}
	if !p.ScheduledAfter.IsZero() {
		filter.Scheduled.From = normalizeTime(p.ScheduledAfter).Add(time.Millisecond)
	}

	candidates, err := q.repo.FindWorks(ctx, filter, FindOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to find superseded work for schedule %q: %w", p.ScheduleID, err)
	}

	now := q.Now()
	deleted := make([]*Work, 0, len(candidates))
	for _, c := range candidates {
		w, err := q.repo.DeleteWork(ctx, c.ID, []Status{StatusNew}, now)
		switch {
		case errors.Is(err, ErrInvalidWorkState), errors.Is(err, ErrWorkNotFound):
			// allocated or removed since the lookup
			continue
		case err != nil:
			return deleted, fmt.Errorf("failed to delete superseded work %q: %w", c.ID, err)
		}
		q.events.publish(EventDeleted, w, now)
		deleted = append(deleted, w)
	}

	if len(deleted) > 0 {
		q.logger.InfoContext(ctx, "superseded scheduled work deleted",
			logger.ScheduleID(p.ScheduleID),
			logger.Count(len(deleted)))
	}
	return deleted, nil
}
