package workqueue

import (
	"context"
	"time"
)

// AllocateParams selects the work a worker may claim.
type AllocateParams struct {
	Types    []string
	WorkerID string
	Now      time.Time
}

// Filter returns the eligibility filter every store applies when allocating:
// NEW, due by Now, of one of Types and allocatable by WorkerID.
func (p AllocateParams) Filter() Filter {
	return Filter{
		Types:         p.Types,
		Statuses:      []Status{StatusNew},
		Scheduled:     TimeRange{To: p.Now},
		AllocatableBy: p.WorkerID,
	}
}

// FinishParams records an outcome for one item.
type FinishParams struct {
	ID       string
	Outcome  Outcome
	WorkerID string
	Now      time.Time
}

// CoalesceParams describes one append-or-create of a coalescing batch.
type CoalesceParams struct {
	// Key identifies the pending batch. Only NEW items carry it.
	Key       string
	Type      string
	Priority  int
	Reference Reference
	// Scheduled is the new deadline of the batch.
	Scheduled time.Time
	Now       time.Time
	// NewID is used when a fresh batch has to be inserted.
	NewID string
}

// ReportFilter narrows GetReport.
type ReportFilter struct {
	Types   []string
	Created TimeRange
}

// Filter converts the report filter into a work filter.
func (f ReportFilter) Filter() Filter {
	return Filter{Types: f.Types, Created: f.Created}
}

// StatusCount is one (type, status) bucket produced by a store.
type StatusCount struct {
	Type   string
	Status Status
	Count  int64
}

// WorkReader reads work items.
type WorkReader interface {
	// GetWork returns ErrWorkNotFound for unknown ids.
	GetWork(ctx context.Context, id string) (*Work, error)
	FindWorks(ctx context.Context, filter Filter, opts FindOptions) ([]*Work, error)
	CountWorks(ctx context.Context, filter Filter) (int64, error)
	// CountByType groups matching items by type.
	CountByType(ctx context.Context, filter Filter) (map[string]int64, error)
}

// WorkWriter creates and changes work items outside allocation.
type WorkWriter interface {
	// InsertWork returns ErrWorkExists when the id or coalesce key is taken.
	InsertWork(ctx context.Context, w *Work) error
	// RescheduleWork moves a NEW item. ErrInvalidWorkState otherwise.
	RescheduleWork(ctx context.Context, id string, scheduled time.Time) (*Work, error)
	// DeleteWork soft-deletes the item when its status is one of statuses.
	// ErrInvalidWorkState otherwise.
	DeleteWork(ctx context.Context, id string, statuses []Status, now time.Time) (*Work, error)
}

// AllocatorRepository claims and finishes work.
type AllocatorRepository interface {
	// AllocateWork atomically claims the first eligible item by DefaultSort,
	// setting started and worker and clearing the coalesce key.
	// ErrNoWorkToAllocate when nothing is eligible.
	AllocateWork(ctx context.Context, p AllocateParams) (*Work, error)
	// FinishWork records the outcome of an unfinished item. For finished
	// items it returns the stored item together with ErrWorkAlreadyFinished.
	FinishWork(ctx context.Context, p FinishParams) (*Work, error)
}

// ScheduleRepository materialises recurring work.
type ScheduleRepository interface {
	// UpsertScheduledWork inserts w, or refreshes input, retries and timeout and
	// clears deleted on an existing unstarted item with the same id. The bool
	// reports an insert. ErrScheduleSlotTaken when the id is held by a started
	// or finished item.
	UpsertScheduledWork(ctx context.Context, w *Work) (*Work, bool, error)
}

// CoalesceRepository merges triggers into a pending batch.
type CoalesceRepository interface {
	// CoalesceWork appends the reference to the NEW item carrying p.Key and
	// pushes its scheduled time, or inserts a fresh batch. The bool reports an
	// insert. ErrWorkExists when a concurrent insert won the key.
	CoalesceWork(ctx context.Context, p CoalesceParams) (*Work, bool, error)
}

// ReportRepository aggregates counts for reporting.
type ReportRepository interface {
	ReportCounts(ctx context.Context, filter ReportFilter) ([]StatusCount, error)
}

// Repository is everything a Queue needs from a store.
type Repository interface {
	WorkReader
	WorkWriter
	AllocatorRepository
	ScheduleRepository
	CoalesceRepository
	ReportRepository
}
