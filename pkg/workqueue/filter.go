package workqueue

import (
	"cmp"
	"encoding/json"
	"slices"
	"strings"
	"time"
)

// TimeRange is an inclusive time interval. A zero bound is open.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// IsZero reports whether both bounds are open.
func (r TimeRange) IsZero() bool {
	return r.From.IsZero() && r.To.IsZero()
}

// Contains reports whether t lies within the range. A nil t only matches an open range.
func (r TimeRange) Contains(t *time.Time) bool {
	if r.IsZero() {
		return true
	}
	if t == nil {
		return false
	}
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// Filter selects work items. Zero-valued fields do not constrain the result.
type Filter struct {
	ID         string
	ExcludeIDs []string
	Types      []string
	Statuses   []Status

	Created   TimeRange
	Scheduled TimeRange
	Started   TimeRange

	// Search is a case-insensitive substring match over the serialised input.
	Search string

	ScheduleID        string
	OriginalWorkID    string
	AutoscheduledOnly bool
	Priority          *int

	// Workers matches the worker field; "" matches an unset worker.
	Workers []string

	// AllocatableBy keeps items whose worker is unset or equal to the identity
	// and whose whitelist is empty or contains it.
	AllocatableBy string

	CoalesceKey string
}

// Sort fields understood by every store.
const (
	FieldStarted        = "started"
	FieldPriority       = "priority"
	FieldOriginalWorkID = "original_work_id"
	FieldCreated        = "created"
	FieldScheduled      = "scheduled"
	FieldFinished       = "finished"
	FieldType           = "type"
)

// SortField orders results by one field. Unset values order lowest.
type SortField struct {
	Field string
	Desc  bool
}

// DefaultSort finishes stragglers first, then prefers higher priority,
// then keeps insertion order.
var DefaultSort = []SortField{
	{Field: FieldStarted, Desc: true},
	{Field: FieldPriority, Desc: true},
	{Field: FieldOriginalWorkID},
	{Field: FieldCreated},
}

// FindOptions controls ordering and paging of FindWorkQueue.
type FindOptions struct {
	Sort  []SortField
	Limit int
	Skip  int
}

// SortOrDefault returns the requested ordering or DefaultSort.
func (o FindOptions) SortOrDefault() []SortField {
	if len(o.Sort) == 0 {
		return DefaultSort
	}
	return o.Sort
}

// Match evaluates the filter against an item in memory.
func (f Filter) Match(w *Work) bool {
	if f.ID != "" && w.ID != f.ID {
		return false
	}
	if slices.Contains(f.ExcludeIDs, w.ID) {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, w.Type) {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, w.Status()) {
		return false
	}
	if !f.Created.Contains(&w.Created) || !f.Scheduled.Contains(&w.Scheduled) || !f.Started.Contains(w.Started) {
		return false
	}
	if f.ScheduleID != "" && w.ScheduleID != f.ScheduleID {
		return false
	}
	if f.OriginalWorkID != "" && w.OriginalWorkID != f.OriginalWorkID {
		return false
	}
	if f.AutoscheduledOnly && !w.Autoscheduled {
		return false
	}
	if f.Priority != nil && w.Priority != *f.Priority {
		return false
	}
	if len(f.Workers) > 0 && !slices.Contains(f.Workers, w.Worker) {
		return false
	}
	if f.AllocatableBy != "" {
		if w.Worker != "" && w.Worker != f.AllocatableBy {
			return false
		}
		if len(w.Workers) > 0 && !slices.Contains(w.Workers, f.AllocatableBy) {
			return false
		}
	}
	if f.CoalesceKey != "" && w.CoalesceKey != f.CoalesceKey {
		return false
	}
	if f.Search != "" && !strings.Contains(SearchText(w.Input), strings.ToLower(f.Search)) {
		return false
	}
	return true
}

// SearchText is the lowercased JSON form of an input that free-text search runs against.
func SearchText(in Input) string {
	if len(in) == 0 {
		return ""
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return ""
	}
	return strings.ToLower(string(raw))
}

// CompareWorks orders two items by the given sort fields.
func CompareWorks(a, b *Work, sort []SortField) int {
	for _, s := range sort {
		c := compareField(a, b, s.Field)
		if s.Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return cmp.Compare(a.ID, b.ID)
}

func compareField(a, b *Work, field string) int {
	switch field {
	case FieldStarted:
		return compareTimePtr(a.Started, b.Started)
	case FieldFinished:
		return compareTimePtr(a.Finished, b.Finished)
	case FieldPriority:
		return cmp.Compare(a.Priority, b.Priority)
	case FieldOriginalWorkID:
		return cmp.Compare(a.OriginalWorkID, b.OriginalWorkID)
	case FieldCreated:
		return a.Created.Compare(b.Created)
	case FieldScheduled:
		return a.Scheduled.Compare(b.Scheduled)
	case FieldType:
		return cmp.Compare(a.Type, b.Type)
	}
	return 0
}

func compareTimePtr(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return a.Compare(*b)
}
