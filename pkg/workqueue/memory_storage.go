package workqueue

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStorage implements Repository in process memory for tests and local runs.
// A single mutex makes every conditional update atomic.
type MemoryStorage struct {
	mu    sync.RWMutex
	works map[string]*Work
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{works: make(map[string]*Work)}
}

var _ Repository = (*MemoryStorage)(nil)

func (ms *MemoryStorage) GetWork(_ context.Context, id string) (*Work, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	w, ok := ms.works[id]
	if !ok {
		return nil, ErrWorkNotFound
	}
	return w.Clone(), nil
}

func (ms *MemoryStorage) FindWorks(_ context.Context, filter Filter, opts FindOptions) ([]*Work, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	matched := ms.match(filter, opts.SortOrDefault())
	if opts.Skip > 0 {
		if opts.Skip >= len(matched) {
			return []*Work{}, nil
		}
		matched = matched[opts.Skip:]
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	out := make([]*Work, len(matched))
	for i, w := range matched {
		out[i] = w.Clone()
	}
	return out, nil
}

func (ms *MemoryStorage) CountWorks(_ context.Context, filter Filter) (int64, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var n int64
	for _, w := range ms.works {
		if filter.Match(w) {
			n++
		}
	}
	return n, nil
}

func (ms *MemoryStorage) CountByType(_ context.Context, filter Filter) (map[string]int64, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	counts := make(map[string]int64)
	for _, w := range ms.works {
		if filter.Match(w) {
			counts[w.Type]++
		}
	}
	return counts, nil
}

func (ms *MemoryStorage) InsertWork(_ context.Context, w *Work) error {
	if w == nil || w.ID == "" {
		return ErrWorkNil
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.works[w.ID]; exists {
		return ErrWorkExists
	}
	if w.CoalesceKey != "" && ms.byCoalesceKey(w.CoalesceKey) != nil {
		return ErrWorkExists
	}
	ms.works[w.ID] = w.Clone()
	return nil
}

func (ms *MemoryStorage) RescheduleWork(_ context.Context, id string, scheduled time.Time) (*Work, error) {
	return ms.update(id, []Status{StatusNew}, ErrInvalidWorkState, func(w *Work) {
		w.Scheduled = scheduled
	})
}

func (ms *MemoryStorage) DeleteWork(_ context.Context, id string, statuses []Status, now time.Time) (*Work, error) {
	return ms.update(id, statuses, ErrInvalidWorkState, func(w *Work) {
		w.Deleted = &now
		w.CoalesceKey = ""
	})
}

func (ms *MemoryStorage) AllocateWork(_ context.Context, p AllocateParams) (*Work, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	candidates := ms.match(p.Filter(), DefaultSort)
	if len(candidates) == 0 {
		return nil, ErrNoWorkToAllocate
	}
	w := candidates[0]
	now := p.Now
	w.Started = &now
	w.Worker = p.WorkerID
	w.CoalesceKey = ""
	return w.Clone(), nil
}

func (ms *MemoryStorage) FinishWork(_ context.Context, p FinishParams) (*Work, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	w, ok := ms.works[p.ID]
	if !ok {
		return nil, ErrWorkNotFound
	}
	if w.Finished != nil {
		return w.Clone(), ErrWorkAlreadyFinished
	}
	applyOutcome(w, p)
	return w.Clone(), nil
}

func (ms *MemoryStorage) UpsertScheduledWork(_ context.Context, w *Work) (*Work, bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	existing, ok := ms.works[w.ID]
	if !ok {
		ms.works[w.ID] = w.Clone()
		return w.Clone(), true, nil
	}
	if existing.Started != nil || existing.Finished != nil {
		return nil, false, ErrScheduleSlotTaken
	}
	existing.Input = Input(cloneMap(w.Input))
	existing.Retries = w.Retries
	existing.Timeout = w.Timeout
	existing.Deleted = nil
	return existing.Clone(), false, nil
}

func (ms *MemoryStorage) CoalesceWork(_ context.Context, p CoalesceParams) (*Work, bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if w := ms.byCoalesceKey(p.Key); w != nil {
		w.Input = MergeReference(w.Input, p.Reference)
		w.Scheduled = p.Scheduled
		return w.Clone(), false, nil
	}
	if _, exists := ms.works[p.NewID]; exists {
		return nil, false, ErrWorkExists
	}
	w := NewCoalescedWork(p)
	ms.works[w.ID] = w
	return w.Clone(), true, nil
}

func (ms *MemoryStorage) ReportCounts(_ context.Context, filter ReportFilter) ([]StatusCount, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	type key struct {
		typ    string
		status Status
	}
	buckets := make(map[key]int64)
	f := filter.Filter()
	for _, w := range ms.works {
		if f.Match(w) {
			buckets[key{w.Type, w.Status()}]++
		}
	}

	out := make([]StatusCount, 0, len(buckets))
	for k, n := range buckets {
		out = append(out, StatusCount{Type: k.typ, Status: k.status, Count: n})
	}
	return out, nil
}

// Len returns the number of stored items, deleted ones included.
func (ms *MemoryStorage) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.works)
}

// match returns live pointers; callers hold the lock.
func (ms *MemoryStorage) match(filter Filter, sort []SortField) []*Work {
	out := make([]*Work, 0)
	for _, w := range ms.works {
		if filter.Match(w) {
			out = append(out, w)
		}
	}
	slices.SortFunc(out, func(a, b *Work) int { return CompareWorks(a, b, sort) })
	return out
}

func (ms *MemoryStorage) byCoalesceKey(key string) *Work {
	for _, w := range ms.works {
		if w.CoalesceKey == key {
			return w
		}
	}
	return nil
}

func (ms *MemoryStorage) update(id string, statuses []Status, stateErr error, fn func(*Work)) (*Work, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	w, ok := ms.works[id]
	if !ok {
		return nil, ErrWorkNotFound
	}
	if len(statuses) > 0 && !slices.Contains(statuses, w.Status()) {
		return nil, stateErr
	}
	fn(w)
	return w.Clone(), nil
}

// applyOutcome is the in-memory form of the finish update shared by all stores.
func applyOutcome(w *Work, p FinishParams) {
	now := p.Now
	success := p.Outcome.Success
	w.Finished = &now
	w.Success = &success
	w.Result = cloneMap(p.Outcome.Result)
	w.Error = nil
	if p.Outcome.Error != nil {
		e := *p.Outcome.Error
		e.Data = cloneMap(p.Outcome.Error.Data)
		w.Error = &e
	}
	if p.WorkerID != "" {
		w.Worker = p.WorkerID
	}
	w.CoalesceKey = ""
}

// NewCoalescedWork builds the first item of a coalescing batch.
// Stores insert it when no pending batch carries the key.
func NewCoalescedWork(p CoalesceParams) *Work {
	return &Work{
		ID:          p.NewID,
		Type:        p.Type,
		Input:       MergeReference(nil, p.Reference),
		Priority:    p.Priority,
		Created:     p.Now,
		Scheduled:   p.Scheduled,
		CoalesceKey: p.Key,
	}
}
