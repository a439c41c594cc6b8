// Package storetest is a behavioural test suite every workqueue.Repository
// implementation must pass.
//
//	func TestStore(t *testing.T) {
//	    storetest.Run(t, func(t *testing.T) workqueue.Repository {
//	        return newEmptyStore(t)
//	    })
//	}
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/workqueue/pkg/workqueue"
)

// Factory returns an empty store. Subtests run sequentially, so a factory may
// reuse one database and truncate it.
type Factory func(t *testing.T) workqueue.Repository

// base is a millisecond-aligned UTC instant every store can round-trip.
var base = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(*testing.T, workqueue.Repository)
	}{
		{"InsertAndGet", testInsertAndGet},
		{"FindWorksFilters", testFindWorksFilters},
		{"FindWorksSortAndPaging", testFindWorksSortAndPaging},
		{"Counts", testCounts},
		{"Reschedule", testReschedule},
		{"Delete", testDelete},
		{"AllocateOrder", testAllocateOrder},
		{"AllocateEligibility", testAllocateEligibility},
		{"AllocateMutualExclusion", testAllocateMutualExclusion},
		{"Finish", testFinish},
		{"UpsertScheduledWork", testUpsertScheduledWork},
		{"CoalesceWork", testCoalesceWork},
		{"ReportCounts", testReportCounts},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func newWork(id, typ string, mods ...func(*workqueue.Work)) *workqueue.Work {
	w := &workqueue.Work{
		ID:        id,
		Type:      typ,
		Input:     workqueue.Input{},
		Created:   base,
		Scheduled: base,
	}
	for _, m := range mods {
		m(w)
	}
	return w
}

func insert(t *testing.T, repo workqueue.Repository, works ...*workqueue.Work) {
	t.Helper()
	for _, w := range works {
		require.NoError(t, repo.InsertWork(context.Background(), w))
	}
}

func ids(works []*workqueue.Work) []string {
	out := make([]string, len(works))
	for i, w := range works {
		out[i] = w.ID
	}
	return out
}

func testInsertAndGet(t *testing.T, repo workqueue.Repository) {
	ctx := context.Background()
	w := newWork("a", "T", func(w *workqueue.Work) {
		w.Input = workqueue.Input{"name": "Jane", "nested": map[string]any{"n": 1.5}, "list": []any{"x", "y"}}
		w.Priority = 4
		w.Retries = 2
		w.Timeout = 90 * time.Second
		w.Workers = []string{"w1", "w2"}
		w.OriginalWorkID = "orig"
	})
	insert(t, repo, w)

	got, err := repo.GetWork(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, w.Input, got.Input)
	assert.Equal(t, 4, got.Priority)
	assert.Equal(t, 2, got.Retries)
	assert.Equal(t, 90*time.Second, got.Timeout)
	assert.Equal(t, []string{"w1", "w2"}, got.Workers)
	assert.Equal(t, "orig", got.OriginalWorkID)
	assert.True(t, base.Equal(got.Created))
	assert.True(t, base.Equal(got.Scheduled))
	assert.Equal(t, workqueue.StatusNew, got.Status())

	assert.ErrorIs(t, repo.InsertWork(ctx, newWork("a", "T")), workqueue.ErrWorkExists)
	assert.ErrorIs(t, repo.InsertWork(ctx, nil), workqueue.ErrWorkNil)

	_, err = repo.GetWork(ctx, "missing")
	assert.ErrorIs(t, err, workqueue.ErrWorkNotFound)
}

func testFindWorksFilters(t *testing.T, repo workqueue.Repository) {
	ctx := context.Background()
	started := base.Add(time.Minute)
	insert(t, repo,
		newWork("new", "A", func(w *workqueue.Work) { w.Input = workqueue.Input{"email": "Jane@Example.com"} }),
		newWork("alloc", "A", func(w *workqueue.Work) { w.Started = &started; w.Worker = "w1" }),
		newWork("sched", "B", func(w *workqueue.Work) {
			w.Autoscheduled = true
			w.ScheduleID = "nightly"
			w.Scheduled = base.Add(time.Hour)
			w.Priority = 7
		}),
		newWork("retry", "B", func(w *workqueue.Work) { w.OriginalWorkID = "new" }),
	)

	cases := []struct {
		name   string
		filter workqueue.Filter
		want   []string
	}{
		{"all", workqueue.Filter{}, []string{"alloc", "new", "retry", "sched"}},
		{"id", workqueue.Filter{ID: "new"}, []string{"new"}},
		{"exclude", workqueue.Filter{ExcludeIDs: []string{"new", "alloc"}}, []string{"retry", "sched"}},
		{"types", workqueue.Filter{Types: []string{"A"}}, []string{"alloc", "new"}},
		{"status new", workqueue.Filter{Statuses: []workqueue.Status{workqueue.StatusNew}}, []string{"new", "retry", "sched"}},
		{"status allocated", workqueue.Filter{Statuses: []workqueue.Status{workqueue.StatusAllocated}}, []string{"alloc"}},
		{"scheduled range", workqueue.Filter{Scheduled: workqueue.TimeRange{From: base.Add(time.Millisecond)}}, []string{"sched"}},
		{"started range", workqueue.Filter{Started: workqueue.TimeRange{To: base.Add(time.Hour)}}, []string{"alloc"}},
		{"search", workqueue.Filter{Search: "jane@example"}, []string{"new"}},
		{"search escapes", workqueue.Filter{Search: ".*"}, []string{}},
		{"schedule id", workqueue.Filter{ScheduleID: "nightly"}, []string{"sched"}},
		{"autoscheduled", workqueue.Filter{AutoscheduledOnly: true}, []string{"sched"}},
		{"original id", workqueue.Filter{OriginalWorkID: "new"}, []string{"retry"}},
		{"priority", workqueue.Filter{Priority: func() *int { p := 7; return &p }()}, []string{"sched"}},
		{"worker", workqueue.Filter{Workers: []string{"w1"}}, []string{"alloc"}},
		{"unset worker", workqueue.Filter{Workers: []string{""}}, []string{"new", "retry", "sched"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			works, err := repo.FindWorks(ctx, tc.filter, workqueue.FindOptions{Sort: []workqueue.SortField{{Field: workqueue.FieldType}}})
			require.NoError(t, err)
			got := ids(works)
			assert.ElementsMatch(t, tc.want, got)
		})
	}
}

func testFindWorksSortAndPaging(t *testing.T, repo workqueue.Repository) {
	ctx := context.Background()
	started := base
	insert(t, repo,
		newWork("low", "T", func(w *workqueue.Work) { w.Priority = 1 }),
		newWork("high", "T", func(w *workqueue.Work) { w.Priority = 10 }),
		newWork("later", "T", func(w *workqueue.Work) { w.Priority = 10; w.Created = base.Add(time.Second) }),
		newWork("running", "T", func(w *workqueue.Work) { w.Started = &started; w.Worker = "x" }),
		newWork("retry", "T", func(w *workqueue.Work) { w.Priority = 10; w.OriginalWorkID = "zzz" }),
	)

	works, err := repo.FindWorks(ctx, workqueue.Filter{}, workqueue.FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"running", "high", "later", "retry", "low"}, ids(works))

	page, err := repo.FindWorks(ctx, workqueue.Filter{}, workqueue.FindOptions{Skip: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"high", "later"}, ids(page))

	byCreatedDesc, err := repo.FindWorks(ctx, workqueue.Filter{Types: []string{"T"}}, workqueue.FindOptions{
		Sort:  []workqueue.SortField{{Field: workqueue.FieldCreated, Desc: true}},
		Limit: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"later"}, ids(byCreatedDesc))
}

func testCounts(t *testing.T, repo workqueue.Repository) {
	ctx := context.Background()
	insert(t, repo, newWork("a1", "A"), newWork("a2", "A"), newWork("b1", "B"))

	n, err := repo.CountWorks(ctx, workqueue.Filter{Types: []string{"A"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	counts, err := repo.CountByType(ctx, workqueue.Filter{})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"A": 2, "B": 1}, counts)
}

func testReschedule(t *testing.T, repo workqueue.Repository) {
	ctx := context.Background()
	started := base
	insert(t, repo, newWork("new", "T"), newWork("alloc", "T", func(w *workqueue.Work) { w.Started = &started }))

	w, err := repo.RescheduleWork(ctx, "new", base.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, base.Add(time.Hour).Equal(w.Scheduled))

	_, err = repo.RescheduleWork(ctx, "alloc", base.Add(time.Hour))
	assert.ErrorIs(t, err, workqueue.ErrInvalidWorkState)
	_, err = repo.RescheduleWork(ctx, "missing", base)
	assert.ErrorIs(t, err, workqueue.ErrWorkNotFound)
}

func testDelete(t *testing.T, repo workqueue.Repository) {
	ctx := context.Background()
	finished := base
	insert(t, repo,
		newWork("new", "T", func(w *workqueue.Work) { w.CoalesceKey = "T" }),
		newWork("done", "T", func(w *workqueue.Work) { w.Finished = &finished; w.Success = func() *bool { b := true; return &b }() }),
	)
	pending := []workqueue.Status{workqueue.StatusNew, workqueue.StatusAllocated}

	w, err := repo.DeleteWork(ctx, "new", pending, base.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, workqueue.StatusDeleted, w.Status())
	assert.Empty(t, w.CoalesceKey)

	_, err = repo.DeleteWork(ctx, "done", pending, base)
	assert.ErrorIs(t, err, workqueue.ErrInvalidWorkState)
	_, err = repo.DeleteWork(ctx, "missing", pending, base)
	assert.ErrorIs(t, err, workqueue.ErrWorkNotFound)

	require.NoError(t, repo.InsertWork(ctx, newWork("next-batch", "T", func(w *workqueue.Work) { w.CoalesceKey = "T" })),
		"a deleted batch releases its key")
}

func testAllocateOrder(t *testing.T, repo workqueue.Repository) {
	ctx := context.Background()
	insert(t, repo,
		newWork("p1", "T", func(w *workqueue.Work) { w.Priority = 1 }),
		newWork("p10", "T", func(w *workqueue.Work) { w.Priority = 10 }),
		newWork("p10-later", "T", func(w *workqueue.Work) { w.Priority = 10; w.Created = base.Add(time.Second) }),
	)

	var order []string
	for range 3 {
		w, err := repo.AllocateWork(ctx, workqueue.AllocateParams{Types: []string{"T"}, WorkerID: "w", Now: base})
		require.NoError(t, err)
		assert.Equal(t, "w", w.Worker)
		assert.Equal(t, workqueue.StatusAllocated, w.Status())
		order = append(order, w.ID)
	}
	assert.Equal(t, []string{"p10", "p10-later", "p1"}, order)

	_, err := repo.AllocateWork(ctx, workqueue.AllocateParams{Types: []string{"T"}, WorkerID: "w", Now: base})
	assert.ErrorIs(t, err, workqueue.ErrNoWorkToAllocate)
}

func testAllocateEligibility(t *testing.T, repo workqueue.Repository) {
	ctx := context.Background()
	deleted := base
	insert(t, repo,
		newWork("future", "T", func(w *workqueue.Work) { w.Scheduled = base.Add(time.Minute) }),
		newWork("other", "U"),
		newWork("deleted", "T", func(w *workqueue.Work) { w.Deleted = &deleted }),
		newWork("pinned", "T", func(w *workqueue.Work) { w.Workers = []string{"b"} }),
		newWork("batch", "C", func(w *workqueue.Work) { w.CoalesceKey = "C" }),
	)

	_, err := repo.AllocateWork(ctx, workqueue.AllocateParams{Types: []string{"T"}, WorkerID: "a", Now: base})
	assert.ErrorIs(t, err, workqueue.ErrNoWorkToAllocate)

	w, err := repo.AllocateWork(ctx, workqueue.AllocateParams{Types: []string{"T"}, WorkerID: "b", Now: base})
	require.NoError(t, err)
	assert.Equal(t, "pinned", w.ID)

	w, err = repo.AllocateWork(ctx, workqueue.AllocateParams{Types: []string{"T"}, WorkerID: "a", Now: base.Add(time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, "future", w.ID)

	w, err = repo.AllocateWork(ctx, workqueue.AllocateParams{Types: []string{"C"}, WorkerID: "a", Now: base})
	require.NoError(t, err)
	assert.Empty(t, w.CoalesceKey, "allocation closes the batch")
}

func testAllocateMutualExclusion(t *testing.T, repo workqueue.Repository) {
	ctx := context.Background()
	const items = 50
	for i := range items {
		insert(t, repo, newWork(fmt.Sprintf("w-%03d", i), "T", func(w *workqueue.Work) { w.Priority = i % 5 }))
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
	)
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker := fmt.Sprintf("worker-%d", g)
			for {
				w, err := repo.AllocateWork(ctx, workqueue.AllocateParams{Types: []string{"T"}, WorkerID: worker, Now: base})
				if err != nil {
					return
				}
				mu.Lock()
				claimed[w.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, items)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "item %s claimed %d times", id, n)
	}
}

func testFinish(t *testing.T, repo workqueue.Repository) {
	ctx := context.Background()
	started := base
	insert(t, repo,
		newWork("ok", "T", func(w *workqueue.Work) { w.Started = &started; w.Worker = "w" }),
		newWork("bad", "T", func(w *workqueue.Work) { w.Started = &started; w.Worker = "w" }),
	)
	finished := base.Add(1500 * time.Millisecond)

	w, err := repo.FinishWork(ctx, workqueue.FinishParams{ID: "ok", Outcome: workqueue.Success(map[string]any{"sent": 2.0}), WorkerID: "w", Now: finished})
	require.NoError(t, err)
	assert.Equal(t, workqueue.StatusSuccess, w.Status())
	assert.Equal(t, 2.0, w.Result["sent"])
	assert.Equal(t, 1500*time.Millisecond, w.Duration())

	w, err = repo.FinishWork(ctx, workqueue.FinishParams{
		ID:      "bad",
		Outcome: workqueue.Outcome{Error: &workqueue.WorkError{Name: "SMTPError", Message: "refused", Data: map[string]any{"code": 550.0}}},
		Now:     finished,
	})
	require.NoError(t, err)
	assert.Equal(t, workqueue.StatusFailed, w.Status())
	require.NotNil(t, w.Error)
	assert.Equal(t, "SMTPError", w.Error.Name)
	assert.Equal(t, 550.0, w.Error.Data["code"])
	assert.Equal(t, "w", w.Worker, "an empty worker id keeps the allocating worker")

	again, err := repo.FinishWork(ctx, workqueue.FinishParams{ID: "ok", Outcome: workqueue.Failure("Late", ""), Now: finished.Add(time.Hour)})
	assert.ErrorIs(t, err, workqueue.ErrWorkAlreadyFinished)
	require.NotNil(t, again)
	assert.Equal(t, workqueue.StatusSuccess, again.Status())

	_, err = repo.FinishWork(ctx, workqueue.FinishParams{ID: "missing", Now: finished})
	assert.ErrorIs(t, err, workqueue.ErrWorkNotFound)
}

func testUpsertScheduledWork(t *testing.T, repo workqueue.Repository) {
	ctx := context.Background()
	tick := newWork("nightly:1", "T", func(w *workqueue.Work) {
		w.Input = workqueue.Input{"v": 1.0}
		w.Priority = 3
		w.Autoscheduled = true
		w.ScheduleID = "nightly"
	})

	got, inserted, err := repo.UpsertScheduledWork(ctx, tick)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, "nightly:1", got.ID)

	refresh := tick.Clone()
	refresh.Input = workqueue.Input{"v": 2.0}
	refresh.Priority = 9
	refresh.Retries = 5
	got, inserted, err = repo.UpsertScheduledWork(ctx, refresh)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, 2.0, got.Input["v"])
	assert.Equal(t, 5, got.Retries)
	assert.Equal(t, 3, got.Priority, "priority is set on insert only")

	_, err = repo.DeleteWork(ctx, "nightly:1", []workqueue.Status{workqueue.StatusNew}, base)
	require.NoError(t, err)
	got, _, err = repo.UpsertScheduledWork(ctx, refresh)
	require.NoError(t, err)
	assert.Equal(t, workqueue.StatusNew, got.Status(), "a deleted tick is revived")

	stored, err := repo.GetWork(ctx, "nightly:1")
	require.NoError(t, err)
	assert.Equal(t, workqueue.StatusNew, stored.Status())
	assert.True(t, stored.Autoscheduled)

	_, err = repo.AllocateWork(ctx, workqueue.AllocateParams{Types: []string{"T"}, WorkerID: "w", Now: base})
	require.NoError(t, err)
	_, _, err = repo.UpsertScheduledWork(ctx, refresh)
	assert.ErrorIs(t, err, workqueue.ErrScheduleSlotTaken)
}

func testCoalesceWork(t *testing.T, repo workqueue.Repository) {
	ctx := context.Background()
	params := func(id string, ref workqueue.Reference, scheduled time.Time) workqueue.CoalesceParams {
		return workqueue.CoalesceParams{
			Key:       "REINDEX",
			Type:      "REINDEX",
			Priority:  2,
			Reference: ref,
			Scheduled: scheduled,
			Now:       base,
			NewID:     id,
		}
	}

	first, inserted, err := repo.CoalesceWork(ctx, params("b1", workqueue.Reference{EntityType: "user", Operation: "update", IDs: []string{"u1"}}, base.Add(time.Second)))
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, "b1", first.ID)
	assert.Equal(t, 2, first.Priority)

	merged, inserted, err := repo.CoalesceWork(ctx, params("b2", workqueue.Reference{EntityType: "user", Operation: "update", IDs: []string{"u1", "u2"}}, base.Add(2*time.Second)))
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, "b1", merged.ID)
	assert.True(t, base.Add(2*time.Second).Equal(merged.Scheduled), "the deadline is pushed")

	_, _, err = repo.CoalesceWork(ctx, params("b3", workqueue.Reference{EntityType: "org", Operation: "delete", IDs: []string{"o1"}}, base.Add(3*time.Second)))
	require.NoError(t, err)

	stored, err := repo.GetWork(ctx, "b1")
	require.NoError(t, err)
	refs, err := workqueue.ParseReferences(stored.Input)
	require.NoError(t, err)
	assert.Equal(t, []workqueue.Reference{
		{EntityType: "org", Operation: "delete", IDs: []string{"o1"}},
		{EntityType: "user", Operation: "update", IDs: []string{"u1", "u2"}},
	}, refs)

	_, err = repo.AllocateWork(ctx, workqueue.AllocateParams{Types: []string{"REINDEX"}, WorkerID: "w", Now: base.Add(time.Hour)})
	require.NoError(t, err)

	next, inserted, err := repo.CoalesceWork(ctx, params("b4", workqueue.Reference{EntityType: "user", Operation: "update", IDs: []string{"u3"}}, base.Add(time.Hour)))
	require.NoError(t, err)
	assert.True(t, inserted, "an allocated batch no longer accepts references")
	assert.Equal(t, "b4", next.ID)
}

func testReportCounts(t *testing.T, repo workqueue.Repository) {
	ctx := context.Background()
	ts := base
	yes, no := true, false
	insert(t, repo,
		newWork("n1", "A"),
		newWork("n2", "A"),
		newWork("a1", "A", func(w *workqueue.Work) { w.Started = &ts }),
		newWork("s1", "A", func(w *workqueue.Work) { w.Started = &ts; w.Finished = &ts; w.Success = &yes }),
		newWork("f1", "B", func(w *workqueue.Work) { w.Started = &ts; w.Finished = &ts; w.Success = &no }),
		newWork("f2", "B", func(w *workqueue.Work) { w.Started = &ts; w.Finished = &ts }),
		newWork("d1", "B", func(w *workqueue.Work) { w.Deleted = &ts }),
		newWork("old", "B", func(w *workqueue.Work) { w.Created = base.Add(-48 * time.Hour) }),
	)

	counts, err := repo.ReportCounts(ctx, workqueue.ReportFilter{Created: workqueue.TimeRange{From: base.Add(-time.Hour)}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []workqueue.StatusCount{
		{Type: "A", Status: workqueue.StatusNew, Count: 2},
		{Type: "A", Status: workqueue.StatusAllocated, Count: 1},
		{Type: "A", Status: workqueue.StatusSuccess, Count: 1},
		{Type: "B", Status: workqueue.StatusFailed, Count: 2},
		{Type: "B", Status: workqueue.StatusDeleted, Count: 1},
	}, counts)

	counts, err = repo.ReportCounts(ctx, workqueue.ReportFilter{Types: []string{"A"}})
	require.NoError(t, err)
	var total int64
	for _, c := range counts {
		assert.Equal(t, "A", c.Type)
		total += c.Count
	}
	assert.Equal(t, int64(4), total)
}
