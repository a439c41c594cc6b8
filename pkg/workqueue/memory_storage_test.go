package workqueue_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/workqueue/pkg/workqueue"
	"github.com/dmitrymomot/workqueue/pkg/workqueue/storetest"
)

func TestMemoryStorage_Contract(t *testing.T) {
	t.Parallel()
	storetest.Run(t, func(*testing.T) workqueue.Repository {
		return workqueue.NewMemoryStorage()
	})
}

func TestMemoryStorage_InsertWork(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := workqueue.NewMemoryStorage()
	now := time.Now().UTC()

	require.NoError(t, store.InsertWork(ctx, &workqueue.Work{ID: "a", Type: "T", Created: now, Scheduled: now}))
	assert.ErrorIs(t, store.InsertWork(ctx, &workqueue.Work{ID: "a", Type: "T"}), workqueue.ErrWorkExists)
	assert.ErrorIs(t, store.InsertWork(ctx, nil), workqueue.ErrWorkNil)

	t.Run("stored copy is isolated", func(t *testing.T) {
		in := workqueue.Input{"k": "v"}
		require.NoError(t, store.InsertWork(ctx, &workqueue.Work{ID: "b", Type: "T", Input: in}))
		in["k"] = "changed"

		w, err := store.GetWork(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, "v", w.Input["k"])
	})

	_, err := store.GetWork(ctx, "missing")
	assert.ErrorIs(t, err, workqueue.ErrWorkNotFound)
}

func TestMemoryStorage_AllocateWork(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("respects eligibility", func(t *testing.T) {
		store := workqueue.NewMemoryStorage()
		require.NoError(t, store.InsertWork(ctx, &workqueue.Work{ID: "future", Type: "T", Scheduled: now.Add(time.Minute)}))
		require.NoError(t, store.InsertWork(ctx, &workqueue.Work{ID: "other-type", Type: "U", Scheduled: now}))
		require.NoError(t, store.InsertWork(ctx, &workqueue.Work{ID: "pinned", Type: "T", Scheduled: now, Workers: []string{"b"}}))

		_, err := store.AllocateWork(ctx, workqueue.AllocateParams{Types: []string{"T"}, WorkerID: "a", Now: now})
		assert.ErrorIs(t, err, workqueue.ErrNoWorkToAllocate)

		w, err := store.AllocateWork(ctx, workqueue.AllocateParams{Types: []string{"T"}, WorkerID: "b", Now: now})
		require.NoError(t, err)
		assert.Equal(t, "pinned", w.ID)
		assert.Equal(t, "b", w.Worker)
		assert.Equal(t, workqueue.StatusAllocated, w.Status())
	})

	t.Run("clears coalesce key", func(t *testing.T) {
		store := workqueue.NewMemoryStorage()
		require.NoError(t, store.InsertWork(ctx, &workqueue.Work{ID: "batch", Type: "T", Scheduled: now, CoalesceKey: "T"}))

		w, err := store.AllocateWork(ctx, workqueue.AllocateParams{Types: []string{"T"}, WorkerID: "a", Now: now})
		require.NoError(t, err)
		assert.Empty(t, w.CoalesceKey)
	})
}

func TestMemoryStorage_AllocateWork_MutualExclusion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := workqueue.NewMemoryStorage()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	const items = 200
	for i := range items {
		require.NoError(t, store.InsertWork(ctx, &workqueue.Work{
			ID: fmt.Sprintf("w-%03d", i), Type: "T", Priority: i % 7, Created: now, Scheduled: now,
		}))
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]string)
		dupes   []string
		wg      sync.WaitGroup
	)
	for g := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker := fmt.Sprintf("worker-%d", g)
			for {
				w, err := store.AllocateWork(ctx, workqueue.AllocateParams{Types: []string{"T"}, WorkerID: worker, Now: now})
				if err != nil {
					return
				}
				mu.Lock()
				if _, ok := claimed[w.ID]; ok {
					dupes = append(dupes, w.ID)
				}
				claimed[w.ID] = worker
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, dupes)
	assert.Len(t, claimed, items)
}

func TestMemoryStorage_FinishWork(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := workqueue.NewMemoryStorage()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.InsertWork(ctx, &workqueue.Work{ID: "a", Type: "T", Scheduled: now}))

	w, err := store.FinishWork(ctx, workqueue.FinishParams{ID: "a", Outcome: workqueue.Success(map[string]any{"n": 1}), WorkerID: "x", Now: now})
	require.NoError(t, err)
	assert.Equal(t, workqueue.StatusSuccess, w.Status())

	again, err := store.FinishWork(ctx, workqueue.FinishParams{ID: "a", Outcome: workqueue.Failure("E", "m"), Now: now})
	assert.ErrorIs(t, err, workqueue.ErrWorkAlreadyFinished)
	require.NotNil(t, again)
	assert.Equal(t, workqueue.StatusSuccess, again.Status())

	_, err = store.FinishWork(ctx, workqueue.FinishParams{ID: "missing", Now: now})
	assert.ErrorIs(t, err, workqueue.ErrWorkNotFound)
}

func TestMemoryStorage_UpsertScheduledWork(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := workqueue.NewMemoryStorage()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	w := &workqueue.Work{ID: "s:1", Type: "T", Input: workqueue.Input{"v": 1.0}, Created: now, Scheduled: now, Autoscheduled: true, ScheduleID: "s"}
	_, inserted, err := store.UpsertScheduledWork(ctx, w)
	require.NoError(t, err)
	assert.True(t, inserted)

	refresh := w.Clone()
	refresh.Input = workqueue.Input{"v": 2.0}
	refresh.Created = now.Add(time.Hour)
	refresh.Retries = 3
	got, inserted, err := store.UpsertScheduledWork(ctx, refresh)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, 2.0, got.Input["v"])
	assert.Equal(t, 3, got.Retries)
	assert.Equal(t, now, got.Created)

	_, err = store.AllocateWork(ctx, workqueue.AllocateParams{Types: []string{"T"}, WorkerID: "a", Now: now})
	require.NoError(t, err)
	_, _, err = store.UpsertScheduledWork(ctx, w)
	assert.ErrorIs(t, err, workqueue.ErrScheduleSlotTaken)
}

func TestMemoryStorage_DeleteAndReschedule(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := workqueue.NewMemoryStorage()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.InsertWork(ctx, &workqueue.Work{ID: "a", Type: "T", Scheduled: now}))

	w, err := store.RescheduleWork(ctx, "a", now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), w.Scheduled)

	w, err = store.DeleteWork(ctx, "a", []workqueue.Status{workqueue.StatusNew}, now)
	require.NoError(t, err)
	assert.Equal(t, workqueue.StatusDeleted, w.Status())

	_, err = store.RescheduleWork(ctx, "a", now)
	assert.ErrorIs(t, err, workqueue.ErrInvalidWorkState)
	_, err = store.DeleteWork(ctx, "a", []workqueue.Status{workqueue.StatusNew}, now)
	assert.ErrorIs(t, err, workqueue.ErrInvalidWorkState)
}

func TestMemoryStorage_FindWorks_Paging(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := workqueue.NewMemoryStorage()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 5 {
		require.NoError(t, store.InsertWork(ctx, &workqueue.Work{ID: fmt.Sprint(i), Type: "T", Priority: i, Created: now}))
	}

	page, err := store.FindWorks(ctx, workqueue.Filter{}, workqueue.FindOptions{Skip: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "3", page[0].ID)
	assert.Equal(t, "2", page[1].ID)

	empty, err := store.FindWorks(ctx, workqueue.Filter{}, workqueue.FindOptions{Skip: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}
