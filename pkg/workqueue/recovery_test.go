package workqueue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/workqueue/pkg/logger"
	"github.com/dmitrymomot/workqueue/pkg/workqueue"
)

func TestQueue_MarkOldWorkAsFailed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t, []workqueue.Adapter{okAdapter("T"), okAdapter("U")})
	now := env.clock.Now()

	insert := func(id, typ, worker string, started *time.Time) {
		require.NoError(t, env.store.InsertWork(ctx, &workqueue.Work{
			ID: id, Type: typ, Created: now, Scheduled: now, Worker: worker, Started: started,
		}))
	}
	old := ptrTime(now.Add(-time.Hour))
	insert("mine", "T", "A", old)
	insert("theirs", "T", "B", old)
	insert("legacy", "T", "", old)
	insert("mine-recent", "T", "A", ptrTime(now.Add(time.Minute)))
	insert("mine-other-type", "U", "A", old)
	insert("pending", "T", "", nil)

	n, err := env.q.MarkOldWorkAsFailed(ctx, workqueue.RecoveryParams{
		Types:         []string{"T"},
		WorkerID:      "A",
		ReferenceDate: now,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	expect := map[string]workqueue.Status{
		"mine":            workqueue.StatusFailed,
		"legacy":          workqueue.StatusFailed,
		"theirs":          workqueue.StatusAllocated,
		"mine-recent":     workqueue.StatusAllocated,
		"mine-other-type": workqueue.StatusAllocated,
		"pending":         workqueue.StatusNew,
	}
	for id, status := range expect {
		w, err := env.q.FindWork(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, status, w.Status(), id)
	}

	w, err := env.q.FindWork(ctx, "mine")
	require.NoError(t, err)
	require.NotNil(t, w.Error)
	assert.Equal(t, workqueue.ErrorNameInterrupted, w.Error.Name)
	assert.Contains(t, w.Error.Message, "restart")

	again, err := env.q.MarkOldWorkAsFailed(ctx, workqueue.RecoveryParams{Types: []string{"T"}, WorkerID: "A", ReferenceDate: now})
	require.NoError(t, err)
	assert.Zero(t, again)
}

func TestQueue_MarkOldWorkAsFailed_Defaults(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t, []workqueue.Adapter{okAdapter("T")})

	_, err := env.q.AddWork(ctx, "T", nil)
	require.NoError(t, err)
	_, err = env.q.Allocate(ctx, []string{"T"}, "")
	require.NoError(t, err)

	n, err := env.q.MarkOldWorkAsFailed(ctx, workqueue.RecoveryParams{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestQueue_MarkOldWorkAsFailed_AfterRestart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := workqueue.NewMemoryStorage()

	start := func() (*workqueue.Queue, *workqueue.Executor) {
		registry := workqueue.NewRegistry()
		require.NoError(t, registry.Register(okAdapter("EXPORT_WORK"), workqueue.WithMaxParallelAllocations(1)))
		q, err := workqueue.NewQueue(store, registry, workqueue.WithLogger(logger.Discard()))
		require.NoError(t, err)
		t.Cleanup(func() { _ = q.Close() })
		exec, err := workqueue.NewExecutor(q)
		require.NoError(t, err)
		return q, exec
	}

	q1, exec1 := start()
	_, err := q1.AddWork(ctx, "EXPORT_WORK", nil)
	require.NoError(t, err)
	_, err = q1.AddWork(ctx, "EXPORT_WORK", nil)
	require.NoError(t, err)
	orphan, err := q1.Allocate(ctx, []string{"EXPORT_WORK"}, exec1.WorkerID())
	require.NoError(t, err)
	require.NotNil(t, orphan)

	q2, exec2 := start()
	assert.Equal(t, exec1.WorkerID(), exec2.WorkerID())

	n, err := q2.MarkOldWorkAsFailed(ctx, workqueue.RecoveryParams{WorkerID: exec2.WorkerID()})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	w, err := q2.FindWork(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, workqueue.StatusFailed, w.Status())

	next, err := q2.ProcessNextWork(ctx, exec2.WorkerID())
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, workqueue.StatusSuccess, next.Status())
}

func TestWorkerID_Defaults(t *testing.T) {
	t.Parallel()

	assert.Equal(t, workqueue.DefaultWorkerID(), workqueue.DefaultWorkerID())
	assert.NotEqual(t, workqueue.UniqueWorkerID(), workqueue.UniqueWorkerID())
	assert.Contains(t, workqueue.UniqueWorkerID(), workqueue.DefaultWorkerID()+"-")
}
