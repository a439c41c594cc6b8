package workqueue_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/workqueue/pkg/workqueue"
)

func TestNewQueue(t *testing.T) {
	t.Parallel()

	_, err := workqueue.NewQueue(nil, workqueue.NewRegistry())
	assert.ErrorIs(t, err, workqueue.ErrRepositoryNil)

	_, err = workqueue.NewQueue(workqueue.NewMemoryStorage(), nil)
	assert.ErrorIs(t, err, workqueue.ErrRegistryNil)

	q, err := workqueue.NewQueue(workqueue.NewMemoryStorage(), workqueue.NewRegistry())
	require.NoError(t, err)
	assert.NotEmpty(t, q.WorkerID())
}

func TestQueue_AddWork(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("unknown type fails before persisting", func(t *testing.T) {
		env := newTestEnv(t, nil)
		_, err := env.q.AddWork(ctx, "UNKNOWN", nil)
		assert.ErrorIs(t, err, workqueue.ErrAdapterNotFound)
		assert.Zero(t, env.store.Len())
	})

	t.Run("defaults and options", func(t *testing.T) {
		env := newTestEnv(t, []workqueue.Adapter{okAdapter("SEND_EMAIL")})

		type payload struct {
			To string `json:"to"`
		}
		w, err := env.q.AddWork(ctx, "SEND_EMAIL", payload{To: "a@example.com"},
			workqueue.WithPriority(3),
			workqueue.WithDelay(time.Minute),
			workqueue.WithRetries(2),
			workqueue.WithTimeout(time.Second),
			workqueue.WithWorkers("worker-a"),
		)
		require.NoError(t, err)
		assert.NotEmpty(t, w.ID)
		assert.Equal(t, "a@example.com", w.Input["to"])
		assert.Equal(t, 3, w.Priority)
		assert.Equal(t, env.clock.Now(), w.Created)
		assert.Equal(t, env.clock.Now().Add(time.Minute), w.Scheduled)
		assert.Equal(t, 2, w.Retries)
		assert.Equal(t, time.Second, w.Timeout)
		assert.Equal(t, []string{"worker-a"}, w.Workers)
		assert.Equal(t, workqueue.StatusNew, w.Status())

		stored, err := env.q.FindWork(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, w.Input, stored.Input)
	})

	t.Run("explicit id collision", func(t *testing.T) {
		env := newTestEnv(t, []workqueue.Adapter{okAdapter("T")})
		_, err := env.q.AddWork(ctx, "T", nil, workqueue.WithWorkID("fixed"))
		require.NoError(t, err)
		_, err = env.q.AddWork(ctx, "T", nil, workqueue.WithWorkID("fixed"))
		assert.ErrorIs(t, err, workqueue.ErrWorkExists)
	})
}

func TestQueue_ProcessNextWork_PriorityOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var seen []string
	adapter := workqueue.NewAdapter("SEND_EMAIL", func(_ context.Context, in workqueue.Input, api workqueue.API) (workqueue.Outcome, error) {
		seen = append(seen, api.Work().ID)
		return workqueue.Success(map[string]any{"sent": true}), nil
	})
	env := newTestEnv(t, []workqueue.Adapter{adapter})

	low, err := env.q.AddWork(ctx, "SEND_EMAIL", nil, workqueue.WithPriority(1))
	require.NoError(t, err)
	high, err := env.q.AddWork(ctx, "SEND_EMAIL", nil, workqueue.WithPriority(10))
	require.NoError(t, err)

	first, err := env.q.ProcessNextWork(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, high.ID, first.ID)
	assert.Equal(t, workqueue.StatusSuccess, first.Status())
	assert.Equal(t, "worker-a", first.Worker)
	assert.Equal(t, true, first.Result["sent"])

	second, err := env.q.ProcessNextWork(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, low.ID, second.ID)

	none, err := env.q.ProcessNextWork(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, none)
	assert.Equal(t, []string{high.ID, low.ID}, seen)
}

func TestQueue_ProcessNextWork_Failures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name     string
		fn       workqueue.AdapterFunc
		wantName string
	}{
		{
			name: "error",
			fn: func(context.Context, workqueue.Input, workqueue.API) (workqueue.Outcome, error) {
				return workqueue.Outcome{}, errors.New("smtp unavailable")
			},
			wantName: workqueue.ErrorNameHandler,
		},
		{
			name: "work error keeps its name",
			fn: func(context.Context, workqueue.Input, workqueue.API) (workqueue.Outcome, error) {
				return workqueue.Outcome{}, &workqueue.WorkError{Name: "QuotaExceeded", Message: "daily quota"}
			},
			wantName: "QuotaExceeded",
		},
		{
			name: "panic",
			fn: func(context.Context, workqueue.Input, workqueue.API) (workqueue.Outcome, error) {
				panic("boom")
			},
			wantName: workqueue.ErrorNamePanic,
		},
		{
			name: "failed outcome",
			fn: func(context.Context, workqueue.Input, workqueue.API) (workqueue.Outcome, error) {
				return workqueue.Failure("Rejected", "bad address"), nil
			},
			wantName: "Rejected",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, []workqueue.Adapter{workqueue.NewAdapter("T", tt.fn)})
			_, err := env.q.AddWork(ctx, "T", nil)
			require.NoError(t, err)

			w, err := env.q.ProcessNextWork(ctx, "")
			require.NoError(t, err)
			require.NotNil(t, w)
			assert.Equal(t, workqueue.StatusFailed, w.Status())
			require.NotNil(t, w.Error)
			assert.Equal(t, tt.wantName, w.Error.Name)
		})
	}
}

func TestQueue_ProcessNextWork_TypedAdapter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	type exportInput struct {
		Format string `json:"format"`
	}
	var got exportInput
	adapter := workqueue.NewTypedAdapter("EXPORT", func(_ context.Context, in exportInput, _ workqueue.API) (workqueue.Outcome, error) {
		got = in
		return workqueue.Success(nil), nil
	})
	env := newTestEnv(t, []workqueue.Adapter{adapter})

	_, err := env.q.AddWork(ctx, "EXPORT", map[string]any{"format": "csv"})
	require.NoError(t, err)
	_, err = env.q.ProcessNextWork(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "csv", got.Format)
}

func TestQueue_ProcessNextWork_MaxParallelAllocations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	registry := workqueue.NewRegistry()
	require.NoError(t, registry.Register(okAdapter("CAPPED"), workqueue.WithMaxParallelAllocations(1)))
	require.NoError(t, registry.Register(okAdapter("FREE")))
	env := newTestEnvWithRegistry(t, registry)

	_, err := env.q.AddWork(ctx, "CAPPED", nil)
	require.NoError(t, err)
	_, err = env.q.AddWork(ctx, "CAPPED", nil, workqueue.WithPriority(5))
	require.NoError(t, err)
	_, err = env.q.AddWork(ctx, "FREE", nil)
	require.NoError(t, err)

	// one CAPPED item is held by another worker
	held, err := env.q.Allocate(ctx, []string{"CAPPED"}, "worker-b")
	require.NoError(t, err)
	require.NotNil(t, held)

	w, err := env.q.ProcessNextWork(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, "FREE", w.Type)

	w, err = env.q.ProcessNextWork(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, w)

	_, err = env.q.FinishWork(ctx, held.ID, workqueue.Success(nil), "worker-b")
	require.NoError(t, err)

	w, err = env.q.ProcessNextWork(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, "CAPPED", w.Type)
}

func TestQueue_ProcessNextWork_ExternalTypesAreNotPolled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	registry := workqueue.NewRegistry()
	require.NoError(t, registry.Register(workqueue.NewExternalAdapter("REMOTE"), workqueue.WithExternal()))
	env := newTestEnvWithRegistry(t, registry)

	_, err := env.q.AddWork(ctx, "REMOTE", nil)
	require.NoError(t, err)

	w, err := env.q.ProcessNextWork(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, w)

	n, err := env.q.Count(ctx, workqueue.Filter{Statuses: []workqueue.Status{workqueue.StatusNew}})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestQueue_ProcessNextWork_FreezesRegistry(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, []workqueue.Adapter{okAdapter("T")})
	_, err := env.q.ProcessNextWork(context.Background(), "")
	require.NoError(t, err)

	assert.ErrorIs(t, env.registry.Register(okAdapter("LATE")), workqueue.ErrRegistryFrozen)
}

func TestQueue_FinishWork_Idempotent(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newTestEnv(t, []workqueue.Adapter{okAdapter("T")})
	events := env.q.Subscribe(ctx)

	w, err := env.q.AddWork(ctx, "T", nil)
	require.NoError(t, err)
	<-events

	env.clock.Advance(2 * time.Second)
	first, err := env.q.FinishWork(ctx, w.ID, workqueue.Success(nil), "worker-a")
	require.NoError(t, err)
	ev := <-events
	assert.Equal(t, workqueue.EventFinished, ev.Type)

	second, err := env.q.FinishWork(ctx, w.ID, workqueue.Failure("Late", ""), "worker-a")
	require.NoError(t, err)
	assert.Equal(t, first.Finished, second.Finished)
	assert.Equal(t, workqueue.StatusSuccess, second.Status())

	select {
	case ev := <-events:
		t.Fatalf("unexpected event %s", ev.Type)
	default:
	}
}

func TestQueue_DeleteWork(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t, []workqueue.Adapter{okAdapter("T")})

	newWork, err := env.q.AddWork(ctx, "T", nil)
	require.NoError(t, err)
	deleted, err := env.q.DeleteWork(ctx, newWork.ID)
	require.NoError(t, err)
	assert.Equal(t, workqueue.StatusDeleted, deleted.Status())

	_, err = env.q.AddWork(ctx, "T", nil)
	require.NoError(t, err)
	done, err := env.q.ProcessNextWork(ctx, "")
	require.NoError(t, err)
	_, err = env.q.DeleteWork(ctx, done.ID)
	assert.ErrorIs(t, err, workqueue.ErrInvalidWorkState)

	_, err = env.q.DeleteWork(ctx, "missing")
	assert.ErrorIs(t, err, workqueue.ErrWorkNotFound)
}

func TestQueue_RescheduleWork(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t, []workqueue.Adapter{okAdapter("T")})

	w, err := env.q.AddWork(ctx, "T", nil)
	require.NoError(t, err)
	later := env.clock.Now().Add(time.Hour)
	moved, err := env.q.RescheduleWork(ctx, w.ID, later)
	require.NoError(t, err)
	assert.Equal(t, later, moved.Scheduled)

	none, err := env.q.ProcessNextWork(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, none)

	env.clock.Advance(time.Hour)
	got, err := env.q.ProcessNextWork(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, got)

	_, err = env.q.RescheduleWork(ctx, w.ID, later)
	assert.ErrorIs(t, err, workqueue.ErrInvalidWorkState)
}

func TestQueue_Requeue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var attempts atomic.Int32
	adapter := workqueue.NewAdapter("FLAKY", func(ctx context.Context, _ workqueue.Input, api workqueue.API) (workqueue.Outcome, error) {
		attempts.Add(1)
		if api.Work().Retries > 0 {
			if _, err := api.Requeue(ctx); err != nil {
				return workqueue.Outcome{}, err
			}
		}
		return workqueue.Failure("Transient", "try again"), nil
	})
	env := newTestEnv(t, []workqueue.Adapter{adapter})

	original, err := env.q.AddWork(ctx, "FLAKY", map[string]any{"n": 1}, workqueue.WithRetries(2), workqueue.WithPriority(4))
	require.NoError(t, err)

	for range 5 {
		_, err := env.q.ProcessNextWork(ctx, "")
		require.NoError(t, err)
	}
	assert.EqualValues(t, 3, attempts.Load())

	successor, err := env.q.FindWorkByOriginalID(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, successor.Retries)
	assert.Equal(t, 4, successor.Priority)
	assert.EqualValues(t, 1, successor.Input["n"])

	_, err = env.q.FindWorkByOriginalID(ctx, "nobody")
	assert.ErrorIs(t, err, workqueue.ErrWorkNotFound)
}

func TestQueue_QueriesAndActiveTypes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t, []workqueue.Adapter{okAdapter("A"), okAdapter("B"), okAdapter("C")})

	_, err := env.q.AddWork(ctx, "A", map[string]any{"customer": "Globex"})
	require.NoError(t, err)
	_, err = env.q.AddWork(ctx, "B", nil, workqueue.WithDelay(time.Hour))
	require.NoError(t, err)
	c, err := env.q.AddWork(ctx, "C", nil)
	require.NoError(t, err)
	_, err = env.q.DeleteWork(ctx, c.ID)
	require.NoError(t, err)

	types, err := env.q.ActiveWorkTypes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, types)

	exists, err := env.q.WorkExists(ctx, workqueue.Filter{Search: "GLOBEX"})
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = env.q.WorkExists(ctx, workqueue.Filter{Types: []string{"C"}, Statuses: []workqueue.Status{workqueue.StatusNew}})
	require.NoError(t, err)
	assert.False(t, exists)

	list, err := env.q.FindWorkQueue(ctx, workqueue.Filter{Statuses: []workqueue.Status{workqueue.StatusNew}}, workqueue.FindOptions{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestQueue_AddWork_DoesNotAliasInput(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t, []workqueue.Adapter{okAdapter("EXPORT_WORK")})

	rows := []map[string]any{{"id": "a"}}
	w, err := env.q.AddWork(ctx, "EXPORT_WORK", map[string]any{"rows": rows})
	require.NoError(t, err)
	rows[0]["id"] = "changed"

	stored, err := env.q.FindWork(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"id": "a"}}, stored.Input["rows"])
}
