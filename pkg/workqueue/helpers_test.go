package workqueue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/workqueue/pkg/logger"
	"github.com/dmitrymomot/workqueue/pkg/workqueue"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	q        *workqueue.Queue
	store    *workqueue.MemoryStorage
	registry *workqueue.Registry
	clock    *testClock
}

// okAdapter succeeds and records nothing.
func okAdapter(typ string) workqueue.Adapter {
	return workqueue.NewAdapter(typ, func(context.Context, workqueue.Input, workqueue.API) (workqueue.Outcome, error) {
		return workqueue.Success(nil), nil
	})
}

func newTestEnv(t *testing.T, adapters []workqueue.Adapter, opts ...workqueue.QueueOption) *testEnv {
	t.Helper()

	registry := workqueue.NewRegistry()
	for _, a := range adapters {
		require.NoError(t, registry.Register(a))
	}
	return newTestEnvWithRegistry(t, registry, opts...)
}

func newTestEnvWithRegistry(t *testing.T, registry *workqueue.Registry, opts ...workqueue.QueueOption) *testEnv {
	t.Helper()

	store := workqueue.NewMemoryStorage()
	clock := newTestClock()
	base := []workqueue.QueueOption{
		workqueue.WithClock(clock.Now),
		workqueue.WithWorkerID("worker-a"),
		workqueue.WithLogger(logger.Discard()),
	}
	q, err := workqueue.NewQueue(store, registry, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	return &testEnv{q: q, store: store, registry: registry, clock: clock}
}

func ptrTime(t time.Time) *time.Time { return &t }

func ptrBool(b bool) *bool { return &b }

func ptrInt(i int) *int { return &i }
