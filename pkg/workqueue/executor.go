package workqueue

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/dmitrymomot/workqueue/pkg/logger"
)

// ExecutorOption configures an Executor.
type ExecutorOption func(*executorOptions)

type executorOptions struct {
	pollInterval  time.Duration
	maxConcurrent int
	limit         rate.Limit
	burst         int
	workerID      string
	logger        *slog.Logger
}

// WithPollInterval sets how often idle slots look for work.
func WithPollInterval(d time.Duration) ExecutorOption {
	return func(o *executorOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithMaxConcurrent sets how many items the executor processes at once.
func WithMaxConcurrent(n int) ExecutorOption {
	return func(o *executorOptions) {
		if n > 0 {
			o.maxConcurrent = n
		}
	}
}

// WithAllocationRate limits allocations per second across all slots.
// Zero or negative means unlimited.
func WithAllocationRate(perSecond float64, burst int) ExecutorOption {
	return func(o *executorOptions) {
		if perSecond <= 0 {
			o.limit = rate.Inf
			return
		}
		o.limit = rate.Limit(perSecond)
		o.burst = max(burst, 1)
	}
}

// WithExecutorWorkerID sets the identity work is allocated to.
func WithExecutorWorkerID(id string) ExecutorOption {
	return func(o *executorOptions) {
		if id != "" {
			o.workerID = id
		}
	}
}

// WithExecutorLogger sets the executor logger.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(o *executorOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// Executor polls the queue and runs adapters. Every tick an idle slot drains
// eligible work until none is left.
type Executor struct {
	q        *Queue
	workerID string
	sem      chan struct{}
	limiter  *rate.Limiter
	interval time.Duration
	logger   *slog.Logger

	wg       sync.WaitGroup
	mu       sync.Mutex
	stopMu   sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	stopping atomic.Bool
}

// NewExecutor creates an executor over q.
func NewExecutor(q *Queue, opts ...ExecutorOption) (*Executor, error) {
	if q == nil {
		return nil, ErrQueueNil
	}

	options := &executorOptions{
		pollInterval:  time.Second,
		maxConcurrent: 1,
		limit:         rate.Inf,
		workerID:      q.workerID,
		logger:        q.logger,
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Executor{
		q:        q,
		workerID: options.workerID,
		sem:      make(chan struct{}, options.maxConcurrent),
		limiter:  rate.NewLimiter(options.limit, options.burst),
		interval: options.pollInterval,
		logger:   options.logger.With(logger.Component("executor"), logger.WorkerID(options.workerID)),
	}, nil
}

// WorkerID returns the identity work is allocated to.
func (e *Executor) WorkerID() string { return e.workerID }

// Start launches the polling loop in the background.
func (e *Executor) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancel != nil {
		return ErrAlreadyStarted
	}
	if len(e.q.registry.PollableTypes()) == 0 {
		return ErrNoPollableTypes
	}
	e.q.registry.Freeze()

	e.ctx, e.cancel = context.WithCancel(ctx)
	e.stopping.Store(false)
	go e.run()

	e.logger.Info("executor started",
		slog.Any("types", e.q.registry.PollableTypes()),
		slog.Int("max_concurrent", cap(e.sem)),
		slog.Duration("poll_interval", e.interval))
	return nil
}

// Stop stops polling and waits for in-flight work to finish.
func (e *Executor) Stop() error {
	e.mu.Lock()
	if e.cancel == nil {
		e.mu.Unlock()
		return ErrNotStarted
	}

	e.stopMu.Lock()
	e.stopping.Store(true)
	e.stopMu.Unlock()

	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	cancel()
	e.logger.Info("executor stopping, waiting for in-flight work")
	e.wg.Wait()
	e.logger.Info("executor stopped")
	return nil
}

// Run returns a function suitable for errgroup: it starts the executor and
// stops it when ctx is done.
func (e *Executor) Run(ctx context.Context) func() error {
	return func() error {
		if err := e.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return e.Stop()
	}
}

func (e *Executor) run() {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.tick()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

func (e *Executor) tick() {
	select {
	case e.sem <- struct{}{}:
		e.stopMu.Lock()
		if e.stopping.Load() {
			e.stopMu.Unlock()
			<-e.sem
			return
		}
		e.wg.Add(1)
		e.stopMu.Unlock()

		go func() {
			defer e.wg.Done()
			defer func() { <-e.sem }()
			e.drain()
		}()
	default:
		e.logger.Debug("all executor slots busy, skipping tick")
	}
}

// drain processes work until none is eligible or the executor stops.
// Work already allocated runs on a context detached from the loop so a
// graceful stop lets it finish.
func (e *Executor) drain() {
	for !e.stopping.Load() {
		if err := e.limiter.Wait(e.ctx); err != nil {
			return
		}
		w, err := e.q.ProcessNextWork(context.WithoutCancel(e.ctx), e.workerID)
		if err != nil {
			e.logger.Error("failed to process work", logger.Error(err))
			return
		}
		if w == nil {
			return
		}
	}
}
