package workqueue

import (
	"log/slog"
	"time"
)

// QueueOption configures a Queue.
type QueueOption func(*queueOptions)

type queueOptions struct {
	logger         *slog.Logger
	clock          func() time.Time
	workerID       string
	redactedFields []string
	eventBuffer    int
	newID          func() string
}

// WithLogger sets the queue logger.
func WithLogger(logger *slog.Logger) QueueOption {
	return func(o *queueOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock replaces time.Now. Tests use it to control eligibility.
func WithClock(clock func() time.Time) QueueOption {
	return func(o *queueOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithWorkerID sets the identity used when ProcessNextWork is called without one.
func WithWorkerID(id string) QueueOption {
	return func(o *queueOptions) {
		if id != "" {
			o.workerID = id
		}
	}
}

// WithRedactedFields sets the input and result keys replaced in published events.
// Matching is case-insensitive and applies at any depth.
func WithRedactedFields(fields ...string) QueueOption {
	return func(o *queueOptions) {
		o.redactedFields = append(o.redactedFields, fields...)
	}
}

// WithEventBuffer sets the per-subscriber event buffer.
func WithEventBuffer(n int) QueueOption {
	return func(o *queueOptions) {
		if n > 0 {
			o.eventBuffer = n
		}
	}
}

// WithIDGenerator replaces the uuid generator for ad-hoc work ids.
func WithIDGenerator(fn func() string) QueueOption {
	return func(o *queueOptions) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// AddOption configures one AddWork call.
type AddOption func(*addOptions)

type addOptions struct {
	priority       int
	scheduled      time.Time
	delay          time.Duration
	retries        int
	timeout        time.Duration
	workers        []string
	originalWorkID string
	id             string
}

// WithPriority sets the priority. Higher is claimed first.
func WithPriority(p int) AddOption {
	return func(o *addOptions) { o.priority = p }
}

// WithScheduled sets when the work becomes eligible.
func WithScheduled(t time.Time) AddOption {
	return func(o *addOptions) { o.scheduled = t }
}

// WithDelay makes the work eligible after d. Ignored when WithScheduled is set.
func WithDelay(d time.Duration) AddOption {
	return func(o *addOptions) {
		if d > 0 {
			o.delay = d
		}
	}
}

// WithRetries stores the advisory retry counter.
func WithRetries(n int) AddOption {
	return func(o *addOptions) {
		if n >= 0 {
			o.retries = n
		}
	}
}

// WithTimeout stores the timeout metadata. It is not enforced by the queue.
func WithTimeout(d time.Duration) AddOption {
	return func(o *addOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithWorkers restricts allocation to the listed worker identities.
func WithWorkers(ids ...string) AddOption {
	return func(o *addOptions) { o.workers = append(o.workers, ids...) }
}

// WithOriginalWorkID links the work to the item it replaces.
func WithOriginalWorkID(id string) AddOption {
	return func(o *addOptions) { o.originalWorkID = id }
}

// WithWorkID sets an explicit id instead of a generated one.
func WithWorkID(id string) AddOption {
	return func(o *addOptions) { o.id = id }
}
