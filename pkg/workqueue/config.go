package workqueue

import "time"

// Config holds the environment configuration of a worker process.
type Config struct {
	WorkerID          string        `env:"WORKQUEUE_WORKER_ID"`
	UniqueWorkerID    bool          `env:"WORKQUEUE_UNIQUE_WORKER_ID" envDefault:"false"`
	PollInterval      time.Duration `env:"WORKQUEUE_POLL_INTERVAL" envDefault:"1s"`
	MaxConcurrent     int           `env:"WORKQUEUE_MAX_CONCURRENT" envDefault:"4"`
	AllocationRate    float64       `env:"WORKQUEUE_ALLOCATION_RATE" envDefault:"0"`
	AllocationBurst   int           `env:"WORKQUEUE_ALLOCATION_BURST" envDefault:"1"`
	SchedulerInterval time.Duration `env:"WORKQUEUE_SCHEDULER_INTERVAL" envDefault:"30s"`
	CoalesceWindow    time.Duration `env:"WORKQUEUE_COALESCE_WINDOW" envDefault:"1s"`
	RedactedFields    []string      `env:"WORKQUEUE_REDACTED_FIELDS" envSeparator:"," envDefault:"password,token,secret,api_key"`
	RecoverOnStart    bool          `env:"WORKQUEUE_RECOVER_ON_START" envDefault:"true"`
	EventBuffer       int           `env:"WORKQUEUE_EVENT_BUFFER" envDefault:"100"`
}

// QueueOptions converts the config into queue options. The executor inherits
// the queue identity when WorkerID is empty.
func (c Config) QueueOptions() []QueueOption {
	workerID := c.WorkerID
	if workerID == "" && c.UniqueWorkerID {
		workerID = UniqueWorkerID()
	}
	return []QueueOption{
		WithWorkerID(workerID),
		WithRedactedFields(c.RedactedFields...),
		WithEventBuffer(c.EventBuffer),
	}
}

// ExecutorOptions converts the config into executor options.
func (c Config) ExecutorOptions() []ExecutorOption {
	return []ExecutorOption{
		WithPollInterval(c.PollInterval),
		WithMaxConcurrent(c.MaxConcurrent),
		WithAllocationRate(c.AllocationRate, c.AllocationBurst),
		WithExecutorWorkerID(c.WorkerID),
	}
}

// SchedulerOptions converts the config into scheduler options.
func (c Config) SchedulerOptions() []SchedulerOption {
	return []SchedulerOption{WithCheckInterval(c.SchedulerInterval)}
}
