package workqueue

import "errors"

var (
	// ErrRepositoryNil is returned when a nil repository is provided.
	ErrRepositoryNil = errors.New("repository cannot be nil")

	// ErrQueueNil is returned when a component is built without a queue.
	ErrQueueNil = errors.New("queue cannot be nil")

	// ErrRegistryNil is returned when a queue is built without an adapter registry.
	ErrRegistryNil = errors.New("registry cannot be nil")

	// ErrWorkNil is returned when inserting a nil work item or one without an id.
	ErrWorkNil = errors.New("work cannot be nil and must have an id")

	// ErrTypeRequired is returned when work or an adapter has an empty type.
	ErrTypeRequired = errors.New("work type is required")

	// ErrAdapterNil is returned when registering a nil adapter.
	ErrAdapterNil = errors.New("adapter cannot be nil")

	// ErrAdapterNotFound is returned when no adapter is registered for a work type.
	ErrAdapterNotFound = errors.New("no adapter registered for work type")

	// ErrAdapterAlreadyRegistered is returned when a work type is registered twice.
	ErrAdapterAlreadyRegistered = errors.New("adapter already registered for work type")

	// ErrRegistryFrozen is returned when registering after the first poll.
	ErrRegistryFrozen = errors.New("registry is frozen after the first poll")

	// ErrWorkNotFound is returned when a work item does not exist.
	ErrWorkNotFound = errors.New("work not found")

	// ErrWorkExists is returned when inserting a work item whose id or coalesce key is taken.
	ErrWorkExists = errors.New("work already exists")

	// ErrInvalidWorkState is returned when an operation is not permitted in the item's current status.
	ErrInvalidWorkState = errors.New("operation not permitted in current work status")

	// ErrWorkAlreadyFinished is returned by stores when finishing an already finished item.
	ErrWorkAlreadyFinished = errors.New("work already finished")

	// ErrScheduleSlotTaken is returned by stores when a schedule tick id is held by a started or finished item.
	ErrScheduleSlotTaken = errors.New("schedule slot already taken")

	// ErrNoWorkToAllocate is returned by stores when nothing is eligible for allocation.
	ErrNoWorkToAllocate = errors.New("no work to allocate")

	// ErrInvalidReference is returned for coalescing references that cannot be stored as input keys.
	ErrInvalidReference = errors.New("invalid work reference")

	// ErrScheduleIDRequired is returned when an auto-scheduled operation has no schedule id.
	ErrScheduleIDRequired = errors.New("schedule id is required")

	// ErrInvalidSchedule is returned when a schedule expression cannot be parsed.
	ErrInvalidSchedule = errors.New("invalid schedule expression")

	// ErrScheduleNotFound is returned when removing an unknown recurring schedule.
	ErrScheduleNotFound = errors.New("recurring schedule not found")

	// ErrAlreadyStarted is returned when starting a running executor or scheduler.
	ErrAlreadyStarted = errors.New("already started")

	// ErrNotStarted is returned when stopping an executor or scheduler that is not running.
	ErrNotStarted = errors.New("not started")

	// ErrNoPollableTypes is returned when the executor starts without any pollable adapter.
	ErrNoPollableTypes = errors.New("no pollable adapters registered")

	// ErrInputMarshal is returned when a typed input cannot be converted to or from the generic form.
	ErrInputMarshal = errors.New("failed to convert work input")
)
