package workqueue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

type (
	// Adapter executes one type of work.
	Adapter interface {
		Type() string
		DoWork(ctx context.Context, input Input, api API) (Outcome, error)
	}

	// AdapterFunc is the function form of Adapter.DoWork.
	AdapterFunc func(ctx context.Context, input Input, api API) (Outcome, error)

	// TypedAdapterFunc receives the input decoded into T.
	TypedAdapterFunc[T any] func(ctx context.Context, input T, api API) (Outcome, error)

	// ExternalAdapter is implemented by adapters whose work is executed by
	// another system. Register treats them as registered WithExternal.
	ExternalAdapter interface {
		Adapter
		External() bool
	}
)

// NewAdapter wraps fn as the adapter for typ.
func NewAdapter(typ string, fn AdapterFunc) Adapter {
	return &funcAdapter{typ: typ, fn: fn}
}

// NewTypedAdapter decodes the input into T before calling fn.
// A decode failure is reported as a failed outcome.
func NewTypedAdapter[T any](typ string, fn TypedAdapterFunc[T]) Adapter {
	return &funcAdapter{typ: typ, fn: func(ctx context.Context, input Input, api API) (Outcome, error) {
		var v T
		if err := input.Decode(&v); err != nil {
			return Failure("InputDecodeError", err.Error()), nil
		}
		return fn(ctx, v, api)
	}}
}

// NewExternalAdapter registers a type that is executed outside this process.
// Work can be added for it but this process never allocates it.
func NewExternalAdapter(typ string) Adapter {
	return externalAdapter{typ: typ}
}

type externalAdapter struct {
	typ string
}

func (a externalAdapter) Type() string { return a.typ }

func (a externalAdapter) External() bool { return true }

func (a externalAdapter) DoWork(context.Context, Input, API) (Outcome, error) {
	return Outcome{}, fmt.Errorf("%w: %s is executed externally", ErrAdapterNotFound, a.typ)
}

type funcAdapter struct {
	typ string
	fn  AdapterFunc
}

func (a *funcAdapter) Type() string { return a.typ }

func (a *funcAdapter) DoWork(ctx context.Context, input Input, api API) (Outcome, error) {
	return a.fn(ctx, input, api)
}

// Success builds a successful outcome.
func Success(result map[string]any) Outcome {
	return Outcome{Success: true, Result: result}
}

// Failure builds a failed outcome with a named error.
func Failure(name, message string) Outcome {
	return Outcome{Error: &WorkError{Name: name, Message: message}}
}

// FailureFromError converts err into a failed outcome. A *WorkError in the
// chain keeps its name, anything else is named "HandlerError".
func FailureFromError(err error) Outcome {
	var we *WorkError
	if errors.As(err, &we) {
		c := *we
		return Outcome{Error: &c}
	}
	return Failure(ErrorNameHandler, err.Error())
}

// Error names written by the queue itself.
const (
	ErrorNameHandler     = "HandlerError"
	ErrorNamePanic       = "HandlerPanic"
	ErrorNameInterrupted = "WorkInterruptedError"
)

// RegisterOption configures one registration.
type RegisterOption func(*registration)

// WithMaxParallelAllocations caps how many items of the type may be ALLOCATED
// at once across all workers. Zero means unlimited.
func WithMaxParallelAllocations(n int) RegisterOption {
	return func(r *registration) {
		if n >= 0 {
			r.maxParallel = n
		}
	}
}

// WithExternal marks the type as not pollable by this process. Work can still
// be added for it.
func WithExternal() RegisterOption {
	return func(r *registration) {
		r.external = true
	}
}

type registration struct {
	adapter     Adapter
	maxParallel int
	external    bool
}

// Registry maps work types to adapters. It is filled at start-up and frozen by
// the first poll.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]*registration
	frozen   bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]*registration)}
}

// Register adds an adapter for its type.
func (r *Registry) Register(a Adapter, opts ...RegisterOption) error {
	if a == nil {
		return ErrAdapterNil
	}
	typ := strings.TrimSpace(a.Type())
	if typ == "" {
		return ErrTypeRequired
	}

	reg := &registration{adapter: a}
	if ext, ok := a.(ExternalAdapter); ok && ext.External() {
		reg.external = true
	}
	for _, opt := range opts {
		opt(reg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("%w: %s", ErrRegistryFrozen, typ)
	}
	if _, ok := r.adapters[typ]; ok {
		return fmt.Errorf("%w: %s", ErrAdapterAlreadyRegistered, typ)
	}
	r.adapters[typ] = reg
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(a Adapter, opts ...RegisterOption) {
	if err := r.Register(a, opts...); err != nil {
		panic(err)
	}
}

// Freeze rejects further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether Freeze was called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Lookup returns the adapter for typ.
func (r *Registry) Lookup(typ string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.adapters[typ]
	if !ok {
		return nil, false
	}
	return reg.adapter, true
}

// Has reports whether typ is registered, external or not.
func (r *Registry) Has(typ string) bool {
	_, ok := r.Lookup(typ)
	return ok
}

// Types returns every registered type, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.adapters)
}

// PollableTypes returns the non-external types, sorted.
func (r *Registry) PollableTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.adapters))
	for _, typ := range sortedKeys(r.adapters) {
		if !r.adapters[typ].external {
			out = append(out, typ)
		}
	}
	return out
}

// MaxParallelAllocations returns the allocation cap of typ, zero when unlimited.
func (r *Registry) MaxParallelAllocations(typ string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if reg, ok := r.adapters[typ]; ok {
		return reg.maxParallel
	}
	return 0
}

// limited returns the pollable types that have an allocation cap.
func (r *Registry) limited(types []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.DeleteFunc(slices.Clone(types), func(typ string) bool {
		reg, ok := r.adapters[typ]
		return !ok || reg.maxParallel == 0
	})
}
