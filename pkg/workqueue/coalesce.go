package workqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/dmitrymomot/workqueue/pkg/logger"
)

// Reference names changed entities. A batch input nests references as
// entityType -> operation -> [ids].
type Reference struct {
	EntityType string   `json:"entity_type"`
	Operation  string   `json:"operation"`
	IDs        []string `json:"ids"`
}

// Validate rejects references that cannot be stored as nested input keys.
func (r Reference) Validate() error {
	for _, k := range []string{r.EntityType, r.Operation} {
		if k == "" || strings.Contains(k, ".") || strings.HasPrefix(k, "$") {
			return fmt.Errorf("%w: key %q", ErrInvalidReference, k)
		}
	}
	if len(r.IDs) == 0 || slices.Contains(r.IDs, "") {
		return fmt.Errorf("%w: ids must be non-empty", ErrInvalidReference)
	}
	return nil
}

// MergeReference adds the reference ids to the input with set semantics and
// returns the merged input. in is not modified.
func MergeReference(in Input, ref Reference) Input {
	out := Input(cloneMap(in))
	if out == nil {
		out = Input{}
	}
	ops, _ := out[ref.EntityType].(map[string]any)
	if ops == nil {
		ops = map[string]any{}
	}
	ids := toStrings(ops[ref.Operation])
	for _, id := range ref.IDs {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	list := make([]any, len(ids))
	for i, id := range ids {
		list[i] = id
	}
	ops[ref.Operation] = list
	out[ref.EntityType] = ops
	return out
}

// ParseReferences decodes a batch input into references sorted by entity
// type and operation.
func ParseReferences(in Input) ([]Reference, error) {
	refs := make([]Reference, 0, len(in))
	for _, et := range sortedKeys(in) {
		ops, ok := in[et].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not an operation map", ErrInvalidReference, et)
		}
		for _, op := range sortedKeys(ops) {
			ids := toStrings(ops[op])
			if ids == nil {
				return nil, fmt.Errorf("%w: %s.%s is not an id list", ErrInvalidReference, et, op)
			}
			refs = append(refs, Reference{EntityType: et, Operation: op, IDs: ids})
		}
	}
	return refs, nil
}

func toStrings(v any) []string {
	switch t := v.(type) {
	case []string:
		return slices.Clone(t)
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil
			}
			out = append(out, s)
		}
		return out
	}
	return nil
}

// CoalescerOption configures a Coalescer.
type CoalescerOption func(*coalescerOptions)

type coalescerOptions struct {
	window   time.Duration
	priority int
	key      string
	retries  int
	logger   *slog.Logger
}

// WithCoalesceWindow sets the debounce window. Every trigger pushes the batch
// deadline to now + window.
func WithCoalesceWindow(d time.Duration) CoalescerOption {
	return func(o *coalescerOptions) {
		if d > 0 {
			o.window = d
		}
	}
}

// WithCoalescePriority sets the priority of created batches.
func WithCoalescePriority(p int) CoalescerOption {
	return func(o *coalescerOptions) { o.priority = p }
}

// WithCoalesceKey overrides the batch key, which defaults to the work type.
func WithCoalesceKey(key string) CoalescerOption {
	return func(o *coalescerOptions) {
		if key != "" {
			o.key = key
		}
	}
}

// WithCoalesceLogger sets the coalescer logger.
func WithCoalesceLogger(l *slog.Logger) CoalescerOption {
	return func(o *coalescerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// Coalescer debounces bursts of triggers into one pending batch item.
type Coalescer struct {
	q        *Queue
	workType string
	window   time.Duration
	priority int
	key      string
	retries  int
	logger   *slog.Logger
}

// NewCoalescer creates a coalescer adding batches of workType to q.
func NewCoalescer(q *Queue, workType string, opts ...CoalescerOption) (*Coalescer, error) {
	if q == nil {
		return nil, ErrQueueNil
	}
	if workType == "" {
		return nil, ErrTypeRequired
	}
	if !q.registry.Has(workType) {
		return nil, fmt.Errorf("%w: %s", ErrAdapterNotFound, workType)
	}

	options := &coalescerOptions{
		window:  time.Second,
		key:     workType,
		retries: 3,
		logger:  q.logger,
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Coalescer{
		q:        q,
		workType: workType,
		window:   options.window,
		priority: options.priority,
		key:      options.key,
		retries:  options.retries,
		logger:   options.logger.With(logger.Component("coalescer"), logger.WorkType(workType)),
	}, nil
}

// Trigger merges ref into the pending batch or starts a new one.
func (c *Coalescer) Trigger(ctx context.Context, ref Reference) (*Work, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	var lastErr error
	for range c.retries {
		now := c.q.Now()
		w, created, err := c.q.repo.CoalesceWork(ctx, CoalesceParams{
			Key:       c.key,
			Type:      c.workType,
			Priority:  c.priority,
			Reference: ref,
			Scheduled: now.Add(c.window),
			Now:       now,
			NewID:     c.q.newID(),
		})
		if errors.Is(err, ErrWorkExists) {
			// a concurrent trigger created the batch first, merge into it
			lastErr = err
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to coalesce work %q: %w", c.workType, err)
		}

		if created {
			c.logger.DebugContext(ctx, "coalesced batch created", logger.WorkID(w.ID))
			c.q.events.publish(EventAdded, w, now)
		} else {
			c.logger.DebugContext(ctx, "trigger merged into batch", logger.WorkID(w.ID))
			c.q.events.publish(EventRescheduled, w, now)
		}
		return w, nil
	}
	return nil, fmt.Errorf("failed to coalesce work %q after %d attempts: %w", c.workType, c.retries, lastErr)
}

// Window returns the debounce window.
func (c *Coalescer) Window() time.Duration { return c.window }
