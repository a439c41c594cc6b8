// Package reindex is the SEARCH_REINDEX work adapter.
//
// Producers call Trigger (through a workqueue.Coalescer) for every changed
// entity. The coalesced batch input maps entity type to operation to ids; the
// adapter loads the current documents and sends one bulk request per batch.
// Ids under the "delete" operation, and ids the loader no longer finds, are
// removed from the index.
package reindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dmitrymomot/workqueue/pkg/logger"
	"github.com/dmitrymomot/workqueue/pkg/opensearch"
	"github.com/dmitrymomot/workqueue/pkg/workqueue"
)

// Type is the work type handled by this adapter.
const Type = "SEARCH_REINDEX"

// OpDelete is the reference operation that removes documents.
const OpDelete = "delete"

// Error names written to failed items.
const (
	ErrorNameInvalidBatch = "InvalidReindexBatch"
	ErrorNameLoad         = "DocumentLoadError"
	ErrorNameBulk         = "BulkIndexError"
	ErrorNameRejected     = "DocumentsRejected"
)

// Bulker sends bulk actions. *opensearch.Indexer implements it.
type Bulker interface {
	Bulk(ctx context.Context, actions []opensearch.Action) (opensearch.BulkResult, error)
}

// Loader returns the current documents for ids, keyed by id.
// Missing ids are treated as deleted.
type Loader interface {
	Load(ctx context.Context, entityType string, ids []string) (map[string]any, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, entityType string, ids []string) (map[string]any, error)

func (f LoaderFunc) Load(ctx context.Context, entityType string, ids []string) (map[string]any, error) {
	return f(ctx, entityType, ids)
}

// Option configures the adapter.
type Option func(*adapter)

// WithIndexPrefix prefixes every index name. The index is prefix + entity type.
func WithIndexPrefix(prefix string) Option {
	return func(a *adapter) {
		a.prefix = prefix
	}
}

// WithLogger sets the adapter logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

type adapter struct {
	bulk   Bulker
	loader Loader
	prefix string
	logger *slog.Logger
}

// New returns the SEARCH_REINDEX adapter.
func New(bulk Bulker, loader Loader, opts ...Option) workqueue.Adapter {
	a := &adapter{bulk: bulk, loader: loader, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(logger.Component("reindex"))
	return workqueue.NewAdapter(Type, a.do)
}

// NewCoalescer returns the coalescer producers use to schedule re-indexing.
func NewCoalescer(q *workqueue.Queue, window time.Duration, opts ...workqueue.CoalescerOption) (*workqueue.Coalescer, error) {
	return workqueue.NewCoalescer(q, Type, append([]workqueue.CoalescerOption{workqueue.WithCoalesceWindow(window)}, opts...)...)
}

func (a *adapter) do(ctx context.Context, input workqueue.Input, api workqueue.API) (workqueue.Outcome, error) {
	refs, err := workqueue.ParseReferences(input)
	if err != nil {
		return workqueue.Failure(ErrorNameInvalidBatch, err.Error()), nil
	}

	actions, err := a.actions(ctx, refs)
	if err != nil {
		return workqueue.Failure(ErrorNameLoad, err.Error()), nil
	}

	res, err := a.bulk.Bulk(ctx, actions)
	if err != nil {
		return workqueue.Failure(ErrorNameBulk, err.Error()), nil
	}

	result := map[string]any{
		"indexed": res.Count(opensearch.OpIndex),
		"deleted": res.Count(opensearch.OpDelete),
	}
	failed := res.Failures()
	if len(failed) == 0 {
		return workqueue.Success(result), nil
	}

	rejected := make([]any, 0, len(failed))
	for _, it := range failed {
		rejected = append(rejected, map[string]any{
			"index":  it.Index,
			"id":     it.ID,
			"status": it.Status,
			"type":   it.ErrorType,
			"reason": it.ErrorReason,
		})
	}
	a.logger.WarnContext(ctx, "documents rejected by bulk request",
		logger.WorkID(api.Work().ID),
		logger.Count(len(failed)))

	out := workqueue.Failure(ErrorNameRejected, fmt.Sprintf("%d of %d documents rejected", len(failed), len(res.Items)))
	result["rejected"] = rejected
	out.Error.Data = result
	return out, nil
}

// actions builds bulk actions for refs. Deletes win over updates of the same
// id within one batch.
func (a *adapter) actions(ctx context.Context, refs []workqueue.Reference) ([]opensearch.Action, error) {
	deleted := map[string][]string{}
	updated := map[string][]string{}
	var types []string
	for _, ref := range refs {
		if !slices.Contains(types, ref.EntityType) {
			types = append(types, ref.EntityType)
		}
		if ref.Operation == OpDelete {
			deleted[ref.EntityType] = appendUnique(deleted[ref.EntityType], ref.IDs...)
			continue
		}
		updated[ref.EntityType] = appendUnique(updated[ref.EntityType], ref.IDs...)
	}

	var actions []opensearch.Action
	for _, et := range types {
		index := a.prefix + et
		del := deleted[et]
		var ids []string
		for _, id := range updated[et] {
			if !slices.Contains(del, id) {
				ids = append(ids, id)
			}
		}

		if len(ids) > 0 {
			docs, err := a.loader.Load(ctx, et, ids)
			if err != nil {
				return nil, errors.Join(fmt.Errorf("load %s", et), err)
			}
			for _, id := range ids {
				doc, ok := docs[id]
				if !ok {
					del = append(del, id)
					continue
				}
				actions = append(actions, opensearch.Action{Op: opensearch.OpIndex, Index: index, ID: id, Doc: doc})
			}
		}
		for _, id := range del {
			actions = append(actions, opensearch.Action{Op: opensearch.OpDelete, Index: index, ID: id})
		}
	}
	return actions, nil
}

func appendUnique(dst []string, ids ...string) []string {
	for _, id := range ids {
		if !slices.Contains(dst, id) {
			dst = append(dst, id)
		}
	}
	return dst
}
