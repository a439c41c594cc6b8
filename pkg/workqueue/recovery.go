package workqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrymomot/workqueue/pkg/logger"
)

// RecoveryParams scopes a crash recovery sweep.
type RecoveryParams struct {
	// Types limits the sweep. Empty means every type.
	Types []string
	// WorkerID is the identity whose allocations are reclaimed. Allocations
	// without a worker are reclaimed by every sweep.
	WorkerID string
	// ReferenceDate is the latest started time considered orphaned. Zero means now.
	ReferenceDate time.Time
}

// MarkOldWorkAsFailed fails ALLOCATED items left behind by a previous run of
// the worker. Run it once at start-up before polling. It returns the number of
// recovered items.
func (q *Queue) MarkOldWorkAsFailed(ctx context.Context, p RecoveryParams) (int, error) {
	workerID := p.WorkerID
	if workerID == "" {
		workerID = q.workerID
	}
	ref := p.ReferenceDate
	if ref.IsZero() {
		ref = q.Now()
	}

	orphans, err := q.repo.FindWorks(ctx, Filter{
		Types:    p.Types,
		Statuses: []Status{StatusAllocated},
		Started:  TimeRange{To: normalizeTime(ref)},
		Workers:  []string{workerID, ""},
	}, FindOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to find orphaned work: %w", err)
	}

	recovered := 0
	for _, w := range orphans {
		outcome := Outcome{Error: &WorkError{
			Name:    ErrorNameInterrupted,
			Message: fmt.Sprintf("work was interrupted by a restart of worker %q", workerID),
			Data:    map[string]any{"started": w.Started.Format(time.RFC3339Nano)},
		}}
		now := q.Now()
		finished, err := q.repo.FinishWork(ctx, FinishParams{ID: w.ID, Outcome: outcome, WorkerID: workerID, Now: now})
		if errors.Is(err, ErrWorkAlreadyFinished) {
			continue
		}
		if err != nil {
			return recovered, fmt.Errorf("failed to recover work %q: %w", w.ID, err)
		}
		recovered++
		q.events.publish(EventFinished, finished, now)
	}

	if recovered > 0 {
		q.logger.WarnContext(ctx, "recovered interrupted work",
			logger.WorkerID(workerID),
			logger.Count(recovered))
	}
	return recovered, nil
}
