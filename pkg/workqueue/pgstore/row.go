package pgstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/workqueue/pkg/workqueue"
)

const insertColumns = `id, type, input, search_text, priority, created, scheduled, started, finished,
	success, error, result, worker, workers, retries, timeout_ms, original_work_id, autoscheduled,
	schedule_id, coalesce_key, deleted`

var insertPlaceholders = placeholders(21)

func placeholders(n int) string {
	p := make([]string, n)
	for i := range p {
		p[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(p, ", ")
}

// row is the column form of a work item, in insertColumns order.
type row struct {
	w          *workqueue.Work
	input      []byte
	searchText string
	errJSON    []byte
	result     []byte
}

func toRow(w *workqueue.Work) (*row, error) {
	in := w.Input
	if in == nil {
		in = workqueue.Input{}
	}
	input, err := encodeJSON(map[string]any(in))
	if err != nil {
		return nil, err
	}
	result, err := encodeJSON(w.Result)
	if err != nil {
		return nil, err
	}
	var errJSON []byte
	if w.Error != nil {
		if errJSON, err = encodeJSON(w.Error); err != nil {
			return nil, err
		}
	}
	return &row{w: w, input: input, searchText: workqueue.SearchText(in), errJSON: errJSON, result: result}, nil
}

func (r *row) values() []any {
	w := r.w
	workers := w.Workers
	if workers == nil {
		workers = []string{}
	}
	return []any{
		w.ID, w.Type, r.input, r.searchText, w.Priority, w.Created, w.Scheduled, w.Started, w.Finished,
		w.Success, r.errJSON, r.result, nullString(w.Worker), workers, w.Retries, w.Timeout.Milliseconds(),
		nullString(w.OriginalWorkID), w.Autoscheduled, nullString(w.ScheduleID), nullString(w.CoalesceKey), w.Deleted,
	}
}

// scanWork reads one row selected with columns. extra receives any trailing
// columns of the statement.
func scanWork(src pgx.Row, extra ...any) (*workqueue.Work, error) {
	var (
		w                                          workqueue.Work
		input, errJSON, result                     []byte
		worker, originalID, scheduleID, coalesceID *string
		timeoutMS                                  int64
	)
	dest := []any{
		&w.ID, &w.Type, &input, &w.Priority, &w.Created, &w.Scheduled, &w.Started, &w.Finished, &w.Success,
		&errJSON, &result, &worker, &w.Workers, &w.Retries, &timeoutMS, &originalID, &w.Autoscheduled,
		&scheduleID, &coalesceID, &w.Deleted,
	}
	if err := src.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	w.Input = workqueue.Input{}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &w.Input); err != nil {
			return nil, errors.Join(ErrFailedToDecodeWork, err)
		}
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &w.Result); err != nil {
			return nil, errors.Join(ErrFailedToDecodeWork, err)
		}
	}
	if len(errJSON) > 0 {
		w.Error = &workqueue.WorkError{}
		if err := json.Unmarshal(errJSON, w.Error); err != nil {
			return nil, errors.Join(ErrFailedToDecodeWork, err)
		}
	}
	if len(w.Workers) == 0 {
		w.Workers = nil
	}
	w.Worker = deref(worker)
	w.OriginalWorkID = deref(originalID)
	w.ScheduleID = deref(scheduleID)
	w.CoalesceKey = deref(coalesceID)
	w.Timeout = time.Duration(timeoutMS) * time.Millisecond
	w.Created = w.Created.UTC()
	w.Scheduled = w.Scheduled.UTC()
	w.Started = utc(w.Started)
	w.Finished = utc(w.Finished)
	w.Deleted = utc(w.Deleted)
	return &w, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
