package mongostore

import (
	"encoding/json"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/dmitrymomot/workqueue/pkg/workqueue"
)

// workDocument is the stored form of a work item. Unset optional fields are
// omitted so they sort lowest and match null in queries.
type workDocument struct {
	ID             string         `bson:"_id"`
	Type           string         `bson:"type"`
	Input          bson.Raw       `bson:"input,omitempty"`
	SearchText     string         `bson:"search_text,omitempty"`
	Priority       int            `bson:"priority"`
	Created        time.Time      `bson:"created"`
	Scheduled      time.Time      `bson:"scheduled"`
	Started        *time.Time     `bson:"started,omitempty"`
	Finished       *time.Time     `bson:"finished,omitempty"`
	Success        *bool          `bson:"success,omitempty"`
	Error          *errorDocument `bson:"error,omitempty"`
	Result         bson.Raw       `bson:"result,omitempty"`
	Worker         string         `bson:"worker,omitempty"`
	Workers        []string       `bson:"workers,omitempty"`
	Retries        int            `bson:"retries"`
	TimeoutMS      int64          `bson:"timeout_ms,omitempty"`
	OriginalWorkID string         `bson:"original_work_id,omitempty"`
	Autoscheduled  bool           `bson:"autoscheduled,omitempty"`
	ScheduleID     string         `bson:"schedule_id,omitempty"`
	CoalesceKey    string         `bson:"coalesce_key,omitempty"`
	Deleted        *time.Time     `bson:"deleted,omitempty"`
}

type errorDocument struct {
	Name    string   `bson:"name"`
	Message string   `bson:"message"`
	Data    bson.Raw `bson:"data,omitempty"`
}

func toDocument(w *workqueue.Work) (*workDocument, error) {
	input, err := encodeMap(w.Input)
	if err != nil {
		return nil, err
	}
	result, err := encodeMap(w.Result)
	if err != nil {
		return nil, err
	}
	errDoc, err := toErrorDocument(w.Error)
	if err != nil {
		return nil, err
	}

	return &workDocument{
		ID:             w.ID,
		Type:           w.Type,
		Input:          input,
		SearchText:     workqueue.SearchText(w.Input),
		Priority:       w.Priority,
		Created:        w.Created,
		Scheduled:      w.Scheduled,
		Started:        w.Started,
		Finished:       w.Finished,
		Success:        w.Success,
		Error:          errDoc,
		Result:         result,
		Worker:         w.Worker,
		Workers:        w.Workers,
		Retries:        w.Retries,
		TimeoutMS:      w.Timeout.Milliseconds(),
		OriginalWorkID: w.OriginalWorkID,
		Autoscheduled:  w.Autoscheduled,
		ScheduleID:     w.ScheduleID,
		CoalesceKey:    w.CoalesceKey,
		Deleted:        w.Deleted,
	}, nil
}

func (d *workDocument) toWork() (*workqueue.Work, error) {
	input, err := decodeMap(d.Input)
	if err != nil {
		return nil, err
	}
	result, err := decodeMap(d.Result)
	if err != nil {
		return nil, err
	}

	w := &workqueue.Work{
		ID:             d.ID,
		Type:           d.Type,
		Input:          workqueue.Input(input),
		Priority:       d.Priority,
		Created:        d.Created.UTC(),
		Scheduled:      d.Scheduled.UTC(),
		Started:        utc(d.Started),
		Finished:       utc(d.Finished),
		Success:        d.Success,
		Result:         result,
		Worker:         d.Worker,
		Workers:        d.Workers,
		Retries:        d.Retries,
		Timeout:        time.Duration(d.TimeoutMS) * time.Millisecond,
		OriginalWorkID: d.OriginalWorkID,
		Autoscheduled:  d.Autoscheduled,
		ScheduleID:     d.ScheduleID,
		CoalesceKey:    d.CoalesceKey,
		Deleted:        utc(d.Deleted),
	}
	if w.Input == nil {
		w.Input = workqueue.Input{}
	}
	if d.Error != nil {
		data, err := decodeMap(d.Error.Data)
		if err != nil {
			return nil, err
		}
		w.Error = &workqueue.WorkError{Name: d.Error.Name, Message: d.Error.Message, Data: data}
	}
	return w, nil
}

func toErrorDocument(e *workqueue.WorkError) (*errorDocument, error) {
	if e == nil {
		return nil, nil
	}
	data, err := encodeMap(e.Data)
	if err != nil {
		return nil, err
	}
	return &errorDocument{Name: e.Name, Message: e.Message, Data: data}, nil
}

func encodeMap(m map[string]any) (bson.Raw, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := bson.Marshal(m)
	if err != nil {
		return nil, errors.Join(ErrFailedToEncodeWork, err)
	}
	return raw, nil
}

// decodeMap goes through relaxed extended JSON so nested documents come back
// as plain maps and slices, the same shape a JSON-decoded input has.
func decodeMap(raw bson.Raw) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	js, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return nil, errors.Join(ErrFailedToDecodeWork, err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(js, &out); err != nil {
		return nil, errors.Join(ErrFailedToDecodeWork, err)
	}
	return out, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
