package workqueue

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"
)

// Input is the opaque structured payload of a work item.
type Input map[string]any

// Work is the single persisted entity of the queue.
type Work struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	Input          Input          `json:"input,omitempty"`
	Priority       int            `json:"priority"`
	Created        time.Time      `json:"created"`
	Scheduled      time.Time      `json:"scheduled"`
	Started        *time.Time     `json:"started,omitempty"`
	Finished       *time.Time     `json:"finished,omitempty"`
	Success        *bool          `json:"success,omitempty"`
	Error          *WorkError     `json:"error,omitempty"`
	Result         map[string]any `json:"result,omitempty"`
	Worker         string         `json:"worker,omitempty"`
	Workers        []string       `json:"workers,omitempty"`
	Retries        int            `json:"retries"`
	Timeout        time.Duration  `json:"timeout,omitempty"`
	OriginalWorkID string         `json:"original_work_id,omitempty"`
	Autoscheduled  bool           `json:"autoscheduled,omitempty"`
	ScheduleID     string         `json:"schedule_id,omitempty"`
	CoalesceKey    string         `json:"coalesce_key,omitempty"`
	Deleted        *time.Time     `json:"deleted,omitempty"`
}

// WorkError is the failure payload stored with a finished item.
type WorkError struct {
	Name    string         `json:"name"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func (e *WorkError) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}

// Outcome is what an adapter reports back for a processed item.
type Outcome struct {
	Success bool
	Result  map[string]any
	Error   *WorkError
}

// Status derives the item's status from the status rules.
func (w *Work) Status() Status {
	return statusOf(w.flags())
}

// Duration returns finished - started, or zero while the item is not finished.
func (w *Work) Duration() time.Duration {
	if w.Started == nil || w.Finished == nil {
		return 0
	}
	return w.Finished.Sub(*w.Started)
}

// Clone returns a deep copy of the item.
func (w *Work) Clone() *Work {
	if w == nil {
		return nil
	}
	c := *w
	c.Input = Input(cloneMap(w.Input))
	c.Result = cloneMap(w.Result)
	c.Workers = slices.Clone(w.Workers)
	c.Started = cloneTime(w.Started)
	c.Finished = cloneTime(w.Finished)
	c.Deleted = cloneTime(w.Deleted)
	if w.Success != nil {
		s := *w.Success
		c.Success = &s
	}
	if w.Error != nil {
		e := *w.Error
		e.Data = cloneMap(w.Error.Data)
		c.Error = &e
	}
	return &c
}

// Decode converts the input into v through its JSON form.
func (in Input) Decode(v any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInputMarshal, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %w", ErrInputMarshal, err)
	}
	return nil
}

// InputFrom converts any JSON-serialisable value into an Input.
// Nil yields an empty input.
func InputFrom(v any) (Input, error) {
	switch t := v.(type) {
	case nil:
		return Input{}, nil
	case Input:
		return Input(cloneMap(t)), nil
	case map[string]any:
		return Input(cloneMap(t)), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInputMarshal, err)
	}
	in := Input{}
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInputMarshal, err)
	}
	return in, nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// cloneMap copies nested maps and slices so stored items never alias caller
// data. Values that are not JSON-native are normalised through JSON.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = cloneValue(v)
	}
	return c
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case Input:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return slices.Clone(t)
	case nil, string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return v
	default:
		return normalizeValue(v)
	}
}

// normalizeValue copies any other value through its JSON form, the shape every
// persistent store returns it in. Values that cannot be encoded are kept as is.
func normalizeValue(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

// sortedKeys is used where map iteration order must be stable.
func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
