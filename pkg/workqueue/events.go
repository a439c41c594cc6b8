package workqueue

import (
	"context"
	"strings"
	"sync"
	"time"
)

// EventType names a queue lifecycle event.
type EventType string

const (
	EventAdded       EventType = "ADDED"
	EventAllocated   EventType = "ALLOCATED"
	EventFinished    EventType = "FINISHED"
	EventRescheduled EventType = "RESCHEDULED"
	EventDeleted     EventType = "DELETED"
)

// Event carries a redacted copy of the work item it describes.
type Event struct {
	Type EventType `json:"type"`
	Work *Work     `json:"work"`
	At   time.Time `json:"at"`
}

// RedactedValue replaces denylisted input and result values in events.
const RedactedValue = "[REDACTED]"

// eventHub fans events out to subscribers without blocking the publisher.
// A subscriber whose buffer is full misses the event.
type eventHub struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	bufferSize  int
	closed      bool
	denylist    map[string]struct{}
}

func newEventHub(bufferSize int, redacted []string) *eventHub {
	deny := make(map[string]struct{}, len(redacted))
	for _, f := range redacted {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			deny[f] = struct{}{}
		}
	}
	return &eventHub{
		subscribers: make(map[chan Event]struct{}),
		bufferSize:  max(bufferSize, 1),
		denylist:    deny,
	}
}

// subscribe returns a channel closed when ctx is done or the hub closes.
func (h *eventHub) subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, h.bufferSize)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch
	}
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.unsubscribe(ch)
	}()
	return ch
}

func (h *eventHub) unsubscribe(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[ch]; ok {
		delete(h.subscribers, ch)
		close(ch)
	}
}

func (h *eventHub) publish(typ EventType, w *Work, at time.Time) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed || len(h.subscribers) == 0 {
		return
	}
	ev := Event{Type: typ, Work: h.redact(w), At: at}
	for ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subscribers {
		close(ch)
	}
	clear(h.subscribers)
}

// redact returns a deep copy with denylisted keys replaced.
func (h *eventHub) redact(w *Work) *Work {
	c := w.Clone()
	if len(h.denylist) == 0 {
		return c
	}
	c.Input = Input(redactMap(c.Input, h.denylist))
	c.Result = redactMap(c.Result, h.denylist)
	if c.Error != nil {
		c.Error.Data = redactMap(c.Error.Data, h.denylist)
	}
	return c
}

func redactMap(m map[string]any, deny map[string]struct{}) map[string]any {
	if m == nil {
		return nil
	}
	for k, v := range m {
		if _, ok := deny[strings.ToLower(k)]; ok {
			m[k] = RedactedValue
			continue
		}
		m[k] = redactValue(v, deny)
	}
	return m
}

func redactValue(v any, deny map[string]struct{}) any {
	switch t := v.(type) {
	case map[string]any:
		return redactMap(t, deny)
	case Input:
		return redactMap(t, deny)
	case []any:
		for i := range t {
			t[i] = redactValue(t[i], deny)
		}
		return t
	}
	return v
}
