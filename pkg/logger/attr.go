package logger

import (
	"log/slog"
	"strconv"
	"time"
)

// Group creates a slog group attribute from the provided attributes.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Errors groups multiple non-nil errors under the key "errors".
// If all errors are nil, it returns an empty Attr.
func Errors(errs ...error) slog.Attr {
	as := make([]slog.Attr, 0, len(errs))
	for i, err := range errs {
		if err != nil {
			as = append(as, slog.Any(strconv.Itoa(i), err))
		}
	}
	if len(as) == 0 {
		return slog.Attr{}
	}
	return slog.Attr{Key: "errors", Value: slog.GroupValue(as...)}
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Duration records a duration under the key "duration".
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// WorkID records a work item identifier under the key "work_id".
func WorkID(id string) slog.Attr {
	return slog.String("work_id", id)
}

// WorkType records a work type under the key "work_type".
func WorkType(typ string) slog.Attr {
	return slog.String("work_type", typ)
}

// WorkerID records the worker identity under the key "worker_id".
// An empty identity yields an empty Attr.
func WorkerID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("worker_id", id)
}

// ScheduleID records the recurring schedule identifier under the key "schedule_id".
func ScheduleID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("schedule_id", id)
}

// Status records a work status under the key "status".
func Status(status string) slog.Attr {
	return slog.String("status", status)
}

// Count records an item count under the key "count".
func Count(n int) slog.Attr {
	return slog.Int("count", n)
}
