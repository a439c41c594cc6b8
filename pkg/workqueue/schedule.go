package workqueue

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule yields the tick times of a recurring job.
type Schedule interface {
	// Next returns the first tick strictly after from.
	Next(from time.Time) time.Time
	String() string
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a five-field cron expression, a descriptor such as
// "@daily", or "@every <duration>". Cron expressions are evaluated in UTC unless
// they carry a CRON_TZ= prefix. "@every" ticks are aligned to the Unix epoch so
// every process derives the same tick times.
func ParseSchedule(spec string) (Schedule, error) {
	spec = strings.TrimSpace(spec)
	if rest, ok := strings.CutPrefix(spec, "@every "); ok {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil || d < time.Second {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSchedule, spec)
		}
		return intervalSchedule{every: d, spec: spec}, nil
	}

	expr := spec
	if !strings.HasPrefix(expr, "TZ=") && !strings.HasPrefix(expr, "CRON_TZ=") {
		expr = "CRON_TZ=UTC " + expr
	}
	s, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidSchedule, spec, err)
	}
	return cronSchedule{spec: spec, s: s}, nil
}

// MustParseSchedule is like ParseSchedule but panics on error.
func MustParseSchedule(spec string) Schedule {
	s, err := ParseSchedule(spec)
	if err != nil {
		panic(err)
	}
	return s
}

type cronSchedule struct {
	spec string
	s    cron.Schedule
}

func (c cronSchedule) Next(from time.Time) time.Time {
	return c.s.Next(from).UTC()
}

func (c cronSchedule) String() string { return c.spec }

// intervalSchedule ticks at every multiple of every since the Unix epoch.
type intervalSchedule struct {
	every time.Duration
	spec  string
}

func (s intervalSchedule) Next(from time.Time) time.Time {
	step := s.every.Milliseconds()
	ms := from.UnixMilli()
	next := (ms/step + 1) * step
	if ms < 0 && ms%step != 0 {
		next -= step
	}
	return time.UnixMilli(next).UTC()
}

func (s intervalSchedule) String() string {
	if s.spec != "" {
		return s.spec
	}
	return "@every " + s.every.String()
}

// Every creates an epoch-aligned interval schedule.
func Every(d time.Duration) Schedule {
	if d < time.Millisecond {
		d = time.Minute
	}
	return intervalSchedule{every: d}
}

// HourlyAt ticks every hour at minute (UTC).
func HourlyAt(minute int) Schedule {
	return MustParseSchedule(fmt.Sprintf("%d * * * *", minute))
}

// DailyAt ticks once a day at hour:minute (UTC).
func DailyAt(hour, minute int) Schedule {
	return MustParseSchedule(fmt.Sprintf("%d %d * * *", minute, hour))
}

// WeeklyOn ticks once a week on weekday at hour:minute (UTC).
func WeeklyOn(weekday time.Weekday, hour, minute int) Schedule {
	return MustParseSchedule(fmt.Sprintf("%d %d * * %d", minute, hour, int(weekday)))
}

// MonthlyOn ticks once a month on day at hour:minute (UTC). Months without
// that day are skipped.
func MonthlyOn(day, hour, minute int) Schedule {
	return MustParseSchedule(fmt.Sprintf("%d %d %d * *", minute, hour, day))
}
