package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/workqueue/pkg/workqueue"
)

// schedulesFile is the YAML document listing recurring jobs:
//
//	schedules:
//	  - id: nightly-export
//	    type: EXPORT_WORK
//	    schedule: "0 3 * * *"
//	    input: {format: csv, statuses: [FAILED]}
//	  - id: reindex-sweep
//	    type: SEARCH_REINDEX
//	    schedule: "@every 15m"
//	    disabled: true
type schedulesFile struct {
	Schedules []scheduleEntry `yaml:"schedules"`
}

type scheduleEntry struct {
	ID       string         `yaml:"id"`
	Type     string         `yaml:"type"`
	Schedule string         `yaml:"schedule"`
	Input    map[string]any `yaml:"input"`
	Priority int            `yaml:"priority"`
	Retries  int            `yaml:"retries"`
	Timeout  time.Duration  `yaml:"timeout"`
	Disabled bool           `yaml:"disabled"`
}

func (e scheduleEntry) recurring() (workqueue.Recurring, error) {
	sched, err := workqueue.ParseSchedule(e.Schedule)
	if err != nil {
		return workqueue.Recurring{}, fmt.Errorf("schedule %q: %w", e.ID, err)
	}
	r := workqueue.Recurring{
		ScheduleID: e.ID,
		Type:       e.Type,
		Schedule:   sched,
		Priority:   e.Priority,
		Retries:    e.Retries,
		Timeout:    e.Timeout,
		Disabled:   e.Disabled,
	}
	if e.Input != nil {
		r.Input = e.Input
	}
	return r, nil
}

// loadSchedules reads recurring jobs from path. An empty path yields none.
func loadSchedules(path string) ([]workqueue.Recurring, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schedules file: %w", err)
	}
	return parseSchedules(data)
}

func parseSchedules(data []byte) ([]workqueue.Recurring, error) {
	var f schedulesFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse schedules file: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Schedules))
	out := make([]workqueue.Recurring, 0, len(f.Schedules))
	for _, e := range f.Schedules {
		if e.ID == "" {
			return nil, fmt.Errorf("schedule of type %q: %w", e.Type, workqueue.ErrScheduleIDRequired)
		}
		if _, dup := seen[e.ID]; dup {
			return nil, fmt.Errorf("schedule %q is defined twice", e.ID)
		}
		seen[e.ID] = struct{}{}

		r, err := e.recurring()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
