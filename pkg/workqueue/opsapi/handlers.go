package opsapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/workqueue/pkg/binder"
	"github.com/dmitrymomot/workqueue/pkg/logger"
	"github.com/dmitrymomot/workqueue/pkg/workqueue"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

var (
	bindQuery = binder.Query()
	bindJSON  = binder.JSON()
	bindPath  = binder.Path(chi.URLParam)
)

type handlers struct {
	queue   *workqueue.Queue
	reindex *workqueue.Coalescer
	log     *slog.Logger
}

type listRequest struct {
	Types          []string           `query:"type"`
	Statuses       []workqueue.Status `query:"status"`
	Workers        []string           `query:"worker"`
	Search         string             `query:"search"`
	ScheduleID     string             `query:"schedule_id"`
	OriginalWorkID string             `query:"original_work_id"`
	CreatedFrom    time.Time          `query:"created_from"`
	CreatedTo      time.Time          `query:"created_to"`
	Sort           []string           `query:"sort"`
	Limit          int                `query:"limit"`
	Skip           int                `query:"skip"`
}

func (req listRequest) filter() (workqueue.Filter, error) {
	statuses := make([]workqueue.Status, 0, len(req.Statuses))
	for _, s := range req.Statuses {
		s = workqueue.Status(strings.ToUpper(string(s)))
		if !s.Valid() {
			return workqueue.Filter{}, fmt.Errorf("%w: unknown status %q", errBadRequest, s)
		}
		statuses = append(statuses, s)
	}
	return workqueue.Filter{
		Types:          req.Types,
		Statuses:       statuses,
		Workers:        req.Workers,
		Search:         req.Search,
		ScheduleID:     req.ScheduleID,
		OriginalWorkID: req.OriginalWorkID,
		Created:        workqueue.TimeRange{From: req.CreatedFrom, To: req.CreatedTo},
	}, nil
}

// findOptions parses sort fields written as "field" or "-field" (descending).
func (req listRequest) findOptions() (workqueue.FindOptions, error) {
	if req.Limit < 0 || req.Skip < 0 {
		return workqueue.FindOptions{}, fmt.Errorf("%w: limit and skip must not be negative", errBadRequest)
	}
	opts := workqueue.FindOptions{Limit: min(req.Limit, maxLimit), Skip: req.Skip}
	if opts.Limit == 0 {
		opts.Limit = defaultLimit
	}
	for _, s := range req.Sort {
		field, desc := strings.CutPrefix(s, "-")
		if !sortable(field) {
			return workqueue.FindOptions{}, fmt.Errorf("%w: unknown sort field %q", errBadRequest, field)
		}
		opts.Sort = append(opts.Sort, workqueue.SortField{Field: field, Desc: desc})
	}
	return opts, nil
}

func sortable(field string) bool {
	switch field {
	case workqueue.FieldStarted, workqueue.FieldPriority, workqueue.FieldOriginalWorkID,
		workqueue.FieldCreated, workqueue.FieldScheduled, workqueue.FieldFinished, workqueue.FieldType:
		return true
	}
	return false
}

func (h *handlers) listWorks(w http.ResponseWriter, r *http.Request) {
	var req listRequest
	if err := bindQuery(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	filter, err := req.filter()
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	opts, err := req.findOptions()
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	works, err := h.queue.FindWorkQueue(r.Context(), filter, opts)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	total, err := h.queue.Count(r.Context(), filter)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if works == nil {
		works = []*workqueue.Work{}
	}
	writeData(w, http.StatusOK, works, map[string]any{
		"total": total,
		"limit": opts.Limit,
		"skip":  opts.Skip,
	})
}

type workPath struct {
	ID string `path:"id"`
}

func (h *handlers) getWork(w http.ResponseWriter, r *http.Request) {
	var p workPath
	if err := bindPath(r, &p); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	work, err := h.queue.FindWork(r.Context(), p.ID)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeData(w, http.StatusOK, work, nil)
}

type addRequest struct {
	Type      string          `json:"type"`
	Input     workqueue.Input `json:"input"`
	Priority  int             `json:"priority"`
	Scheduled *time.Time      `json:"scheduled"`
	Delay     string          `json:"delay"`
	Retries   int             `json:"retries"`
	Timeout   string          `json:"timeout"`
	Workers   []string        `json:"workers"`
}

func (req addRequest) options() ([]workqueue.AddOption, error) {
	opts := []workqueue.AddOption{workqueue.WithPriority(req.Priority)}
	if req.Scheduled != nil && req.Delay != "" {
		return nil, fmt.Errorf("%w: scheduled and delay are mutually exclusive", errBadRequest)
	}
	if req.Scheduled != nil {
		opts = append(opts, workqueue.WithScheduled(*req.Scheduled))
	}
	if req.Delay != "" {
		d, err := time.ParseDuration(req.Delay)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid delay %q", errBadRequest, req.Delay)
		}
		opts = append(opts, workqueue.WithDelay(d))
	}
	if req.Retries > 0 {
		opts = append(opts, workqueue.WithRetries(req.Retries))
	}
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("%w: invalid timeout %q", errBadRequest, req.Timeout)
		}
		opts = append(opts, workqueue.WithTimeout(d))
	}
	if len(req.Workers) > 0 {
		opts = append(opts, workqueue.WithWorkers(req.Workers...))
	}
	return opts, nil
}

func (h *handlers) addWork(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if err := bindJSON(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	opts, err := req.options()
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	work, err := h.queue.AddWork(r.Context(), req.Type, req.Input, opts...)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	h.log.InfoContext(r.Context(), "work added via ops api", logger.WorkID(work.ID), logger.WorkType(work.Type))
	writeData(w, http.StatusCreated, work, nil)
}

func (h *handlers) deleteWork(w http.ResponseWriter, r *http.Request) {
	var p workPath
	if err := bindPath(r, &p); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	work, err := h.queue.DeleteWork(r.Context(), p.ID)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeData(w, http.StatusOK, work, nil)
}

type rescheduleRequest struct {
	Scheduled time.Time `json:"scheduled"`
}

func (h *handlers) rescheduleWork(w http.ResponseWriter, r *http.Request) {
	var p workPath
	if err := bindPath(r, &p); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	var req rescheduleRequest
	if err := bindJSON(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if req.Scheduled.IsZero() {
		writeError(w, r, h.log, fmt.Errorf("%w: scheduled is required", errBadRequest))
		return
	}
	work, err := h.queue.RescheduleWork(r.Context(), p.ID, req.Scheduled)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeData(w, http.StatusOK, work, nil)
}

type reportRequest struct {
	Types       []string  `query:"type"`
	CreatedFrom time.Time `query:"created_from"`
	CreatedTo   time.Time `query:"created_to"`
}

func (h *handlers) report(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := bindQuery(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	report, err := h.queue.GetReport(r.Context(), workqueue.ReportFilter{
		Types:   req.Types,
		Created: workqueue.TimeRange{From: req.CreatedFrom, To: req.CreatedTo},
	})
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if report == nil {
		report = []workqueue.TypeReport{}
	}
	writeData(w, http.StatusOK, report, nil)
}

func (h *handlers) types(w http.ResponseWriter, r *http.Request) {
	active, err := h.queue.ActiveWorkTypes(r.Context())
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if active == nil {
		active = []string{}
	}
	writeData(w, http.StatusOK, map[string][]string{
		"registered": h.queue.Registry().Types(),
		"active":     active,
	}, nil)
}

func (h *handlers) triggerReindex(w http.ResponseWriter, r *http.Request) {
	var ref workqueue.Reference
	if err := bindJSON(r, &ref); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	work, err := h.reindex.Trigger(r.Context(), ref)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeData(w, http.StatusAccepted, work, nil)
}
