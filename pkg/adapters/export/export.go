// Package export is the EXPORT_WORK adapter: it writes a filtered listing of
// the work queue to artifact storage and optionally emails a link to it.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrymomot/workqueue/pkg/adapters/sendemail"
	"github.com/dmitrymomot/workqueue/pkg/email"
	"github.com/dmitrymomot/workqueue/pkg/file"
	"github.com/dmitrymomot/workqueue/pkg/logger"
	"github.com/dmitrymomot/workqueue/pkg/workqueue"
)

// Type is the work type handled by this adapter.
const Type = "EXPORT_WORK"

// Output formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Error names written to failed items.
const (
	ErrorNameInvalidRequest = "InvalidExportRequest"
	ErrorNameList           = "ExportListError"
	ErrorNameStorage        = "ExportStorageError"
	ErrorNameKeyExists      = "ExportKeyExists"
)

// keyPrefix holds generated artifacts, partitioned by creation day.
const keyPrefix = "exports/"

// Request is the EXPORT_WORK input.
type Request struct {
	Types       []string   `json:"types,omitempty"`
	Statuses    []string   `json:"statuses,omitempty"`
	Search      string     `json:"search,omitempty"`
	CreatedFrom *time.Time `json:"created_from,omitempty"`
	CreatedTo   *time.Time `json:"created_to,omitempty"`
	Limit       int        `json:"limit,omitempty"`
	Format      string     `json:"format,omitempty"`
	Key         string     `json:"key,omitempty"`
	Overwrite   bool       `json:"overwrite,omitempty"`
	NotifyEmail string     `json:"notify_email,omitempty"`
}

// Filter converts the request into a queue filter.
func (r Request) Filter() (workqueue.Filter, error) {
	f := workqueue.Filter{Types: r.Types, Search: r.Search}
	for _, s := range r.Statuses {
		st := workqueue.Status(s)
		if !st.Valid() {
			return f, fmt.Errorf("unknown status %q", s)
		}
		f.Statuses = append(f.Statuses, st)
	}
	if r.CreatedFrom != nil {
		f.Created.From = *r.CreatedFrom
	}
	if r.CreatedTo != nil {
		f.Created.To = *r.CreatedTo
	}
	return f, nil
}

// Lister pages through the queue. *workqueue.Queue implements it.
type Lister interface {
	FindWorkQueue(ctx context.Context, filter workqueue.Filter, opts workqueue.FindOptions) ([]*workqueue.Work, error)
}

// Option configures the adapter.
type Option func(*adapter)

// WithPageSize sets how many items are read per query. Default 500.
func WithPageSize(n int) Option {
	return func(a *adapter) {
		if n > 0 {
			a.pageSize = n
		}
	}
}

// WithRetention deletes generated artifacts from days older than d after
// every export. Zero keeps everything.
func WithRetention(d time.Duration) Option {
	return func(a *adapter) {
		if d > 0 {
			a.retention = d
		}
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
	lister    Lister
	storage   file.Storage
	pageSize  int
	retention time.Duration
	logger    *slog.Logger
}

// New returns the EXPORT_WORK adapter.
func New(lister Lister, storage file.Storage, opts ...Option) workqueue.Adapter {
	a := &adapter{lister: lister, storage: storage, pageSize: 500, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(logger.Component("export"))
	return workqueue.NewTypedAdapter(Type, a.do)
}

func (a *adapter) do(ctx context.Context, req Request, api workqueue.API) (workqueue.Outcome, error) {
	w := api.Work()

	if req.Format == "" {
		req.Format = FormatJSON
	}
	if req.Format != FormatJSON && req.Format != FormatCSV {
		return workqueue.Failure(ErrorNameInvalidRequest, fmt.Sprintf("unknown format %q", req.Format)), nil
	}
	filter, err := req.Filter()
	if err != nil {
		return workqueue.Failure(ErrorNameInvalidRequest, err.Error()), nil
	}
	key := req.Key
	if key == "" {
		key = fmt.Sprintf("%s%s/%s.%s", keyPrefix, w.Created.UTC().Format("2006/01/02"), w.ID, req.Format)
	} else if !req.Overwrite && a.storage.Exists(ctx, key) {
		return workqueue.Failure(ErrorNameKeyExists, fmt.Sprintf("an artifact is already stored under %q", key)), nil
	}

	works, err := a.collect(ctx, filter, req.Limit)
	if err != nil {
		return workqueue.Failure(ErrorNameList, err.Error()), nil
	}

	var body []byte
	switch req.Format {
	case FormatCSV:
		body, err = EncodeCSV(works)
	default:
		body, err = json.Marshal(works)
	}
	if err != nil {
		return workqueue.Failure(ErrorNameInvalidRequest, err.Error()), nil
	}

	obj, err := a.storage.Put(ctx, key, bytes.NewReader(body), contentType(req.Format))
	if err != nil {
		return storageFailure(err), nil
	}

	result := map[string]any{
		"key":   obj.Key,
		"url":   obj.URL,
		"size":  obj.Size,
		"count": len(works),
	}

	if a.retention > 0 {
		result["pruned"] = a.prune(ctx, w.Created.Add(-a.retention), obj.Key)
	}

	if req.NotifyEmail != "" {
		n, err := api.AddWork(ctx, sendemail.Type, email.SendEmailParams{
			SendTo:   req.NotifyEmail,
			Subject:  "Work queue export ready",
			BodyHTML: fmt.Sprintf(`<p>%d items exported: <a href="%s">%s</a></p>`, len(works), obj.URL, obj.Key),
			BodyText: fmt.Sprintf("%d items exported: %s", len(works), obj.URL),
			Tag:      "export",
		}, workqueue.WithPriority(w.Priority))
		if err != nil {
			a.logger.WarnContext(ctx, "failed to enqueue export notification", logger.WorkID(w.ID), logger.Error(err))
		} else {
			result["notification_work_id"] = n.ID
		}
	}

	a.logger.InfoContext(ctx, "queue exported",
		logger.WorkID(w.ID),
		logger.Count(len(works)),
		slog.String("key", obj.Key))
	return workqueue.Success(result), nil
}

// collect pages through the filtered queue ordered by creation time.
func (a *adapter) collect(ctx context.Context, filter workqueue.Filter, limit int) ([]*workqueue.Work, error) {
	var out []*workqueue.Work
	for skip := 0; ; skip += a.pageSize {
		size := a.pageSize
		if limit > 0 {
			size = min(size, limit-len(out))
		}
		page, err := a.lister.FindWorkQueue(ctx, filter, workqueue.FindOptions{
			Sort:  []workqueue.SortField{{Field: workqueue.FieldCreated}},
			Limit: size,
			Skip:  skip,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < size || (limit > 0 && len(out) >= limit) {
			return out, nil
		}
	}
}

// prune deletes generated artifacts whose whole day lies before cutoff.
// Failures are logged and leave the export successful.
func (a *adapter) prune(ctx context.Context, cutoff time.Time, keep string) int {
	objects, err := a.storage.List(ctx, keyPrefix)
	if err != nil {
		a.logger.WarnContext(ctx, "failed to list old exports", logger.Error(err))
		return 0
	}

	pruned := 0
	for _, obj := range objects {
		day, ok := artifactDay(obj.Key)
		if !ok || obj.Key == keep || !day.AddDate(0, 0, 1).Before(cutoff) {
			continue
		}
		if err := a.storage.Delete(ctx, obj.Key); err != nil {
			a.logger.WarnContext(ctx, "failed to delete old export", slog.String("key", obj.Key), logger.Error(err))
			continue
		}
		pruned++
	}
	if pruned > 0 {
		a.logger.InfoContext(ctx, "old exports deleted", logger.Count(pruned))
	}
	return pruned
}

// artifactDay reads the creation day from a generated key.
func artifactDay(key string) (time.Time, bool) {
	rest, ok := strings.CutPrefix(key, keyPrefix)
	if !ok || len(rest) < len("2006/01/02") {
		return time.Time{}, false
	}
	day, err := time.Parse("2006/01/02", rest[:len("2006/01/02")])
	return day, err == nil
}

// storageFailure names the failure after the S3 error code when there is one.
func storageFailure(err error) workqueue.Outcome {
	code := file.ErrorCode(err)
	if code == "" {
		return workqueue.Failure(ErrorNameStorage, err.Error())
	}
	out := workqueue.Failure(code, err.Error())
	out.Error.Data = map[string]any{"retryable": errors.Is(err, file.ErrServiceUnavailable) || errors.Is(err, file.ErrRequestTimeout)}
	return out
}

func contentType(format string) string {
	if format == FormatCSV {
		return "text/csv"
	}
	return "application/json"
}

var csvHeader = []string{"id", "type", "status", "priority", "created", "scheduled", "started", "finished", "worker", "error"}

// EncodeCSV renders one row per item.
func EncodeCSV(works []*workqueue.Work) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, w := range works {
		errText := ""
		if w.Error != nil {
			errText = w.Error.Error()
		}
		if err := cw.Write([]string{
			w.ID,
			w.Type,
			string(w.Status()),
			strconv.Itoa(w.Priority),
			formatTime(&w.Created),
			formatTime(&w.Scheduled),
			formatTime(w.Started),
			formatTime(w.Finished),
			w.Worker,
			errText,
		}); err != nil {
			return nil, err
		}
	}
	cw.Flush()
	return buf.Bytes(), cw.Error()
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
