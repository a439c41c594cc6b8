package export_test

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/workqueue/pkg/adapters/export"
	"github.com/dmitrymomot/workqueue/pkg/adapters/sendemail"
	"github.com/dmitrymomot/workqueue/pkg/email"
	"github.com/dmitrymomot/workqueue/pkg/file"
	"github.com/dmitrymomot/workqueue/pkg/logger"
	"github.com/dmitrymomot/workqueue/pkg/workqueue"
)

var base = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type env struct {
	q   *workqueue.Queue
	dir string
	now time.Time
}

func newEnv(t *testing.T, storage file.Storage, opts ...export.Option) *env {
	t.Helper()

	e := &env{now: base}
	if storage == nil {
		e.dir = t.TempDir()
		s, err := file.NewLocalStorage(e.dir, "https://files.example.com")
		require.NoError(t, err)
		storage = s
	}

	registry := workqueue.NewRegistry()
	q, err := workqueue.NewQueue(workqueue.NewMemoryStorage(), registry,
		workqueue.WithClock(func() time.Time { return e.now }),
		workqueue.WithLogger(logger.Discard()),
	)
	require.NoError(t, err)
	e.q = q

	require.NoError(t, registry.Register(export.New(q, storage, append(opts, export.WithLogger(logger.Discard()))...)))
	require.NoError(t, registry.Register(sendemail.New(email.NewLogSender(logger.Discard()))))
	require.NoError(t, registry.Register(workqueue.NewExternalAdapter("REPORT")))
	return e
}

func (e *env) seed(t *testing.T, n int) {
	t.Helper()
	for i := range n {
		_, err := e.q.AddWork(context.Background(), "REPORT", map[string]any{"n": i},
			workqueue.WithWorkID(fmt.Sprintf("r%02d", i)))
		require.NoError(t, err)
		e.now = e.now.Add(time.Second)
	}
}

func (e *env) run(t *testing.T, req export.Request) *workqueue.Work {
	t.Helper()
	ctx := context.Background()
	w, err := e.q.AddWork(ctx, export.Type, req, workqueue.WithPriority(100), workqueue.WithWorkID("exp"))
	require.NoError(t, err)
	done, err := e.q.ProcessNextWork(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, done)
	require.Equal(t, w.ID, done.ID)
	return done
}

func TestAdapter_JSON(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil, export.WithPageSize(2))
	e.seed(t, 5)

	done := e.run(t, export.Request{Types: []string{"REPORT"}})
	require.Equal(t, workqueue.StatusSuccess, done.Status(), done.Error)
	assert.EqualValues(t, 5, done.Result["count"])
	assert.Equal(t, "exports/2025/03/10/exp.json", done.Result["key"])
	assert.Equal(t, "https://files.example.com/exports/2025/03/10/exp.json", done.Result["url"])

	raw, err := os.ReadFile(filepath.Join(e.dir, "exports", "2025", "03", "10", "exp.json"))
	require.NoError(t, err)
	var works []workqueue.Work
	require.NoError(t, json.Unmarshal(raw, &works))
	require.Len(t, works, 5)
	for i, w := range works {
		assert.Equal(t, fmt.Sprintf("r%02d", i), w.ID)
	}
}

func TestAdapter_CSVWithLimitAndNotification(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil, export.WithPageSize(2))
	e.seed(t, 5)

	done := e.run(t, export.Request{
		Types:       []string{"REPORT"},
		Statuses:    []string{string(workqueue.StatusNew)},
		Limit:       3,
		Format:      export.FormatCSV,
		Key:         "custom/queue.csv",
		NotifyEmail: "ops@example.com",
	})
	require.Equal(t, workqueue.StatusSuccess, done.Status(), done.Error)
	assert.EqualValues(t, 3, done.Result["count"])

	f, err := os.Open(filepath.Join(e.dir, "custom", "queue.csv"))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "id", rows[0][0])
	assert.Equal(t, []string{"r00", "REPORT", "NEW", "0", "2025-03-10T12:00:00Z"}, rows[1][:5])

	notifyID, ok := done.Result["notification_work_id"].(string)
	require.True(t, ok)
	n, err := e.q.FindWork(context.Background(), notifyID)
	require.NoError(t, err)
	assert.Equal(t, sendemail.Type, n.Type)
	assert.Equal(t, "ops@example.com", n.Input["send_to"])
	assert.Equal(t, 100, n.Priority)
}

func TestAdapter_InvalidRequest(t *testing.T) {
	t.Parallel()

	for _, req := range []export.Request{
		{Format: "xml"},
		{Statuses: []string{"DONE"}},
	} {
		e := newEnv(t, nil)
		done := e.run(t, req)
		require.NotNil(t, done.Error)
		assert.Equal(t, export.ErrorNameInvalidRequest, done.Error.Name)
	}
}

func TestAdapter_Retention(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil, export.WithRetention(72*time.Hour))
	for _, key := range []string{"exports/2025/03/01/old.json", "exports/2025/03/09/recent.json", "custom/manual.json"} {
		p := filepath.Join(e.dir, filepath.FromSlash(key))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("[]"), 0o644))
	}

	done := e.run(t, export.Request{})
	require.Equal(t, workqueue.StatusSuccess, done.Status(), done.Error)
	assert.EqualValues(t, 1, done.Result["pruned"])

	assert.NoFileExists(t, filepath.Join(e.dir, "exports", "2025", "03", "01", "old.json"))
	assert.FileExists(t, filepath.Join(e.dir, "exports", "2025", "03", "09", "recent.json"))
	assert.FileExists(t, filepath.Join(e.dir, "custom", "manual.json"))
	assert.FileExists(t, filepath.Join(e.dir, "exports", "2025", "03", "10", "exp.json"))
}

func TestAdapter_ExplicitKeyExists(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	p := filepath.Join(e.dir, "custom", "queue.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("previous"), 0o644))

	done := e.run(t, export.Request{Key: "custom/queue.json"})
	require.NotNil(t, done.Error)
	assert.Equal(t, export.ErrorNameKeyExists, done.Error.Name)
	raw, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "previous", string(raw))

	ctx := context.Background()
	_, err = e.q.AddWork(ctx, export.Type, export.Request{Key: "custom/queue.json", Overwrite: true})
	require.NoError(t, err)
	again, err := e.q.ProcessNextWork(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, workqueue.StatusSuccess, again.Status(), again.Error)
	raw, err = os.ReadFile(p)
	require.NoError(t, err)
	assert.NotEqual(t, "previous", string(raw))
}

type failingStorage struct {
	file.Storage
	err error
}

func (s failingStorage) Put(context.Context, string, io.Reader, string) (*file.Object, error) {
	return nil, s.err
}

func TestAdapter_StorageErrors(t *testing.T) {
	t.Parallel()

	t.Run("S3 code becomes the error name", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t, failingStorage{err: fmt.Errorf("%w: %w", file.ErrServiceUnavailable, &smithy.GenericAPIError{Code: "SlowDown"})})
		done := e.run(t, export.Request{})
		require.NotNil(t, done.Error)
		assert.Equal(t, "SlowDown", done.Error.Name)
		assert.Equal(t, true, done.Error.Data["retryable"])
	})

	t.Run("other errors", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t, failingStorage{err: file.ErrFailedToWriteFile})
		done := e.run(t, export.Request{})
		require.NotNil(t, done.Error)
		assert.Equal(t, export.ErrorNameStorage, done.Error.Name)
	})
}

func TestEncodeCSV(t *testing.T) {
	t.Parallel()

	started := base.Add(time.Minute)
	finished := started.Add(time.Second)
	ok := false
	out, err := export.EncodeCSV([]*workqueue.Work{{
		ID:        "w1",
		Type:      "T",
		Priority:  3,
		Created:   base,
		Scheduled: base,
		Started:   &started,
		Finished:  &finished,
		Success:   &ok,
		Worker:    "node-1",
		Error:     &workqueue.WorkError{Name: "Boom", Message: "with, comma"},
	}})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `w1,T,FAILED,3,2025-03-10T12:00:00Z,2025-03-10T12:00:00Z,2025-03-10T12:01:00Z,2025-03-10T12:01:01Z,node-1,"Boom: with, comma"`, lines[1])
}

func TestNewStorage(t *testing.T) {
	t.Parallel()

	s, err := export.NewStorage(context.Background(), export.Config{Driver: export.DriverLocal, LocalDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &file.LocalStorage{}, s)

	_, err = export.NewStorage(context.Background(), export.Config{Driver: export.DriverS3})
	assert.ErrorIs(t, err, file.ErrInvalidConfig)

	_, err = export.NewStorage(context.Background(), export.Config{Driver: "ftp"})
	assert.ErrorIs(t, err, file.ErrInvalidConfig)
}
