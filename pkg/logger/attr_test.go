package logger_test

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/workqueue/pkg/logger"
)

func TestGroup(t *testing.T) {
	t.Parallel()
	attr := logger.Group("work", logger.WorkID("w1"), logger.WorkType("EXPORT"))
	require.Equal(t, "work", attr.Key)
	require.Equal(t, slog.KindGroup, attr.Value.Kind())
	g := attr.Value.Group()
	require.Len(t, g, 2)
	assert.Equal(t, "work_id", g[0].Key)
	assert.Equal(t, "work_type", g[1].Key)
}

func TestErrors(t *testing.T) {
	t.Parallel()
	err1 := errors.New("first")
	err2 := errors.New("second")

	attr := logger.Errors(err1, nil, err2)
	require.Equal(t, "errors", attr.Key)
	g := attr.Value.Group()
	require.Len(t, g, 2)
	assert.Equal(t, err1, g[0].Value.Any())
	assert.Equal(t, err2, g[1].Value.Any())

	assert.True(t, logger.Errors(nil, nil).Equal(slog.Attr{}))
}

func TestError(t *testing.T) {
	t.Parallel()
	err := errors.New("boom")
	attr := logger.Error(err)
	assert.Equal(t, "error", attr.Key)
	assert.Equal(t, err, attr.Value.Any())
	assert.True(t, logger.Error(nil).Equal(slog.Attr{}))
}

func TestDomainAttrs(t *testing.T) {
	t.Parallel()
	assert.Equal(t, slog.String("work_id", "a"), logger.WorkID("a"))
	assert.Equal(t, slog.String("work_type", "T"), logger.WorkType("T"))
	assert.Equal(t, slog.String("worker_id", "w"), logger.WorkerID("w"))
	assert.True(t, logger.WorkerID("").Equal(slog.Attr{}))
	assert.Equal(t, slog.String("schedule_id", "s"), logger.ScheduleID("s"))
	assert.True(t, logger.ScheduleID("").Equal(slog.Attr{}))
	assert.Equal(t, slog.String("status", "NEW"), logger.Status("NEW"))
	assert.Equal(t, slog.String("component", "executor"), logger.Component("executor"))
	assert.Equal(t, slog.Duration("duration", time.Second), logger.Duration(time.Second))
	assert.Equal(t, slog.Int("count", 3), logger.Count(3))
}
