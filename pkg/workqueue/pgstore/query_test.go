package pgstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/workqueue/pkg/workqueue"
)

func TestStatusSQL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "((started IS NULL AND finished IS NULL AND deleted IS NULL))",
		statusSQL([]workqueue.Status{workqueue.StatusNew}))
	assert.Equal(t, "((finished IS NOT NULL AND success IS NOT TRUE AND deleted IS NULL) OR (deleted IS NOT NULL))",
		statusSQL([]workqueue.Status{workqueue.StatusFailed, workqueue.StatusDeleted}))
	assert.Equal(t, "FALSE", statusSQL([]workqueue.Status{"UNKNOWN"}))
}

func TestStatusCaseSQL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "CASE"+
		" WHEN deleted IS NOT NULL THEN 'DELETED'"+
		" WHEN started IS NULL AND finished IS NULL AND deleted IS NULL THEN 'NEW'"+
		" WHEN started IS NOT NULL AND finished IS NULL AND deleted IS NULL THEN 'ALLOCATED'"+
		" WHEN finished IS NOT NULL AND success IS TRUE AND deleted IS NULL THEN 'SUCCESS'"+
		" WHEN finished IS NOT NULL AND success IS NOT TRUE AND deleted IS NULL THEN 'FAILED'"+
		" ELSE 'FAILED' END", statusCaseSQL())
}

func TestWhere(t *testing.T) {
	t.Parallel()

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		q := &query{}
		assert.Equal(t, "TRUE", q.where(workqueue.Filter{}))
		assert.Empty(t, q.args)
	})

	t.Run("allocation", func(t *testing.T) {
		t.Parallel()
		now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
		q := &query{}
		sql := q.where(workqueue.AllocateParams{Types: []string{"T"}, WorkerID: "w1", Now: now}.Filter())
		assert.Equal(t, "type = ANY($1)"+
			" AND ((started IS NULL AND finished IS NULL AND deleted IS NULL))"+
			" AND scheduled <= $2"+
			" AND (worker IS NULL OR worker = $3)"+
			" AND (cardinality(workers) = 0 OR $3 = ANY(workers))", sql)
		assert.Equal(t, []any{[]string{"T"}, now, "w1"}, q.args)
	})

	t.Run("search is escaped and lowercased", func(t *testing.T) {
		t.Parallel()
		q := &query{}
		sql := q.where(workqueue.Filter{Search: "50%_Off"})
		assert.Equal(t, `search_text LIKE '%' || $1 || '%' ESCAPE '\'`, sql)
		assert.Equal(t, []any{`50\%\_off`}, q.args)
	})

	t.Run("unset worker", func(t *testing.T) {
		t.Parallel()
		q := &query{}
		assert.Equal(t, "(worker = ANY($1) OR worker IS NULL)", q.where(workqueue.Filter{Workers: []string{"w1", ""}}))
		assert.Equal(t, []any{[]string{"w1"}}, q.args)

		q = &query{}
		assert.Equal(t, "(worker IS NULL)", q.where(workqueue.Filter{Workers: []string{""}}))
	})
}

func TestOrderBy(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		"started DESC NULLS LAST, priority DESC NULLS LAST, original_work_id ASC NULLS FIRST, created ASC NULLS FIRST, id ASC",
		orderBy(workqueue.DefaultSort))
	assert.Equal(t, "id ASC", orderBy([]workqueue.SortField{{Field: "unknown"}}))
}
