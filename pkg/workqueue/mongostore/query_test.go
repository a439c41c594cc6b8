package mongostore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/dmitrymomot/workqueue/pkg/workqueue"
)

func TestStatusQuery(t *testing.T) {
	t.Parallel()

	t.Run("single status has no $or", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, bson.D{
			{Key: "started", Value: nil},
			{Key: "finished", Value: nil},
			{Key: "deleted", Value: nil},
		}, statusQuery([]workqueue.Status{workqueue.StatusNew}))
	})

	t.Run("failed treats unset success as not succeeded", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, bson.D{
			{Key: "finished", Value: bson.D{{Key: "$ne", Value: nil}}},
			{Key: "success", Value: bson.D{{Key: "$ne", Value: true}}},
			{Key: "deleted", Value: nil},
		}, statusQuery([]workqueue.Status{workqueue.StatusFailed}))
	})

	t.Run("several statuses", func(t *testing.T) {
		t.Parallel()
		q := statusQuery([]workqueue.Status{workqueue.StatusDeleted, workqueue.StatusSuccess})
		require.Len(t, q, 1)
		assert.Equal(t, "$or", q[0].Key)
		assert.Len(t, q[0].Value, 2)
	})
}

func TestStatusExpr_FollowsRules(t *testing.T) {
	t.Parallel()

	sw := statusExpr()[0].Value.(bson.D)
	branches := sw[0].Value.(bson.A)
	rules := workqueue.StatusRules()
	require.Len(t, branches, len(rules))
	for i, rule := range rules {
		branch := branches[i].(bson.D)
		assert.Equal(t, string(rule.Status), branch[1].Value)
		and := branch[0].Value.(bson.D)[0].Value.(bson.A)
		assert.Len(t, and, len(rule.Conditions))
	}
}

func TestFilterQuery(t *testing.T) {
	t.Parallel()

	assert.Equal(t, bson.D{}, filterQuery(workqueue.Filter{}))
	assert.Equal(t, bson.D{{Key: "_id", Value: "a"}}, filterQuery(workqueue.Filter{ID: "a"}))

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	q := filterQuery(workqueue.AllocateParams{Types: []string{"T"}, WorkerID: "w1", Now: now}.Filter())
	require.Equal(t, "$and", q[0].Key)
	clauses := q[0].Value.(bson.A)
	assert.Contains(t, clauses, bson.D{{Key: "type", Value: bson.D{{Key: "$in", Value: []string{"T"}}}}})
	assert.Contains(t, clauses, bson.D{{Key: "scheduled", Value: bson.D{{Key: "$lte", Value: now}}}})
	assert.Contains(t, clauses, bson.D{{Key: "worker", Value: bson.D{{Key: "$in", Value: bson.A{nil, "", "w1"}}}}})

	search := filterQuery(workqueue.Filter{Search: "A.B"})
	assert.Equal(t, bson.D{{Key: "search_text", Value: bson.Regex{Pattern: `a\.b`}}}, search)

	workers := filterQuery(workqueue.Filter{Workers: []string{"w1", ""}})
	assert.Equal(t, bson.D{{Key: "worker", Value: bson.D{{Key: "$in", Value: bson.A{"w1", "", nil}}}}}, workers)
}

func TestSortDocument(t *testing.T) {
	t.Parallel()

	assert.Equal(t, bson.D{
		{Key: "started", Value: -1},
		{Key: "priority", Value: -1},
		{Key: "original_work_id", Value: 1},
		{Key: "created", Value: 1},
		{Key: "_id", Value: 1},
	}, sortDocument(workqueue.DefaultSort))
}

func TestDocumentRoundTrip(t *testing.T) {
	t.Parallel()

	started := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	w := &workqueue.Work{
		ID:      "a",
		Type:    "T",
		Input:   workqueue.Input{"n": 1, "nested": map[string]any{"tags": []any{"x"}}},
		Started: &started,
		Timeout: 2500 * time.Millisecond,
		Error:   &workqueue.WorkError{Name: "E", Data: map[string]any{"code": 7}},
	}
	doc, err := toDocument(w)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), doc.TimeoutMS)
	assert.Equal(t, workqueue.SearchText(w.Input), doc.SearchText)

	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	var decoded workDocument
	require.NoError(t, bson.Unmarshal(raw, &decoded))

	got, err := decoded.toWork()
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Input["n"], "numbers decode as JSON numbers")
	assert.Equal(t, map[string]any{"tags": []any{"x"}}, got.Input["nested"])
	assert.Equal(t, 2500*time.Millisecond, got.Timeout)
	assert.True(t, started.Equal(*got.Started))
	assert.Equal(t, 7.0, got.Error.Data["code"])
	assert.Nil(t, got.Result)
}
