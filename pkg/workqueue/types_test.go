package workqueue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/workqueue/pkg/workqueue"
)

type emailInput struct {
	To      string   `json:"to"`
	Subject string   `json:"subject"`
	Tags    []string `json:"tags,omitempty"`
}

func TestInputFrom(t *testing.T) {
	t.Parallel()

	t.Run("struct", func(t *testing.T) {
		t.Parallel()
		in, err := workqueue.InputFrom(emailInput{To: "a@example.com", Subject: "hi", Tags: []string{"x"}})
		require.NoError(t, err)
		assert.Equal(t, "a@example.com", in["to"])
		assert.Equal(t, []any{"x"}, in["tags"])

		var out emailInput
		require.NoError(t, in.Decode(&out))
		assert.Equal(t, emailInput{To: "a@example.com", Subject: "hi", Tags: []string{"x"}}, out)
	})

	t.Run("nil", func(t *testing.T) {
		t.Parallel()
		in, err := workqueue.InputFrom(nil)
		require.NoError(t, err)
		assert.NotNil(t, in)
		assert.Empty(t, in)
	})

	t.Run("map is copied", func(t *testing.T) {
		t.Parallel()
		src := map[string]any{"nested": map[string]any{"a": 1}}
		in, err := workqueue.InputFrom(src)
		require.NoError(t, err)
		src["nested"].(map[string]any)["a"] = 2
		assert.Equal(t, 1, in["nested"].(map[string]any)["a"])
	})

	t.Run("typed nested values are normalised", func(t *testing.T) {
		t.Parallel()
		items := []map[string]any{{"id": "a"}}
		src := map[string]any{"items": items, "ids": []int{1, 2}}
		in, err := workqueue.InputFrom(src)
		require.NoError(t, err)

		items[0]["id"] = "changed"
		assert.Equal(t, []any{map[string]any{"id": "a"}}, in["items"])
		assert.Equal(t, []any{1.0, 2.0}, in["ids"])
	})

	t.Run("not an object", func(t *testing.T) {
		t.Parallel()
		_, err := workqueue.InputFrom([]int{1, 2})
		assert.ErrorIs(t, err, workqueue.ErrInputMarshal)
	})

	t.Run("not serialisable", func(t *testing.T) {
		t.Parallel()
		_, err := workqueue.InputFrom(map[string]any{"ch": make(chan int)})
		require.NoError(t, err, "maps are copied, not marshalled")
		_, err = workqueue.InputFrom(struct{ C chan int }{})
		assert.ErrorIs(t, err, workqueue.ErrInputMarshal)
	})
}

func TestWork_Clone(t *testing.T) {
	t.Parallel()

	started := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	w := &workqueue.Work{
		ID:      "w1",
		Input:   workqueue.Input{"list": []any{map[string]any{"k": "v"}}},
		Result:  map[string]any{"n": 1},
		Workers: []string{"a"},
		Started: &started,
		Success: ptrBool(false),
		Error:   &workqueue.WorkError{Name: "E", Data: map[string]any{"d": 1}},
	}
	c := w.Clone()
	require.Equal(t, w, c)

	c.Input["list"].([]any)[0].(map[string]any)["k"] = "changed"
	c.Result["n"] = 2
	c.Workers[0] = "b"
	*c.Started = started.Add(time.Hour)
	*c.Success = true
	c.Error.Data["d"] = 2

	assert.Equal(t, "v", w.Input["list"].([]any)[0].(map[string]any)["k"])
	assert.Equal(t, 1, w.Result["n"])
	assert.Equal(t, "a", w.Workers[0])
	assert.Equal(t, started, *w.Started)
	assert.False(t, *w.Success)
	assert.Equal(t, 1, w.Error.Data["d"])

	assert.Nil(t, (*workqueue.Work)(nil).Clone())
}

func TestWork_Duration(t *testing.T) {
	t.Parallel()

	started := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	finished := started.Add(1500 * time.Millisecond)
	assert.Equal(t, 1500*time.Millisecond, (&workqueue.Work{Started: &started, Finished: &finished}).Duration())
	assert.Zero(t, (&workqueue.Work{Started: &started}).Duration())
}

func TestWorkError_Error(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Timeout", (&workqueue.WorkError{Name: "Timeout"}).Error())
	assert.Equal(t, "Timeout: took too long", (&workqueue.WorkError{Name: "Timeout", Message: "took too long"}).Error())
}
