package async

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolExecute(t *testing.T) {
	t.Run("collects results by name", func(t *testing.T) {
		pool := NewPool(2)
		results := pool.Execute(context.Background(), []Task{
			{Name: "a", Execute: func() (interface{}, error) { return 1, nil }},
			{Name: "b", Execute: func() (interface{}, error) { return "two", nil }},
			{Name: "c", Execute: func() (interface{}, error) { return nil, fmt.Errorf("boom") }},
		})

		require.Len(t, results, 3)
		assert.Equal(t, 1, results["a"].Data)
		assert.NoError(t, results["a"].Err)
		assert.Equal(t, "two", results["b"].Data)
		assert.Error(t, results["c"].Err)
	})

	t.Run("empty task list returns an empty map", func(t *testing.T) {
		pool := NewPool(4)
		assert.Empty(t, pool.Execute(context.Background(), nil))
	})

	t.Run("clamps worker count to one", func(t *testing.T) {
		pool := NewPool(0)
		results := pool.Execute(context.Background(), []Task{
			{Name: "only", Execute: func() (interface{}, error) { return 42, nil }},
		})
		assert.Equal(t, 42, results["only"].Data)
	})

	t.Run("cancellation returns partial results", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		var started atomic.Bool

		pool := NewPool(1)
		results := pool.Execute(ctx, []Task{
			{Name: "fast", Execute: func() (interface{}, error) {
				started.Store(true)
				return "done", nil
			}},
			{Name: "slow", Execute: func() (interface{}, error) {
				cancel()
				time.Sleep(50 * time.Millisecond)
				return "late", nil
			}},
		})

		assert.True(t, started.Load())
		assert.Equal(t, "done", results["fast"].Data)
	})
}
