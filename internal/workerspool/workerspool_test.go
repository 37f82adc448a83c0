package workerspool

import (
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runTasks runs numTasks tasks and returns how many finished and the maximum number of tasks observed
// running at once.
func runTasks(pool *Pool, numTasks int) (count, maxRunning int32) {
	var running, finished, maxSeen atomic.Int32
	for range numTasks {
		pool.WaitToStart(func() {
			current := running.Add(1)
			for {
				seen := maxSeen.Load()
				if current <= seen || maxSeen.CompareAndSwap(seen, current) {
					break
				}
			}
			for range 10 {
				runtime.Gosched()
			}
			running.Add(-1)
			finished.Add(1)
		})
	}
	pool.Wait()
	return finished.Load(), maxSeen.Load()
}

func TestPool(t *testing.T) {
	t.Run("Limited", func(t *testing.T) {
		pool := NewWithParallelism(3)
		count, maxRunning := runTasks(pool, 20)
		assert.Equal(t, int32(20), count)
		assert.LessOrEqual(t, maxRunning, int32(3))
	})

	t.Run("Inline", func(t *testing.T) {
		pool := NewWithParallelism(0)
		require.False(t, pool.IsEnabled())
		count, maxRunning := runTasks(pool, 5)
		assert.Equal(t, int32(5), count)
		assert.Equal(t, int32(1), maxRunning)
		assert.False(t, pool.StartIfAvailable(func() {}))
	})

	t.Run("Unlimited", func(t *testing.T) {
		pool := New()
		pool.SetMaxParallelism(-1)
		require.True(t, pool.IsUnlimited())
		count, _ := runTasks(pool, 10)
		assert.Equal(t, int32(10), count)
	})

	t.Run("StartIfAvailable", func(t *testing.T) {
		pool := NewWithParallelism(1)
		block := make(chan struct{})
		require.True(t, pool.StartIfAvailable(func() { <-block }))
		assert.False(t, pool.StartIfAvailable(func() {}))
		close(block)
		pool.Wait()
		var ran atomic.Bool
		require.True(t, pool.StartIfAvailable(func() { ran.Store(true) }))
		pool.Wait()
		assert.True(t, ran.Load())
	})
}
