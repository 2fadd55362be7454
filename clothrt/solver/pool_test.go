package solver

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkerPool_VisitsEveryIndexOnce(t *testing.T) {
	pool := newWorkerPool(4, 1)
	defer pool.stop()

	const n = 1003
	visits := make([]int32, n)
	flagged := pool.run(n, func(start, end int) int {
		for i := start; i < end; i++ {
			atomic.AddInt32(&visits[i], 1)
		}
		return -1
	})

	assert.Equal(t, -1, flagged)
	for i, v := range visits {
		assert.Equal(t, int32(1), v, "index %d", i)
	}
	assert.True(t, pool.running)
}

func TestWorkerPool_ReturnsLowestFlaggedIndex(t *testing.T) {
	pool := newWorkerPool(3, 1)
	defer pool.stop()

	flagged := pool.run(90, func(start, end int) int {
		for i := start; i < end; i++ {
			if i == 40 || i == 75 {
				return i
			}
		}
		return -1
	})
	assert.Equal(t, 40, flagged)
}

func TestWorkerPool_InlineBelowThreshold(t *testing.T) {
	pool := newWorkerPool(4, 100)
	defer pool.stop()

	calls := 0
	pool.run(50, func(start, end int) int {
		calls++
		assert.Equal(t, 0, start)
		assert.Equal(t, 50, end)
		return -1
	})
	assert.Equal(t, 1, calls)
	assert.False(t, pool.running, "workers start lazily on the first parallel pass")
	assert.Equal(t, -1, pool.run(0, nil))
}

func TestWorkerPool_StopIsIdempotent(t *testing.T) {
	pool := newWorkerPool(2, 1)
	pool.run(10, func(start, end int) int { return -1 })
	pool.stop()
	pool.stop()
	assert.False(t, pool.running)
}
