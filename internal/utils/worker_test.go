package utils

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tomb "gopkg.in/tomb.v2"
)

func TestWorkerPool_ProcessesTasks(t *testing.T) {
	var tb tomb.Tomb
	pool := NewWorkerPool(4)

	var sum atomic.Int64
	tb.Go(func() error {
		pool.Setup(&tb, func(_ *tomb.Tomb, task any) error {
			sum.Add(int64(task.(int)))
			return nil
		})
		return nil
	})

	for i := 1; i <= 50; i++ {
		require.True(t, pool.AddTask(&tb, i))
	}
	assert.Eventually(t, func() bool { return sum.Load() == 1275 }, time.Second, 5*time.Millisecond)

	tb.Kill(nil)
	assert.NoError(t, tb.Wait())
}

func TestWorkerPool_WorkCanRequeue(t *testing.T) {
	var tb tomb.Tomb
	pool := NewWorkerPool(1)

	var calls atomic.Int32
	tb.Go(func() error {
		pool.Setup(&tb, func(t *tomb.Tomb, task any) error {
			if n := task.(int); n > 0 {
				calls.Add(1)
				pool.AddTask(t, n-1)
			}
			return nil
		})
		return nil
	})

	pool.AddTask(&tb, 5)
	assert.Eventually(t, func() bool { return calls.Load() == 5 }, time.Second, 5*time.Millisecond)
	tb.Kill(nil)
	assert.NoError(t, tb.Wait())
}

func TestWorkerPool_WorkErrorKillsTomb(t *testing.T) {
	var tb tomb.Tomb
	pool := NewWorkerPool(2)
	boom := errors.New("boom")

	tb.Go(func() error {
		pool.Setup(&tb, func(*tomb.Tomb, any) error { return boom })
		return nil
	})
	pool.AddTask(&tb, struct{}{})

	assert.ErrorIs(t, tb.Wait(), boom)
}
