package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitRuns(t *testing.T) {
	r := NewRunner(2, 8, time.Second)
	defer r.Shutdown()

	var ran atomic.Int32
	require.NoError(t, r.Submit("increment", func(ctx context.Context) {
		ran.Add(1)
	}))

	require.Eventually(t, func() bool {
		return ran.Load() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSubmitFullQueue(t *testing.T) {
	r := NewRunner(1, 1, time.Second)
	defer r.Shutdown()

	block := make(chan struct{})
	// Occupy the single worker, then fill the single queue slot.
	require.NoError(t, r.Submit("blocker", func(ctx context.Context) { <-block }))
	require.Eventually(t, func() bool {
		return r.Submit("filler", func(ctx context.Context) {}) == nil
	}, time.Second, time.Millisecond)

	assert.ErrorIs(t, r.Submit("overflow", func(ctx context.Context) {}), ErrQueueFull)
	close(block)
}

func TestShutdownDrainsBacklog(t *testing.T) {
	r := NewRunner(1, 16, time.Second)

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, r.Submit("work", func(ctx context.Context) {
			ran.Add(1)
		}))
	}

	r.Shutdown()
	assert.Equal(t, int32(10), ran.Load())
}

func TestSubmitAfterShutdown(t *testing.T) {
	r := NewRunner(1, 8, time.Second)
	r.Shutdown()

	require.NotPanics(t, func() {
		assert.ErrorIs(t, r.Submit("late", func(ctx context.Context) {}), ErrShutdown)
	})

	// Shutdown twice is harmless.
	r.Shutdown()
}

func TestPanicDoesNotKillWorker(t *testing.T) {
	r := NewRunner(1, 8, time.Second)
	defer r.Shutdown()

	require.NoError(t, r.Submit("panics", func(ctx context.Context) {
		panic("boom")
	}))

	var ran atomic.Int32
	require.NoError(t, r.Submit("after", func(ctx context.Context) {
		ran.Add(1)
	}))

	require.Eventually(t, func() bool {
		return ran.Load() == 1
	}, time.Second, 5*time.Millisecond)
}
