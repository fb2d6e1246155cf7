package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/observability"
)

func TestSafeGo_Success(t *testing.T) {
	done := make(chan struct{})

	SafeGo(context.Background(), observability.NewNopLogger(), time.Second, "test task", func(ctx context.Context) error {
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SafeGo did not execute function")
	}
}

func TestSafeGo_Timeout(t *testing.T) {
	result := make(chan error, 1)

	SafeGo(context.Background(), observability.NewNopLogger(), 20*time.Millisecond, "slow task", func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			result <- nil
		case <-ctx.Done():
			result <- ctx.Err()
		}
		return nil
	})

	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("task never observed its deadline")
	}
}

func TestSafeGo_PanicRecovery(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)

	SafeGo(context.Background(), observability.NewNopLogger(), time.Second, "panicking task", func(ctx context.Context) error {
		defer wg.Done()
		panic("boom")
	})

	wg.Wait()
}

func TestWorkerPool_RunsTasks(t *testing.T) {
	pool := NewWorkerPool(context.Background(), observability.NewNopLogger(), nil, 3, 10, time.Second)

	var count atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit("count", func(ctx context.Context) error {
			count.Add(1)
			return nil
		}))
	}

	require.NoError(t, pool.Shutdown(context.Background()))
	assert.Equal(t, int32(10), count.Load())
}

func TestWorkerPool_RecordsResults(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	pool := NewWorkerPool(context.Background(), observability.NewNopLogger(), metrics, 1, 10, time.Second)

	require.NoError(t, pool.Submit("ok", func(ctx context.Context) error { return nil }))
	require.NoError(t, pool.Submit("fails", func(ctx context.Context) error { return errors.New("smtp down") }))
	require.NoError(t, pool.Submit("panics", func(ctx context.Context) error { panic("nil map") }))
	require.NoError(t, pool.Shutdown(context.Background()))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BackgroundTasksTotal.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.BackgroundTasksTotal.WithLabelValues("failure")))
}

func TestWorkerPool_TaskTimeout(t *testing.T) {
	pool := NewWorkerPool(context.Background(), observability.NewNopLogger(), nil, 1, 1, 20*time.Millisecond)

	result := make(chan error, 1)
	require.NoError(t, pool.Submit("slow", func(ctx context.Context) error {
		<-ctx.Done()
		result <- ctx.Err()
		return ctx.Err()
	}))

	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("task context was never cancelled")
	}
	require.NoError(t, pool.Shutdown(context.Background()))
}

func TestWorkerPool_QueueFull(t *testing.T) {
	pool := NewWorkerPool(context.Background(), observability.NewNopLogger(), nil, 1, 1, time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, pool.Submit("blocker", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	require.NoError(t, pool.Submit("queued", func(ctx context.Context) error { return nil }))
	assert.ErrorIs(t, pool.Submit("rejected", func(ctx context.Context) error { return nil }), ErrQueueFull)

	close(release)
	require.NoError(t, pool.Shutdown(context.Background()))
}

func TestWorkerPool_SubmitAfterShutdown(t *testing.T) {
	pool := NewWorkerPool(context.Background(), observability.NewNopLogger(), nil, 2, 2, time.Second)
	require.NoError(t, pool.Shutdown(context.Background()))

	err := pool.Submit("late", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolClosed)

	// second shutdown is a no-op
	assert.NoError(t, pool.Shutdown(context.Background()))
}

func TestWorkerPool_ShutdownTimeout(t *testing.T) {
	pool := NewWorkerPool(context.Background(), observability.NewNopLogger(), nil, 1, 1, time.Minute)

	started := make(chan struct{})
	require.NoError(t, pool.Submit("stuck", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := pool.Shutdown(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}
