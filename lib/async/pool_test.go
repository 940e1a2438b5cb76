package async

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quayside/bitmexgw/errs"
)

func TestPoolRunsSubmittedTasks(t *testing.T) {
	p, err := NewPool(4, 16)
	require.NoError(t, err)
	defer p.Close()

	var ran atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(context.Background(), func(context.Context) {
			ran.Add(1)
			wg.Done()
		}))
	}
	wg.Wait()
	require.Equal(t, int64(32), ran.Load())
}

func TestPoolTrySubmitRejectsWhenFull(t *testing.T) {
	p, err := NewPool(1, 1)
	require.NoError(t, err)
	defer p.Close()

	gate := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(context.Context) {
		close(started)
		<-gate
	}))
	<-started

	// Worker is held, so this one parks in the queue.
	require.NoError(t, p.Submit(context.Background(), func(context.Context) {}))

	err = p.TrySubmit(context.Background(), func(context.Context) {})
	require.Error(t, err)
	require.Equal(t, errs.CodeUnavailable, errs.CodeOf(err))

	close(gate)
}

func TestPoolSubmitHonorsCallerContext(t *testing.T) {
	p, err := NewPool(1, 0)
	require.NoError(t, err)
	defer p.Close()

	gate := make(chan struct{})
	started := make(chan struct{})
	t.Cleanup(func() { close(gate) })
	require.NoError(t, p.Submit(context.Background(), func(context.Context) {
		close(started)
		<-gate
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = p.Submit(ctx, func(context.Context) {})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoolShutdownDrainsQueue(t *testing.T) {
	p, err := NewPool(1, 8)
	require.NoError(t, err)

	var ran atomic.Int64
	gate := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(context.Context) {
		close(started)
		<-gate
		ran.Add(1)
	}))
	<-started
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Submit(context.Background(), func(context.Context) {
			ran.Add(1)
		}))
	}

	close(gate)
	require.NoError(t, p.Shutdown(context.Background()))
	require.Equal(t, int64(4), ran.Load())

	err = p.Submit(context.Background(), func(context.Context) {})
	require.Equal(t, errs.CodeUnavailable, errs.CodeOf(err))
}

func TestPoolShutdownRespectsDeadline(t *testing.T) {
	p, err := NewPool(1, 0)
	require.NoError(t, err)

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(context.Context) {
		close(started)
		<-release
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.Error(t, p.Shutdown(ctx))
}

func TestPoolRecoversTaskPanic(t *testing.T) {
	p, err := NewPool(1, 4)
	require.NoError(t, err)
	defer p.Close()

	done := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(context.Context) {
		panic("boom")
	}))
	require.NoError(t, p.Submit(context.Background(), func(context.Context) {
		close(done)
	}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive task panic")
	}
}

func TestNewPoolRejectsBadConcurrency(t *testing.T) {
	_, err := NewPool(0, 4)
	require.Error(t, err)
	require.Equal(t, errs.CodeInvalid, errs.CodeOf(err))
}
