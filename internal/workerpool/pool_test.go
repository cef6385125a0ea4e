package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPool_RunsEveryJob(t *testing.T) {
	p := New(Config{Workers: 4}, nil)
	defer p.Close()

	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(context.Background(), func() {
			defer wg.Done()
			ran.Add(1)
		}))
	}
	wg.Wait()

	assert.Equal(t, int32(50), ran.Load())
	assert.Equal(t, 4, p.Workers())
}

func TestPool_FIFOWithSingleWorker(t *testing.T) {
	p := New(Config{Workers: 1, QueueSize: 10}, nil)

	var mu sync.Mutex
	var order []int
	for i := 0; i < 10; i++ {
		i := i
		require.NoError(t, p.Submit(context.Background(), func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}
	p.Close()

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestPool_SubmitBlocksWhenFull(t *testing.T) {
	p := New(Config{Workers: 1, QueueSize: 1}, nil)
	defer p.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func() {
		close(started)
		<-release
	}))
	<-started
	require.NoError(t, p.Submit(context.Background(), func() {}))
	assert.Equal(t, 1, p.Queued())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}

func TestPool_CloseDrainsQueue(t *testing.T) {
	p := New(Config{Workers: 2, QueueSize: 16}, nil)

	var ran atomic.Int32
	for i := 0; i < 16; i++ {
		require.NoError(t, p.Submit(context.Background(), func() {
			time.Sleep(time.Millisecond)
			ran.Add(1)
		}))
	}
	p.Close()

	assert.Equal(t, int32(16), ran.Load())
}

func TestPool_SubmitAfterClose(t *testing.T) {
	p := New(Config{Workers: 1}, nil)
	p.Close()
	p.Close()

	assert.ErrorIs(t, p.Submit(context.Background(), func() {}), ErrClosed)
}

func TestPool_PanicKeepsWorkerAlive(t *testing.T) {
	p := New(Config{Workers: 1}, nil)
	defer p.Close()

	require.NoError(t, p.Submit(context.Background(), func() { panic("boom") }))

	done := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive a panicking job")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Positive(t, cfg.Workers)
	assert.Equal(t, 4*cfg.Workers, cfg.QueueSize)
}
