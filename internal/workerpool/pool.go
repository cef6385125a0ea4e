// Package workerpool provides the bounded pool that runs a shard's tasks in
// multi-threaded mode.
//
// Workers are long-lived and each is locked to its own OS thread, so the
// thread CPU clock read by a task measures that task's worker only.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
)

var ErrClosed = errors.New("workerpool: pool is closed")

// Config sizes a Pool.
type Config struct {
	// Workers is the number of worker goroutines. Default: GOMAXPROCS.
	Workers int

	// QueueSize is how many submitted jobs may wait for a worker before
	// Submit blocks. Default: 4 * Workers.
	QueueSize int
}

// DefaultConfig returns a Config sized to the machine.
func DefaultConfig() Config {
	n := runtime.GOMAXPROCS(0)
	return Config{Workers: n, QueueSize: 4 * n}
}

// Pool runs submitted jobs in FIFO order on a fixed set of workers.
//
// Thread Safety: Safe for concurrent use.
type Pool struct {
	jobs    chan func()
	workers int
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	logger *slog.Logger
}

// New starts a pool. Zero config fields take their defaults.
func New(cfg Config, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4 * cfg.Workers
	}

	p := &Pool{
		jobs:    make(chan func(), cfg.QueueSize),
		workers: cfg.Workers,
		logger:  logger,
	}
	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker(i)
	}
	return p
}

// Submit queues fn, blocking while the queue is full. Returns ctx.Err() if
// ctx ends first and ErrClosed after Close.
func (p *Pool) Submit(ctx context.Context, fn func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}

	select {
	case p.jobs <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Workers returns the number of workers.
func (p *Pool) Workers() int {
	return p.workers
}

// Queued returns the number of jobs waiting for a worker.
func (p *Pool) Queued() int {
	return len(p.jobs)
}

// Close stops accepting jobs, lets queued jobs finish and waits for every
// worker to exit. Safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for fn := range p.jobs {
		p.run(id, fn)
	}
}

func (p *Pool) run(id int, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker job panicked",
				"worker", id,
				"panic", fmt.Sprint(r),
			)
		}
	}()
	fn()
}
