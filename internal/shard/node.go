package shard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"ShardSearch/internal/budget"
	"ShardSearch/internal/engine"
	"ShardSearch/internal/indexing"
	"ShardSearch/internal/metrics"
	"ShardSearch/internal/plan"
	"ShardSearch/internal/snapshot"
	"ShardSearch/internal/workerpool"
)

var ErrNodeClosed = errors.New("shard: node is closed")

// NodeOptions configures a Node. Zero values take defaults.
type NodeOptions struct {
	Scheduler SchedulerConfig

	// Pool runs multi-threaded requests. When nil the node starts its own
	// pool sized by PoolConfig and closes it on Close.
	Pool       *workerpool.Pool
	PoolConfig workerpool.Config

	// CPUClock measures thread CPU time for cpuAllowed budgets.
	// Default: budget.SystemCPUClock().
	CPUClock budget.CPUClock

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Node is one replica of one shard. It owns the replica's write buffer and
// committed segments, and serves shard requests over them.
type Node struct {
	shardID string
	replica string

	writer    *indexing.Writer
	snapshots *snapshot.Manager
	scheduler *Scheduler

	pool     *workerpool.Pool
	ownsPool bool

	cpu     budget.CPUClock
	metrics *metrics.Metrics
	logger  *slog.Logger

	commitMu    sync.Mutex
	nextSegment int
	closed      bool
}

// NewNode creates an empty replica.
func NewNode(shardID, replica string, opts NodeOptions) *Node {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("shard", shardID, "replica", replica)

	cpu := opts.CPUClock
	if cpu == nil {
		cpu = budget.SystemCPUClock()
	}

	pool := opts.Pool
	ownsPool := false
	if pool == nil {
		pool = workerpool.New(opts.PoolConfig, logger)
		ownsPool = true
	}

	return &Node{
		shardID:   shardID,
		replica:   replica,
		writer:    indexing.NewWriter(),
		snapshots: snapshot.NewManager(logger),
		scheduler: NewScheduler(opts.Scheduler, pool, opts.Metrics, logger),
		pool:      pool,
		ownsPool:  ownsPool,
		cpu:       cpu,
		metrics:   opts.Metrics,
		logger:    logger,
	}
}

// ShardID returns the shard this replica belongs to.
func (n *Node) ShardID() string { return n.shardID }

// Replica returns the replica name.
func (n *Node) Replica() string { return n.replica }

// CPUTimeSupported reports whether cpuAllowed budgets can be enforced here.
func (n *Node) CPUTimeSupported() bool { return n.cpu.Supported() }

// Add buffers documents for the next commit.
func (n *Node) Add(docs []indexing.Document) error {
	if err := n.writer.AddDocuments(docs); err != nil {
		return fmt.Errorf("shard %s: %w", n.shardID, err)
	}
	n.metrics.ObserveIndexed(len(docs))
	return nil
}

// Mark returns the write buffer position for a later Rollback.
func (n *Node) Mark() int { return n.writer.Mark() }

// Rollback drops documents buffered after mark.
func (n *Node) Rollback(mark int) { n.writer.Rollback(mark) }

// Commit cuts the buffered documents into a new segment and publishes a new
// generation. With nothing buffered it returns the current generation.
func (n *Node) Commit() (uint64, error) {
	n.commitMu.Lock()
	defer n.commitMu.Unlock()

	if n.closed {
		return 0, ErrNodeClosed
	}

	id := fmt.Sprintf("%s_%s_seg_%d", n.shardID, n.replica, n.nextSegment)
	seg, err := n.writer.Commit(id)
	if errors.Is(err, indexing.ErrNothingToCommit) {
		return n.snapshots.CurrentGeneration(), nil
	}
	if err != nil {
		return 0, fmt.Errorf("shard %s: %w", n.shardID, err)
	}
	n.nextSegment++

	gen := n.snapshots.Publish(seg)
	n.metrics.ObserveCommit()
	n.logger.Debug("segment committed", "segment", id, "generation", gen, "docs", seg.DocCount())
	return gen, nil
}

// Search executes p against the current generation.
func (n *Node) Search(ctx context.Context, p *plan.QueryPlan) (*plan.ShardResponse, error) {
	if err := p.Budget.Validate(n.cpu.Supported()); err != nil {
		return nil, fmt.Errorf("shard %s: %w", n.shardID, err)
	}

	start := time.Now()
	tracker := budget.NewTracker(p.Budget, budget.WithCPUClock(n.cpu))

	snap := n.snapshots.Acquire()
	defer n.release(snap)

	if err := engine.Stall(ctx, time.Duration(p.SleepMs)*time.Millisecond); err != nil {
		return nil, fmt.Errorf("shard %s: %w", n.shardID, err)
	}

	resp, err := n.scheduler.Execute(ctx, p, tracker, snap.Readers())
	if err != nil {
		n.logger.Warn("shard request failed", "plan_id", p.PlanID, "error", err)
		return nil, fmt.Errorf("shard %s: %w", n.shardID, err)
	}

	resp.ShardID = n.shardID
	resp.Replica = n.replica
	resp.Generation = snap.Generation
	resp.Partial = resp.Partial.Suppress(p.Budget.AllowPartialSuppression)

	mode := modeSequential
	if p.MultiThreaded {
		mode = modeParallel
	}
	if resp.Partial.Truncated() {
		n.metrics.ObserveBudgetExceeded(p.Budget.Kind.String())
		n.logger.Info("shard request truncated by budget",
			"plan_id", p.PlanID,
			"budget", p.Budget.Kind.String(),
			"limit_ms", p.Budget.LimitMillis,
			"tasks_truncated", resp.Stats.TasksTruncated,
		)
	}
	n.metrics.ObserveShardRequest(mode, resp.Partial.String(), time.Since(start))
	return resp, nil
}

// Health reports the replica's committed state.
func (n *Node) Health() plan.ShardHealth {
	n.commitMu.Lock()
	closed := n.closed
	n.commitMu.Unlock()

	snap := n.snapshots.Acquire()
	defer n.release(snap)

	status := "healthy"
	if closed {
		status = "unhealthy"
	}
	return plan.ShardHealth{
		Status:     status,
		Generation: snap.Generation,
		Segments:   len(snap.Segments),
		DocCount:   snap.DocCount(),
	}
}

// Close stops writes, drops every segment once no query reads it and shuts
// down the node's own pool.
func (n *Node) Close() error {
	n.commitMu.Lock()
	if n.closed {
		n.commitMu.Unlock()
		return nil
	}
	n.closed = true
	n.writer.Release()
	dropped := n.snapshots.UpdateGeneration(n.snapshots.CurrentGeneration()+1, nil)
	n.commitMu.Unlock()

	err := closeSegments(dropped)
	if n.ownsPool {
		n.pool.Close()
	}
	return err
}

func (n *Node) release(snap *snapshot.Snapshot) {
	_ = snap.Release()
	if err := closeSegments(n.snapshots.Reclaim()); err != nil {
		n.logger.Warn("closing reclaimed segments", "error", err)
	}
}

func closeSegments(segs []engine.Segment) error {
	var errs []error
	for _, seg := range segs {
		if c, ok := seg.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
