// Package shard runs a query plan against one replica of one shard: it
// slices the replica's segments into cooperative tasks, runs them under the
// query's budget, and folds their outcomes into a ShardResponse.
package shard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ShardSearch/internal/budget"
	"ShardSearch/internal/engine"
	"ShardSearch/internal/metrics"
	"ShardSearch/internal/plan"
	"ShardSearch/internal/workerpool"
)

const (
	modeSequential = "sequential"
	modeParallel   = "parallel"
)

// SchedulerConfig controls how segments are split into tasks.
type SchedulerConfig struct {
	SegmentsPerTask int
	CheckInterval   int
}

// DefaultSchedulerConfig returns the default task sizing.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		SegmentsPerTask: engine.DefaultSegmentsPerTask,
		CheckInterval:   engine.DefaultCheckInterval,
	}
}

// Scheduler executes the tasks of a shard request.
type Scheduler struct {
	cfg     SchedulerConfig
	pool    *workerpool.Pool
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewScheduler creates a Scheduler. pool may be nil, in which case every
// request runs sequentially.
func NewScheduler(cfg SchedulerConfig, pool *workerpool.Pool, m *metrics.Metrics, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SegmentsPerTask <= 0 {
		cfg.SegmentsPerTask = engine.DefaultSegmentsPerTask
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = engine.DefaultCheckInterval
	}
	return &Scheduler{cfg: cfg, pool: pool, metrics: m, logger: logger}
}

// Execute runs p over segments under tracker and returns the merged result.
// Shard identity fields of the response are left for the caller.
//
// With p.MultiThreaded the tasks run on the worker pool and the call waits
// for all of them; otherwise they run one after another on the calling
// goroutine. Partial is True iff some task stopped at a checkpoint. The
// first task error fails the whole request.
func (s *Scheduler) Execute(ctx context.Context, p *plan.QueryPlan, tracker *budget.Tracker, segments []engine.Segment) (*plan.ShardResponse, error) {
	start := time.Now()

	slices := engine.SliceSegments(segments, s.cfg.SegmentsPerTask)
	tasks := make([]*engine.Task, len(slices))
	for i, segs := range slices {
		tasks[i] = &engine.Task{ID: i, Segments: segs}
	}

	opts := engine.TaskOptions{
		CheckInterval: s.cfg.CheckInterval,
		SegmentDelay:  time.Duration(p.SegmentDelayMs) * time.Millisecond,
	}

	mode := modeSequential
	var (
		outcomes []engine.Outcome
		err      error
	)
	if p.MultiThreaded && s.pool != nil && len(tasks) > 1 {
		mode = modeParallel
		outcomes, err = s.runParallel(ctx, p, tracker, tasks, opts)
	} else {
		outcomes, err = s.runSequential(ctx, p, tracker, tasks, opts)
	}

	for _, out := range outcomes {
		s.metrics.ObserveTask(mode, out.State.String())
	}
	if err != nil {
		return nil, err
	}

	resp := merge(p, outcomes)
	resp.Stats.Segments = len(segments)
	resp.Stats.ExecutionTimeMs = time.Since(start).Milliseconds()
	resp.Stats.CPUTimeMs = tracker.CPUUsed().Milliseconds()

	s.logger.Debug("shard request executed",
		"plan_id", p.PlanID,
		"mode", mode,
		"tasks", len(tasks),
		"truncated", resp.Stats.TasksTruncated,
		"duration_ms", resp.Stats.ExecutionTimeMs,
	)
	return resp, nil
}

func (s *Scheduler) runSequential(ctx context.Context, p *plan.QueryPlan, tracker *budget.Tracker, tasks []*engine.Task, opts engine.TaskOptions) ([]engine.Outcome, error) {
	meter := tracker.Meter()
	defer meter.Close()

	outcomes := make([]engine.Outcome, 0, len(tasks))
	for _, task := range tasks {
		out, err := task.Run(ctx, meter, p, opts)
		outcomes = append(outcomes, out)
		if err != nil {
			return outcomes, fmt.Errorf("shard: task %d: %w", task.ID, err)
		}
	}
	return outcomes, nil
}

func (s *Scheduler) runParallel(ctx context.Context, p *plan.QueryPlan, tracker *budget.Tracker, tasks []*engine.Task, opts engine.TaskOptions) ([]engine.Outcome, error) {
	outcomes := make([]engine.Outcome, len(tasks))
	errs := make([]error, len(tasks))

	var wg sync.WaitGroup
	submitted := 0
	for i, task := range tasks {
		wg.Add(1)
		err := s.pool.Submit(ctx, func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("shard: task %d panicked: %v", task.ID, r)
				}
			}()

			meter := tracker.Meter()
			defer meter.Close()
			outcomes[i], errs[i] = task.Run(ctx, meter, p, opts)
		})
		if err != nil {
			wg.Done()
			errs[i] = err
			break
		}
		submitted++
	}
	wg.Wait()

	outcomes = outcomes[:submitted]
	for i, err := range errs {
		if err != nil {
			return outcomes, fmt.Errorf("shard: task %d: %w", i, err)
		}
	}
	return outcomes, nil
}

// merge folds task outcomes into one response, keeping the best p.Limit rows
// in sort order.
func merge(p *plan.QueryPlan, outcomes []engine.Outcome) *plan.ShardResponse {
	collector := engine.NewRowCollector(p.Sort, p.Limit)
	resp := &plan.ShardResponse{PlanID: p.PlanID}

	for _, out := range outcomes {
		for _, row := range out.Rows {
			collector.Collect(row)
		}
		resp.NumFound += out.Matched
		if out.State == engine.StateTruncated {
			resp.Partial = plan.PartialTrue
			resp.Stats.TasksTruncated++
		}
	}

	resp.Rows = collector.Results()
	resp.Stats.Tasks = len(outcomes)
	return resp
}
