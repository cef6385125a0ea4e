package engine

import (
	"context"
	"fmt"
	"time"

	"ShardSearch/internal/budget"
	"ShardSearch/internal/plan"
)

// DefaultSegmentsPerTask bounds how many segments one task searches, which
// bounds the work between two segment-level checkpoints.
const DefaultSegmentsPerTask = 5

// State is a task's position in its lifecycle.
//
//	Running --checkpoint ok--> Running
//	Running --checkpoint exceeded--> Truncated
//	Running --segments exhausted--> Done
//	Running --segment error--> Failed
type State uint8

const (
	StateRunning State = iota
	StateTruncated
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateTruncated:
		return "truncated"
	case StateDone:
		return "done"
	default:
		return "failed"
	}
}

// TaskOptions configures task execution.
type TaskOptions struct {
	// CheckInterval is the number of rows between in-segment budget checks.
	CheckInterval int

	// SegmentDelay is an induced stall before each segment is searched.
	SegmentDelay time.Duration
}

// Task searches one slice of a shard's segments.
type Task struct {
	ID       int
	Segments []Segment
}

// Outcome is what a task produced. Completed is false when the budget ran
// out first; Rows then holds whatever was gathered before the checkpoint
// that tripped.
type Outcome struct {
	TaskID           int
	Rows             []plan.Row
	Matched          uint64
	Completed        bool
	State            State
	Checks           int
	SegmentsSearched int
}

// Run searches the task's segments, polling probe before every segment and
// every CheckInterval rows. Exceeding the budget is not an error. Segment
// failures and context cancellation are.
func (t *Task) Run(ctx context.Context, probe budget.Probe, p *plan.QueryPlan, opts TaskOptions) (Outcome, error) {
	cp := NewCheckpoint(probe, opts.CheckInterval)
	collector := NewRowCollector(p.Sort, p.Limit)
	state := StateRunning
	searched := 0

segments:
	for _, seg := range t.Segments {
		if err := ctx.Err(); err != nil {
			state = StateFailed
			return t.outcome(state, collector, cp, searched), err
		}
		if cp.Boundary() {
			state = StateTruncated
			break
		}

		if err := Stall(ctx, opts.SegmentDelay); err != nil {
			state = StateFailed
			return t.outcome(state, collector, cp, searched), err
		}

		it, err := seg.Search(ctx, p.Query, p.Sort)
		if err != nil {
			state = StateFailed
			return t.outcome(state, collector, cp, searched),
				fmt.Errorf("engine: search segment %s: %w", seg.ID(), err)
		}
		searched++

		for it.Next() {
			if cp.Step() {
				state = StateTruncated
				break segments
			}
			collector.Collect(it.Row())
		}
		if err := it.Err(); err != nil {
			state = StateFailed
			return t.outcome(state, collector, cp, searched),
				fmt.Errorf("engine: read segment %s: %w", seg.ID(), err)
		}
	}

	if state == StateRunning {
		state = StateDone
	}
	return t.outcome(state, collector, cp, searched), nil
}

func (t *Task) outcome(state State, c *RowCollector, cp *Checkpoint, searched int) Outcome {
	matched := c.Seen()
	return Outcome{
		TaskID:           t.ID,
		Rows:             c.Results(),
		Matched:          matched,
		Completed:        state == StateDone,
		State:            state,
		Checks:           cp.Checks,
		SegmentsSearched: searched,
	}
}

// Stall blocks for d or until ctx is done.
func Stall(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
