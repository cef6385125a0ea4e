package budget

import (
	"runtime"
	"sync/atomic"
	"time"
)

// Probe answers whether the query budget has run out. Tasks poll it at
// checkpoints and stop collecting once it returns true.
type Probe interface {
	Exceeded() bool
}

// Tracker enforces one Budget for one query on one node. It is shared by all
// tasks of that query and is safe for concurrent use without locks.
//
// Exceeded is latched: once it has returned true it keeps returning true.
type Tracker struct {
	budget Budget
	limit  time.Duration

	now   func() time.Time
	start time.Time

	cpu     CPUClock
	cpuUsed atomic.Int64 // nanoseconds reported by all meters

	tripped atomic.Bool
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithCPUClock sets the CPU clock strategy. Defaults to SystemCPUClock.
func WithCPUClock(c CPUClock) TrackerOption {
	return func(t *Tracker) {
		if c != nil {
			t.cpu = c
		}
	}
}

// WithClock sets the wall clock. The default, time.Now, carries a monotonic
// reading so elapsed time never steps backwards.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker starts tracking b. The start mark is taken immediately.
func NewTracker(b Budget, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		budget: b,
		limit:  b.Limit(),
		now:    time.Now,
		cpu:    SystemCPUClock(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.start = t.now()
	return t
}

// Budget returns the budget being enforced.
func (t *Tracker) Budget() Budget {
	return t.budget
}

// Exceeded reports whether the budget has been used up.
func (t *Tracker) Exceeded() bool {
	if t.tripped.Load() {
		return true
	}

	var over bool
	switch t.budget.Kind {
	case KindWallClock:
		over = t.now().Sub(t.start) >= t.limit
	case KindCPUTime:
		over = time.Duration(t.cpuUsed.Load()) >= t.limit
	}

	if over {
		t.tripped.Store(true)
	}
	return over
}

// CPUUsed returns the CPU time reported by meters so far.
func (t *Tracker) CPUUsed() time.Duration {
	return time.Duration(t.cpuUsed.Load())
}

// Meter returns a per-goroutine probe. For CPU-time budgets the calling
// goroutine is locked to its OS thread until Close, and every Exceeded call
// adds the thread's CPU time since the last call to the tracker's total.
// Several meters on several threads therefore sum their usage.
//
// A Meter must be used and closed by the goroutine that created it.
func (t *Tracker) Meter() *Meter {
	m := &Meter{tracker: t}
	if t.budget.Kind == KindCPUTime {
		runtime.LockOSThread()
		m.locked = true
		m.thread = t.cpu.Thread()
	}
	return m
}

// Meter is a single goroutine's view of a Tracker.
type Meter struct {
	tracker  *Tracker
	thread   ThreadCPU
	reported time.Duration
	locked   bool
	checks   int
}

// Exceeded publishes this thread's CPU usage and checks the shared budget.
func (m *Meter) Exceeded() bool {
	m.checks++
	if m.thread != nil {
		elapsed := m.thread.Elapsed()
		if d := elapsed - m.reported; d > 0 {
			m.tracker.cpuUsed.Add(int64(d))
			m.reported = elapsed
		}
	}
	return m.tracker.Exceeded()
}

// Checks returns how many checkpoints this meter has served.
func (m *Meter) Checks() int {
	return m.checks
}

// Close releases the OS thread. Safe to call more than once.
func (m *Meter) Close() {
	if m.locked {
		m.locked = false
		runtime.UnlockOSThread()
	}
}
