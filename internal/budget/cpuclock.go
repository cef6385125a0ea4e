package budget

import "time"

// CPUClock is the strategy a Tracker uses to read per-thread CPU time.
// Production code uses SystemCPUClock; tests swap in SteppedCPUClock to make
// CPU budgets deterministic.
type CPUClock interface {
	// Supported reports whether thread CPU time can be read at all.
	Supported() bool

	// Thread binds a reader to the calling OS thread. The caller must stay
	// locked to that thread for as long as it uses the reader.
	Thread() ThreadCPU
}

// ThreadCPU reports CPU time consumed by one OS thread since it was bound.
// A ThreadCPU is owned by a single goroutine.
type ThreadCPU interface {
	Elapsed() time.Duration
}

// SystemCPUClock returns the platform thread CPU clock.
func SystemCPUClock() CPUClock {
	return systemCPUClock{}
}

type systemCPUClock struct{}

func (systemCPUClock) Supported() bool { return threadClockSupported }

func (systemCPUClock) Thread() ThreadCPU {
	return &systemThread{start: readThreadCPU()}
}

type systemThread struct {
	start time.Duration
}

func (t *systemThread) Elapsed() time.Duration {
	d := readThreadCPU() - t.start
	if d < 0 {
		return 0
	}
	return d
}

// SteppedCPUClock is a synthetic clock: every Elapsed call on a bound thread
// advances that thread's CPU time by Step, whatever the real cost was.
type SteppedCPUClock struct {
	Step time.Duration
}

func (c SteppedCPUClock) Supported() bool { return true }

func (c SteppedCPUClock) Thread() ThreadCPU {
	return &steppedThread{step: c.Step}
}

type steppedThread struct {
	step    time.Duration
	elapsed time.Duration
}

func (t *steppedThread) Elapsed() time.Duration {
	t.elapsed += t.step
	return t.elapsed
}

// UnsupportedCPUClock reports no thread CPU capability.
type UnsupportedCPUClock struct{}

func (UnsupportedCPUClock) Supported() bool { return false }

func (UnsupportedCPUClock) Thread() ThreadCPU { return zeroThread{} }

type zeroThread struct{}

func (zeroThread) Elapsed() time.Duration { return 0 }
