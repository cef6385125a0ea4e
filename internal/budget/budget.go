package budget

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrConflictingLimits  = errors.New("budget: cpuAllowed and timeAllowed are mutually exclusive")
	ErrCPUTimeUnsupported = errors.New("budget: thread CPU time is not supported on this platform")
	ErrInvalidLimit       = errors.New("budget: limit must be a positive number of milliseconds")
)

// Kind identifies which resource a Budget limits.
type Kind uint8

const (
	KindNone Kind = iota
	KindCPUTime
	KindWallClock
)

func (k Kind) String() string {
	switch k {
	case KindCPUTime:
		return "cpu_time"
	case KindWallClock:
		return "wall_clock"
	default:
		return "none"
	}
}

// Budget is the resource limit attached to one query. It is created when the
// query is parsed and never modified afterwards.
type Budget struct {
	Kind        Kind  `json:"kind"`
	LimitMillis int64 `json:"limit_ms,omitempty"`

	// AllowPartialSuppression is set when the client asked not to be told
	// about truncation (partialResults=false).
	AllowPartialSuppression bool `json:"allow_partial_suppression,omitempty"`
}

// Unlimited returns a Budget that never runs out.
func Unlimited() Budget {
	return Budget{Kind: KindNone}
}

// CPUTime returns a Budget limiting thread CPU time to limitMillis.
func CPUTime(limitMillis int64) Budget {
	return Budget{Kind: KindCPUTime, LimitMillis: limitMillis}
}

// WallClock returns a Budget limiting elapsed time to limitMillis.
func WallClock(limitMillis int64) Budget {
	return Budget{Kind: KindWallClock, LimitMillis: limitMillis}
}

// Limit returns the limit as a duration. Zero for unlimited budgets. Limits
// too large for a time.Duration saturate at the largest one.
func (b Budget) Limit() time.Duration {
	switch {
	case b.Kind == KindNone:
		return 0
	case b.LimitMillis > int64(math.MaxInt64/time.Millisecond):
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(b.LimitMillis) * time.Millisecond
}

// Limited reports whether the budget can ever be exceeded.
func (b Budget) Limited() bool {
	return b.Kind != KindNone
}

// Validate checks the budget against the platform capabilities.
// A CPU-time budget on a platform without a thread CPU clock is rejected
// rather than degraded to wall-clock.
func (b Budget) Validate(cpuSupported bool) error {
	switch b.Kind {
	case KindNone:
		return nil
	case KindCPUTime:
		if !cpuSupported {
			return ErrCPUTimeUnsupported
		}
	case KindWallClock:
	default:
		return fmt.Errorf("budget: unknown kind %d", b.Kind)
	}
	if b.LimitMillis <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidLimit, b.LimitMillis)
	}
	return nil
}
