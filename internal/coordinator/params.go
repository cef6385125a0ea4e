package coordinator

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"

	"ShardSearch/internal/budget"
	"ShardSearch/internal/plan"
)

// ErrBadRequest marks request errors the client must fix. It is never
// returned for budget exhaustion.
var ErrBadRequest = errors.New("bad request")

// Request is a parsed client query.
type Request struct {
	Collection string
	Query      string
	Sort       plan.Sort
	Start      int
	Rows       int

	Budget        budget.Budget
	MultiThreaded bool

	// SleepMs and SegmentDelayMs induce stalls on every shard. Used to make
	// latency and budget behaviour observable.
	SleepMs        int64
	SegmentDelayMs int64
}

// ParseParams builds a Request from query parameters using DefaultConfig
// row limits. cpuAllowed and timeAllowed are mutually exclusive, and
// cpuAllowed is rejected when the platform cannot read thread CPU time.
// Every error wraps ErrBadRequest.
func ParseParams(v url.Values, cpuSupported bool) (*Request, error) {
	return parseParams(v, cpuSupported, DefaultConfig())
}

func parseParams(v url.Values, cpuSupported bool, cfg Config) (*Request, error) {
	req := &Request{
		Query: v.Get("q"),
		Rows:  cfg.DefaultRows,
	}
	if req.Rows <= 0 {
		req.Rows = DefaultConfig().DefaultRows
	}

	var err error
	if req.Sort, err = plan.ParseSort(v.Get("sort")); err != nil {
		return nil, badRequest(err)
	}
	if req.Start, err = intParam(v, "start", 0); err != nil {
		return nil, err
	}
	if req.Rows, err = intParam(v, "rows", req.Rows); err != nil {
		return nil, err
	}
	switch {
	case cfg.MaxRows > 0 && (req.Rows > cfg.MaxRows || req.Start > cfg.MaxRows-req.Rows):
		return nil, badRequest(fmt.Errorf("start+rows must not exceed %d", cfg.MaxRows))
	case req.Start > math.MaxInt-req.Rows:
		return nil, badRequest(errors.New("start+rows overflows"))
	}
	if req.MultiThreaded, err = boolParam(v, "multiThreaded", false); err != nil {
		return nil, err
	}
	if req.SleepMs, err = int64Param(v, "sleepMs"); err != nil {
		return nil, err
	}
	if req.SegmentDelayMs, err = int64Param(v, "segmentDelayMs"); err != nil {
		return nil, err
	}

	partial, err := boolParam(v, "partialResults", true)
	if err != nil {
		return nil, err
	}

	_, hasCPU := v["cpuAllowed"]
	_, hasTime := v["timeAllowed"]
	switch {
	case hasCPU && hasTime:
		return nil, badRequest(budget.ErrConflictingLimits)
	case hasCPU:
		ms, err := int64Param(v, "cpuAllowed")
		if err != nil {
			return nil, err
		}
		req.Budget = budget.CPUTime(ms)
	case hasTime:
		ms, err := int64Param(v, "timeAllowed")
		if err != nil {
			return nil, err
		}
		req.Budget = budget.WallClock(ms)
	}
	req.Budget.AllowPartialSuppression = !partial

	if err := req.Budget.Validate(cpuSupported); err != nil {
		return nil, badRequest(err)
	}
	return req, nil
}

func badRequest(err error) error {
	return fmt.Errorf("%w: %w", ErrBadRequest, err)
}

func intParam(v url.Values, name string, def int) (int, error) {
	s := v.Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, badRequest(fmt.Errorf("%s must be a non-negative integer, got %q", name, s))
	}
	return n, nil
}

func int64Param(v url.Values, name string) (int64, error) {
	s := v.Get(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, badRequest(fmt.Errorf("%s must be an integer, got %q", name, s))
	}
	return n, nil
}

func boolParam(v url.Values, name string, def bool) (bool, error) {
	s := v.Get(name)
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, badRequest(fmt.Errorf("%s must be a boolean, got %q", name, s))
	}
	return b, nil
}
