//go:build linux

package budget

import (
	"time"

	"golang.org/x/sys/unix"
)

// Probed once at process start.
var threadClockSupported = probeThreadClock()

func probeThreadClock() bool {
	var ts unix.Timespec
	return unix.ClockGettime(unix.CLOCK_THREAD_CPUTIME_ID, &ts) == nil
}

func readThreadCPU() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_THREAD_CPUTIME_ID, &ts); err != nil {
		return 0
	}
	return time.Duration(ts.Nano())
}
