//go:build !linux

package budget

import "time"

var threadClockSupported = false

func readThreadCPU() time.Duration { return 0 }
