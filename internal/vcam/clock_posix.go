//go:build !windows

package vcam

import (
	"golang.org/x/sys/unix"
)

type monotonicClock struct{}

// NewMonotonicClock returns a clock backed by CLOCK_MONOTONIC in nanoseconds
func NewMonotonicClock() Clock {
	return monotonicClock{}
}

func (monotonicClock) Frequency() int64 {
	return 1_000_000_000
}

func (monotonicClock) Counter() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return ts.Nano()
}
