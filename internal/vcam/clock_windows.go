//go:build windows

package vcam

import (
	"golang.org/x/sys/windows"
)

type perfCounterClock struct{}

// NewMonotonicClock returns a clock backed by QueryPerformanceCounter
func NewMonotonicClock() Clock {
	return perfCounterClock{}
}

func (perfCounterClock) Frequency() int64 {
	var f int64
	if err := windows.QueryPerformanceFrequency(&f); err != nil || f == 0 {
		// Documented to never fail on XP and later
		return 1
	}
	return f
}

func (perfCounterClock) Counter() int64 {
	var c int64
	windows.QueryPerformanceCounter(&c)
	return c
}
