package vcam

// Clock is a monotonic high-resolution counter
type Clock interface {
	// Frequency returns counter ticks per second. Called once per session.
	Frequency() int64
	// Counter returns the current counter value
	Counter() int64
}
