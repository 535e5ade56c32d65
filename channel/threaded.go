package channel

// NewThreaded returns a channel usable across VMs running on separate
// goroutines: every value crossing it is packed and unpacked through the
// image marshaller (no Go-level aliasing survives the hop), and wakeups
// are delivered by calling straight into the target fiber's own
// sched.Loop, whose Schedule/NotifyWoken are already mutex-guarded against
// concurrent callers for exactly this reason.
func NewThreaded(capacity int) *Channel {
	return New(capacity, true)
}
