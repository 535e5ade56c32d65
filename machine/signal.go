package machine

import "fmt"

// Signal identifies why control returned from a fiber resume: it settled
// normally, it yielded a value, it is waiting on an event-loop primitive, it
// errored, or user code raised one of 9 user-defined signals. Grounded on
// the fiber status model ("ok, yield, event, error, userN"); it is what
// Fiber.Resume reports alongside the resumed fiber's result.
type Signal uint8

const (
	SigOK Signal = iota
	SigYield
	SigEvent
	SigError
	SigUser0
	SigUser1
	SigUser2
	SigUser3
	SigUser4
	SigUser5
	SigUser6
	SigUser7
	SigUser8
)

func (s Signal) String() string {
	switch {
	case s == SigOK:
		return "ok"
	case s == SigYield:
		return "yield"
	case s == SigEvent:
		return "event"
	case s == SigError:
		return "error"
	case s >= SigUser0 && s <= SigUser8:
		return fmt.Sprintf("user%d", s-SigUser0)
	}
	return "unknown-signal"
}

// IsUser reports whether s is one of the 9 user-defined signals.
func (s Signal) IsUser() bool { return s >= SigUser0 && s <= SigUser8 }

// Mask is a bitset over the 13 possible Signal values, used by a parent
// fiber to declare which of a child's signals it wants to intercept rather
// than let propagate further up the fiber chain ("signal
// masking").
type Mask uint16

// MaskAll intercepts every signal; MaskNone intercepts nothing (full
// propagation to the grandparent).
const (
	MaskNone Mask = 0
	MaskAll  Mask = 1<<13 - 1
)

// Has reports whether m intercepts s.
func (m Mask) Has(s Signal) bool { return m&(1<<uint(s)) != 0 }

// WithSignal returns m with s added to the intercepted set.
func (m Mask) WithSignal(s Signal) Mask { return m | (1 << uint(s)) }
