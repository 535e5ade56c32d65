// Package channel implements bounded FIFO channels shared between fibers
// (and, for threaded channels, between VMs running on separate
// goroutines): blocking/select/non-blocking push and pop, select/rselect
// over multiple clauses, and close semantics.
package channel

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/lumenlang/lumen/image"
	"github.com/lumenlang/lumen/machine"
	"github.com/lumenlang/lumen/sched"
	"github.com/lumenlang/lumen/types"
)

// Mode selects push/pop blocking behavior.
type Mode int

const (
	Blocking    Mode = iota // 0: enqueue the caller and suspend
	SelectMode              // 1: like Blocking, but wakes with a select envelope
	NonBlocking             // 2: fail immediately instead of enqueueing
)

// ErrWouldBlock is returned by a NonBlocking push/pop that cannot proceed
// immediately. It is an internal signal only: callers on the blocking or
// select path never see it, and a primitive exposed to user code must
// translate it to whatever result value that mode specifies (e.g. a
// "queue full" keyword), never let it escape as a RuntimeError.
var ErrWouldBlock = errors.New("channel: would block")

// waiter is one fiber parked on a channel's read or write side. loop is
// the waiter's owning event loop, needed to schedule its resumption from
// whatever goroutine later completes the match (possibly a different
// fiber's goroutine, or, for a threaded channel, a different VM
// altogether).
type waiter struct {
	fiber   *machine.Fiber
	loop    *sched.Loop
	schedID int64
}

// Channel is a bounded FIFO of Values with blocking/select/non-blocking
// push and pop, plus close semantics that wake every pending side.
type Channel struct {
	mu sync.Mutex // threaded channels take this across every state mutation

	capacity int
	items    []types.Value
	closed   bool
	threaded bool

	readPending  []waiter
	writePending []waiter
}

var _ types.Value = (*Channel)(nil)
var _ sched.Supervisor = (*Channel)(nil)

// New returns an empty channel with the given capacity. A threaded channel
// additionally value-packs non-trivially-copyable items through the image
// package on push/pop, since it may be read and written from VMs living on
// different goroutines with no shared heap.
func New(capacity int, threaded bool) *Channel {
	return &Channel{capacity: capacity, threaded: threaded}
}

func (c *Channel) String() string    { return fmt.Sprintf("channel(cap=%d)", c.capacity) }
func (c *Channel) Type() string      { return "channel" }
func (c *Channel) Truth() types.Bool { return types.True }
func (c *Channel) Freeze()           {} // channels are never made immutable

// Closed reports whether c has been closed.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// closeEnvelope is the `[:close chan]` result handed to any fiber woken by
// a close, in every mode.
func (c *Channel) closeEnvelope() types.Value {
	return types.NewTuple([]types.Value{types.NewKeyword("close"), c})
}

func giveEnvelope(c *Channel) types.Value {
	return types.NewTuple([]types.Value{types.NewKeyword("give"), c})
}

func takeEnvelope(c *Channel, v types.Value) types.Value {
	return types.NewTuple([]types.Value{types.NewKeyword("take"), c, v})
}

// packForThreaded value-packs v through the image marshaller for delivery
// across a threaded channel, rejecting values the marshaller cannot carry
// across a VM boundary (pointer-like abstracts without a Marshal hook, a
// live fiber, an unregistered cfunction).
func packForThreaded(v types.Value) (types.Value, error) {
	b, err := image.Marshal(v, nil)
	if err != nil {
		return nil, fmt.Errorf("channel: value not threadable: %w", err)
	}
	return image.Unmarshal(b, nil, nil)
}

// Push writes v to c. fr/loop identify the calling fiber and its owning
// loop (required for Blocking and SelectMode; may be nil for NonBlocking
// pushes made outside any fiber, e.g. a supervisor delivery). It returns
// ErrWouldBlock only in NonBlocking mode when the channel is full and no
// reader is waiting.
func (c *Channel) Push(fr *machine.Fiber, loop *sched.Loop, v types.Value, mode Mode) (types.Value, error) {
	if c.threaded {
		packed, err := packForThreaded(v)
		if err != nil {
			return nil, err
		}
		v = packed
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return c.closeEnvelope(), nil
	}

	// Matching rule 1: a non-stale pending reader gets v directly.
	for i, w := range c.readPending {
		if w.fiber != nil && w.fiber.SchedID() != w.schedID {
			continue // stale: skip it and keep looking
		}
		c.readPending = append(c.readPending[:i:i], c.readPending[i+1:]...)
		c.mu.Unlock()
		c.wake(w, takeEnvelope(c, v))
		return nil, nil
	}

	// No reader: enqueue.
	c.items = append(c.items, v)
	overCapacity := len(c.items) > c.capacity
	if !overCapacity {
		c.mu.Unlock()
		return nil, nil
	}

	switch mode {
	case NonBlocking:
		c.items = c.items[:len(c.items)-1]
		c.mu.Unlock()
		return nil, ErrWouldBlock
	case SelectMode, Blocking:
		c.writePending = append(c.writePending, waiter{fiber: fr, loop: loop, schedID: fr.SchedID()})
		c.mu.Unlock()
		v, err := fr.Suspend(machine.SigEvent, giveEnvelope(c))
		if err != nil {
			return nil, err
		}
		return sched.UnwrapResume(v), nil
	default:
		panic("channel: unknown mode")
	}
}

// ArmReader registers fr as a pending reader on c without suspending it,
// used by Select/RSelect to wait across several channels with a single
// Suspend call. Returns immediately with a value if one is already
// available, in which case fr is not registered and the caller must not
// suspend.
func (c *Channel) ArmReader(fr *machine.Fiber, loop *sched.Loop) (v types.Value, ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.items) > 0 {
		v = c.items[0]
		c.items = c.items[1:]
		c.wakeOneWriter()
		return v, true
	}
	if c.closed {
		return c.closeEnvelope(), true
	}
	c.readPending = append(c.readPending, waiter{fiber: fr, loop: loop, schedID: fr.SchedID()})
	return nil, false
}

// ArmWriter registers fr as a pending writer on c with v already enqueued,
// without suspending it, used by Select/RSelect. Returns ready=true if v
// fit within capacity or found a waiting reader immediately, in which case
// fr is not registered.
func (c *Channel) ArmWriter(fr *machine.Fiber, loop *sched.Loop, v types.Value) (ready bool, err error) {
	if c.threaded {
		packed, perr := packForThreaded(v)
		if perr != nil {
			return false, perr
		}
		v = packed
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return true, nil
	}
	for i, w := range c.readPending {
		if w.fiber != nil && w.fiber.SchedID() != w.schedID {
			continue
		}
		c.readPending = append(c.readPending[:i:i], c.readPending[i+1:]...)
		c.mu.Unlock()
		c.wake(w, takeEnvelope(c, v))
		return true, nil
	}
	c.items = append(c.items, v)
	if len(c.items) <= c.capacity {
		c.mu.Unlock()
		return true, nil
	}
	c.writePending = append(c.writePending, waiter{fiber: fr, loop: loop, schedID: fr.SchedID()})
	c.mu.Unlock()
	return false, nil
}

// Pop reads the next value from c, blocking (or failing, in NonBlocking
// mode) if empty. mode/fr/loop mirror Push.
func (c *Channel) Pop(fr *machine.Fiber, loop *sched.Loop, mode Mode) (types.Value, error) {
	c.mu.Lock()
	if len(c.items) > 0 {
		v := c.items[0]
		c.items = c.items[1:]
		c.wakeOneWriter()
		c.mu.Unlock()
		return v, nil
	}
	if c.closed {
		c.mu.Unlock()
		return c.closeEnvelope(), nil
	}

	switch mode {
	case NonBlocking:
		c.mu.Unlock()
		return nil, ErrWouldBlock
	default:
		c.readPending = append(c.readPending, waiter{fiber: fr, loop: loop, schedID: fr.SchedID()})
		c.mu.Unlock()
		v, err := fr.Suspend(machine.SigEvent, types.NewKeyword("event"))
		if err != nil {
			return nil, err
		}
		v = sched.UnwrapResume(v)
		if env, ok := v.(*types.Tuple); ok && mode == Blocking && env.Len() == 3 && env.Index(0) == types.NewKeyword("take") {
			return env.Index(2), nil
		}
		return v, nil
	}
}

// wakeOneWriter hands the channel's capacity-freed slot to the oldest
// non-stale pending writer, if any, enqueueing its value and scheduling
// its resumption. Called with c.mu held; it releases nothing itself and
// expects the caller to unlock after it returns.
func (c *Channel) wakeOneWriter() {
	for len(c.writePending) > 0 {
		w := c.writePending[0]
		c.writePending = c.writePending[1:]
		if w.fiber != nil && w.fiber.SchedID() != w.schedID {
			continue
		}
		c.wake(w, giveEnvelope(c))
		return
	}
}

// wake schedules w's fiber for resumption with val via its owning loop. A
// sched_id mismatch discovered at delivery time (possible for a threaded
// channel, where scheduling races with the target VM's own loop) causes
// the caller to silently drop the wakeup; fairness is preserved because
// the value itself was already queued or handed to another waiter before
// wake was called.
func (c *Channel) wake(w waiter, val types.Value) {
	if w.fiber == nil {
		return
	}
	if w.fiber.SchedID() != w.schedID {
		return
	}
	w.loop.NotifyWoken()
	w.loop.Schedule(w.fiber, val, machine.SigOK)
}

// PushEnvelope implements sched.Supervisor: a terminal-signal delivery from
// the loop behaves like an ordinary non-blocking push from outside any
// fiber.
func (c *Channel) PushEnvelope(v types.Value) error {
	_, err := c.Push(nil, nil, v, NonBlocking)
	if errors.Is(err, ErrWouldBlock) {
		return fmt.Errorf("channel: supervisor channel is full")
	}
	return err
}

// Close transitions c to closed and wakes every pending reader and writer
// with a `[:close chan]` envelope.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	readers := c.readPending
	writers := c.writePending
	c.readPending = nil
	c.writePending = nil
	c.mu.Unlock()

	env := c.closeEnvelope()
	for _, w := range readers {
		c.wake(w, env)
	}
	for _, w := range writers {
		c.wake(w, env)
	}
}

// shuffled returns a Fisher-Yates permutation of indices [0,n), used by
// rselect for fair clause ordering.
func shuffled(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := rand.IntN(i + 1)
		idx[i], idx[j] = idx[j], idx[i]
	}
	return idx
}
