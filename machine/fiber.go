package machine

import (
	"fmt"

	"github.com/lumenlang/lumen/types"
)

// FiberStatus is the lifecycle state of a Fiber.
type FiberStatus uint8

const (
	FiberNew     FiberStatus = iota // never resumed
	FiberRunning                    // currently executing (cannot be resumed reentrantly)
	FiberAlive                      // suspended, can be resumed
	FiberDead                       // returned normally
	FiberError                      // returned via an uncaught error
)

func (s FiberStatus) String() string {
	switch s {
	case FiberNew:
		return "new"
	case FiberRunning:
		return "running"
	case FiberAlive:
		return "alive"
	case FiberDead:
		return "dead"
	case FiberError:
		return "error"
	}
	return "unknown"
}

// resumeMsg is sent into a suspended fiber's goroutine to wake it.
type resumeMsg struct {
	val types.Value
	err error // non-nil injects an error at the suspension point instead
}

// signalMsg is sent out of a fiber's goroutine whenever it settles or
// suspends.
type signalMsg struct {
	sig Signal
	val types.Value
	err error
}

// Fiber is a first-class resumable coroutine, implemented as a goroutine
// plus a pair of unbuffered channels (the standard Go generator pattern).
// No bytecode opcode itself suspends execution; a suspending primitive
// (channel give/take, ev/sleep, ev/read-write, the YIELD opcode) calls
// Suspend, which hands a signal to whoever is resuming this fiber and then
// blocks on resumeCh until resumed again.
type Fiber struct {
	ID     int64
	fn     *Function
	vm     *VM
	parent *Fiber
	mask   Mask // signals this fiber intercepts from children resumed through it

	status    FiberStatus
	topFrame  *Frame
	resumeCh  chan resumeMsg
	signalCh  chan signalMsg
	lastError error

	schedID int64 // scheduling generation, bumped each time the loop reschedules this fiber

	callDepth int // current non-tail call nesting, checked against vm.MaxCallDepth
}

var _ types.Value = (*Fiber)(nil)

// NewFiber creates a fiber that will run fn when first resumed.
func NewFiber(vm *VM, fn *Function, parent *Fiber) *Fiber {
	return &Fiber{
		ID:       vm.nextFiberID(),
		fn:       fn,
		vm:       vm,
		parent:   parent,
		status:   FiberNew,
		resumeCh: make(chan resumeMsg),
		signalCh: make(chan signalMsg),
	}
}

func (f *Fiber) String() string  { return fmt.Sprintf("fiber(%p %s)", f, f.status) }
func (f *Fiber) Type() string    { return "fiber" }
func (f *Fiber) Truth() types.Bool { return types.True }
func (f *Fiber) Freeze()         {} // fibers are never made immutable

// CanResume reports whether f may currently be resumed.
func (f *Fiber) CanResume() bool { return f.status == FiberNew || f.status == FiberAlive }

// Resume transfers control to f, passing in as either the initial call
// argument (first resume) or the resume value of the pending suspension
// point (subsequent resumes). It blocks until f next suspends or settles.
func (f *Fiber) Resume(in *types.Tuple) (types.Value, Signal, error) {
	if !f.CanResume() {
		return nil, SigError, NewRuntimeError(KindDead, "cannot resume %s fiber", f.status)
	}
	if f.status == FiberNew {
		f.status = FiberRunning
		go f.start(in)
	} else {
		f.status = FiberRunning
		f.resumeCh <- resumeMsg{val: in}
	}
	msg := <-f.signalCh
	switch msg.sig {
	case SigOK:
		f.status = FiberDead
	case SigError:
		f.status = FiberError
		f.lastError = msg.err
	default:
		f.status = FiberAlive
	}
	return msg.val, msg.sig, msg.err
}

// ResumeError transfers control to f like Resume, but injects err at f's
// suspension point (the return value of whatever Suspend call is blocking
// it) instead of handing it a value. Used by the scheduler's cancel, which
// is always asynchronous: it resumes the fiber with an error rather than
// unwinding it inline from whatever goroutine called cancel.
func (f *Fiber) ResumeError(err error) (types.Value, Signal, error) {
	if !f.CanResume() {
		return nil, SigError, NewRuntimeError(KindDead, "cannot resume %s fiber", f.status)
	}
	if f.status == FiberNew {
		f.status = FiberRunning
		go func() { f.signalCh <- signalMsg{sig: SigError, err: err} }()
	} else {
		f.status = FiberRunning
		f.resumeCh <- resumeMsg{err: err}
	}
	msg := <-f.signalCh
	switch msg.sig {
	case SigOK:
		f.status = FiberDead
	case SigError:
		f.status = FiberError
		f.lastError = msg.err
	default:
		f.status = FiberAlive
	}
	return msg.val, msg.sig, msg.err
}

// start runs the fiber's function to completion on its own goroutine and
// reports the terminal signal. Any suspension that happens deep inside this
// call (YIELD, a blocking channel/event primitive) is handled transparently
// by Suspend blocking this same goroutine; start only ever reports the
// fiber's final settling signal.
func (f *Fiber) start(in *types.Tuple) {
	v, err := dispatchFunction(f.vm, f, f.fn, in)
	if err != nil {
		f.signalCh <- signalMsg{sig: SigError, err: err}
		return
	}
	f.signalCh <- signalMsg{sig: SigOK, val: v}
}

// Suspend is called by a blocking primitive (or the YIELD opcode) from
// within the fiber's own goroutine. It hands sig/val to whoever is
// currently resuming this fiber, then blocks until Resume is called again,
// returning the resume value (or an injected error, e.g. on cancellation).
func (f *Fiber) Suspend(sig Signal, val types.Value) (types.Value, error) {
	f.signalCh <- signalMsg{sig: sig, val: val}
	msg := <-f.resumeCh
	return msg.val, msg.err
}

// Cancel aborts a suspended fiber by injecting a CancelledError at its
// suspension point; the fiber's own cleanup (defer blocks) still runs.
func (f *Fiber) Cancel(reason string) {
	if f.status != FiberAlive {
		return
	}
	f.status = FiberRunning
	f.resumeCh <- resumeMsg{err: &CancelledError{Reason: reason}}
	<-f.signalCh
	f.status = FiberDead
}

// MaskedSignal reports whether sig, raised by a fiber resumed as a child of
// f, should be intercepted by f (true) or propagated further up the parent
// chain (false) signal masking.
func (f *Fiber) MaskedSignal(sig Signal) bool { return f.mask.Has(sig) }

// SetMask sets the signals f intercepts from fibers it resumes.
func (f *Fiber) SetMask(m Mask) { f.mask = m }

// Status reports f's current lifecycle state, for image serialization and
// diagnostics.
func (f *Fiber) Status() FiberStatus { return f.status }

// Func returns the function f was created to run.
func (f *Fiber) Func() *Function { return f.fn }

// Mask returns f's signal interception mask.
func (f *Fiber) Mask() Mask { return f.mask }

// LastError returns the error that settled a FiberError fiber, or nil.
func (f *Fiber) LastError() error { return f.lastError }

// SchedID returns f's current scheduling generation. A scheduler entry
// (timer or spawn-queue task) captures this value when it is queued and
// compares it again when it fires; a mismatch means f was rescheduled
// elsewhere in the meantime and the stale entry is dropped.
func (f *Fiber) SchedID() int64 { return f.schedID }

// BumpSchedID advances f's scheduling generation, invalidating every
// previously queued timer or task entry that still captured the old value.
func (f *Fiber) BumpSchedID() int64 {
	f.schedID++
	return f.schedID
}

// NewFiberFromImage reconstructs a fiber in status st, produced by
// unmarshaling an image. Only FiberNew, FiberDead and FiberError are valid:
// a fiber captured mid-suspension has its control state on a live goroutine
// stack, which cannot be reconstructed from serialized data, so the image
// package refuses to marshal one in FiberAlive/FiberRunning status in the
// first place (see image/encode.go).
func NewFiberFromImage(vm *VM, fn *Function, st FiberStatus, lastErr error) *Fiber {
	f := NewFiber(vm, fn, nil)
	f.status = st
	f.lastError = lastErr
	return f
}
