package sched

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/lumenlang/lumen/config"
	"github.com/lumenlang/lumen/machine"
	"github.com/lumenlang/lumen/types"
)

// DiagSink is the external diagnostics sink a Loop reports an uncaught,
// non-suspending error to when no supervisor channel is set on the fiber
// that raised it. Satisfied by diag.Sink.
type DiagSink interface {
	ReportUncaught(fiberID int64, err error, trace []machine.FrameInfo)
}

// Supervisor receives terminal-signal envelopes for a fiber that carries a
// supervisor channel instead of crashing the loop. Satisfied by
// *channel.Channel.
type Supervisor interface {
	PushEnvelope(v types.Value) error
}

// Loop is the single-threaded cooperative scheduler: a FIFO of ready
// fiber-resumption tasks, a min-heap of timers, and a platform poller,
// driven one tick at a time. One Loop belongs to exactly one machine.VM;
// separate VMs run separate Loops on separate goroutines and only ever
// communicate through threaded channels/abstracts.
type Loop struct {
	vm   *machine.VM
	diag DiagSink

	mu      sync.Mutex // guards spawn/timers against threaded cross-Loop delivery
	spawn   taskQueue
	timers  timerHeap
	streams map[int]*Stream
	poller  Poller

	supervisors map[int64]Supervisor // fiber ID -> supervisor, set by the embedding host

	ioWaiters int // outstanding registered read/write fiber count

	maxPollWait   time.Duration // safety cap on an otherwise-indefinite poll wait
	edgeTriggered bool          // default poller registration mode for NewStream
}

// New returns a Loop with a fresh platform poller, reporting uncaught
// errors to sink, and the default config.Loop tuning.
func New(vm *machine.VM, sink DiagSink) (*Loop, error) {
	return NewWithConfig(vm, sink, config.Loop{MaxPollWait: 30 * time.Second})
}

// NewWithConfig is New with explicit config.Loop tuning: cfg.MaxPollWait
// caps how long a poll with no armed timer is allowed to block (a safety
// net against a wedged poller whose Wake implementation misbehaves), and
// cfg.EdgeTriggered selects the default poller registration mode NewStream
// uses for every stream it registers.
func NewWithConfig(vm *machine.VM, sink DiagSink, cfg config.Loop) (*Loop, error) {
	p, err := newPlatformPoller()
	if err != nil {
		return nil, err
	}
	return &Loop{
		vm:            vm,
		diag:          sink,
		streams:       make(map[int]*Stream),
		poller:        p,
		supervisors:   make(map[int64]Supervisor),
		maxPollWait:   cfg.MaxPollWait,
		edgeTriggered: cfg.EdgeTriggered,
	}, nil
}

// Close releases the loop's poller and every remaining stream registration.
func (l *Loop) Close() error {
	return l.poller.Close()
}

// SetSupervisor installs ch as fiber's supervisor: on a terminal signal
// (error or completion) whose bit is set in that fiber's mask is reported to ch as a
// `[sig-kw, fiber-or-last-value, task-id]` envelope instead of falling
// through to the diagnostics sink.
func (l *Loop) SetSupervisor(fiber *machine.Fiber, ch Supervisor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.supervisors[fiber.ID] = ch
}

// Schedule enqueues fiber for resumption with (val, sig) at the tail of the
// spawn FIFO (regular `schedule`). The fiber's current SchedID is captured
// so a later reschedule invalidates this entry.
func (l *Loop) Schedule(fiber *machine.Fiber, val types.Value, sig machine.Signal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.spawn.pushBack(Task{Fiber: fiber, Value: val, Sig: sig, ExpectedSchedID: fiber.SchedID()})
}

// ScheduleSoon enqueues fiber at the head of the spawn FIFO
// (`schedule_soon`), run before any task already queued this tick.
func (l *Loop) ScheduleSoon(fiber *machine.Fiber, val types.Value, sig machine.Signal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.spawn.pushFront(Task{Fiber: fiber, Value: val, Sig: sig, ExpectedSchedID: fiber.SchedID()})
}

// Cancel is `cancel(fiber, err)`: always asynchronous, it schedules fiber
// to resume with an injected error on the next tick rather than unwinding
// it inline.
func (l *Loop) Cancel(fiber *machine.Fiber, reason string) {
	l.cancelFiber(fiber, reason)
}

func (l *Loop) cancelFiber(fiber *machine.Fiber, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.spawn.pushBack(Task{Fiber: fiber, Sig: machine.SigError, Err: &machine.CancelledError{Reason: reason},
		ExpectedSchedID: fiber.SchedID()})
}

// AddTimeout arms a one-shot sleep/timeout timer for fiber, keyed to its
// current SchedID. isError selects between a plain sleep (resume with nil)
// and a timeout (cancel with "timeout").
func (l *Loop) AddTimeout(fiber *machine.Fiber, after time.Duration, isError bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	heap.Push(&l.timers, &timerEntry{
		When: time.Now().Add(after), Fiber: fiber, SchedID: fiber.SchedID(), IsError: isError,
		Reason: "timeout",
	})
}

// AddDeadline arms a deadline timer: when it fires, curr (the fiber
// currently active, typically a child resumed by fiber) is cancelled with
// "deadline expired" unless it can no longer be resumed.
func (l *Loop) AddDeadline(fiber, curr *machine.Fiber, after time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	heap.Push(&l.timers, &timerEntry{
		When: time.Now().Add(after), Fiber: fiber, CurrFiber: curr, SchedID: curr.SchedID(),
		Reason: "deadline expired",
	})
}

// Run drives loop1 ticks until ctx is done or there is no more work of any
// kind (empty spawn queue, empty timer heap, no outstanding I/O waiters).
func (l *Loop) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if l.idle() {
			return nil
		}
		if err := l.tick(); err != nil {
			return err
		}
	}
}

func (l *Loop) idle() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spawn.len() == 0 && len(l.timers) == 0 && l.ioWaiters == 0
}

// tick runs one loop1 iteration: drain expired timers, drain the spawn
// FIFO, then poll for stream readiness with a timeout derived from the
// next armed timer (or block indefinitely if none and I/O is outstanding).
func (l *Loop) tick() error {
	l.drainTimers()
	l.drainSpawn()
	return l.pollOnce()
}

func (l *Loop) drainTimers() {
	now := time.Now()
	for {
		l.mu.Lock()
		if len(l.timers) == 0 || l.timers[0].When.After(now) {
			l.mu.Unlock()
			break
		}
		t := heap.Pop(&l.timers).(*timerEntry)
		l.mu.Unlock()
		l.fireTimer(t)
	}
}

func (l *Loop) fireTimer(t *timerEntry) {
	if t.CurrFiber != nil {
		// Deadline: cancel the live fiber unless it's no longer resumable.
		if t.CurrFiber.CanResume() {
			l.cancelFiber(t.CurrFiber, t.Reason)
		}
		return
	}
	if t.Fiber.SchedID() != t.SchedID {
		return // rescheduled elsewhere since this timer was armed
	}
	if t.IsError {
		l.cancelFiber(t.Fiber, t.Reason)
		return
	}
	l.Schedule(t.Fiber, types.Nil, machine.SigOK)
}

func (l *Loop) drainSpawn() {
	l.mu.Lock()
	tasks := l.spawn.drain()
	l.mu.Unlock()

	for _, task := range tasks {
		if task.ExpectedSchedID != task.Fiber.SchedID() {
			continue // stale: rescheduled since this task was queued
		}
		if !task.Fiber.CanResume() {
			continue
		}
		var val types.Value
		var sig machine.Signal
		var err error
		switch {
		case task.Sig == machine.SigError:
			val, sig, err = task.Fiber.ResumeError(task.Err)
		case task.Fiber.Status() == machine.FiberNew:
			// First resume: the toplevel function was already bound to its
			// call arguments by whoever built it (spawn captures them as
			// freevars), so it runs with no positional arguments here.
			val, sig, err = task.Fiber.Resume(types.NewTuple(nil))
		default:
			val, sig, err = task.Fiber.Resume(types.NewTuple([]types.Value{task.Value}))
		}
		l.reportTerminal(task.Fiber, val, sig, err)
	}
}

// reportTerminal handles a fiber settling: route the signal to its
// supervisor if one is set and the signal's bit is set in the fiber's mask, otherwise (for an
// uncaught, non-suspending error) report it to the diagnostics sink.
func (l *Loop) reportTerminal(fiber *machine.Fiber, val types.Value, sig machine.Signal, err error) {
	if sig == SignalSuspend {
		// Caller is expected to have already registered the corresponding
		// stream slot or channel pending-waiter entry; NotifyWoken is called
		// by whoever later wakes this fiber back up.
		l.mu.Lock()
		l.ioWaiters++
		l.mu.Unlock()
		return
	}
	terminal := sig == machine.SigOK || sig == machine.SigError
	if !terminal {
		return
	}

	l.mu.Lock()
	sup, hasSup := l.supervisors[fiber.ID]
	l.mu.Unlock()

	if hasSup && fiber.MaskedSignal(sig) {
		env := supervisorEnvelope(sig, fiber, val)
		_ = sup.PushEnvelope(env)
		return
	}
	if sig == machine.SigError && l.diag != nil {
		var frames []machine.FrameInfo
		if rt, ok := err.(*machine.RuntimeError); ok {
			frames = rt.Stack
		}
		l.diag.ReportUncaught(fiber.ID, err, frames)
	}
}

// SignalSuspend is a scheduler-local pseudo-signal used by reportTerminal
// to distinguish "still suspended on an event" (machine.SigEvent) from an
// actually terminal signal. It is an alias of machine.SigEvent, not a
// separate constant.
const SignalSuspend = machine.SigEvent

func supervisorEnvelope(sig machine.Signal, fiber *machine.Fiber, val types.Value) types.Value {
	result := val
	if sig == machine.SigError {
		result = fiber
	}
	return types.NewTuple([]types.Value{
		types.NewKeyword(sig.String()),
		result,
		types.Int(fiber.ID),
	})
}

func (l *Loop) nextTimeout() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case l.spawn.len() > 0:
		return 0
	case len(l.timers) > 0:
		d := time.Until(l.timers[0].When)
		if d < 0 {
			d = 0
		}
		return d
	case l.ioWaiters > 0:
		if l.maxPollWait > 0 {
			return l.maxPollWait
		}
		return -1 // block until poller wakes, either from readiness or Wake()
	default:
		return 0
	}
}

func (l *Loop) pollOnce() error {
	timeout := l.nextTimeout()
	events, err := l.poller.Wait(timeout)
	if err != nil {
		return err
	}
	for _, ev := range events {
		l.dispatchStreamEvent(ev)
	}
	return nil
}

func (l *Loop) dispatchStreamEvent(ev PollEvent) {
	s, ok := l.streams[ev.Fd]
	if !ok {
		return
	}
	if (ev.Read || ev.Err || ev.Hup) && s.readFiber != nil {
		f := s.readFiber
		s.readFiber = nil
		l.NotifyWoken()
		sigKw := "read"
		switch {
		case ev.Err:
			sigKw = "err"
		case ev.Hup:
			sigKw = "hup"
		}
		l.Schedule(f, types.NewKeyword(sigKw), machine.SigOK)
	}
	if ev.Write && s.writeFiber != nil {
		f := s.writeFiber
		s.writeFiber = nil
		l.NotifyWoken()
		l.Schedule(f, types.NewKeyword("write"), machine.SigOK)
	}
}

// UnwrapResume extracts the value a suspended fiber's Suspend call gets
// back once Loop.Schedule wakes it. Fiber.Resume always takes a *types.Tuple
// (the uniform representation for both initial call arguments and later
// resume values), so Schedule's single value arrives wrapped in a
// one-element tuple; callers that suspended expecting a scalar back (a
// channel envelope, a stream readiness keyword) unwrap it with this.
func UnwrapResume(v types.Value) types.Value {
	if t, ok := v.(*types.Tuple); ok && t.Len() >= 1 {
		return t.Index(0)
	}
	return v
}

// NotifyWoken decrements the outstanding-waiter count incremented when a
// fiber last suspended with SigEvent, called by whatever wakes it back up
// (a channel match, a stream readiness event, or a cancellation) once it
// schedules the fiber's resumption.
func (l *Loop) NotifyWoken() {
	l.mu.Lock()
	l.ioWaiters--
	l.mu.Unlock()
}
