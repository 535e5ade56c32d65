package channel

import (
	"github.com/lumenlang/lumen/machine"
	"github.com/lumenlang/lumen/sched"
	"github.com/lumenlang/lumen/types"
)

// Op is one clause in a select/rselect call: either a push of Value onto
// Chan, or a pop from Chan (Value nil, IsPop true).
type Op struct {
	Chan  *Channel
	Value types.Value
	IsPop bool
}

// Result is the outcome of whichever clause a select/rselect satisfied.
type Result struct {
	Index int // clause index in the Ops slice passed to Select/RSelect
	Value types.Value
}

// Select evaluates ops in the given order: a first non-blocking pass tries
// every clause without suspending, taking the first one that can proceed
// immediately. If none can, every clause is armed (registered as a
// pending reader or writer without suspending) and the fiber suspends
// once; whichever clause a partner matches first wakes it, and the fiber's
// scheduling generation is bumped so the other clauses' now-stale pending
// entries are silently dropped the next time they're visited.
func Select(fr *machine.Fiber, loop *sched.Loop, ops []Op) (Result, error) {
	return selectOrdered(fr, loop, ops, identityOrder(len(ops)))
}

// RSelect is Select with the clause evaluation order permuted by
// Fisher-Yates on each call, giving every ready clause an equal chance of
// being the one chosen when more than one is immediately ready.
func RSelect(fr *machine.Fiber, loop *sched.Loop, ops []Op) (Result, error) {
	return selectOrdered(fr, loop, ops, shuffled(len(ops)))
}

func identityOrder(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

func selectOrdered(fr *machine.Fiber, loop *sched.Loop, ops []Op, order []int) (Result, error) {
	for _, i := range order {
		op := ops[i]
		if op.IsPop {
			v, err := op.Chan.Pop(fr, loop, NonBlocking)
			if err == nil {
				return Result{Index: i, Value: v}, nil
			}
			if err != ErrWouldBlock {
				return Result{}, err
			}
			continue
		}
		_, err := op.Chan.Push(fr, loop, op.Value, NonBlocking)
		if err == nil {
			return Result{Index: i}, nil
		}
		if err != ErrWouldBlock {
			return Result{}, err
		}
	}

	// Nothing ready: arm every clause so any one of them can wake fr, then
	// suspend once. A clause left armed in another channel's queue after
	// this returns is invalidated by the SchedID bump below.
	for _, i := range order {
		op := ops[i]
		if op.IsPop {
			if v, ready := op.Chan.ArmReader(fr, loop); ready {
				return Result{Index: i, Value: v}, nil
			}
			continue
		}
		ready, err := op.Chan.ArmWriter(fr, loop, op.Value)
		if err != nil {
			return Result{}, err
		}
		if ready {
			return Result{Index: i}, nil
		}
	}

	raw, err := fr.Suspend(machine.SigEvent, types.NewKeyword("event"))
	fr.BumpSchedID()
	if err != nil {
		return Result{}, err
	}
	val := sched.UnwrapResume(raw)
	return Result{Index: matchingClause(ops, val), Value: val}, nil
}

// matchingClause finds which Op's channel produced envelope val (a
// take/give/close tuple whose second element is always the originating
// *Channel), returning -1 if val doesn't look like a channel envelope
// (shouldn't happen for anything delivered through wake/close).
func matchingClause(ops []Op, val types.Value) int {
	tup, ok := val.(*types.Tuple)
	if !ok || tup.Len() < 2 {
		return -1
	}
	ch, ok := tup.Index(1).(*Channel)
	if !ok {
		return -1
	}
	for i, op := range ops {
		if op.Chan == ch {
			return i
		}
	}
	return -1
}
