// Package sched implements the single-threaded cooperative event loop that
// schedules fiber resumption: a FIFO of ready tasks, a min-heap of timers,
// and a platform readiness poller, driven one tick at a time by Loop.Run.
package sched

import (
	"github.com/lumenlang/lumen/machine"
	"github.com/lumenlang/lumen/types"
)

// Task is one ready-to-run entry in the loop's spawn FIFO: resume Fiber
// with (Value, Sig) unless ExpectedSchedID no longer matches the fiber's
// current scheduling generation, in which case the fiber was rescheduled
// elsewhere since this entry was queued and it is silently dropped.
type Task struct {
	Fiber           *machine.Fiber
	Value           types.Value
	Sig             machine.Signal
	Err             error // set when Sig == machine.SigError; resumed via Fiber.ResumeError
	ExpectedSchedID int64
}

// taskQueue is a plain FIFO over Task, with a push-to-front variant for
// schedule_soon.
type taskQueue struct {
	items []Task
}

func (q *taskQueue) pushBack(t Task)  { q.items = append(q.items, t) }
func (q *taskQueue) pushFront(t Task) { q.items = append([]Task{t}, q.items...) }
func (q *taskQueue) len() int         { return len(q.items) }

// drain removes and returns every task currently queued, leaving the queue
// empty. Tasks scheduled by a callback invoked during drain land in the
// next tick's queue, not this one, since they're appended after this slice
// was taken.
func (q *taskQueue) drain() []Task {
	items := q.items
	q.items = nil
	return items
}
