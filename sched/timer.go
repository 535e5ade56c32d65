package sched

import (
	"container/heap"
	"time"

	"github.com/lumenlang/lumen/machine"
)

// timerEntry is one entry in the loop's timeout min-heap. An entry with a
// non-nil CurrFiber is a deadline: firing cancels CurrFiber (unless it can
// no longer be resumed, in which case it is dropped silently). An entry
// with a nil CurrFiber is a plain sleep/timeout on Fiber itself: firing
// resumes it with nil (sleep) or cancels it with "timeout" (IsError); if
// Fiber's scheduling generation has advanced since the timer was armed, the
// entry is dropped instead.
type timerEntry struct {
	When      time.Time
	Fiber     *machine.Fiber
	CurrFiber *machine.Fiber
	SchedID   int64
	IsError   bool
	Reason    string

	index int
}

// timerHeap is a container/heap.Interface over timerEntry, ordered by When.
// Entries with equal When pop in insertion order is not guaranteed by
// container/heap, but the loop only requires that they fire within the
// same tick, which a min-heap already gives for free.
type timerHeap []*timerEntry

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].When.Before(h[j].When) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timerEntry)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

var _ heap.Interface = (*timerHeap)(nil)
