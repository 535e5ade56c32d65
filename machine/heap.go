package machine

import (
	"sync"

	"github.com/lumenlang/lumen/types"
)

// Color is the mark-sweep tri-color (plus pinned) used for heap object
// bookkeeping "every heap object records a color
// (white/gray/black/pinned)".
type Color uint8

const (
	White Color = iota
	Gray
	Black
	Pinned
)

// Heap provides the bookkeeping describes on top of Go's own
// garbage collector: explicit GC roots beyond the active fiber, a lock
// counter that defers abstract finalization across mutation windows, and a
// Sweep pass that invokes an abstract's vtable.GC hook once it becomes
// unreachable from the root set. It does not track ordinary Values (Go's
// collector already does that correctly); it only tracks registered
// abstracts that own external resources, since deterministic release of OS
// handles is a contract Go's own collector cannot honor on its own.
type Heap struct {
	mu        sync.Mutex
	lockCount int
	roots     []func(mark func(types.Value))
	abstracts map[*types.Abstract]Color
	registry  *abstractRegistry
}

// NewHeap returns an initialized, empty Heap.
func NewHeap() *Heap {
	return &Heap{
		abstracts: make(map[*types.Abstract]Color),
		registry:  newAbstractRegistry(),
	}
}

// Root registers mark as an additional GC root; mark is called during Sweep
// with a callback to report every Value transitively reachable from the
// root. Typical roots: the active fiber, the top-level dynamic table, the
// symbol cache, the task queue, the timer heap, and pending channel
// readers/writers.
func (h *Heap) Root(mark func(mark func(types.Value))) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.roots = append(h.roots, mark)
}

// Lock suppresses abstract finalization during Sweep; used by mutator code
// that is mutating reachable state and must not have a concurrently-running
// collection tear resources out from under it.
func (h *Heap) Lock() {
	h.mu.Lock()
	h.lockCount++
	h.mu.Unlock()
}

// Unlock reverses a prior Lock.
func (h *Heap) Unlock() {
	h.mu.Lock()
	h.lockCount--
	h.mu.Unlock()
}

// TrackAbstract registers an abstract value for GC-hook bookkeeping. Only
// abstracts with a non-nil vtable.GC need to be tracked; others are left to
// Go's own collector entirely.
func (h *Heap) TrackAbstract(a *types.Abstract) {
	if a.VTable().GC == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.abstracts[a] = White
	h.registry.register(a.VTable())
}

// Sweep performs one incremental mark-sweep pass over tracked abstracts: it
// marks every abstract reachable from a registered root as Black, then
// invokes vtable.GC on every abstract that remains White, unless the heap
// is currently locked.
func (h *Heap) Sweep() {
	h.mu.Lock()
	if h.lockCount > 0 {
		h.mu.Unlock()
		return
	}
	for a := range h.abstracts {
		h.abstracts[a] = White
	}
	roots := append([]func(mark func(types.Value)){}, h.roots...)
	h.mu.Unlock()

	reachable := make(map[*types.Abstract]bool)
	var markValue func(v types.Value)
	markValue = func(v types.Value) {
		if a, ok := v.(*types.Abstract); ok {
			if reachable[a] {
				return
			}
			reachable[a] = true
			if a.VTable().Mark != nil {
				a.VTable().Mark(a.Data(), markValue)
			}
		}
	}
	for _, root := range roots {
		root(markValue)
	}

	h.mu.Lock()
	var collect []*types.Abstract
	for a := range h.abstracts {
		if !reachable[a] {
			collect = append(collect, a)
		} else {
			h.abstracts[a] = Black
		}
	}
	for _, a := range collect {
		delete(h.abstracts, a)
	}
	h.mu.Unlock()

	for _, a := range collect {
		_ = a.VTable().GC(a.Data())
	}
}

// RegisterAbstractType makes vt available for the marshaller to resolve by
// name on decode.
func (h *Heap) RegisterAbstractType(vt *types.AbstractVTable) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.registry.register(vt)
}

// LookupAbstractType resolves a previously registered vtable by name.
func (h *Heap) LookupAbstractType(name string) (*types.AbstractVTable, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registry.lookup(name)
}

// abstractRegistry records every AbstractVTable registered with a VM, so
// the marshaller can look one up by name on decode.
type abstractRegistry struct {
	byName map[string]*types.AbstractVTable
}

func newAbstractRegistry() *abstractRegistry {
	return &abstractRegistry{byName: make(map[string]*types.AbstractVTable)}
}

func (r *abstractRegistry) register(vt *types.AbstractVTable) { r.byName[vt.Name] = vt }

func (r *abstractRegistry) lookup(name string) (*types.AbstractVTable, bool) {
	vt, ok := r.byName[name]
	return vt, ok
}
