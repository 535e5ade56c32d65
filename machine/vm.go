package machine

import (
	"sync/atomic"

	"github.com/lumenlang/lumen/types"
)

// VM is the thread-local execution context: one VM per OS thread/goroutine
// group, owning the heap, step/depth limits, and the predeclared (universe)
// bindings. VMs never share a Heap, and communicate with each
// other only through threaded channels/abstracts.
type VM struct {
	Heap *Heap

	// Predeclared holds bindings injected by the embedding host for this VM
	// (e.g. module-specific globals), looked up by the PREDECLARED opcode.
	Predeclared map[string]types.Value
	// Universal holds the language-wide bindings available to every program
	// (e.g. arithmetic/print primitives), looked up by the UNIVERSAL opcode.
	Universal map[string]types.Value

	MaxSteps     uint64 // 0 = unlimited
	MaxCallDepth int    // 0 = unlimited

	steps    uint64
	fiberSeq int64
}

// NewVM returns a VM with its own Heap and empty binding tables.
func NewVM() *VM {
	return &VM{
		Heap:        NewHeap(),
		Predeclared: make(map[string]types.Value),
		Universal:   make(map[string]types.Value),
	}
}

func (vm *VM) nextFiberID() int64 { return atomic.AddInt64(&vm.fiberSeq, 1) }

// chargeStep increments the instruction counter and reports whether the
// configured step budget has been exceeded.
func (vm *VM) chargeStep() error {
	if vm.MaxSteps == 0 {
		return nil
	}
	vm.steps++
	if vm.steps > vm.MaxSteps {
		return &StepLimitError{Limit: vm.MaxSteps}
	}
	return nil
}

// HasPredeclared reports whether name is bound in this VM's predeclared
// table, without returning the value itself.
func (vm *VM) HasPredeclared(name string) bool {
	_, ok := vm.Predeclared[name]
	return ok
}

// HasUniversal reports whether name is bound in this VM's universal table.
func (vm *VM) HasUniversal(name string) bool {
	_, ok := vm.Universal[name]
	return ok
}

// SetUniversal installs or replaces a binding in this VM's universal table,
// used by compiler-driven resolution of a previously-unbound symbol.
func (vm *VM) SetUniversal(name string, v types.Value) {
	vm.Universal[name] = v
}

// CallMacro invokes fn, a macro function value, synchronously with args and
// returns its single result. Macro functions run to completion in their own
// fiber so they may use ordinary control flow (fn/if/while) during
// expansion; a macro that suspends on an event-loop primitive is a compile
// error.
func (vm *VM) CallMacro(fn types.Value, args []types.Value) (types.Value, error) {
	f, ok := fn.(*Function)
	if !ok {
		return nil, NewRuntimeError(KindType, "value of type %s is not callable as a macro", fn.Type())
	}
	fiber := NewFiber(vm, f, nil)
	result, sig, err := fiber.Resume(types.NewTuple(args))
	if err != nil {
		return nil, err
	}
	if sig != SigOK {
		return nil, NewRuntimeError(KindCustom, "macro %q did not return normally (signal %s)", f.Name(), sig)
	}
	return result, nil
}
