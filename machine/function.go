package machine

import (
	"fmt"

	"github.com/lumenlang/lumen/compiler"
	"github.com/lumenlang/lumen/types"
)

// Function is a function defined by a fn expression or a module's top-level
// code. Grounded on lang/machine/function.go, generalized from a single
// synchronous call to one that may suspend via Fiber signals.
type Function struct {
	Funcode  *compiler.Funcode
	Module   *Module
	Freevars []*Cell
}

var (
	_ types.Value = (*Function)(nil)
	_ Callable    = (*Function)(nil)
)

// Module is the dynamic counterpart to a compiler.Program: the unit of
// compilation. All functions compiled from the same program share a module.
type Module struct {
	Program   *compiler.Program
	Constants []types.Value
	Name      string
}

func (fn *Function) String() string { return fmt.Sprintf("function(%p %s)", fn, fn.Name()) }
func (fn *Function) Type() string   { return "function" }
func (fn *Function) Truth() types.Bool { return types.True }
func (fn *Function) Freeze()        {}

func (fn *Function) Name() string {
	if fn.Funcode.Name == "" {
		return "unknown"
	}
	return fn.Funcode.Name
}

// CallInternal runs fn to completion within the calling fiber fr. Any
// suspension (yield, channel/event blocking) that happens deep inside this
// call is invisible at this level: it blocks fr's goroutine on a channel
// receive and resumes transparently, so by the time CallInternal returns
// the call has genuinely completed (by RETURN or by propagating an error).
func (fn *Function) CallInternal(vm *VM, fr *Fiber, args *types.Tuple) (types.Value, error) {
	return dispatchFunction(vm, fr, fn, args)
}

// Cell is a heap-allocated slot for a local variable captured by a closure
// (an "upvalue"). It implements Value itself so that LOCALCELLREF/FREE may
// push the cell onto the operand stack and MAKETUPLE may collect several of
// them into the freevars tuple handed to MAKEFUNC.
type Cell struct{ v types.Value }

var _ types.Value = (*Cell)(nil)

// NewCell returns a Cell holding v.
func NewCell(v types.Value) *Cell { return &Cell{v: v} }

func (c *Cell) Get() types.Value  { return c.v }
func (c *Cell) Set(v types.Value) { c.v = v }

func (c *Cell) String() string  { return fmt.Sprintf("cell(%s)", c.v) }
func (c *Cell) Type() string    { return "cell" }
func (c *Cell) Truth() types.Bool { return types.True }
func (c *Cell) Freeze()         { c.v.Freeze() }

// Callable is implemented by Function and CFunction. It is declared here,
// in machine rather than types, because it references the VM/Fiber
// execution context that only this package knows about.
type Callable interface {
	types.Value
	CallInternal(vm *VM, fr *Fiber, args *types.Tuple) (types.Value, error)
	Name() string
}

// CFunction is a Go-native function exposed to lumen code, the equivalent of
// a "built-in". Grounded on the predeclared-binding convention in
// lang/machine/universe.go. Its fn returns only a value and an error; a
// CFunction that needs to suspend does so by calling Suspend on the Fiber it
// is given.
type CFunction struct {
	name string
	fn   func(vm *VM, fr *Fiber, args *types.Tuple) (types.Value, error)
}

var (
	_ types.Value = (*CFunction)(nil)
	_ Callable    = (*CFunction)(nil)
)

// NewCFunction wraps a native Go function as a callable lumen value.
func NewCFunction(name string, fn func(vm *VM, fr *Fiber, args *types.Tuple) (types.Value, error)) *CFunction {
	return &CFunction{name: name, fn: fn}
}

func (c *CFunction) String() string  { return fmt.Sprintf("cfunction(%s)", c.name) }
func (c *CFunction) Type() string    { return "cfunction" }
func (c *CFunction) Truth() types.Bool { return types.True }
func (c *CFunction) Freeze()         {}
func (c *CFunction) Name() string    { return c.name }

func (c *CFunction) CallInternal(vm *VM, fr *Fiber, args *types.Tuple) (types.Value, error) {
	return c.fn(vm, fr, args)
}
