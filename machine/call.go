package machine

import (
	"fmt"

	"github.com/lumenlang/lumen/types"
)

// Call invokes callee with args inside fiber fr, dispatching on its dynamic
// type. Native code should always go through Call (never a Callable's
// CallInternal method directly) so that non-callable operands produce a
// consistent error.
func Call(vm *VM, fr *Fiber, callee types.Value, args *types.Tuple) (types.Value, error) {
	c, ok := callee.(Callable)
	if !ok {
		return nil, NewRuntimeError(KindType, "%s value is not callable", callee.Type())
	}
	return c.CallInternal(vm, fr, args)
}

// dispatchFunction binds args to fn's parameters in a fresh Frame and runs
// the bytecode dispatch loop to completion. Every call through here grows
// the Go call stack by one (TAILCALL, by contrast, replaces the active
// Frame in place within dispatch's own loop and never re-enters this
// function), so fr's call depth is charged here and only here.
func dispatchFunction(vm *VM, fr *Fiber, fn *Function, args *types.Tuple) (types.Value, error) {
	if vm.MaxCallDepth != 0 && fr.callDepth >= vm.MaxCallDepth {
		return nil, &CallDepthError{Limit: vm.MaxCallDepth}
	}
	fr.callDepth++
	defer func() { fr.callDepth-- }()

	frame := newFrame(fn, nil)
	if err := bindArgs(fn, frame, args); err != nil {
		return nil, err
	}
	return dispatch(vm, fr, frame)
}

// bindArgs copies positional arguments into a fresh frame's register file,
// per Funcode.NumParams/NumKwonlyParams/HasVarargs, filling any remaining
// declared locals with Nil.
func bindArgs(fn *Function, frame *Frame, args *types.Tuple) error {
	fc := fn.Funcode
	n := args.Len()
	required := fc.NumParams
	if !fc.HasVarargs && n > required+fc.NumKwonlyParams {
		return NewRuntimeError(KindArity, "%s: too many arguments: got %d, want at most %d", fn.Name(), n, required+fc.NumKwonlyParams)
	}
	if n < required {
		return NewRuntimeError(KindArity, "%s: too few arguments: got %d, want at least %d", fn.Name(), n, required)
	}
	for i := 0; i < len(frame.locals); i++ {
		if i < n {
			frame.locals[i] = args.Index(i)
		} else {
			frame.locals[i] = types.Nil
		}
	}
	if fc.HasVarargs && n > required+fc.NumKwonlyParams {
		rest := make([]types.Value, 0, n-required-fc.NumKwonlyParams)
		for i := required + fc.NumKwonlyParams; i < n; i++ {
			rest = append(rest, args.Index(i))
		}
		idx := required + fc.NumKwonlyParams
		if idx < len(frame.locals) {
			frame.locals[idx] = types.NewArray(rest)
		}
	}
	return boxCells(fn, frame)
}

// boxCells allocates a Cell for every local that the compiler marked as
// captured by a nested closure (Funcode.Cells), copying its initial value
// in environment descriptor chain.
func boxCells(fn *Function, frame *Frame) error {
	for i, localIdx := range fn.Funcode.Cells {
		if localIdx < 0 || localIdx >= len(frame.locals) {
			return fmt.Errorf("invalid cell local index %d", localIdx)
		}
		frame.cells[i] = NewCell(frame.locals[localIdx])
	}
	return nil
}
