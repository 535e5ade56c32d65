package compiler_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lumenlang/lumen/compiler"
	"github.com/lumenlang/lumen/machine"
	"github.com/lumenlang/lumen/types"
)

// call builds a Tuple form (head arg...).
func call(head string, args ...types.Value) *types.Tuple {
	elems := make([]types.Value, 0, len(args)+1)
	elems = append(elems, types.NewSymbol(head))
	elems = append(elems, args...)
	return types.NewTuple(elems)
}

func TestCompileAndRunAddition(t *testing.T) {
	vm := machine.NewVM()
	body := types.NewTuple([]types.Value{call("+", types.Int(1), types.Int(2))})

	prog, _, err := compiler.Compile(vm, "addition", body, nil, nil)
	require.NoError(t, err)

	fn, err := machine.Load(prog)
	require.NoError(t, err)

	fiber := machine.NewFiber(vm, fn, nil)
	v, sig, err := fiber.Resume(types.NilaryTuple)
	require.NoError(t, err)
	require.Equal(t, machine.SigOK, sig)
	require.Equal(t, types.Int(3), v)
}

func TestCompileAndRunAbsoluteValue(t *testing.T) {
	vm := machine.NewVM()

	// (fn [x] (if (< x 0) (- 0 x) x))
	absForm := types.NewTuple([]types.Value{
		types.NewSymbol("fn"),
		types.NewArray([]types.Value{types.NewSymbol("x")}),
		call("if",
			call("<", types.NewSymbol("x"), types.Int(0)),
			call("-", types.Int(0), types.NewSymbol("x")),
			types.NewSymbol("x"),
		),
	})
	body := types.NewTuple([]types.Value{absForm})

	prog, _, err := compiler.Compile(vm, "abs", body, nil, nil)
	require.NoError(t, err)

	fn, err := machine.Load(prog)
	require.NoError(t, err)

	topFiber := machine.NewFiber(vm, fn, nil)
	result, sig, err := topFiber.Resume(types.NilaryTuple)
	require.NoError(t, err)
	require.Equal(t, machine.SigOK, sig)
	absFn, ok := result.(*machine.Function)
	require.True(t, ok, "expected toplevel to yield a function value")

	negFiber := machine.NewFiber(vm, absFn, nil)
	v, sig, err := negFiber.Resume(types.NewTuple([]types.Value{types.Int(-7)}))
	require.NoError(t, err)
	require.Equal(t, machine.SigOK, sig)
	require.Equal(t, types.Int(7), v)

	posFiber := machine.NewFiber(vm, absFn, nil)
	v, sig, err = posFiber.Resume(types.NewTuple([]types.Value{types.Int(5)}))
	require.NoError(t, err)
	require.Equal(t, machine.SigOK, sig)
	require.Equal(t, types.Int(5), v)
}

// TestCompileWhileClosureCapturesPerIteration exercises the while-IIFE
// lowering: a loop body that builds a closure over a per-iteration local
// must give each iteration's closure its own value, not the final
// iteration's value shared across every closure.
func TestCompileWhileClosureCapturesPerIteration(t *testing.T) {
	vm := machine.NewVM()

	var recorded []types.Value
	vm.Predeclared["record"] = machine.NewCFunction("record", func(vm *machine.VM, fr *machine.Fiber, args *types.Tuple) (types.Value, error) {
		recorded = append(recorded, args.Index(0))
		return types.Nil, nil
	})

	// (def i 0)
	// (while (< i 3)
	//   (def cur i)
	//   (record (fn [] cur))
	//   (set i (+ i 1)))
	// i
	body := types.NewTuple([]types.Value{
		call("def", types.NewSymbol("i"), types.Int(0)),
		types.NewTuple([]types.Value{
			types.NewSymbol("while"),
			call("<", types.NewSymbol("i"), types.Int(3)),
			call("def", types.NewSymbol("cur"), types.NewSymbol("i")),
			call("record", types.NewTuple([]types.Value{
				types.NewSymbol("fn"),
				types.NewArray(nil),
				types.NewSymbol("cur"),
			})),
			call("set", types.NewSymbol("i"), call("+", types.NewSymbol("i"), types.Int(1))),
		}),
		types.NewSymbol("i"),
	})

	prog, _, err := compiler.Compile(vm, "while-capture", body, nil, nil)
	require.NoError(t, err)

	fn, err := machine.Load(prog)
	require.NoError(t, err)

	fiber := machine.NewFiber(vm, fn, nil)
	v, sig, err := fiber.Resume(types.NilaryTuple)
	require.NoError(t, err)
	require.Equal(t, machine.SigOK, sig)
	require.Equal(t, types.Int(3), v)

	require.Len(t, recorded, 3)
	for i, closure := range recorded {
		fn, ok := closure.(*machine.Function)
		require.True(t, ok, "expected closure %d to be a function", i)
		cf := machine.NewFiber(vm, fn, nil)
		result, sig, err := cf.Resume(types.NilaryTuple)
		require.NoError(t, err)
		require.Equal(t, machine.SigOK, sig)
		require.Equal(t, types.Int(i), result, "closure %d should capture its own loop iteration value", i)
	}
}

func TestCompileAndRunFiberYieldThenReturn(t *testing.T) {
	vm := machine.NewVM()

	// (yield 1) (yield 2) (yield 3) 4
	body := types.NewTuple([]types.Value{
		call("yield", types.Int(1)),
		call("yield", types.Int(2)),
		call("yield", types.Int(3)),
		types.Int(4),
	})

	prog, _, err := compiler.Compile(vm, "generator", body, nil, nil)
	require.NoError(t, err)

	fn, err := machine.Load(prog)
	require.NoError(t, err)

	fiber := machine.NewFiber(vm, fn, nil)

	v, sig, err := fiber.Resume(types.NilaryTuple)
	require.NoError(t, err)
	require.Equal(t, machine.SigYield, sig)
	require.Equal(t, types.Int(1), v)

	v, sig, err = fiber.Resume(types.NilaryTuple)
	require.NoError(t, err)
	require.Equal(t, machine.SigYield, sig)
	require.Equal(t, types.Int(2), v)

	v, sig, err = fiber.Resume(types.NilaryTuple)
	require.NoError(t, err)
	require.Equal(t, machine.SigYield, sig)
	require.Equal(t, types.Int(3), v)

	v, sig, err = fiber.Resume(types.NilaryTuple)
	require.NoError(t, err)
	require.Equal(t, machine.SigOK, sig)
	require.Equal(t, types.Int(4), v)

	_, sig, err = fiber.Resume(types.NilaryTuple)
	require.Error(t, err)
	require.Equal(t, machine.SigError, sig)
	rerr, ok := err.(*machine.RuntimeError)
	require.True(t, ok, "expected a *machine.RuntimeError")
	require.Equal(t, machine.KindDead, rerr.Kind)
}
