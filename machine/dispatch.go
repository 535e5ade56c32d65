package machine

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/lumenlang/lumen/compiler"
	"github.com/lumenlang/lumen/types"
)

// opResult tells the dispatch loop what execOp just did: keep stepping, or
// unwind the frame with a return value.
type opResult int

const (
	opContinue opResult = iota
	opReturn
)

// dispatch runs frame's bytecode to completion (a RETURN, an uncaught
// error, or a TAILCALL that replaces the frame in place), walking
// frame.fn.Funcode.Code one instruction at a time. Suspension (YIELD, or any
// primitive that calls fr.Suspend) blocks this same goroutine in place and
// resumes transparently; from dispatch's point of view a suspending call
// just takes a while to return.
func dispatch(vm *VM, fr *Fiber, frame *Frame) (types.Value, error) {
	for {
		fc := frame.fn.Funcode
		code := fc.Code

		startPC := frame.pc
		if err := vm.chargeStep(); err != nil {
			return nil, wrapFrameError(frame, startPC, err)
		}

		op := compiler.Opcode(code[frame.pc])
		frame.pc++

		var arg uint32
		if op >= compiler.OpcodeArgMin {
			v, n := binary.Uvarint(code[frame.pc:])
			if n <= 0 || v > math.MaxUint32 {
				return nil, wrapFrameError(frame, startPC, fmt.Errorf("invalid operand for %s at pc %d", op, startPC))
			}
			arg = uint32(v)
			if compiler.IsJump(op) && n < 4 {
				n = 4
			}
			frame.pc += uint32(n)
		}

		result, retVal, replacement, err := execOp(vm, fr, frame, fc, op, arg)
		if err != nil {
			if target, ok := findCatch(fc, startPC); ok {
				frame.pc = target
				frame.push(errorValue(err))
				continue
			}
			return nil, wrapFrameError(frame, startPC, err)
		}
		switch result {
		case opReturn:
			return retVal, nil
		}
		if replacement != nil {
			// TAILCALL into another *Function: replace this frame's
			// activation with the callee's and keep looping, so a
			// self-recursive tail call never grows the Go call stack.
			frame = replacement
			continue
		}
	}
}

// wrapFrameError attaches this frame's position to a propagating error, so a
// traceback accumulates one FrameInfo per activation as it unwinds through
// nested Call invocations.
func wrapFrameError(frame *Frame, pc uint32, err error) error {
	line, col := lineCol(frame.fn.Funcode, pc)
	info := FrameInfo{Name: frame.Name(), PC: pc, Line: line, Col: col}
	if re, ok := err.(*RuntimeError); ok {
		return re.withFrame(info)
	}
	return &RuntimeError{Kind: KindCustom, Msg: err.Error(), Stack: []FrameInfo{info}}
}

// findCatch returns the address to resume at if faultPC falls within one of
// fc's registered catch ranges, preferring the innermost match (Catches
// lists nested ranges after the more general ones they're nested in, per
// Funcode.Catches' own ordering guarantee).
func findCatch(fc *compiler.Funcode, faultPC uint32) (uint32, bool) {
	for i := len(fc.Catches) - 1; i >= 0; i-- {
		c := fc.Catches[i]
		if faultPC >= c.PC0 && faultPC < c.PC1 {
			return c.StartPC, true
		}
	}
	return 0, false
}

// errorValue turns a Go error raised during dispatch into the value pushed
// at the corresponding catch handler's entry point. Condition objects
// richer than a message string aren't modeled yet; a caught error is always
// a String.
func errorValue(err error) types.Value { return types.NewString(err.Error()) }

// cellFor returns the Cell boxing frame's local at localIdx, or nil if that
// local was never marked captured.
func (fr *Frame) cellFor(localIdx int) *Cell {
	for i, li := range fr.fn.Funcode.Cells {
		if li == localIdx {
			return fr.cells[i]
		}
	}
	return nil
}

// execOp runs one instruction and reports what the loop should do next:
// continue, return a value, or (for TAILCALL) replace the active frame.
func execOp(vm *VM, fr *Fiber, frame *Frame, fc *compiler.Funcode, op compiler.Opcode, arg uint32) (opResult, types.Value, *Frame, error) {
	switch op {
	case compiler.NOP:
		// padding byte from a jump operand's encoding; never reached as its
		// own instruction, but harmless if it is.

	case compiler.DUP:
		frame.push(frame.peek(0))
	case compiler.DUP2:
		y, x := frame.peek(0), frame.peek(1)
		frame.push(x)
		frame.push(y)
	case compiler.POP:
		frame.pop()
	case compiler.EXCH:
		y, x := frame.pop(), frame.pop()
		frame.push(y)
		frame.push(x)

	case compiler.LT, compiler.LE, compiler.GT, compiler.GE, compiler.EQL, compiler.NEQ:
		y, x := frame.pop(), frame.pop()
		b, err := types.Compare(compareToken(op), x, y)
		if err != nil {
			return 0, nil, nil, err
		}
		frame.push(types.Bool(b))

	case compiler.PLUS, compiler.MINUS, compiler.STAR, compiler.SLASH, compiler.SLASHSLASH,
		compiler.PERCENT, compiler.CIRCUMFLEX, compiler.AMPERSAND, compiler.PIPE, compiler.TILDE,
		compiler.LTLT, compiler.GTGT:
		y, x := frame.pop(), frame.pop()
		v, err := types.Binary(binaryToken(op), x, y)
		if err != nil {
			return 0, nil, nil, err
		}
		frame.push(v)

	case compiler.UPLUS, compiler.UMINUS, compiler.UTILDE:
		x := frame.pop()
		v, err := types.Unary(unaryToken(op), x)
		if err != nil {
			return 0, nil, nil, err
		}
		frame.push(v)
	case compiler.NOT:
		x := frame.pop()
		frame.push(!types.Truth(x))
	case compiler.LEN:
		x := frame.pop()
		n := types.Len(x)
		if n < 0 {
			return 0, nil, nil, NewRuntimeError(KindType, "%s value has no length", x.Type())
		}
		frame.push(types.Int(n))

	case compiler.NIL:
		frame.push(types.Nil)
	case compiler.TRUE:
		frame.push(types.True)
	case compiler.FALSE:
		frame.push(types.False)

	case compiler.ITERPUSH:
		x := frame.pop()
		it := types.Iterate(x)
		if it == nil {
			return 0, nil, nil, NewRuntimeError(KindType, "%s value is not iterable", x.Type())
		}
		frame.iterators = append(frame.iterators, it)
	case compiler.ITERPOP:
		n := len(frame.iterators)
		frame.iterators[n-1].Done()
		frame.iterators = frame.iterators[:n-1]

	case compiler.RETURN:
		return opReturn, frame.pop(), nil, nil

	case compiler.SETINDEX:
		z, y, x := frame.pop(), frame.pop(), frame.pop()
		if err := types.SetIndex(x, y, z); err != nil {
			return 0, nil, nil, err
		}
	case compiler.INDEX:
		y, x := frame.pop(), frame.pop()
		v, err := types.GetIndex(x, y)
		if err != nil {
			return 0, nil, nil, err
		}
		frame.push(v)
	case compiler.SETMAP:
		value, key, m := frame.pop(), frame.pop(), frame.pop()
		t, ok := m.(types.HasSetKey)
		if !ok {
			return 0, nil, nil, NewRuntimeError(KindType, "%s value does not support key assignment", m.Type())
		}
		if err := t.SetKey(key, value); err != nil {
			return 0, nil, nil, err
		}
	case compiler.APPEND:
		elem, list := frame.pop(), frame.pop()
		a, ok := list.(*types.Array)
		if !ok {
			return 0, nil, nil, NewRuntimeError(KindType, "%s value does not support append", list.Type())
		}
		if err := a.Append(elem); err != nil {
			return 0, nil, nil, err
		}
	case compiler.SLICE:
		step, hi, lo, x := frame.pop(), frame.pop(), frame.pop(), frame.pop()
		v, err := sliceValue(x, lo, hi, step)
		if err != nil {
			return 0, nil, nil, err
		}
		frame.push(v)

	case compiler.RUNDEFER:
		// marks the start of a guarded region; the guarded range itself
		// lives in fc.Defers/fc.Catches and is consulted at unwind time, so
		// there is nothing to do when simply executing past this opcode.

	case compiler.DEFEREXIT:
		if len(frame.defers) == 0 {
			break
		}
		idx := frame.defers[len(frame.defers)-1]
		frame.defers = frame.defers[:len(frame.defers)-1]
		frame.pc = fc.Defers[idx].StartPC

	case compiler.JMP:
		frame.pc = arg
	case compiler.CJMP:
		cond := frame.pop()
		if bool(types.Truth(cond)) {
			frame.pc = arg
		}
	case compiler.ITERJMP:
		n := len(frame.iterators)
		it := frame.iterators[n-1]
		var v types.Value
		if it.Next(&v) {
			frame.push(v)
		} else {
			frame.pc = arg
		}
	case compiler.CATCHJMP:
		// registers no runtime state of its own: a raised error is matched
		// against fc.Catches by PC range directly in the dispatch loop.

	case compiler.CONSTANT:
		frame.push(frame.fn.Module.Constants[arg])

	case compiler.MAKETUPLE:
		elems := popN(frame, int(arg))
		frame.push(types.NewTuple(elems))
	case compiler.MAKEARRAY:
		elems := popN(frame, int(arg))
		frame.push(types.NewArray(elems))
	case compiler.MAKEMAP:
		frame.push(types.NewTable(int(arg)))
	case compiler.MAKESTRUCT:
		raw := popN(frame, 2*int(arg))
		keys := make([]types.Value, arg)
		vals := make([]types.Value, arg)
		for i := 0; i < int(arg); i++ {
			keys[i] = raw[2*i]
			vals[i] = raw[2*i+1]
		}
		frame.push(types.NewStruct(keys, vals))
	case compiler.MAKEFUNC:
		nested := fc.Prog.Functions[arg]
		freevarsTuple := frame.pop().(*types.Tuple)
		cells := make([]*Cell, freevarsTuple.Len())
		for i, v := range freevarsTuple.Values() {
			c, ok := v.(*Cell)
			if !ok {
				return 0, nil, nil, fmt.Errorf("freevar %d of %s is not a cell", i, nested.Name)
			}
			cells[i] = c
		}
		frame.push(&Function{Funcode: nested, Module: frame.fn.Module, Freevars: cells})

	case compiler.LOAD:
		mod := frame.pop()
		names := make([]string, arg)
		for i := int(arg) - 1; i >= 0; i-- {
			s, ok := frame.pop().(types.String)
			if !ok {
				return 0, nil, nil, NewRuntimeError(KindType, "LOAD name operand must be a string")
			}
			names[i] = s.Go()
		}
		for _, name := range names {
			v, err := types.GetAttr(mod, name)
			if err != nil {
				return 0, nil, nil, err
			}
			frame.push(v)
		}

	case compiler.SETLOCAL:
		// A local that ends up captured anywhere in this function has its
		// Cell boxed once at frame entry (boxCells), before any bytecode
		// runs; redirecting through that same Cell here (rather than only
		// the separate SETLOCALCELL opcode compileSet/compileSymbolRef emit
		// once a capture is known) keeps a local's defining write visible to
		// a closure that captures it later in the same function body, even
		// though that write was compiled before the capture was discovered.
		if c := frame.cellFor(int(arg)); c != nil {
			c.Set(frame.pop())
		} else {
			frame.locals[arg] = frame.pop()
		}
	case compiler.LOCAL:
		if c := frame.cellFor(int(arg)); c != nil {
			frame.push(c.Get())
		} else {
			frame.push(frame.locals[arg])
		}
	case compiler.FREE:
		frame.push(frame.fn.Freevars[arg])
	case compiler.FREECELL:
		frame.push(frame.fn.Freevars[arg].Get())
	case compiler.LOCALCELL:
		c := frame.cellFor(int(arg))
		frame.push(c.Get())
	case compiler.SETLOCALCELL:
		c := frame.cellFor(int(arg))
		c.Set(frame.pop())
	case compiler.LOCALCELLREF:
		c := frame.cellFor(int(arg))
		frame.push(c)

	case compiler.PREDECLARED:
		name := fc.Prog.Names[arg]
		v, ok := vm.Predeclared[name]
		if !ok {
			return 0, nil, nil, NewRuntimeError(KindUnbound, "unbound predeclared name: %s", name)
		}
		frame.push(v)
	case compiler.UNIVERSAL:
		name := fc.Prog.Names[arg]
		v, ok := vm.Universal[name]
		if !ok {
			return 0, nil, nil, NewRuntimeError(KindUnbound, "unbound universal name: %s", name)
		}
		frame.push(v)

	case compiler.ATTR:
		x := frame.pop()
		v, err := types.GetAttr(x, fc.Prog.Names[arg])
		if err != nil {
			return 0, nil, nil, err
		}
		frame.push(v)
	case compiler.SETFIELD:
		y, x := frame.pop(), frame.pop()
		if err := types.SetField(x, fc.Prog.Names[arg], y); err != nil {
			return 0, nil, nil, err
		}

	case compiler.UNPACK:
		x := frame.pop()
		vals, err := unpackN(x, int(arg))
		if err != nil {
			return 0, nil, nil, err
		}
		for i := len(vals) - 1; i >= 0; i-- {
			frame.push(vals[i])
		}

	case compiler.CALL:
		positional, _, err := callCounts(arg)
		if err != nil {
			return 0, nil, nil, err
		}
		args := popN(frame, positional)
		callee := frame.pop()
		v, err := Call(vm, fr, callee, types.NewTuple(args))
		if err != nil {
			return 0, nil, nil, err
		}
		frame.push(v)

	case compiler.TAILCALL:
		positional, _, err := callCounts(arg)
		if err != nil {
			return 0, nil, nil, err
		}
		args := popN(frame, positional)
		callee := frame.pop()
		calleeFn, ok := callee.(*Function)
		if !ok {
			// not a plain lumen function (e.g. a cfunction): no frame to
			// replace, just call normally and return its result.
			v, err := Call(vm, fr, callee, types.NewTuple(args))
			if err != nil {
				return 0, nil, nil, err
			}
			return opReturn, v, nil, nil
		}
		next := newFrame(calleeFn, frame.parent)
		if err := bindArgs(calleeFn, next, types.NewTuple(args)); err != nil {
			return 0, nil, nil, err
		}
		return opContinue, nil, next, nil

	case compiler.CALLSPLICE:
		positional, _, err := callCounts(arg)
		if err != nil {
			return 0, nil, nil, err
		}
		spliceVal := frame.pop()
		args := popN(frame, positional)
		extra, err := valuesOf(spliceVal)
		if err != nil {
			return 0, nil, nil, err
		}
		args = append(args, extra...)
		callee := frame.pop()
		v, err := Call(vm, fr, callee, types.NewTuple(args))
		if err != nil {
			return 0, nil, nil, err
		}
		frame.push(v)

	case compiler.CALL_VAR:
		positional, _, err := callCounts(arg)
		if err != nil {
			return 0, nil, nil, err
		}
		varargsVal := frame.pop()
		args := popN(frame, positional)
		extra, err := valuesOf(varargsVal)
		if err != nil {
			return 0, nil, nil, err
		}
		args = append(args, extra...)
		callee := frame.pop()
		v, err := Call(vm, fr, callee, types.NewTuple(args))
		if err != nil {
			return 0, nil, nil, err
		}
		frame.push(v)

	case compiler.YIELD:
		v := frame.pop()
		resumeVal, err := fr.Suspend(SigYield, v)
		if err != nil {
			return 0, nil, nil, err
		}
		frame.push(resumeVal)

	default:
		return 0, nil, nil, fmt.Errorf("unimplemented opcode %s", op)
	}
	return opContinue, nil, nil, nil
}

// popN pops the n topmost stack values and returns them in push order
// (oldest/bottommost first), matching the order positional arguments were
// compiled in.
func popN(frame *Frame, n int) []types.Value {
	vals := make([]types.Value, n)
	for i := n - 1; i >= 0; i-- {
		vals[i] = frame.pop()
	}
	return vals
}

// callCounts decodes a CALL-family operand into its positional and named
// (keyword-pair) argument counts. Keyword-call syntax isn't implemented by
// the compiler yet, so named is always 0 in practice; a nonzero value here
// would mean the stack holds pairs this dispatch loop doesn't know to pop,
// so it's rejected rather than silently misreading the stack.
func callCounts(n uint32) (positional, named int, err error) {
	positional, named = int(n>>8), int(n&0xff)
	if named != 0 {
		return 0, 0, fmt.Errorf("named call arguments are not supported")
	}
	return positional, named, nil
}

// valuesOf returns x's elements for a splice/varargs call argument: any
// Sequence (Array, Tuple) works, matching (f ;(array 1 2 3)) and varargs
// forwarding alike.
func valuesOf(x types.Value) ([]types.Value, error) {
	switch v := x.(type) {
	case *types.Array:
		return v.Values(), nil
	case *types.Tuple:
		return v.Values(), nil
	}
	return nil, NewRuntimeError(KindType, "%s value cannot be spliced into a call", x.Type())
}

// unpackN destructures x into exactly n values for the UNPACK opcode
// ((var (a b c) tuple-expr) and similar multi-value bindings).
func unpackN(x types.Value, n int) ([]types.Value, error) {
	vals, err := valuesOf(x)
	if err != nil {
		return nil, err
	}
	if len(vals) != n {
		return nil, NewRuntimeError(KindArity, "unpack: got %d values, want %d", len(vals), n)
	}
	return vals, nil
}

// sliceValue implements the SLICE opcode over an Indexable x, with
// nil-as-"default" endpoints (lo defaults to 0, hi to Len(x), step to 1),
// mirroring the host language's own slice-expression conventions.
func sliceValue(x, lo, hi, step types.Value) (types.Value, error) {
	ix, ok := x.(types.Indexable)
	if !ok {
		return nil, NewRuntimeError(KindType, "%s value is not sliceable", x.Type())
	}
	n := ix.Len()
	loi, err := sliceBound(lo, 0)
	if err != nil {
		return nil, err
	}
	hii, err := sliceBound(hi, n)
	if err != nil {
		return nil, err
	}
	stepi := 1
	if _, ok := step.(types.NilType); !ok {
		si, ok := step.(types.Int)
		if !ok {
			return nil, NewRuntimeError(KindType, "slice step must be int")
		}
		stepi = int(si)
		if stepi == 0 {
			return nil, NewRuntimeError(KindCustom, "slice step must not be zero")
		}
	}
	if loi < 0 {
		loi += n
	}
	if hii < 0 {
		hii += n
	}
	if loi < 0 {
		loi = 0
	}
	if hii > n {
		hii = n
	}
	var out []types.Value
	if stepi > 0 {
		for i := loi; i < hii; i += stepi {
			out = append(out, ix.Index(i))
		}
	} else {
		for i := loi; i > hii; i += stepi {
			out = append(out, ix.Index(i))
		}
	}
	return types.NewArray(out), nil
}

func sliceBound(v types.Value, def int) (int, error) {
	if _, ok := v.(types.NilType); ok {
		return def, nil
	}
	i, ok := v.(types.Int)
	if !ok {
		return 0, NewRuntimeError(KindType, "slice bound must be int")
	}
	return int(i), nil
}

func compareToken(op compiler.Opcode) types.Token {
	switch op {
	case compiler.LT:
		return types.LT
	case compiler.LE:
		return types.LE
	case compiler.GT:
		return types.GT
	case compiler.GE:
		return types.GE
	case compiler.EQL:
		return types.EQEQ
	case compiler.NEQ:
		return types.NEQ
	}
	panic("not a comparison opcode: " + op.String())
}

func binaryToken(op compiler.Opcode) types.Token {
	switch op {
	case compiler.PLUS:
		return types.PLUS
	case compiler.MINUS:
		return types.MINUS
	case compiler.STAR:
		return types.STAR
	case compiler.SLASH:
		return types.SLASH
	case compiler.SLASHSLASH:
		return types.SLASHSLASH
	case compiler.PERCENT:
		return types.PERCENT
	case compiler.CIRCUMFLEX:
		return types.CIRCUMFLEX
	case compiler.AMPERSAND:
		return types.AMPERSAND
	case compiler.PIPE:
		return types.PIPE
	case compiler.TILDE:
		return types.TILDE
	case compiler.LTLT:
		return types.LTLT
	case compiler.GTGT:
		return types.GTGT
	}
	panic("not a binary opcode: " + op.String())
}

func unaryToken(op compiler.Opcode) types.Token {
	switch op {
	case compiler.UPLUS:
		return types.UPLUS
	case compiler.UMINUS:
		return types.UMINUS
	case compiler.UTILDE:
		return types.UTILDE
	}
	panic("not a unary opcode: " + op.String())
}
