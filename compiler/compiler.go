// Much of the compiler package's CFG linearization pass is adapted from the
// Starlark source code:
// https://github.com/google/starlark-go/tree/ee8ed142361c69d52fe8e9fb5e311d2a0a7c02de
//
// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package compiler takes source code already in its "code is data" form
// (a types.Value, built of tuples/arrays/symbols/literals, with no
// separate parser or AST package) and compiles it to the bytecode the
// machine package's dispatch loop executes. It also provides a
// pseudo-assembly serialization (asm.go) that encodes in textual form a
// program closely matching the binary bytecode, used by tests.
package compiler

import (
	"fmt"

	"github.com/lumenlang/lumen/types"
)

const debug = false

// Compile compiles body (a tuple of top-level forms) into a Program whose
// Toplevel Funcode runs them in sequence single-pass
// AST-to-bytecode model: there is one walk over the form tree, emitting
// instructions directly, with a later linearization pass (this file's
// `generate`) turning the emitted CFG of blocks into a flat instruction
// stream.
func Compile(env CompileEnv, filename string, body types.Value, handler MissingSymbolHandler, macros Macros) (*Program, []*Diagnostic, error) {
	if macros == nil {
		macros = Macros{}
	}
	p := &pcomp{
		prog:             &Program{Filename: filename},
		env:              env,
		namesIdx:         make(map[string]int),
		constIdx:         make(map[any]int),
		funcIdx:          make(map[*Funcode]int),
		handler:          handler,
		resolvingMissing: make(map[string]bool),
		macros:           macros,
	}

	top, diags, err := p.function("toplevel", nil, nil, body, nil)
	if err != nil {
		return nil, diags, err
	}
	p.prog.Toplevel = top
	return p.prog, diags, nil
}

// pcomp holds the compiler state shared by every function compiled from
// the same source (the Program being built, its Names/Constants interning
// tables, and the missing-symbol handler).
type pcomp struct {
	prog *Program
	env  CompileEnv

	namesIdx map[string]int
	constIdx map[any]int
	funcIdx  map[*Funcode]int

	handler          MissingSymbolHandler
	resolvingMissing map[string]bool

	macros           Macros
	macroExpansions  int

	diags []*Diagnostic
}

// functionIndex returns fn's index into Program.Functions, for MAKEFUNC's
// operand. fn must already have been appended (function() does this for
// every non-toplevel Funcode it builds).
func (p *pcomp) functionIndex(fn *Funcode) int {
	if idx, ok := p.funcIdx[fn]; ok {
		return idx
	}
	idx := -1
	for i, f := range p.prog.Functions {
		if f == fn {
			idx = i
			break
		}
	}
	p.funcIdx[fn] = idx
	return idx
}

func (p *pcomp) nameIndex(name string) int {
	if idx, ok := p.namesIdx[name]; ok {
		return idx
	}
	idx := len(p.prog.Names)
	p.prog.Names = append(p.prog.Names, name)
	p.namesIdx[name] = idx
	return idx
}

func (p *pcomp) addConstant(v any) int {
	if idx, ok := p.constIdx[v]; ok {
		return idx
	}
	idx := len(p.prog.Constants)
	p.prog.Constants = append(p.prog.Constants, v)
	p.constIdx[v] = idx
	return idx
}

// function compiles one function body (the toplevel program, or a nested fn
// special form) into a Funcode. loopSeed, if non-nil, is pushed onto the new
// fcomp's loop stack before its body compiles, so a (break) inside a
// while-loop body lowered into its own nested function (compileWhileIIFE)
// still resolves to the right exit behavior.
func (p *pcomp) function(name string, parent *fcomp, params []string, body types.Value, loopSeed *loopCtx) (*Funcode, []*Diagnostic, error) {
	fc := &fcomp{
		pcomp:        p,
		parent:       parent,
		freevarIndex: make(map[string]int),
		fn: &Funcode{
			Prog:      p.prog,
			Name:      name,
			NumParams: len(params),
		},
	}
	if loopSeed != nil {
		fc.loops = append(fc.loops, *loopSeed)
	}
	fc.pushScope()
	for _, param := range params {
		if _, err := fc.alloc(param); err != nil {
			return nil, p.diags, err
		}
	}

	entry := fc.newBlock()
	fc.block = entry

	forms, err := asForms(body)
	if err != nil {
		return nil, p.diags, err
	}
	if err := fc.compileBody(forms); err != nil {
		return nil, p.diags, err
	}
	// A block still open here already has its real tail value on the
	// operand stack (e.g. from a trailing if whose branches both jump to
	// this merge point); generate's terminal-RETURN fallback closes it
	// without disturbing that value, so nothing further is emitted here.
	fc.popScope()

	if err := fc.linearize(entry); err != nil {
		return nil, p.diags, err
	}

	if name != "toplevel" {
		p.prog.Functions = append(p.prog.Functions, fc.fn)
	}
	return fc.fn, p.diags, nil
}

// compileBody compiles a sequence of forms such that only the last form's
// value survives on the stack (every other form's value is popped), per
// the do/toplevel/fn-body sequencing rule.
func (fc *fcomp) compileBody(forms []types.Value) error {
	if len(forms) == 0 {
		fc.emit(NIL, 0)
		return nil
	}
	for i, f := range forms {
		tail := i == len(forms)-1
		if err := fc.compileForm(f, tail); err != nil {
			return err
		}
		if !tail {
			fc.emit(POP, 0)
		}
	}
	return nil
}

// asForms interprets v as a sequence of forms: a Tuple or Array's elements,
// or a single form if v is neither (so a lone expression can stand in for a
// one-statement body).
func asForms(v types.Value) ([]types.Value, error) {
	switch t := v.(type) {
	case *types.Tuple:
		out := make([]types.Value, t.Len())
		for i := 0; i < t.Len(); i++ {
			out[i] = t.Index(i)
		}
		return out, nil
	case *types.Array:
		out := make([]types.Value, t.Len())
		for i := 0; i < t.Len(); i++ {
			out[i] = t.Index(i)
		}
		return out, nil
	case types.NilType:
		return nil, nil
	default:
		return []types.Value{v}, nil
	}
}

// fcomp holds the compiler state for a single Funcode.
type fcomp struct {
	fn    *Funcode
	pcomp *pcomp
	parent *fcomp

	scope *scope
	ra, ua uint64

	freevarIndex map[string]int

	block *block
	loops []loopCtx
}

type loopCtx struct {
	breakBlock *block

	// returnOnBreak marks a loop whose body runs inside a nested function
	// (the while-IIFE lowering) rather than inline CFG blocks in the
	// enclosing function, so break has no breakBlock reachable across the
	// function boundary and must instead return from the nested function
	// directly.
	returnOnBreak bool
}

// block is one basic block of emitted instructions, forming a CFG that
// linearize() later flattens into Funcode.Code.
type block struct {
	insns     []insn
	jmp, cjmp *block

	initialstack int
	index        int // -1 => not yet visited by linearize
	addr         uint32
}

type insn struct {
	op  Opcode
	arg uint32
}

func (fc *fcomp) newBlock() *block { return &block{index: -1} }

// emit appends an instruction to the current block. A control-flow opcode
// closes the block: callers must follow up by assigning b.jmp/b.cjmp and
// switching fc.block to a fresh block.
func (fc *fcomp) emit(op Opcode, arg uint32) {
	if fc.block == nil {
		return
	}
	fc.block.insns = append(fc.block.insns, insn{op: op, arg: arg})
}

// jump closes the current block with an unconditional successor, switching
// fc.block to next.
func (fc *fcomp) jump(target *block) {
	if fc.block == nil {
		return
	}
	fc.block.jmp = target
	fc.block = nil
}

// cjump closes the current block with a CJMP/ITERJMP to trueBlock (the
// branch recorded by the opcode's jump target), falling through to
// falseBlock otherwise.
func (fc *fcomp) cjump(op Opcode, trueBlock, falseBlock *block) {
	if fc.block == nil {
		return
	}
	fc.block.insns = append(fc.block.insns, insn{op: op})
	fc.block.cjmp = trueBlock
	fc.block.jmp = falseBlock
	fc.block = nil
}

// linearize computes instruction order, addresses and the function's max
// stack depth by walking the CFG from entry, using a starlark-derived
// block-placement algorithm (place the jmp successor next when possible,
// else emit an explicit backward jump).
func (fc *fcomp) linearize(entry *block) error {
	var pc uint32
	var blocks []*block
	maxstack := 0
	var oops error

	setInitial := func(b *block, depth int) {
		if b.initialstack == -1 {
			b.initialstack = depth
		} else if b.initialstack != depth && oops == nil {
			oops = fmt.Errorf("internal error: stack depth mismatch entering block (%d vs %d)", b.initialstack, depth)
		}
	}
	entry.initialstack = -1
	setInitial(entry, 0)

	var visit func(b *block)
	visit = func(b *block) {
		if oops != nil || b.index >= 0 {
			return
		}
		b.index = len(blocks)
		b.addr = pc
		blocks = append(blocks, b)

		stack := b.initialstack
		var cjmpAddr *uint32
		var isIterJmp int
		for i := range b.insns {
			in := &b.insns[i]
			pc++
			if in.op >= OpcodeArgMin {
				switch in.op {
				case ITERJMP:
					isIterJmp = 1
					fallthrough
				case CJMP:
					cjmpAddr = &in.arg
					pc += 4
				default:
					pc += uint32(varArgLen(in.arg))
				}
			}
			stack += stackEffectOf(in.op, in.arg)
			if stack < 0 && oops == nil {
				oops = fmt.Errorf("internal error: stack underflow at pc %d (%s)", pc, in.op)
			}
			if stack+isIterJmp > maxstack {
				maxstack = stack + isIterJmp
			}
		}
		if b.jmp == nil && b.cjmp == nil && (len(b.insns) == 0 || !isTerminal(b.insns[len(b.insns)-1].op)) {
			pc++ // generate's fallback RETURN
		}

		if b.jmp != nil {
			for b.jmp.insns == nil && b.jmp.jmp != nil {
				b.jmp = b.jmp.jmp
			}
			setInitial(b.jmp, stack+isIterJmp)
			if b.jmp.index < 0 {
				visit(b.jmp)
			} else {
				pc += 5
			}
		}
		if b.cjmp != nil {
			for b.cjmp.insns == nil && b.cjmp.jmp != nil {
				b.cjmp = b.cjmp.jmp
			}
			setInitial(b.cjmp, stack)
			visit(b.cjmp)
			if cjmpAddr != nil {
				*cjmpAddr = b.cjmp.addr
			}
		}
	}
	visit(entry)
	if oops != nil {
		return oops
	}

	fc.fn.MaxStack = maxstack
	fc.generate(blocks, pc)
	return nil
}

// generate emits the final byte-encoded instruction stream once every
// block's address is known.
func (fc *fcomp) generate(blocks []*block, total uint32) {
	code := make([]byte, 0, total+5*uint32(len(blocks)))
	for _, b := range blocks {
		for _, in := range b.insns {
			code = encodeInsn(code, in.op, in.arg)
		}
		if b.jmp != nil {
			if uint32(len(code)) != b.jmp.addr {
				// backward or cross jump: explicit JMP
				code = encodeInsn(code, JMP, b.jmp.addr)
			}
		} else if b.cjmp == nil && (len(b.insns) == 0 || !isTerminal(b.insns[len(b.insns)-1].op)) {
			code = encodeInsn(code, RETURN, 0)
		}
	}
	fc.fn.Code = code
}

// encodeInsn appends op (and, if applicable, arg) to code. Jump arguments
// are zero-padded with trailing NOP bytes to occupy exactly 4 bytes
// (Dasm's decoder special-cases isJump to treat those as consumed even
// though binary.Uvarint itself stops at the first non-continuation byte).
func encodeInsn(code []byte, op Opcode, arg uint32) []byte {
	code = append(code, byte(op))
	if op >= OpcodeArgMin {
		if isJump(op) {
			code = addUint32(code, arg, 4)
		} else {
			code = addUint32(code, arg, 0)
		}
	}
	return code
}

// addUint32 encodes x as a 7-bit little-endian varint, then pads with NOP
// bytes until at least min bytes (from the start of this call) were
// written.
func addUint32(code []byte, x uint32, min int) []byte {
	end := len(code) + min
	for x >= 0x80 {
		code = append(code, byte(x)|0x80)
		x >>= 7
	}
	code = append(code, byte(x))
	for len(code) < end {
		code = append(code, byte(NOP))
	}
	return code
}

func isTerminal(op Opcode) bool { return op == RETURN || op == TAILCALL }

// stackEffectOf returns op's net effect on the operand stack. Most opcodes
// have a fixed effect from the stackEffect table; the handful whose arg
// encodes a variable argument count (MAKETUPLE/MAKEARRAY/UNPACK/the
// CALL family) compute it from arg instead.
func stackEffectOf(op Opcode, arg uint32) int {
	switch op {
	case MAKETUPLE, MAKEARRAY:
		return 1 - int(arg)
	case MAKESTRUCT:
		return 1 - 2*int(arg)
	case UNPACK:
		return int(arg) - 1
	case CALL:
		return 1 - 1 - callArgCount(arg)
	case TAILCALL:
		return -1 - callArgCount(arg)
	case CALLSPLICE:
		return 1 - 1 - callArgCount(arg) - 1
	case CALL_VAR:
		return 1 - 1 - callArgCount(arg) - 1
	case ITERJMP:
		return 0
	}
	if int(op) < len(stackEffect) {
		if se := stackEffect[op]; se != variableStackEffect {
			return int(se)
		}
	}
	return 0
}

// callArgCount decodes the positional+named slot count a CALL-family arg
// encodes: n>>8 positional values plus 2*(n&0xff) named key/value values.
func callArgCount(n uint32) int {
	positional := int(n >> 8)
	named := int(n & 0xff)
	return positional + 2*named
}
