package machine

import (
	"github.com/lumenlang/lumen/compiler"
	"github.com/lumenlang/lumen/types"
)

// Frame records one activation of a Function (or CFunction) within a
// fiber's call stack. Frame resolves source positions from the Funcode's
// own line table, rather than an ast package, since the
// compiler is the sole producer of position information in this design.
type Frame struct {
	fn        *Function // nil for a CFunction frame
	name      string     // cfunction name, when fn == nil
	pc        uint32
	locals    []types.Value // register file: parameters, then local bindings
	cells     []*Cell       // boxed locals that have been captured as upvalues
	stack     []types.Value // this frame's private operand stack
	sp        int           // stack pointer within stack
	iterators []types.Iterator
	defers    []int // indices into Funcode.Defers currently pending
	parent    *Frame
}

func newFrame(fn *Function, parent *Frame) *Frame {
	fc := fn.Funcode
	return &Frame{
		fn:     fn,
		locals: make([]types.Value, len(fc.Locals)),
		cells:  make([]*Cell, len(fc.Cells)),
		stack:  make([]types.Value, fc.MaxStack),
		parent: parent,
	}
}

func newNativeFrame(name string, parent *Frame) *Frame {
	return &Frame{name: name, parent: parent}
}

// Name returns the frame's callable name, for tracebacks.
func (fr *Frame) Name() string {
	if fr.fn != nil {
		return fr.fn.Name()
	}
	return fr.name
}

// Position returns the source line/column of the current point of
// execution as reported by lineCol, which currently always yields (0,0);
// a native frame also yields (0,0).
func (fr *Frame) Position() (line, col int32) {
	if fr.fn == nil {
		return 0, 0
	}
	return lineCol(fr.fn.Funcode, fr.pc)
}

func (fr *Frame) push(v types.Value) {
	fr.stack[fr.sp] = v
	fr.sp++
}

func (fr *Frame) pop() types.Value {
	fr.sp--
	v := fr.stack[fr.sp]
	fr.stack[fr.sp] = nil
	return v
}

func (fr *Frame) peek(depth int) types.Value { return fr.stack[fr.sp-1-depth] }

// lineCol returns the source line/column for pc in fc. It decodes no
// pc->line/col table and always returns (0,0), so tracebacks carry no
// positions; dispatch never depends on it.
func lineCol(fc *compiler.Funcode, pc uint32) (int32, int32) {
	return 0, 0
}
