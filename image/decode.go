package image

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/lumenlang/lumen/compiler"
	"github.com/lumenlang/lumen/machine"
	"github.com/lumenlang/lumen/types"
)

// DecodeTable is the decode-side counterpart of EncodeTable: it resolves a
// tagNamed entry back to the process-local value it stands for (a
// cfunction, an abstract bound to a resource, a shared singleton). Every
// name Marshal substituted must be present here or Unmarshal fails.
type DecodeTable map[string]types.Value

type decoder struct {
	r     *bytes.Reader
	refs  *refReader
	table DecodeTable
	vm    *machine.VM
}

// Unmarshal reverses Marshal. vm supplies the heap an abstract's vtable is
// looked up against and the VM a reconstructed fiber is bound to; table may
// be nil if the stream contains no tagNamed values.
func Unmarshal(b []byte, vm *machine.VM, table DecodeTable) (types.Value, error) {
	r := bytes.NewReader(b)
	ver, err := r.ReadByte()
	if err != nil {
		return nil, badFormat("empty input")
	}
	if int(ver) != Version {
		return nil, badFormat("unsupported version %d (want %d)", ver, Version)
	}
	d := &decoder{r: r, refs: newRefReader(), table: table, vm: vm}
	return d.value()
}

func (d *decoder) readTag() (tag, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		return 0, badFormat("truncated input: %v", err)
	}
	return tag(b), nil
}

func (d *decoder) expectTag(want tag) error {
	got, err := d.readTag()
	if err != nil {
		return err
	}
	if got != want {
		return badFormat("expected %s, got %s", want, got)
	}
	return nil
}

func (d *decoder) readUvarint() (uint64, error) {
	n, err := binary.ReadUvarint(d.r)
	if err != nil {
		return 0, badFormat("truncated varint: %v", err)
	}
	return n, nil
}

func (d *decoder) readVarint() (int64, error) {
	n, err := binary.ReadVarint(d.r)
	if err != nil {
		return 0, badFormat("truncated varint: %v", err)
	}
	return n, nil
}

func (d *decoder) readBool() (bool, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		return false, badFormat("truncated input: %v", err)
	}
	return b != 0, nil
}

func (d *decoder) readBytes() ([]byte, error) {
	n, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, badFormat("truncated byte run: %v", err)
	}
	return buf, nil
}

func (d *decoder) readString() (string, error) {
	b, err := d.readBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// value decodes one tagged value, resolving tagRef and tagNamed without
// consulting the ref table's sequential numbering (named substitutions are
// never assigned a ref id; see encoder.value).
func (d *decoder) value() (types.Value, error) {
	t, err := d.readTag()
	if err != nil {
		return nil, err
	}
	if n, ok := t.smallInt(); ok {
		return types.Int(n), nil
	}
	switch t {
	case tagNil:
		return types.Nil, nil
	case tagTrue:
		return types.True, nil
	case tagFalse:
		return types.False, nil
	case tagInt:
		n, err := d.readVarint()
		if err != nil {
			return nil, err
		}
		return types.Int(n), nil
	case tagFloat:
		var buf [8]byte
		if _, err := io.ReadFull(d.r, buf[:]); err != nil {
			return nil, badFormat("truncated float: %v", err)
		}
		return types.Float(math.Float64frombits(binary.BigEndian.Uint64(buf[:]))), nil
	case tagString:
		return d.refString()
	case tagSymbol:
		return d.refSymbol()
	case tagKeyword:
		return d.refKeyword()
	case tagBuffer:
		return d.refBuffer()
	case tagArray:
		return d.array()
	case tagTuple:
		return d.tuple()
	case tagTable:
		return d.table()
	case tagStruct:
		return d.structValue()
	case tagFiber:
		return d.fiber()
	case tagThread:
		return nil, badFormat("legacy %q tag is not supported; images must use %q", "thread", "fiber")
	case tagFunc:
		return d.function()
	case tagAbstract:
		return d.abstract()
	case tagNamed:
		return d.named()
	case tagRef:
		id, err := d.readUvarint()
		if err != nil {
			return nil, err
		}
		return d.refs.get(int(id))
	default:
		return nil, badFormat("unknown tag %s", t)
	}
}

func (d *decoder) refString() (types.Value, error) {
	id := d.refs.reserve()
	b, err := d.readBytes()
	if err != nil {
		return nil, err
	}
	v := types.NewString(string(b))
	d.refs.set(id, v)
	return v, nil
}

func (d *decoder) refSymbol() (types.Value, error) {
	id := d.refs.reserve()
	s, err := d.readString()
	if err != nil {
		return nil, err
	}
	v := types.NewSymbol(s)
	d.refs.set(id, v)
	return v, nil
}

func (d *decoder) refKeyword() (types.Value, error) {
	id := d.refs.reserve()
	s, err := d.readString()
	if err != nil {
		return nil, err
	}
	v := types.NewKeyword(s)
	d.refs.set(id, v)
	return v, nil
}

func (d *decoder) refBuffer() (types.Value, error) {
	id := d.refs.reserve()
	b, err := d.readBytes()
	if err != nil {
		return nil, err
	}
	v := types.NewBufferFromBytes(b)
	d.refs.set(id, v)
	return v, nil
}

// array reserves its ref id and registers the (empty) array before decoding
// elements, so an element that is a tagRef back to this same array (a
// self-referential structure) resolves correctly.
func (d *decoder) array() (types.Value, error) {
	id := d.refs.reserve()
	n, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	a := types.NewArray(nil)
	d.refs.set(id, a)
	for i := uint64(0); i < n; i++ {
		elem, err := d.value()
		if err != nil {
			return nil, err
		}
		if err := a.Append(elem); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// tuple decodes its elements before constructing the (immutable) result: a
// tuple can never legally reference itself, since nothing can hold a
// pointer to it before NewTuple returns, but its ref id is still reserved
// up front to keep id numbering aligned with the encoder's pre-order walk.
func (d *decoder) tuple() (types.Value, error) {
	id := d.refs.reserve()
	n, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	elems := make([]types.Value, n)
	for i := range elems {
		elems[i], err = d.value()
		if err != nil {
			return nil, err
		}
	}
	v := types.NewTuple(elems)
	d.refs.set(id, v)
	return v, nil
}

func (d *decoder) table() (types.Value, error) {
	id := d.refs.reserve()
	n, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	tbl := types.NewTable(int(n))
	d.refs.set(id, tbl)
	for i := uint64(0); i < n; i++ {
		k, err := d.value()
		if err != nil {
			return nil, err
		}
		v, err := d.value()
		if err != nil {
			return nil, err
		}
		if err := tbl.SetKey(k, v); err != nil {
			return nil, err
		}
	}
	return tbl, nil
}

func (d *decoder) structValue() (types.Value, error) {
	id := d.refs.reserve()
	n, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	keys := make([]types.Value, n)
	vals := make([]types.Value, n)
	for i := range keys {
		if keys[i], err = d.value(); err != nil {
			return nil, err
		}
		if vals[i], err = d.value(); err != nil {
			return nil, err
		}
	}
	s := types.NewStruct(keys, vals)
	d.refs.set(id, s)
	return s, nil
}

func (d *decoder) abstract() (types.Value, error) {
	id := d.refs.reserve()
	name, err := d.readString()
	if err != nil {
		return nil, err
	}
	body, err := d.readBytes()
	if err != nil {
		return nil, err
	}
	if d.vm == nil {
		return nil, fmt.Errorf("unmarshal: abstract %q needs a VM to resolve its type", name)
	}
	vt, ok := d.vm.Heap.LookupAbstractType(name)
	if !ok {
		return nil, fmt.Errorf("unmarshal: abstract type %q is not registered with this VM", name)
	}
	if vt.Unmarshal == nil {
		return nil, fmt.Errorf("unmarshal: abstract type %q has no Unmarshal hook", name)
	}
	data, err := vt.Unmarshal(body)
	if err != nil {
		return nil, fmt.Errorf("unmarshal: abstract %q: %w", name, err)
	}
	a := types.NewAbstract(vt, data)
	d.refs.set(id, a)
	return a, nil
}

// fiber reconstructs f in the status it was marshaled in (new, dead, or
// error; see encoder.fiber). A freshly reconstructed fiber gets its own
// resume/signal channel pair from NewFiberFromImage; a dead or errored one
// is never resumed so the channels are simply unused.
func (d *decoder) fiber() (types.Value, error) {
	id := d.refs.reserve()
	statusByte, err := d.r.ReadByte()
	if err != nil {
		return nil, badFormat("truncated fiber status: %v", err)
	}
	st := machine.FiberStatus(statusByte)
	msg, err := d.readString()
	if err != nil {
		return nil, err
	}
	maskV, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	if d.vm == nil {
		return nil, fmt.Errorf("unmarshal: fiber needs a VM to bind to")
	}
	f := &machine.Fiber{}
	d.refs.set(id, f)
	fnVal, err := d.value()
	if err != nil {
		return nil, err
	}
	fn, ok := fnVal.(*machine.Function)
	if !ok {
		return nil, badFormat("fiber's function field decoded as %T, not a function", fnVal)
	}
	var lastErr error
	if st == machine.FiberError && msg != "" {
		lastErr = errors.New(msg)
	}
	*f = *machine.NewFiberFromImage(d.vm, fn, st, lastErr)
	f.SetMask(machine.Mask(maskV))
	return f, nil
}

// function reconstructs fn's whole program (every sibling Funcode a
// MAKEFUNC opcode could address), resolves which Funcode fn itself runs,
// and rebuilds its constant pool and closed-over free variables. Its ref id
// is registered before any of that is decoded so a recursive closure whose
// freevars cell holds the function itself round-trips correctly.
func (d *decoder) function() (types.Value, error) {
	id := d.refs.reserve()
	fn := &machine.Function{}
	d.refs.set(id, fn)

	idx, err := d.readVarint()
	if err != nil {
		return nil, err
	}
	prog, err := d.program()
	if err != nil {
		return nil, err
	}
	if idx == -1 {
		fn.Funcode = prog.Toplevel
	} else {
		if idx < 0 || int(idx) >= len(prog.Functions) {
			return nil, badFormat("function index %d out of range for its program", idx)
		}
		fn.Funcode = prog.Functions[idx]
	}

	nConst, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	constants := make([]types.Value, nConst)
	for i := range constants {
		if constants[i], err = d.value(); err != nil {
			return nil, err
		}
	}
	modName, err := d.readString()
	if err != nil {
		return nil, err
	}
	fn.Module = &machine.Module{Program: prog, Constants: constants, Name: modName}

	if err := d.expectTag(tagFuncEnv); err != nil {
		return nil, err
	}
	nFree, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	freevars := make([]*machine.Cell, nFree)
	for i := range freevars {
		v, err := d.value()
		if err != nil {
			return nil, err
		}
		freevars[i] = machine.NewCell(v)
	}
	fn.Freevars = freevars
	return fn, nil
}

// program decodes the whole compiled unit written by encoder.program: not
// ref-tracked (a compiler.Program is not a types.Value), so it is simply
// duplicated wherever more than one decoded Function shares one in the same
// call, mirroring the encoder's duplication.
func (d *decoder) program() (*compiler.Program, error) {
	if err := d.expectTag(tagProgram); err != nil {
		return nil, err
	}
	filename, err := d.readString()
	if err != nil {
		return nil, err
	}
	nNames, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	names := make([]string, nNames)
	for i := range names {
		if names[i], err = d.readString(); err != nil {
			return nil, err
		}
	}
	nLoads, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	loads := make([]compiler.Binding, nLoads)
	for i := range loads {
		name, err := d.readString()
		if err != nil {
			return nil, err
		}
		loads[i] = compiler.Binding{Name: name}
	}
	toplevel, err := d.funcdef()
	if err != nil {
		return nil, err
	}
	nFuncs, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	funcs := make([]*compiler.Funcode, nFuncs)
	for i := range funcs {
		if funcs[i], err = d.funcdef(); err != nil {
			return nil, err
		}
	}
	prog := &compiler.Program{
		Filename:  filename,
		Names:     names,
		Loads:     loads,
		Toplevel:  toplevel,
		Functions: funcs,
	}
	toplevel.Prog = prog
	for _, fc := range funcs {
		fc.Prog = prog
	}
	return prog, nil
}

func (d *decoder) funcdef() (*compiler.Funcode, error) {
	if err := d.expectTag(tagFuncDef); err != nil {
		return nil, err
	}
	name, err := d.readString()
	if err != nil {
		return nil, err
	}
	code, err := d.readBytes()
	if err != nil {
		return nil, err
	}
	maxStack, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	numParams, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	numKwonly, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	hasVarargs, err := d.readBool()
	if err != nil {
		return nil, err
	}
	hasKwargs, err := d.readBool()
	if err != nil {
		return nil, err
	}

	nLocals, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	locals := make([]compiler.Binding, nLocals)
	for i := range locals {
		n, err := d.readString()
		if err != nil {
			return nil, err
		}
		locals[i] = compiler.Binding{Name: n}
	}

	nCells, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	cells := make([]int, nCells)
	for i := range cells {
		c, err := d.readUvarint()
		if err != nil {
			return nil, err
		}
		cells[i] = int(c)
	}

	nFreevars, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	freevars := make([]compiler.Binding, nFreevars)
	for i := range freevars {
		n, err := d.readString()
		if err != nil {
			return nil, err
		}
		freevars[i] = compiler.Binding{Name: n}
	}

	defers, err := d.readDefers()
	if err != nil {
		return nil, err
	}
	catches, err := d.readDefers()
	if err != nil {
		return nil, err
	}

	return &compiler.Funcode{
		Name:            name,
		Code:            code,
		MaxStack:        int(maxStack),
		NumParams:       int(numParams),
		NumKwonlyParams: int(numKwonly),
		HasVarargs:      hasVarargs,
		HasKwargs:       hasKwargs,
		Locals:          locals,
		Cells:           cells,
		Freevars:        freevars,
		Defers:          defers,
		Catches:         catches,
	}, nil
}

func (d *decoder) readDefers() ([]compiler.Defer, error) {
	n, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	out := make([]compiler.Defer, n)
	for i := range out {
		pc0, err := d.readUvarint()
		if err != nil {
			return nil, err
		}
		pc1, err := d.readUvarint()
		if err != nil {
			return nil, err
		}
		startPC, err := d.readUvarint()
		if err != nil {
			return nil, err
		}
		out[i] = compiler.Defer{PC0: uint32(pc0), PC1: uint32(pc1), StartPC: uint32(startPC)}
	}
	return out, nil
}

// named resolves a process-boundary-stable substitution against the
// DecodeTable supplied to Unmarshal; it is never assigned a ref id (see
// encoder.value, which checks e.names before entering the ref-tracked
// switch at all).
func (d *decoder) named() (types.Value, error) {
	name, err := d.readString()
	if err != nil {
		return nil, err
	}
	v, ok := d.table[name]
	if !ok {
		return nil, fmt.Errorf("unmarshal: named value %q not found in DecodeTable", name)
	}
	return v, nil
}
