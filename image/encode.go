package image

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/lumenlang/lumen/compiler"
	"github.com/lumenlang/lumen/machine"
	"github.com/lumenlang/lumen/types"
)

// EncodeTable maps a stable symbolic name to a value whose identity must
// survive a trip across a process boundary (a cfunction, an abstract bound
// to a process-local resource, a shared singleton) rather than being
// serialized structurally. Marshal consults it, by identity, before
// attempting to encode any value structurally.
type EncodeTable map[string]types.Value

type encoder struct {
	buf   bytes.Buffer
	refs  *refWriter
	names map[types.Value]string
}

// Marshal serializes v to a deterministic, self-describing byte stream.
// table may be nil. Every non-atomic value (everything but nil, booleans,
// numbers) is assigned a sequential id the first time it is encountered;
// later occurrences of the same pointer (shared structure, or a cycle
// through a table/array) are replaced by a short back-reference instead of
// being re-encoded.
func Marshal(v types.Value, table EncodeTable) (out []byte, err error) {
	e := &encoder{refs: newRefWriter()}
	if len(table) > 0 {
		e.names = make(map[types.Value]string, len(table))
		for name, val := range table {
			e.names[val] = name
		}
	}
	e.buf.WriteByte(byte(Version))
	if err := e.value(v); err != nil {
		return nil, err
	}
	return e.buf.Bytes(), nil
}

func (e *encoder) putTag(t tag) { e.buf.WriteByte(byte(t)) }

func (e *encoder) writeUvarint(n uint64) {
	var tmp [binary.MaxVarintLen64]byte
	w := binary.PutUvarint(tmp[:], n)
	e.buf.Write(tmp[:w])
}

func (e *encoder) writeVarint(n int64) {
	var tmp [binary.MaxVarintLen64]byte
	w := binary.PutVarint(tmp[:], n)
	e.buf.Write(tmp[:w])
}

func (e *encoder) writeBytes(b []byte) {
	e.writeUvarint(uint64(len(b)))
	e.buf.Write(b)
}

// named substitutes a process-boundary-stable name in place of a
// structural encoding.
func (e *encoder) named(name string) error {
	e.putTag(tagNamed)
	e.writeBytes([]byte(name))
	return nil
}

// ref handles the common ref-eligible-value bookkeeping: a value already
// seen is replaced by tagRef+id; otherwise its id is reserved (so a
// self-reference reached while encoding body sees the reservation) and body
// writes the structural tag and payload.
func (e *encoder) ref(key any, body func() error) error {
	id, ok := e.refs.seen(key)
	if ok {
		e.putTag(tagRef)
		e.writeUvarint(uint64(id))
		return nil
	}
	return body()
}

func (e *encoder) value(v types.Value) error {
	if v == nil {
		return e.putTagErr(tagNil)
	}
	if e.names != nil {
		if name, ok := e.lookupName(v); ok {
			return e.named(name)
		}
	}
	switch t := v.(type) {
	case types.NilType:
		return e.putTagErr(tagNil)
	case types.Bool:
		if t {
			return e.putTagErr(tagTrue)
		}
		return e.putTagErr(tagFalse)
	case types.Int:
		return e.int(int64(t))
	case types.Float:
		return e.float(float64(t))
	case types.String:
		return e.ref(t, func() error {
			e.putTag(tagString)
			e.writeBytes([]byte(t.Go()))
			return nil
		})
	case types.Symbol:
		return e.ref(t, func() error {
			e.putTag(tagSymbol)
			e.writeBytes([]byte(t.Go()))
			return nil
		})
	case types.Keyword:
		return e.ref(t, func() error {
			e.putTag(tagKeyword)
			e.writeBytes([]byte(t.Go()))
			return nil
		})
	case *types.Buffer:
		return e.ref(t, func() error {
			e.putTag(tagBuffer)
			e.writeBytes(t.Bytes())
			return nil
		})
	case *types.Array:
		return e.ref(t, func() error { return e.array(t) })
	case *types.Tuple:
		return e.ref(t, func() error { return e.tuple(t) })
	case *types.Table:
		return e.ref(t, func() error { return e.table(t) })
	case *types.Struct:
		return e.ref(t, func() error { return e.structValue(t) })
	case *machine.Fiber:
		return e.ref(t, func() error { return e.fiber(t) })
	case *machine.Function:
		return e.ref(t, func() error { return e.function(t) })
	case *machine.CFunction:
		return fmt.Errorf("marshal: cfunction %q has no stable identity across processes; register it in an EncodeTable", t.Name())
	case *types.Abstract:
		return e.ref(t, func() error { return e.abstract(t) })
	case types.Pointer:
		return fmt.Errorf("marshal: pointer values are not marshalable")
	default:
		return fmt.Errorf("marshal: unsupported value type %s", v.Type())
	}
}

// lookupName looks v up in e.names, recovering from the panic a map lookup
// raises if v's dynamic type is uncomparable (a user-supplied Pointer
// wrapping an uncomparable Go value, for instance).
func (e *encoder) lookupName(v types.Value) (name string, ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	name, ok = e.names[v]
	return
}

func (e *encoder) putTagErr(t tag) error {
	e.putTag(t)
	return nil
}

func (e *encoder) int(v int64) error {
	if st, ok := smallIntTag(v); ok {
		e.putTag(st)
		return nil
	}
	e.putTag(tagInt)
	e.writeVarint(v)
	return nil
}

func (e *encoder) float(v float64) error {
	e.putTag(tagFloat)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(v))
	e.buf.Write(buf[:])
	return nil
}

func (e *encoder) array(a *types.Array) error {
	e.putTag(tagArray)
	e.writeUvarint(uint64(a.Len()))
	for i := 0; i < a.Len(); i++ {
		if err := e.value(a.Index(i)); err != nil {
			return err
		}
	}
	return nil
}

func (e *encoder) tuple(t *types.Tuple) error {
	e.putTag(tagTuple)
	e.writeUvarint(uint64(t.Len()))
	for i := 0; i < t.Len(); i++ {
		if err := e.value(t.Index(i)); err != nil {
			return err
		}
	}
	return nil
}

func (e *encoder) table(m *types.Table) error {
	e.putTag(tagTable)
	e.writeUvarint(uint64(m.Len()))
	var err error
	it := m.Iterate()
	defer it.Done()
	var pair types.Value
	for it.Next(&pair) {
		p := pair.(*types.Tuple)
		if err = e.value(p.Index(0)); err != nil {
			return err
		}
		if err = e.value(p.Index(1)); err != nil {
			return err
		}
	}
	return nil
}

func (e *encoder) structValue(s *types.Struct) error {
	e.putTag(tagStruct)
	e.writeUvarint(uint64(s.Len()))
	it := s.Iterate()
	defer it.Done()
	var pair types.Value
	for it.Next(&pair) {
		p := pair.(*types.Tuple)
		if err := e.value(p.Index(0)); err != nil {
			return err
		}
		if err := e.value(p.Index(1)); err != nil {
			return err
		}
	}
	return nil
}

func (e *encoder) abstract(a *types.Abstract) error {
	vt := a.VTable()
	if vt.Marshal == nil {
		return fmt.Errorf("marshal: abstract type %q has no Marshal hook", vt.Name)
	}
	body, err := vt.Marshal(a.Data())
	if err != nil {
		return fmt.Errorf("marshal: abstract %q: %w", vt.Name, err)
	}
	e.putTag(tagAbstract)
	e.writeBytes([]byte(vt.Name))
	e.writeBytes(body)
	return nil
}

// fiber serializes f's shape for inspection and, when f is new or already
// settled, for faithful reconstruction. A fiber captured in FiberAlive (or
// FiberRunning) status has its true control state spread across a live Go
// goroutine's call stack rather than in any data this package can walk;
// there is no generic way to capture or later resume that continuation, so
// marshaling one is refused outright rather than silently producing an
// image that can never be resumed.
func (e *encoder) fiber(f *machine.Fiber) error {
	switch f.Status() {
	case machine.FiberNew, machine.FiberDead, machine.FiberError:
	default:
		return fmt.Errorf("marshal: cannot marshal a %s fiber (only new, dead, or error fibers are supported)", f.Status())
	}
	e.putTag(tagFiber)
	e.buf.WriteByte(byte(f.Status()))
	var msg string
	if f.Status() == machine.FiberError && f.LastError() != nil {
		msg = f.LastError().Error()
	}
	e.writeBytes([]byte(msg))
	e.writeUvarint(uint64(f.Mask()))
	return e.value(f.Func())
}

// function serializes fn's whole compiled unit inline (see program below),
// plus which Funcode within it fn runs, its resolved constant pool, and its
// closed-over free variables.
func (e *encoder) function(fn *machine.Function) error {
	e.putTag(tagFunc)
	idx, err := functionIndex(fn)
	if err != nil {
		return err
	}
	e.writeVarint(idx)
	if err := e.program(fn.Module.Program); err != nil {
		return err
	}
	e.writeUvarint(uint64(len(fn.Module.Constants)))
	for _, c := range fn.Module.Constants {
		if err := e.value(c); err != nil {
			return err
		}
	}
	e.writeBytes([]byte(fn.Module.Name))

	e.putTag(tagFuncEnv)
	e.writeUvarint(uint64(len(fn.Freevars)))
	for _, cell := range fn.Freevars {
		if err := e.value(cell.Get()); err != nil {
			return err
		}
	}
	return nil
}

// functionIndex locates fn.Funcode within its own Program: -1 for the
// toplevel (module init) code, otherwise its position in Functions (what a
// MAKEFUNC<n> opcode elsewhere in the same Program addresses).
func functionIndex(fn *machine.Function) (int64, error) {
	prog := fn.Module.Program
	if fn.Funcode == prog.Toplevel {
		return -1, nil
	}
	for i, fc := range prog.Functions {
		if fc == fn.Funcode {
			return int64(i), nil
		}
	}
	return 0, fmt.Errorf("marshal: function's code does not belong to its own module's program")
}

// program serializes every Funcode a MAKEFUNC opcode anywhere in p could
// reference, inlined directly rather than tracked in its own ref-id space:
// a Function's Program is duplicated across every Function value that
// shares it when more than one such Function is marshaled together in the
// same call, trading a little redundancy for not needing a second,
// non-types.Value ref space alongside refWriter's (which only holds
// types.Value keys). p.Constants is not written: it is the pre-Load raw/
// mixed form compiler.Compile produces, superseded once machine.Load
// resolves it into the Module.Constants written by function above.
func (e *encoder) program(p *compiler.Program) error {
	e.putTag(tagProgram)
	e.writeBytes([]byte(p.Filename))
	e.writeUvarint(uint64(len(p.Names)))
	for _, n := range p.Names {
		e.writeBytes([]byte(n))
	}
	e.writeUvarint(uint64(len(p.Loads)))
	for _, b := range p.Loads {
		e.writeBytes([]byte(b.Name))
	}
	if err := e.funcdef(p.Toplevel); err != nil {
		return err
	}
	e.writeUvarint(uint64(len(p.Functions)))
	for _, fc := range p.Functions {
		if err := e.funcdef(fc); err != nil {
			return err
		}
	}
	return nil
}

// funcdef serializes a compiler.Funcode's fields, per the "Funcodes are
// serialized by the encoder.function method" contract in compiled.go.
func (e *encoder) funcdef(fc *compiler.Funcode) error {
	e.putTag(tagFuncDef)
	e.writeBytes([]byte(fc.Name))
	e.writeBytes(fc.Code)
	e.writeUvarint(uint64(fc.MaxStack))
	e.writeUvarint(uint64(fc.NumParams))
	e.writeUvarint(uint64(fc.NumKwonlyParams))
	e.writeBool(fc.HasVarargs)
	e.writeBool(fc.HasKwargs)

	e.writeUvarint(uint64(len(fc.Locals)))
	for _, b := range fc.Locals {
		e.writeBytes([]byte(b.Name))
	}
	e.writeUvarint(uint64(len(fc.Cells)))
	for _, c := range fc.Cells {
		e.writeUvarint(uint64(c))
	}
	e.writeUvarint(uint64(len(fc.Freevars)))
	for _, b := range fc.Freevars {
		e.writeBytes([]byte(b.Name))
	}
	e.writeUvarint(uint64(len(fc.Defers)))
	for _, d := range fc.Defers {
		e.writeDefer(d)
	}
	e.writeUvarint(uint64(len(fc.Catches)))
	for _, d := range fc.Catches {
		e.writeDefer(d)
	}
	return nil
}

func (e *encoder) writeDefer(d compiler.Defer) {
	e.writeUvarint(uint64(d.PC0))
	e.writeUvarint(uint64(d.PC1))
	e.writeUvarint(uint64(d.StartPC))
}

func (e *encoder) writeBool(b bool) {
	if b {
		e.buf.WriteByte(1)
	} else {
		e.buf.WriteByte(0)
	}
}
