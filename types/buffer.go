package types

import "fmt"

// Buffer is a mutable byte sequence, the mutable counterpart of String.
// Grounded on lang/types/bytes.go, generalized to mutable Sequence +
// HasSetIndex semantics
type Buffer struct {
	b      []byte
	frozen bool
}

var (
	_ Value       = (*Buffer)(nil)
	_ Indexable   = (*Buffer)(nil)
	_ HasSetIndex = (*Buffer)(nil)
	_ Iterable    = (*Buffer)(nil)
	_ Sequence    = (*Buffer)(nil)
)

// NewBuffer returns a Buffer with the given initial capacity.
func NewBuffer(capacity int) *Buffer { return &Buffer{b: make([]byte, 0, capacity)} }

// NewBufferFromBytes returns a Buffer wrapping b directly.
func NewBufferFromBytes(b []byte) *Buffer { return &Buffer{b: b} }

func (b *Buffer) String() string { return fmt.Sprintf("%q", string(b.b)) }
func (b *Buffer) Type() string   { return "buffer" }
func (b *Buffer) Truth() Bool    { return len(b.b) > 0 }
func (b *Buffer) Freeze()        { b.frozen = true }

func (b *Buffer) Bytes() []byte    { return b.b }
func (b *Buffer) Len() int         { return len(b.b) }
func (b *Buffer) Index(i int) Value { return Int(b.b[i]) }
func (b *Buffer) Iterate() Iterator { return &bufferIterator{b: b} }

func (b *Buffer) SetIndex(i int, v Value) error {
	if b.frozen {
		return fmt.Errorf("cannot assign to frozen buffer")
	}
	n, ok := v.(Int)
	if !ok {
		return fmt.Errorf("expected int, got %s", v.Type())
	}
	b.b[i] = byte(n)
	return nil
}

// Push appends bytes to the buffer.
func (b *Buffer) Push(bs []byte) error {
	if b.frozen {
		return fmt.Errorf("cannot append to frozen buffer")
	}
	b.b = append(b.b, bs...)
	return nil
}

type bufferIterator struct {
	b *Buffer
	i int
}

func (it *bufferIterator) Next(p *Value) bool {
	if it.i >= len(it.b.b) {
		return false
	}
	*p = Int(it.b.b[it.i])
	it.i++
	return true
}
func (it *bufferIterator) Done() {}
