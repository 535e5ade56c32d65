package types

import "fmt"

// Pointer is an opaque native pointer value, one of the base value kinds.
// It carries no behavior of its own; native code (cfunctions, abstracts) is
// responsible for interpreting it.
type Pointer struct {
	addr unsafePointerTag
}

// unsafePointerTag avoids importing "unsafe" in the public API surface
// while still letting native code round-trip an arbitrary Go pointer
// through a lumen Value; native code is expected to type-assert back to
// its own pointer kind via Pointer.Addr.
type unsafePointerTag = any

var _ Value = Pointer{}

// NewPointer wraps an arbitrary Go pointer-shaped value.
func NewPointer(addr any) Pointer { return Pointer{addr: addr} }

func (p Pointer) Addr() any     { return p.addr }
func (p Pointer) String() string { return fmt.Sprintf("pointer(%p)", &p.addr) }
func (p Pointer) Type() string   { return "pointer" }
func (p Pointer) Truth() Bool    { return True }
func (p Pointer) Freeze()        {}
