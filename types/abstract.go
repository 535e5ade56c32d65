package types

import "fmt"

// AbstractVTable is the set of hooks requires a heap object's
// header to carry for abstract (opaque, native) values: gc, mark, get, put,
// marshal, unmarshal, tostring, compare and hash; there is no next
// (iteration) hook. Only the hooks a
// given abstract type needs must be set; nil hooks fall back to sane
// defaults (identity comparison, no-op gc, etc).
//
// Abstract is a first-class value kind for opaque host-defined values with
// a vtable shape.
type AbstractVTable struct {
	Name string

	// GC is invoked when the heap determines the abstract is unreachable and
	// Lock/Unlock is not currently held; used to release external resources.
	GC func(data any) error
	// Mark is invoked during heap root-marking for abstracts that hold
	// references to other Values (e.g. a mutex guarding a Table).
	Mark func(data any, mark func(Value))
	// Get/Put implement index/field access, mirroring HasAttrs/HasSetField.
	// AttrNames lists the valid names for Get, used by Abstract.AttrNames.
	Get       func(data any, key Value) (Value, error)
	Put       func(data any, key, val Value) error
	AttrNames []string
	// Marshal/Unmarshal support the image package's (de)serialization; an
	// abstract without these hooks cannot be marshalled.
	Marshal   func(data any) ([]byte, error)
	Unmarshal func(b []byte) (any, error)
	ToString  func(data any) string
	Compare   func(a, b any) (int, error)
	Hash      func(data any) uint64
}

// Abstract wraps an arbitrary Go value as a lumen Value, dispatching
// behavior through its AbstractVTable.
type Abstract struct {
	vtable *AbstractVTable
	data   any
}

var (
	_ Value    = (*Abstract)(nil)
	_ Ordered  = (*Abstract)(nil)
	_ HasAttrs = (*Abstract)(nil)
)

// NewAbstract wraps data using vt.
func NewAbstract(vt *AbstractVTable, data any) *Abstract {
	return &Abstract{vtable: vt, data: data}
}

func (a *Abstract) Data() any               { return a.data }
func (a *Abstract) VTable() *AbstractVTable { return a.vtable }

func (a *Abstract) String() string {
	if a.vtable.ToString != nil {
		return a.vtable.ToString(a.data)
	}
	return fmt.Sprintf("%s(%p)", a.vtable.Name, a.data)
}
func (a *Abstract) Type() string { return a.vtable.Name }
func (a *Abstract) Truth() Bool  { return True }
func (a *Abstract) Freeze()      {} // abstracts manage their own mutability

// Attr implements HasAttrs by dispatching through the vtable's Get hook. An
// abstract with no Get hook has no attributes at all.
func (a *Abstract) Attr(name string) (Value, error) {
	if a.vtable.Get == nil {
		return nil, nil
	}
	v, err := a.vtable.Get(a.data, NewKeyword(name))
	if err != nil {
		return nil, NoSuchAttrError(err.Error())
	}
	return v, nil
}

func (a *Abstract) AttrNames() []string { return a.vtable.AttrNames }

func (a *Abstract) Cmp(y Value) (int, error) {
	yb, ok := y.(*Abstract)
	if !ok || yb.vtable != a.vtable {
		return 0, fmt.Errorf("cannot compare %s with %s", a.Type(), y.Type())
	}
	if a.vtable.Compare != nil {
		return a.vtable.Compare(a.data, yb.data)
	}
	if a.data == yb.data {
		return 0, nil
	}
	return 0, fmt.Errorf("%s values are not ordered", a.Type())
}
