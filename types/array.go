package types

import "fmt"

// Array is a mutable, growable sequence of values. Grounded on
// lang/types/array.go.
type Array struct {
	elems  []Value
	frozen bool
}

var (
	_ Value       = (*Array)(nil)
	_ Indexable   = (*Array)(nil)
	_ HasSetIndex = (*Array)(nil)
	_ Iterable    = (*Array)(nil)
	_ Sequence    = (*Array)(nil)
	_ HasEqual    = (*Array)(nil)
)

// NewArray returns an Array wrapping elems. Callers must not subsequently
// modify elems outside of the Array's own API.
func NewArray(elems []Value) *Array { return &Array{elems: elems} }

func (a *Array) String() string {
	s := "@["
	for i, e := range a.elems {
		if i > 0 {
			s += " "
		}
		s += e.String()
	}
	return s + "]"
}
func (a *Array) Type() string { return "array" }
func (a *Array) Truth() Bool  { return len(a.elems) > 0 }
func (a *Array) Freeze() {
	if a.frozen {
		return
	}
	a.frozen = true
	for _, e := range a.elems {
		e.Freeze()
	}
}

func (a *Array) Len() int          { return len(a.elems) }
func (a *Array) Index(i int) Value { return a.elems[i] }
func (a *Array) Iterate() Iterator { return &arrayIterator{a: a} }
func (a *Array) Values() []Value   { return a.elems }

func (a *Array) SetIndex(i int, v Value) error {
	if a.frozen {
		return fmt.Errorf("cannot assign to frozen array")
	}
	a.elems[i] = v
	return nil
}

// Append pushes v onto the end of the array (APPEND opcode).
func (a *Array) Append(v Value) error {
	if a.frozen {
		return fmt.Errorf("cannot append to frozen array")
	}
	a.elems = append(a.elems, v)
	return nil
}

func (a *Array) Equals(y Value) (bool, error) {
	yb, ok := y.(*Array)
	if !ok {
		return false, nil
	}
	if len(a.elems) != len(yb.elems) {
		return false, nil
	}
	for i, xv := range a.elems {
		eq, err := Equals(xv, yb.elems[i])
		if !eq || err != nil {
			return eq, err
		}
	}
	return true, nil
}

type arrayIterator struct {
	a *Array
	i int
}

func (it *arrayIterator) Next(p *Value) bool {
	if it.i >= len(it.a.elems) {
		return false
	}
	*p = it.a.elems[it.i]
	it.i++
	return true
}
func (it *arrayIterator) Done() {}
