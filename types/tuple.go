package types

// Tuple represents an immutable ordered list of values (only the list
// structure is immutable; element values are not necessarily so).
// Grounded verbatim on lang/machine/tuple.go, generalized to the merged
// Value interface and a precomputed hash
type Tuple struct {
	elems []Value
	hash  uint64
	hashd bool
}

// NilaryTuple is the empty tuple, reused to avoid allocation on zero-arg
// calls.
var NilaryTuple = NewTuple(nil)

var (
	_ Value     = (*Tuple)(nil)
	_ Indexable = (*Tuple)(nil)
	_ Iterable  = (*Tuple)(nil)
	_ HasEqual  = (*Tuple)(nil)
	_ Sequence  = (*Tuple)(nil)
)

// NewTuple returns a tuple containing elems. Callers must not subsequently
// modify elems.
func NewTuple(elems []Value) *Tuple { return &Tuple{elems: elems} }

func (t *Tuple) String() string {
	s := "("
	for i, e := range t.elems {
		if i > 0 {
			s += " "
		}
		s += e.String()
	}
	return s + ")"
}
func (t *Tuple) Type() string      { return "tuple" }
func (t *Tuple) Truth() Bool       { return len(t.elems) > 0 }
func (t *Tuple) Freeze()           { for _, e := range t.elems { e.Freeze() } }
func (t *Tuple) Iterate() Iterator { return &tupleIterator{elems: t.elems} }
func (t *Tuple) Len() int          { return len(t.elems) }
func (t *Tuple) Index(i int) Value { return t.elems[i] }
func (t *Tuple) Values() []Value   { return t.elems }

func (t *Tuple) Equals(y Value) (bool, error) {
	yt, ok := y.(*Tuple)
	if !ok {
		return false, nil
	}
	if len(t.elems) != len(yt.elems) {
		return false, nil
	}
	for i, xv := range t.elems {
		eq, err := Equals(xv, yt.elems[i])
		if !eq || err != nil {
			return eq, err
		}
	}
	return true, nil
}

// Hash returns a structural hash of the tuple's elements, computed once and
// cached "tuples/structs also carry a precomputed hash".
func (t *Tuple) Hash() uint64 {
	if t.hashd {
		return t.hash
	}
	h := uint64(14695981039346656037)
	for _, e := range t.elems {
		h ^= valueHash(e)
		h *= 1099511628211
	}
	t.hash, t.hashd = h, true
	return h
}

type tupleIterator struct{ elems []Value }

func (it *tupleIterator) Next(p *Value) bool {
	if len(it.elems) == 0 {
		return false
	}
	*p = it.elems[0]
	it.elems = it.elems[1:]
	return true
}
func (it *tupleIterator) Done() {}
