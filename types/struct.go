package types

import "fmt"

// Struct is an immutable hash map with open-addressed, linear-probed
// storage whose capacity is a fixed function of its length
// dolthub/swiss.Map is built for growable mutable maps, not a
// fixed-capacity-by-length immutable one, so a small dedicated linear-probe
// table is used here instead (documented as a
// stdlib carve-out in DESIGN.md).
type Struct struct {
	keys []Value
	vals []Value
	hash uint64
}

var (
	_ Value    = (*Struct)(nil)
	_ Mapping  = (*Struct)(nil)
	_ Iterable = (*Struct)(nil)
	_ HasEqual = (*Struct)(nil)
)

// structCapacity is the fixed function of length requires: twice
// the number of entries rounded up to the next power of two, with a floor
// of 4, keeping the linear-probe load factor at or below 50%.
func structCapacity(n int) int {
	cap := 4
	for cap < n*2 {
		cap *= 2
	}
	return cap
}

// NewStruct builds an immutable Struct from parallel key/value slices. Last
// write for a duplicate key wins, matching struct-literal semantics.
func NewStruct(keys, vals []Value) *Struct {
	cap := structCapacity(len(keys))
	s := &Struct{keys: make([]Value, cap), vals: make([]Value, cap)}
	for i, k := range keys {
		s.insert(k, vals[i])
	}
	s.hash = s.computeHash()
	return s
}

func (s *Struct) insert(k, v Value) {
	h := valueHash(k)
	mask := uint64(len(s.keys) - 1)
	idx := h & mask
	for {
		if s.keys[idx] == nil {
			s.keys[idx] = k
			s.vals[idx] = v
			return
		}
		if eq, _ := Equals(s.keys[idx], k); eq {
			s.vals[idx] = v
			return
		}
		idx = (idx + 1) & mask
	}
}

func (s *Struct) computeHash() uint64 {
	// order-independent: sum of per-pair hashes, so structural equality of
	// two structs built in different insertion orders still hashes equal.
	var h uint64
	for i, k := range s.keys {
		if k == nil {
			continue
		}
		pair := valueHash(k)*1099511628211 ^ valueHash(s.vals[i])
		h += pair
	}
	return h
}

func (s *Struct) String() string {
	out := "{"
	first := true
	for i, k := range s.keys {
		if k == nil {
			continue
		}
		if !first {
			out += " "
		}
		first = false
		out += fmt.Sprintf("%s %s", k, s.vals[i])
	}
	return out + "}"
}
func (s *Struct) Type() string { return "struct" }
func (s *Struct) Truth() Bool  { return s.Len() > 0 }
func (s *Struct) Freeze()      {} // already immutable by construction
func (s *Struct) Hash() uint64 { return s.hash }

func (s *Struct) Len() int {
	n := 0
	for _, k := range s.keys {
		if k != nil {
			n++
		}
	}
	return n
}

func (s *Struct) Get(k Value) (Value, bool, error) {
	h := valueHash(k)
	mask := uint64(len(s.keys) - 1)
	idx := h & mask
	for probes := 0; probes < len(s.keys); probes++ {
		cur := s.keys[idx]
		if cur == nil {
			return Nil, false, nil
		}
		if eq, err := Equals(cur, k); err != nil {
			return Nil, false, err
		} else if eq {
			return s.vals[idx], true, nil
		}
		idx = (idx + 1) & mask
	}
	return Nil, false, nil
}

func (s *Struct) Iterate() Iterator { return &structIterator{s: s} }

func (s *Struct) Equals(y Value) (bool, error) {
	yb, ok := y.(*Struct)
	if !ok || s.Len() != yb.Len() {
		return false, nil
	}
	for i, k := range s.keys {
		if k == nil {
			continue
		}
		v2, found, err := yb.Get(k)
		if err != nil {
			return false, err
		}
		if !found {
			return false, nil
		}
		eq, err := Equals(s.vals[i], v2)
		if !eq || err != nil {
			return eq, err
		}
	}
	return true, nil
}

type structIterator struct {
	s *Struct
	i int
}

func (it *structIterator) Next(p *Value) bool {
	for it.i < len(it.s.keys) {
		k := it.s.keys[it.i]
		v := it.s.vals[it.i]
		it.i++
		if k != nil {
			*p = NewTuple([]Value{k, v})
			return true
		}
	}
	return false
}
func (it *structIterator) Done() {}
