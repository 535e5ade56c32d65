package types

import (
	"fmt"

	"github.com/dolthub/swiss"
)

// Table represents a mutable map/dictionary. Grounded verbatim on
// lang/machine/map.go's use of github.com/dolthub/swiss, kept here under
// the Table name to match "table" value kind, and extended
// with a metamap slot (HasMetamap) for customizable behavior and a frozen
// flag ("arrays/tables/buffers are mutable").
//
// Values used as keys must have concrete types whose Go == operator agrees
// with the runtime's Equals semantics; every Value kind that is a legal
// table key (nil, boolean, int, float, string, symbol, keyword, and pointer
// types compared by identity) satisfies this.
type Table struct {
	m       *swiss.Map[Value, Value]
	frozen  bool
	metamap *Table
}

var (
	_ Value      = (*Table)(nil)
	_ Mapping    = (*Table)(nil)
	_ HasSetKey  = (*Table)(nil)
	_ Iterable   = (*Table)(nil)
	_ HasMetamap = (*Table)(nil)
)

// NewTable returns a table with initial capacity for at least size items.
func NewTable(size int) *Table {
	if size < 1 {
		size = 1
	}
	return &Table{m: swiss.NewMap[Value, Value](uint32(size))}
}

func (t *Table) String() string { return fmt.Sprintf("table(%p)", t) }
func (t *Table) Type() string   { return "table" }
func (t *Table) Truth() Bool    { return t.m.Count() > 0 }
func (t *Table) Freeze() {
	if t.frozen {
		return
	}
	t.frozen = true
	t.m.Iter(func(k, v Value) bool {
		k.Freeze()
		v.Freeze()
		return false
	})
}

func (t *Table) Metamap() *Table     { return t.metamap }
func (t *Table) SetMetamap(m *Table) { t.metamap = m }

func (t *Table) Get(k Value) (Value, bool, error) {
	v, ok := t.m.Get(k)
	if !ok {
		return Nil, false, nil
	}
	return v, true, nil
}

func (t *Table) SetKey(k, v Value) error {
	if t.frozen {
		return fmt.Errorf("cannot assign to frozen table")
	}
	t.m.Put(k, v)
	return nil
}

// Delete removes k from the table, reporting whether it was present.
func (t *Table) Delete(k Value) bool {
	return t.m.Delete(k)
}

func (t *Table) Len() int { return int(t.m.Count()) }

func (t *Table) Iterate() Iterator {
	pairs := make([]Value, 0, t.m.Count())
	t.m.Iter(func(k, v Value) bool {
		pairs = append(pairs, NewTuple([]Value{k, v}))
		return false
	})
	return &tableIterator{pairs: pairs}
}

type tableIterator struct {
	pairs []Value
	i     int
}

func (it *tableIterator) Next(p *Value) bool {
	if it.i >= len(it.pairs) {
		return false
	}
	*p = it.pairs[it.i]
	it.i++
	return true
}
func (it *tableIterator) Done() {}
