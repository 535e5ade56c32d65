package types

import "fmt"

// GetIndex implements the INDEX opcode: x[y]. Negative indices count from
// the end, Python-slice style.
func GetIndex(x, y Value) (Value, error) {
	if m, ok := x.(Mapping); ok {
		v, found, err := m.Get(y)
		if err != nil {
			return nil, err
		}
		if !found {
			return Nil, nil
		}
		return v, nil
	}
	ix, ok := x.(Indexable)
	if !ok {
		return nil, fmt.Errorf("%s value is not indexable", x.Type())
	}
	n, ok := y.(Int)
	if !ok {
		return nil, fmt.Errorf("%s index must be int, got %s", x.Type(), y.Type())
	}
	i := int(n)
	if i < 0 {
		i += ix.Len()
	}
	if i < 0 || i >= ix.Len() {
		return nil, fmt.Errorf("index %d out of range (length %d)", n, ix.Len())
	}
	return ix.Index(i), nil
}

// SetIndex implements the SETINDEX opcode: x[y] = z.
func SetIndex(x, y, z Value) error {
	if m, ok := x.(HasSetKey); ok {
		return m.SetKey(y, z)
	}
	ix, ok := x.(HasSetIndex)
	if !ok {
		return fmt.Errorf("%s value does not support index assignment", x.Type())
	}
	n, ok := y.(Int)
	if !ok {
		return fmt.Errorf("%s index must be int, got %s", x.Type(), y.Type())
	}
	i := int(n)
	if i < 0 {
		i += ix.Len()
	}
	if i < 0 || i >= ix.Len() {
		return fmt.Errorf("index %d out of range (length %d)", n, ix.Len())
	}
	return ix.SetIndex(i, z)
}

// GetAttr implements the ATTR opcode: x.name.
func GetAttr(x Value, name string) (Value, error) {
	if hm, ok := x.(HasMetamap); ok {
		if mm := hm.Metamap(); mm != nil {
			if v, found, err := mm.Get(NewKeyword(name)); err == nil && found {
				return v, nil
			}
		}
	}
	ha, ok := x.(HasAttrs)
	if !ok {
		return nil, fmt.Errorf("%s value has no field %q", x.Type(), name)
	}
	v, err := ha.Attr(name)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, NoSuchAttrError(fmt.Sprintf("%s has no attribute %q", x.Type(), name))
	}
	return v, nil
}

// SetField implements the SETFIELD opcode: x.name = y.
func SetField(x Value, name string, y Value) error {
	hs, ok := x.(HasSetField)
	if !ok {
		return fmt.Errorf("%s value does not support field assignment", x.Type())
	}
	return hs.SetField(name, y)
}
