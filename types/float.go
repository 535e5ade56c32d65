package types

import "fmt"

// Float is the type of a floating point number. Grounded verbatim on
// lang/machine/float.go's NaN-as-greatest-than-anything total ordering for
// Cmp; Equals uses IEEE-754 equality, so a NaN is never equal to itself.
type Float float64

var (
	_ Value    = Float(0)
	_ Ordered  = Float(0)
	_ HasUnary = Float(0)
)

func (f Float) String() string { return fmt.Sprintf("%g", float64(f)) }
func (f Float) Type() string   { return "float" }
func (f Float) Truth() Bool    { return f != 0 }
func (f Float) Freeze()        {}

// Cmp implements a three-valued total order on floats, with NaN > +Inf, so
// that floats remain Ordered even though IEEE-754 equality is not
// reflexive for NaN.
func (f Float) Cmp(v Value) (int, error) {
	g, ok := v.(Float)
	if !ok {
		return 0, fmt.Errorf("cannot compare float with %s", v.Type())
	}
	return floatCmp(f, g), nil
}

func floatCmp(x, y Float) int {
	if x > y {
		return +1
	} else if x < y {
		return -1
	} else if x == y {
		return 0
	}
	// at least one operand is NaN
	if x == x {
		return -1 // y is NaN
	} else if y == y {
		return +1 // x is NaN
	}
	return 0 // both NaN
}

func (f Float) Unary(op Token) (Value, error) {
	switch op {
	case UPLUS:
		return f, nil
	case UMINUS:
		return -f, nil
	}
	return nil, nil
}
