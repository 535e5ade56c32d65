package types

import (
	"fmt"
	"math"
)

// Compare implements the EQL/NEQ/LT/LE/GT/GE opcodes over any pair of
// operands, dispatching to HasEqual/Ordered when available and falling
// back to numeric tower promotion between Int and Float. Grounded on
// the opcode list and the Ordered/HasEqual interfaces declared in value.go.
func Compare(op Token, x, y Value) (bool, error) {
	switch op {
	case EQEQ:
		eq, err := Equals(x, y)
		return eq, err
	case NEQ:
		eq, err := Equals(x, y)
		return !eq, err
	}

	c, err := compareOrdered(x, y)
	if err != nil {
		return false, err
	}
	switch op {
	case LT:
		return c < 0, nil
	case LE:
		return c <= 0, nil
	case GT:
		return c > 0, nil
	case GE:
		return c >= 0, nil
	}
	return false, fmt.Errorf("not a comparison operator: %s", op)
}

// Equals implements structural/identity equality, used both for EQL/NEQ and
// by container types' own Equals methods.
func Equals(x, y Value) (bool, error) {
	if xe, ok := x.(HasEqual); ok {
		if _, sameType := y.(HasEqual); sameType {
			if x.Type() != y.Type() {
				return false, nil
			}
			return xe.Equals(y)
		}
		return false, nil
	}
	if xi, ok := numericValue(x); ok {
		if yi, ok := numericValue(y); ok {
			return xi == yi, nil
		}
		return false, nil
	}
	if x.Type() != y.Type() {
		return false, nil
	}
	switch xv := x.(type) {
	case NilType:
		return true, nil
	case Bool:
		return xv == y.(Bool), nil
	case String:
		yv := y.(String)
		return xv.s == yv.s, nil
	default:
		return x == y, nil
	}
}

func compareOrdered(x, y Value) (int, error) {
	if xi, ok := numericValue(x); ok {
		if yi, ok := numericValue(y); ok {
			return numericCmp(xi, yi), nil
		}
	}
	xo, ok := x.(Ordered)
	if !ok {
		return 0, fmt.Errorf("%s values are not ordered", x.Type())
	}
	return xo.Cmp(y)
}

// numericValue returns the float64 view of x if x is Int or Float, so
// mixed int/float comparisons and arithmetic behave as a numeric tower.
func numericValue(x Value) (float64, bool) {
	switch v := x.(type) {
	case Int:
		return float64(v), true
	case Float:
		return float64(v), true
	}
	return 0, false
}

func numericCmp(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	case x == y:
		return 0
	default:
		return floatCmp(Float(x), Float(y)) // NaN handling
	}
}

// valueHash returns a structural hash for any Value usable as a map/struct
// key; used by Table/Struct.
func valueHash(v Value) uint64 {
	switch x := v.(type) {
	case NilType:
		return 0
	case Bool:
		if x {
			return 1
		}
		return 2
	case Int:
		return uint64(x) * 0x9E3779B97F4A7C15
	case Float:
		return math.Float64bits(float64(x))
	case String:
		return x.hash
	case Symbol:
		return x.entry.hash
	case Keyword:
		return x.entry.hash ^ 0xA5A5A5A5
	case interface{ Hash() uint64 }:
		return x.Hash()
	default:
		return fnv1a64(fmt.Sprintf("%p", v))
	}
}

// Binary implements the PLUS..GTGT opcodes. It tries the numeric tower
// first, then HasBinary on either operand, matching starlark-go's
// left-then-right dispatch order.
func Binary(op Token, x, y Value) (Value, error) {
	if xf, ok := numericValue(x); ok {
		if yf, ok := numericValue(y); ok {
			return numericBinary(op, x, y, xf, yf)
		}
	}
	if xb, ok := x.(HasBinary); ok {
		z, err := xb.Binary(op, y, Left)
		if z != nil || err != nil {
			return z, err
		}
	}
	if yb, ok := y.(HasBinary); ok {
		z, err := yb.Binary(op, x, Right)
		if z != nil || err != nil {
			return z, err
		}
	}
	return nil, fmt.Errorf("unsupported operand types for %s: %s and %s", op, x.Type(), y.Type())
}

func numericBinary(op Token, x, y Value, xf, yf float64) (Value, error) {
	_, xIsInt := x.(Int)
	_, yIsInt := y.(Int)
	bothInt := xIsInt && yIsInt

	switch op {
	case AMPERSAND, PIPE, TILDE, LTLT, GTGT:
		if !bothInt {
			return nil, fmt.Errorf("unsupported operand types for %s: %s and %s", op, x.Type(), y.Type())
		}
	}

	switch op {
	case PLUS:
		if bothInt {
			return x.(Int) + y.(Int), nil
		}
		return Float(xf + yf), nil
	case MINUS:
		if bothInt {
			return x.(Int) - y.(Int), nil
		}
		return Float(xf - yf), nil
	case STAR:
		if bothInt {
			return x.(Int) * y.(Int), nil
		}
		return Float(xf * yf), nil
	case SLASH:
		return Float(xf / yf), nil
	case SLASHSLASH:
		if bothInt {
			yi := y.(Int)
			if yi == 0 {
				return nil, fmt.Errorf("integer division by zero")
			}
			return floorDivInt(x.(Int), yi), nil
		}
		return Float(math.Floor(xf / yf)), nil
	case PERCENT:
		if bothInt {
			yi := y.(Int)
			if yi == 0 {
				return nil, fmt.Errorf("integer modulo by zero")
			}
			return floorModInt(x.(Int), yi), nil
		}
		return Float(math.Mod(xf, yf)), nil
	case CIRCUMFLEX:
		if bothInt {
			return Int(math.Pow(xf, yf)), nil
		}
		return Float(math.Pow(xf, yf)), nil
	case AMPERSAND:
		requireInt2(x, y)
		return Int(x.(Int).Uint() & y.(Int).Uint()), nil
	case PIPE:
		requireInt2(x, y)
		return Int(x.(Int).Uint() | y.(Int).Uint()), nil
	case TILDE:
		requireInt2(x, y)
		return Int(x.(Int).Uint() ^ y.(Int).Uint()), nil
	case LTLT:
		requireInt2(x, y)
		return Int(x.(Int).Uint() << uint(y.(Int))), nil
	case GTGT:
		requireInt2(x, y)
		return Int(x.(Int).Uint() >> uint(y.(Int))), nil
	}
	return nil, fmt.Errorf("unsupported binary operator: %s", op)
}

// requireInt2 is a defensive no-op placeholder: bitwise ops with a non-Int
// operand are rejected at the top of numericBinary, so by the time we're
// here both operands are Int.
func requireInt2(x, y Value) {}

func floorDivInt(a, b Int) Int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorModInt(a, b Int) Int {
	m := a % b
	if m != 0 && ((a < 0) != (b < 0)) {
		m += b
	}
	return m
}

// Unary implements the UPLUS/UMINUS/UTILDE/POUND opcodes.
func Unary(op Token, x Value) (Value, error) {
	if xu, ok := x.(HasUnary); ok {
		z, err := xu.Unary(op)
		if z != nil || err != nil {
			return z, err
		}
	}
	return nil, fmt.Errorf("unsupported operand type for %s: %s", op, x.Type())
}

// Truth returns the truth value of x, used by NOT/CJMP.
func Truth(x Value) Bool { return x.Truth() }

// Iterate returns an Iterator over x, or nil if x is not iterable.
func Iterate(x Value) Iterator {
	if it, ok := x.(Iterable); ok {
		return it.Iterate()
	}
	return nil
}

// Len returns the length of x if it is a Sequence or Indexable, or -1.
func Len(x Value) int {
	switch v := x.(type) {
	case Sequence:
		return v.Len()
	case Indexable:
		return v.Len()
	}
	return -1
}
