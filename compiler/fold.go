package compiler

import "github.com/lumenlang/lumen/types"

// isConstLiteral reports whether v compiles to a CONSTANT push with no
// other side effect, making it eligible for folding.
func isConstLiteral(v types.Value) bool {
	switch v.(type) {
	case types.NilType, types.Bool, types.Int, types.Float, types.String, types.Keyword:
		return true
	}
	return false
}

// foldOperator evaluates a unary or binary operator form at compile time
// when every operand is a constant literal, avoiding the opcode dispatch
// (and its error-path checks) at run time for code like (+ 1 2).
func foldOperator(op types.Token, args []types.Value) (types.Value, bool) {
	for _, a := range args {
		if !isConstLiteral(a) {
			return nil, false
		}
	}
	var (
		v   types.Value
		err error
	)
	switch len(args) {
	case 1:
		v, err = types.Unary(op, args[0])
	case 2:
		v, err = types.Binary(op, args[0], args[1])
	default:
		return nil, false
	}
	if err != nil || v == nil {
		return nil, false
	}
	return v, true
}

// foldArray evaluates an (array ...) or (tuple ...) constructor at compile
// time when every element is a constant literal and none is spliced.
func foldArray(args []types.Value, asTuple bool) (types.Value, bool) {
	elems := make([]types.Value, len(args))
	for i, a := range args {
		if !isConstLiteral(a) {
			return nil, false
		}
		elems[i] = a
	}
	if asTuple {
		return types.NewTuple(elems), true
	}
	return types.NewArray(elems), true
}
