package machine

import (
	"fmt"

	"github.com/lumenlang/lumen/compiler"
	"github.com/lumenlang/lumen/types"
)

// Load turns a compiled Program into a runnable toplevel Function, converting
// its constant pool from the compiler's untyped slice into concrete Values
// and binding the whole program to one Module shared by every Funcode within
// it (the toplevel and every nested fn).
//
// Program.Constants holds two shapes of entry: a raw Go scalar (int64,
// float64, string) for a literal number or string, created here; or an
// already-built types.Value for a quoted compound literal (tuple, array,
// table, symbol, keyword) that the compiler folded at compile time, passed
// through unchanged. See DESIGN.md for why quoted compound constants are
// represented this way.
func Load(prog *compiler.Program) (*Function, error) {
	mod := &Module{Program: prog, Name: prog.Filename}
	mod.Constants = make([]types.Value, len(prog.Constants))
	for i, c := range prog.Constants {
		var v types.Value
		switch c := c.(type) {
		case int64:
			v = types.Int(c)
		case float64:
			v = types.Float(c)
		case string:
			v = types.NewString(c)
		case types.Value:
			v = c
		default:
			return nil, fmt.Errorf("constant %d: unexpected type %T", i, c)
		}
		mod.Constants[i] = v
	}
	return &Function{Funcode: prog.Toplevel, Module: mod}, nil
}
