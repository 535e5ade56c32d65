package compiler

import "github.com/lumenlang/lumen/types"

// CompileEnv is the narrow slice of VM functionality a compilation needs:
// checking and extending the predeclared/universal name tables, and running
// a macro function to completion. It lets this package depend on the value
// model (types.Value) without depending on the machine package that defines
// the VM, avoiding a compiler<->machine import cycle.
type CompileEnv interface {
	// HasPredeclared reports whether name is bound in the predeclared table.
	HasPredeclared(name string) bool
	// HasUniversal reports whether name is bound in the universal table.
	HasUniversal(name string) bool
	// SetUniversal installs or replaces a universal binding, used when a
	// MissingSymbolHandler resolves a previously-unbound symbol.
	SetUniversal(name string, v types.Value)
	// CallMacro invokes fn (a macro function value) with args and returns
	// its single result, running it to completion in its own fiber.
	CallMacro(fn types.Value, args []types.Value) (types.Value, error)
}
