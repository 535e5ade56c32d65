package compiler

import "go/token"

// Program is the unit of compilation: the toplevel Funcode (module
// initialization code) plus every nested function compiled from the same
// source, and the tables (Constants/Names/Loads) its instructions index
// into. Grounded on lang/compiler/asm.go's Asm/Dasm, which already define
// the textual encoding of exactly this shape.
type Program struct {
	Filename string

	Toplevel  *Funcode
	Functions []*Funcode

	// Constants holds the values addressed by CONSTANT<n>, kept as any so
	// this package doesn't need to import the machine package that loads a
	// Program into a runnable function. An entry is either a raw Go scalar
	// (int64/float64/string, as produced by the text assembler in asm.go)
	// or an already-built types.Value (as produced by compileForm/fold.go
	// for a literal or a quoted compound form); the loader switches on both
	// shapes.
	Constants []any
	// Names holds the names addressed by ATTR/SETFIELD/PREDECLARED/UNIVERSAL.
	Names []string
	// Loads holds the module-level bindings addressed by LOAD.
	Loads []Binding
}

// Binding names one local, freevar, or load slot.
type Binding struct {
	Name string
	Pos  token.Pos
}

// Defer records one defer or catch block: the half-open instruction range
// [PC0, PC1) it guards, and the address its body starts at (StartPC).
type Defer struct {
	PC0, PC1, StartPC uint32
}

// Diagnostic is a single compile-time error or lint finding, following a
// first-error-sticks-plus-lint-severities model.
type Diagnostic struct {
	Severity Severity
	Pos      token.Pos
	Message  string
}

// Severity classifies a Diagnostic.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInfo
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	}
	return "unknown"
}
