package compiler

import "fmt"

// compileError is an internal sentinel used to unwind out of a deeply
// nested form-compilation recursion with a single Diagnostic attached; the
// public Compile entrypoint converts it to a Diagnostic in its returned
// slice. First-error-sticks: once one compileError has been recorded,
// subsequent compilation for that program stops descending into sibling
// forms diagnostics model.
type compileError struct{ msg string }

func (e *compileError) Error() string { return e.msg }

func newCompileError(format string, args ...any) *compileError {
	return &compileError{msg: fmt.Sprintf(format, args...)}
}
