package machine

import "fmt"

// Kind taxonomizes a RuntimeError error-kind enumeration.
type Kind string

const (
	KindType        Kind = "type"
	KindIndex       Kind = "index"
	KindArity       Kind = "arity"
	KindDivideByZero Kind = "divide-by-zero"
	KindAssert      Kind = "assert"
	KindUnbound     Kind = "unbound"
	KindFrozen      Kind = "frozen"
	KindCustom      Kind = "custom"
	// KindDead is returned by Fiber.Resume/ResumeError when the fiber is no
	// longer resumable (already settled via SigOK or SigError).
	KindDead Kind = "dead"
)

// RuntimeError is a runtime fault raised during dispatch: a type mismatch,
// an out-of-range index, division by zero, a failed assertion, and so on.
// It carries the fiber-local call stack at the point of the fault so a
// diagnostic report can render a traceback. Grounded on the error-wrapping
// style of lang/compiler (which returns plain errors) generalized to carry
// a kind and a stack error taxonomy.
type RuntimeError struct {
	Kind  Kind
	Msg   string
	Stack []FrameInfo
}

// FrameInfo is a snapshot of one call frame, used for tracebacks.
type FrameInfo struct {
	Name string
	PC   uint32
	Line int32
	Col  int32
}

func (e *RuntimeError) Error() string { return e.Msg }

// NewRuntimeError builds a RuntimeError of the given kind with a formatted
// message and no stack; callers append frames as the error propagates up
// through Call.
func NewRuntimeError(kind Kind, format string, args ...any) *RuntimeError {
	return &RuntimeError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// withFrame returns a copy of e with fr prepended to its stack, used as the
// dispatch loop unwinds.
func (e *RuntimeError) withFrame(fr FrameInfo) *RuntimeError {
	stack := make([]FrameInfo, 0, len(e.Stack)+1)
	stack = append(stack, fr)
	stack = append(stack, e.Stack...)
	return &RuntimeError{Kind: e.Kind, Msg: e.Msg, Stack: stack}
}

// CancelledError is returned by blocking primitives (channel give/take,
// ev/sleep, ev/read) when the owning fiber or event loop is shutting down.
type CancelledError struct{ Reason string }

func (e *CancelledError) Error() string { return "cancelled: " + e.Reason }

// StepLimitError is returned when a VM's configured instruction-count budget
// is exhausted mid-dispatch "steps limit" knob.
type StepLimitError struct{ Limit uint64 }

func (e *StepLimitError) Error() string {
	return fmt.Sprintf("instruction step limit of %d exceeded", e.Limit)
}

// CallDepthError is returned when a fiber's non-tail call nesting exceeds
// its VM's configured MaxCallDepth, the stack-overflow guard that keeps
// unbounded non-tail recursion in guest code from crashing the host Go
// process instead of raising a typed error.
type CallDepthError struct{ Limit int }

func (e *CallDepthError) Error() string {
	return fmt.Sprintf("call depth limit of %d exceeded", e.Limit)
}
