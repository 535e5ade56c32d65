// Package image implements the byte-oriented, deterministic,
// self-describing marshaller: serialize/deserialize of values and compiled
// code ("images"). A decoder must accept any byte stream produced by an
// encoder of the same version and reject unknown tags; this doubles as the
// on-disk bytecode file format (see cmd/lumen's "image" subcommand).
//
// The format itself has no prior implementation in this codebase
// (compiler/compiled.go's Funcode doc comment references "the
// encoder.function method", which is encode.go's encoder.function), so the
// binary framing is plain encoding/binary varints and length-prefixed byte
// runs matching the starlark-go compile.go encoder that comment was itself
// inherited from; no third-party serialization library in the pack targets
// a generic tagged/back-referenced binary format (see DESIGN.md).
package image

import "fmt"

// Version increments whenever the wire format changes incompatibly; a
// decoder rejects a header whose version it does not recognize.
const Version = 1

// tag identifies the shape of the value that follows in the stream. Values
// in [tagSmallIntMin, tagSmallIntMax] are the integer fast path: the tag
// byte itself is the biased integer, so int values in [-100, 100] cost
// exactly one byte with no further payload.
type tag byte

const (
	tagSmallIntMin tag = 0
	tagSmallIntBias    = 100
	tagSmallIntMax tag = 200 // encodes int(200-100) = 100
)

const (
	tagNil tag = iota + 201
	tagTrue
	tagFalse
	tagInt
	tagFloat
	tagString
	tagSymbol
	tagKeyword
	tagBuffer
	tagArray
	tagTuple
	tagTable
	tagStruct
	tagFiber
	tagThread // deprecated alias for tagFiber; never written, rejected on read
	tagProgram
	tagFuncDef
	tagFuncEnv
	tagFunc
	tagCFunction
	tagAbstract
	tagNamed
	tagRef
)

func smallIntTag(v int64) (tag, bool) {
	if v < -tagSmallIntBias || v > tagSmallIntMax-tagSmallIntBias {
		return 0, false
	}
	return tag(v + tagSmallIntBias), true
}

func (t tag) smallInt() (int64, bool) {
	if t > tagSmallIntMax {
		return 0, false
	}
	return int64(t) - tagSmallIntBias, true
}

func (t tag) String() string {
	switch t {
	case tagNil:
		return "nil"
	case tagTrue:
		return "true"
	case tagFalse:
		return "false"
	case tagInt:
		return "int"
	case tagFloat:
		return "float"
	case tagString:
		return "string"
	case tagSymbol:
		return "symbol"
	case tagKeyword:
		return "keyword"
	case tagBuffer:
		return "buffer"
	case tagArray:
		return "array"
	case tagTuple:
		return "tuple"
	case tagTable:
		return "table"
	case tagStruct:
		return "struct"
	case tagFiber:
		return "fiber"
	case tagThread:
		return "thread"
	case tagProgram:
		return "program"
	case tagFuncDef:
		return "funcdef"
	case tagFuncEnv:
		return "funcenv"
	case tagFunc:
		return "func"
	case tagCFunction:
		return "cfunction"
	case tagAbstract:
		return "abstract"
	case tagNamed:
		return "named"
	case tagRef:
		return "ref"
	}
	if i, ok := t.smallInt(); ok {
		return fmt.Sprintf("smallint(%d)", i)
	}
	return fmt.Sprintf("unknown tag %d", byte(t))
}

// FormatError reports a malformed or unrecognized byte stream: the buffer
// ended early, a Ref id was never registered, or a tag byte is unknown to
// this decoder version.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string { return "marshal: bad format: " + e.Reason }

func badFormat(format string, args ...any) error {
	return &FormatError{Reason: fmt.Sprintf(format, args...)}
}
