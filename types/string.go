package types

import "fmt"

// String is an immutable sequence of bytes. Its hash is precomputed at
// construction Grounded on lang/types/string.go.
type String struct {
	s    string
	hash uint64
}

var (
	_ Value     = String{}
	_ Ordered   = String{}
	_ Indexable = String{}
	_ Iterable  = String{}
	_ HasBinary = String{}
	_ HasUnary  = String{}
)

// NewString returns an immutable String wrapping s.
func NewString(s string) String { return String{s: s, hash: fnv1a64(s)} }

func (s String) Go() string    { return s.s }
func (s String) String() string { return fmt.Sprintf("%q", s.s) }
func (s String) Type() string  { return "string" }
func (s String) Truth() Bool   { return len(s.s) > 0 }
func (s String) Freeze()       {}
func (s String) Hash() uint64  { return s.hash }

func (s String) Cmp(y Value) (int, error) {
	t, ok := y.(String)
	if !ok {
		return 0, fmt.Errorf("cannot compare string with %s", y.Type())
	}
	if s.s < t.s {
		return -1, nil
	} else if s.s > t.s {
		return +1, nil
	}
	return 0, nil
}

func (s String) Len() int          { return len(s.s) }
func (s String) Index(i int) Value { return Int(s.s[i]) }
func (s String) Iterate() Iterator { return &stringIterator{s: s.s} }

func (s String) Unary(op Token) (Value, error) {
	if op == POUND {
		return Int(len(s.s)), nil
	}
	return nil, nil
}

func (s String) Binary(op Token, y Value, side Side) (Value, error) {
	if op == PLUS {
		t, ok := y.(String)
		if !ok {
			return nil, nil
		}
		if side == Left {
			return NewString(s.s + t.s), nil
		}
		return NewString(t.s + s.s), nil
	}
	return nil, nil
}

type stringIterator struct{ s string }

func (it *stringIterator) Next(p *Value) bool {
	if len(it.s) == 0 {
		return false
	}
	*p = Int(it.s[0])
	it.s = it.s[1:]
	return true
}
func (it *stringIterator) Done() {}

// Symbol is an interned, immutable identifier. Two Symbols with identical
// byte content are the same pointer handle, satisfying // symbol-identity invariant.
type Symbol struct{ entry *symbolEntry }

var _ Value = Symbol{}

// NewSymbol returns the canonical Symbol for the given text, interning it
// if this is the first occurrence.
func NewSymbol(text string) Symbol { return Symbol{entry: symbolInterner.intern(text)} }

func (s Symbol) Go() string     { return s.entry.text }
func (s Symbol) String() string { return s.entry.text }
func (s Symbol) Type() string   { return "symbol" }
func (s Symbol) Truth() Bool    { return True }
func (s Symbol) Freeze()        {}

// Equals implements identity equality via pointer comparison of the interned
// entry, not byte comparison.
func (s Symbol) Equals(y Value) (bool, error) {
	t, ok := y.(Symbol)
	return ok && t.entry == s.entry, nil
}

var _ HasEqual = Symbol{}

// Keyword is an interned, immutable self-evaluating identifier (like :foo).
// It uses a separate intern table from Symbol.
type Keyword struct{ entry *symbolEntry }

var _ Value = Keyword{}

func NewKeyword(text string) Keyword { return Keyword{entry: keywordInterner.intern(text)} }

func (k Keyword) Go() string     { return k.entry.text }
func (k Keyword) String() string { return ":" + k.entry.text }
func (k Keyword) Type() string   { return "keyword" }
func (k Keyword) Truth() Bool    { return True }
func (k Keyword) Freeze()        {}

func (k Keyword) Equals(y Value) (bool, error) {
	t, ok := y.(Keyword)
	return ok && t.entry == k.entry, nil
}

var _ HasEqual = Keyword{}
