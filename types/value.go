// Package types implements the tagged value model shared by the compiler
// (which consumes values directly as its "code is data" input form) and the
// machine package (which executes bytecode operating on them). Keeping the
// value model in its own leaf package, independent of both compiler and
// machine, avoids a compiler<->machine import cycle: the compiler package
// needs Tuple/Symbol/Array as its AST representation, and the machine
// package needs Funcode/Opcode from the compiler package for its dispatch
// loop.
//
// Much of this package is adapted from the Starlark source code:
// https://github.com/google/starlark-go/tree/ee8ed142361c69d52fe8e9fb5e311d2a0a7c02de
//
// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
package types

// Value is the interface implemented by every value a fiber can manipulate:
// nil, boolean, number, string, symbol, keyword, tuple, array, struct,
// table, buffer, function, cfunction, fiber, pointer and abstract all
// implement it. Callable (Function/CFunction) is declared in the machine
// package, since it references the VM/Fiber execution context, but its
// concrete values still satisfy Value.
type Value interface {
	// String returns the string representation of the value.
	String() string
	// Type returns a short string describing the value's type.
	Type() string
	// Truth returns the truth value of the receiver: nil and false are
	// falsy, and so are zero numbers and empty strings, arrays, tuples,
	// structs, tables and buffers.
	Truth() Bool
	// Freeze marks the value, and everything transitively reachable from it,
	// as immutable. Subsequent mutation attempts fail dynamically.
	Freeze()
}

// An Ordered type is a type whose values are ordered: if x and y are of the
// same Ordered type, then x must be less than y, greater than y, or equal to
// y.
type Ordered interface {
	Value
	// Cmp compares two values x and y of the same ordered type. It returns
	// negative if x < y, positive if x > y, and zero if the values are equal.
	// Client code should not call this method directly; use Compare instead.
	Cmp(y Value) (int, error)
}

// A HasEqual type defines custom equality logic for its values. An Ordered
// type should not implement HasEqual; if values of a type are not ordered
// but should not use identity equality, it should implement HasEqual
// instead.
type HasEqual interface {
	Value
	// Equals reports whether the receiver is considered equal to y. Client
	// code should not call this method directly; use Compare instead.
	Equals(y Value) (bool, error)
}

// An Iterable abstracts a sequence of values that may be iterated over.
// Unlike a Sequence, the length of an Iterable is not necessarily known in
// advance of iteration.
type Iterable interface {
	Value
	// Iterate returns an Iterator. It must be followed by a call to
	// Iterator.Done.
	Iterate() Iterator
}

// A Sequence is a sequence of values of known length.
type Sequence interface {
	Iterable
	Len() int
}

// An Indexable is a sequence of known length that supports efficient random
// access. It is not necessarily iterable.
type Indexable interface {
	Value
	// Index returns the value at the specified index, which must satisfy
	// 0 <= i < Len().
	Index(i int) Value
	Len() int
}

// A HasSetIndex is an Indexable value whose elements may be assigned
// (x[i] = y). The index has already had Len added to it by the caller if it
// was originally negative.
type HasSetIndex interface {
	Indexable
	SetIndex(index int, v Value) error
}

// An Iterator provides a sequence of values to the caller. The caller must
// call Done when the iterator is no longer needed.
type Iterator interface {
	// Next sets *p to the current element and advances the iterator,
	// returning true, or returns false if the iterator is exhausted.
	Next(p *Value) bool
	// Done must be called once the iterator is no longer needed.
	Done()
}

// A Mapping is a mapping from keys to values, such as a table or struct.
type Mapping interface {
	Value
	// Get returns the value corresponding to key, or !found if absent.
	Get(Value) (v Value, found bool, err error)
}

// A HasSetKey supports map update using x[k] = v syntax.
type HasSetKey interface {
	Mapping
	SetKey(k, v Value) error
}

// Side indicates whether a HasBinary receiver is the left or right operand.
type Side bool

const (
	Left  Side = false
	Right Side = true
)

// A HasBinary value may be used as either operand of a binary operator. An
// implementation may decline to handle an operation by returning (nil, nil);
// clients should always call the standalone Binary function rather than
// calling the method directly.
type HasBinary interface {
	Value
	Binary(op Token, y Value, side Side) (Value, error)
}

// A HasUnary value may be used as the operand of a unary operator. An
// implementation may decline to handle an operation by returning (nil, nil).
type HasUnary interface {
	Value
	Unary(op Token) (Value, error)
}

// HasMetamap is implemented by values that support customization of their
// behavior via metamethods held in a table.
type HasMetamap interface {
	Value
	Metamap() *Table
	SetMetamap(*Table)
}

// A HasAttrs value has fields or methods readable by a dot expression.
type HasAttrs interface {
	Value
	// Attr returns the field or method value for name. A result of (nil, nil)
	// means "no such field or method".
	Attr(name string) (Value, error)
	// AttrNames returns the valid attribute names. Callers must not modify
	// the result.
	AttrNames() []string
}

// A HasSetField value has fields that may be written by a dot expression
// (x.f = y).
type HasSetField interface {
	HasAttrs
	SetField(name string, val Value) error
}

// NoSuchAttrError is returned by HasAttrs.Attr or HasSetField.SetField to
// indicate that no such field exists.
type NoSuchAttrError string

func (e NoSuchAttrError) Error() string { return string(e) }
