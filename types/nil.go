package types

// NilType is the type of nil. Its only legal value is Nil. It is represented
// as a byte, not struct{}, so that Nil may be a compile-time constant.
type NilType byte

// Nil is the value denoting the absence of a value.
const Nil = NilType(0)

var _ Value = Nil

func (NilType) String() string { return "nil" }
func (NilType) Type() string   { return "nil" }
func (NilType) Truth() Bool    { return False }
func (NilType) Freeze()        {}
