package types

// Bool is the type of a boolean value.
type Bool bool

const (
	False = Bool(false)
	True  = Bool(true)
)

var _ Value = Bool(false)

func (b Bool) String() string {
	if b {
		return "true"
	}
	return "false"
}
func (b Bool) Type() string  { return "boolean" }
func (b Bool) Truth() Bool   { return b }
func (b Bool) Freeze()       {}
func (b Bool) Cmp(y Value) (int, error) {
	yb := y.(Bool)
	if b == yb {
		return 0, nil
	}
	if !b && yb {
		return -1, nil
	}
	return 1, nil
}

var _ Ordered = Bool(false)
