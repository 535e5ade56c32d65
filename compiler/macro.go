package compiler

import "github.com/lumenlang/lumen/types"

// maxMacroExpansions bounds the total number of macro expansions performed
// while compiling a single program, so a macro that expands into another
// invocation of itself (directly or through a cycle) fails compilation
// instead of hanging it.
const maxMacroExpansions = 10000

// Macros maps a call-head name to the function value that expands it. A
// form (name arg...) whose head is in Macros is not compiled as an ordinary
// call: name is instead called through the CompileEnv with arg... passed
// unevaluated (as data), and its return value is compiled in its place.
type Macros map[string]types.Value

func (fc *fcomp) expandMacro(fn types.Value, head string, t *types.Tuple) (types.Value, error) {
	fc.pcomp.macroExpansions++
	if fc.pcomp.macroExpansions > maxMacroExpansions {
		return nil, newCompileError("macro expansion limit exceeded expanding %s (possible infinite recursion)", head)
	}

	args := make([]types.Value, t.Len()-1)
	for i := 1; i < t.Len(); i++ {
		args[i-1] = t.Index(i)
	}

	result, err := fc.pcomp.env.CallMacro(fn, args)
	if err != nil {
		return nil, newCompileError("macro %s failed: %v", head, err)
	}
	return result, nil
}
