package compiler

import (
	"github.com/lumenlang/lumen/types"
)

// compileForm compiles one form, leaving exactly one value on the operand
// stack. tail reports whether this form's value is returned directly from
// its enclosing function, enabling TAILCALL for a trailing plain call.
func (fc *fcomp) compileForm(v types.Value, tail bool) error {
	switch t := v.(type) {
	case types.NilType:
		fc.emit(NIL, 0)
		return nil
	case types.Bool:
		if t {
			fc.emit(TRUE, 0)
		} else {
			fc.emit(FALSE, 0)
		}
		return nil
	case types.Int, types.Float, types.String, types.Keyword:
		fc.emitConstant(t)
		return nil
	case types.Symbol:
		return fc.compileSymbolRef(t.Go())
	case *types.Tuple:
		return fc.compileCall(t, tail)
	case *types.Array:
		return fc.compileArrayLiteral(t)
	default:
		return newCompileError("cannot compile value of type %s", v.Type())
	}
}

// emitConstant appends v to the Constants table and emits the CONSTANT that
// loads it. Int/Float/String fold to the raw Go scalar asm.go's text format
// also produces, so the two constant sources stay interchangeable and
// Dasm can print either; every other constant kind (Keyword, or a quoted
// compound literal folded by fold.go) has no text-constant syntax and is
// stored as the already-built types.Value.
func (fc *fcomp) emitConstant(v types.Value) {
	var raw any
	switch t := v.(type) {
	case types.Int:
		raw = int64(t)
	case types.Float:
		raw = float64(t)
	case types.String:
		raw = t.Go()
	default:
		raw = v
	}
	fc.emit(CONSTANT, uint32(fc.pcomp.addConstant(raw)))
}

// compileSymbolRef resolves name and emits the opcode that pushes its
// current value.
func (fc *fcomp) compileSymbolRef(name string) error {
	res, err := fc.resolveSymbol(name)
	if err != nil {
		return err
	}
	switch res.kind {
	case bindLocal:
		fc.emit(LOCAL, uint32(res.idx))
	case bindLocalCell:
		fc.emit(LOCALCELL, uint32(res.idx))
	case bindFree:
		fc.emit(FREECELL, uint32(res.idx))
	case bindPredeclared:
		fc.emit(PREDECLARED, uint32(res.idx))
	case bindUniversal:
		fc.emit(UNIVERSAL, uint32(res.idx))
	}
	return nil
}

// compileArrayLiteral compiles @[...] as a MAKEARRAY of its elements, each
// compiled as an ordinary form (a splice element is rejected).
func (fc *fcomp) compileArrayLiteral(a *types.Array) error {
	n := a.Len()
	for i := 0; i < n; i++ {
		if err := fc.compileForm(a.Index(i), false); err != nil {
			return err
		}
	}
	fc.emit(MAKEARRAY, uint32(n))
	return nil
}

// headSymbol returns the operator/special-form name if t's first element is
// a bare Symbol, else "".
func headSymbol(t *types.Tuple) (string, bool) {
	if t.Len() == 0 {
		return "", false
	}
	sym, ok := t.Index(0).(types.Symbol)
	if !ok {
		return "", false
	}
	return sym.Go(), true
}

// compileCall dispatches a tuple form: either a recognized special form, an
// operator form, or a plain function call.
func (fc *fcomp) compileCall(t *types.Tuple, tail bool) error {
	head, ok := headSymbol(t)
	if !ok {
		return newCompileError("call head must be a symbol")
	}

	if op, ok := reverseLookupToken(head); ok {
		return fc.compileOperatorForm(op, t)
	}

	switch head {
	case "quote":
		return fc.compileQuote(t)
	case "quasiquote":
		return fc.compileQuasiquote(t)
	case "unquote":
		return fc.compileUnquote(t)
	case "do":
		return fc.compileDo(t, tail)
	case "upscope":
		return fc.compileUpscope(t, tail)
	case "if":
		return fc.compileIf(t, tail)
	case "while":
		return fc.compileWhile(t)
	case "break":
		return fc.compileBreak(t)
	case "def", "var":
		return fc.compileDef(t)
	case "set":
		return fc.compileSet(t)
	case "fn":
		return fc.compileFn(t)
	case "tuple":
		return fc.compileTupleCtor(t)
	case "array":
		return fc.compileArrayCtor(t)
	case "table":
		return fc.compileTableCtor(t)
	case "struct":
		return fc.compileStructCtor(t)
	case "not":
		return fc.compileNot(t)
	case "len":
		return fc.compileLen(t)
	case "yield":
		return fc.compileYield(t)
	case "splice":
		return newCompileError("splice is only valid as a trailing call argument")
	default:
		if fn, ok := fc.pcomp.macros[head]; ok {
			expanded, err := fc.expandMacro(fn, head, t)
			if err != nil {
				return err
			}
			return fc.compileForm(expanded, tail)
		}
		return fc.compilePlainCall(t, tail)
	}
}

// compileQuote pushes t's single argument verbatim, as data, without
// evaluating it.
func (fc *fcomp) compileQuote(t *types.Tuple) error {
	if t.Len() != 2 {
		return newCompileError("quote takes exactly one argument")
	}
	fc.emitConstant(t.Index(1))
	return nil
}

// compileQuasiquote compiles (quasiquote form), pushing form as data except
// for any (unquote ...) sub-forms found at this quasiquote's nesting depth,
// which are compiled and evaluated as real code in form's place.
func (fc *fcomp) compileQuasiquote(t *types.Tuple) error {
	if t.Len() != 2 {
		return newCompileError("quasiquote takes exactly one argument")
	}
	return fc.compileQuasiquoteForm(t.Index(1), 1)
}

// compileUnquote rejects an unquote that is not nested inside a matching
// quasiquote; compileQuasiquoteForm handles every unquote it actually finds
// inside a quasiquoted tree itself, so this is only ever reached for a bare
// top-level (unquote ...).
func (fc *fcomp) compileUnquote(t *types.Tuple) error {
	return newCompileError("unquote used outside of quasiquote")
}

// compileQuasiquoteForm compiles v as the body of a quasiquote nested depth
// levels deep (depth starts at 1 for the outermost quasiquote). A subtree
// containing no unquote that fires at this depth is entirely literal data
// and is pushed as a single constant, same as quote.
func (fc *fcomp) compileQuasiquoteForm(v types.Value, depth int) error {
	if !containsUnquote(v, depth) {
		fc.emitConstant(v)
		return nil
	}
	switch t := v.(type) {
	case *types.Tuple:
		if head, ok := headSymbol(t); ok {
			switch head {
			case "unquote":
				if t.Len() != 2 {
					return newCompileError("unquote takes exactly one argument")
				}
				if depth == 1 {
					return fc.compileForm(t.Index(1), false)
				}
				return fc.compileQuasiquoteMarker(t, "unquote", depth-1)
			case "quasiquote":
				if t.Len() != 2 {
					return newCompileError("quasiquote takes exactly one argument")
				}
				return fc.compileQuasiquoteMarker(t, "quasiquote", depth+1)
			}
		}
		for i := 0; i < t.Len(); i++ {
			if err := fc.compileQuasiquoteForm(t.Index(i), depth); err != nil {
				return err
			}
		}
		fc.emit(MAKETUPLE, uint32(t.Len()))
		return nil
	case *types.Array:
		for i := 0; i < t.Len(); i++ {
			if err := fc.compileQuasiquoteForm(t.Index(i), depth); err != nil {
				return err
			}
		}
		fc.emit(MAKEARRAY, uint32(t.Len()))
		return nil
	default:
		fc.emitConstant(v)
		return nil
	}
}

// compileQuasiquoteMarker recompiles a (head inner) wrapper tuple (an
// unquote/quasiquote form that doesn't fire at the current depth, so it
// must be reconstructed at runtime instead of evaluated), recursing into
// inner at newDepth.
func (fc *fcomp) compileQuasiquoteMarker(t *types.Tuple, head string, newDepth int) error {
	fc.emitConstant(types.NewSymbol(head))
	if err := fc.compileQuasiquoteForm(t.Index(1), newDepth); err != nil {
		return err
	}
	fc.emit(MAKETUPLE, 2)
	return nil
}

// containsUnquote reports whether v contains an (unquote ...) form that
// would fire when this tree is compiled at the given quasiquote depth,
// descending into nested quasiquote/unquote forms with depth adjusted
// accordingly.
func containsUnquote(v types.Value, depth int) bool {
	t, ok := v.(*types.Tuple)
	if ok {
		if head, ok := headSymbol(t); ok && t.Len() == 2 {
			switch head {
			case "unquote":
				if depth == 1 {
					return true
				}
				return containsUnquote(t.Index(1), depth-1)
			case "quasiquote":
				return containsUnquote(t.Index(1), depth+1)
			}
		}
		for i := 0; i < t.Len(); i++ {
			if containsUnquote(t.Index(i), depth) {
				return true
			}
		}
		return false
	}
	if a, ok := v.(*types.Array); ok {
		for i := 0; i < a.Len(); i++ {
			if containsUnquote(a.Index(i), depth) {
				return true
			}
		}
	}
	return false
}

// compileBodyForms compiles a sequence of forms with standard body
// sequencing (every form but the last is popped), shared by do/upscope.
func (fc *fcomp) compileBodyForms(forms []types.Value, tail bool) error {
	if len(forms) == 0 {
		fc.emit(NIL, 0)
		return nil
	}
	for i, f := range forms {
		last := i == len(forms)-1
		if err := fc.compileForm(f, tail && last); err != nil {
			return err
		}
		if !last {
			fc.emit(POP, 0)
		}
	}
	return nil
}

// compileDo compiles (do form...), opening a non-function scope: any def
// inside is local to the do block and freed when it closes.
func (fc *fcomp) compileDo(t *types.Tuple, tail bool) error {
	forms := make([]types.Value, t.Len()-1)
	for i := 1; i < t.Len(); i++ {
		forms[i-1] = t.Index(i)
	}
	fc.pushScope()
	defer fc.popScope()
	return fc.compileBodyForms(forms, tail)
}

// compileUpscope compiles (upscope form...) with the same sequencing as do,
// but without opening a scope of its own, so any def inside lands in the
// nearest enclosing scope instead of being freed at upscope's end.
func (fc *fcomp) compileUpscope(t *types.Tuple, tail bool) error {
	forms := make([]types.Value, t.Len()-1)
	for i := 1; i < t.Len(); i++ {
		forms[i-1] = t.Index(i)
	}
	return fc.compileBodyForms(forms, tail)
}

// compileIf compiles (if cond then [else]).
func (fc *fcomp) compileIf(t *types.Tuple, tail bool) error {
	if t.Len() != 3 && t.Len() != 4 {
		return newCompileError("if takes a condition, a then branch, and an optional else branch")
	}
	if err := fc.compileForm(t.Index(1), false); err != nil {
		return err
	}
	thenBlock := fc.newBlock()
	elseBlock := fc.newBlock()
	fc.cjump(CJMP, thenBlock, elseBlock)
	after := fc.newBlock()

	fc.block = thenBlock
	if err := fc.compileForm(t.Index(2), tail); err != nil {
		return err
	}
	fc.jump(after)

	fc.block = elseBlock
	if t.Len() == 4 {
		if err := fc.compileForm(t.Index(3), tail); err != nil {
			return err
		}
	} else {
		fc.emit(NIL, 0)
	}
	fc.jump(after)

	fc.block = after
	return nil
}

// compileWhile compiles (while cond body...), always yielding nil.
// compileWhile compiles (while cond body...), opening a loop scope. A body
// that syntactically contains a nested fn is compiled as a tail-recursive
// IIFE instead of a plain CFG loop, so each iteration's closures capture
// their own cell rather than one shared across the whole loop.
func (fc *fcomp) compileWhile(t *types.Tuple) error {
	if t.Len() < 2 {
		return newCompileError("while takes a condition and a body")
	}
	cond := t.Index(1)
	bodyForms := make([]types.Value, t.Len()-2)
	for i := 2; i < t.Len(); i++ {
		bodyForms[i-2] = t.Index(i)
	}
	if containsFnClosure(types.NewTuple(bodyForms)) {
		return fc.compileWhileIIFE(cond, bodyForms)
	}
	return fc.compileWhileLoop(cond, bodyForms)
}

// compileWhileLoop lowers while to a plain CFG loop: header tests cond,
// body runs and jumps back to header, after is the loop's exit.
func (fc *fcomp) compileWhileLoop(cond types.Value, bodyForms []types.Value) error {
	fc.pushScope()
	defer fc.popScope()

	header := fc.newBlock()
	body := fc.newBlock()
	after := fc.newBlock()

	fc.jump(header)
	fc.block = header
	if err := fc.compileForm(cond, false); err != nil {
		return err
	}
	fc.cjump(CJMP, body, after)

	fc.loops = append(fc.loops, loopCtx{breakBlock: after})
	fc.block = body
	for _, f := range bodyForms {
		if err := fc.compileForm(f, false); err != nil {
			return err
		}
		fc.emit(POP, 0)
	}
	fc.loops = fc.loops[:len(fc.loops)-1]
	fc.jump(header)

	fc.block = after
	fc.emit(NIL, 0)
	return nil
}

// compileWhileIIFE lowers while to a self-recursive zero-argument closure:
//
//	(fn [] (if cond (do body... (%while)) nil))
//
// called once, immediately, and tail-called on every iteration. Each
// iteration's body therefore runs in a fresh call Frame with its own set of
// boxed Cells (boxCells allocates one set per Frame), so a closure built
// inside the body over a loop-captured local gets its own cell instead of
// sharing the single cell a plain CFG loop would reuse across iterations.
func (fc *fcomp) compileWhileIIFE(cond types.Value, bodyForms []types.Value) error {
	fc.pushScope()
	defer fc.popScope()

	selfSym := types.NewSymbol("%while")
	idx, err := fc.alloc("%while")
	if err != nil {
		return err
	}

	recurCall := types.NewTuple([]types.Value{selfSym})
	doForms := append(append([]types.Value{}, bodyForms...), recurCall)
	thenForm := types.NewTuple(append([]types.Value{types.NewSymbol("do")}, doForms...))
	ifForm := types.NewTuple([]types.Value{types.NewSymbol("if"), cond, thenForm, types.Nil})

	nested, diags, err := fc.pcomp.function("fn", fc, nil, types.NewTuple([]types.Value{ifForm}), &loopCtx{returnOnBreak: true})
	fc.pcomp.diags = diags
	if err != nil {
		return err
	}

	if err := fc.emitClosure(nested); err != nil {
		return err
	}
	fc.emit(DUP, 0)
	// The nested function always resolves "%while" as a freevar of this very
	// closure (it calls itself), so building it above always marks idx
	// captured; store through the cell so the self-reference the closure
	// already holds observes this write.
	if fc.isCaptured(idx) {
		fc.emit(SETLOCALCELL, uint32(idx))
	} else {
		fc.emit(SETLOCAL, uint32(idx))
	}
	fc.emit(CALL, 0)
	return nil
}

// containsFnClosure reports whether v's form tree contains a literal
// (fn ...) sub-form, skipping the contents of any (quote ...) sub-form
// since quoted data is never compiled. Used as a conservative trigger for
// the while-IIFE lowering: over-triggering (routing a loop with no actual
// captured upvalue through the IIFE path) only costs a little call
// overhead, never correctness.
func containsFnClosure(v types.Value) bool {
	t, ok := v.(*types.Tuple)
	if !ok {
		if a, ok := v.(*types.Array); ok {
			for i := 0; i < a.Len(); i++ {
				if containsFnClosure(a.Index(i)) {
					return true
				}
			}
		}
		return false
	}
	if head, ok := headSymbol(t); ok {
		if head == "fn" {
			return true
		}
		if head == "quote" {
			return false
		}
	}
	for i := 0; i < t.Len(); i++ {
		if containsFnClosure(t.Index(i)) {
			return true
		}
	}
	return false
}

// compileBreak compiles (break), jumping to the innermost enclosing loop's
// exit block, or, inside a while-IIFE's nested function (which has no CFG
// block spanning back to the original call site), returning from it
// directly so the tail-recursion chain unwinds back out through the
// non-tail CALL that started it.
func (fc *fcomp) compileBreak(t *types.Tuple) error {
	if len(fc.loops) == 0 {
		return newCompileError("break used outside of a loop")
	}
	if t.Len() != 1 {
		return newCompileError("break takes no arguments")
	}
	top := fc.loops[len(fc.loops)-1]
	fc.emit(NIL, 0)
	if top.returnOnBreak {
		fc.emit(RETURN, 0)
	} else {
		fc.jump(top.breakBlock)
	}
	// The block just closed (by the RETURN above, or by jump) is
	// unreachable; open a fresh one so later compileForm calls in the same
	// body still have somewhere to emit into (it is simply never linked in).
	fc.block = fc.newBlock()
	return nil
}

// compileDef compiles (def name value), binding name as a new local in the
// current scope.
func (fc *fcomp) compileDef(t *types.Tuple) error {
	if t.Len() != 3 {
		return newCompileError("def takes a name and a value")
	}
	sym, ok := t.Index(1).(types.Symbol)
	if !ok {
		return newCompileError("def's first argument must be a symbol")
	}
	if err := fc.compileForm(t.Index(2), false); err != nil {
		return err
	}
	idx, err := fc.alloc(sym.Go())
	if err != nil {
		return err
	}
	fc.emit(DUP, 0)
	fc.emit(SETLOCAL, uint32(idx))
	return nil
}

// compileSet compiles (set target value), where target must be a symbol
// bound to a local (plain or cell) of the current function; any other
// target or binding kind is a compile error.
func (fc *fcomp) compileSet(t *types.Tuple) error {
	if t.Len() != 3 {
		return newCompileError("set takes a target and a value")
	}
	switch target := t.Index(1).(type) {
	case types.Symbol:
		res, err := fc.resolveSymbol(target.Go())
		if err != nil {
			return err
		}
		if err := fc.compileForm(t.Index(2), false); err != nil {
			return err
		}
		fc.emit(DUP, 0)
		switch res.kind {
		case bindLocal:
			fc.emit(SETLOCAL, uint32(res.idx))
		case bindLocalCell:
			fc.emit(SETLOCALCELL, uint32(res.idx))
		default:
			return newCompileError("cannot set a predeclared, universal, or free binding")
		}
		return nil
	default:
		return newCompileError("set's target must be a symbol")
	}
}

// compileFn compiles (fn [params...] body...) into a MAKEFUNC.
func (fc *fcomp) compileFn(t *types.Tuple) error {
	if t.Len() < 2 {
		return newCompileError("fn takes a parameter list and a body")
	}
	paramsArr, ok := t.Index(1).(*types.Array)
	if !ok {
		return newCompileError("fn's parameter list must be an array")
	}
	params := make([]string, paramsArr.Len())
	for i := range params {
		sym, ok := paramsArr.Index(i).(types.Symbol)
		if !ok {
			return newCompileError("fn parameters must be symbols")
		}
		params[i] = sym.Go()
	}

	bodyForms := make([]types.Value, t.Len()-2)
	for i := 2; i < t.Len(); i++ {
		bodyForms[i-2] = t.Index(i)
	}
	nested, diags, err := fc.pcomp.function("fn", fc, params, types.NewTuple(bodyForms), nil)
	fc.pcomp.diags = diags
	if err != nil {
		return err
	}
	return fc.emitClosure(nested)
}

// emitClosure pushes nested's freevars (each resolved in fc, the enclosing
// function, either as a cell backing one of fc's own locals or as one of
// fc's own freevars forwarded through) and emits the MAKEFUNC that builds
// the closure value.
func (fc *fcomp) emitClosure(nested *Funcode) error {
	for _, fv := range nested.Freevars {
		if idx, ok := fc.resolveLocal(fv.Name); ok && fc.isCaptured(idx) {
			fc.emit(LOCALCELLREF, uint32(idx))
			continue
		}
		if idx, ok := fc.freevarIndex[fv.Name]; ok {
			fc.emit(FREE, uint32(idx))
			continue
		}
		return newCompileError("internal error: unresolved freevar %s in nested fn", fv.Name)
	}
	fc.emit(MAKETUPLE, uint32(len(nested.Freevars)))
	fc.emit(MAKEFUNC, uint32(fc.pcomp.functionIndex(nested)))
	return nil
}

func (fc *fcomp) compileTupleCtor(t *types.Tuple) error {
	return fc.compileVariadicCtor(t, MAKETUPLE)
}

func (fc *fcomp) compileArrayCtor(t *types.Tuple) error {
	return fc.compileVariadicCtor(t, MAKEARRAY)
}

func (fc *fcomp) compileVariadicCtor(t *types.Tuple, op Opcode) error {
	n := t.Len() - 1
	elems := make([]types.Value, n)
	for i := 1; i < t.Len(); i++ {
		elems[i-1] = t.Index(i)
	}
	if v, ok := foldArray(elems, op == MAKETUPLE); ok {
		fc.emitConstant(v)
		return nil
	}
	for _, e := range elems {
		if err := fc.compileForm(e, false); err != nil {
			return err
		}
	}
	fc.emit(op, uint32(n))
	return nil
}

// compileTableCtor compiles (table key1 val1 key2 val2 ...) via repeated
// MAKEMAP/SETMAP, since SETMAP is only safe once the receiver is known to
// be a map.
func (fc *fcomp) compileTableCtor(t *types.Tuple) error {
	if (t.Len()-1)%2 != 0 {
		return newCompileError("table takes an even number of key/value arguments")
	}
	fc.emit(MAKEMAP, 0)
	for i := 1; i < t.Len(); i += 2 {
		fc.emit(DUP, 0)
		if err := fc.compileForm(t.Index(i), false); err != nil {
			return err
		}
		if err := fc.compileForm(t.Index(i+1), false); err != nil {
			return err
		}
		fc.emit(SETMAP, 0)
	}
	return nil
}

// compileStructCtor compiles (struct key1 val1 key2 val2 ...) into a single
// MAKESTRUCT, unlike table's repeated MAKEMAP/SETMAP: types.Struct is
// immutable and built all at once from its full key/value set, so every
// pair is compiled first and the struct assembled in one opcode.
func (fc *fcomp) compileStructCtor(t *types.Tuple) error {
	if (t.Len()-1)%2 != 0 {
		return newCompileError("struct takes an even number of key/value arguments")
	}
	n := (t.Len() - 1) / 2
	for i := 1; i < t.Len(); i += 2 {
		if err := fc.compileForm(t.Index(i), false); err != nil {
			return err
		}
		if err := fc.compileForm(t.Index(i+1), false); err != nil {
			return err
		}
	}
	fc.emit(MAKESTRUCT, uint32(n))
	return nil
}

// compileYield compiles (yield value), suspending the current fiber with
// value as the yielded payload; the eventual resume value becomes this
// form's own result.
func (fc *fcomp) compileYield(t *types.Tuple) error {
	if t.Len() != 2 {
		return newCompileError("yield takes exactly one argument")
	}
	if err := fc.compileForm(t.Index(1), false); err != nil {
		return err
	}
	fc.emit(YIELD, 0)
	return nil
}

func (fc *fcomp) compileNot(t *types.Tuple) error {
	if t.Len() != 2 {
		return newCompileError("not takes exactly one argument")
	}
	if err := fc.compileForm(t.Index(1), false); err != nil {
		return err
	}
	fc.emit(NOT, 0)
	return nil
}

func (fc *fcomp) compileLen(t *types.Tuple) error {
	if t.Len() != 2 {
		return newCompileError("len takes exactly one argument")
	}
	if err := fc.compileForm(t.Index(1), false); err != nil {
		return err
	}
	fc.emit(LEN, 0)
	return nil
}

// compileOperatorForm compiles (op a b) / (op a) for a recognized binary or
// unary Token.
func (fc *fcomp) compileOperatorForm(op types.Token, t *types.Tuple) error {
	operands := make([]types.Value, t.Len()-1)
	for i := 1; i < t.Len(); i++ {
		operands[i-1] = t.Index(i)
	}
	if v, ok := foldOperator(op, operands); ok {
		fc.emitConstant(v)
		return nil
	}

	switch t.Len() {
	case 2:
		uop, ok := unaryOpcode(op)
		if !ok {
			return newCompileError("%s is not a unary operator", op)
		}
		if err := fc.compileForm(t.Index(1), false); err != nil {
			return err
		}
		fc.emit(uop, 0)
		return nil
	case 3:
		bop, ok := binaryOpcode(op)
		if !ok {
			return newCompileError("%s is not a binary operator", op)
		}
		if err := fc.compileForm(t.Index(1), false); err != nil {
			return err
		}
		if err := fc.compileForm(t.Index(2), false); err != nil {
			return err
		}
		fc.emit(bop, 0)
		return nil
	default:
		return newCompileError("operator %s takes one or two operands", op)
	}
}

// compilePlainCall compiles (f arg...), with the last argument allowed to
// be (splice expr) to spread an array's elements as trailing positional
// arguments.
func (fc *fcomp) compilePlainCall(t *types.Tuple, tail bool) error {
	if err := fc.compileForm(t.Index(0), false); err != nil {
		return err
	}

	args := make([]types.Value, t.Len()-1)
	for i := 1; i < t.Len(); i++ {
		args[i-1] = t.Index(i)
	}

	splice, spliceExpr := spliceTail(args)
	if splice {
		args = args[:len(args)-1]
	}

	for _, a := range args {
		if err := fc.compileForm(a, false); err != nil {
			return err
		}
	}
	// n>>8 is the positional count, n&0xff the named-pair count; keyword-call
	// syntax isn't implemented yet, so named is always 0.
	n := uint32(len(args)) << 8

	if splice {
		if err := fc.compileForm(spliceExpr, false); err != nil {
			return err
		}
		fc.emit(CALLSPLICE, n)
		return nil
	}
	if tail {
		fc.emit(TAILCALL, n)
		return nil
	}
	fc.emit(CALL, n)
	return nil
}

// spliceTail reports whether the last element of args is an (splice expr)
// form, returning the inner expr.
func spliceTail(args []types.Value) (bool, types.Value) {
	if len(args) == 0 {
		return false, nil
	}
	t, ok := args[len(args)-1].(*types.Tuple)
	if !ok || t.Len() != 2 {
		return false, nil
	}
	head, ok := headSymbol(t)
	if !ok || head != "splice" {
		return false, nil
	}
	return true, t.Index(1)
}

// unaryOpcode maps a Token used in unary position (one operand) to its
// opcode. PLUS/MINUS/TILDE are ambiguous with their binary counterparts at
// the token level; arity alone (as seen by the caller) disambiguates them.
func unaryOpcode(op types.Token) (Opcode, bool) {
	switch op {
	case types.PLUS, types.UPLUS:
		return UPLUS, true
	case types.MINUS, types.UMINUS:
		return UMINUS, true
	case types.TILDE, types.UTILDE:
		return UTILDE, true
	case types.POUND:
		return LEN, true
	}
	return 0, false
}

func binaryOpcode(op types.Token) (Opcode, bool) {
	switch op {
	case types.LT:
		return LT, true
	case types.LE:
		return LE, true
	case types.GT:
		return GT, true
	case types.GE:
		return GE, true
	case types.EQEQ:
		return EQL, true
	case types.NEQ:
		return NEQ, true
	case types.PLUS:
		return PLUS, true
	case types.MINUS:
		return MINUS, true
	case types.STAR:
		return STAR, true
	case types.SLASH:
		return SLASH, true
	case types.SLASHSLASH:
		return SLASHSLASH, true
	case types.PERCENT:
		return PERCENT, true
	case types.CIRCUMFLEX:
		return CIRCUMFLEX, true
	case types.AMPERSAND:
		return AMPERSAND, true
	case types.PIPE:
		return PIPE, true
	case types.TILDE:
		return TILDE, true
	case types.LTLT:
		return LTLT, true
	case types.GTGT:
		return GTGT, true
	}
	return 0, false
}

// reverseLookupToken maps an operator's surface symbol name (e.g. "+" in
// (+ a b)) to its Token, using tokenSymbolNames.
func reverseLookupToken(name string) (types.Token, bool) {
	t, ok := tokenSymbolNames[name]
	return t, ok
}

var tokenSymbolNames = map[string]types.Token{
	"<":  types.LT,
	"<=": types.LE,
	">":  types.GT,
	">=": types.GE,
	"==": types.EQEQ,
	"!=": types.NEQ,
	"+":  types.PLUS,
	"-":  types.MINUS,
	"*":  types.STAR,
	"/":  types.SLASH,
	"//": types.SLASHSLASH,
	"%":  types.PERCENT,
	"^":  types.CIRCUMFLEX,
	"&":  types.AMPERSAND,
	"|":  types.PIPE,
	"~":  types.TILDE,
	"<<": types.LTLT,
	">>": types.GTGT,
}
