package maincmd

import (
	"context"
	"fmt"
	"os"

	"github.com/mna/mainer"

	"github.com/lumenlang/lumen/compiler"
	"github.com/lumenlang/lumen/machine"
	"github.com/lumenlang/lumen/types"
)

// Asm assembles each file from the textual bytecode format (see
// compiler/asm.go) and either disassembles it back to stdout (-d) or loads
// and runs it to completion on a fresh VM, printing its result.
func (c *Cmd) Asm(ctx context.Context, stdio mainer.Stdio, args []string) error {
	for _, path := range args {
		if err := asmFile(stdio, path, c.Disasm); err != nil {
			return printError(stdio, err)
		}
	}
	return nil
}

func asmFile(stdio mainer.Stdio, path string, disasmOnly bool) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	prog, err := compiler.Asm(b)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if disasmOnly {
		out, err := compiler.Dasm(prog)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		_, err = stdio.Stdout.Write(out)
		return err
	}
	return runProgram(stdio, prog)
}

// runProgram loads a compiled program's toplevel function and resumes a
// fresh fiber over it to completion. A program that suspends on a
// scheduler/channel primitive has no event loop to service it here (the
// asm subcommand exercises the compiler/machine/image core in isolation,
// not the scheduled runtime) and fails with a descriptive error instead of
// hanging.
func runProgram(stdio mainer.Stdio, prog *compiler.Program) error {
	fn, err := machine.Load(prog)
	if err != nil {
		return err
	}
	vm := machine.NewVM()
	fiber := machine.NewFiber(vm, fn, nil)
	result, sig, err := fiber.Resume(types.NewTuple(nil))
	if err != nil {
		return err
	}
	if sig != machine.SigOK {
		return fmt.Errorf("program suspended with signal %s instead of completing; the asm subcommand cannot service scheduler primitives", sig)
	}
	fmt.Fprintln(stdio.Stdout, result)
	return nil
}
