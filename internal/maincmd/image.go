package maincmd

import (
	"context"
	"fmt"
	"os"

	"github.com/mna/mainer"

	"github.com/lumenlang/lumen/image"
	"github.com/lumenlang/lumen/machine"
	"github.com/lumenlang/lumen/types"
)

// Image loads each file as a marshaled image (see the image package) and
// either prints the decoded value (-d) or, if it decodes to a function,
// resumes a fresh fiber over it to completion and prints the result.
func (c *Cmd) Image(ctx context.Context, stdio mainer.Stdio, args []string) error {
	vm := machine.NewVM()
	for _, path := range args {
		if err := imageFile(stdio, vm, path, c.Disasm); err != nil {
			return printError(stdio, err)
		}
	}
	return nil
}

func imageFile(stdio mainer.Stdio, vm *machine.VM, path string, dumpOnly bool) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	v, err := image.Unmarshal(b, vm, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if dumpOnly {
		fmt.Fprintln(stdio.Stdout, v)
		return nil
	}
	fn, ok := v.(*machine.Function)
	if !ok {
		fmt.Fprintln(stdio.Stdout, v)
		return nil
	}
	fiber := machine.NewFiber(vm, fn, nil)
	result, sig, err := fiber.Resume(types.NewTuple(nil))
	if err != nil {
		return err
	}
	if sig != machine.SigOK {
		return fmt.Errorf("image suspended with signal %s instead of completing; the image subcommand cannot service scheduler primitives", sig)
	}
	fmt.Fprintln(stdio.Stdout, result)
	return nil
}
