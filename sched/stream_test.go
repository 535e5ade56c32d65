package sched_test

import (
	"context"
	"encoding/binary"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lumenlang/lumen/compiler"
	"github.com/lumenlang/lumen/machine"
	"github.com/lumenlang/lumen/sched"
	"github.com/lumenlang/lumen/types"
)

// bodyFiber builds a fiber whose toplevel bytecode loads a single constant
// (a cfunction wrapping body) and calls it with no arguments, giving body a
// live *machine.Fiber it can suspend on via Loop.AwaitRead/AwaitWrite.
func bodyFiber(vm *machine.VM, body func(fr *machine.Fiber) (types.Value, error)) *machine.Fiber {
	cfn := machine.NewCFunction("body", func(_ *machine.VM, fr *machine.Fiber, _ *types.Tuple) (types.Value, error) {
		return body(fr)
	})

	code := []byte{byte(compiler.CONSTANT)}
	code = binary.AppendUvarint(code, 0)
	code = append(code, byte(compiler.CALL))
	code = binary.AppendUvarint(code, 0)
	code = append(code, byte(compiler.RETURN))

	fc := &compiler.Funcode{Name: "top", Code: code, MaxStack: 2}
	mod := &machine.Module{Program: &compiler.Program{Toplevel: fc}, Constants: []types.Value{cfn}, Name: "test"}
	fn := &machine.Function{Funcode: fc, Module: mod}
	return machine.NewFiber(vm, fn, nil)
}

func TestStreamAwaitReadWakesOnPipeWrite(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()
	defer r.Close()

	vm := machine.NewVM()
	loop, err := sched.New(vm, &fakeSink{})
	require.NoError(t, err)
	defer loop.Close()

	s, err := loop.NewStream(int(r.Fd()), true, false)
	require.NoError(t, err)

	var woke bool
	reader := bodyFiber(vm, func(fr *machine.Fiber) (types.Value, error) {
		_, err := loop.AwaitRead(fr, s)
		woke = true
		return types.Nil, err
	})
	loop.Schedule(reader, types.Nil, machine.SigOK)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write([]byte("x"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, loop.Run(ctx))
	require.Equal(t, machine.FiberDead, reader.Status())
	require.True(t, woke)
}

func TestStreamAwaitWriteReadyImmediately(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()
	defer r.Close()

	vm := machine.NewVM()
	loop, err := sched.New(vm, &fakeSink{})
	require.NoError(t, err)
	defer loop.Close()

	s, err := loop.NewStream(int(w.Fd()), false, true)
	require.NoError(t, err)

	var woke bool
	writer := bodyFiber(vm, func(fr *machine.Fiber) (types.Value, error) {
		_, err := loop.AwaitWrite(fr, s)
		woke = true
		return types.Nil, err
	})
	loop.Schedule(writer, types.Nil, machine.SigOK)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, loop.Run(ctx))
	require.Equal(t, machine.FiberDead, writer.Status())
	require.True(t, woke)
}

func TestCloseStreamCancelsPendingReader(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()
	defer r.Close()

	vm := machine.NewVM()
	loop, err := sched.New(vm, &fakeSink{})
	require.NoError(t, err)
	defer loop.Close()

	s, err := loop.NewStream(int(r.Fd()), true, false)
	require.NoError(t, err)

	reader := bodyFiber(vm, func(fr *machine.Fiber) (types.Value, error) {
		_, err := loop.AwaitRead(fr, s)
		return types.Nil, err
	})
	loop.Schedule(reader, types.Nil, machine.SigOK)

	// Run the close from a second fiber rather than a real goroutine:
	// CloseStream mutates Loop-owned state directly, so it must happen on
	// the loop's own cooperative goroutine, same as Cancel/Schedule.
	closer := bodyFiber(vm, func(fr *machine.Fiber) (types.Value, error) {
		return types.Nil, loop.CloseStream(s)
	})
	loop.Schedule(closer, types.Nil, machine.SigOK)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, loop.Run(ctx))
	require.Equal(t, machine.FiberError, reader.Status())
}
