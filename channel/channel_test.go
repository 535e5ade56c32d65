package channel_test

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lumenlang/lumen/channel"
	"github.com/lumenlang/lumen/compiler"
	"github.com/lumenlang/lumen/machine"
	"github.com/lumenlang/lumen/sched"
	"github.com/lumenlang/lumen/types"
)

// fakeSink records every uncaught report.
type fakeSink struct{ reports []string }

func (s *fakeSink) ReportUncaught(fiberID int64, err error, trace []machine.FrameInfo) {
	s.reports = append(s.reports, err.Error())
}

func newLoop(t *testing.T, vm *machine.VM) *sched.Loop {
	t.Helper()
	loop, err := sched.New(vm, &fakeSink{})
	require.NoError(t, err)
	t.Cleanup(func() { loop.Close() })
	return loop
}

// bodyFiber builds a fiber whose toplevel bytecode does nothing but load a
// single constant (a cfunction wrapping body) and call it with no
// arguments, so body runs with a live *machine.Fiber it can suspend on via
// channel.Push/Pop/Select.
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

func runToIdle(t *testing.T, loop *sched.Loop) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, loop.Run(ctx))
}

func TestChannelNonBlockingPushPop(t *testing.T) {
	ch := channel.New(1, false)

	v, err := ch.Push(nil, nil, types.Int(1), channel.NonBlocking)
	require.NoError(t, err)
	require.Nil(t, v)

	_, err = ch.Push(nil, nil, types.Int(2), channel.NonBlocking)
	require.ErrorIs(t, err, channel.ErrWouldBlock)

	got, err := ch.Pop(nil, nil, channel.NonBlocking)
	require.NoError(t, err)
	require.Equal(t, types.Int(1), got)
}

func TestChannelBlockingPopWakesOnPush(t *testing.T) {
	vm := machine.NewVM()
	loop := newLoop(t, vm)
	ch := channel.New(0, false)

	received := make(chan types.Value, 1)
	reader := bodyFiber(vm, func(fr *machine.Fiber) (types.Value, error) {
		v, err := ch.Pop(fr, loop, channel.Blocking)
		if err != nil {
			return nil, err
		}
		received <- v
		return v, nil
	})
	loop.Schedule(reader, types.Nil, machine.SigOK)

	writer := bodyFiber(vm, func(fr *machine.Fiber) (types.Value, error) {
		_, err := ch.Push(fr, loop, types.Int(42), channel.Blocking)
		return types.Nil, err
	})
	loop.Schedule(writer, types.Nil, machine.SigOK)

	runToIdle(t, loop)
	require.Equal(t, machine.FiberDead, reader.Status())
	require.Equal(t, machine.FiberDead, writer.Status())
	require.Equal(t, types.Int(42), <-received)
}

func TestChannelCloseWakesPendingReader(t *testing.T) {
	vm := machine.NewVM()
	loop := newLoop(t, vm)
	ch := channel.New(0, false)

	var result types.Value
	reader := bodyFiber(vm, func(fr *machine.Fiber) (types.Value, error) {
		v, err := ch.Pop(fr, loop, channel.Blocking)
		result = v
		return v, err
	})
	loop.Schedule(reader, types.Nil, machine.SigOK)

	closer := bodyFiber(vm, func(fr *machine.Fiber) (types.Value, error) {
		ch.Close()
		return types.Nil, nil
	})
	loop.Schedule(closer, types.Nil, machine.SigOK)

	runToIdle(t, loop)
	require.Equal(t, machine.FiberDead, reader.Status())
	tup, ok := result.(*types.Tuple)
	require.True(t, ok)
	require.Equal(t, types.NewKeyword("close"), tup.Index(0))
}

func TestSelectPicksReadyClauseWithoutBlocking(t *testing.T) {
	vm := machine.NewVM()
	loop := newLoop(t, vm)
	a := channel.New(1, false)
	b := channel.New(1, false)
	_, err := b.Push(nil, nil, types.Int(7), channel.NonBlocking)
	require.NoError(t, err)

	var picked int
	f := bodyFiber(vm, func(fr *machine.Fiber) (types.Value, error) {
		res, err := channel.Select(fr, loop, []channel.Op{
			{Chan: a, IsPop: true},
			{Chan: b, IsPop: true},
		})
		if err != nil {
			return nil, err
		}
		picked = res.Index
		return res.Value, nil
	})
	loop.Schedule(f, types.Nil, machine.SigOK)
	runToIdle(t, loop)
	require.Equal(t, machine.FiberDead, f.Status())
	require.Equal(t, 1, picked)
}

func TestSelectBlocksThenWakesOnPartnerPush(t *testing.T) {
	vm := machine.NewVM()
	loop := newLoop(t, vm)
	a := channel.New(0, false)
	b := channel.New(0, false)

	picked := make(chan int, 1)
	selector := bodyFiber(vm, func(fr *machine.Fiber) (types.Value, error) {
		res, err := channel.Select(fr, loop, []channel.Op{
			{Chan: a, IsPop: true},
			{Chan: b, IsPop: true},
		})
		if err != nil {
			return nil, err
		}
		picked <- res.Index
		return res.Value, nil
	})
	loop.Schedule(selector, types.Nil, machine.SigOK)

	writer := bodyFiber(vm, func(fr *machine.Fiber) (types.Value, error) {
		_, err := b.Push(fr, loop, types.Int(9), channel.Blocking)
		return types.Nil, err
	})
	loop.Schedule(writer, types.Nil, machine.SigOK)

	runToIdle(t, loop)
	require.Equal(t, machine.FiberDead, selector.Status())
	require.Equal(t, 1, <-picked)
}
