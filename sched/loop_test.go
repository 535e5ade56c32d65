package sched_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lumenlang/lumen/compiler"
	"github.com/lumenlang/lumen/config"
	"github.com/lumenlang/lumen/machine"
	"github.com/lumenlang/lumen/sched"
	"github.com/lumenlang/lumen/types"
)

// fakeSink records every uncaught report instead of printing anywhere.
type fakeSink struct {
	reports []string
}

func (s *fakeSink) ReportUncaught(fiberID int64, err error, trace []machine.FrameInfo) {
	s.reports = append(s.reports, err.Error())
}

func trivialFiber(t *testing.T, vm *machine.VM) *machine.Fiber {
	t.Helper()
	prog := &compiler.Program{Toplevel: &compiler.Funcode{
		Name:     "top",
		Code:     []byte{byte(compiler.NIL), byte(compiler.RETURN)},
		MaxStack: 1,
	}}
	fn, err := machine.Load(prog)
	require.NoError(t, err)
	return machine.NewFiber(vm, fn, nil)
}

func TestLoopSchedulesFiberToCompletion(t *testing.T) {
	vm := machine.NewVM()
	sink := &fakeSink{}
	loop, err := sched.New(vm, sink)
	require.NoError(t, err)
	defer loop.Close()

	f := trivialFiber(t, vm)
	loop.Schedule(f, types.Nil, machine.SigOK)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, loop.Run(ctx))
	require.Equal(t, machine.FiberDead, f.Status())
	require.Empty(t, sink.reports)
}

func TestLoopCancelInjectsErrorAtResume(t *testing.T) {
	vm := machine.NewVM()
	sink := &fakeSink{}
	loop, err := sched.New(vm, sink)
	require.NoError(t, err)
	defer loop.Close()

	f := trivialFiber(t, vm)
	loop.Cancel(f, "shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, loop.Run(ctx))
	require.Equal(t, machine.FiberError, f.Status())
	require.Contains(t, sink.reports[0], "shutting down")
}

func TestLoopScheduleSoonRunsBeforeScheduleThisTick(t *testing.T) {
	vm := machine.NewVM()
	loop, err := sched.New(vm, &fakeSink{})
	require.NoError(t, err)
	defer loop.Close()

	a := trivialFiber(t, vm)
	b := trivialFiber(t, vm)
	loop.Schedule(a, types.Nil, machine.SigOK)
	loop.ScheduleSoon(b, types.Nil, machine.SigOK)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, loop.Run(ctx))
	require.Equal(t, machine.FiberDead, a.Status())
	require.Equal(t, machine.FiberDead, b.Status())
}

func TestLoopStaleRescheduleIsSkipped(t *testing.T) {
	vm := machine.NewVM()
	loop, err := sched.New(vm, &fakeSink{})
	require.NoError(t, err)
	defer loop.Close()

	f := trivialFiber(t, vm)
	loop.Schedule(f, types.Nil, machine.SigOK)
	f.BumpSchedID() // invalidates the task queued above

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, loop.Run(ctx))
	require.Equal(t, machine.FiberNew, f.Status())
}

func TestLoopSupervisorReceivesTerminalEnvelope(t *testing.T) {
	vm := machine.NewVM()
	loop, err := sched.New(vm, &fakeSink{})
	require.NoError(t, err)
	defer loop.Close()

	f := trivialFiber(t, vm)
	f.SetMask(machine.MaskAll)
	sup := &recordingSupervisor{}
	loop.SetSupervisor(f, sup)
	loop.Schedule(f, types.Nil, machine.SigOK)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, loop.Run(ctx))
	require.Len(t, sup.envelopes, 1)
}

type recordingSupervisor struct{ envelopes []types.Value }

func (s *recordingSupervisor) PushEnvelope(v types.Value) error {
	s.envelopes = append(s.envelopes, v)
	return nil
}

func TestLoopWithConfigAppliesMaxPollWait(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()
	defer r.Close()

	vm := machine.NewVM()
	loop, err := sched.NewWithConfig(vm, &fakeSink{}, config.Loop{MaxPollWait: 10 * time.Millisecond})
	require.NoError(t, err)
	defer loop.Close()

	s, err := loop.NewStream(int(r.Fd()), true, false)
	require.NoError(t, err)

	reader := bodyFiber(vm, func(fr *machine.Fiber) (types.Value, error) {
		_, err := loop.AwaitRead(fr, s)
		return types.Nil, err
	})
	loop.Schedule(reader, types.Nil, machine.SigOK)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	// Nothing ever writes to the pipe, so without a cap the loop would
	// block in a single indefinite poller.Wait call; the 10ms MaxPollWait
	// keeps each poll short enough that Run notices the context deadline
	// within a handful of ticks instead of hanging past it.
	err = loop.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, machine.FiberAlive, reader.Status())
}

func TestTimerFiresSleep(t *testing.T) {
	vm := machine.NewVM()
	loop, err := sched.New(vm, &fakeSink{})
	require.NoError(t, err)
	defer loop.Close()

	f := trivialFiber(t, vm)
	loop.AddTimeout(f, 5*time.Millisecond, false)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, loop.Run(ctx))
	require.Equal(t, machine.FiberDead, f.Status())
}
