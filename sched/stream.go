package sched

import (
	"fmt"

	"github.com/lumenlang/lumen/machine"
	"github.com/lumenlang/lumen/types"
)

// Stream wraps an OS handle plus the flag set the loop tracks per
// descriptor: whether it's readable, writable, a listening socket, a UDP
// server, a plain socket, closed, or currently unregistered from the
// poller. Concrete socket/TLS construction is out of scope; a Stream is
// always built from an already-open file descriptor.
type Stream struct {
	Fd int

	Readable     bool
	Writable     bool
	Acceptable   bool
	UDPServer    bool
	Socket       bool
	Closed       bool
	Unregistered bool

	readFiber  *machine.Fiber
	writeFiber *machine.Fiber
}

var _ types.Value = (*Stream)(nil)

func (s *Stream) String() string    { return fmt.Sprintf("stream(fd=%d)", s.Fd) }
func (s *Stream) Type() string      { return "stream" }
func (s *Stream) Truth() types.Bool { return types.Bool(!s.Closed) }
func (s *Stream) Freeze()           {} // streams manage their own lifecycle, not value immutability

// NewStream registers fd with loop's poller for the interest flags set on
// s and returns it. Registration starts level-triggered and, if the loop's
// config.Loop.EdgeTriggered default is set, is immediately switched to
// edge-triggered mode (the caller must then drain fd to EAGAIN/EWOULDBLOCK
// on every readiness notification, per ModifyEdgeTriggered's contract).
func (l *Loop) NewStream(fd int, readable, writable bool) (*Stream, error) {
	s := &Stream{Fd: fd, Readable: readable, Writable: writable, Socket: true}
	if err := l.poller.Register(fd, readable, writable); err != nil {
		return nil, fmt.Errorf("sched: register stream fd %d: %w", fd, err)
	}
	if l.edgeTriggered {
		if err := l.poller.ModifyEdgeTriggered(fd, readable, writable); err != nil {
			l.poller.Unregister(fd)
			return nil, fmt.Errorf("sched: arm edge-triggered fd %d: %w", fd, err)
		}
	}
	l.streams[fd] = s
	return s, nil
}

// AwaitRead is the suspension point backing `ev_read`/`recv`/`recvfrom`: it
// registers fr as s's read_fiber and suspends it with `event`, blocking
// until the poller reports readiness, the stream is closed, or fr is
// cancelled. A second concurrent reader on the same stream is a
// programming error in the embedding host, not a recoverable condition.
func (l *Loop) AwaitRead(fr *machine.Fiber, s *Stream) (types.Value, error) {
	if s.readFiber != nil {
		return nil, machine.NewRuntimeError(machine.KindCustom, "stream fd %d already has a pending reader", s.Fd)
	}
	s.readFiber = fr
	v, err := fr.Suspend(machine.SigEvent, types.NewKeyword("event"))
	if err != nil {
		return nil, err
	}
	return UnwrapResume(v), nil
}

// AwaitWrite is the suspension point backing `ev_write`/`send`/`sendto`,
// symmetric with AwaitRead on the stream's write slot.
func (l *Loop) AwaitWrite(fr *machine.Fiber, s *Stream) (types.Value, error) {
	if s.writeFiber != nil {
		return nil, machine.NewRuntimeError(machine.KindCustom, "stream fd %d already has a pending writer", s.Fd)
	}
	s.writeFiber = fr
	v, err := fr.Suspend(machine.SigEvent, types.NewKeyword("event"))
	if err != nil {
		return nil, err
	}
	return UnwrapResume(v), nil
}

// CloseStream deregisters s from the poller and cancels any fiber still
// waiting on it deterministically, per the loop's "close while pending"
// rule.
func (l *Loop) CloseStream(s *Stream) error {
	if s.Closed {
		return nil
	}
	s.Closed = true
	if err := l.poller.Unregister(s.Fd); err != nil {
		return err
	}
	s.Unregistered = true
	if s.readFiber != nil {
		l.cancelFiber(s.readFiber, "stream closed")
		s.readFiber = nil
		l.NotifyWoken()
	}
	if s.writeFiber != nil {
		l.cancelFiber(s.writeFiber, "stream closed")
		s.writeFiber = nil
		l.NotifyWoken()
	}
	delete(l.streams, s.Fd)
	return nil
}
