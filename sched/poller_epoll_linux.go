//go:build linux

package sched

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller is the Linux Poller implementation, backed by epoll(7) plus
// an eventfd used purely to interrupt a blocked Wait from another
// goroutine (Wake).
type epollPoller struct {
	epfd     int
	wakeFd   int
	eventBuf []unix.EpollEvent
}

// newPlatformPoller constructs the default Poller for the running
// platform.
func newPlatformPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("sched: epoll_create1: %w", err)
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("sched: eventfd: %w", err)
	}
	p := &epollPoller{epfd: epfd, wakeFd: wakeFd, eventBuf: make([]unix.EpollEvent, 64)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}); err != nil {
		p.Close()
		return nil, fmt.Errorf("sched: epoll_ctl(wakeFd): %w", err)
	}
	return p, nil
}

func interest(read, write bool) uint32 {
	var ev uint32
	if read {
		ev |= unix.EPOLLIN
	}
	if write {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (p *epollPoller) Register(fd int, read, write bool) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: interest(read, write), Fd: int32(fd)})
}

// ModifyEdgeTriggered re-arms fd for exactly one more readiness
// notification per interest bit (EPOLLET), requiring the caller to drain
// fd to EAGAIN before the next Wait can report it ready again.
func (p *epollPoller) ModifyEdgeTriggered(fd int, read, write bool) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Events: interest(read, write) | unix.EPOLLET, Fd: int32(fd)})
}

// ModifyLevelTriggered re-arms fd so Wait keeps reporting it ready on every
// call for as long as the underlying condition holds.
func (p *epollPoller) ModifyLevelTriggered(fd int, read, write bool) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Events: interest(read, write), Fd: int32(fd)})
}

func (p *epollPoller) Unregister(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) Wait(timeout time.Duration) ([]PollEvent, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	n, err := unix.EpollWait(p.epfd, p.eventBuf, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("sched: epoll_wait: %w", err)
	}
	out := make([]PollEvent, 0, n)
	for i := 0; i < n; i++ {
		ev := p.eventBuf[i]
		fd := int(ev.Fd)
		if fd == p.wakeFd {
			var buf [8]byte
			unix.Read(p.wakeFd, buf[:])
			continue
		}
		out = append(out, PollEvent{
			Fd:    fd,
			Read:  ev.Events&(unix.EPOLLIN|unix.EPOLLPRI) != 0,
			Write: ev.Events&unix.EPOLLOUT != 0,
			Err:   ev.Events&unix.EPOLLERR != 0,
			Hup:   ev.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0,
		})
	}
	return out, nil
}

func (p *epollPoller) Wake() error {
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(p.wakeFd, buf[:])
	return err
}

func (p *epollPoller) Close() error {
	unix.Close(p.wakeFd)
	return unix.Close(p.epfd)
}
