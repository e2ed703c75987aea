//go:build linux

package netmux

import (
	"encoding/binary"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// PollEvent is what Poll.ProcessEvents hands to the reactor loop for every
// ready source in one pass.
type PollEvent struct {
	Waker     bool
	ID        ResourceId
	Readiness Readiness
}

// Poll is a thin, thread-safe wrapper over epoll. Registration is
// cloneable/shareable across goroutines: Add/Remove take their own lock and
// the generator handing out ResourceIds is itself atomic.
//
// Each registered source carries its ResourceId token (id<<1 | 1) in the
// epoll event's 64-bit user data, split across the Fd/Pad fields; token 0
// is the waker. The reactor can therefore tell waker wakeups from resource
// wakeups without any lookup.
type Poll struct {
	epfd int

	wakerFD int

	mu   sync.RWMutex
	byID map[ResourceId]int // ResourceId -> registered fd, for Modify/Remove
}

func epollData(token uint64) (fd, pad int32) {
	return int32(uint32(token)), int32(uint32(token >> 32))
}

func epollToken(ev unix.EpollEvent) uint64 {
	return uint64(uint32(ev.Fd)) | uint64(uint32(ev.Pad))<<32
}

// NewPoll creates an epoll instance plus an eventfd-backed waker.
func NewPoll() (*Poll, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakerFD, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	p := &Poll{epfd: epfd, wakerFD: wakerFD, byID: make(map[ResourceId]int)}
	// Waker token is 0 (both data fields zero).
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakerFD, &unix.EpollEvent{
		Events: unix.EPOLLIN,
	}); err != nil {
		unix.Close(wakerFD)
		unix.Close(epfd)
		return nil, err
	}
	return p, nil
}

// Add registers fd for read readiness (and write readiness if
// writeInterest is set) under id. The caller has already obtained id from
// the adapter's IdGenerator; Add only wires it into the poll set.
func (p *Poll) Add(fd int, id ResourceId, writeInterest bool) error {
	events := uint32(unix.EPOLLIN)
	if writeInterest {
		events |= unix.EPOLLOUT
	}
	dataFd, dataPad := epollData(id.token())
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: events,
		Fd:     dataFd,
		Pad:    dataPad,
	}); err != nil {
		return err
	}
	p.mu.Lock()
	p.byID[id] = fd
	p.mu.Unlock()
	return nil
}

// Modify updates the readiness interest for an already-registered id
// (e.g. a connecting TCP socket that needs EPOLLOUT only until the
// handshake resolves, then switches to EPOLLIN).
func (p *Poll) Modify(id ResourceId, writeInterest bool) error {
	p.mu.RLock()
	fd, ok := p.byID[id]
	p.mu.RUnlock()
	if !ok {
		return ErrResourceNotFound
	}
	events := uint32(unix.EPOLLIN)
	if writeInterest {
		events |= unix.EPOLLOUT
	}
	dataFd, dataPad := epollData(id.token())
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: events,
		Fd:     dataFd,
		Pad:    dataPad,
	})
}

// Remove deregisters id's fd from epoll.
func (p *Poll) Remove(id ResourceId) error {
	p.mu.Lock()
	fd, ok := p.byID[id]
	if ok {
		delete(p.byID, id)
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wake causes one in-flight or future ProcessEvents call to return a single
// Waker PollEvent promptly.
func (p *Poll) Wake() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(p.wakerFD, buf[:])
	return err
}

func (p *Poll) drainWaker() {
	var buf [8]byte
	for {
		_, err := unix.Read(p.wakerFD, buf[:])
		if err != nil {
			return
		}
	}
}

// ProcessEvents blocks up to timeout waiting for OS readiness, invoking f
// once per ready source. Interrupted syscalls retry transparently; other
// errors are returned to the caller.
func (p *Poll) ProcessEvents(timeout time.Duration, f func(PollEvent)) error {
	events := make([]unix.EpollEvent, 128)
	ms := int(timeout / time.Millisecond)
	if timeout > 0 && ms == 0 {
		ms = 1
	}
	n, err := unix.EpollWait(p.epfd, events, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}

	for i := 0; i < n; i++ {
		ev := events[i]
		token := epollToken(ev)
		if token == 0 {
			p.drainWaker()
			f(PollEvent{Waker: true})
			continue
		}
		id := ResourceId(token >> 1)
		var r Readiness
		if ev.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			r |= ReadReadiness
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			r |= WriteReadiness
		}
		f(PollEvent{ID: id, Readiness: r})
	}
	return nil
}

// Close releases the epoll and waker descriptors.
func (p *Poll) Close() error {
	err1 := unix.Close(p.wakerFD)
	err2 := unix.Close(p.epfd)
	if err1 != nil {
		return err1
	}
	return err2
}
