package netmux

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// tcpAdapter realizes the Tcp transport. A tcpRemote moves through
// connecting, ready, closed: connecting resolves once the socket reports no
// pending error, and any fatal read error or EOF closes it.
type tcpAdapter struct{}

func newTCPAdapter() *tcpAdapter { return &tcpAdapter{} }

func (tcpAdapter) Transport() Transport { return Tcp }

func (tcpAdapter) Connect(ctx context.Context, cfg *Config, remoteAddr string) (Remote, ConnectionInfo, error) {
	addr, err := net.ResolveTCPAddr("tcp", remoteAddr)
	if err != nil {
		return nil, ConnectionInfo{}, err
	}
	_, domain := sockaddrFromTCP(addr)
	fd, err := newStreamSocket(domain)
	if err != nil {
		return nil, ConnectionInfo{}, err
	}
	sa, _ := sockaddrFromTCP(addr)

	ready := true
	if err := unix.Connect(fd, sa); err != nil {
		if err == unix.EINPROGRESS {
			ready = false
		} else {
			unix.Close(fd)
			return nil, ConnectionInfo{}, err
		}
	}

	if cfg.tcpKeepAlive > 0 {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
		secs := int(cfg.tcpKeepAlive / time.Second)
		if secs < 1 {
			secs = 1
		}
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, secs)
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, secs)
	}

	local := localTCPAddr(fd)
	r := newTCPRemote(fd, local, addr, cfg.readBufferSize)
	return r, ConnectionInfo{Local: local, Peer: addr, Ready: ready}, nil
}

func (tcpAdapter) Listen(ctx context.Context, cfg *Config, addr string) (Local, ListeningInfo, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, ListeningInfo{}, err
	}
	_, domain := sockaddrFromTCP(tcpAddr)
	fd, err := newStreamSocket(domain)
	if err != nil {
		return nil, ListeningInfo{}, err
	}
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	sa, _ := sockaddrFromTCP(tcpAddr)
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, ListeningInfo{}, err
	}
	if err := unix.Listen(fd, 1024); err != nil {
		unix.Close(fd)
		return nil, ListeningInfo{}, err
	}
	bound := localTCPAddr(fd)
	return &tcpLocal{fd: fd, addr: bound, readBufferSize: cfg.readBufferSize}, ListeningInfo{Bound: bound}, nil
}

func localTCPAddr(fd int) *net.TCPAddr {
	sa, err := getsockname(fd)
	if err != nil {
		return &net.TCPAddr{}
	}
	return tcpAddrFromSockaddr(sa)
}

// tcpRemote is the per-connection resource. lastActive is updated on every
// successful read, used by the janitor's idle scan.
type tcpRemote struct {
	fd    int
	local net.Addr
	peer  net.Addr
	buf   []byte

	lastActive atomic.Int64 // unix nano
}

func newTCPRemote(fd int, local, peer net.Addr, bufSize int) *tcpRemote {
	r := &tcpRemote{fd: fd, local: local, peer: peer, buf: make([]byte, bufSize)}
	r.lastActive.Store(time.Now().UnixNano())
	return r
}

func (r *tcpRemote) LastActive() time.Time { return time.Unix(0, r.lastActive.Load()) }

func (r *tcpRemote) Pending(readiness Readiness) PendingStatus {
	errno, err := unix.GetsockoptInt(r.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil || errno != 0 {
		return HandshakeDisconnected
	}
	return ReadyStatus
}

func (r *tcpRemote) Receive(onData func([]byte)) ReadStatus {
	for {
		n, err := unix.Read(r.fd, r.buf)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if isWouldBlock(err) {
				return WaitNextEvent
			}
			return ReadDisconnected
		}
		if n == 0 {
			return ReadDisconnected
		}
		r.lastActive.Store(time.Now().UnixNano())
		chunk := make([]byte, n)
		copy(chunk, r.buf[:n])
		onData(chunk)
	}
}

func (r *tcpRemote) Send(data []byte) SendStatus {
	for len(data) > 0 {
		n, err := unix.Write(r.fd, data)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if isWouldBlock(err) {
				time.Sleep(time.Millisecond)
				continue
			}
			return SendResourceNotFound
		}
		data = data[n:]
	}
	r.lastActive.Store(time.Now().UnixNano())
	return Sent
}

func (r *tcpRemote) LocalAddr() net.Addr { return r.local }
func (r *tcpRemote) PeerAddr() net.Addr  { return r.peer }
func (r *tcpRemote) FD() int             { return r.fd }
func (r *tcpRemote) Close() error        { return unix.Close(r.fd) }

// tcpLocal is the listening resource.
type tcpLocal struct {
	fd             int
	addr           net.Addr
	readBufferSize int
}

func (l *tcpLocal) Accept(onAccepted func(Accepted)) ReadStatus {
	for {
		fd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if isWouldBlock(err) {
				return WaitNextEvent
			}
			return WaitNextEvent
		}
		peer := tcpAddrFromSockaddr(sa)
		local := localTCPAddr(fd)
		remote := newTCPRemote(fd, local, peer, l.readBufferSize)
		onAccepted(Accepted{Kind: AcceptedRemote, Addr: peer, Remote: remote, Ready: true})
	}
}

func (l *tcpLocal) SendTo(addr net.Addr, data []byte) SendStatus { return SendResourceNotFound }
func (l *tcpLocal) LocalAddr() net.Addr                          { return l.addr }
func (l *tcpLocal) FD() int                                      { return l.fd }
func (l *tcpLocal) Close() error                                 { return unix.Close(l.fd) }
