package netmux

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// udpAdapter realizes the Udp transport: datagram Remotes are always ready
// immediately, and the Local
// reports inbound datagrams from unconnected peers through Accept and
// replies to them via SendTo.
type udpAdapter struct{}

func newUDPAdapter() *udpAdapter { return &udpAdapter{} }

func (udpAdapter) Transport() Transport { return Udp }

func (udpAdapter) Connect(ctx context.Context, cfg *Config, remoteAddr string) (Remote, ConnectionInfo, error) {
	addr, err := net.ResolveUDPAddr("udp", remoteAddr)
	if err != nil {
		return nil, ConnectionInfo{}, err
	}
	_, domain := sockaddrFromUDP(addr)
	fd, err := newDatagramSocket(domain)
	if err != nil {
		return nil, ConnectionInfo{}, err
	}
	sa, _ := sockaddrFromUDP(addr)
	if err := unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		return nil, ConnectionInfo{}, err
	}
	local := localUDPAddr(fd)
	r := newUDPRemote(fd, local, addr, cfg.datagramBufferSize)
	return r, ConnectionInfo{Local: local, Peer: addr, Ready: true}, nil
}

func (udpAdapter) Listen(ctx context.Context, cfg *Config, addr string) (Local, ListeningInfo, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, ListeningInfo{}, err
	}
	_, domain := sockaddrFromUDP(udpAddr)
	fd, err := newDatagramSocket(domain)
	if err != nil {
		return nil, ListeningInfo{}, err
	}
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)

	sa, _ := sockaddrFromUDP(udpAddr)
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, ListeningInfo{}, err
	}
	if udpAddr.IP != nil && udpAddr.IP.IsMulticast() {
		if err := joinMulticast(fd, udpAddr); err != nil {
			unix.Close(fd)
			return nil, ListeningInfo{}, err
		}
	}
	bound := localUDPAddr(fd)
	return &udpLocal{fd: fd, addr: bound, readBufferSize: cfg.datagramBufferSize}, ListeningInfo{Bound: bound}, nil
}

func joinMulticast(fd int, group *net.UDPAddr) error {
	if ip4 := group.IP.To4(); ip4 != nil {
		mreq := &unix.IPMreq{}
		copy(mreq.Multiaddr[:], ip4)
		return unix.SetsockoptIPMreq(fd, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq)
	}
	mreq := &unix.IPv6Mreq{}
	copy(mreq.Multiaddr[:], group.IP.To16())
	return unix.SetsockoptIPv6Mreq(fd, unix.IPPROTO_IPV6, unix.IPV6_JOIN_GROUP, mreq)
}

func localUDPAddr(fd int) *net.UDPAddr {
	sa, err := getsockname(fd)
	if err != nil {
		return &net.UDPAddr{}
	}
	return udpAddrFromSockaddr(sa)
}

// udpRemote is a connected datagram socket: the kernel filters inbound
// packets to the connect()-ed peer, and Send needs no destination address.
type udpRemote struct {
	fd    int
	local net.Addr
	peer  net.Addr
	buf   []byte

	lastActive atomic.Int64
}

func newUDPRemote(fd int, local, peer net.Addr, bufSize int) *udpRemote {
	r := &udpRemote{fd: fd, local: local, peer: peer, buf: make([]byte, bufSize)}
	r.lastActive.Store(time.Now().UnixNano())
	return r
}

func (r *udpRemote) LastActive() time.Time { return time.Unix(0, r.lastActive.Load()) }

// Pending always resolves immediately: UDP has no handshake.
func (r *udpRemote) Pending(Readiness) PendingStatus { return ReadyStatus }

func (r *udpRemote) Receive(onData func([]byte)) ReadStatus {
	for {
		n, err := unix.Read(r.fd, r.buf)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if isWouldBlock(err) {
				return WaitNextEvent
			}
			// ICMP port-unreachable surfaces as ECONNREFUSED on a connected
			// UDP socket; treat it like any other transient would-block
			// rather than tearing the resource down, since UDP has no
			// notion of peer-initiated close.
			if err == unix.ECONNREFUSED {
				continue
			}
			return WaitNextEvent
		}
		r.lastActive.Store(time.Now().UnixNano())
		chunk := make([]byte, n)
		copy(chunk, r.buf[:n])
		onData(chunk)
	}
}

func (r *udpRemote) Send(data []byte) SendStatus {
	if len(data) > len(r.buf) {
		return MaxPacketSizeExceeded
	}
	_, err := unix.Write(r.fd, data)
	if err != nil && !isWouldBlock(err) {
		return SendResourceNotFound
	}
	r.lastActive.Store(time.Now().UnixNano())
	return Sent
}

func (r *udpRemote) LocalAddr() net.Addr { return r.local }
func (r *udpRemote) PeerAddr() net.Addr  { return r.peer }
func (r *udpRemote) FD() int             { return r.fd }
func (r *udpRemote) Close() error        { return unix.Close(r.fd) }

// udpLocal is an unconnected, bound datagram socket: Accept reports each
// inbound datagram tagged with its sender address (AcceptedData) rather
// than minting a new per-peer Remote.
type udpLocal struct {
	fd             int
	addr           net.Addr
	readBufferSize int
	buf            []byte
}

func (l *udpLocal) Accept(onAccepted func(Accepted)) ReadStatus {
	if l.buf == nil {
		l.buf = make([]byte, l.readBufferSize)
	}
	for {
		n, from, err := unix.Recvfrom(l.fd, l.buf, 0)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if isWouldBlock(err) {
				return WaitNextEvent
			}
			return WaitNextEvent
		}
		addr := udpAddrFromSockaddr(from)
		data := make([]byte, n)
		copy(data, l.buf[:n])
		onAccepted(Accepted{Kind: AcceptedData, Addr: addr, Data: data})
	}
}

func (l *udpLocal) SendTo(addr net.Addr, data []byte) SendStatus {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return SendResourceNotFound
	}
	sa, _ := sockaddrFromUDP(udpAddr)
	if err := unix.Sendto(l.fd, data, 0, sa); err != nil && !isWouldBlock(err) {
		return SendResourceNotFound
	}
	return Sent
}

func (l *udpLocal) LocalAddr() net.Addr { return l.addr }
func (l *udpLocal) FD() int             { return l.fd }
func (l *udpLocal) Close() error        { return unix.Close(l.fd) }
