package netmux

import (
	"net"

	"golang.org/x/sys/unix"
)

// This file holds the raw-syscall plumbing shared by the stream/datagram
// adapters. netmux manages its own epoll registration (poll_linux.go), so
// sockets are created and driven directly through golang.org/x/sys/unix
// rather than through net.Conn/net.Listener: handing a net.Conn's fd to a
// second epoll instance would fight the Go runtime's own netpoller over the
// same descriptor.

func sockaddrFromTCP(a *net.TCPAddr) (unix.Sockaddr, int) {
	if ip4 := a.IP.To4(); ip4 != nil {
		var sa unix.SockaddrInet4
		sa.Port = a.Port
		copy(sa.Addr[:], ip4)
		return &sa, unix.AF_INET
	}
	var sa unix.SockaddrInet6
	sa.Port = a.Port
	copy(sa.Addr[:], a.IP.To16())
	return &sa, unix.AF_INET6
}

func sockaddrFromUDP(a *net.UDPAddr) (unix.Sockaddr, int) {
	if ip4 := a.IP.To4(); ip4 != nil {
		var sa unix.SockaddrInet4
		sa.Port = a.Port
		copy(sa.Addr[:], ip4)
		return &sa, unix.AF_INET
	}
	var sa unix.SockaddrInet6
	sa.Port = a.Port
	copy(sa.Addr[:], a.IP.To16())
	return &sa, unix.AF_INET6
}

func tcpAddrFromSockaddr(sa unix.Sockaddr) *net.TCPAddr {
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, net.IPv4len)
		copy(ip, s.Addr[:])
		return &net.TCPAddr{IP: ip, Port: s.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, s.Addr[:])
		return &net.TCPAddr{IP: ip, Port: s.Port}
	}
	return &net.TCPAddr{}
}

func udpAddrFromSockaddr(sa unix.Sockaddr) *net.UDPAddr {
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, net.IPv4len)
		copy(ip, s.Addr[:])
		return &net.UDPAddr{IP: ip, Port: s.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, s.Addr[:])
		return &net.UDPAddr{IP: ip, Port: s.Port}
	}
	return &net.UDPAddr{}
}

// newStreamSocket creates a non-blocking TCP socket bound to no particular
// address yet.
func newStreamSocket(domain int) (int, error) {
	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, err
	}
	return fd, nil
}

// newDatagramSocket creates a non-blocking UDP socket.
func newDatagramSocket(domain int) (int, error) {
	fd, err := unix.Socket(domain, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_UDP)
	if err != nil {
		return -1, err
	}
	return fd, nil
}

func getsockname(fd int) (unix.Sockaddr, error) { return unix.Getsockname(fd) }

func isWouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}
