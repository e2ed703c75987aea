package netmux

import (
	"context"
	"net"
)

// Readiness is the set of OS-reported readiness conditions for a registered
// source. Both may be set for a single source in one poll pass.
type Readiness uint8

const (
	ReadReadiness Readiness = 1 << iota
	WriteReadiness
)

func (r Readiness) Readable() bool { return r&ReadReadiness != 0 }
func (r Readiness) Writable() bool { return r&WriteReadiness != 0 }

// ReadStatus is returned by Remote.Receive after it has drained everything
// immediately available on the socket.
type ReadStatus uint8

const (
	// WaitNextEvent means the socket would now block; wait for the next
	// readiness notification.
	WaitNextEvent ReadStatus = iota
	// ReadDisconnected means the peer closed the connection or a fatal I/O
	// error was observed; the resource must be deregistered.
	ReadDisconnected
)

// SendStatus is returned by Remote.Send / Local.SendTo.
type SendStatus uint8

const (
	// Sent means every byte was handed to the OS successfully.
	Sent SendStatus = iota
	// MaxPacketSizeExceeded means a datagram payload exceeds the transport MTU.
	MaxPacketSizeExceeded
	// SendResourceNotFound means the target id is unknown or in an error state.
	SendResourceNotFound
)

func (s SendStatus) String() string {
	switch s {
	case Sent:
		return "sent"
	case MaxPacketSizeExceeded:
		return "max packet size exceeded"
	case SendResourceNotFound:
		return "resource not found"
	default:
		return "unknown"
	}
}

// PendingStatus is returned by Remote.Pending while a connection is still
// establishing (handshake in flight).
type PendingStatus uint8

const (
	// Incomplete means the handshake has not resolved; keep polling.
	Incomplete PendingStatus = iota
	// ReadyStatus means the handshake succeeded; deliver Connected(ok=true).
	ReadyStatus
	// HandshakeDisconnected means the handshake failed; deliver Connected(ok=false).
	HandshakeDisconnected
)

// ConnectionInfo is returned by Remote.Connect.
type ConnectionInfo struct {
	Local  net.Addr
	Peer   net.Addr
	Ready  bool // true for UDP, WS and a TCP connect that completed at once; false while a TCP connect is in progress
}

// ListeningInfo is returned by Local.Listen.
type ListeningInfo struct {
	Bound net.Addr
}

// Accepted is what Local.Accept reports for one pending item. Exactly one of
// the two shapes is populated, selected by Kind.
type Accepted struct {
	Kind AcceptedKind
	Addr net.Addr

	// Stream-transport case: a freshly accepted peer connection.
	Remote Remote
	Ready  bool

	// Datagram-transport case: one inbound message, keyed by sender address.
	Data []byte
}

// AcceptedKind tags which half of Accepted is populated.
type AcceptedKind uint8

const (
	AcceptedRemote AcceptedKind = iota
	AcceptedData
)

// Remote is the per-peer resource every stream or datagram adapter realizes.
// Implementations are not required to be safe for concurrent use from two
// goroutines simultaneously calling Receive, but Send may run concurrently
// with Receive/Pending.
type Remote interface {
	// Receive drains the socket, invoking onData once per application-level
	// chunk, until the socket would block (WaitNextEvent) or the peer is
	// gone (ReadDisconnected).
	Receive(onData func([]byte)) ReadStatus
	// Send writes data to the peer.
	Send(data []byte) SendStatus
	// Pending reports handshake progress; called before a Connecting
	// resource is surfaced to the user. Adapters that are ready immediately
	// (UDP) always return ReadyStatus.
	Pending(readiness Readiness) PendingStatus
	// LocalAddr and PeerAddr mirror net.Conn for user-facing introspection.
	LocalAddr() net.Addr
	PeerAddr() net.Addr
	// FD exposes the underlying descriptor for poll registration.
	FD() int
	// Close releases the OS resource. Called at most once, after
	// deregistration, with no in-flight Receive/Send guaranteed (registry
	// enforces this via its ref-count, see registry.go).
	Close() error
}

// Pinger is an optional capability a Remote may implement: transports with
// an in-band probe that the peer swallows without surfacing a Message
// (FramedTcp's zero-length frame, Ws's ping control frame) expose it so the
// engine can drive a keepalive cadence.
type Pinger interface {
	Ping() SendStatus
}

// Local is the listening/bound resource a stream or datagram adapter
// realizes.
type Local interface {
	// Accept drains pending connections/datagrams, invoking onAccepted once
	// per item.
	Accept(onAccepted func(Accepted)) ReadStatus
	// SendTo is implemented only by datagram transports that can send from
	// a bound listener without a dedicated per-peer socket.
	SendTo(addr net.Addr, data []byte) SendStatus
	LocalAddr() net.Addr
	FD() int
	Close() error
}

// RemoteConnector is implemented once per adapter to create an active
// (connecting/connected) Remote.
type RemoteConnector interface {
	Connect(ctx context.Context, cfg *Config, remoteAddr string) (Remote, ConnectionInfo, error)
}

// LocalListener is implemented once per adapter to create a Local.
type LocalListener interface {
	Listen(ctx context.Context, cfg *Config, addr string) (Local, ListeningInfo, error)
}

// Adapter bundles the two construction entry points an adapter must supply;
// the concrete Remote/Local types returned carry the rest of the contract.
type Adapter interface {
	RemoteConnector
	LocalListener
	// Transport identifies which enum value this adapter realizes.
	Transport() Transport
}
