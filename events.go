package netmux

import "net"

// EventKind tags which user-visible event kind a NetEvent carries.
type EventKind uint8

const (
	// EventConnected is delivered once per successful or failed handshake,
	// always before any Message/Disconnected for the same Remote.
	EventConnected EventKind = iota
	// EventAccepted is delivered once a Local's accept produces a new
	// stream-transport Remote.
	EventAccepted
	// EventMessage is delivered once per application-level chunk.
	EventMessage
	// EventDisconnected is the terminal event for a ResourceId.
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "Connected"
	case EventAccepted:
		return "Accepted"
	case EventMessage:
		return "Message"
	case EventDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// Endpoint is the user-visible handle for an addressable peer: a
// ResourceId paired with the peer's network address. For connection
// oriented transports the id identifies one connection; for datagram
// transports the id may identify a shared listener and Addr distinguishes
// virtual peers.
type Endpoint struct {
	ID   ResourceId
	Addr net.Addr
}

func (e Endpoint) String() string {
	if e.Addr == nil {
		return e.ID.String()
	}
	return e.ID.String() + "@" + e.Addr.String()
}

// NetEvent is the event kind delivered to users through the Controller's
// event queue / Node facade.
type NetEvent struct {
	Kind     EventKind
	Endpoint Endpoint

	// Ok is meaningful only for EventConnected: false means the handshake
	// failed and the resource was deregistered before this event was built.
	Ok bool

	// ListenerID is meaningful only for EventAccepted: the Local that
	// produced this Remote.
	ListenerID ResourceId

	// Data is meaningful only for EventMessage.
	Data []byte
}
