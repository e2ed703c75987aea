package netmux

import "errors"

var (
	// ErrUnsupportedTransport is returned when Transport has no registered adapter.
	ErrUnsupportedTransport = errors.New("netmux: unsupported transport")
	// ErrAdapterNotRegistered names a loader slot with no driver. The Engine does not
	// return it: its Controller methods report that case as ErrUnsupportedTransport.
	ErrAdapterNotRegistered = errors.New("netmux: adapter not registered")
	// ErrResourceNotFound is returned when an operation references an unknown or removed ResourceId.
	ErrResourceNotFound = errors.New("netmux: resource not found")
	// ErrMaxPacketSizeExceeded is the error counterpart of the MaxPacketSizeExceeded
	// SendStatus; datagram sends report an oversized payload through that status, not this error.
	ErrMaxPacketSizeExceeded = errors.New("netmux: max packet size exceeded")
	// ErrAlreadyRunning is returned by Engine.Start when the reactor thread is already active.
	ErrAlreadyRunning = errors.New("netmux: engine already running")
	// ErrEngineStopped is returned by controller operations issued after Engine.Stop.
	ErrEngineStopped = errors.New("netmux: engine stopped")
	// ErrInvalidFrame is returned by the framing decoder when a declared length is unreasonable.
	ErrInvalidFrame = errors.New("netmux: invalid frame")
	// ErrHandshakeRejected is returned by Connect when an encrypted session's first handshake
	// message cannot be produced or written; a handshake that fails later surfaces as Connected{Ok: false}.
	ErrHandshakeRejected = errors.New("netmux: handshake rejected")
	// ErrInvalidConfig is returned when functional options produce a contradictory Config.
	ErrInvalidConfig = errors.New("netmux: invalid configuration")
	// ErrQueueClosed is returned by event queue senders after Close.
	ErrQueueClosed = errors.New("netmux: event queue closed")
)
