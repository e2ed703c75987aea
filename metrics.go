package netmux

import (
	"context"
	"net"
	"sync/atomic"
	"time"
)

// Metrics is an interface for tracking engine-wide statistics. Drivers and
// the metrics-decorated adapters call Increment* as resources move through
// their lifecycle; collectors read back via Get*.
type Metrics interface {
	IncrementConnect()
	IncrementAccept()
	IncrementDisconnect()
	IncrementHandshakeFailure()
	IncrementMessagesSent()
	IncrementMessagesReceived()
	IncrementBytesSent(n int64)
	IncrementBytesReceived(n int64)

	GetConnectCount() int64
	GetAcceptCount() int64
	GetDisconnectCount() int64
	GetHandshakeFailureCount() int64
	GetMessagesSentCount() int64
	GetMessagesReceivedCount() int64
	GetBytesSent() int64
	GetBytesReceived() int64
}

// DefaultMetrics implements Metrics with atomic counters.
type DefaultMetrics struct {
	connects           int64
	accepts            int64
	disconnects        int64
	handshakeFailures  int64
	messagesSent       int64
	messagesReceived   int64
	bytesSent          int64
	bytesReceived      int64
}

// NewDefaultMetrics creates a new DefaultMetrics instance.
func NewDefaultMetrics() *DefaultMetrics { return &DefaultMetrics{} }

func (m *DefaultMetrics) IncrementConnect()              { atomic.AddInt64(&m.connects, 1) }
func (m *DefaultMetrics) IncrementAccept()               { atomic.AddInt64(&m.accepts, 1) }
func (m *DefaultMetrics) IncrementDisconnect()           { atomic.AddInt64(&m.disconnects, 1) }
func (m *DefaultMetrics) IncrementHandshakeFailure()     { atomic.AddInt64(&m.handshakeFailures, 1) }
func (m *DefaultMetrics) IncrementMessagesSent()         { atomic.AddInt64(&m.messagesSent, 1) }
func (m *DefaultMetrics) IncrementMessagesReceived()     { atomic.AddInt64(&m.messagesReceived, 1) }
func (m *DefaultMetrics) IncrementBytesSent(n int64)     { atomic.AddInt64(&m.bytesSent, n) }
func (m *DefaultMetrics) IncrementBytesReceived(n int64) { atomic.AddInt64(&m.bytesReceived, n) }

func (m *DefaultMetrics) GetConnectCount() int64          { return atomic.LoadInt64(&m.connects) }
func (m *DefaultMetrics) GetAcceptCount() int64           { return atomic.LoadInt64(&m.accepts) }
func (m *DefaultMetrics) GetDisconnectCount() int64       { return atomic.LoadInt64(&m.disconnects) }
func (m *DefaultMetrics) GetHandshakeFailureCount() int64 { return atomic.LoadInt64(&m.handshakeFailures) }
func (m *DefaultMetrics) GetMessagesSentCount() int64     { return atomic.LoadInt64(&m.messagesSent) }
func (m *DefaultMetrics) GetMessagesReceivedCount() int64 { return atomic.LoadInt64(&m.messagesReceived) }
func (m *DefaultMetrics) GetBytesSent() int64             { return atomic.LoadInt64(&m.bytesSent) }
func (m *DefaultMetrics) GetBytesReceived() int64         { return atomic.LoadInt64(&m.bytesReceived) }

// metricsRemote decorates a Remote, counting bytes/messages as they flow
// through Send/Receive.
type metricsRemote struct {
	Remote
	m Metrics
}

func newMetricsRemote(r Remote, m Metrics) Remote {
	if r == nil {
		return nil
	}
	return &metricsRemote{Remote: r, m: m}
}

func (r *metricsRemote) Send(data []byte) SendStatus {
	status := r.Remote.Send(data)
	if status == Sent {
		r.m.IncrementMessagesSent()
		r.m.IncrementBytesSent(int64(len(data)))
	}
	return status
}

func (r *metricsRemote) Receive(onData func([]byte)) ReadStatus {
	return r.Remote.Receive(func(data []byte) {
		r.m.IncrementMessagesReceived()
		r.m.IncrementBytesReceived(int64(len(data)))
		onData(data)
	})
}

// Ping forwards to the wrapped Remote when it supports keepalive probes,
// so wrapping with metrics never hides the capability from the engine's
// keepalive scan.
func (r *metricsRemote) Ping() SendStatus {
	if p, ok := r.Remote.(Pinger); ok {
		return p.Ping()
	}
	return Sent
}

// LastActive forwards to the wrapped Remote when it tracks idle time, so
// wrapping with metrics never hides a resource from the janitor's type
// assertion (see Engine.janitorLoop).
func (r *metricsRemote) LastActive() time.Time {
	if la, ok := r.Remote.(interface{ LastActive() time.Time }); ok {
		return la.LastActive()
	}
	return time.Time{}
}

// metricsLocal decorates a Local the same way for SendTo/Accept-delivered data.
type metricsLocal struct {
	Local
	m Metrics
}

func newMetricsLocal(l Local, m Metrics) Local {
	if l == nil {
		return nil
	}
	return &metricsLocal{Local: l, m: m}
}

func (l *metricsLocal) SendTo(addr net.Addr, data []byte) SendStatus {
	status := l.Local.SendTo(addr, data)
	if status == Sent {
		l.m.IncrementMessagesSent()
		l.m.IncrementBytesSent(int64(len(data)))
	}
	return status
}

func (l *metricsLocal) Accept(onAccepted func(Accepted)) ReadStatus {
	return l.Local.Accept(func(a Accepted) {
		switch a.Kind {
		case AcceptedData:
			l.m.IncrementMessagesReceived()
			l.m.IncrementBytesReceived(int64(len(a.Data)))
		case AcceptedRemote:
			a.Remote = newMetricsRemote(a.Remote, l.m)
		}
		onAccepted(a)
	})
}

// metricsAdapter decorates an Adapter so every Remote/Local it hands out is
// itself metrics-decorated.
type metricsAdapter struct {
	Adapter
	m Metrics
}

func newMetricsAdapter(a Adapter, m Metrics) Adapter {
	return &metricsAdapter{Adapter: a, m: m}
}

func (a *metricsAdapter) Connect(ctx context.Context, cfg *Config, remoteAddr string) (Remote, ConnectionInfo, error) {
	r, info, err := a.Adapter.Connect(ctx, cfg, remoteAddr)
	if err != nil {
		return nil, info, err
	}
	a.m.IncrementConnect()
	return newMetricsRemote(r, a.m), info, nil
}

func (a *metricsAdapter) Listen(ctx context.Context, cfg *Config, addr string) (Local, ListeningInfo, error) {
	l, info, err := a.Adapter.Listen(ctx, cfg, addr)
	if err != nil {
		return nil, info, err
	}
	return newMetricsLocal(l, a.m), info, nil
}
