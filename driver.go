package netmux

import (
	"context"
	"net"
)

// remoteEntry augments a Remote with the bookkeeping the driver needs to
// resolve its handshake exactly once.
type remoteEntry struct {
	remote    Remote
	ready     bool
	delivered bool // Connected already emitted
}

// localEntry wraps a Local purely for symmetry with remoteEntry; datagram
// transports need no extra bookkeeping beyond the Local itself.
type localEntry struct {
	local Local
}

// driver glues one Adapter to its two registries and the shared Poll. It
// implements both ActionController (producer-thread entry points) and
// EventProcessor (reactor-thread dispatch).
type driver struct {
	adapter   Adapter
	transport Transport
	poll      *Poll
	cfg       *Config

	ids     *IdGenerator
	remotes *ResourceRegistry[*remoteEntry]
	locals  *ResourceRegistry[*localEntry]
}

func newDriver(adapterID uint8, adapter Adapter, poll *Poll, cfg *Config) *driver {
	return &driver{
		adapter:   adapter,
		transport: Transport(adapterID),
		poll:      poll,
		cfg:       cfg,
		ids:       NewIdGenerator(adapterID),
		remotes:   NewResourceRegistry[*remoteEntry](),
		locals:    NewResourceRegistry[*localEntry](),
	}
}

// encrypts reports whether WithEncryption applies to this adapter's
// Remotes. UDP has no connection to authenticate a session against, so
// encryption is a stream-transport-only feature.
func (d *driver) encrypts() bool { return d.cfg.encryption && d.transport != Udp }

// connect realizes Controller.connect for this adapter. A Remote that is
// ready at creation (UDP, or a TCP connect that completed without
// EINPROGRESS) never produces a readiness event for its handshake, so its
// Connected is emitted here instead of in process.
func (d *driver) connect(ctx context.Context, remoteAddr string, emit func(NetEvent)) (Endpoint, net.Addr, error) {
	remote, info, err := d.adapter.Connect(ctx, d.cfg, remoteAddr)
	if err != nil {
		return Endpoint{}, nil, err
	}
	if d.encrypts() {
		nr, err := newNoiseRemote(remote, true, info.Ready)
		if err != nil {
			remote.Close()
			return Endpoint{}, nil, err
		}
		remote = nr
		info.Ready = false
	}
	id := d.ids.Next(KindRemote)
	entry := &remoteEntry{remote: remote, ready: info.Ready, delivered: info.Ready}
	d.remotes.Register(id, entry, func(e *remoteEntry) error { return e.remote.Close() })
	if err := d.poll.Add(remote.FD(), id, !info.Ready); err != nil {
		d.remotes.Deregister(id)
		return Endpoint{}, nil, err
	}
	endpoint := Endpoint{ID: id, Addr: info.Peer}
	if info.Ready {
		emit(NetEvent{Kind: EventConnected, Endpoint: endpoint, Ok: true})
	}
	return endpoint, info.Local, nil
}

// listen realizes Controller.listen for this adapter.
func (d *driver) listen(ctx context.Context, addr string) (ResourceId, net.Addr, error) {
	local, info, err := d.adapter.Listen(ctx, d.cfg, addr)
	if err != nil {
		return 0, nil, err
	}
	id := d.ids.Next(KindLocal)
	entry := &localEntry{local: local}
	d.locals.Register(id, entry, func(e *localEntry) error { return e.local.Close() })
	if err := d.poll.Add(local.FD(), id, false); err != nil {
		d.locals.Deregister(id)
		return 0, nil, err
	}
	return id, info.Bound, nil
}

// send realizes Controller.send for an Endpoint belonging to this adapter.
func (d *driver) send(endpoint Endpoint, data []byte) SendStatus {
	if reg, ok := d.remotes.Get(endpoint.ID); ok {
		defer reg.Release()
		return reg.Resource().remote.Send(data)
	}
	if reg, ok := d.locals.Get(endpoint.ID); ok {
		defer reg.Release()
		return reg.Resource().local.SendTo(endpoint.Addr, data)
	}
	return SendResourceNotFound
}

// remove realizes Controller.remove: deregistering from whichever registry
// (if any) currently holds id. Returns whether id existed.
func (d *driver) remove(id ResourceId) bool {
	switch id.Kind() {
	case KindRemote:
		if ok := d.remotes.Deregister(id); ok {
			_ = d.poll.Remove(id)
			return true
		}
		return false
	default:
		if ok := d.locals.Deregister(id); ok {
			_ = d.poll.Remove(id)
			return true
		}
		return false
	}
}

// isReady reports the last known handshake state of a Remote, or nil if id
// is not a currently-registered Remote.
func (d *driver) isReady(id ResourceId) *bool {
	reg, ok := d.remotes.Get(id)
	if !ok {
		return nil
	}
	defer reg.Release()
	ready := reg.Resource().ready
	return &ready
}

// process dispatches one readiness event for id, emitting zero or more
// NetEvents via emit. Ordering guarantee: within one call, all
// bytes readable at this moment for this one resource are drained before
// returning, so the caller may move on to the next ready resource without
// starving partial messages.
func (d *driver) process(id ResourceId, readiness Readiness, emit func(NetEvent)) {
	if id.Kind() == KindRemote {
		d.processRemote(id, readiness, emit)
		return
	}
	d.processLocal(id, readiness, emit)
}

func (d *driver) processRemote(id ResourceId, readiness Readiness, emit func(NetEvent)) {
	reg, ok := d.remotes.Get(id)
	if !ok {
		return
	}
	defer reg.Release()
	entry := reg.Resource()

	if !entry.ready {
		switch entry.remote.Pending(readiness) {
		case Incomplete:
			return
		case HandshakeDisconnected:
			d.remotes.Deregister(id)
			_ = d.poll.Remove(id)
			d.cfg.metrics.IncrementHandshakeFailure()
			d.cfg.logger.Warnf("%s handshake failed for %s", d.transport, id)
			emit(NetEvent{Kind: EventConnected, Endpoint: Endpoint{ID: id, Addr: entry.remote.PeerAddr()}, Ok: false})
			return
		case ReadyStatus:
			entry.ready = true
			_ = d.poll.Modify(id, false)
			if !entry.delivered {
				entry.delivered = true
				emit(NetEvent{Kind: EventConnected, Endpoint: Endpoint{ID: id, Addr: entry.remote.PeerAddr()}, Ok: true})
			}
		}
	} else if !entry.delivered {
		entry.delivered = true
		emit(NetEvent{Kind: EventConnected, Endpoint: Endpoint{ID: id, Addr: entry.remote.PeerAddr()}, Ok: true})
	}

	if !readiness.Readable() {
		return
	}

	status := entry.remote.Receive(func(data []byte) {
		emit(NetEvent{Kind: EventMessage, Endpoint: Endpoint{ID: id, Addr: entry.remote.PeerAddr()}, Data: data})
	})
	if status == ReadDisconnected {
		d.remotes.Deregister(id)
		_ = d.poll.Remove(id)
		d.cfg.metrics.IncrementDisconnect()
		d.cfg.logger.Debugf("%s peer %s disconnected", d.transport, id)
		emit(NetEvent{Kind: EventDisconnected, Endpoint: Endpoint{ID: id, Addr: entry.remote.PeerAddr()}})
	}
}

func (d *driver) processLocal(id ResourceId, readiness Readiness, emit func(NetEvent)) {
	reg, ok := d.locals.Get(id)
	if !ok {
		return
	}
	defer reg.Release()
	entry := reg.Resource()

	entry.local.Accept(func(a Accepted) {
		switch a.Kind {
		case AcceptedRemote:
			remote := a.Remote
			ready := a.Ready
			if d.encrypts() {
				nr, err := newNoiseRemote(remote, false, true)
				if err != nil {
					remote.Close()
					return
				}
				remote = nr
				ready = false
			}
			rid := d.ids.Next(KindRemote)
			re := &remoteEntry{remote: remote, ready: ready}
			d.remotes.Register(rid, re, func(e *remoteEntry) error { return e.remote.Close() })
			// Accepted sockets are already established; any remaining
			// handshake (e.g. an encrypted session) is read-driven, so no
			// write interest is needed.
			if err := d.poll.Add(remote.FD(), rid, false); err != nil {
				d.remotes.Deregister(rid)
				return
			}
			d.cfg.metrics.IncrementAccept()
			if ready {
				re.delivered = true
				emit(NetEvent{Kind: EventAccepted, Endpoint: Endpoint{ID: rid, Addr: a.Addr}, ListenerID: id})
				emit(NetEvent{Kind: EventConnected, Endpoint: Endpoint{ID: rid, Addr: a.Addr}, Ok: true})
			} else {
				emit(NetEvent{Kind: EventAccepted, Endpoint: Endpoint{ID: rid, Addr: a.Addr}, ListenerID: id})
			}
		case AcceptedData:
			emit(NetEvent{Kind: EventMessage, Endpoint: Endpoint{ID: id, Addr: a.Addr}, Data: a.Data})
		}
	})
}
