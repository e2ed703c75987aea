package netmux

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Controller is the producer-thread-facing API: any number of goroutines
// may call these concurrently while the reactor thread runs.
type Controller interface {
	// Connect opens a Remote on the given transport. remoteAddr is a
	// host:port pair for Udp/Tcp/FramedTcp, or a ws://host:port/path URL
	// for Ws. The returned Endpoint may not be ready yet; watch for
	// EventConnected on the event queue, or use ConnectSync.
	Connect(transport Transport, remoteAddr string) (Endpoint, net.Addr, error)
	// ConnectSync is Connect but blocks until the handshake resolves
	// (Ready or Disconnected). For UDP it returns immediately: a connected
	// datagram socket has no handshake, so under loss subsequent sends may
	// silently drop.
	ConnectSync(transport Transport, remoteAddr string) (Endpoint, net.Addr, error)
	// Listen binds addr on the given transport.
	Listen(transport Transport, addr string) (ResourceId, net.Addr, error)
	// Send writes data to endpoint.
	Send(endpoint Endpoint, data []byte) SendStatus
	// Remove deregisters id; the reactor emits no new events for it once it
	// is deregistered. Events for id already on the event queue, or emitted
	// by a read that was in progress when Remove ran, are still delivered.
	Remove(id ResourceId) bool
	// IsReady reports whether id (a Remote) has completed its handshake, or
	// nil if id is not a currently-registered Remote.
	IsReady(id ResourceId) *bool
}

// loaderSlot is either a live driver or a panicking stub for an
// unregistered adapter id, so any misuse is loud.
type loaderSlot struct {
	driver *driver
}

func (s loaderSlot) mustDriver(t Transport) *driver {
	if s.driver == nil {
		panic("netmux: no driver registered for transport " + t.String())
	}
	return s.driver
}

// Engine owns the reactor thread, the per-adapter driver table, and the
// event queue every NetEvent is funneled into.
type Engine struct {
	ID string

	cfg  *Config
	poll *Poll

	loaders [adapterCount]loaderSlot

	events *EventQueue[NetEvent]

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	janitorStop chan struct{}
}

// NewEngine builds an engine with drivers wired for all four built-in
// transports. Call Start to spawn the reactor thread.
func NewEngine(opts ...Option) (*Engine, error) {
	cfg, err := applyConfig(opts)
	if err != nil {
		return nil, err
	}
	poll, err := NewPoll()
	if err != nil {
		return nil, err
	}
	e := &Engine{
		ID:     uuid.NewString(),
		cfg:    cfg,
		poll:   poll,
		events: NewEventQueue[NetEvent](),
	}
	e.register(Udp, newUDPAdapter())
	e.register(Tcp, newTCPAdapter())
	e.register(FramedTcp, newFramedTCPAdapter())
	e.register(Ws, newWSAdapter())
	return e, nil
}

func (e *Engine) register(t Transport, a Adapter) {
	wrapped := newMetricsAdapter(a, e.cfg.metrics)
	e.loaders[int(t)] = loaderSlot{driver: newDriver(uint8(t), wrapped, e.poll, e.cfg)}
}

func (e *Engine) driverFor(t Transport) (*driver, error) {
	if int(t) >= adapterCount || e.loaders[int(t)].driver == nil {
		return nil, ErrUnsupportedTransport
	}
	return e.loaders[int(t)].driver, nil
}

// Events returns the engine's event queue for direct consumption, or to be
// fused with a Node facade.
func (e *Engine) Events() *EventQueue[NetEvent] { return e.events }

// Start spawns the single reactor thread.
func (e *Engine) Start() error {
	if e.running.Load() {
		return ErrAlreadyRunning
	}
	e.running.Store(true)
	e.stopCh = make(chan struct{})
	e.janitorStop = make(chan struct{})
	e.wg.Add(3)
	go e.reactorLoop()
	go e.janitorLoop()
	go e.keepaliveLoop()
	e.cfg.logger.Infof("engine %s started", e.ID)
	return nil
}

// Stop signals the reactor and janitor threads to exit and joins them.
// No new events are delivered after Stop returns.
func (e *Engine) Stop() {
	if !e.running.Load() {
		return
	}
	e.running.Store(false)
	e.cfg.cancel()
	close(e.stopCh)
	close(e.janitorStop)
	_ = e.poll.Wake()
	e.wg.Wait()
	_ = e.poll.Close()
	e.events.Close()
	e.cfg.logger.Infof("engine %s stopped", e.ID)
}

// keepaliveLoop drives the ping cadence for Remotes whose transport has an
// in-band probe (see Pinger). Plain Tcp relies on the OS-level keepalive
// enabled by WithTCPKeepAlive instead.
func (e *Engine) keepaliveLoop() {
	defer e.wg.Done()
	if e.cfg.pingInterval <= 0 {
		<-e.janitorStop
		return
	}
	ticker := time.NewTicker(e.cfg.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.janitorStop:
			return
		case <-ticker.C:
		}
		for t := Transport(0); int(t) < adapterCount; t++ {
			drv := e.loaders[int(t)].driver
			if drv == nil {
				continue
			}
			drv.remotes.Range(func(id ResourceId, entry *remoteEntry) {
				if !entry.ready {
					return
				}
				if p, ok := entry.remote.(Pinger); ok {
					if p.Ping() != Sent {
						e.cfg.logger.Debugf("keepalive ping failed for %s", id)
					}
				}
			})
		}
	}
}

func (e *Engine) reactorLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		default:
		}
		_ = e.poll.ProcessEvents(e.cfg.pollTimeout, func(ev PollEvent) {
			if ev.Waker {
				return
			}
			t := Transport(ev.ID.AdapterID())
			drv := e.loaders[int(t)].mustDriver(t)
			drv.process(ev.ID, ev.Readiness, func(ne NetEvent) {
				_ = e.events.Send(ne)
			})
		})
	}
}

// janitorLoop periodically force-disconnects Remotes that have gone silent
// past cfg.idleTimeout, emitting Disconnected the normal way.
func (e *Engine) janitorLoop() {
	defer e.wg.Done()
	if e.cfg.idleTimeout <= 0 {
		<-e.janitorStop
		return
	}
	backoff := newAdaptiveBackoff(DefaultJanitorFastInterval, e.cfg.janitorInterval)
	for {
		select {
		case <-e.janitorStop:
			return
		default:
		}
		for t := Transport(0); int(t) < adapterCount; t++ {
			drv := e.loaders[int(t)].driver
			if drv == nil {
				continue
			}
			now := time.Now()
			var stale []ResourceId
			drv.remotes.Range(func(id ResourceId, entry *remoteEntry) {
				if la, ok := entry.remote.(interface{ LastActive() time.Time }); ok {
					if now.Sub(la.LastActive()) > e.cfg.idleTimeout {
						stale = append(stale, id)
					}
				}
			})
			for _, id := range stale {
				if drv.remotes.Deregister(id) {
					_ = e.poll.Remove(id)
					e.cfg.metrics.IncrementDisconnect()
					e.cfg.logger.Infof("reaped idle %s", id)
					_ = e.events.Send(NetEvent{Kind: EventDisconnected, Endpoint: Endpoint{ID: id}})
					backoff.reset()
				}
			}
		}
		wait := backoff.next()
		if wait <= 0 {
			continue
		}
		select {
		case <-e.janitorStop:
			return
		case <-time.After(wait):
		}
	}
}

// --- Controller implementation ---

func (e *Engine) Connect(transport Transport, remoteAddr string) (Endpoint, net.Addr, error) {
	if !e.running.Load() {
		return Endpoint{}, nil, ErrEngineStopped
	}
	drv, err := e.driverFor(transport)
	if err != nil {
		return Endpoint{}, nil, err
	}
	return drv.connect(e.cfg.ctx, remoteAddr, func(ne NetEvent) {
		_ = e.events.Send(ne)
	})
}

func (e *Engine) ConnectSync(transport Transport, remoteAddr string) (Endpoint, net.Addr, error) {
	ep, local, err := e.Connect(transport, remoteAddr)
	if err != nil {
		return ep, local, err
	}
	if transport == Udp {
		return ep, local, nil // connected datagram sockets have no handshake
	}
	ctx, cancel := context.WithTimeout(e.cfg.ctx, e.cfg.handshakeTimeout)
	defer cancel()
	for {
		ready := e.IsReady(ep.ID)
		if ready == nil {
			return ep, local, ErrResourceNotFound
		}
		if *ready {
			return ep, local, nil
		}
		select {
		case <-ctx.Done():
			return ep, local, ctx.Err()
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func (e *Engine) Listen(transport Transport, addr string) (ResourceId, net.Addr, error) {
	if !e.running.Load() {
		return 0, nil, ErrEngineStopped
	}
	drv, err := e.driverFor(transport)
	if err != nil {
		return 0, nil, err
	}
	return drv.listen(e.cfg.ctx, addr)
}

func (e *Engine) Send(endpoint Endpoint, data []byte) SendStatus {
	drv, err := e.driverFor(Transport(endpoint.ID.AdapterID()))
	if err != nil {
		return SendResourceNotFound
	}
	return drv.send(endpoint, data)
}

func (e *Engine) Remove(id ResourceId) bool {
	drv, err := e.driverFor(Transport(id.AdapterID()))
	if err != nil {
		return false
	}
	return drv.remove(id)
}

func (e *Engine) IsReady(id ResourceId) *bool {
	drv, err := e.driverFor(Transport(id.AdapterID()))
	if err != nil {
		return nil
	}
	return drv.isReady(id)
}
