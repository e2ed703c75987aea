package netmux

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sys/unix"
)

// wsAdapter realizes the Ws transport on top of github.com/gorilla/websocket.
// gorilla's Conn is driven by blocking ReadMessage/WriteMessage calls over a
// net.Conn the library owns; it cannot be registered directly with this
// engine's epoll instance. Each wsRemote instead runs a dedicated reader
// goroutine and bridges it into the reactor with a self-pipe, the same
// wake-the-poller trick poll_linux.go uses for Engine.Stop. gorilla's
// Dialer/Upgrader complete the HTTP upgrade synchronously, so a wsRemote is
// always constructed already ready; a failed upgrade surfaces as a connect
// error rather than a pending state.
type wsAdapter struct{}

func newWSAdapter() *wsAdapter { return &wsAdapter{} }

func (wsAdapter) Transport() Transport { return Ws }

func (wsAdapter) Connect(ctx context.Context, cfg *Config, remoteAddr string) (Remote, ConnectionInfo, error) {
	dialer := websocket.Dialer{HandshakeTimeout: cfg.handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, remoteAddr, nil)
	if err != nil {
		return nil, ConnectionInfo{}, err
	}
	r, err := newWSRemote(conn)
	if err != nil {
		conn.Close()
		return nil, ConnectionInfo{}, err
	}
	return r, ConnectionInfo{Local: conn.LocalAddr(), Peer: conn.RemoteAddr(), Ready: true}, nil
}

func (wsAdapter) Listen(ctx context.Context, cfg *Config, addr string) (Local, ListeningInfo, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, ListeningInfo{}, err
	}
	l, err := newWSLocal(ln)
	if err != nil {
		ln.Close()
		return nil, ListeningInfo{}, err
	}
	return l, ListeningInfo{Bound: ln.Addr()}, nil
}

// wakePipe is a non-blocking self-pipe used to surface readiness from a
// background goroutine to the epoll-driven reactor.
type wakePipe struct {
	r, w int
}

func newWakePipe() (wakePipe, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return wakePipe{}, err
	}
	return wakePipe{r: fds[0], w: fds[1]}, nil
}

func (p wakePipe) wake() {
	var b [1]byte
	_, _ = unix.Write(p.w, b[:])
}

func (p wakePipe) drain() {
	var buf [64]byte
	for {
		_, err := unix.Read(p.r, buf[:])
		if err != nil {
			return
		}
	}
}

func (p wakePipe) close() {
	unix.Close(p.r)
	unix.Close(p.w)
}

// wsRemote bridges one gorilla websocket.Conn into the Remote contract.
type wsRemote struct {
	conn  *websocket.Conn
	local net.Addr
	peer  net.Addr
	pipe  wakePipe

	msgCh  chan []byte
	closed atomic.Bool
	sendMu sync.Mutex

	lastActive atomic.Int64
}

func newWSRemote(conn *websocket.Conn) (*wsRemote, error) {
	pipe, err := newWakePipe()
	if err != nil {
		return nil, err
	}
	r := &wsRemote{
		conn:  conn,
		local: conn.LocalAddr(),
		peer:  conn.RemoteAddr(),
		pipe:  pipe,
		msgCh: make(chan []byte, 64),
	}
	r.lastActive.Store(time.Now().UnixNano())
	go r.readLoop()
	return r, nil
}

func (r *wsRemote) readLoop() {
	for {
		mt, data, err := r.conn.ReadMessage()
		if err != nil {
			r.closed.Store(true)
			r.pipe.wake()
			return
		}
		if mt != websocket.BinaryMessage {
			continue // text frames are ignored
		}
		r.lastActive.Store(time.Now().UnixNano())
		r.msgCh <- data
		r.pipe.wake()
	}
}

func (r *wsRemote) LastActive() time.Time { return time.Unix(0, r.lastActive.Load()) }

func (r *wsRemote) Pending(Readiness) PendingStatus { return ReadyStatus }

func (r *wsRemote) Receive(onData func([]byte)) ReadStatus {
	r.pipe.drain()
	for {
		select {
		case data := <-r.msgCh:
			onData(data)
		default:
			if r.closed.Load() {
				return ReadDisconnected
			}
			return WaitNextEvent
		}
	}
}

func (r *wsRemote) Send(data []byte) SendStatus {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	if err := r.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return SendResourceNotFound
	}
	r.lastActive.Store(time.Now().UnixNano())
	return Sent
}

// Ping sends a WebSocket ping control frame; the peer's protocol stack
// answers with a pong without surfacing a Message.
func (r *wsRemote) Ping() SendStatus {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	if err := r.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
		return SendResourceNotFound
	}
	return Sent
}

func (r *wsRemote) LocalAddr() net.Addr { return r.local }
func (r *wsRemote) PeerAddr() net.Addr  { return r.peer }
func (r *wsRemote) FD() int             { return r.pipe.r }
func (r *wsRemote) Close() error {
	err := r.conn.Close()
	r.pipe.close()
	return err
}

// wsLocal runs an http.Server performing the WS upgrade handshake off the
// reactor thread; accepted connections are funneled through the same
// self-pipe bridging pattern wsRemote uses.
type wsLocal struct {
	ln       net.Listener
	server   *http.Server
	upgrader websocket.Upgrader
	pipe     wakePipe
	acceptCh chan *wsRemote
}

func newWSLocal(ln net.Listener) (*wsLocal, error) {
	pipe, err := newWakePipe()
	if err != nil {
		return nil, err
	}
	l := &wsLocal{
		ln:       ln,
		pipe:     pipe,
		acceptCh: make(chan *wsRemote, 64),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", l.handleUpgrade)
	l.server = &http.Server{Handler: mux}
	go l.server.Serve(ln)
	return l, nil
}

func (l *wsLocal) handleUpgrade(w http.ResponseWriter, req *http.Request) {
	conn, err := l.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	r, err := newWSRemote(conn)
	if err != nil {
		conn.Close()
		return
	}
	l.acceptCh <- r
	l.pipe.wake()
}

func (l *wsLocal) Accept(onAccepted func(Accepted)) ReadStatus {
	l.pipe.drain()
	for {
		select {
		case r := <-l.acceptCh:
			onAccepted(Accepted{Kind: AcceptedRemote, Addr: r.peer, Remote: r, Ready: true})
		default:
			return WaitNextEvent
		}
	}
}

func (l *wsLocal) SendTo(addr net.Addr, data []byte) SendStatus { return SendResourceNotFound }
func (l *wsLocal) LocalAddr() net.Addr                          { return l.ln.Addr() }
func (l *wsLocal) FD() int                                      { return l.pipe.r }
func (l *wsLocal) Close() error {
	l.server.Close()
	l.pipe.close()
	return nil
}
