package netmux

import (
	"testing"
	"time"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(e.Stop)
	return e
}

func waitForEvent(t *testing.T, e *Engine, timeout time.Duration, pred func(NetEvent) bool) NetEvent {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		ev, ok := e.Events().ReceiveTimeout(20 * time.Millisecond)
		if !ok {
			continue
		}
		if pred(ev) {
			return ev
		}
	}
	t.Fatal("timed out waiting for expected event")
	return NetEvent{}
}

func TestEngineTCPEcho(t *testing.T) {
	server := newTestEngine(t)
	_, bound, err := server.Listen(Tcp, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	client := newTestEngine(t)
	clientEndpoint, _, err := client.ConnectSync(Tcp, bound.String())
	if err != nil {
		t.Fatalf("ConnectSync: %v", err)
	}

	accepted := waitForEvent(t, server, time.Second, func(ev NetEvent) bool {
		return ev.Kind == EventAccepted
	})

	if status := client.Send(clientEndpoint, []byte("ping")); status != Sent {
		t.Fatalf("client Send: %v", status)
	}

	msg := waitForEvent(t, server, time.Second, func(ev NetEvent) bool {
		return ev.Kind == EventMessage && ev.Endpoint.ID == accepted.Endpoint.ID
	})
	if string(msg.Data) != "ping" {
		t.Fatalf("server received %q, want ping", msg.Data)
	}

	if status := server.Send(accepted.Endpoint, msg.Data); status != Sent {
		t.Fatalf("server Send: %v", status)
	}

	reply := waitForEvent(t, client, time.Second, func(ev NetEvent) bool {
		return ev.Kind == EventMessage
	})
	if string(reply.Data) != "ping" {
		t.Fatalf("client received %q, want ping", reply.Data)
	}

	// Removing the client side closes the socket; the server must observe a
	// terminal Disconnected for its accepted Remote.
	if ok := client.Remove(clientEndpoint.ID); !ok {
		t.Fatal("Remove: expected client endpoint to be present")
	}
	gone := waitForEvent(t, server, time.Second, func(ev NetEvent) bool {
		return ev.Kind == EventDisconnected
	})
	if gone.Endpoint.ID != accepted.Endpoint.ID {
		t.Fatalf("Disconnected for %s, want %s", gone.Endpoint.ID, accepted.Endpoint.ID)
	}
}

func TestEngineFramedTCPPreservesMessageBoundaries(t *testing.T) {
	server := newTestEngine(t)
	_, bound, err := server.Listen(FramedTcp, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	client := newTestEngine(t)
	clientEndpoint, _, err := client.ConnectSync(FramedTcp, bound.String())
	if err != nil {
		t.Fatalf("ConnectSync: %v", err)
	}

	accepted := waitForEvent(t, server, time.Second, func(ev NetEvent) bool {
		return ev.Kind == EventAccepted
	})

	messages := []string{"one", "two-longer-message", "3"}
	for _, m := range messages {
		if status := client.Send(clientEndpoint, []byte(m)); status != Sent {
			t.Fatalf("Send(%q): %v", m, status)
		}
	}

	for _, want := range messages {
		ev := waitForEvent(t, server, time.Second, func(ev NetEvent) bool {
			return ev.Kind == EventMessage && ev.Endpoint.ID == accepted.Endpoint.ID
		})
		if string(ev.Data) != want {
			t.Fatalf("got %q, want %q", ev.Data, want)
		}
	}
}

func TestEngineUDPDatagramExchange(t *testing.T) {
	server := newTestEngine(t)
	_, bound, err := server.Listen(Udp, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	client := newTestEngine(t)
	clientEndpoint, _, err := client.ConnectSync(Udp, bound.String())
	if err != nil {
		t.Fatalf("ConnectSync: %v", err)
	}

	if status := client.Send(clientEndpoint, []byte("hello")); status != Sent {
		t.Fatalf("client Send: %v", status)
	}

	ev := waitForEvent(t, server, time.Second, func(ev NetEvent) bool {
		return ev.Kind == EventMessage
	})
	if string(ev.Data) != "hello" {
		t.Fatalf("got %q, want hello", ev.Data)
	}

	if status := server.Send(ev.Endpoint, []byte("world")); status != Sent {
		t.Fatalf("server Send: %v", status)
	}

	reply := waitForEvent(t, client, time.Second, func(ev NetEvent) bool {
		return ev.Kind == EventMessage
	})
	if string(reply.Data) != "world" {
		t.Fatalf("got %q, want world", reply.Data)
	}
}

func TestEngineWSExchange(t *testing.T) {
	server := newTestEngine(t)
	_, bound, err := server.Listen(Ws, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	client := newTestEngine(t)
	clientEndpoint, _, err := client.ConnectSync(Ws, "ws://"+bound.String())
	if err != nil {
		t.Fatalf("ConnectSync: %v", err)
	}

	accepted := waitForEvent(t, server, time.Second, func(ev NetEvent) bool {
		return ev.Kind == EventAccepted
	})

	if status := client.Send(clientEndpoint, []byte("binary frame")); status != Sent {
		t.Fatalf("client Send: %v", status)
	}

	msg := waitForEvent(t, server, time.Second, func(ev NetEvent) bool {
		return ev.Kind == EventMessage
	})
	if string(msg.Data) != "binary frame" {
		t.Fatalf("server received %q, want binary frame", msg.Data)
	}

	if status := server.Send(accepted.Endpoint, []byte("pong")); status != Sent {
		t.Fatalf("server Send: %v", status)
	}
	reply := waitForEvent(t, client, time.Second, func(ev NetEvent) bool {
		return ev.Kind == EventMessage
	})
	if string(reply.Data) != "pong" {
		t.Fatalf("client received %q, want pong", reply.Data)
	}
}

func TestEngineUDPConnectEmitsConnected(t *testing.T) {
	server := newTestEngine(t)
	_, bound, err := server.Listen(Udp, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	client := newTestEngine(t)
	ep, _, err := client.Connect(Udp, bound.String())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ev := waitForEvent(t, client, time.Second, func(ev NetEvent) bool {
		return ev.Kind == EventConnected
	})
	if !ev.Ok || ev.Endpoint.ID != ep.ID {
		t.Fatalf("Connected = %+v, want ok=true for %s", ev, ep.ID)
	}
}

func TestEngineEncryptedFramedTCPExchange(t *testing.T) {
	server := newTestEngine(t, WithEncryption())
	_, bound, err := server.Listen(FramedTcp, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	client := newTestEngine(t, WithEncryption())
	clientEndpoint, _, err := client.ConnectSync(FramedTcp, bound.String())
	if err != nil {
		t.Fatalf("ConnectSync: %v", err)
	}

	connected := waitForEvent(t, server, 2*time.Second, func(ev NetEvent) bool {
		return ev.Kind == EventConnected
	})
	if !connected.Ok {
		t.Fatal("server handshake failed")
	}

	if status := client.Send(clientEndpoint, []byte("secret")); status != Sent {
		t.Fatalf("client Send: %v", status)
	}
	msg := waitForEvent(t, server, 2*time.Second, func(ev NetEvent) bool {
		return ev.Kind == EventMessage
	})
	if string(msg.Data) != "secret" {
		t.Fatalf("server received %q, want secret", msg.Data)
	}

	if status := server.Send(msg.Endpoint, []byte("reply")); status != Sent {
		t.Fatalf("server Send: %v", status)
	}
	reply := waitForEvent(t, client, 2*time.Second, func(ev NetEvent) bool {
		return ev.Kind == EventMessage
	})
	if string(reply.Data) != "reply" {
		t.Fatalf("client received %q, want reply", reply.Data)
	}
}

func TestEngineConnectSyncFailsAgainstClosedPort(t *testing.T) {
	client := newTestEngine(t, WithHandshakeTimeout(2*time.Second))
	// Port 1 is reserved and should refuse the connection, or at worst
	// time out — either way ConnectSync must return an error, not hang.
	_, _, err := client.ConnectSync(Tcp, "127.0.0.1:1")
	if err == nil {
		t.Fatal("expected ConnectSync to fail against a closed/refused port")
	}
}

func TestEngineRemoveStopsDelivery(t *testing.T) {
	server := newTestEngine(t)
	id, bound, err := server.Listen(Tcp, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if ok := server.Remove(id); !ok {
		t.Fatal("Remove: expected listener to be present")
	}

	client := newTestEngine(t, WithHandshakeTimeout(2*time.Second))
	_, _, err = client.ConnectSync(Tcp, bound.String())
	if err == nil {
		t.Fatal("expected connect against a removed listener to fail")
	}
}

func TestEngineDoubleStartFails(t *testing.T) {
	e := newTestEngine(t)
	if err := e.Start(); err != ErrAlreadyRunning {
		t.Fatalf("second Start() = %v, want ErrAlreadyRunning", err)
	}
}

func TestEngineOperationsAfterStopFail(t *testing.T) {
	e, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	e.Stop()

	if _, _, err := e.Connect(Tcp, "127.0.0.1:0"); err != ErrEngineStopped {
		t.Fatalf("Connect after Stop = %v, want ErrEngineStopped", err)
	}
	if _, _, err := e.Listen(Tcp, "127.0.0.1:0"); err != ErrEngineStopped {
		t.Fatalf("Listen after Stop = %v, want ErrEngineStopped", err)
	}
}
