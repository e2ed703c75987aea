package netmux

import (
	"testing"
	"time"
)

func TestNodeDeliversSignals(t *testing.T) {
	engine := newTestEngine(t)
	node := NewNode[string](engine)
	defer node.Stop()

	want := []string{"first", "second", "third"}
	for _, s := range want {
		if err := node.SendSignal(s); err != nil {
			t.Fatalf("SendSignal(%q): %v", s, err)
		}
	}

	var got []string
	node.ForEach(func(ev NodeEvent[string]) bool {
		if !ev.IsSignal {
			t.Fatalf("unexpected network event: %+v", ev.Network)
		}
		got = append(got, ev.Signal)
		return len(got) < len(want)
	})

	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("signal %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNodeFusesNetworkAndSignalEvents(t *testing.T) {
	engine := newTestEngine(t)
	node := NewNode[string](engine)
	defer node.Stop()

	_, bound, err := node.Listen(Tcp, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	client := newTestEngine(t)
	if _, _, err := client.ConnectSync(Tcp, bound.String()); err != nil {
		t.Fatalf("ConnectSync: %v", err)
	}

	if err := node.SendSignal("tick"); err != nil {
		t.Fatalf("SendSignal: %v", err)
	}

	sawSignal, sawNetwork := false, false
	done := make(chan struct{})
	go func() {
		defer close(done)
		node.ForEach(func(ev NodeEvent[string]) bool {
			if ev.IsSignal {
				sawSignal = true
			} else if ev.Network.Kind == EventAccepted {
				sawNetwork = true
			}
			return !(sawSignal && sawNetwork)
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fused signal+network delivery")
	}
	if !sawSignal || !sawNetwork {
		t.Fatalf("sawSignal=%v sawNetwork=%v, want both", sawSignal, sawNetwork)
	}
}

func TestNodeSignalPriorityAndTimer(t *testing.T) {
	engine := newTestEngine(t)
	node := NewNode[string](engine)
	defer node.Stop()

	if err := node.SendSignal("standard"); err != nil {
		t.Fatalf("SendSignal: %v", err)
	}
	if err := node.SendSignalWithTimer("timed", 50*time.Millisecond); err != nil {
		t.Fatalf("SendSignalWithTimer: %v", err)
	}
	if err := node.SendSignalWithPriority("urgent"); err != nil {
		t.Fatalf("SendSignalWithPriority: %v", err)
	}

	start := time.Now()
	var got []string
	node.ForEach(func(ev NodeEvent[string]) bool {
		if ev.IsSignal {
			got = append(got, ev.Signal)
		}
		return len(got) < 3
	})

	want := []string{"urgent", "standard", "timed"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("signal %d = %q, want %q (full order %v)", i, got[i], want[i], got)
		}
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("timed signal delivered after %v, before its 50ms due time", elapsed)
	}
}

func TestNodeStopEndsForEach(t *testing.T) {
	engine := newTestEngine(t)
	node := NewNode[struct{}](engine)

	done := make(chan struct{})
	go func() {
		defer close(done)
		node.ForEach(func(NodeEvent[struct{}]) bool { return true })
	}()

	time.Sleep(20 * time.Millisecond)
	node.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ForEach did not return after Stop")
	}
}
