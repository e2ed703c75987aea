package netmux

import "testing"

func TestResourceRegistryRegisterGetDeregister(t *testing.T) {
	reg := NewResourceRegistry[int]()
	id := newResourceId(0, KindRemote, 1)

	closed := false
	reg.Register(id, 42, func(v int) error {
		closed = true
		return nil
	})

	handle, ok := reg.Get(id)
	if !ok {
		t.Fatal("Get: expected entry to exist")
	}
	if got := handle.Resource(); got != 42 {
		t.Fatalf("Resource() = %d, want 42", got)
	}
	handle.Release()
	if closed {
		t.Fatal("closer ran while the registry's own reference was still live")
	}

	if ok := reg.Deregister(id); !ok {
		t.Fatal("Deregister: expected id to be present")
	}
	if !closed {
		t.Fatal("closer did not run after Deregister released the last reference")
	}

	if _, ok := reg.Get(id); ok {
		t.Fatal("Get after Deregister: expected entry gone")
	}
}

func TestResourceRegistryDeregisterUnknownIDReturnsFalse(t *testing.T) {
	reg := NewResourceRegistry[int]()
	if ok := reg.Deregister(newResourceId(0, KindRemote, 99)); ok {
		t.Fatal("Deregister of unknown id returned true")
	}
}

func TestResourceRegistryDeferredCloseUntilLastHandleReleases(t *testing.T) {
	reg := NewResourceRegistry[int]()
	id := newResourceId(0, KindRemote, 5)

	closeCount := 0
	reg.Register(id, 7, func(int) error {
		closeCount++
		return nil
	})

	// Simulate the reactor thread holding a handle concurrently with a
	// producer-thread Deregister: Close must wait for both to let go.
	handle, ok := reg.Get(id)
	if !ok {
		t.Fatal("Get: expected entry to exist")
	}

	if ok := reg.Deregister(id); !ok {
		t.Fatal("Deregister: expected id to be present")
	}
	if closeCount != 0 {
		t.Fatalf("closer ran before the outstanding handle released, closeCount=%d", closeCount)
	}

	handle.Release()
	if closeCount != 1 {
		t.Fatalf("closeCount = %d, want 1 after the last handle released", closeCount)
	}

	// A second Release (defensive double-release) must not double-close.
	handle.Release()
	if closeCount != 1 {
		t.Fatalf("closeCount = %d, want 1 — closer must run at most once", closeCount)
	}
}

func TestResourceRegistryRange(t *testing.T) {
	reg := NewResourceRegistry[string]()
	want := map[ResourceId]string{
		newResourceId(0, KindRemote, 0): "a",
		newResourceId(0, KindRemote, 1): "b",
		newResourceId(0, KindRemote, 2): "c",
	}
	for id, v := range want {
		reg.Register(id, v, nil)
	}
	if got := reg.Len(); got != len(want) {
		t.Fatalf("Len() = %d, want %d", got, len(want))
	}

	seen := map[ResourceId]string{}
	reg.Range(func(id ResourceId, v string) { seen[id] = v })
	if len(seen) != len(want) {
		t.Fatalf("Range visited %d entries, want %d", len(seen), len(want))
	}
	for id, v := range want {
		if seen[id] != v {
			t.Errorf("Range: id %s = %q, want %q", id, seen[id], v)
		}
	}
}
