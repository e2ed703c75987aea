package netmux

import (
	"strings"
	"testing"
)

func TestResourceIdRoundTrip(t *testing.T) {
	cases := []struct {
		adapter uint8
		kind    Kind
		serial  uint64
	}{
		{0, KindRemote, 0},
		{0, KindLocal, 0},
		{3, KindRemote, 12345},
		{maxAdapters - 1, KindLocal, (1 << 56) - 1},
	}
	for _, c := range cases {
		id := newResourceId(c.adapter, c.kind, c.serial)
		if got := id.AdapterID(); got != c.adapter {
			t.Errorf("AdapterID() = %d, want %d", got, c.adapter)
		}
		if got := id.Kind(); got != c.kind {
			t.Errorf("Kind() = %v, want %v", got, c.kind)
		}
		if got := id.Serial(); got != c.serial {
			t.Errorf("Serial() = %d, want %d", got, c.serial)
		}
	}
}

func TestResourceIdPanicsOnOversizeAdapter(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for adapter index >= maxAdapters")
		}
	}()
	newResourceId(maxAdapters, KindRemote, 0)
}

func TestIdGeneratorMonotonicAndDistinctByKind(t *testing.T) {
	g := NewIdGenerator(2)
	remoteIDs := make(map[ResourceId]bool)
	for i := 0; i < 100; i++ {
		id := g.Next(KindRemote)
		if remoteIDs[id] {
			t.Fatalf("duplicate remote id %s", id)
		}
		remoteIDs[id] = true
		if id.Kind() != KindRemote {
			t.Fatalf("expected KindRemote, got %v", id.Kind())
		}
		if id.AdapterID() != 2 {
			t.Fatalf("expected adapter 2, got %d", id.AdapterID())
		}
	}

	first := g.Next(KindLocal)
	second := g.Next(KindLocal)
	if first.Serial() >= second.Serial() {
		t.Fatalf("expected strictly increasing serials, got %d then %d", first.Serial(), second.Serial())
	}
	if first.Kind() != KindLocal {
		t.Fatalf("expected KindLocal, got %v", first.Kind())
	}
}

func TestResourceIdTokenNeverCollidesWithWaker(t *testing.T) {
	for _, id := range []ResourceId{
		newResourceId(0, KindRemote, 0),
		newResourceId(0, KindLocal, 0),
		newResourceId(5, KindRemote, 99),
	} {
		tok := id.token()
		if tok == 0 {
			t.Fatalf("token for %s is 0, which is reserved for the waker", id)
		}
		if tok&1 != 1 {
			t.Fatalf("token for %s = %d, want low bit set", id, tok)
		}
		if ResourceId(tok>>1) != id {
			t.Fatalf("token round trip: got %s, want %s", ResourceId(tok>>1), id)
		}
	}
}

func TestResourceIdStringContainsKindAndSerial(t *testing.T) {
	id := newResourceId(1, KindRemote, 7)
	s := id.String()
	if s == "" {
		t.Fatal("String() returned empty string")
	}
	if !strings.Contains(s, KindRemote.String()) || !strings.Contains(s, "7") {
		t.Fatalf("String() = %q, want it to contain kind %q and serial 7", s, KindRemote.String())
	}
}
