package netmux

import (
	"fmt"
	"sync/atomic"
)

// Kind distinguishes a listening/bound resource from a peer connection.
type Kind uint8

const (
	// KindRemote identifies a live connection to (or socket directed at) a peer.
	KindRemote Kind = iota
	// KindLocal identifies a listening or bound resource.
	KindLocal
)

func (k Kind) String() string {
	if k == KindLocal {
		return "local"
	}
	return "remote"
}

// maxAdapters bounds the adapter index to 7 bits; one bit of the token
// space is reserved so the poll waker token never collides with a resource
// token.
const maxAdapters = 1 << 7

// ResourceId is an opaque 64-bit handle packing an adapter index, a Kind, and
// a per-(adapter,kind) monotonically increasing serial. Once generated it is
// never reused within a process run; a stale id simply fails lookup.
//
// Bit layout (low to high): adapter index (7 bits) | kind (1 bit) | serial (56 bits).
type ResourceId uint64

func newResourceId(adapterID uint8, kind Kind, serial uint64) ResourceId {
	if adapterID >= maxAdapters {
		panic(fmt.Sprintf("netmux: adapter index %d exceeds %d", adapterID, maxAdapters-1))
	}
	k := uint64(0)
	if kind == KindLocal {
		k = 1
	}
	return ResourceId(uint64(adapterID) | (k << 7) | (serial << 8))
}

// AdapterID returns the adapter index encoded in the id.
func (r ResourceId) AdapterID() uint8 { return uint8(r & 0x7f) }

// Kind returns the Local/Remote tag encoded in the id.
func (r ResourceId) Kind() Kind {
	if (r>>7)&1 == 1 {
		return KindLocal
	}
	return KindRemote
}

// Serial returns the per-(adapter,kind) monotonic counter value encoded in the id.
func (r ResourceId) Serial() uint64 { return uint64(r) >> 8 }

// token is the poll-registration token derived from this id: the id shifted
// left by one bit with the low bit set, so that 0 is always free for the
// waker.
func (r ResourceId) token() uint64 { return (uint64(r) << 1) | 1 }

func (r ResourceId) String() string {
	return fmt.Sprintf("%s#%d.%d", r.Kind(), r.AdapterID(), r.Serial())
}

// IdGenerator hands out strictly-increasing, collision-free ResourceIds for
// one adapter. Each (adapter, kind) pair gets its own atomic serial counter.
type IdGenerator struct {
	adapterID uint8
	remote    atomic.Uint64
	local     atomic.Uint64
}

// NewIdGenerator builds a generator scoped to a single adapter index.
func NewIdGenerator(adapterID uint8) *IdGenerator {
	return &IdGenerator{adapterID: adapterID}
}

// Next returns a fresh id for the given kind, serial strictly greater than
// any previously issued for the same (adapter, kind) pair.
func (g *IdGenerator) Next(kind Kind) ResourceId {
	var serial uint64
	if kind == KindLocal {
		serial = g.local.Add(1) - 1
	} else {
		serial = g.remote.Add(1) - 1
	}
	return newResourceId(g.adapterID, kind, serial)
}
