package netmux

import (
	"fmt"
	"time"

	"github.com/flynn/noise"
)

// noiseCipherSuite is the fixed suite for every encrypted session.
var noiseCipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherAESGCM, noise.HashSHA256)

// noiseSession drives one anonymous NN handshake (no static keys) and then
// seals/opens application messages with the resulting session keys. The
// handshake advances one step at a time so noiseRemote.Pending can drive it
// as readiness events arrive.
type noiseSession struct {
	hs        *noise.HandshakeState
	cs1, cs2  *noise.CipherState
	initiator bool
	complete  bool
}

func newNoiseSession(initiator bool) (*noiseSession, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: noiseCipherSuite,
		Pattern:     noise.HandshakeNN,
		Initiator:   initiator,
	})
	if err != nil {
		return nil, fmt.Errorf("netmux: noise handshake init: %w", err)
	}
	return &noiseSession{hs: hs, initiator: initiator}, nil
}

// writeMessage produces the next handshake message this side owes the peer.
func (s *noiseSession) writeMessage() ([]byte, error) {
	msg, cs1, cs2, err := s.hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, err
	}
	if cs1 != nil && cs2 != nil {
		s.cs1, s.cs2 = cs1, cs2
		s.complete = true
	}
	return msg, nil
}

// readMessage consumes one handshake message from the peer. If the NN
// pattern still owes a reply after this step, that reply is returned for
// the caller to send.
func (s *noiseSession) readMessage(msg []byte) ([]byte, error) {
	_, cs1, cs2, err := s.hs.ReadMessage(nil, msg)
	if err != nil {
		return nil, err
	}
	if cs1 != nil && cs2 != nil {
		s.cs1, s.cs2 = cs1, cs2
		s.complete = true
		return nil, nil
	}
	return s.writeMessage()
}

// seal/open use cs1 for the initiator's outbound direction and cs2 for the
// responder's.
func (s *noiseSession) seal(plaintext []byte) ([]byte, error) {
	if s.initiator {
		return s.cs1.Encrypt(nil, nil, plaintext)
	}
	return s.cs2.Encrypt(nil, nil, plaintext)
}

func (s *noiseSession) open(ciphertext []byte) ([]byte, error) {
	if s.initiator {
		return s.cs2.Decrypt(nil, nil, ciphertext)
	}
	return s.cs1.Decrypt(nil, nil, ciphertext)
}

// noiseRemote decorates any stream Remote with an authenticated session
// layer, enabled per-Engine via WithEncryption. Handshake and application
// messages both ride the varint framing from frame.go so message
// boundaries never need a second codec.
type noiseRemote struct {
	Remote
	session *noiseSession
	dec     Decoder
	scratch []byte

	transportReady bool // underlying transport's own handshake resolved
	started        bool // initiator's first message written
}

// newNoiseRemote wraps inner with a Noise session. transportReady reports
// whether inner is already connected: if so, an initiator writes its first
// handshake message right away; if not (a TCP connect still in flight), the
// write is deferred until Pending first observes the transport ready, so
// nothing is ever written to a half-connected socket.
func newNoiseRemote(inner Remote, initiator, transportReady bool) (*noiseRemote, error) {
	session, err := newNoiseSession(initiator)
	if err != nil {
		return nil, err
	}
	r := &noiseRemote{
		Remote:         inner,
		session:        session,
		scratch:        make([]byte, MaxScratchSize),
		transportReady: transportReady,
	}
	if initiator && transportReady {
		if st := r.startHandshake(); st != Sent {
			return nil, ErrHandshakeRejected
		}
	}
	return r, nil
}

func (r *noiseRemote) startHandshake() SendStatus {
	out, err := r.session.writeMessage()
	if err != nil {
		return SendResourceNotFound
	}
	r.started = true
	return r.sendFramed(out)
}

func (r *noiseRemote) sendFramed(msg []byte) SendStatus {
	prefix := EncodeSize(msg, r.scratch)
	if st := r.Remote.Send(prefix); st != Sent {
		return st
	}
	return r.Remote.Send(msg)
}

// Pending advances the handshake by one or more steps as raw bytes arrive,
// fulfilling the same state-machine contract every other Remote.Pending
// implements. It first resolves the underlying transport's own handshake,
// then writes the deferred initiator message, then consumes replies.
func (r *noiseRemote) Pending(readiness Readiness) PendingStatus {
	if !r.transportReady {
		switch r.Remote.Pending(readiness) {
		case Incomplete:
			return Incomplete
		case HandshakeDisconnected:
			return HandshakeDisconnected
		case ReadyStatus:
			r.transportReady = true
		}
	}
	if r.session.initiator && !r.started {
		if r.startHandshake() != Sent {
			return HandshakeDisconnected
		}
	}
	if !readiness.Readable() {
		return Incomplete
	}
	failed := false
	status := r.Remote.Receive(func(chunk []byte) {
		if failed || r.session.complete {
			return
		}
		_ = r.dec.Decode(chunk, func(msg []byte) {
			out, err := r.session.readMessage(msg)
			if err != nil {
				failed = true
				return
			}
			if out != nil {
				if r.sendFramed(out) != Sent {
					failed = true
				}
			}
		})
	})
	if status == ReadDisconnected || failed {
		return HandshakeDisconnected
	}
	if r.session.complete {
		return ReadyStatus
	}
	return Incomplete
}

func (r *noiseRemote) Receive(onData func([]byte)) ReadStatus {
	return r.Remote.Receive(func(chunk []byte) {
		_ = r.dec.Decode(chunk, func(msg []byte) {
			plain, err := r.session.open(msg)
			if err != nil {
				return
			}
			onData(plain)
		})
	})
}

func (r *noiseRemote) Send(data []byte) SendStatus {
	sealed, err := r.session.seal(data)
	if err != nil {
		return SendResourceNotFound
	}
	return r.sendFramed(sealed)
}

// LastActive forwards to the wrapped Remote so wrapping with encryption
// never hides a resource from the janitor's idle scan (see metricsRemote
// for the same forwarding pattern).
func (r *noiseRemote) LastActive() time.Time {
	if la, ok := r.Remote.(interface{ LastActive() time.Time }); ok {
		return la.LastActive()
	}
	return time.Time{}
}
