package netmux

import (
	"context"
)

// framedTCPAdapter is plain TCP plus the varint-length-prefixed framing
// codec from frame.go: Receive yields whole application messages instead of
// raw stream chunks.
type framedTCPAdapter struct {
	tcp tcpAdapter
}

func newFramedTCPAdapter() *framedTCPAdapter { return &framedTCPAdapter{} }

func (framedTCPAdapter) Transport() Transport { return FramedTcp }

func (a *framedTCPAdapter) Connect(ctx context.Context, cfg *Config, remoteAddr string) (Remote, ConnectionInfo, error) {
	r, info, err := a.tcp.Connect(ctx, cfg, remoteAddr)
	if err != nil {
		return nil, ConnectionInfo{}, err
	}
	return &framedTCPRemote{tcpRemote: r.(*tcpRemote), scratch: make([]byte, MaxScratchSize)}, info, nil
}

func (a *framedTCPAdapter) Listen(ctx context.Context, cfg *Config, addr string) (Local, ListeningInfo, error) {
	l, info, err := a.tcp.Listen(ctx, cfg, addr)
	if err != nil {
		return nil, ListeningInfo{}, err
	}
	return &framedTCPLocal{tcpLocal: l.(*tcpLocal)}, info, nil
}

// framedTCPRemote wraps a tcpRemote, running its raw stream bytes through a
// Decoder before surfacing them as discrete messages.
type framedTCPRemote struct {
	*tcpRemote
	dec     Decoder
	scratch []byte
}

func (r *framedTCPRemote) Receive(onData func([]byte)) ReadStatus {
	return r.tcpRemote.Receive(func(chunk []byte) {
		_ = r.dec.Decode(chunk, func(msg []byte) {
			// Zero-length frames are keepalive probes, not user messages.
			if len(msg) == 0 {
				return
			}
			cp := make([]byte, len(msg))
			copy(cp, msg)
			onData(cp)
		})
	})
}

func (r *framedTCPRemote) Send(data []byte) SendStatus {
	prefix := EncodeSize(data, r.scratch)
	if status := r.tcpRemote.Send(prefix); status != Sent {
		return status
	}
	return r.tcpRemote.Send(data)
}

// Ping writes a zero-length frame; the peer's decoder swallows it without
// surfacing a Message.
func (r *framedTCPRemote) Ping() SendStatus {
	return r.Send(nil)
}

// framedTCPLocal wraps a tcpLocal, handing each accepted connection back as
// a framedTCPRemote so the codec applies from the very first byte.
type framedTCPLocal struct {
	*tcpLocal
}

func (l *framedTCPLocal) Accept(onAccepted func(Accepted)) ReadStatus {
	return l.tcpLocal.Accept(func(a Accepted) {
		if a.Kind == AcceptedRemote {
			a.Remote = &framedTCPRemote{tcpRemote: a.Remote.(*tcpRemote), scratch: make([]byte, MaxScratchSize)}
		}
		onAccepted(a)
	})
}
