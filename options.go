package netmux

import (
	"context"
	"time"
)

const (
	// DefaultPollTimeout bounds how long the reactor thread blocks in one
	// ProcessEvents call; it must stay small enough that a stop signal is
	// observed promptly without relying solely on the waker.
	DefaultPollTimeout = 50 * time.Millisecond

	// DefaultReadBufferSize is the read buffer used by the Tcp and FramedTcp
	// adapters; allocated once per Remote, though each read still copies the
	// bytes it delivers into a freshly allocated slice.
	DefaultReadBufferSize = 64 * 1024
	// DefaultDatagramBufferSize is the read buffer used by UDP, sized for
	// the common internet MTU.
	DefaultDatagramBufferSize = 1500

	// DefaultHandshakeTimeout bounds how long ConnectSync waits for a
	// Remote's handshake to resolve and how long a WS dial may spend on its
	// upgrade. A Remote opened with Connect is not failed by this timeout,
	// and ConnectSync leaves a timed-out Remote registered.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultJanitorInterval is the longest pause between the idle-reap
	// janitor's scans of live Remotes for silence past IdleTimeout; the pause
	// starts at DefaultJanitorFastInterval and doubles up to this value.
	DefaultJanitorInterval = 30 * time.Second
	// DefaultJanitorFastInterval seeds the janitor's adaptive backoff.
	DefaultJanitorFastInterval = 1 * time.Second
	// DefaultIdleTimeout is the silence grace period before a Remote is
	// force-disconnected by the janitor.
	DefaultIdleTimeout = 5 * time.Minute

	// DefaultPingInterval is the keep-alive heartbeat cadence for
	// FramedTCP/WS Remotes. Zero disables keep-alive.
	DefaultPingInterval = 30 * time.Second
)

// Option is a functional option mutating a Config.
type Option func(*Config)

// Config holds runtime settings shared by every Controller operation. The
// zero value is never used directly; build one with defaultConfig()+options
// via applyConfig.
type Config struct {
	ctx    context.Context
	cancel context.CancelFunc

	metrics Metrics
	logger  Logger

	pollTimeout time.Duration

	readBufferSize     int
	datagramBufferSize int

	handshakeTimeout time.Duration

	janitorInterval time.Duration
	idleTimeout     time.Duration
	pingInterval    time.Duration

	tcpKeepAlive time.Duration // 0 disables SetKeepAlive

	encryption bool // WithEncryption: layer a Noise session under stream adapters
}

// Validate checks for contradictory settings.
func (c *Config) Validate() error {
	if c.pollTimeout <= 0 {
		return ErrInvalidConfig
	}
	if c.handshakeTimeout <= 0 {
		return ErrInvalidConfig
	}
	if c.readBufferSize <= 0 || c.datagramBufferSize <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

func defaultConfig() *Config {
	ctx, cancel := context.WithCancel(context.Background())
	return &Config{
		ctx:                ctx,
		cancel:             cancel,
		metrics:            NewDefaultMetrics(),
		logger:             noopLogger{},
		pollTimeout:        DefaultPollTimeout,
		readBufferSize:     DefaultReadBufferSize,
		datagramBufferSize: DefaultDatagramBufferSize,
		handshakeTimeout:   DefaultHandshakeTimeout,
		janitorInterval:    DefaultJanitorInterval,
		idleTimeout:        DefaultIdleTimeout,
		pingInterval:       DefaultPingInterval,
	}
}

func applyConfig(opts []Option) (*Config, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WithPollTimeout sets the reactor's sampling timeout.
func WithPollTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.pollTimeout = d
		}
	}
}

// WithReadBufferSize sets the per-Remote read buffer used by the Tcp and
// FramedTcp adapters.
func WithReadBufferSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.readBufferSize = n
		}
	}
}

// WithDatagramBufferSize sets the per-read buffer used by UDP.
func WithDatagramBufferSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.datagramBufferSize = n
		}
	}
}

// WithHandshakeTimeout bounds how long ConnectSync waits for a Remote's
// handshake and how long a WS dial may spend on its upgrade (see
// DefaultHandshakeTimeout).
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.handshakeTimeout = d
		}
	}
}

// WithIdleTimeout sets the silence grace period before the janitor
// force-disconnects a Remote. Zero disables idle reaping.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.idleTimeout = d
		}
	}
}

// WithJanitorInterval sets the longest pause between the idle-reap
// janitor's scans (see DefaultJanitorInterval).
func WithJanitorInterval(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.janitorInterval = d
		}
	}
}

// WithPing sets the keep-alive heartbeat cadence for FramedTCP/WS. Zero
// disables keep-alive.
func WithPing(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.pingInterval = d
		}
	}
}

// WithTCPKeepAlive enables the OS-level TCP keepalive probe with the given
// period on sockets opened by Connect on Tcp (and FramedTcp, which dials
// through the same code); accepted connections are not affected. Zero (the
// default) leaves it disabled.
func WithTCPKeepAlive(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.tcpKeepAlive = d
		}
	}
}

// WithEncryption layers a Noise NN handshake and authenticated framing
// under TCP/FramedTCP/WS Remotes (see noise_session.go).
func WithEncryption() Option {
	return func(c *Config) { c.encryption = true }
}

// WithContext sets the base context for all adapter-level operations
// initiated through the Controller.
func WithContext(ctx context.Context) Option {
	return func(c *Config) {
		if ctx != nil {
			c.ctx, c.cancel = context.WithCancel(ctx)
		}
	}
}

// WithMetrics injects a custom Metrics implementation; nil is ignored.
func WithMetrics(m Metrics) Option {
	return func(c *Config) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithLogger injects a custom Logger implementation; nil is ignored.
func WithLogger(l Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.logger = l
		}
	}
}
