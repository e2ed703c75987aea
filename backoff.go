package netmux

import "time"

// adaptiveBackoff paces the engine's idle-reap janitor goroutine (it has
// nothing to epoll on — it just periodically scans the registries — so it
// paces itself instead of blocking on readiness). Call reset() after any
// activity to return to the fast interval.
type adaptiveBackoff struct {
	cur    time.Duration
	fast   time.Duration
	steady time.Duration
	skip   bool
}

func newAdaptiveBackoff(fast, steady time.Duration) *adaptiveBackoff {
	if fast <= 0 {
		fast = DefaultJanitorFastInterval
	}
	if steady < fast {
		steady = fast
	}
	return &adaptiveBackoff{cur: fast, fast: fast, steady: steady}
}

// next returns the current interval and backs off exponentially up to
// steady. A zero return means the caller should not wait this round (set
// by reset after activity).
func (p *adaptiveBackoff) next() time.Duration {
	if p.skip {
		p.skip = false
		return 0
	}
	cur := p.cur
	if p.cur < p.steady {
		p.cur *= 2
		if p.cur > p.steady {
			p.cur = p.steady
		}
	}
	return cur
}

// reset moves the current interval back to the fast value.
func (p *adaptiveBackoff) reset() {
	p.cur = p.fast
	p.skip = true
}
