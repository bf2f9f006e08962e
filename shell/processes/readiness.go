package processes

import (
	"context"
	"net"
	"time"
)

const (
	// DefaultProbeInterval is the pause between connection attempts.
	DefaultProbeInterval = 500 * time.Millisecond
	// DefaultStartupTimeout is the hard ceiling on waiting for the backend.
	DefaultStartupTimeout = 30 * time.Second
)

// ReadinessResult is the outcome of one probing loop.
type ReadinessResult struct {
	Ready    bool
	Elapsed  time.Duration
	Attempts int
}

// Prober decides readiness purely by whether a TCP connection is accepted.
type Prober struct {
	interval time.Duration
}

// NewProber creates a Prober. A non-positive interval uses DefaultProbeInterval.
func NewProber(interval time.Duration) *Prober {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &Prober{interval: interval}
}

// Probe blocks until endpoint accepts a connection, timeout elapses or ctx is done.
// A dead endpoint reports not-ready no earlier than timeout and no later than one
// interval after it.
func (p *Prober) Probe(ctx context.Context, endpoint Endpoint, timeout time.Duration) ReadinessResult {
	if timeout <= 0 {
		timeout = DefaultStartupTimeout
	}

	start := time.Now()
	attempts := 0
	for {
		attempts++
		if p.dial(ctx, endpoint) == nil {
			return ReadinessResult{Ready: true, Elapsed: time.Since(start), Attempts: attempts}
		}

		elapsed := time.Since(start)
		if elapsed >= timeout {
			return ReadinessResult{Ready: false, Elapsed: elapsed, Attempts: attempts}
		}

		wait := p.interval
		if remaining := timeout - elapsed; remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return ReadinessResult{Ready: false, Elapsed: time.Since(start), Attempts: attempts}
		case <-time.After(wait):
		}
	}
}

func (p *Prober) dial(ctx context.Context, endpoint Endpoint) error {
	dialer := net.Dialer{Timeout: p.interval}
	conn, err := dialer.DialContext(ctx, "tcp", endpoint.Address())
	if err != nil {
		return err
	}
	return conn.Close()
}
