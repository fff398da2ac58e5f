// Package mockport provides scripted DuplexPort and CanBus test doubles,
// the role spec C9 assigns to a mock "sufficient to drive the test suite
// without hardware." It plays the same part the teacher's
// testing/simulator package plays for the OBD device: a script of bytes
// delivered against deadlines, with no real serial/CAN hardware involved.
package mockport

import (
	"sync"
	"time"

	"github.com/anodyne74/bmw-kwp-engine/internal/port"
)

// Port is a scripted half-duplex DuplexPort. Writes are recorded; a
// script of canned responses is played back on ReadAvailable, optionally
// after a configured echo of the just-written bytes (since K-Line is
// half-duplex and sees its own transmissions as input).
type Port struct {
	mu sync.Mutex

	// EchoWrites, when true, makes every WriteAll's bytes appear on the
	// next ReadAvailable before any scripted response, modeling the
	// shared-wire echo the real bus produces.
	EchoWrites bool
	// EchoDelay is how long after a write the echo becomes visible;
	// zero means immediately.
	EchoDelay time.Duration

	pending  []byte // bytes queued for the next ReadAvailable
	writes   [][]byte
	baud     int
	dtr, rts port.Level
	closed   bool

	clock func() time.Time
}

// New creates a Port with no script loaded.
func New() *Port {
	return &Port{clock: time.Now}
}

// Script queues b to be delivered by a future ReadAvailable, after any
// pending echo bytes. Call it once per scripted ECU response, in order.
func (p *Port) Script(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, b...)
}

// Writes returns every byte slice passed to WriteAll so far, for
// assertions like "the echo cancellation stripped exactly what we sent."
func (p *Port) Writes() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.writes))
	copy(out, p.writes)
	return out
}

func (p *Port) ReadAvailable(timeout time.Duration) ([]byte, error) {
	deadline := p.clock().Add(timeout)
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, port.ErrPortClosed
		}
		if len(p.pending) > 0 {
			out := p.pending
			p.pending = nil
			p.mu.Unlock()
			return out, nil
		}
		p.mu.Unlock()
		if p.clock().After(deadline) {
			return nil, nil
		}
		time.Sleep(time.Millisecond)
	}
}

func (p *Port) WriteAll(b []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return port.ErrPortClosed
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	p.writes = append(p.writes, cp)
	echo := p.EchoWrites
	p.mu.Unlock()

	if echo {
		if p.EchoDelay > 0 {
			time.Sleep(p.EchoDelay)
		}
		p.mu.Lock()
		p.pending = append(append([]byte(nil), cp...), p.pending...)
		p.mu.Unlock()
	}
	return nil
}

func (p *Port) SetBaud(rate int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.baud = rate
	return nil
}

func (p *Port) Baud() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.baud
}

func (p *Port) SetDTR(l port.Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dtr = l
	return nil
}

func (p *Port) SetRTS(l port.Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rts = l
	return nil
}

func (p *Port) Flush() error { return nil }

// Close marks the port closed; subsequent calls return ErrPortClosed.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
