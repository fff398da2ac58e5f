// Package kline implements the K-Line transport (C3): 5-baud/fast bus
// init, KWP frame exchange with echo cancellation on the shared
// half-duplex wire, P1-P4 timing, and single-retry error recovery.
package kline

import (
	"time"

	"github.com/anodyne74/bmw-kwp-engine/internal/enginerr"
	"github.com/anodyne74/bmw-kwp-engine/internal/frame"
	"github.com/anodyne74/bmw-kwp-engine/internal/port"
	"github.com/anodyne74/bmw-kwp-engine/internal/timing"
)

// Transport drives one DuplexPort. It is not safe for concurrent use;
// the scheduler (C6) is the bus's single owner. Its waits are all
// deadline reads through Port.ReadAvailable rather than spin/sleep
// hybrid waits (that policy only matters for the sub-P3_min gaps the
// scheduler's run loop enforces between dispatches), so it carries no
// timing.Policy of its own.
type Transport struct {
	Port  port.DuplexPort
	Clock timing.Clock
	Cfg   Config

	rb                *ringBuffer
	lastOverflowNoted func()
}

// New builds a Transport. clk and p may be nil-checked by callers; New
// itself assumes both are valid.
func New(p port.DuplexPort, clk timing.Clock, cfg Config) *Transport {
	return &Transport{
		Port:  p,
		Clock: clk,
		Cfg:   cfg,
		rb:    newRingBuffer(cfg.RingBufferSize),
	}
}

// OnOverflow installs a callback invoked after each read whose bytes
// overflowed the receive ring buffer (spec §4.3's "OverflowNoticed").
func (t *Transport) OnOverflow(f func()) { t.lastOverflowNoted = f }

// Init brings the bus up for targetAddr using the configured strategy.
func (t *Transport) Init(targetAddr byte) error {
	switch t.Cfg.Strategy {
	case FastInitStrategy:
		_, err := FastInit(t.Port, t.Clock, targetAddr, t.Cfg.P2Timeout)
		return err
	default:
		return FiveBaudInit(t.Port, t.Clock, targetAddr)
	}
}

// Exchange transmits a fully-built KWP request (as produced by
// frame.Build) and returns the fully-built KWP response frame's data
// payload. It strips exactly len(request) echo bytes first (spec §4.3
// "Echo cancellation"), then parses one frame from the remainder,
// honoring P2/P2* and retrying once on a checksum/incomplete failure
// past the deadline.
func (t *Transport) Exchange(ctx enginerr.Context, request []byte) (frame.Frame, error) {
	f, err := t.exchangeOnce(ctx, request)
	if err == nil {
		return f, nil
	}
	if !retryable(err) {
		return frame.Frame{}, err
	}
	return t.exchangeOnce(ctx, request)
}

func retryable(err error) bool {
	e, ok := err.(*enginerr.Error)
	if !ok {
		return false
	}
	return e.Kind == enginerr.KindFraming || e.Kind == enginerr.KindTimeout
}

func (t *Transport) exchangeOnce(ctx enginerr.Context, request []byte) (frame.Frame, error) {
	start := t.Clock.Now()

	if err := t.Port.WriteAll(request); err != nil {
		return frame.Frame{}, enginerr.Wrap(enginerr.KindTransport, ctx, "write request", err)
	}

	if err := t.stripEcho(request); err != nil {
		return frame.Frame{}, err
	}

	deadline := timing.After(t.Clock, t.Cfg.P2Timeout)
	pendingResponses := 0
	for {
		f, status, perr := t.readOneFrame(ctx, deadline)
		if perr != nil {
			if _, cancelled := perr.(*cancelledRead); cancelled {
				return frame.Frame{}, enginerr.New(enginerr.KindCancelled, withElapsed(ctx, t.Clock, start), "cancelled waiting for response")
			}
			return frame.Frame{}, enginerr.Wrap(enginerr.KindTimeout, ctx, "waiting for response", perr)
		}
		switch status {
		case frame.StatusFrame:
			if isResponsePending(f) {
				pendingResponses++
				if pendingResponses > t.Cfg.ResponsePendingMax {
					return frame.Frame{}, enginerr.New(enginerr.KindNrc, withElapsed(ctx, t.Clock, start), "exceeded response_pending_max")
				}
				deadline = timing.After(t.Clock, t.Cfg.P2StarTimeout)
				continue
			}
			return f, nil
		case frame.StatusBadChecksum:
			return frame.Frame{}, enginerr.New(enginerr.KindFraming, withElapsed(ctx, t.Clock, start), "bad checksum")
		}
	}
}

// isResponsePending recognizes a negative response [0x7F, reqService,
// NRC] whose NRC is 0x78 (spec §4.5's "response pending" extension).
func isResponsePending(f frame.Frame) bool {
	return len(f.Data) >= 3 && f.Data[0] == 0x7F && f.Data[2] == byte(enginerr.NrcResponsePending)
}

// cancelledRead signals that readOneFrame stopped because ctx was
// cancelled, not because of a real I/O timeout.
type cancelledRead struct{}

func (*cancelledRead) Error() string { return "read cancelled" }

func withElapsed(ctx enginerr.Context, clk timing.Clock, start time.Time) enginerr.Context {
	ctx.Elapsed = timing.Elapsed(clk, start)
	return ctx
}

// readOneFrame pulls bytes into the ring buffer until either a frame
// parses, a bad checksum is found, or the deadline passes (a timeout).
// It checks ctx's cancellation before each read, the "between bytes"
// safe point spec §5 requires.
func (t *Transport) readOneFrame(ctx enginerr.Context, deadline time.Time) (frame.Frame, frame.Status, error) {
	for {
		res := frame.Parse(t.rb.bytes())
		switch res.Status {
		case frame.StatusFrame, frame.StatusBadChecksum:
			t.rb.consume(res.Consumed)
			return res.Frame, res.Status, nil
		case frame.StatusBadStart:
			t.rb.consume(res.Consumed)
			continue
		}

		if ctx.Cancelled() {
			return frame.Frame{}, frame.StatusIncomplete, &cancelledRead{}
		}

		remaining := deadline.Sub(t.Clock.Now())
		if remaining <= 0 {
			return frame.Frame{}, frame.StatusIncomplete, port.ErrTimeout
		}
		chunk, err := t.Port.ReadAvailable(remaining)
		if err != nil {
			return frame.Frame{}, frame.StatusIncomplete, err
		}
		if len(chunk) == 0 {
			return frame.Frame{}, frame.StatusIncomplete, port.ErrTimeout
		}
		t.rb.push(chunk)
		if t.rb.overflowNoticed() && t.lastOverflowNoted != nil {
			t.lastOverflowNoted()
		}
	}
}

// stripEcho removes exactly len(sent) bytes that should have echoed
// back within P1 per transmitted byte, comparing each to what was sent.
func (t *Transport) stripEcho(sent []byte) error {
	need := len(sent)
	got := make([]byte, 0, need)
	deadline := timing.After(t.Clock, P1Max*time.Duration(need)+t.Cfg.P2Timeout)

	for len(got) < need {
		// make sure the ring buffer has bytes to offer before
		// resorting to a blocking read
		if len(t.rb.bytes()) > 0 {
			avail := t.rb.bytes()
			n := need - len(got)
			if n > len(avail) {
				n = len(avail)
			}
			got = append(got, avail[:n]...)
			t.rb.consume(n)
			continue
		}
		remaining := deadline.Sub(t.Clock.Now())
		if remaining <= 0 {
			return enginerr.New(enginerr.KindTransport, enginerr.Context{}, "echo_mismatch: timeout waiting for echo")
		}
		chunk, err := t.Port.ReadAvailable(remaining)
		if err != nil {
			return enginerr.Wrap(enginerr.KindTransport, enginerr.Context{}, "echo_mismatch: read error", err)
		}
		if len(chunk) > 0 {
			t.rb.push(chunk)
		}
	}

	for i := range sent {
		if sent[i] != got[i] {
			return enginerr.New(enginerr.KindTransport, enginerr.Context{}, "echo_mismatch: byte mismatch")
		}
	}
	return nil
}
