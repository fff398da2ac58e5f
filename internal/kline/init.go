package kline

import (
	"fmt"
	"time"

	"github.com/anodyne74/bmw-kwp-engine/internal/frame"
	"github.com/anodyne74/bmw-kwp-engine/internal/port"
	"github.com/anodyne74/bmw-kwp-engine/internal/timing"
)

// InitError reports which bus-init stage failed, per spec §4.3 ("Failure
// at any step → InitError(stage)").
type InitError struct {
	Stage string
	Err   error
}

func (e *InitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("kline: init failed at %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("kline: init failed at %s", e.Stage)
}

func (e *InitError) Unwrap() error { return e.Err }

// scratchReader pulls single bytes off the port within a deadline,
// buffering any extra bytes a single ReadAvailable call returned so
// init's one-byte-at-a-time protocol still sees them in order.
type scratchReader struct {
	p       port.DuplexPort
	clk     timing.Clock
	pending []byte
}

func (s *scratchReader) readByte(deadline time.Time) (byte, error) {
	for {
		if len(s.pending) > 0 {
			b := s.pending[0]
			s.pending = s.pending[1:]
			return b, nil
		}
		remaining := deadline.Sub(s.clk.Now())
		if remaining <= 0 {
			return 0, port.ErrTimeout
		}
		chunk, err := s.p.ReadAvailable(remaining)
		if err != nil {
			return 0, err
		}
		if len(chunk) > 0 {
			s.pending = append(s.pending, chunk...)
			continue
		}
		return 0, port.ErrTimeout
	}
}

// FiveBaudInit performs ISO 14230 5-baud addressing against targetAddr
// (spec §4.3, steps 1-5).
func FiveBaudInit(p port.DuplexPort, clk timing.Clock, targetAddr byte) error {
	if err := p.SetBaud(5); err != nil {
		return &InitError{Stage: "drop to 5 baud", Err: err}
	}
	if err := p.WriteAll([]byte{targetAddr}); err != nil {
		return &InitError{Stage: "transmit address", Err: err}
	}
	if err := p.SetBaud(10400); err != nil {
		return &InitError{Stage: "restore 10400 baud", Err: err}
	}

	sr := &scratchReader{p: p, clk: clk}

	sync, err := sr.readByte(timing.After(clk, W1Max))
	if err != nil {
		return &InitError{Stage: "sync byte", Err: err}
	}
	if sync != 0x55 {
		return &InitError{Stage: "sync byte", Err: fmt.Errorf("expected 0x55, got %#02x", sync)}
	}

	kb1, err := sr.readByte(timing.After(clk, W2Max))
	if err != nil {
		return &InitError{Stage: "key byte 1", Err: err}
	}
	kb2, err := sr.readByte(timing.After(clk, W3Max))
	if err != nil {
		return &InitError{Stage: "key byte 2", Err: err}
	}

	if err := p.WriteAll([]byte{^kb2}); err != nil {
		return &InitError{Stage: "send ~KB2", Err: err}
	}

	echoed, err := sr.readByte(timing.After(clk, W4Max))
	if err != nil {
		return &InitError{Stage: "echo of ~addr", Err: err}
	}
	if echoed != ^targetAddr {
		return &InitError{Stage: "echo of ~addr", Err: fmt.Errorf("expected %#02x, got %#02x", ^targetAddr, echoed)}
	}
	_ = kb1 // KB1/KB2 identify the ECU's supported timing parameters set; callers needing them can extend this to return both.
	return nil
}

// FastInit performs ISO 14230 fast initialization (spec §4.3): hold TX
// low 25ms, high 25ms, then send StartCommunication and expect a
// positive response within P2.
func FastInit(p port.DuplexPort, clk timing.Clock, targetAddr byte, p2 time.Duration) ([]byte, error) {
	if err := p.SetRTS(port.Low); err != nil {
		return nil, &InitError{Stage: "hold line low", Err: err}
	}
	time.Sleep(fastInitLowHigh)
	if err := p.SetRTS(port.High); err != nil {
		return nil, &InitError{Stage: "hold line high", Err: err}
	}
	time.Sleep(fastInitLowHigh)

	req := startCommunicationRequest(targetAddr)
	if err := p.WriteAll(req); err != nil {
		return nil, &InitError{Stage: "send StartCommunication", Err: err}
	}

	sr := &scratchReader{p: p, clk: clk}
	deadline := timing.After(clk, p2)
	var resp []byte
	for i := 0; i < len(req); i++ {
		eb, err := sr.readByte(deadline)
		if err != nil {
			return nil, &InitError{Stage: "echo of StartCommunication", Err: err}
		}
		if eb != req[i] {
			return nil, &InitError{Stage: "echo of StartCommunication", Err: fmt.Errorf("byte %d mismatch: sent %#02x got %#02x", i, req[i], eb)}
		}
	}
	for {
		b, err := sr.readByte(deadline)
		if err != nil {
			return nil, &InitError{Stage: "StartCommunication response", Err: err}
		}
		resp = append(resp, b)
		if res := frame.Parse(resp); res.Status == frame.StatusFrame {
			return resp[:res.Consumed], nil
		}
	}
}

// startCommunicationRequest builds the fixed StartCommunication frame
// from spec §4.3: 0x81, target, 0xF1, 0x81, checksum.
func startCommunicationRequest(target byte) []byte {
	body := []byte{0x81, target, 0xF1, 0x81}
	var sum int
	for _, v := range body {
		sum += int(v)
	}
	return append(body, byte(sum%256))
}
