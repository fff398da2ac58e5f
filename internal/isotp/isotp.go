// Package isotp implements ISO 15765-2 segmentation over a port.CanBus
// (C4): Single/First/Consecutive/Flow-Control frame codec, a sender
// that honors flow control's block size and STmin, and a receiver that
// reassembles into a fixed-capacity buffer with sequence checking.
package isotp

import (
	"fmt"
	"time"

	"github.com/anodyne74/bmw-kwp-engine/internal/enginerr"
	"github.com/anodyne74/bmw-kwp-engine/internal/port"
	"github.com/anodyne74/bmw-kwp-engine/internal/timing"
)

// frame type nibbles (spec §4.4).
const (
	pciSingle      = 0x0
	pciFirst       = 0x1
	pciConsecutive = 0x2
	pciFlowControl = 0x3
)

// Flow control status values.
const (
	fcContinue = 0
	fcWait     = 1
	fcAbort    = 2
)

// DefaultMaxLen is spec §4.4's MAX_ISOTP_LEN default.
const DefaultMaxLen = 4095

// N_Bs and N_Cr per spec §4.4.
const (
	NBs = 1000 * time.Millisecond
	NCr = 1000 * time.Millisecond
)

// IsoTpError reports a segmentation-layer fault, distinct from the
// transport- and NRC-level errors in enginerr so sequence-gap aborts
// are identifiable regardless of the enclosing session's error kind.
type IsoTpError struct {
	Reason string
}

func (e *IsoTpError) Error() string { return fmt.Sprintf("isotp: %s", e.Reason) }

func sequenceError(want, got byte) *IsoTpError {
	return &IsoTpError{Reason: fmt.Sprintf("sequence: expected %#x, got %#x", want, got)}
}

// Config holds the segmentation layer's tunables.
type Config struct {
	MaxLen     int  // MAX_ISOTP_LEN cap on reassembled payload size
	BlockSize  byte // BS advertised in our Flow Control frames, 0 = unlimited
	STmin      byte // STmin advertised in our Flow Control frames
	PaddingLen int  // 0 disables padding; CAN classic frames are 8 bytes so this is normally 8
}

// DefaultConfig matches spec §4.4's defaults: unlimited block size, no
// minimum separation time required of the sender, 8-byte classic CAN
// frames.
func DefaultConfig() Config {
	return Config{MaxLen: DefaultMaxLen, BlockSize: 0, STmin: 0, PaddingLen: 8}
}

// Transport drives one CAN ID pair (txID for our frames, rxID for the
// peer's) over a shared port.CanBus. It is not safe for concurrent use.
type Transport struct {
	Bus   port.CanBus
	Clock timing.Clock
	Cfg   Config
	TxID  uint32
	RxID  uint32
}

func New(bus port.CanBus, clk timing.Clock, cfg Config, txID, rxID uint32) *Transport {
	return &Transport{Bus: bus, Clock: clk, Cfg: cfg, TxID: txID, RxID: rxID}
}

// Send segments payload into SF or FF+CF... frames and transmits them,
// honoring Flow Control between FF and the first CF, and at every
// block-size boundary.
func (t *Transport) Send(ctx enginerr.Context, payload []byte) error {
	if len(payload) <= 7 {
		return t.sendFrame(append([]byte{byte(pciSingle<<4) | byte(len(payload))}, payload...))
	}

	first := buildFirstFrame(payload)
	if err := t.sendFrame(first); err != nil {
		return err
	}

	fc, err := t.awaitFlowControl(ctx)
	if err != nil {
		return err
	}

	seq := byte(1)
	sent := 6
	framesSinceFC := 0
	for sent < len(payload) {
		if ctx.Cancelled() {
			return enginerr.New(enginerr.KindCancelled, ctx, "cancelled between consecutive frames")
		}
		if fc.blockSize > 0 && framesSinceFC == int(fc.blockSize) {
			fc, err = t.awaitFlowControl(ctx)
			if err != nil {
				return err
			}
			framesSinceFC = 0
		}
		if fc.stmin > 0 {
			time.Sleep(fc.stmin)
		}

		end := sent + 7
		if end > len(payload) {
			end = len(payload)
		}
		cf := append([]byte{byte(pciConsecutive<<4) | seq}, payload[sent:end]...)
		if err := t.sendFrame(cf); err != nil {
			return err
		}
		sent = end
		seq = (seq + 1) & 0x0F
		framesSinceFC++
	}
	return nil
}

func buildFirstFrame(payload []byte) []byte {
	length := len(payload)
	ff := make([]byte, 8)
	ff[0] = byte(pciFirst<<4) | byte((length>>8)&0x0F)
	ff[1] = byte(length & 0xFF)
	copy(ff[2:], payload[:6])
	return ff
}

func (t *Transport) sendFrame(data []byte) error {
	var cf port.CanFrame
	cf.ID = t.TxID
	n := copy(cf.Data[:], data)
	if t.Cfg.PaddingLen > n {
		n = t.Cfg.PaddingLen
	}
	cf.Len = uint8(n)
	return t.Bus.Send(cf)
}

type flowControl struct {
	status    byte
	blockSize byte
	stmin     time.Duration
}

func (t *Transport) awaitFlowControl(ctx enginerr.Context) (flowControl, error) {
	deadline := timing.After(t.Clock, NBs)
	for {
		remaining := deadline.Sub(t.Clock.Now())
		if remaining <= 0 {
			return flowControl{}, enginerr.New(enginerr.KindTimeout, ctx, "isotp: N_Bs exceeded waiting for flow control")
		}
		f, ok, err := t.Bus.Receive(t.RxID, remaining)
		if err != nil {
			return flowControl{}, enginerr.Wrap(enginerr.KindTransport, ctx, "isotp: receive flow control", err)
		}
		if !ok || f.Len == 0 || f.Data[0]>>4 != pciFlowControl {
			continue
		}
		status := f.Data[0] & 0x0F
		if status == fcAbort {
			return flowControl{}, enginerr.New(enginerr.KindTransport, ctx, "isotp: flow control abort")
		}
		fc := flowControl{status: status, blockSize: f.Data[1], stmin: decodeSTmin(f.Data[2])}
		if status == fcWait {
			continue
		}
		return fc, nil
	}
}

func decodeSTmin(b byte) time.Duration {
	switch {
	case b <= 0x7F:
		return time.Duration(b) * time.Millisecond
	case b >= 0xF1 && b <= 0xF9:
		return time.Duration(b-0xF0) * 100 * time.Microsecond
	default:
		return 0
	}
}

// Receive waits for and reassembles one full message, emitting Flow
// Control immediately after a First Frame and enforcing sequence
// monotonicity and the N_Cr inter-CF timeout.
func (t *Transport) Receive(ctx enginerr.Context, timeout time.Duration) ([]byte, error) {
	deadline := timing.After(t.Clock, timeout)
	f, err := t.recvFrame(ctx, deadline)
	if err != nil {
		return nil, err
	}
	if f.Len == 0 {
		return nil, enginerr.New(enginerr.KindIsoTp, ctx, "isotp: empty frame")
	}

	switch f.Data[0] >> 4 {
	case pciSingle:
		n := int(f.Data[0] & 0x0F)
		if n > int(f.Len)-1 {
			return nil, enginerr.New(enginerr.KindIsoTp, ctx, "isotp: single frame length exceeds data")
		}
		return append([]byte(nil), f.Data[1:1+n]...), nil

	case pciFirst:
		return t.receiveSegmented(ctx, f, deadline)

	default:
		return nil, enginerr.New(enginerr.KindIsoTp, ctx, fmt.Sprintf("isotp: unexpected frame type %#x while waiting for message", f.Data[0]>>4))
	}
}

func (t *Transport) receiveSegmented(ctx enginerr.Context, first port.CanFrame, deadline time.Time) ([]byte, error) {
	length := int(first.Data[0]&0x0F)<<8 | int(first.Data[1])
	max := t.Cfg.MaxLen
	if max <= 0 {
		max = DefaultMaxLen
	}
	if length > max {
		return nil, enginerr.New(enginerr.KindIsoTp, ctx, fmt.Sprintf("isotp: declared length %d exceeds MAX_ISOTP_LEN %d", length, max))
	}

	buf := make([]byte, 0, length)
	firstChunk := 6
	if length < firstChunk {
		firstChunk = length
	}
	buf = append(buf, first.Data[2:2+firstChunk]...)

	if err := t.sendFlowControl(ctx, fcContinue); err != nil {
		return nil, err
	}

	expect := byte(1)
	for len(buf) < length {
		if ctx.Cancelled() {
			return nil, enginerr.New(enginerr.KindCancelled, ctx, "cancelled between consecutive frames")
		}
		cfDeadline := timing.After(t.Clock, NCr)
		if cfDeadline.After(deadline) {
			cfDeadline = deadline
		}
		f, err := t.recvFrame(ctx, cfDeadline)
		if err != nil {
			return nil, err
		}
		if f.Len == 0 || f.Data[0]>>4 != pciConsecutive {
			return nil, enginerr.New(enginerr.KindIsoTp, ctx, "isotp: expected consecutive frame")
		}
		seq := f.Data[0] & 0x0F
		if seq != expect {
			return nil, enginerr.Wrap(enginerr.KindIsoTp, ctx, "isotp: consecutive frame out of sequence", sequenceError(expect, seq))
		}
		remain := length - len(buf)
		n := int(f.Len) - 1
		if n > remain {
			n = remain
		}
		buf = append(buf, f.Data[1:1+n]...)
		expect = (expect + 1) & 0x0F
	}
	return buf, nil
}

func (t *Transport) sendFlowControl(ctx enginerr.Context, status byte) error {
	fc := []byte{byte(pciFlowControl<<4) | status, t.Cfg.BlockSize, t.Cfg.STmin}
	return t.sendFrame(fc)
}

func (t *Transport) recvFrame(ctx enginerr.Context, deadline time.Time) (port.CanFrame, error) {
	remaining := deadline.Sub(t.Clock.Now())
	if remaining <= 0 {
		return port.CanFrame{}, enginerr.New(enginerr.KindTimeout, ctx, "isotp: timeout waiting for frame")
	}
	f, ok, err := t.Bus.Receive(t.RxID, remaining)
	if err != nil {
		return port.CanFrame{}, enginerr.Wrap(enginerr.KindTransport, ctx, "isotp: receive", err)
	}
	if !ok {
		return port.CanFrame{}, enginerr.New(enginerr.KindTimeout, ctx, "isotp: timeout waiting for frame")
	}
	return f, nil
}
