package isotp

import (
	"testing"
	"time"

	"github.com/anodyne74/bmw-kwp-engine/internal/enginerr"
	"github.com/anodyne74/bmw-kwp-engine/internal/port"
	"github.com/anodyne74/bmw-kwp-engine/internal/timing"
	"github.com/anodyne74/bmw-kwp-engine/testing/mockport"
)

func testTransport(bus *mockport.CanBus) *Transport {
	return New(bus, timing.SystemClock{}, DefaultConfig(), 0x612, 0x12)
}

func TestSendSingleFrame(t *testing.T) {
	bus := mockport.NewCanBus()
	tr := testTransport(bus)
	if err := tr.Send(enginerr.Context{}, []byte{0x22, 0xF1, 0x90}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	sent := bus.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(sent))
	}
	if sent[0].Data[0] != 0x03 || sent[0].Data[1] != 0x22 {
		t.Fatalf("unexpected single frame: %x", sent[0].Data)
	}
}

func TestReceiveSingleFrame(t *testing.T) {
	bus := mockport.NewCanBus()
	tr := testTransport(bus)
	var f port.CanFrame
	f.ID = 0x12
	f.Data = [8]byte{0x03, 0x62, 0xF1, 0x90}
	f.Len = 8
	bus.ScriptFrame(f)

	got, err := tr.Receive(enginerr.Context{}, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("receive failed: %v", err)
	}
	if len(got) != 3 || got[0] != 0x62 {
		t.Fatalf("unexpected payload: %x", got)
	}
}

// nextSent waits up to timeout for bus to have transmitted frame n
// (0-based) and returns it. The mock bus records sends in Sent() rather
// than delivering them to Receive, so the relay below reads from there.
func nextSent(bus *mockport.CanBus, n int, timeout time.Duration) (port.CanFrame, bool) {
	deadline := time.Now().Add(timeout)
	for {
		if sent := bus.Sent(); len(sent) > n {
			return sent[n], true
		}
		if time.Now().After(deadline) {
			return port.CanFrame{}, false
		}
		time.Sleep(time.Millisecond)
	}
}

// Scenario D (spec §8): FF/FC/CF1/CF2 exchange, round-tripping a
// payload that needs two consecutive frames.
func TestSendAndReceiveSegmented(t *testing.T) {
	sendBus := mockport.NewCanBus()
	recvBus := mockport.NewCanBus()
	sender := New(sendBus, timing.SystemClock{}, DefaultConfig(), 0x612, 0x12)
	receiver := New(recvBus, timing.SystemClock{}, DefaultConfig(), 0x12, 0x612)

	payload := make([]byte, 14)
	for i := range payload {
		payload[i] = byte(i + 1)
	}

	errc := make(chan error, 1)
	go func() {
		errc <- sender.Send(enginerr.Context{}, payload)
	}()

	// relay FF from sendBus -> recvBus, then FC back, then CFs, as a
	// real CAN bus would deliver them between the two endpoints.
	ff, ok := nextSent(sendBus, 0, time.Second)
	if !ok {
		t.Fatalf("expected FF from sender")
	}
	ff.ID = 0x612
	recvBus.ScriptFrame(ff)

	go func() {
		got, rerr := receiver.Receive(enginerr.Context{}, time.Second)
		if rerr != nil {
			t.Errorf("receiver failed: %v", rerr)
			return
		}
		if len(got) != len(payload) {
			t.Errorf("expected %d bytes reassembled, got %d", len(payload), len(got))
			return
		}
		for i := range payload {
			if got[i] != payload[i] {
				t.Errorf("byte %d mismatch: want %#x got %#x", i, payload[i], got[i])
				return
			}
		}
	}()

	fc, ok := nextSent(recvBus, 0, time.Second)
	if !ok {
		t.Fatalf("expected FC from receiver")
	}
	fc.ID = 0x12
	sendBus.ScriptFrame(fc)

	for i := 0; i < 2; i++ {
		cf, ok := nextSent(sendBus, 1+i, time.Second)
		if !ok {
			t.Fatalf("expected CF %d from sender", i)
		}
		cf.ID = 0x612
		recvBus.ScriptFrame(cf)
	}

	if err := <-errc; err != nil {
		t.Fatalf("sender failed: %v", err)
	}
}

func TestReceiveRejectsSequenceGap(t *testing.T) {
	bus := mockport.NewCanBus()
	tr := testTransport(bus)

	var ff port.CanFrame
	ff.ID = 0x12
	ff.Data = [8]byte{0x10, 0x0A, 1, 2, 3, 4, 5, 6}
	ff.Len = 8
	bus.ScriptFrame(ff)

	var badCF port.CanFrame
	badCF.ID = 0x12
	badCF.Data = [8]byte{0x22, 7, 8, 9, 10, 0, 0, 0} // sequence 2, expected 1
	badCF.Len = 8
	bus.ScriptFrame(badCF)

	_, err := tr.Receive(enginerr.Context{}, 200*time.Millisecond)
	if err == nil {
		t.Fatal("expected sequence gap error")
	}
}

func TestReceiveRejectsLengthExceedingMax(t *testing.T) {
	bus := mockport.NewCanBus()
	cfg := DefaultConfig()
	cfg.MaxLen = 10
	tr := New(bus, timing.SystemClock{}, cfg, 0x612, 0x12)

	var ff port.CanFrame
	ff.ID = 0x12
	ff.Data = [8]byte{0x10, 0x20, 1, 2, 3, 4, 5, 6} // declares length 32
	ff.Len = 8
	bus.ScriptFrame(ff)

	_, err := tr.Receive(enginerr.Context{}, 200*time.Millisecond)
	if err == nil {
		t.Fatal("expected MAX_ISOTP_LEN rejection")
	}
}
