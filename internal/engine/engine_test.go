package engine

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/anodyne74/bmw-kwp-engine/internal/catalog"
	"github.com/anodyne74/bmw-kwp-engine/internal/enginerr"
	"github.com/anodyne74/bmw-kwp-engine/internal/scheduler"
	"github.com/anodyne74/bmw-kwp-engine/internal/services"
	"github.com/anodyne74/bmw-kwp-engine/internal/session"
	"github.com/anodyne74/bmw-kwp-engine/internal/timing"
)

// fakeRequester answers by service byte, the way scriptedRequester in
// internal/session's tests scripts whole exchanges; here the handler is
// keyed so a test can script several distinct services in one Engine.
type fakeRequester struct {
	mu      sync.Mutex
	handler map[byte]func(req []byte) ([]byte, error)
	calls   [][]byte
}

func newFakeRequester() *fakeRequester {
	return &fakeRequester{handler: make(map[byte]func([]byte) ([]byte, error))}
}

func (f *fakeRequester) on(service byte, h func(req []byte) ([]byte, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler[service] = h
}

func (f *fakeRequester) Request(ctx enginerr.Context, req []byte) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]byte(nil), req...))
	h, ok := f.handler[req[0]]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("fakeRequester: no handler for service %#02x", req[0])
	}
	return h(req)
}

func newTestEngine(t *testing.T) (*Engine, *scheduler.Scheduler, *fakeRequester) {
	t.Helper()
	clk := timing.SystemClock{}
	sched := scheduler.New(clk, time.Millisecond)
	freq := newFakeRequester()
	sess := session.New("DDE", freq, clk, session.DefaultConfig())

	desc, ok := catalog.NewDefault().Lookup("DDE")
	if !ok {
		t.Fatal("catalog missing DDE")
	}
	e := &Engine{
		Catalog:   catalog.NewDefault(),
		Scheduler: sched,
		Clock:     clk,
		Cfg:       DefaultConfig(),
		handles:   map[string]*ecuHandle{"DDE": {desc: desc, sess: sess, probe: services.NewIDProbe(), picked: catalog.TransportKLine}},
	}
	go sched.Run()
	t.Cleanup(sched.Stop)
	return e, sched, freq
}

func TestPickTransportPrefersHintWhenSupported(t *testing.T) {
	desc := catalog.EcuDescriptor{ID: "DDE", Transports: catalog.TransportKLine | catalog.TransportDCan}
	got, err := pickTransport(desc, catalog.TransportDCan)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != catalog.TransportDCan {
		t.Fatalf("expected DCan, got %v", got)
	}
}

func TestPickTransportFallsBackToSoleTransport(t *testing.T) {
	desc := catalog.EcuDescriptor{ID: "EGS", Transports: catalog.TransportKLine}
	got, err := pickTransport(desc, catalog.TransportDCan)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != catalog.TransportKLine {
		t.Fatalf("expected fallback to KLine, got %v", got)
	}
}

func TestPickTransportErrorsWhenNoneSupported(t *testing.T) {
	desc := catalog.EcuDescriptor{ID: "GHOST", Transports: 0}
	if _, err := pickTransport(desc, 0); err == nil {
		t.Fatal("expected error for ecu with no usable transport")
	}
}

func TestReadDTCsParsesZeroFaults(t *testing.T) {
	e, _, freq := newTestEngine(t)
	freq.on(0x18, func(req []byte) ([]byte, error) {
		return []byte{0x58, req[1]}, nil
	})

	dtcs, err := e.ReadDTCs("DDE")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dtcs) != 0 {
		t.Fatalf("expected zero dtcs, got %d", len(dtcs))
	}
}

func TestReadDTCsParsesOneFault(t *testing.T) {
	e, _, freq := newTestEngine(t)
	freq.on(0x18, func(req []byte) ([]byte, error) {
		return []byte{0x58, req[1], 0x2A, 0xAF, 0x24}, nil
	})

	dtcs, err := e.ReadDTCs("DDE")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dtcs) != 1 || dtcs[0].Code != "P2AAF" {
		t.Fatalf("unexpected dtcs: %+v", dtcs)
	}
}

func TestClearDTCsDefaultsToAllGroups(t *testing.T) {
	e, _, freq := newTestEngine(t)
	var seenGroup uint32
	freq.on(0x14, func(req []byte) ([]byte, error) {
		seenGroup = uint32(req[1])<<16 | uint32(req[2])<<8 | uint32(req[3])
		return []byte{0x54}, nil
	})

	if err := e.ClearDTCs("DDE", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seenGroup != services.ClearAllGroups {
		t.Fatalf("expected all-groups sentinel, got %#x", seenGroup)
	}
}

func TestReadPIDParsesScaledValue(t *testing.T) {
	e, _, freq := newTestEngine(t)
	freq.on(0x21, func(req []byte) ([]byte, error) {
		return []byte{0x61, req[1], 0x0B, 0xB8}, nil
	})

	sample, err := e.ReadPID("DDE", 0x0C)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sample.Value != 750 {
		t.Fatalf("expected 750 rpm, got %f", sample.Value)
	}
}

func TestReadPIDsPreservesOrder(t *testing.T) {
	e, _, freq := newTestEngine(t)
	freq.on(0x21, func(req []byte) ([]byte, error) {
		return []byte{0x61, req[1], 0x00, req[1]}, nil
	})

	samples, err := e.ReadPIDs("DDE", []byte{0x0C, 0x0D, 0x11})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(samples) != 3 || samples[0].Pid != 0x0C || samples[1].Pid != 0x0D || samples[2].Pid != 0x11 {
		t.Fatalf("order not preserved: %+v", samples)
	}
}

func TestRoutineControlFallsBackToAltID(t *testing.T) {
	e, _, freq := newTestEngine(t)
	def := services.DPFRoutines["start_forced_regen"]
	var calls int
	freq.on(0x31, func(req []byte) ([]byte, error) {
		calls++
		id := uint16(req[2])<<8 | uint16(req[3])
		if id == def.Primary {
			return nil, enginerr.NewNRC(enginerr.Context{}, byte(enginerr.NrcServiceNotSupported))
		}
		return []byte{0x71, req[1]}, nil
	})

	if _, err := e.RoutineControl("DDE", "start_forced_regen", services.RoutineStart, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected primary then alt attempt, got %d calls", calls)
	}
}

func TestSessionControlTransitionsState(t *testing.T) {
	e, _, freq := newTestEngine(t)
	freq.on(0x10, func(req []byte) ([]byte, error) {
		return []byte{0x50, req[1]}, nil
	})
	if err := e.handles["DDE"].sess.Open(enginerr.Context{}); err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := e.SessionControl("DDE", session.KindExtended); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.handles["DDE"].sess.State() != session.StateExtended {
		t.Fatalf("expected Extended state, got %v", e.handles["DDE"].sess.State())
	}
}

func TestCloseRemovesHandleAndClosesSession(t *testing.T) {
	e, _, _ := newTestEngine(t)
	sess := e.handles["DDE"].sess

	e.Close("DDE")

	if _, ok := e.handles["DDE"]; ok {
		t.Fatal("expected handle to be removed")
	}
	if sess.State() != session.StateClosed {
		t.Fatalf("expected session closed, got %v", sess.State())
	}
}

func TestOperationOnUnopenedEcuErrors(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.Close("DDE")

	if _, err := e.ReadDTCs("DDE"); err == nil {
		t.Fatal("expected error reading dtcs from an unopened ecu")
	}
}
