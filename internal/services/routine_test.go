package services

import (
	"testing"

	"github.com/anodyne74/bmw-kwp-engine/internal/enginerr"
)

func TestRunRoutineUsesPrimaryOnSuccess(t *testing.T) {
	probe := NewIDProbe()
	def := DPFRoutines["start_forced_regen"]
	var seenID uint16

	_, err := RunRoutine(probe, def, RoutineStart, nil, func(req []byte) ([]byte, error) {
		seenID = uint16(req[1])<<8 | uint16(req[2])
		return []byte{0x71, RoutineStart}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seenID != def.Primary {
		t.Fatalf("expected primary id %#x, got %#x", def.Primary, seenID)
	}
	if id, ok := probe.Resolved(def.Name); !ok || id != def.Primary {
		t.Fatalf("expected primary id remembered, got %#x ok=%v", id, ok)
	}
}

func TestRunRoutineFallsBackToAltOnServiceNotSupported(t *testing.T) {
	probe := NewIDProbe()
	def := DPFRoutines["reset_ash_counter"]
	calls := 0

	_, err := RunRoutine(probe, def, RoutineStart, nil, func(req []byte) ([]byte, error) {
		calls++
		id := uint16(req[1])<<8 | uint16(req[2])
		if id == def.Primary {
			return nil, enginerr.NewNRC(enginerr.Context{}, byte(enginerr.NrcServiceNotSupported))
		}
		return []byte{0x71, RoutineStart}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts (primary then alt), got %d", calls)
	}
	if id, ok := probe.Resolved(def.Name); !ok || id != def.Alt {
		t.Fatalf("expected alt id remembered, got %#x ok=%v", id, ok)
	}
}

func TestRunRoutineReusesResolvedID(t *testing.T) {
	probe := NewIDProbe()
	def := DPFRoutines["register_new_dpf"]
	probe.Remember(def.Name, def.Alt)
	calls := 0

	_, err := RunRoutine(probe, def, RoutineStart, nil, func(req []byte) ([]byte, error) {
		calls++
		id := uint16(req[1])<<8 | uint16(req[2])
		if id != def.Alt {
			t.Fatalf("expected to skip straight to remembered alt id, got %#x", id)
		}
		return []byte{0x71, RoutineStart}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call when id already resolved, got %d", calls)
	}
}

func TestRunRoutinePropagatesOtherErrors(t *testing.T) {
	probe := NewIDProbe()
	def := DPFRoutines["reset_dpf_learned"]

	_, err := RunRoutine(probe, def, RoutineStart, nil, func(req []byte) ([]byte, error) {
		return nil, enginerr.NewNRC(enginerr.Context{}, byte(enginerr.NrcConditionsNotCorrect))
	})
	if err == nil {
		t.Fatal("expected ConditionsNotCorrect to propagate without alt-id fallback")
	}
}
