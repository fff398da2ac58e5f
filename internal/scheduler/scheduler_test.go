package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/anodyne74/bmw-kwp-engine/internal/enginerr"
	"github.com/anodyne74/bmw-kwp-engine/internal/timing"
)

func TestSubmitAndRunExecutesRequest(t *testing.T) {
	s := New(timing.SystemClock{}, time.Millisecond)
	go s.Run()
	defer s.Stop()

	req := s.Submit(Normal, enginerr.Context{}, func(ctx enginerr.Context) ([]byte, error) {
		return []byte{0x42}, nil
	})
	res := req.Result()
	if res.Err != nil || len(res.Data) != 1 || res.Data[0] != 0x42 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

// High priority requests are drained fully before Normal or Low get a
// turn (spec §4.6).
func TestHighPriorityDrainsBeforeOthers(t *testing.T) {
	s := New(timing.SystemClock{}, 0)

	var mu sync.Mutex
	var order []string
	record := func(name string) func(ctx enginerr.Context) ([]byte, error) {
		return func(ctx enginerr.Context) ([]byte, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil, nil
		}
	}

	// submit before starting Run, so all three are queued together
	s.Submit(Low, enginerr.Context{}, record("low1"))
	s.Submit(Normal, enginerr.Context{}, record("normal1"))
	s.Submit(High, enginerr.Context{}, record("high1"))
	s.Submit(High, enginerr.Context{}, record("high2"))
	last := s.Submit(Low, enginerr.Context{}, record("low2"))

	go s.Run()
	defer s.Stop()
	last.Result()

	mu.Lock()
	defer mu.Unlock()
	if len(order) < 4 {
		t.Fatalf("expected at least 4 dispatches, got %v", order)
	}
	if order[0] != "high1" || order[1] != "high2" {
		t.Fatalf("expected both High requests first, got %v", order)
	}
	if order[2] != "normal1" {
		t.Fatalf("expected Normal dispatched after High drains, got %v", order)
	}
}

func TestCancelBeforeDispatchIsDropped(t *testing.T) {
	s := New(timing.SystemClock{}, 0)
	executed := false
	req := s.Submit(Low, enginerr.Context{}, func(ctx enginerr.Context) ([]byte, error) {
		executed = true
		return nil, nil
	})
	req.Cancel()

	go s.Run()
	defer s.Stop()
	res := req.Result()
	if executed {
		t.Fatal("expected cancelled request to never execute")
	}
	ee, ok := res.Err.(*enginerr.Error)
	if !ok || ee.Kind != enginerr.KindCancelled {
		t.Fatalf("expected KindCancelled, got %#v", res.Err)
	}
}

func TestCancelByIDAbortsQueuedRequest(t *testing.T) {
	s := New(timing.SystemClock{}, 0)
	executed := false
	req := s.Submit(Low, enginerr.Context{}, func(ctx enginerr.Context) ([]byte, error) {
		executed = true
		return nil, nil
	})

	if !s.CancelByID(req.ID) {
		t.Fatal("expected CancelByID to find the queued request")
	}
	if s.CancelByID(99999) {
		t.Fatal("expected CancelByID to report false for an unknown id")
	}

	go s.Run()
	defer s.Stop()
	res := req.Result()
	if executed {
		t.Fatal("expected cancelled request to never execute")
	}
	ee, ok := res.Err.(*enginerr.Error)
	if !ok || ee.Kind != enginerr.KindCancelled {
		t.Fatalf("expected KindCancelled, got %#v", res.Err)
	}
}

func TestReadPIDsPreservesOrder(t *testing.T) {
	s := New(timing.SystemClock{}, 0)
	go s.Run()
	defer s.Stop()

	pids := []byte{0x0C, 0x0D, 0x05}
	reqs := s.ReadPIDs(enginerr.Context{}, pids, func(ctx enginerr.Context, pid byte) ([]byte, error) {
		return []byte{pid}, nil
	})
	if len(reqs) != len(pids) {
		t.Fatalf("expected %d requests, got %d", len(pids), len(reqs))
	}
	for i, req := range reqs {
		res := req.Result()
		if res.Err != nil || res.Data[0] != pids[i] {
			t.Fatalf("pid %d: unexpected result %+v", i, res)
		}
	}
}
