// Package scheduler serializes access to a single-owner bus (C6): three
// priority queues, a drain-High-then-one-Normal-then-one-Low dispatch
// rule, a P3_min inter-request gap, and cooperative cancellation.
// Grounded on samsamfire-gocanopen's Network/BusManager single-owner bus
// pattern and the teacher's Simulator.Start select-on-channel run loop,
// generalized from a fixed-interval ticker to a priority work queue.
package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/anodyne74/bmw-kwp-engine/internal/enginerr"
	"github.com/anodyne74/bmw-kwp-engine/internal/timing"
)

// Priority is a request's queue class (spec §4.6).
type Priority int

const (
	High Priority = iota
	Normal
	Low
)

// Result carries a request's outcome back to its submitter.
type Result struct {
	Data []byte
	Err  error
}

// Request is one unit of scheduled work. Exec is called on the
// scheduler's single run-loop goroutine; it must not block past what
// its own transport deadlines allow.
type Request struct {
	ID       uint64 // monotonically assigned (spec §3 Request.id)
	Priority Priority
	Exec     func(ctx enginerr.Context) ([]byte, error)
	Ctx      enginerr.Context

	done      chan Result
	cancel    chan struct{}
	cancelled bool
	mu        sync.Mutex
}

// Cancel requests cancellation. If the request has not yet been
// dispatched it is dropped with no Exec call; if it is in flight, Exec
// observes ctx.Cancel at its next safe point (spec §5).
func (r *Request) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled {
		return
	}
	r.cancelled = true
	close(r.cancel)
}

// Result blocks until the request completes (or is cancelled before
// dispatch) and returns its outcome.
func (r *Request) Result() Result {
	return <-r.done
}

// Scheduler owns the bus's only handle and drains three priority
// queues in a single goroutine (spec §5's "single-threaded cooperative"
// model). Submit is safe to call from any goroutine.
type Scheduler struct {
	mu      sync.Mutex
	high    []*Request
	norm    []*Request
	low     []*Request
	wake    chan struct{}
	done    chan struct{}
	clock   timing.Clock
	p3min   time.Duration
	nextID  uint64
	pending map[uint64]*Request

	// Policy governs the hybrid spin/sleep wait this scheduler uses for
	// the P3_min inter-request gap (spec §4.1/§6 min_spin_us). Defaults
	// to timing.DefaultPolicy; set it directly after New to honor a
	// configured min_spin_us.
	Policy timing.Policy
}

func New(clk timing.Clock, p3min time.Duration) *Scheduler {
	return &Scheduler{
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		clock:   clk,
		p3min:   p3min,
		pending: make(map[uint64]*Request),
		Policy:  timing.DefaultPolicy,
	}
}

// Submit enqueues req at its priority, preserving FIFO order within
// that priority (spec §5's ordering guarantee), and returns it so the
// caller can await Result or call Cancel. The returned Request's ID
// can be handed to another goroutine so it can CancelByID before the
// submitter's call to Result returns (spec §6 cancel(request_id)).
func (s *Scheduler) Submit(priority Priority, ctx enginerr.Context, exec func(ctx enginerr.Context) ([]byte, error)) *Request {
	id := atomic.AddUint64(&s.nextID, 1)
	req := &Request{
		ID:       id,
		Priority: priority,
		Exec:     exec,
		Ctx:      ctx,
		done:     make(chan Result, 1),
		cancel:   make(chan struct{}),
	}
	req.Ctx.Cancel = req.cancel
	req.Ctx.RequestID = id

	s.mu.Lock()
	switch priority {
	case High:
		s.high = append(s.high, req)
	case Low:
		s.low = append(s.low, req)
	default:
		s.norm = append(s.norm, req)
	}
	s.pending[id] = req
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return req
}

// CancelByID cancels the request identified by id, whether it is still
// queued or already in flight, and reports whether such a request was
// found. This is the scheduler-level half of the exposed cancel(request_id)
// operation (spec §6); the engine layer forwards to it.
func (s *Scheduler) CancelByID(id uint64) bool {
	s.mu.Lock()
	req, ok := s.pending[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	req.Cancel()
	return true
}

// ReadPIDs enqueues one Low-priority request per item in pids,
// preserving caller order (spec §4.6's batch-read rule), and returns
// their Requests so callers can await the whole batch or stream
// partial results as each completes.
func (s *Scheduler) ReadPIDs(ctx enginerr.Context, pids []byte, read func(ctx enginerr.Context, pid byte) ([]byte, error)) []*Request {
	reqs := make([]*Request, len(pids))
	for i, pid := range pids {
		pid := pid
		reqs[i] = s.Submit(Low, ctx, func(ctx enginerr.Context) ([]byte, error) {
			return read(ctx, pid)
		})
	}
	return reqs
}

// Run drains the queues until Stop is called. It must run on its own
// goroutine; it is the bus's single owner for its lifetime. Each cycle
// implements spec §4.6's dispatch rule literally: drain High fully,
// then dispatch at most one Normal, then at most one Low, then loop
// back around to recheck High — so a Normal backlog can never starve
// Low polling of its one-per-cycle turn.
func (s *Scheduler) Run() {
	for {
		dispatchedAny := false

		for {
			req := s.popHigh()
			if req == nil {
				break
			}
			dispatchedAny = true
			s.dispatch(req)
			if s.stopped() {
				return
			}
			s.waitP3()
		}

		if req := s.popNormal(); req != nil {
			dispatchedAny = true
			s.dispatch(req)
			if s.stopped() {
				return
			}
			s.waitP3()
		}

		if req := s.popLow(); req != nil {
			dispatchedAny = true
			s.dispatch(req)
			if s.stopped() {
				return
			}
			s.waitP3()
		}

		if !dispatchedAny {
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
	}
}

func (s *Scheduler) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Scheduler) waitP3() {
	timing.SleepUntil(s.clock, timing.After(s.clock, s.p3min), s.Policy)
}

// Stop halts Run after its current dispatch finishes.
func (s *Scheduler) Stop() { close(s.done) }

func (s *Scheduler) popHigh() *Request   { return s.popFrom(&s.high) }
func (s *Scheduler) popNormal() *Request { return s.popFrom(&s.norm) }
func (s *Scheduler) popLow() *Request    { return s.popFrom(&s.low) }

func (s *Scheduler) popFrom(q *[]*Request) *Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(*q) == 0 {
		return nil
	}
	req := (*q)[0]
	*q = (*q)[1:]
	return req
}

func (s *Scheduler) dispatch(req *Request) {
	defer func() {
		s.mu.Lock()
		delete(s.pending, req.ID)
		s.mu.Unlock()
	}()

	req.mu.Lock()
	cancelled := req.cancelled
	req.mu.Unlock()
	if cancelled {
		req.done <- Result{Err: enginerr.New(enginerr.KindCancelled, req.Ctx, "cancelled before dispatch")}
		return
	}

	data, err := req.Exec(req.Ctx)
	req.done <- Result{Data: data, Err: err}
}
