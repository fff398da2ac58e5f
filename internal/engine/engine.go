// Package engine wires C1-C9 into the spec §6 operation surface:
// list_ecus, open_ecu, read_dtcs, clear_dtcs, read_pid, read_pids,
// routine_control, security_access, session_control, cancel, close.
// It is the only package a collaborator (a CLI, a dashboard server, a
// test) imports; everything else in internal/ is a leaf it composes.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/anodyne74/bmw-kwp-engine/internal/catalog"
	"github.com/anodyne74/bmw-kwp-engine/internal/enginerr"
	"github.com/anodyne74/bmw-kwp-engine/internal/isotp"
	"github.com/anodyne74/bmw-kwp-engine/internal/kline"
	"github.com/anodyne74/bmw-kwp-engine/internal/port"
	"github.com/anodyne74/bmw-kwp-engine/internal/scheduler"
	"github.com/anodyne74/bmw-kwp-engine/internal/services"
	"github.com/anodyne74/bmw-kwp-engine/internal/session"
	"github.com/anodyne74/bmw-kwp-engine/internal/timing"
)

// Config mirrors the spec §6 options table. Zero value is not usable;
// use DefaultConfig.
type Config struct {
	P2Timeout          time.Duration
	P2StarTimeout      time.Duration
	P3Min              time.Duration
	S3Client           time.Duration
	IsoTpMaxLen        int
	ResponsePendingMax int
	MinSpinUs          int
	BusInitStrategy    kline.InitStrategy
}

// DefaultConfig matches spec §6's defaults.
func DefaultConfig() Config {
	return Config{
		P2Timeout:          50 * time.Millisecond,
		P2StarTimeout:      5000 * time.Millisecond,
		P3Min:              55 * time.Millisecond,
		S3Client:           2000 * time.Millisecond,
		IsoTpMaxLen:        isotp.DefaultMaxLen,
		ResponsePendingMax: 10,
		MinSpinUs:          500,
		BusInitStrategy:    kline.FiveBaud,
	}
}

// ecuHandle is one opened ECU's live state: its session and the id
// probe tracking which DPF routine ids have been resolved for it.
type ecuHandle struct {
	desc   catalog.EcuDescriptor
	sess   *session.Session
	probe  *services.IDProbe
	picked catalog.Transport
}

// Engine is the process-wide diagnostic engine: one shared K-Line
// transport (the bus is physically one wire, however many ECUs answer
// on it), one CAN bus shared by however many ISO-TP transports (one per
// open ECU, since each needs its own tx/rx id pair), a single-owner
// scheduler, and a catalog of known ECUs. Clock and both ports are
// always injected (spec §9 "global mutable state: none").
type Engine struct {
	Catalog   *catalog.Catalog
	Scheduler *scheduler.Scheduler
	Clock     timing.Clock
	Cfg       Config

	kPort port.DuplexPort
	cBus  port.CanBus

	kTransport *kline.Transport

	mu      sync.Mutex
	handles map[string]*ecuHandle
}

// New builds an Engine. Either kPort or cBus (or both) may be nil if
// the deployment only ever talks to ECUs on one of the two buses.
func New(cat *catalog.Catalog, sched *scheduler.Scheduler, clk timing.Clock, cfg Config, kPort port.DuplexPort, cBus port.CanBus) *Engine {
	e := &Engine{
		Catalog:   cat,
		Scheduler: sched,
		Clock:     clk,
		Cfg:       cfg,
		kPort:     kPort,
		cBus:      cBus,
		handles:   make(map[string]*ecuHandle),
	}
	// The scheduler is the only component that still waits on a
	// sub-P3_min gap via timing.SleepUntil, so min_spin_us (spec §6)
	// is honored there.
	sched.Policy = timing.Policy{MinSpinUs: cfg.MinSpinUs, SleepSlackMs: 2}
	if kPort != nil {
		e.kTransport = kline.New(kPort, clk, kline.Config{
			P2Timeout:          cfg.P2Timeout,
			P2StarTimeout:      cfg.P2StarTimeout,
			P3Min:              cfg.P3Min,
			ResponsePendingMax: cfg.ResponsePendingMax,
			Strategy:           cfg.BusInitStrategy,
		})
	}
	return e
}

// ListEcus returns the catalog's full descriptor table.
func (e *Engine) ListEcus() []catalog.EcuDescriptor {
	return e.Catalog.List()
}

// OpenEcu brings up the bus (if K-Line) and opens a Default session
// against ecuID. transportHint selects K-Line or D-CAN when an ECU
// supports both; pass 0 to let the descriptor's only transport decide.
func (e *Engine) OpenEcu(ecuID string, transportHint catalog.Transport) error {
	desc, ok := e.Catalog.Lookup(ecuID)
	if !ok {
		return fmt.Errorf("engine: unknown ecu %q", ecuID)
	}
	picked, err := pickTransport(desc, transportHint)
	if err != nil {
		return err
	}
	req, err := e.buildRequester(desc, picked)
	if err != nil {
		return err
	}

	if picked == catalog.TransportKLine {
		if err := e.kTransport.Init(*desc.KLineAddr); err != nil {
			return err
		}
	}

	sess := session.New(ecuID, req, e.Clock, session.Config{
		P2Timeout:          e.Cfg.P2Timeout,
		P2StarTimeout:      e.Cfg.P2StarTimeout,
		ResponsePendingMax: e.Cfg.ResponsePendingMax,
		S3Client:           e.Cfg.S3Client,
	})

	res := e.Scheduler.Submit(scheduler.High, enginerr.Context{EcuID: ecuID}, func(ctx enginerr.Context) ([]byte, error) {
		return nil, sess.Open(ctx)
	}).Result()
	if res.Err != nil {
		return res.Err
	}

	e.mu.Lock()
	e.handles[ecuID] = &ecuHandle{desc: desc, sess: sess, probe: services.NewIDProbe(), picked: picked}
	e.mu.Unlock()
	return nil
}

func pickTransport(desc catalog.EcuDescriptor, hint catalog.Transport) (catalog.Transport, error) {
	if hint != 0 && desc.Transports.Supports(hint) {
		return hint, nil
	}
	if desc.Transports.Supports(catalog.TransportKLine) {
		return catalog.TransportKLine, nil
	}
	if desc.Transports.Supports(catalog.TransportDCan) {
		return catalog.TransportDCan, nil
	}
	return 0, fmt.Errorf("engine: ecu %q supports no usable transport", desc.ID)
}

func (e *Engine) buildRequester(desc catalog.EcuDescriptor, picked catalog.Transport) (session.Requester, error) {
	switch picked {
	case catalog.TransportKLine:
		if e.kTransport == nil {
			return nil, enginerr.New(enginerr.KindConfig, enginerr.Context{EcuID: desc.ID}, "no K-Line port configured")
		}
		return &session.KLineRequester{Transport: e.kTransport, Source: 0xF1, Destination: *desc.KLineAddr}, nil
	case catalog.TransportDCan:
		if e.cBus == nil {
			return nil, enginerr.New(enginerr.KindConfig, enginerr.Context{EcuID: desc.ID}, "no CAN bus configured")
		}
		t := isotp.New(e.cBus, e.Clock, isotp.Config{
			MaxLen:     e.Cfg.IsoTpMaxLen,
			BlockSize:  0,
			STmin:      0,
			PaddingLen: 8,
		}, *desc.CanTxID, *desc.CanRxID)
		return &session.IsoTpRequester{
			Transport: t,
			Clock:     e.Clock,
			Cfg: session.Config{
				P2Timeout:          e.Cfg.P2Timeout,
				P2StarTimeout:      e.Cfg.P2StarTimeout,
				ResponsePendingMax: e.Cfg.ResponsePendingMax,
			},
		}, nil
	default:
		return nil, fmt.Errorf("engine: unsupported transport %v", picked)
	}
}

func (e *Engine) handle(ecuID string) (*ecuHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.handles[ecuID]
	if !ok {
		return nil, fmt.Errorf("engine: ecu %q is not open", ecuID)
	}
	return h, nil
}

// submit wraps a scheduler request at priority around fn, the shape
// every read/write operation below shares.
func (e *Engine) submit(priority scheduler.Priority, ecuID string, fn func(ctx enginerr.Context) ([]byte, error)) ([]byte, error) {
	res := e.Scheduler.Submit(priority, enginerr.Context{EcuID: ecuID}, fn).Result()
	return res.Data, res.Err
}

// ReadDTCs issues ReadDTCInformation (service 0x18) against ecuID.
func (e *Engine) ReadDTCs(ecuID string) ([]services.Dtc, error) {
	h, err := e.handle(ecuID)
	if err != nil {
		return nil, err
	}
	resp, err := e.submit(scheduler.Normal, ecuID, func(ctx enginerr.Context) ([]byte, error) {
		return h.sess.Execute(ctx, 0x18, services.BuildReadDTCInformation(0x02, 0xFF))
	})
	if err != nil {
		return nil, err
	}
	return services.ParseReadDTCInformation(resp)
}

// ClearDTCs issues ClearDiagnosticInformation (service 0x14). group
// defaults to services.ClearAllGroups when 0.
func (e *Engine) ClearDTCs(ecuID string, group uint32) error {
	h, err := e.handle(ecuID)
	if err != nil {
		return err
	}
	if group == 0 {
		group = services.ClearAllGroups
	}
	_, err = e.submit(scheduler.Normal, ecuID, func(ctx enginerr.Context) ([]byte, error) {
		return h.sess.Execute(ctx, 0x14, services.BuildClearDiagnosticInformation(group))
	})
	return err
}

// ReadPID issues ReadDataByIdentifier (service 0x21) for one pid.
func (e *Engine) ReadPID(ecuID string, pid byte) (services.PidSample, error) {
	h, err := e.handle(ecuID)
	if err != nil {
		return services.PidSample{}, err
	}
	resp, err := e.submit(scheduler.Low, ecuID, func(ctx enginerr.Context) ([]byte, error) {
		return h.sess.Execute(ctx, 0x21, services.BuildReadDataByIdentifier(pid))
	})
	if err != nil {
		return services.PidSample{}, err
	}
	return services.ParseReadDataByIdentifier(resp, services.DefaultPIDTable, e.Clock.Now())
}

// ReadPIDs batches multiple PID reads as Low-priority scheduler
// requests, preserving caller order (spec §4.6).
func (e *Engine) ReadPIDs(ecuID string, pids []byte) ([]services.PidSample, error) {
	h, err := e.handle(ecuID)
	if err != nil {
		return nil, err
	}
	reqs := e.Scheduler.ReadPIDs(enginerr.Context{EcuID: ecuID}, pids, func(ctx enginerr.Context, pid byte) ([]byte, error) {
		return h.sess.Execute(ctx, 0x21, services.BuildReadDataByIdentifier(pid))
	})
	samples := make([]services.PidSample, len(reqs))
	for i, r := range reqs {
		res := r.Result()
		if res.Err != nil {
			return nil, res.Err
		}
		s, err := services.ParseReadDataByIdentifier(res.Data, services.DefaultPIDTable, e.Clock.Now())
		if err != nil {
			return nil, err
		}
		samples[i] = s
	}
	return samples, nil
}

// RoutineControl runs the named DPF routine (spec §6's routine table),
// probing primary/alt ids per ECU the way RunRoutine documents.
func (e *Engine) RoutineControl(ecuID, routineName string, subfunc byte, params []byte) ([]byte, error) {
	h, err := e.handle(ecuID)
	if err != nil {
		return nil, err
	}
	def, ok := services.DPFRoutines[routineName]
	if !ok {
		return nil, fmt.Errorf("engine: unknown routine %q", routineName)
	}
	return e.submit(scheduler.Normal, ecuID, func(ctx enginerr.Context) ([]byte, error) {
		return services.RunRoutine(h.probe, def, subfunc, params, func(req []byte) ([]byte, error) {
			return h.sess.Execute(ctx, 0x31, req)
		})
	})
}

// SeedKeyAlgorithm lets a caller supply the ECU-specific seed/key
// function required by SecurityAccess (spec §4.5); engine only
// sequences the two-step handshake.
type SeedKeyAlgorithm = session.SeedKeyAlgorithm

// SecurityAccess runs the seed-request/key-submit handshake at level,
// using fn to compute the key from the ECU's seed.
func (e *Engine) SecurityAccess(ecuID string, level byte, fn SeedKeyAlgorithm) error {
	h, err := e.handle(ecuID)
	if err != nil {
		return err
	}
	h.sess.SeedKey = fn

	resp, err := e.submit(scheduler.High, ecuID, func(ctx enginerr.Context) ([]byte, error) {
		return h.sess.RequestSeed(ctx, level)
	})
	if err != nil {
		return err
	}
	if len(resp) < 1 {
		return enginerr.New(enginerr.KindFraming, enginerr.Context{EcuID: ecuID, Service: 0x27}, "empty seed response")
	}
	seed := resp[1:] // strip the echoed level byte
	_, err = e.submit(scheduler.High, ecuID, func(ctx enginerr.Context) ([]byte, error) {
		return nil, h.sess.SubmitKey(ctx, level, seed)
	})
	return err
}

// SessionControl issues DiagnosticSessionControl(kind) against an
// already-open ECU.
func (e *Engine) SessionControl(ecuID string, kind session.SessionKind) error {
	h, err := e.handle(ecuID)
	if err != nil {
		return err
	}
	_, err = e.submit(scheduler.High, ecuID, func(ctx enginerr.Context) ([]byte, error) {
		return nil, h.sess.ChangeSession(ctx, kind)
	})
	return err
}

// Cancel aborts an in-flight or not-yet-dispatched scheduler request
// given its *scheduler.Request handle.
func Cancel(req *scheduler.Request) { req.Cancel() }

// CancelRequest implements the spec §6 cancel(request_id) operation:
// aborts the request identified by id, wherever it is in the scheduler
// (queued or in flight), and reports whether it was found. id is the
// value observed on a *scheduler.Request returned by Engine.Scheduler.Submit
// or on the RequestID carried by an enginerr.Error/Context.
func (e *Engine) CancelRequest(requestID uint64) bool {
	return e.Scheduler.CancelByID(requestID)
}

// Close transitions ecuID's session to Closed and drops its handle.
// It does not notify the ECU (spec §4.5).
func (e *Engine) Close(ecuID string) {
	e.mu.Lock()
	h, ok := e.handles[ecuID]
	delete(e.handles, ecuID)
	e.mu.Unlock()
	if ok {
		h.sess.Close()
	}
}

// keepaliveTick is how often RunKeepalive polls open sessions for
// NeedsKeepalive. It must be small relative to S3_client's 75% keepalive
// threshold (spec §4.5) so a due TesterPresent is submitted promptly
// rather than drifting past S3_client before it's even queued.
const keepaliveTick = 100 * time.Millisecond

// RunKeepalive polls every open session and, for each one that
// NeedsKeepalive reports due (Extended/Programming, idle past 75% of
// S3_client), submits a High-priority TesterPresent (spec §4.5, §8
// invariant 6). It blocks until stop is closed; call it with `go` once
// per Engine, the same way cmd/dashboard runs pollLoop and the
// scheduler's own Run loop as background goroutines.
func (e *Engine) RunKeepalive(stop <-chan struct{}) {
	ticker := time.NewTicker(keepaliveTick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.submitDueKeepalives()
		case <-stop:
			return
		}
	}
}

func (e *Engine) submitDueKeepalives() {
	e.mu.Lock()
	handles := make([]*ecuHandle, 0, len(e.handles))
	for _, h := range e.handles {
		handles = append(handles, h)
	}
	e.mu.Unlock()

	for _, h := range handles {
		h := h
		if !h.sess.NeedsKeepalive() {
			continue
		}
		e.Scheduler.Submit(scheduler.High, enginerr.Context{EcuID: h.desc.ID}, func(ctx enginerr.Context) ([]byte, error) {
			return nil, h.sess.Keepalive(ctx)
		})
	}
}
