// Package session owns the per-ECU session state machine (C5): the
// Closed/Default/Extended/Programming lifecycle, TesterPresent
// keepalive scheduling, the request execution protocol (P2/P2*,
// response-pending, NRC-to-typed-error mapping), and two-step
// SecurityAccess.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/anodyne74/bmw-kwp-engine/internal/enginerr"
	"github.com/anodyne74/bmw-kwp-engine/internal/timing"
)

// State is a session lifecycle state (spec §4.5).
type State int

const (
	StateClosed State = iota
	StateDefault
	StateExtended
	StateProgramming
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateDefault:
		return "Default"
	case StateExtended:
		return "Extended"
	case StateProgramming:
		return "Programming"
	default:
		return "Unknown"
	}
}

// SessionKind is the sub-function byte DiagnosticSessionControl (0x10)
// carries.
type SessionKind byte

const (
	KindDefault     SessionKind = 0x01
	KindProgramming SessionKind = 0x02
	KindExtended    SessionKind = 0x03
)

func (k SessionKind) state() State {
	switch k {
	case KindProgramming:
		return StateProgramming
	case KindExtended:
		return StateExtended
	default:
		return StateDefault
	}
}

// Requester is the transport-agnostic request/response collaborator a
// Session drives: either internal/kline.Transport or
// internal/isotp.Transport, each adapted to this shape.
type Requester interface {
	Request(ctx enginerr.Context, req []byte) ([]byte, error)
}

// SeedKeyAlgorithm computes a SecurityAccess key from an ECU-supplied
// seed. The core only specifies the call shape (spec §4.5); the
// algorithm itself is ECU-specific and supplied by an external
// collaborator.
type SeedKeyAlgorithm interface {
	ComputeKey(level byte, seed []byte) ([]byte, error)
}

// Config holds the session layer's tunables (spec §6).
type Config struct {
	P2Timeout          time.Duration
	P2StarTimeout      time.Duration
	ResponsePendingMax int
	S3Client           time.Duration // keepalive interval basis
}

func DefaultConfig() Config {
	return Config{
		P2Timeout:          50 * time.Millisecond,
		P2StarTimeout:      5000 * time.Millisecond,
		ResponsePendingMax: 10,
		S3Client:           2 * time.Second,
	}
}

// Session tracks one ECU's lifecycle state, security level, and
// keepalive bookkeeping. Grounded on the teacher's RWMutex-guarded
// map-of-state Manager, generalized from "VIN -> Vehicle" to a single
// ECU's own state guarded the same way, since requests arrive from any
// goroutine (spec §5) while the scheduler drains them from one.
type Session struct {
	EcuID   string
	Req     Requester
	Clock   timing.Clock
	Cfg     Config
	SeedKey SeedKeyAlgorithm

	mu                sync.RWMutex
	state             State
	securityLevel     byte
	lastActivity      time.Time
	keepaliveFailures int
	securityDelay     time.Time // zero unless a required-delay NRC is outstanding
}

func New(ecuID string, req Requester, clk timing.Clock, cfg Config) *Session {
	return &Session{
		EcuID: ecuID,
		Req:   req,
		Clock: clk,
		Cfg:   cfg,
		state: StateClosed,
	}
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SecurityLevel reports the currently unlocked security level, 0 if
// none.
func (s *Session) SecurityLevel() byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.securityLevel
}

// Open transitions Closed -> Default by confirming the ECU answers a
// default DiagnosticSessionControl. Callers are responsible for having
// already brought the underlying transport up (kline.Transport.Init or
// the ISO-TP bus being live); Open is the session-layer handshake on
// top of that.
func (s *Session) Open(ctx enginerr.Context) error {
	ctx.EcuID = s.EcuID
	_, err := s.execute(ctx, 0x10, []byte{byte(KindDefault)})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.state = StateDefault
	s.lastActivity = s.Clock.Now()
	s.keepaliveFailures = 0
	s.mu.Unlock()
	return nil
}

// Close transitions to Closed unconditionally; it does not notify the
// ECU (spec §4.5 allows "explicit close" with no wire requirement
// beyond simply ceasing to send TesterPresent).
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
	s.securityLevel = 0
}

// ChangeSession issues DiagnosticSessionControl(kind) and, on success,
// moves to the corresponding state.
func (s *Session) ChangeSession(ctx enginerr.Context, kind SessionKind) error {
	ctx.EcuID = s.EcuID
	if s.State() == StateClosed {
		return enginerr.New(enginerr.KindState, ctx, "session is closed")
	}
	_, err := s.execute(ctx, 0x10, []byte{byte(kind)})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.state = kind.state()
	s.lastActivity = s.Clock.Now()
	s.mu.Unlock()
	return nil
}

// RequestSeed issues SecurityAccess(level) and returns the positive
// response payload: the echoed level byte followed by the ECU's seed.
// Returns an error without contacting the ECU if a required-delay NRC
// is still outstanding from a prior failed attempt (spec §4.5).
func (s *Session) RequestSeed(ctx enginerr.Context, level byte) ([]byte, error) {
	ctx.EcuID = s.EcuID
	if err := s.checkSecurityDelay(ctx); err != nil {
		return nil, err
	}
	resp, err := s.execute(ctx, 0x27, []byte{level})
	if err != nil {
		s.noteSecurityFailure(err)
		return nil, err
	}
	return resp, nil
}

// SubmitKey computes the key via SeedKey and submits it at level+1, per
// spec §4.5's two-step handshake. On success the session's security
// level advances to level.
func (s *Session) SubmitKey(ctx enginerr.Context, level byte, seed []byte) error {
	ctx.EcuID = s.EcuID
	if s.SeedKey == nil {
		return enginerr.New(enginerr.KindConfig, ctx, "no SeedKeyAlgorithm configured")
	}
	key, err := s.SeedKey.ComputeKey(level, seed)
	if err != nil {
		return enginerr.Wrap(enginerr.KindConfig, ctx, "seed/key algorithm failed", err)
	}
	req := append([]byte{level + 1}, key...)
	if _, err := s.execute(ctx, 0x27, req); err != nil {
		s.noteSecurityFailure(err)
		return err
	}
	s.mu.Lock()
	s.securityLevel = level
	s.mu.Unlock()
	return nil
}

func (s *Session) checkSecurityDelay(ctx enginerr.Context) error {
	s.mu.RLock()
	delay := s.securityDelay
	s.mu.RUnlock()
	if delay.IsZero() {
		return nil
	}
	if s.Clock.Now().Before(delay) {
		return enginerr.New(enginerr.KindState, ctx, "security access delay not yet elapsed")
	}
	return nil
}

// noteSecurityFailure honors RequiredTimeDelayNotExpired, InvalidKey
// and ExceededNumberOfAttempts by refusing further security attempts
// until a delay elapses (spec §4.5). The delay window itself is not
// specified by the ECU response here, so a fixed guard window is
// applied; callers retry after it passes.
func (s *Session) noteSecurityFailure(err error) {
	e, ok := err.(*enginerr.Error)
	if !ok || e.Kind != enginerr.KindNrc {
		return
	}
	switch enginerr.NRC(e.Nrc) {
	case enginerr.NrcInvalidKey, enginerr.NrcExceededNumberOfAttempts, enginerr.NrcRequiredTimeDelayNotExpired:
		s.mu.Lock()
		s.securityDelay = s.Clock.Now().Add(10 * time.Second)
		s.mu.Unlock()
	}
}

// NeedsKeepalive reports whether a TesterPresent is due: the session is
// Extended or Programming and the idle time has reached 75% of
// S3Client (spec §4.5).
func (s *Session) NeedsKeepalive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateExtended && s.state != StateProgramming {
		return false
	}
	threshold := time.Duration(float64(s.Cfg.S3Client) * 0.75)
	return s.Clock.Now().Sub(s.lastActivity) >= threshold
}

// Keepalive sends a suppress-positive-response TesterPresent. Three
// consecutive failures downgrade the session to Closed.
func (s *Session) Keepalive(ctx enginerr.Context) error {
	ctx.EcuID = s.EcuID
	_, err := s.Req.Request(ctx, []byte{0x3E, 0x80})
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.keepaliveFailures++
		if s.keepaliveFailures >= 3 {
			s.state = StateClosed
			s.securityLevel = 0
		}
		return err
	}
	s.keepaliveFailures = 0
	s.lastActivity = s.Clock.Now()
	return nil
}

// Execute runs the request execution protocol (spec §4.5 steps 1-5)
// for an arbitrary service request and returns the positive response's
// payload (with the echoed service-ack byte stripped).
func (s *Session) Execute(ctx enginerr.Context, service byte, params []byte) ([]byte, error) {
	ctx.EcuID = s.EcuID
	ctx.Service = service
	resp, err := s.execute(ctx, service, params)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.lastActivity = s.Clock.Now()
	s.mu.Unlock()
	return resp, nil
}

func (s *Session) execute(ctx enginerr.Context, service byte, params []byte) ([]byte, error) {
	req := append([]byte{service}, params...)
	resp, err := s.Req.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, enginerr.New(enginerr.KindFraming, ctx, "empty response")
	}
	if resp[0] == 0x7F {
		if len(resp) < 3 {
			return nil, enginerr.New(enginerr.KindFraming, ctx, "malformed negative response")
		}
		return nil, enginerr.NewNRC(ctx, resp[2])
	}
	if resp[0] != service+0x40 {
		return nil, enginerr.New(enginerr.KindFraming, ctx, fmt.Sprintf("unexpected response service %#02x", resp[0]))
	}
	return resp[1:], nil
}
