// Package enginerr is the error taxonomy described in spec §7: typed
// kinds the session/scheduler/transport layers return, carrying request
// id, ECU id, service byte and elapsed time for context.
package enginerr

import (
	"fmt"
	"time"
)

// Kind discriminates the taxonomy's top-level categories.
type Kind int

const (
	KindTransport Kind = iota
	KindFraming
	KindIsoTp
	KindTimeout
	KindNrc
	KindState
	KindCancelled
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "TransportError"
	case KindFraming:
		return "FramingError"
	case KindIsoTp:
		return "IsoTpError"
	case KindTimeout:
		return "Timeout"
	case KindNrc:
		return "Nrc"
	case KindState:
		return "StateError"
	case KindCancelled:
		return "Cancelled"
	case KindConfig:
		return "ConfigError"
	default:
		return "UnknownError"
	}
}

// Context is the diagnostic context every surfaced error carries. Cancel,
// when non-nil, is checked by the transport layers at their safe points
// (between bytes on K-Line, between segmented frames on ISO-TP) so a
// scheduler-level cancellation aborts promptly without waiting out the
// full P2/P2* deadline.
type Context struct {
	RequestID uint64
	EcuID     string
	Service   byte
	Elapsed   time.Duration
	Cancel    <-chan struct{}
}

// Cancelled reports whether ctx's cancel signal has fired.
func (c Context) Cancelled() bool {
	if c.Cancel == nil {
		return false
	}
	select {
	case <-c.Cancel:
		return true
	default:
		return false
	}
}

// Error is the engine's uniform error type: a Kind plus a message plus
// context. Session/scheduler errors are always *Error so callers can
// type-assert and branch on Kind without string matching.
type Error struct {
	Kind    Kind
	Message string
	Ctx     Context
	Nrc     byte // meaningful only when Kind == KindNrc
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (ecu=%s service=%#02x req=%d elapsed=%s)",
		e.Kind, e.Message, e.Ctx.EcuID, e.Ctx.Service, e.Ctx.RequestID, e.Ctx.Elapsed)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, ctx Context, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Ctx: ctx}
}

func Wrap(kind Kind, ctx Context, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Ctx: ctx, Err: err}
}

// NRC is a Negative Response Code, per spec §4.5 / §7.
type NRC byte

const (
	NrcGeneralReject               NRC = 0x10
	NrcServiceNotSupported         NRC = 0x11
	NrcSubFunctionNotSupported     NRC = 0x12
	NrcResponseTooLong             NRC = 0x14
	NrcBusyRepeatRequest           NRC = 0x21
	NrcConditionsNotCorrect        NRC = 0x22
	NrcRequestSequenceError        NRC = 0x24
	NrcSecurityAccessDenied        NRC = 0x33
	NrcInvalidKey                  NRC = 0x35
	NrcExceededNumberOfAttempts    NRC = 0x36
	NrcRequiredTimeDelayNotExpired NRC = 0x37
	NrcResponsePending             NRC = 0x78
)

// Name renders the NRC's symbolic name, falling back to the catch-all
// "Nrc(code)" form spec §4.5 specifies for unrecognized codes.
func (n NRC) Name() string {
	switch n {
	case NrcGeneralReject:
		return "GeneralReject"
	case NrcServiceNotSupported:
		return "ServiceNotSupported"
	case NrcSubFunctionNotSupported:
		return "SubFunctionNotSupported"
	case NrcResponseTooLong:
		return "ResponseTooLong"
	case NrcBusyRepeatRequest:
		return "BusyRepeatRequest"
	case NrcConditionsNotCorrect:
		return "ConditionsNotCorrect"
	case NrcRequestSequenceError:
		return "RequestSequenceError"
	case NrcSecurityAccessDenied:
		return "SecurityAccessDenied"
	case NrcInvalidKey:
		return "InvalidKey"
	case NrcExceededNumberOfAttempts:
		return "ExceededNumberOfAttempts"
	case NrcRequiredTimeDelayNotExpired:
		return "RequiredTimeDelayNotExpired"
	case NrcResponsePending:
		return "ResponsePending"
	default:
		return fmt.Sprintf("Nrc(%#02x)", byte(n))
	}
}

// NewNRC builds the typed negative-response error for code, per spec
// §4.5's list.
func NewNRC(ctx Context, code byte) *Error {
	n := NRC(code)
	return &Error{Kind: KindNrc, Message: n.Name(), Ctx: ctx, Nrc: code}
}
