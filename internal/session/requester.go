package session

import (
	"github.com/anodyne74/bmw-kwp-engine/internal/enginerr"
	"github.com/anodyne74/bmw-kwp-engine/internal/frame"
	"github.com/anodyne74/bmw-kwp-engine/internal/isotp"
	"github.com/anodyne74/bmw-kwp-engine/internal/kline"
	"github.com/anodyne74/bmw-kwp-engine/internal/timing"
)

// KLineRequester adapts a kline.Transport to Requester. kline.Transport
// already implements the P2/P2*/response-pending loop (spec §4.3), so
// this adapter only needs to build the KWP frame and unwrap the
// response payload.
type KLineRequester struct {
	Transport   *kline.Transport
	Source      byte // our tester address, conventionally 0xF1
	Destination byte // the ECU's k_line_addr
}

func (r *KLineRequester) Request(ctx enginerr.Context, req []byte) ([]byte, error) {
	built, err := frame.Build(r.Source, r.Destination, req)
	if err != nil {
		return nil, enginerr.Wrap(enginerr.KindFraming, ctx, "build request frame", err)
	}
	f, err := r.Transport.Exchange(ctx, built)
	if err != nil {
		return nil, err
	}
	return f.Data, nil
}

// IsoTpRequester adapts an isotp.Transport to Requester, implementing
// the session layer's P2/P2*/response-pending loop (spec §4.5 steps
// 2-3) on top of isotp's plain send/receive, since the segmentation
// layer itself has no notion of KWP timing.
type IsoTpRequester struct {
	Transport *isotp.Transport
	Clock     timing.Clock
	Cfg       Config
}

func (r *IsoTpRequester) Request(ctx enginerr.Context, req []byte) ([]byte, error) {
	if err := r.Transport.Send(ctx, req); err != nil {
		return nil, err
	}

	timeout := r.Cfg.P2Timeout
	pendingResponses := 0
	for {
		resp, err := r.Transport.Receive(ctx, timeout)
		if err != nil {
			return nil, err
		}
		if isResponsePending(resp) {
			pendingResponses++
			if pendingResponses > r.Cfg.ResponsePendingMax {
				return nil, enginerr.New(enginerr.KindNrc, ctx, "exceeded response_pending_max")
			}
			timeout = r.Cfg.P2StarTimeout
			continue
		}
		return resp, nil
	}
}

func isResponsePending(resp []byte) bool {
	return len(resp) >= 3 && resp[0] == 0x7F && resp[2] == byte(enginerr.NrcResponsePending)
}
