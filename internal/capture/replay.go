package capture

import (
	"fmt"
	"log"
	"time"
)

// ExchangeHandler receives each replayed Exchange in order.
type ExchangeHandler func(Exchange)

// Replayer plays a captured Session back at its original (or scaled)
// pacing, the way the teacher's root capture.Replayer replays CAN
// frames against a FrameHandler. Here the unit is an Exchange, and
// pacing is derived from Exchange.Timestamp deltas instead of a raw
// frame timestamp field.
type Replayer struct {
	Session      *Session
	Speed        float64 // 1.0 = real-time; higher is faster
	CurrentIndex int
}

// NewReplayer creates a Replayer over session at real-time speed.
func NewReplayer(session *Session) *Replayer {
	return &Replayer{Session: session, Speed: 1.0}
}

// Play replays every exchange in session order, sleeping between
// exchanges to honor their recorded spacing (scaled by Speed), and
// calls handler for each.
func (r *Replayer) Play(handler ExchangeHandler) error {
	if len(r.Session.Exchanges) == 0 {
		return fmt.Errorf("capture: no exchanges to replay")
	}

	start := time.Now()
	sessionStart := r.Session.Exchanges[0].Timestamp

	for i, ex := range r.Session.Exchanges {
		r.CurrentIndex = i

		targetDelay := ex.Timestamp.Sub(sessionStart)
		actualDelay := time.Since(start)
		adjusted := time.Duration(float64(targetDelay) / r.Speed)

		if actualDelay < adjusted {
			time.Sleep(adjusted - actualDelay)
		}

		handler(ex)
	}
	r.CurrentIndex = len(r.Session.Exchanges)
	return nil
}

// SetSpeed sets the replay speed multiplier, falling back to 1.0 for a
// non-positive value.
func (r *Replayer) SetSpeed(speed float64) {
	if speed <= 0 {
		log.Printf("capture: invalid replay speed %v, using 1.0", speed)
		r.Speed = 1.0
		return
	}
	r.Speed = speed
}

// JumpTo advances CurrentIndex to the first exchange at or after t.
func (r *Replayer) JumpTo(t time.Time) error {
	for i, ex := range r.Session.Exchanges {
		if !ex.Timestamp.Before(t) {
			r.CurrentIndex = i
			return nil
		}
	}
	return fmt.Errorf("capture: no exchange at or after %s", t)
}

// Progress returns how far through the session CurrentIndex is, in
// [0, 1].
func (r *Replayer) Progress() float64 {
	if len(r.Session.Exchanges) == 0 {
		return 0
	}
	return float64(r.CurrentIndex) / float64(len(r.Session.Exchanges))
}
