package mockport

import (
	"sync"
	"time"

	"github.com/anodyne74/bmw-kwp-engine/internal/port"
)

// CanBus is a scripted port.CanBus: Send records transmitted frames,
// and ScriptFrame queues frames to return from Receive,
// keyed by rx ID.
type CanBus struct {
	mu      sync.Mutex
	sent    []port.CanFrame
	inboxes map[uint32][]port.CanFrame
	closed  bool
}

func NewCanBus() *CanBus {
	return &CanBus{inboxes: make(map[uint32][]port.CanFrame)}
}

// ScriptFrame queues f to be returned by the next Receive call for
// f.ID.
func (b *CanBus) ScriptFrame(f port.CanFrame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inboxes[f.ID] = append(b.inboxes[f.ID], f)
}

func (b *CanBus) Sent() []port.CanFrame {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]port.CanFrame, len(b.sent))
	copy(out, b.sent)
	return out
}

func (b *CanBus) Send(f port.CanFrame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return port.ErrPortClosed
	}
	b.sent = append(b.sent, f)
	return nil
}

func (b *CanBus) Receive(rxID uint32, timeout time.Duration) (port.CanFrame, bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return port.CanFrame{}, false, port.ErrPortClosed
		}
		queue := b.inboxes[rxID]
		if len(queue) > 0 {
			f := queue[0]
			b.inboxes[rxID] = queue[1:]
			b.mu.Unlock()
			return f, true, nil
		}
		b.mu.Unlock()
		if time.Now().After(deadline) {
			return port.CanFrame{}, false, nil
		}
		time.Sleep(time.Millisecond)
	}
}

func (b *CanBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}
