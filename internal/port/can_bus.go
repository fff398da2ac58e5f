package port

import (
	"context"
	"sync"
	"time"

	"github.com/brutella/can"
)

// CanBusAdapter is the real D-CAN frame I/O adapter, backed by
// github.com/brutella/can's SocketCAN bus. The lifecycle (context-scoped
// subscribe goroutine, Publish/Subscribe shape) follows
// other_examples' librescoot-ecu-service BaseECU pattern: one
// subscriber goroutine feeds a channel per rx ID that Receive drains.
type CanBusAdapter struct {
	bus    *can.Bus
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	inboxes map[uint32]chan CanFrame
}

// frameHandler adapts can.Handler to fan incoming frames out to the
// per-ID inbox channels Receive reads from.
type frameHandler struct{ a *CanBusAdapter }

func (h frameHandler) Handle(f can.Frame) {
	h.a.mu.Lock()
	ch, ok := h.a.inboxes[uint32(f.ID)]
	h.a.mu.Unlock()
	if !ok {
		return
	}
	cf := CanFrame{ID: uint32(f.ID), Len: f.Length}
	copy(cf.Data[:], f.Data[:])
	select {
	case ch <- cf:
	default:
		// receiver isn't listening fast enough; drop rather than block
		// the bus's dispatch goroutine.
	}
}

// OpenCanBus opens a SocketCAN interface (e.g. "can0") and starts
// dispatching frames in the background.
func OpenCanBus(iface string) (*CanBusAdapter, error) {
	bus, err := can.NewBusForInterfaceWithName(iface)
	if err != nil {
		return nil, &IoError{Reason: "open CAN interface " + iface, Err: err}
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &CanBusAdapter{
		bus:     bus,
		ctx:     ctx,
		cancel:  cancel,
		inboxes: make(map[uint32]chan CanFrame),
	}
	bus.Subscribe(frameHandler{a})
	go func() {
		<-ctx.Done()
	}()
	go bus.ConnectAndPublish()
	return a, nil
}

// Send transmits one CAN frame.
func (a *CanBusAdapter) Send(f CanFrame) error {
	frame := can.Frame{ID: f.ID, Length: f.Len}
	copy(frame.Data[:], f.Data[:])
	if err := a.bus.Publish(frame); err != nil {
		return &IoError{Reason: "publish CAN frame", Err: err}
	}
	return nil
}

// Receive waits up to timeout for a frame on rxID, registering an inbox
// for that ID on first use.
func (a *CanBusAdapter) Receive(rxID uint32, timeout time.Duration) (CanFrame, bool, error) {
	a.mu.Lock()
	ch, ok := a.inboxes[rxID]
	if !ok {
		ch = make(chan CanFrame, 16)
		a.inboxes[rxID] = ch
	}
	a.mu.Unlock()

	select {
	case f := <-ch:
		return f, true, nil
	case <-time.After(timeout):
		return CanFrame{}, false, nil
	case <-a.ctx.Done():
		return CanFrame{}, false, ErrPortClosed
	}
}

// Close stops the dispatch goroutine and disconnects the bus.
func (a *CanBusAdapter) Close() error {
	a.cancel()
	return a.bus.Disconnect()
}
