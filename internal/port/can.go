package port

import "time"

// CanFrame is the minimal CAN frame shape internal/isotp needs: an
// 11-bit identifier and up to 8 data bytes. It follows
// github.com/brutella/can's can.Frame layout (ID, Data; the length field
// is Len here, Length there) so CanBus adapters are a thin wrap rather
// than a translation layer.
type CanFrame struct {
	ID   uint32
	Data [8]byte
	Len  uint8
}

// CanBus is the frame-level capability internal/isotp drives, the CAN
// analogue of DuplexPort. A real adapter (CanBusAdapter, backed by
// github.com/brutella/can) and a scripted mock both implement it.
type CanBus interface {
	// Send transmits one CAN frame.
	Send(f CanFrame) error
	// Receive blocks for up to timeout waiting for one frame addressed
	// to rxID. A zero ok means the deadline passed with nothing
	// matching.
	Receive(rxID uint32, timeout time.Duration) (f CanFrame, ok bool, err error)
}
