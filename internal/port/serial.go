package port

import (
	"io"
	"time"

	"github.com/tarm/serial"
)

// SerialPort is the real K-Line DuplexPort adapter, backed by
// github.com/tarm/serial the way the teacher's
// testing/simulator/serial.go opens a port for the simulator side.
// Unlike the simulator it implements the full DuplexPort surface,
// including baud switching for 5-baud addressing. SetDTR and SetRTS are
// accepted but leave the control lines unchanged.
type SerialPort struct {
	name string
	port *serial.Port
}

// OpenSerialPort opens name at the given initial baud (10400 for
// K-Line) with a read timeout granularity suitable for ReadAvailable's
// per-call deadlines.
func OpenSerialPort(name string, baud int) (*SerialPort, error) {
	cfg := &serial.Config{
		Name:        name,
		Baud:        baud,
		ReadTimeout: 5 * time.Millisecond,
	}
	p, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, &IoError{Reason: "open " + name, Err: err}
	}
	return &SerialPort{name: name, port: p}, nil
}

func (s *SerialPort) ReadAvailable(timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 0, 64)
	chunk := make([]byte, 64)
	for {
		n, err := s.port.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			return buf, nil
		}
		if err != nil && err != io.EOF {
			return nil, &IoError{Reason: "read " + s.name, Err: err}
		}
		if time.Now().After(deadline) {
			return buf, nil
		}
	}
}

func (s *SerialPort) WriteAll(b []byte) error {
	_, err := s.port.Write(b)
	if err != nil {
		return &IoError{Reason: "write " + s.name, Err: err}
	}
	return nil
}

// SetBaud reopens the port at the new rate. go.bug.st/serial-style
// drivers support live reconfiguration, but tarm/serial does not, so a
// baud change is implemented as close-then-reopen, matching the only
// two transitions K-Line actually needs (10400 <-> 5).
func (s *SerialPort) SetBaud(rate int) error {
	if err := s.port.Close(); err != nil {
		return &IoError{Reason: "close for rebaud " + s.name, Err: err}
	}
	p, err := serial.OpenPort(&serial.Config{
		Name:        s.name,
		Baud:        rate,
		ReadTimeout: 5 * time.Millisecond,
	})
	if err != nil {
		return &IoError{Reason: "reopen at " + s.name, Err: err}
	}
	s.port = p
	return nil
}

// SetDTR and SetRTS are no-ops: tarm/serial exposes no line-level
// control, and most USB K-Line cables don't need it. Adapters targeting
// cables that do should wrap a driver that exposes it (e.g.
// go.bug.st/serial) behind the same DuplexPort interface.
func (s *SerialPort) SetDTR(Level) error { return nil }
func (s *SerialPort) SetRTS(Level) error { return nil }

func (s *SerialPort) Flush() error {
	if err := s.port.Flush(); err != nil {
		return &IoError{Reason: "flush " + s.name, Err: err}
	}
	return nil
}

func (s *SerialPort) Close() error {
	return s.port.Close()
}
