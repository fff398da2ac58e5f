package capture

import (
	"fmt"
	"sync"
)

// Recorder wraps a capture Session with a start/stop lifecycle, the
// way the teacher's Recorder guards a Session with a running flag and
// a mutex. A caller (typically internal/engine's caller, via a thin
// wrapper) calls Record once per completed exchange.
type Recorder struct {
	session *Session
	running bool
	mu      sync.Mutex
}

// NewRecorder creates a Recorder for a new session labeled label
// (e.g. the vehicle or test scenario name).
func NewRecorder(label string) *Recorder {
	return &Recorder{session: NewSession(label)}
}

// Start begins recording.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("capture: recorder already running")
	}
	r.running = true
	return nil
}

// Stop ends the recording session and saves it to disk.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return fmt.Errorf("capture: recorder is not running")
	}
	r.running = false
	return r.session.Save()
}

// Record appends ex to the session, failing if the recorder isn't
// running.
func (r *Recorder) Record(ex Exchange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return fmt.Errorf("capture: recorder is not running")
	}
	r.session.AddExchange(ex)
	return nil
}

// SetMetadata adds metadata to the underlying session.
func (r *Recorder) SetMetadata(key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session.SetMetadata(key, value)
}

// IsRunning reports whether the recorder is currently active.
func (r *Recorder) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Session returns the recorder's underlying session (useful once
// stopped, to inspect or re-save under a different path).
func (r *Recorder) Session() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}
