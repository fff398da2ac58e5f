// Package history is the optional outer persistence layer the core
// session (spec §6: "Sessions are in-memory only") deliberately doesn't
// provide: a DTC-event log and a PID-sample time series, fed by a
// caller's read_dtcs/read_pids subscribers. The engine keeps no
// in-memory PID sample history (no per-PID ring buffer); each sample it
// reads is only returned to the caller. Grounded on the teacher's
// internal/datastore/{store,sqlite,influxdb,types}.go, which splits
// episodic vehicle/profile records into SQLite and continuous telemetry
// into InfluxDB; the same split carries over, relabeled from
// Vehicle/TelemetryData to DtcEvent/PidPoint.
package history

import "time"

// DtcEvent is one observed DTC at a point in time, the unit
// SQLiteStore persists (episodic, queryable by ECU and time range, the
// way the teacher's service/alert records are).
type DtcEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	EcuID      string    `json:"ecu_id"`
	Code       string    `json:"code"`
	StatusByte byte      `json:"status_byte"`
}

// PidPoint is one scaled PID reading, the unit InfluxDBStore persists
// (a continuous time series, the way the teacher's TelemetryData is).
type PidPoint struct {
	Timestamp time.Time `json:"timestamp"`
	EcuID     string    `json:"ecu_id"`
	Pid       byte      `json:"pid"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
}
