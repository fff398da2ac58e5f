package services

import (
	"fmt"
	"time"
)

// PidSample is one decoded reading (spec §3).
type PidSample struct {
	Pid       byte
	Raw       []byte
	Value     float64
	Unit      string
	Timestamp time.Time
}

// PidDef is a data-driven scaling table entry: how to turn raw bytes
// from a ReadDataByIdentifier response into an engineering value. The
// teacher's getMapValue closure in main.go hard-codes one scale factor
// per call site; here the same "two raw bytes -> scaled float" shape is
// lifted into a table so new BMW PIDs need no new code.
type PidDef struct {
	Pid   byte
	Name  string
	Unit  string
	Scale func(raw []byte) (float64, error)
}

func scale16(divisor float64) func([]byte) (float64, error) {
	return func(raw []byte) (float64, error) {
		if len(raw) < 2 {
			return 0, fmt.Errorf("services: pid needs 2 raw bytes, got %d", len(raw))
		}
		return float64(uint16(raw[0])<<8|uint16(raw[1])) / divisor, nil
	}
}

func scale8(offset, divisor float64) func([]byte) (float64, error) {
	return func(raw []byte) (float64, error) {
		if len(raw) < 1 {
			return 0, fmt.Errorf("services: pid needs 1 raw byte, got %d", len(raw))
		}
		return float64(raw[0])/divisor - offset, nil
	}
}

// DefaultPIDTable covers the representative BMW PIDs used by the
// engine's read_pid operation.
var DefaultPIDTable = map[byte]PidDef{
	0x0C: {Pid: 0x0C, Name: "EngineRPM", Unit: "rpm", Scale: scale16(4)},
	0x0D: {Pid: 0x0D, Name: "VehicleSpeed", Unit: "km/h", Scale: scale8(0, 1)},
	0x05: {Pid: 0x05, Name: "CoolantTemp", Unit: "°C", Scale: scale8(40, 1)},
	0x11: {Pid: 0x11, Name: "ThrottlePosition", Unit: "%", Scale: scale8(0, 2.55)},
}

// BuildReadDataByIdentifier encodes service 0x21 (spec §4.7).
func BuildReadDataByIdentifier(pid byte) []byte {
	return []byte{pid}
}

// ParseReadDataByIdentifier decodes a 0x21/0x61 response payload
// (service byte already stripped: `pid data...`) into a PidSample using
// table, falling back to a raw pass-through if pid has no table entry.
func ParseReadDataByIdentifier(payload []byte, table map[byte]PidDef, now time.Time) (PidSample, error) {
	if len(payload) < 1 {
		return PidSample{}, fmt.Errorf("services: empty ReadDataByIdentifier response")
	}
	pid := payload[0]
	raw := payload[1:]
	def, ok := table[pid]
	if !ok {
		return PidSample{Pid: pid, Raw: raw, Timestamp: now}, nil
	}
	value, err := def.Scale(raw)
	if err != nil {
		return PidSample{}, fmt.Errorf("services: scale pid %#02x: %w", pid, err)
	}
	return PidSample{Pid: pid, Raw: raw, Value: value, Unit: def.Unit, Timestamp: now}, nil
}
