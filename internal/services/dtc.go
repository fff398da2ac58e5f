// Package services implements the C7 service encoders/decoders: DTC,
// PID, RoutineControl, SecurityAccess, DiagnosticSessionControl and
// TesterPresent wire formats (spec §4.7). Grounded on the teacher's
// main.go decodeDTC/processDTCResponse/sendDTCRequest hand-rolled OBD-II
// Mode 03/09 byte packing, generalized from SAE J2012 2-byte DTCs to
// BMW's ReadDTCInformation (0x18) triples.
package services

import "fmt"

// Dtc is a decoded diagnostic trouble code (spec §3).
type Dtc struct {
	Code       string // 4-hex-digit code, e.g. "P1234"
	StatusByte byte
	Raw        []byte
}

// DecodeDTC converts the 2-byte raw id plus status byte into a Dtc, the
// way the teacher's decodeDTC turns a 2-byte SAE DTC into a "PxxYY"
// string: the top two bits of the first byte select P/C/B/U, the remaining
// 14 bits render as four hex digits (spec §3).
func DecodeDTC(hi, lo, status byte) Dtc {
	prefix := "PCBU"[hi>>6]
	code := uint16(hi&0x3F)<<8 | uint16(lo)
	return Dtc{
		Code:       fmt.Sprintf("%c%04X", prefix, code),
		StatusByte: status,
		Raw:        []byte{hi, lo, status},
	}
}

// BuildReadDTCInformation encodes service 0x18 (spec §4.7): subfunc and
// a status mask selecting which DTCs to report.
func BuildReadDTCInformation(subfunc, statusMask byte) []byte {
	return []byte{subfunc, statusMask}
}

// ParseReadDTCInformation decodes a 0x18 positive response payload
// (service byte already stripped) into a Dtc list. The response is
// `subfunc {dtc_hi, dtc_lo, status}...`.
func ParseReadDTCInformation(payload []byte) ([]Dtc, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("services: empty ReadDTCInformation response")
	}
	body := payload[1:]
	if len(body)%3 != 0 {
		return nil, fmt.Errorf("services: ReadDTCInformation body length %d not a multiple of 3", len(body))
	}
	dtcs := make([]Dtc, 0, len(body)/3)
	for i := 0; i < len(body); i += 3 {
		dtcs = append(dtcs, DecodeDTC(body[i], body[i+1], body[i+2]))
	}
	return dtcs, nil
}

// BuildClearDiagnosticInformation encodes service 0x14: a 3-byte group,
// 0xFFFFFF clearing all (spec §4.7).
func BuildClearDiagnosticInformation(group uint32) []byte {
	return []byte{byte(group >> 16), byte(group >> 8), byte(group)}
}

// ClearAllGroups is the 0xFFFFFF sentinel group clearing every DTC.
const ClearAllGroups uint32 = 0xFFFFFF
