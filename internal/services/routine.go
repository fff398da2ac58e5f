package services

import "github.com/anodyne74/bmw-kwp-engine/internal/enginerr"

// RoutineControl subfunctions (spec §4.7).
const (
	RoutineStart          byte = 0x01
	RoutineStop           byte = 0x02
	RoutineRequestResults byte = 0x03
)

// RoutineDef names a DPF routine's primary and alternate 16-bit ids
// (spec §6): some ECU variants only answer on the alternate id.
type RoutineDef struct {
	Name    string
	Primary uint16
	Alt     uint16
}

// DPFRoutines is the documented DPF routine table (spec §6).
var DPFRoutines = map[string]RoutineDef{
	"reset_ash_counter":  {Name: "reset_ash_counter", Primary: 0xA091, Alt: 0x0061},
	"reset_dpf_learned":  {Name: "reset_dpf_learned", Primary: 0xA092, Alt: 0x0062},
	"register_new_dpf":   {Name: "register_new_dpf", Primary: 0xA093, Alt: 0x0063},
	"start_forced_regen": {Name: "start_forced_regen", Primary: 0xA094, Alt: 0x0064},
}

// BuildRoutineControl encodes service 0x31 (spec §4.7).
func BuildRoutineControl(subfunc byte, routineID uint16, options []byte) []byte {
	req := []byte{subfunc, byte(routineID >> 8), byte(routineID)}
	return append(req, options...)
}

// IDProbe remembers which of a routine's ids answered for a given ECU
// (spec §9 OQ1: try primary first, fall back to the alternate on
// ServiceNotSupported/SubFunctionNotSupported, and record which
// worked so later calls skip straight to it).
type IDProbe struct {
	resolved map[string]uint16
}

func NewIDProbe() *IDProbe { return &IDProbe{resolved: make(map[string]uint16)} }

// Resolved reports the id already known to work for routine, if any.
func (p *IDProbe) Resolved(routine string) (uint16, bool) {
	id, ok := p.resolved[routine]
	return id, ok
}

// Remember records which id answered for routine, so future calls
// don't re-probe.
func (p *IDProbe) Remember(routine string, id uint16) {
	p.resolved[routine] = id
}

// RunRoutine issues RoutineControl for def, trying the remembered id if
// one was previously resolved, otherwise the primary id, falling back
// to the alternate on ServiceNotSupported or SubFunctionNotSupported.
func RunRoutine(probe *IDProbe, def RoutineDef, subfunc byte, options []byte, exec func(req []byte) ([]byte, error)) ([]byte, error) {
	if id, ok := probe.Resolved(def.Name); ok {
		return exec(BuildRoutineControl(subfunc, id, options))
	}

	resp, err := exec(BuildRoutineControl(subfunc, def.Primary, options))
	if err == nil {
		probe.Remember(def.Name, def.Primary)
		return resp, nil
	}
	if !isUnsupported(err) {
		return nil, err
	}

	resp, err = exec(BuildRoutineControl(subfunc, def.Alt, options))
	if err == nil {
		probe.Remember(def.Name, def.Alt)
	}
	return resp, err
}

func isUnsupported(err error) bool {
	e, ok := err.(*enginerr.Error)
	if !ok || e.Kind != enginerr.KindNrc {
		return false
	}
	return enginerr.NRC(e.Nrc) == enginerr.NrcServiceNotSupported || enginerr.NRC(e.Nrc) == enginerr.NrcSubFunctionNotSupported
}
