package services

import "testing"

func TestDecodeDTCPowertrainPrefix(t *testing.T) {
	d := DecodeDTC(0x01, 0x23, 0x08)
	if d.Code != "P0123" {
		t.Fatalf("expected P0123, got %s", d.Code)
	}
}

func TestDecodeDTCChassisPrefix(t *testing.T) {
	d := DecodeDTC(0x41, 0x00, 0x00) // 0x41 = 01 000001 -> C prefix
	if d.Code[0] != 'C' {
		t.Fatalf("expected C prefix, got %s", d.Code)
	}
}

func TestParseReadDTCInformation(t *testing.T) {
	payload := []byte{0x02, 0x01, 0x23, 0x08, 0x00, 0x99, 0x04}
	dtcs, err := ParseReadDTCInformation(payload)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(dtcs) != 2 {
		t.Fatalf("expected 2 dtcs, got %d", len(dtcs))
	}
	if dtcs[0].Code != "P0123" {
		t.Fatalf("unexpected first dtc: %s", dtcs[0].Code)
	}
}

func TestParseReadDTCInformationRejectsMisalignedBody(t *testing.T) {
	_, err := ParseReadDTCInformation([]byte{0x02, 0x01, 0x23})
	if err == nil {
		t.Fatal("expected error for misaligned body")
	}
}

func TestBuildClearDiagnosticInformationAllGroups(t *testing.T) {
	got := BuildClearDiagnosticInformation(ClearAllGroups)
	want := []byte{0xFF, 0xFF, 0xFF}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %x, got %x", want, got)
		}
	}
}
