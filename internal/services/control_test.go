package services

import "testing"

func TestBuildSecurityAccessRequestSeed(t *testing.T) {
	got := BuildSecurityAccessRequestSeed(0x01)
	if len(got) != 1 || got[0] != 0x01 {
		t.Fatalf("unexpected payload: %x", got)
	}
}

func TestBuildSecurityAccessSubmitKey(t *testing.T) {
	got := BuildSecurityAccessSubmitKey(0x01, []byte{0xAA, 0xBB})
	want := []byte{0x02, 0xAA, 0xBB}
	if len(got) != len(want) {
		t.Fatalf("unexpected length: %x", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %x, got %x", want, got)
		}
	}
}

func TestBuildDiagnosticSessionControl(t *testing.T) {
	got := BuildDiagnosticSessionControl(0x03)
	if len(got) != 1 || got[0] != 0x03 {
		t.Fatalf("unexpected payload: %x", got)
	}
}

func TestBuildTesterPresentSuppressed(t *testing.T) {
	got := BuildTesterPresent(true)
	if len(got) != 1 || got[0] != TesterPresentSuppressResponse {
		t.Fatalf("expected suppress-response subfunc, got %x", got)
	}
}

func TestBuildTesterPresentRespond(t *testing.T) {
	got := BuildTesterPresent(false)
	if len(got) != 1 || got[0] != TesterPresentRespond {
		t.Fatalf("expected respond subfunc, got %x", got)
	}
}
