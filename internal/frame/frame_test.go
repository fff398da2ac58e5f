package frame

import (
	"bytes"
	"testing"
)

func TestBuildShortForm(t *testing.T) {
	b, err := Build(0xF1, 0x12, []byte{0x18, 0x02, 0xFF, 0x00})
	if err != nil {
		t.Fatal(err)
	}
	if b[0] != 0x80|0x04 {
		t.Fatalf("expected short-form fmt byte, got %#x", b[0])
	}
	if b[1] != 0x12 || b[2] != 0xF1 {
		t.Fatalf("unexpected target/source: %#x %#x", b[1], b[2])
	}
}

func TestBuildLongForm(t *testing.T) {
	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}
	b, err := Build(0xF1, 0x12, data)
	if err != nil {
		t.Fatal(err)
	}
	if b[0] != 0x80 {
		t.Fatalf("expected fmt=0x80 long form, got %#x", b[0])
	}
	if b[3] != 100 {
		t.Fatalf("expected length byte 100, got %d", b[3])
	}
}

func TestBuildRejectsOutOfRangeLength(t *testing.T) {
	if _, err := Build(0xF1, 0x12, nil); err == nil {
		t.Fatal("expected error for zero-length data")
	}
	big := make([]byte, 256)
	if _, err := Build(0xF1, 0x12, big); err == nil {
		t.Fatal("expected error for over-length data")
	}
}

// Invariant 2 (spec §8): parsed-then-re-encoded frames round-trip exactly.
func TestRoundTrip(t *testing.T) {
	cases := [][]byte{
		{0x58, 0x00},
		{0x58, 0x01, 0x2A, 0xAF, 0x24},
		make([]byte, 100),
	}
	for _, data := range cases {
		original, err := Build(0xF1, 0x12, data)
		if err != nil {
			t.Fatal(err)
		}
		res := Parse(original)
		if res.Status != StatusFrame {
			t.Fatalf("expected StatusFrame, got %v", res.Status)
		}
		reencoded, err := Build(res.Frame.Source, res.Frame.Target, res.Frame.Data)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(original, reencoded) {
			t.Fatalf("round trip mismatch: %x != %x", original, reencoded)
		}
	}
}

func TestParseIncomplete(t *testing.T) {
	b, _ := Build(0xF1, 0x12, []byte{0x01, 0x02})
	res := Parse(b[:len(b)-1])
	if res.Status != StatusIncomplete {
		t.Fatalf("expected incomplete, got %v", res.Status)
	}
}

func TestParseResyncsOnBadStart(t *testing.T) {
	b, _ := Build(0xF1, 0x12, []byte{0x58, 0x00})
	garbled := append([]byte{0x00}, b...)
	res := Parse(garbled)
	if res.Status != StatusBadStart || res.Consumed != 1 {
		t.Fatalf("expected bad start consuming 1 byte, got %+v", res)
	}
	// retry from the next byte succeeds
	res2 := Parse(garbled[res.Consumed:])
	if res2.Status != StatusFrame {
		t.Fatalf("expected frame after resync, got %v", res2.Status)
	}
}

func TestParseBadChecksum(t *testing.T) {
	b, _ := Build(0xF1, 0x12, []byte{0x58, 0x00})
	b[len(b)-1] ^= 0xFF
	res := Parse(b)
	if res.Status != StatusBadChecksum {
		t.Fatalf("expected bad checksum, got %v", res.Status)
	}
}

// spec §4.2 / §9 OQ2: fmt=0x80 exactly with a zero length byte must be
// rejected, not treated as a valid zero-length bit-field frame.
func TestParseRejectsZeroLengthByte(t *testing.T) {
	buf := []byte{0x80, 0x12, 0xF1, 0x00, 0x00}
	res := Parse(buf)
	if res.Status != StatusBadStart {
		t.Fatalf("expected reject of zero-length-byte frame, got %v", res.Status)
	}
}

func TestParseLongFormWaitsForLengthByte(t *testing.T) {
	buf := []byte{0x80, 0x12, 0xF1}
	res := Parse(buf)
	if res.Status != StatusIncomplete {
		t.Fatalf("expected incomplete while length byte missing, got %v", res.Status)
	}
}
