package nal

import "testing"

func TestAppendAndSplitRoundTrip(t *testing.T) {
	var buf []byte
	buf = AppendUnit(buf, StartCode3, 3, TypeSPS, []byte{0xAA, 0xBB})
	buf = AppendUnit(buf, StartCode3, 3, TypePPS, []byte{0xCC})
	buf = AppendUnit(buf, StartCode4, 2, TypeIDRSlice, []byte{0x01, 0x02, 0x03})

	units := Split(buf)
	if len(units) != 3 {
		t.Fatalf("got %d units, want 3", len(units))
	}

	if units[0].Type != TypeSPS || string(units[0].Payload) != "\xAA\xBB" {
		t.Fatalf("unit 0 = %+v", units[0])
	}
	if units[1].Type != TypePPS || string(units[1].Payload) != "\xCC" {
		t.Fatalf("unit 1 = %+v", units[1])
	}
	if units[2].Type != TypeIDRSlice || len(units[2].Payload) != 3 {
		t.Fatalf("unit 2 = %+v", units[2])
	}
}

func TestSplitSurvivesStartCodeLookalikes(t *testing.T) {
	// Trailing zeros and embedded start-code patterns in a payload must not
	// confuse the splitter.
	tricky := []byte{0x00, 0x00, 0x01, 0xFF, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}

	var buf []byte
	buf = AppendUnit(buf, StartCode3, 0, TypeSEI, tricky)
	buf = AppendUnit(buf, StartCode3, 2, TypeNonIDRSlice, []byte{0x42})

	units := Split(buf)
	if len(units) != 2 {
		t.Fatalf("got %d units, want 2", len(units))
	}
	if string(units[0].Payload) != string(tricky) {
		t.Fatalf("payload round trip = % x, want % x", units[0].Payload, tricky)
	}
	if units[1].Type != TypeNonIDRSlice || string(units[1].Payload) != "\x42" {
		t.Fatalf("unit 1 = %+v", units[1])
	}
}

func TestDescribeOrdersByFirstAppearance(t *testing.T) {
	var buf []byte
	buf = AppendUnit(buf, StartCode3, 3, TypeSPS, nil)
	buf = AppendUnit(buf, StartCode3, 3, TypePPS, nil)
	buf = AppendUnit(buf, StartCode3, 1, TypeSEI, []byte{1})
	buf = AppendUnit(buf, StartCode3, 1, TypeSEI, []byte{2})

	got := Describe(buf)
	want := "SPS:1 PPS:1 SEI:2"
	if got != want {
		t.Fatalf("Describe() = %q, want %q", got, want)
	}
}

func TestAppendStartCodeInvalidLengthPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for invalid start code length")
		}
	}()
	AppendStartCode(nil, 5)
}
