package crc16

import "testing"

func TestStepMatchesKnownVector(t *testing.T) {
	// CRC-16/CCITT-FALSE("123456789") == 0x29B1 (standard check value).
	crc := Init
	for _, b := range []byte("123456789") {
		crc = Step(crc, b)
	}
	if crc != 0x29B1 {
		t.Fatalf("got 0x%04X, want 0x29B1", crc)
	}
}

func TestUpdateMatchesStep(t *testing.T) {
	data := []byte{0x03, 0x01, 0x02, 0x03}
	want := Init
	for _, b := range data {
		want = Step(want, b)
	}
	if got := Update(Init, data); got != want {
		t.Fatalf("Update = 0x%04X, want 0x%04X", got, want)
	}
}

func TestS1Vector(t *testing.T) {
	// LEN=03 DATA=01 02 03.
	crc := Update(Init, []byte{0x03, 0x01, 0x02, 0x03})
	if crc != 0x7E2D {
		t.Fatalf("got 0x%04X, want 0x7E2D", crc)
	}
}
