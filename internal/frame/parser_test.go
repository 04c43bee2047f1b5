package frame

import "testing"

func collect(cfg Config) (*Parser, *[]Frame) {
	var got []Frame
	p := NewParser(cfg, func(f Frame) { got = append(got, f) })
	return p, &got
}

func TestS1_BasicFrame(t *testing.T) {
	cfg := Config{MaxPacket: 64, SyncByte: 0xAA}
	p, got := collect(cfg)

	stream := make([]byte, 7)
	n := Build(stream, cfg, []byte{0x01, 0x02, 0x03})
	p.PushBytes(stream[:n])

	if len(*got) != 1 {
		t.Fatalf("delivered %d frames, want 1", len(*got))
	}
	f := (*got)[0]
	if f.Len != 3 || string(f.Payload()) != "\x01\x02\x03" {
		t.Fatalf("got frame %+v", f)
	}
	if p.Counters().OK != 1 {
		t.Fatalf("ok counter = %d, want 1", p.Counters().OK)
	}
}

func TestS2_LeadingGarbageDiscarded(t *testing.T) {
	cfg := Config{MaxPacket: 64, SyncByte: 0xAA}
	p, got := collect(cfg)

	frameBuf := make([]byte, 5)
	n := Build(frameBuf, cfg, []byte{0xFF})
	stream := append([]byte{0x55, 0x33}, frameBuf[:n]...)
	p.PushBytes(stream)

	if len(*got) != 1 {
		t.Fatalf("delivered %d frames, want 1", len(*got))
	}
	if (*got)[0].Len != 1 || (*got)[0].Data[0] != 0xFF {
		t.Fatalf("got %+v", (*got)[0])
	}
}

func TestS3_ZeroLengthTriggersLenErrAndResync(t *testing.T) {
	cfg := Config{MaxPacket: 64, SyncByte: 0xAA}
	p, got := collect(cfg)

	p.PushBytes([]byte{0xAA, 0x00})

	if len(*got) != 0 {
		t.Fatalf("delivered %d frames, want 0", len(*got))
	}
	if p.Counters().LenErr != 1 {
		t.Fatalf("len_err = %d, want 1", p.Counters().LenErr)
	}

	// After resync, a clean frame should still decode.
	frameBuf := make([]byte, 5)
	n := Build(frameBuf, cfg, []byte{0x42})
	p.PushBytes(frameBuf[:n])
	if len(*got) != 1 {
		t.Fatalf("after resync, delivered %d frames, want 1", len(*got))
	}
}

func TestS4_WrongCRCRejected(t *testing.T) {
	cfg := Config{MaxPacket: 64, SyncByte: 0xAA}
	p, got := collect(cfg)

	p.PushBytes([]byte{0xAA, 0x02, 0x11, 0x22, 0x00, 0x00})

	if len(*got) != 0 {
		t.Fatalf("delivered %d frames, want 0", len(*got))
	}
	if p.Counters().CRCErr != 1 {
		t.Fatalf("crc_err = %d, want 1", p.Counters().CRCErr)
	}
}

func TestLenExceedsMaxPacketTriggersLenErr(t *testing.T) {
	cfg := Config{MaxPacket: 10, SyncByte: 0xAA}
	p, got := collect(cfg)

	p.PushBytes([]byte{0xAA, 11})

	if len(*got) != 0 || p.Counters().LenErr != 1 {
		t.Fatalf("got=%v lenErr=%d", *got, p.Counters().LenErr)
	}
}

func TestLenEqualsMaxPacketIsValid(t *testing.T) {
	cfg := Config{MaxPacket: 4, SyncByte: 0xAA}
	p, got := collect(cfg)

	payload := []byte{1, 2, 3, 4}
	buf := make([]byte, 8)
	n := Build(buf, cfg, payload)
	p.PushBytes(buf[:n])

	if len(*got) != 1 {
		t.Fatalf("delivered %d frames, want 1", len(*got))
	}
}

func TestRoundTripAllLengths(t *testing.T) {
	cfg := Config{MaxPacket: 32, SyncByte: 0xAA}
	for length := 1; length <= int(cfg.MaxPacket); length++ {
		payload := make([]byte, length)
		for i := range payload {
			payload[i] = byte(i*7 + length)
		}
		p, got := collect(cfg)
		buf := make([]byte, length+4)
		n := Build(buf, cfg, payload)
		p.PushBytes(buf[:n])
		if len(*got) != 1 {
			t.Fatalf("len=%d: delivered %d frames, want 1", length, len(*got))
		}
		if string((*got)[0].Payload()) != string(payload) {
			t.Fatalf("len=%d: payload mismatch", length)
		}
	}
}

func TestSingleBitFlipInCRCIsDetected(t *testing.T) {
	cfg := Config{MaxPacket: 64, SyncByte: 0xAA}
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	buf := make([]byte, len(payload)+4)
	n := Build(buf, cfg, payload)

	for bit := 0; bit < 8; bit++ {
		mutated := append([]byte(nil), buf[:n]...)
		mutated[n-1] ^= 1 << uint(bit)
		p, got := collect(cfg)
		p.PushBytes(mutated)
		if len(*got) != 0 {
			t.Fatalf("bit %d: frame delivered despite CRC corruption", bit)
		}
		if p.Counters().CRCErr != 1 {
			t.Fatalf("bit %d: crc_err = %d, want 1", bit, p.Counters().CRCErr)
		}
	}
}

func TestBudgetNeverExceedsCapInNormalOperation(t *testing.T) {
	// LEN is gated to MaxPacket in the LEN state, so a complete frame's
	// worst-case budget (len+4) can never exceed the 4+MaxPacket cap; the
	// budget check is a defensive backstop that should never fire for any
	// well-formed or garbage-then-resynced stream.
	cfg := Config{MaxPacket: 3, SyncByte: 0xAA}
	p, got := collect(cfg)

	buf := make([]byte, 7)
	n := Build(buf, cfg, []byte{0x01, 0x02, 0x03})
	p.PushBytes(buf[:n])

	if len(*got) != 1 {
		t.Fatalf("delivered %d frames, want 1", len(*got))
	}
	if p.Counters().BudgetErr != 0 {
		t.Fatalf("unexpected budget error")
	}
	if p.st != stateSync {
		t.Fatalf("parser did not return to SYNC state")
	}
}

func TestResyncAfterArbitraryGarbage(t *testing.T) {
	cfg := Config{MaxPacket: 64, SyncByte: 0xAA}
	p, got := collect(cfg)

	garbage := []byte{0x01, 0x02, 0xAA, 0x7F, 0x00, 0x11, 0x22, 0x33}
	p.PushBytes(garbage)

	buf := make([]byte, 8)
	n := Build(buf, cfg, []byte{1, 2, 3})
	p.PushBytes(buf[:n])

	if len(*got) != 1 {
		t.Fatalf("delivered %d frames, want 1", len(*got))
	}
	if p.st != stateSync {
		t.Fatalf("parser not in SYNC after emission")
	}
}

func TestMidFrameSyncRestartDisabledByDefault(t *testing.T) {
	cfg := Config{MaxPacket: 64, SyncByte: 0xAA}
	p, got := collect(cfg)

	// A SYNC byte value appearing inside DATA must be treated as ordinary
	// payload when AllowMidFrameSyncRestart is false.
	payload := []byte{0xAA, 0x01, 0x02}
	buf := make([]byte, len(payload)+4)
	n := Build(buf, cfg, payload)
	p.PushBytes(buf[:n])

	if len(*got) != 1 {
		t.Fatalf("delivered %d frames, want 1", len(*got))
	}
	if string((*got)[0].Payload()) != string(payload) {
		t.Fatalf("payload corrupted: % X", (*got)[0].Payload())
	}
}

func TestMidFrameSyncRestartWhenEnabled(t *testing.T) {
	cfg := Config{MaxPacket: 64, SyncByte: 0xAA, AllowMidFrameSyncRestart: true}
	p, got := collect(cfg)

	// LEN declares 5 bytes of DATA, but only one data byte arrives before a
	// fresh SYNC appears; with the flag enabled this aborts the in-progress
	// frame and starts a new one from that SYNC.
	p.PushBytes([]byte{0xAA, 0x05, 0x11})
	clean := make([]byte, 6)
	n := Build(clean, cfg, []byte{0x01, 0x02})
	p.PushBytes(clean[:n])

	if len(*got) != 1 {
		t.Fatalf("restart path: delivered %d frames, want 1", len(*got))
	}
	if string((*got)[0].Payload()) != "\x01\x02" {
		t.Fatalf("restart path: payload = % X", (*got)[0].Payload())
	}
}
