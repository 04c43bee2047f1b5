// Package frame implements the UART wire frame: SYNC | LEN | DATA | CRC16,
// and the byte-driven parser that recovers frames from a raw stream.
package frame

import "github.com/ampiolabs/uart-link-gateway/internal/crc16"

// MaxPacketCeiling is the hard upper bound imposed by the single-byte LEN
// field; no Config may exceed it.
const MaxPacketCeiling = 255

// Frame is a decoded payload view: Len bytes of Data are significant.
// The backing array is sized to MaxPacketCeiling so a Frame can be copied by
// value at every pipeline boundary (ring -> parser -> queue -> callback)
// without a heap allocation per frame.
type Frame struct {
	Len  uint8
	Data [MaxPacketCeiling]byte
}

// Payload returns the significant prefix of Data.
func (f *Frame) Payload() []byte { return f.Data[:f.Len] }

// Config fixes the parameters of a wire link. It must not change once a
// parser or link has been constructed from it.
type Config struct {
	// MaxPacket is the largest LEN this link will accept, inclusive.
	MaxPacket uint8
	// SyncByte delimits the start of every frame.
	SyncByte byte
	// AllowMidFrameSyncRestart, when true, treats a SYNC byte seen outside
	// the SYNC state as an abort-and-restart rather than ordinary data.
	AllowMidFrameSyncRestart bool
}

// DefaultConfig matches the reference firmware's compiled-in defaults.
func DefaultConfig() Config {
	return Config{
		MaxPacket: 64,
		SyncByte:  0xAA,
	}
}

// Build writes a complete wire frame for payload into dst and returns the
// number of bytes written: SYNC | LEN | DATA | CRC_HI | CRC_LO.
// dst must have length >= len(payload)+4. Build does not allocate.
func Build(dst []byte, cfg Config, payload []byte) int {
	n := len(payload)
	dst[0] = cfg.SyncByte
	dst[1] = byte(n)
	copy(dst[2:], payload)
	crc := crc16.Step(crc16.Init, byte(n))
	crc = crc16.Update(crc, payload)
	dst[2+n] = byte(crc >> 8)
	dst[2+n+1] = byte(crc)
	return n + 4
}
