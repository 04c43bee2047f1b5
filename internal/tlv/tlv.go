// Package tlv implements the Type-Length-Value codec that maps between a
// decoded frame payload and a tagged message record.
package tlv

import (
	"errors"

	"github.com/ampiolabs/uart-link-gateway/internal/frame"
)

// ID enumerates the well-known TLV ids. Unknown ids decode without error and
// are delivered verbatim to the application.
type ID uint8

const (
	IDVersion ID = iota
	IDErr
	IDLED
	IDBuzzer
	IDInfectionRisk
	idReservedMax
	IDMeasurement
)

var (
	ErrInvalid  = errors.New("tlv: invalid argument")
	ErrMsgSize  = errors.New("tlv: value too large")
	ErrBadMsg   = errors.New("tlv: frame too short for tlv header")
	ErrOverflow = errors.New("tlv: frame shorter than declared value length")
	ErrNoData   = errors.New("tlv: frame is nil")
	ErrFault    = errors.New("tlv: output record is nil")
)

// MaxValueSize returns the largest value a TLV record may carry inside a
// frame whose payload capacity is maxPacket bytes.
func MaxValueSize(maxPacket uint8) int { return int(maxPacket) - 2 }

// Record is a decoded TLV message: an 8-bit id, its declared length, and up
// to MaxValueSize(maxPacket) value bytes.
type Record struct {
	ID    ID
	Len   uint8
	Value []byte
}

// Encode writes id/len/value into dst's payload and sets dst.Len.
// It fails with ErrInvalid when dst is nil, ErrMsgSize when rec.Value is
// longer than MaxValueSize(maxPacket) can hold.
func Encode(dst *frame.Frame, maxPacket uint8, rec Record) error {
	if dst == nil {
		return ErrInvalid
	}
	if len(rec.Value) > MaxValueSize(maxPacket) {
		return ErrMsgSize
	}
	dst.Data[0] = byte(rec.ID)
	dst.Data[1] = byte(len(rec.Value))
	copy(dst.Data[2:], rec.Value)
	dst.Len = uint8(2 + len(rec.Value))
	return nil
}

// Decode reads a TLV record out of fr's payload.
// It fails with ErrFault on nil out, ErrNoData on nil fr, ErrBadMsg when
// fr.Len < 2, ErrMsgSize when the declared length exceeds
// MaxValueSize(maxPacket), and ErrOverflow when fr.Len is too short to hold
// the declared value.
func Decode(out *Record, fr *frame.Frame, maxPacket uint8) error {
	if out == nil {
		return ErrFault
	}
	if fr == nil {
		return ErrNoData
	}
	if fr.Len < 2 {
		return ErrBadMsg
	}
	vlen := fr.Data[1]
	if int(vlen) > MaxValueSize(maxPacket) {
		return ErrMsgSize
	}
	if int(fr.Len) < 2+int(vlen) {
		return ErrOverflow
	}
	out.ID = ID(fr.Data[0])
	out.Len = vlen
	out.Value = append(out.Value[:0], fr.Data[2:2+int(vlen)]...)
	return nil
}
