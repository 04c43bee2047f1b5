// Package segment implements the outbound fragmentation layer: splitting an
// oversized application buffer into a sequence of headered segments that each
// fit inside one wire frame.
package segment

import (
	"encoding/binary"
	"errors"
	"time"
)

// HeaderSize is the fixed 7-byte wire size of Header.
const HeaderSize = 7

// TypeData is the only segment type this layer produces.
const TypeData = 0x01

// Header is the segment sub-protocol header carried at the start of every
// segment frame's payload.
type Header struct {
	Typ    uint8
	XID    uint8
	Total  uint16
	Offset uint16
	CLen   uint8
}

// EncodeHeader writes h into dst, which must be at least HeaderSize bytes.
func EncodeHeader(dst []byte, h Header) {
	dst[0] = h.Typ
	dst[1] = h.XID
	binary.BigEndian.PutUint16(dst[2:4], h.Total)
	binary.BigEndian.PutUint16(dst[4:6], h.Offset)
	dst[6] = h.CLen
}

// DecodeHeader reads a Header out of src, which must be at least HeaderSize
// bytes long.
func DecodeHeader(src []byte) (Header, error) {
	if len(src) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	return Header{
		Typ:    src[0],
		XID:    src[1],
		Total:  binary.BigEndian.Uint16(src[2:4]),
		Offset: binary.BigEndian.Uint16(src[4:6]),
		CLen:   src[6],
	}, nil
}

// ErrShortHeader is returned by DecodeHeader when src is too short to hold a
// full Header.
var ErrShortHeader = errors.New("segment: header truncated")

// Segment is one fragment of a logical buffer: the wire header plus its
// slice of the payload. Payload aliases the caller's buffer; callers must not
// mutate buf until all returned Segments have been sent.
type Segment struct {
	Header  Header
	Payload []byte
}

// Fragment splits buf into segments of at most maxPacket-HeaderSize bytes,
// all sharing xid, with Total set to len(buf) and Offset/CLen per segment.
// maxPacket must be greater than HeaderSize.
func Fragment(xid uint8, buf []byte, maxPacket uint8) []Segment {
	chunkCap := int(maxPacket) - HeaderSize
	if chunkCap <= 0 {
		return nil
	}
	total := len(buf)
	var segs []Segment
	for off := 0; off < total || (total == 0 && off == 0); {
		clen := total - off
		if clen > chunkCap {
			clen = chunkCap
		}
		segs = append(segs, Segment{
			Header: Header{
				Typ:    TypeData,
				XID:    xid,
				Total:  uint16(total),
				Offset: uint16(off),
				CLen:   uint8(clen),
			},
			Payload: buf[off : off+clen],
		})
		if total == 0 {
			break
		}
		off += clen
	}
	return segs
}

// Sender is the minimal capability segment.Send needs from a link: build and
// transmit one complete wire frame, blocking up to timeout.
type Sender interface {
	SendFrame(payload []byte, timeout time.Duration) error
}

// Send fragments buf under transaction id xid and sends each fragment as one
// frame via link. It aborts on the first send failure and returns that
// error; there is no resume protocol at this layer.
func Send(link Sender, xid uint8, buf []byte, maxPacket uint8, perFrameTimeout time.Duration) error {
	segs := Fragment(xid, buf, maxPacket)
	frameBuf := make([]byte, maxPacket)
	for _, seg := range segs {
		EncodeHeader(frameBuf, seg.Header)
		n := copy(frameBuf[HeaderSize:], seg.Payload)
		if err := link.SendFrame(frameBuf[:HeaderSize+n], perFrameTimeout); err != nil {
			return err
		}
	}
	return nil
}
