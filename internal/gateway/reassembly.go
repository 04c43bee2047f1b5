package gateway

import (
	"sync"
	"time"

	"github.com/ampiolabs/uart-link-gateway/internal/segment"
)

// pendingTTL bounds how long a partially reassembled transaction is held
// before being dropped. There is no abort signal for inbound segments, so a
// transaction that never completes (a lost final segment) is reclaimed on
// the next sweep rather than held forever.
const pendingTTL = 5 * time.Second

type pendingXID struct {
	total    uint16
	got      uint16
	buf      []byte
	lastSeen time.Time
}

// reassembler is a best-effort, xid-keyed joiner of inbound segment.Header
// frames. It exists purely for the Redis sink's convenience: nothing in
// internal/link or internal/segment depends on it, and it makes no
// guarantee against out-of-order segments from a restarted sender or
// partial delivery. Not part of the wire-compatibility contract.
//
// The segment header's typ byte (0x01) and a TLV record's id byte share the
// same position in a frame payload, so a plain TLV record is not reliably
// distinguishable from a segment header by content alone (an ordinary
// tlv.IDErr record, also 1, can look exactly like one). To avoid
// misclassifying ordinary TLV traffic, feed only inspects payloads for xids
// the caller has explicitly registered with expect, mirroring how the
// source leaves reassembly to a consumer that already knows, out of band,
// which exchanges are segmented.
type reassembler struct {
	mu       sync.Mutex
	expected map[uint8]bool
	pending  map[uint8]*pendingXID
}

func newReassembler() *reassembler {
	return &reassembler{
		expected: make(map[uint8]bool),
		pending:  make(map[uint8]*pendingXID),
	}
}

// expect marks xid as carrying a segmented reply; feed only attempts
// segment decoding for xids registered this way. Typically called by
// whoever issues a segment.Send and expects a segmented response sharing
// the same xid.
func (r *reassembler) expect(xid uint8) {
	r.mu.Lock()
	r.expected[xid] = true
	r.mu.Unlock()
}

// feed processes payload as a candidate segment.Header frame, but only if
// its xid byte (payload[1]) was previously registered with expect.
// isSegment is false when the xid is not registered or the header is
// malformed, in which case the caller should treat payload as a
// standalone, unsegmented frame instead. When isSegment is true, complete
// reports whether every byte of the logical buffer has now arrived, and buf
// holds it.
func (r *reassembler) feed(payload []byte) (buf []byte, complete bool, isSegment bool) {
	if len(payload) < segment.HeaderSize {
		return nil, false, false
	}
	xid := payload[1]

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.expected[xid] {
		return nil, false, false
	}

	hdr, err := segment.DecodeHeader(payload)
	if err != nil || hdr.Typ != segment.TypeData {
		return nil, false, false
	}
	body := payload[segment.HeaderSize:]
	if int(hdr.CLen) > len(body) {
		return nil, false, true
	}
	body = body[:hdr.CLen]

	now := r.now()
	p := r.pending[hdr.XID]
	if p == nil || p.total != hdr.Total {
		p = &pendingXID{total: hdr.Total, buf: make([]byte, hdr.Total)}
		r.pending[hdr.XID] = p
	}
	if int(hdr.Offset)+len(body) > len(p.buf) {
		delete(r.pending, hdr.XID)
		return nil, false, true
	}
	copy(p.buf[hdr.Offset:], body)
	p.got += uint16(len(body))
	p.lastSeen = now
	r.reapLocked(now)

	if p.got < p.total {
		return nil, false, true
	}
	delete(r.pending, hdr.XID)
	delete(r.expected, hdr.XID)
	return p.buf, true, true
}

func (r *reassembler) reapLocked(now time.Time) {
	for xid, p := range r.pending {
		if now.Sub(p.lastSeen) > pendingTTL {
			delete(r.pending, xid)
			delete(r.expected, xid)
		}
	}
}

// realNow supplies the wall clock; it drives TTL reaping only, never
// correctness of a single reassembly.
var realNow = func() time.Time { return time.Now() }

func (r *reassembler) now() time.Time { return realNow() }
