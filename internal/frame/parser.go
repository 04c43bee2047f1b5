package frame

import "github.com/ampiolabs/uart-link-gateway/internal/crc16"

type parserState int

const (
	stateSync parserState = iota
	stateLen
	stateData
	stateCRCHi
	stateCRCLo
)

// Counters are the parser's internal observability counters. They are never
// reset except by process restart; Parser.Counters returns a snapshot.
type Counters struct {
	OK        uint64
	LenErr    uint64
	CRCErr    uint64
	BudgetErr uint64
}

// Parser is the byte-driven frame recovery state machine. It is not safe for
// concurrent use; the link package serializes all calls through its drain
// worker.
type Parser struct {
	cfg Config

	st        parserState
	resync    bool
	len       uint8
	pos       uint8
	crcHi     byte
	crc       uint16
	budget    int
	maxBudget int

	frame Frame
	emit  func(Frame)

	counters Counters
}

// NewParser constructs a Parser in the SYNC state. emit is invoked
// synchronously, from within PushByte, whenever a frame passes CRC
// validation; it must not block.
func NewParser(cfg Config, emit func(Frame)) *Parser {
	p := &Parser{
		cfg:       cfg,
		maxBudget: 4 + int(cfg.MaxPacket),
		emit:      emit,
	}
	p.reset()
	return p
}

// Counters returns a snapshot of the parser's error/success counters.
func (p *Parser) Counters() Counters { return p.counters }

// Reset drives the parser back to the SYNC state, discarding any partially
// received frame. Counters are left untouched; this mirrors a link-level
// re-enable, not a statistics reset.
func (p *Parser) Reset() { p.reset() }

func (p *Parser) reset() {
	p.st = stateSync
	p.len, p.pos, p.crcHi = 0, 0, 0
	p.crc = crc16.Init
	p.budget = 0
	p.resync = false
}

func (p *Parser) start() {
	p.st = stateLen
	p.len, p.pos, p.crcHi = 0, 0, 0
	p.crc = crc16.Init
	p.budget = 1
}

func (p *Parser) setResync() {
	p.resync = true
	p.st = stateSync
}

// PushBytes feeds an entire chunk through PushByte in order.
func (p *Parser) PushBytes(buf []byte) {
	for _, b := range buf {
		p.PushByte(b)
	}
}

// PushByte advances the state machine by one byte. It runs in O(1) and never
// writes past Data[MaxPacket-1].
func (p *Parser) PushByte(b byte) {
	if p.resync {
		if b == p.cfg.SyncByte {
			p.resync = false
			p.start()
		}
		return
	}

	if p.cfg.AllowMidFrameSyncRestart && p.st != stateSync && b == p.cfg.SyncByte {
		p.start()
		return
	}

	switch p.st {
	case stateSync:
		if b == p.cfg.SyncByte {
			p.start()
		}
	case stateLen:
		p.budget++
		if b == 0 || b > p.cfg.MaxPacket {
			p.counters.LenErr++
			p.setResync()
			return
		}
		p.len = b
		p.frame.Len = b
		p.crc = crc16.Step(crc16.Init, b)
		p.pos = 0
		p.st = stateData
	case stateData:
		p.budget++
		p.frame.Data[p.pos] = b
		p.pos++
		p.crc = crc16.Step(p.crc, b)
		if p.pos == p.len {
			p.st = stateCRCHi
		}
		if p.budget > p.maxBudget {
			p.counters.BudgetErr++
			p.setResync()
		}
	case stateCRCHi:
		p.budget++
		p.crcHi = b
		p.st = stateCRCLo
	case stateCRCLo:
		p.budget++
		recv := uint16(p.crcHi)<<8 | uint16(b)
		if recv == p.crc {
			p.counters.OK++
			if p.emit != nil {
				p.emit(p.frame)
			}
		} else {
			p.counters.CRCErr++
		}
		p.reset()
	}
}
