// Package link implements the host-side RX/TX pipeline on top of a raw byte
// Port: a ring-buffered reader feeding a frame parser, a bounded delivery
// queue decoupling parsing from callback dispatch, and a one-in-flight TX
// engine with a timeout-bounded completion wait.
package link

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ampiolabs/uart-link-gateway/internal/frame"
)

// RXCallback is invoked once per successfully decoded frame, from a single
// dedicated delivery goroutine. It must not block for long; a slow callback
// only stalls delivery, never the reader or the parser.
type RXCallback func(frame.Frame)

// Counters is a point-in-time snapshot of a Link's pipeline counters.
type Counters struct {
	frame.Counters
	DropBytes uint64
	QueueDrop uint64
}

// Link owns one serial port and runs its RX pipeline and TX engine. The
// zero value is not usable; construct with New.
type Link struct {
	cfg    Config
	parser *frame.Parser
	ring   *ring

	port Port

	kick       chan struct{}
	deliveryCh chan frame.Frame
	closeCh    chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup

	callback atomic.Pointer[RXCallback]

	dropBytes atomic.Uint64
	queueDrop atomic.Uint64

	txLock  chan struct{}
	txArmed atomic.Bool
}

// New constructs a Link in the closed state. Call Open to attach a Port and
// start its pipeline goroutines.
func New(cfg Config) *Link {
	l := &Link{
		cfg:        cfg,
		ring:       newRing(cfg.ringCapacity()),
		kick:       make(chan struct{}, 1),
		deliveryCh: make(chan frame.Frame, cfg.MsgQDepth),
		closeCh:    make(chan struct{}),
		txLock:     make(chan struct{}, 1),
	}
	l.parser = frame.NewParser(cfg.Config, l.onFrame)
	return l
}

func (l *Link) onFrame(f frame.Frame) {
	select {
	case l.deliveryCh <- f:
	default:
		l.queueDrop.Add(1)
	}
}

// RegisterRXCallback installs cb as the frame handler, replacing any prior
// callback. It is safe to call at any time, including while the pipeline is
// running; the replacement is atomic and takes effect for the next delivery.
func (l *Link) RegisterRXCallback(cb RXCallback) {
	l.callback.Store(&cb)
}

// Open attaches port and starts the reader, drain, and delivery goroutines.
// It returns ErrAlreadyOpen if called more than once.
func (l *Link) Open(port Port) error {
	if l.port != nil {
		return ErrAlreadyOpen
	}
	l.port = port
	l.wg.Add(3)
	go l.readLoop()
	go l.drainLoop()
	go l.deliveryLoop()
	return nil
}

// Close stops all pipeline goroutines and closes the underlying port. It is
// idempotent.
func (l *Link) Close() error {
	l.closeOnce.Do(func() { close(l.closeCh) })
	l.wg.Wait()
	if l.port != nil {
		return l.port.Close()
	}
	return nil
}

// Reset discards any buffered, undrained bytes and any partially received
// frame, then re-kicks the drain worker. It does not affect Counters.
func (l *Link) Reset() {
	l.ring.Reset()
	l.parser.Reset()
	l.kickDrain()
}

// Counters returns a snapshot of the pipeline's observability counters.
func (l *Link) Counters() Counters {
	return Counters{
		Counters:  l.parser.Counters(),
		DropBytes: l.dropBytes.Load(),
		QueueDrop: l.queueDrop.Load(),
	}
}

func (l *Link) kickDrain() {
	select {
	case l.kick <- struct{}{}:
	default:
	}
}

func (l *Link) readLoop() {
	defer l.wg.Done()
	buf := make([]byte, l.cfg.ChunkLen)
	for {
		select {
		case <-l.closeCh:
			return
		default:
		}
		n, err := l.port.Read(buf)
		if n > 0 {
			dropped := l.ring.Write(buf[:n])
			if dropped > 0 {
				l.dropBytes.Add(uint64(dropped))
			}
			l.kickDrain()
		}
		if err != nil {
			select {
			case <-l.closeCh:
				return
			case <-time.After(l.cfg.readErrorBackoff()):
			}
		}
	}
}

func (l *Link) drainLoop() {
	defer l.wg.Done()
	tmp := make([]byte, 256)
	for {
		select {
		case <-l.kick:
			for {
				n := l.ring.Read(tmp)
				if n == 0 {
					break
				}
				l.parser.PushBytes(tmp[:n])
			}
		case <-l.closeCh:
			return
		}
	}
}

func (l *Link) deliveryLoop() {
	defer l.wg.Done()
	for {
		select {
		case f := <-l.deliveryCh:
			if cb := l.callback.Load(); cb != nil && *cb != nil {
				(*cb)(f)
			}
		case <-l.closeCh:
			return
		}
	}
}
