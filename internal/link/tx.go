package link

import (
	"time"

	"github.com/ampiolabs/uart-link-gateway/internal/frame"
)

// abortGrace bounds how long SendFrame waits for a late completion signal
// after requesting a best-effort abort on timeout.
const abortGrace = 100 * time.Millisecond

// SendFrame builds one wire frame for payload and transmits it, enforcing
// the one-in-flight discipline: a SendFrame already in progress causes a
// concurrent call to fail immediately with ErrBusy rather than queue.
// It blocks until the write completes or timeout elapses, in which case it
// requests a best-effort abort (if the Port supports it) and returns
// ErrTimeout after waiting up to abortGrace for the write to unwind.
func (l *Link) SendFrame(payload []byte, timeout time.Duration) error {
	if len(payload) == 0 || len(payload) > int(l.cfg.MaxPacket) {
		return ErrInvalid
	}
	if l.port == nil {
		return ErrNotReady
	}

	select {
	case l.txLock <- struct{}{}:
	default:
		return ErrBusy
	}
	defer func() { <-l.txLock }()

	var buf [4 + frame.MaxPacketCeiling]byte
	n := frame.Build(buf[:], l.cfg.Config, payload)

	l.txArmed.Store(true)
	defer l.txArmed.Store(false)

	done := make(chan error, 1)
	go func() {
		_, err := l.port.Write(buf[:n])
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		if ab, ok := l.port.(Aborter); ok {
			ab.Abort()
		}
		select {
		case <-done:
		case <-time.After(abortGrace):
		}
		return ErrTimeout
	}
}
