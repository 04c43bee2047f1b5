// Package serialport adapts github.com/tarm/serial to the link.Port
// interface used by internal/link.
package serialport

import (
	"time"

	"github.com/tarm/serial"
)

// Port wraps a tarm/serial port. It satisfies link.Port and link.Aborter;
// Abort is best-effort since tarm/serial exposes no mid-write cancellation:
// it only flushes the port and neither closes nor reopens it.
type Port struct {
	p    *serial.Port
	name string
	baud int
}

// Open opens name at baud with readTimeout applied to every Read call, the
// same pattern the reference firmware's host tool uses to poll a
// non-blocking UART.
func Open(name string, baud int, readTimeout time.Duration) (*Port, error) {
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	p, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, err
	}
	return &Port{p: p, name: name, baud: baud}, nil
}

func (s *Port) Read(buf []byte) (int, error)  { return s.p.Read(buf) }
func (s *Port) Write(buf []byte) (int, error) { return s.p.Write(buf) }
func (s *Port) Close() error                  { return s.p.Close() }

// Abort flushes the port's output buffer. It cannot interrupt a write
// syscall already blocked in the kernel; it only discards queued-but-unsent
// bytes, which is the same best-effort guarantee the reference firmware's
// DMA abort provides.
func (s *Port) Abort() {
	_ = s.p.Flush()
}
