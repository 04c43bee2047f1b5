package link

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ampiolabs/uart-link-gateway/internal/frame"
)

type fakePort struct {
	mu         sync.Mutex
	in         []byte
	writes     [][]byte
	writeDelay time.Duration
	aborted    atomic.Bool
}

func (p *fakePort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if len(p.in) == 0 {
		p.mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		return 0, nil
	}
	n := copy(buf, p.in)
	p.in = p.in[n:]
	p.mu.Unlock()
	return n, nil
}

func (p *fakePort) Write(buf []byte) (int, error) {
	if p.writeDelay > 0 {
		time.Sleep(p.writeDelay)
	}
	p.mu.Lock()
	p.writes = append(p.writes, append([]byte(nil), buf...))
	p.mu.Unlock()
	return len(buf), nil
}

func (p *fakePort) Close() error { return nil }

func (p *fakePort) Abort() { p.aborted.Store(true) }

func (p *fakePort) push(b []byte) {
	p.mu.Lock()
	p.in = append(p.in, b...)
	p.mu.Unlock()
}

func buildFrame(cfg Config, payload []byte) []byte {
	buf := make([]byte, 4+len(payload))
	n := frame.Build(buf, cfg.Config, payload)
	return buf[:n]
}

func TestEndToEndDeliversFrame(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ChunkLen = 32
	l := New(cfg)

	received := make(chan frame.Frame, 1)
	l.RegisterRXCallback(func(f frame.Frame) { received <- f })

	port := &fakePort{}
	if err := l.Open(port); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer l.Close()

	port.push(buildFrame(cfg, []byte{0x11, 0x22, 0x33}))

	select {
	case f := <-received:
		if !equalPayload(f.Payload(), []byte{0x11, 0x22, 0x33}) {
			t.Fatalf("got payload %v, want {0x11,0x22,0x33}", f.Payload())
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame delivery")
	}

	c := l.Counters()
	if c.OK != 1 {
		t.Fatalf("got OK=%d, want 1", c.OK)
	}
}

func equalPayload(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestQueueDropsWhenCallbackStallsDelivery(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ChunkLen = 4096
	cfg.MsgQDepth = 2
	l := New(cfg)

	block := make(chan struct{})
	var mu sync.Mutex
	var received []frame.Frame
	l.RegisterRXCallback(func(f frame.Frame) {
		mu.Lock()
		received = append(received, f)
		first := len(received) == 1
		mu.Unlock()
		if first {
			<-block
		}
	})

	port := &fakePort{}
	var raw []byte
	for i := 0; i < 10; i++ {
		raw = append(raw, buildFrame(cfg, []byte{byte(i)})...)
	}
	port.push(raw)

	if err := l.Open(port); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer l.Close()

	time.Sleep(50 * time.Millisecond)
	close(block)
	time.Sleep(50 * time.Millisecond)

	c := l.Counters()
	if c.OK != 10 {
		t.Fatalf("got OK=%d, want 10 (parser success is independent of delivery drop)", c.OK)
	}
	if c.QueueDrop == 0 {
		t.Fatal("got QueueDrop=0, want > 0 (callback stalled the sole delivery goroutine)")
	}
}

func TestResetDiscardsPartialFrame(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ChunkLen = 32
	l := New(cfg)

	received := make(chan frame.Frame, 1)
	l.RegisterRXCallback(func(f frame.Frame) { received <- f })

	port := &fakePort{}
	if err := l.Open(port); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer l.Close()

	port.push([]byte{cfg.SyncByte, 0x05, 0x11, 0x22})
	time.Sleep(20 * time.Millisecond)
	l.Reset()

	port.push(buildFrame(cfg, []byte{0xAB}))

	select {
	case f := <-received:
		if !equalPayload(f.Payload(), []byte{0xAB}) {
			t.Fatalf("got payload %v, want {0xAB}", f.Payload())
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame after reset")
	}
}

func TestSendFrameSerializesAndReportsBusy(t *testing.T) {
	cfg := DefaultConfig()
	l := New(cfg)
	port := &fakePort{writeDelay: 80 * time.Millisecond}
	if err := l.Open(port); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer l.Close()

	result := make(chan error, 1)
	go func() {
		result <- l.SendFrame([]byte{1, 2, 3}, 500*time.Millisecond)
	}()
	time.Sleep(20 * time.Millisecond)

	if err := l.SendFrame([]byte{4, 5}, 50*time.Millisecond); !errors.Is(err, ErrBusy) {
		t.Fatalf("got %v, want ErrBusy", err)
	}

	if err := <-result; err != nil {
		t.Fatalf("first SendFrame: %v", err)
	}
}

func TestSendFrameTimesOutAndRequestsAbort(t *testing.T) {
	cfg := DefaultConfig()
	l := New(cfg)
	port := &fakePort{writeDelay: 300 * time.Millisecond}
	if err := l.Open(port); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer l.Close()

	err := l.SendFrame([]byte{9}, 20*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}

	time.Sleep(350 * time.Millisecond)
	if !port.aborted.Load() {
		t.Fatal("expected Abort to have been called on timeout")
	}
}

func TestSendFrameRejectsOversizedPayload(t *testing.T) {
	cfg := DefaultConfig()
	l := New(cfg)
	port := &fakePort{}
	if err := l.Open(port); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer l.Close()

	oversized := make([]byte, int(cfg.MaxPacket)+1)
	if err := l.SendFrame(oversized, time.Second); !errors.Is(err, ErrInvalid) {
		t.Fatalf("got %v, want ErrInvalid", err)
	}
}

func TestOpenTwiceReturnsErrAlreadyOpen(t *testing.T) {
	l := New(DefaultConfig())
	port := &fakePort{}
	if err := l.Open(port); err != nil {
		t.Fatalf("first open: %v", err)
	}
	defer l.Close()
	if err := l.Open(&fakePort{}); !errors.Is(err, ErrAlreadyOpen) {
		t.Fatalf("got %v, want ErrAlreadyOpen", err)
	}
}
