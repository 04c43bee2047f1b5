// Package gateway wires a serial Port, the link pipeline, the TLV codec,
// and a downstream sink into one runnable unit, and retries opening the
// device with backoff until the open succeeds.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ampiolabs/uart-link-gateway/internal/frame"
	"github.com/ampiolabs/uart-link-gateway/internal/link"
	"github.com/ampiolabs/uart-link-gateway/internal/metrics"
	"github.com/ampiolabs/uart-link-gateway/internal/serialport"
	"github.com/ampiolabs/uart-link-gateway/internal/tlv"
)

var (
	reopenBackoffMin = 20 * time.Millisecond
	reopenBackoffMax = 5 * time.Second

	metricsSyncInterval = 500 * time.Millisecond
)

// Config carries everything needed to open the serial device. The wire
// parameters (max packet, sync byte, chunk/queue sizing) live in a separate
// link.Config so callers can share one frame.Config across instances.
type Config struct {
	Device      string
	Baud        int
	ReadTimeout time.Duration
}

// Publisher is the downstream collaborator a decoded record is forwarded
// to. sink.Redis satisfies this; tests substitute a fake.
type Publisher interface {
	Publish(ctx context.Context, rec tlv.Record) error
}

// Gateway owns one serial device and the pipeline reading/writing it.
type Gateway struct {
	cfg     Config
	linkCfg link.Config
	sink    Publisher
	logger  *slog.Logger

	l         *link.Link
	reas      *reassembler
	readyCh   chan struct{}
	readyOnce sync.Once
}

// New constructs a Gateway. Call Run to open the device and block until ctx
// is cancelled.
func New(cfg Config, linkCfg link.Config, sk Publisher, logger *slog.Logger) *Gateway {
	return &Gateway{cfg: cfg, linkCfg: linkCfg, sink: sk, logger: logger, reas: newReassembler(), readyCh: make(chan struct{})}
}

// WaitReady blocks until the device has been opened at least once (so Link
// returns a usable *link.Link) or ctx is cancelled first.
func (g *Gateway) WaitReady(ctx context.Context) error {
	select {
	case <-g.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Link returns the underlying link.Link, valid only after Run has opened it
// at least once. It lets callers (e.g. a command-line send tool) issue
// SendFrame directly against the live device.
func (g *Gateway) Link() *link.Link { return g.l }

// ExpectSegmentedReply registers xid with the inbound reassembler so a
// following sequence of segment.Header frames sharing that xid is joined
// before TLV decoding. Callers that send a segmented request via
// segment.Send and expect a segmented reply on the same xid should call
// this first; otherwise incoming frames for that xid are decoded as plain
// TLV records, per the ambiguity documented on reassembler.
func (g *Gateway) ExpectSegmentedReply(xid uint8) { g.reas.expect(xid) }

// Run opens the serial device, decodes frames into TLV records and forwards
// them to the sink. While opening the device fails it retries with
// exponential backoff. Once the device is open, read errors are retried by
// the link's reader and do not end the session, so a device that disappears
// after a successful open is not reopened. It blocks until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	backoff := reopenBackoffMin
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := g.runOnce(ctx); err != nil {
			g.logger.Warn("gateway_device_lost", "device", g.cfg.Device, "error", err, "backoff", backoff)
			metrics.IncError(metrics.ErrPortRead)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > reopenBackoffMax {
				backoff = reopenBackoffMax
			}
			continue
		}
		backoff = reopenBackoffMin
	}
}

// openPort is a hook for tests; it defaults to opening a real serial
// device.
var openPort = func(device string, baud int, readTimeout time.Duration) (link.Port, error) {
	return serialport.Open(device, baud, readTimeout)
}

// runOnce opens the device once and blocks until the link pipeline ends
// (via ctx cancellation; the link itself never exits on its own).
func (g *Gateway) runOnce(ctx context.Context) error {
	port, err := openPort(g.cfg.Device, g.cfg.Baud, g.cfg.ReadTimeout)
	if err != nil {
		return fmt.Errorf("open %s: %w", g.cfg.Device, err)
	}
	g.logger.Info("gateway_device_open", "device", g.cfg.Device, "baud", g.cfg.Baud)

	l := link.New(g.linkCfg)
	l.RegisterRXCallback(g.onFrame)
	if err := l.Open(port); err != nil {
		_ = port.Close()
		return fmt.Errorf("open link: %w", err)
	}
	g.l = l
	g.readyOnce.Do(func() { close(g.readyCh) })

	syncDone := make(chan struct{})
	go func() {
		defer close(syncDone)
		g.syncMetrics(ctx, l)
	}()

	<-ctx.Done()
	<-syncDone
	return l.Close()
}

// syncMetrics periodically folds the link's internal counters into the
// Prometheus layer. The link only tracks cumulative totals, so each tick
// reports the delta since the previous one.
func (g *Gateway) syncMetrics(ctx context.Context, l *link.Link) {
	var prev link.Counters
	ticker := time.NewTicker(metricsSyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := l.Counters()
			metrics.AddFrameCounters(
				cur.OK-prev.OK,
				cur.LenErr-prev.LenErr,
				cur.CRCErr-prev.CRCErr,
				cur.BudgetErr-prev.BudgetErr,
				cur.DropBytes-prev.DropBytes,
				cur.QueueDrop-prev.QueueDrop,
			)
			prev = cur
		}
	}
}

// onFrame decodes a raw frame into a TLV record and forwards it to the
// sink. It runs on the link's single delivery goroutine; publish does its
// own network I/O under a short timeout so a stalled sink cannot wedge the
// pipeline indefinitely, only delay the next delivery. Frames whose xid byte
// was registered with ExpectSegmentedReply are joined by the best-effort
// reassembler before TLV decoding; all other frames are decoded directly.
func (g *Gateway) onFrame(fr frame.Frame) {
	payload := fr.Payload()
	tlvFrame := &fr
	maxPacket := g.linkCfg.MaxPacket

	if buf, complete, isSegment := g.reas.feed(payload); isSegment {
		if !complete {
			return
		}
		var rf frame.Frame
		if len(buf) > len(rf.Data) {
			g.logger.Warn("gateway_reassembly_overflow", "len", len(buf))
			return
		}
		rf.Len = uint8(len(buf))
		copy(rf.Data[:], buf)
		tlvFrame = &rf
		maxPacket = frame.MaxPacketCeiling
	}

	var rec tlv.Record
	if err := tlv.Decode(&rec, tlvFrame, maxPacket); err != nil {
		metrics.IncError(metrics.ErrTLVDecode)
		g.logger.Warn("gateway_tlv_decode_error", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := g.sink.Publish(ctx, rec); err != nil {
		g.logger.Warn("gateway_sink_publish_error", "id", rec.ID, "error", err)
	}
}
