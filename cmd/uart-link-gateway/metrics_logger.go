package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ampiolabs/uart-link-gateway/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"frames_ok", snap.FramesOK,
					"frames_len_err", snap.FramesLenErr,
					"frames_crc_err", snap.FramesCRCErr,
					"frames_budget_err", snap.FramesBudgetErr,
					"ring_drops", snap.RingDrops,
					"queue_drops", snap.QueueDrops,
					"tx_sent", snap.TxSent,
					"tx_busy", snap.TxBusy,
					"tx_timeouts", snap.TxTimeouts,
					"sink_published", snap.SinkPublished,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
