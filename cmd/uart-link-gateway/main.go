package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ampiolabs/uart-link-gateway/internal/frame"
	"github.com/ampiolabs/uart-link-gateway/internal/gateway"
	"github.com/ampiolabs/uart-link-gateway/internal/link"
	"github.com/ampiolabs/uart-link-gateway/internal/metrics"
	"github.com/ampiolabs/uart-link-gateway/internal/sink"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("uart-link-gateway %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)

	redisSink, err := sink.Open(cfg.redisAddr, cfg.redisPassword, cfg.redisDB, cfg.redisKey, cfg.redisChannel)
	if err != nil {
		l.Error("redis_connect_error", "error", err)
		os.Exit(1)
	}
	defer redisSink.Close()

	linkCfg := link.Config{
		Config: frame.Config{
			MaxPacket: uint8(cfg.maxPacket),
			SyncByte:  byte(cfg.syncByte),
		},
		ChunkLen:  cfg.chunkLen,
		MsgQDepth: cfg.msgQDepth,
	}
	gw := gateway.New(gateway.Config{
		Device:      cfg.serialDev,
		Baud:        cfg.baud,
		ReadTimeout: cfg.serialReadTO,
	}, linkCfg, redisSink, l)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gw.Run(ctx); err != nil {
			l.Error("gateway_run_error", "error", err)
			cancel()
		}
	}()

	if cfg.sendHex != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sendOnceOnReady(ctx, gw, cfg.sendHex, cfg.txTimeout, l)
		}()
	}

	go func() {
		if !cfg.mdnsEnable {
			return
		}
		portNum := 0
		if cfg.metricsAddr != "" {
			if _, p, err := net.SplitHostPort(cfg.metricsAddr); err == nil {
				if pn, perr := strconv.Atoi(p); perr == nil {
					portNum = pn
				}
			} else if lastColon := strings.LastIndex(cfg.metricsAddr, ":"); lastColon >= 0 {
				if pn, perr := strconv.Atoi(cfg.metricsAddr[lastColon+1:]); perr == nil {
					portNum = pn
				}
			}
		}
		cleanupMDNS, err := startMDNS(ctx, cfg, portNum)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", portNum)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil })
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()

	waitDone := make(chan struct{})
	go func() { wg.Wait(); close(waitDone) }()
	select {
	case <-waitDone:
	case <-time.After(5 * time.Second):
		l.Warn("shutdown_timeout")
	}
}

// sendOnceOnReady decodes payload (already validated as hex by
// appConfig.validate) and transmits it once via the gateway's link as soon
// as the device has been opened, then returns. It exists to exercise
// Link.SendFrame from the binary itself, the way a future command-line send
// tool would.
func sendOnceOnReady(ctx context.Context, gw *gateway.Gateway, payloadHex string, timeout time.Duration, l *slog.Logger) {
	if err := gw.WaitReady(ctx); err != nil {
		return
	}
	data, err := hex.DecodeString(payloadHex)
	if err != nil {
		l.Error("send_hex_decode_error", "error", err)
		return
	}
	if err := gw.Link().SendFrame(data, timeout); err != nil {
		switch {
		case errors.Is(err, link.ErrBusy):
			metrics.IncTxBusy()
		case errors.Is(err, link.ErrTimeout):
			metrics.IncTxTimeout()
		}
		l.Warn("send_once_error", "error", err)
		return
	}
	metrics.IncTxSent()
	l.Info("send_once_ok", "bytes", len(data))
}
