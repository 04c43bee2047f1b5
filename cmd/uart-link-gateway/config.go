package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	serialDev       string
	baud            int
	serialReadTO    time.Duration
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
	maxPacket       int
	syncByte        int
	chunkLen        int
	msgQDepth       int
	txTimeout       time.Duration
	sendHex         string
	redisAddr       string
	redisPassword   string
	redisDB         int
	redisKey        string
	redisChannel    string
	mdnsEnable      bool
	mdnsName        string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	serialDev := flag.String("serial", "/dev/ttyUSB0", "Serial device path")
	baud := flag.Int("baud", 115200, "Serial baud rate")
	serialReadTO := flag.Duration("serial-read-timeout", 50*time.Millisecond, "Serial read timeout")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	maxPacket := flag.Int("max-packet", 64, "Largest accepted LEN value, 1-255")
	syncByte := flag.Int("sync-byte", 0xAA, "Frame sync byte, 0-255")
	chunkLen := flag.Int("chunk-len", 64, "Reader chunk size in bytes; the RX ring holds 4x this")
	msgQDepth := flag.Int("queue-depth", 4, "Delivery queue depth in frames")
	txTimeout := flag.Duration("tx-timeout", 200*time.Millisecond, "SendFrame completion timeout")
	sendHex := flag.String("send-hex", "", "Hex-encoded payload to transmit once via SendFrame as soon as the device opens; empty sends nothing")
	redisAddr := flag.String("redis-addr", "127.0.0.1:6379", "Redis address")
	redisPassword := flag.String("redis-password", "", "Redis password")
	redisDB := flag.Int("redis-db", 0, "Redis database index")
	redisKey := flag.String("redis-key", "uart-link", "Redis hash key records are stored under")
	redisChannel := flag.String("redis-channel", "uart-link", "Redis channel publish notifications go to")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS/Avahi advertisement")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default uart-link-gateway-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.serialDev = *serialDev
	cfg.baud = *baud
	cfg.serialReadTO = *serialReadTO
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.maxPacket = *maxPacket
	cfg.syncByte = *syncByte
	cfg.chunkLen = *chunkLen
	cfg.msgQDepth = *msgQDepth
	cfg.txTimeout = *txTimeout
	cfg.sendHex = *sendHex
	cfg.redisAddr = *redisAddr
	cfg.redisPassword = *redisPassword
	cfg.redisDB = *redisDB
	cfg.redisKey = *redisKey
	cfg.redisChannel = *redisChannel
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open devices or connections, only checks values.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.serialReadTO <= 0 {
		return errors.New("serial-read-timeout must be > 0")
	}
	if c.maxPacket <= 0 || c.maxPacket > 255 {
		return fmt.Errorf("max-packet must be in 1-255 (got %d)", c.maxPacket)
	}
	if c.syncByte < 0 || c.syncByte > 255 {
		return fmt.Errorf("sync-byte must be in 0-255 (got %d)", c.syncByte)
	}
	if c.chunkLen <= 0 {
		return fmt.Errorf("chunk-len must be > 0 (got %d)", c.chunkLen)
	}
	if c.msgQDepth <= 0 {
		return fmt.Errorf("queue-depth must be > 0 (got %d)", c.msgQDepth)
	}
	if c.txTimeout <= 0 {
		return errors.New("tx-timeout must be > 0")
	}
	if c.sendHex != "" {
		decoded, err := hex.DecodeString(c.sendHex)
		if err != nil {
			return fmt.Errorf("send-hex is not valid hex: %w", err)
		}
		if len(decoded) == 0 || len(decoded) > c.maxPacket {
			return fmt.Errorf("send-hex must decode to 1-%d bytes (got %d)", c.maxPacket, len(decoded))
		}
	}
	if c.redisAddr == "" {
		return errors.New("redis-addr must not be empty")
	}
	return nil
}

// applyEnvOverrides maps UART_LINK_GATEWAY_* environment variables onto cfg
// unless the corresponding flag was explicitly set on the command line,
// which always wins.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	str := func(flagName, env string, dst *string) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			*dst = v
		}
	}
	intv := func(flagName, env string, dst *int, allowZero bool) {
		if _, ok := set[flagName]; ok {
			return
		}
		v, ok := get(env)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", env, err)
			}
			return
		}
		if n < 0 || (!allowZero && n == 0) {
			return
		}
		*dst = n
	}
	dur := func(flagName, env string, dst *time.Duration) {
		if _, ok := set[flagName]; ok {
			return
		}
		v, ok := get(env)
		if !ok || v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", env, err)
			}
			return
		}
		if d > 0 {
			*dst = d
		}
	}
	boolv := func(flagName, env string, dst *bool) {
		if _, ok := set[flagName]; ok {
			return
		}
		v, ok := get(env)
		if !ok || v == "" {
			return
		}
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			*dst = true
		case "0", "false", "no", "off":
			*dst = false
		}
	}

	str("serial", "UART_LINK_GATEWAY_SERIAL", &c.serialDev)
	intv("baud", "UART_LINK_GATEWAY_BAUD", &c.baud, false)
	dur("serial-read-timeout", "UART_LINK_GATEWAY_SERIAL_READ_TIMEOUT", &c.serialReadTO)
	str("log-format", "UART_LINK_GATEWAY_LOG_FORMAT", &c.logFormat)
	str("log-level", "UART_LINK_GATEWAY_LOG_LEVEL", &c.logLevel)
	str("metrics-addr", "UART_LINK_GATEWAY_METRICS", &c.metricsAddr)
	dur("log-metrics-interval", "UART_LINK_GATEWAY_LOG_METRICS_INTERVAL", &c.logMetricsEvery)
	intv("max-packet", "UART_LINK_GATEWAY_MAX_PACKET", &c.maxPacket, false)
	intv("sync-byte", "UART_LINK_GATEWAY_SYNC_BYTE", &c.syncByte, true)
	intv("chunk-len", "UART_LINK_GATEWAY_CHUNK_LEN", &c.chunkLen, false)
	intv("queue-depth", "UART_LINK_GATEWAY_QUEUE_DEPTH", &c.msgQDepth, false)
	dur("tx-timeout", "UART_LINK_GATEWAY_TX_TIMEOUT", &c.txTimeout)
	str("send-hex", "UART_LINK_GATEWAY_SEND_HEX", &c.sendHex)
	str("redis-addr", "UART_LINK_GATEWAY_REDIS_ADDR", &c.redisAddr)
	str("redis-password", "UART_LINK_GATEWAY_REDIS_PASSWORD", &c.redisPassword)
	intv("redis-db", "UART_LINK_GATEWAY_REDIS_DB", &c.redisDB, true)
	str("redis-key", "UART_LINK_GATEWAY_REDIS_KEY", &c.redisKey)
	str("redis-channel", "UART_LINK_GATEWAY_REDIS_CHANNEL", &c.redisChannel)
	boolv("mdns-enable", "UART_LINK_GATEWAY_MDNS_ENABLE", &c.mdnsEnable)
	str("mdns-name", "UART_LINK_GATEWAY_MDNS_NAME", &c.mdnsName)

	return firstErr
}
