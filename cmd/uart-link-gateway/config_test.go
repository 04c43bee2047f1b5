package main

import (
	"testing"
	"time"
)

func baseConfig() *appConfig {
	return &appConfig{
		serialDev:    "/dev/null",
		baud:         115200,
		serialReadTO: 10 * time.Millisecond,
		logFormat:    "text",
		logLevel:     "info",
		maxPacket:    64,
		syncByte:     0xAA,
		chunkLen:     64,
		msgQDepth:    4,
		txTimeout:    200 * time.Millisecond,
		redisAddr:    "127.0.0.1:6379",
	}
}

func TestConfigValidateOK(t *testing.T) {
	if err := baseConfig().validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"badBaud", func(c *appConfig) { c.baud = 0 }},
		{"badSerialTO", func(c *appConfig) { c.serialReadTO = 0 }},
		{"badMaxPacketZero", func(c *appConfig) { c.maxPacket = 0 }},
		{"badMaxPacketTooBig", func(c *appConfig) { c.maxPacket = 256 }},
		{"badSyncByteNegative", func(c *appConfig) { c.syncByte = -1 }},
		{"badSyncByteTooBig", func(c *appConfig) { c.syncByte = 256 }},
		{"badChunkLen", func(c *appConfig) { c.chunkLen = 0 }},
		{"badQueueDepth", func(c *appConfig) { c.msgQDepth = 0 }},
		{"badTxTimeout", func(c *appConfig) { c.txTimeout = 0 }},
		{"sendHexNotHex", func(c *appConfig) { c.sendHex = "zz" }},
		{"sendHexOddLength", func(c *appConfig) { c.sendHex = "abc" }},
		{"sendHexTooLong", func(c *appConfig) { c.maxPacket = 2; c.sendHex = "aabbcc" }},
		{"emptyRedisAddr", func(c *appConfig) { c.redisAddr = "" }},
	}
	for _, tc := range tests {
		c := baseConfig()
		tc.mod(c)
		if err := c.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestConfigValidateAcceptsWellFormedSendHex(t *testing.T) {
	c := baseConfig()
	c.sendHex = "aabbcc"
	if err := c.validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestConfigValidateRejectsNil(t *testing.T) {
	var c *appConfig
	if err := c.validate(); err == nil {
		t.Fatal("expected error for nil config")
	}
}
