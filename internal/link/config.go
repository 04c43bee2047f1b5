package link

import (
	"time"

	"github.com/ampiolabs/uart-link-gateway/internal/frame"
)

// Config fixes the shape of a Link: the wire-level frame config plus the
// pipeline's buffering parameters.
type Config struct {
	frame.Config

	// ChunkLen is the size of one reader pull from the port. The ring's
	// capacity is 4*ChunkLen. The drain worker pulls off the ring in fixed
	// 256-byte steps regardless of ChunkLen.
	ChunkLen int

	// MsgQDepth bounds the delivery queue between the parser's emit
	// callback and the dedicated callback-invoking goroutine. A full queue
	// drops the newest frame and counts it in Counters.QueueDrop.
	MsgQDepth int

	// ReadErrorBackoff bounds how long the reader goroutine sleeps after a
	// port.Read error before retrying. Zero selects a 10ms default.
	ReadErrorBackoff time.Duration
}

// DefaultConfig returns the reference link parameters: the wire defaults
// from the frame package, a 64-byte chunk, and a 4-frame delivery queue.
func DefaultConfig() Config {
	return Config{
		Config:    frame.DefaultConfig(),
		ChunkLen:  64,
		MsgQDepth: 4,
	}
}

func (c Config) readErrorBackoff() time.Duration {
	if c.ReadErrorBackoff > 0 {
		return c.ReadErrorBackoff
	}
	return 10 * time.Millisecond
}

func (c Config) ringCapacity() int {
	if c.ChunkLen <= 0 {
		return 256
	}
	return 4 * c.ChunkLen
}
