// Package sink publishes decoded TLV records to Redis: a CBOR-encoded
// envelope in a hash field, plus a pub/sub notification, mirroring the
// write-then-publish pattern used to fan host-link telemetry out to other
// processes on the vehicle.
package sink

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ampiolabs/uart-link-gateway/internal/metrics"
	"github.com/ampiolabs/uart-link-gateway/internal/tlv"
)

// envelope is the wire shape published for every record; field names are
// kept short since this is the on-wire CBOR map key set, not a Go API.
type envelope struct {
	ID                 uint8  `cbor:"id"`
	Len                uint8  `cbor:"len"`
	Value              []byte `cbor:"value"`
	ReceivedAtUnixNano int64  `cbor:"received_at_unix_nano"`
}

// Redis publishes decoded records to a Redis hash + channel pair.
type Redis struct {
	client  *redis.Client
	key     string
	channel string
}

// Open connects to addr and pings it once so construction fails fast on a
// misconfigured endpoint, matching the reference client's eager connect.
func Open(addr, password string, db int, key, channel string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("sink: connect to redis: %w", err)
	}
	return &Redis{client: client, key: key, channel: channel}, nil
}

// Publish CBOR-encodes rec, stores it under its TLV id in the configured
// hash, and publishes a notification on the configured channel in one
// pipeline round trip. It does not interpret rec; the sink forwards
// records without acting as an application-level message handler.
func (r *Redis) Publish(ctx context.Context, rec tlv.Record) error {
	payload, field, err := encodeEnvelope(rec, time.Now())
	if err != nil {
		return fmt.Errorf("sink: marshal cbor: %w", err)
	}
	pipe := r.client.Pipeline()
	pipe.HSet(ctx, r.key, field, payload)
	pipe.Publish(ctx, r.channel, field)
	if _, err := pipe.Exec(ctx); err != nil {
		metrics.IncError(metrics.ErrSinkWrite)
		return fmt.Errorf("sink: publish: %w", err)
	}
	metrics.IncSinkPublished()
	return nil
}

// Close releases the underlying Redis connection pool.
func (r *Redis) Close() error { return r.client.Close() }

// encodeEnvelope builds the wire payload and hash field for rec, observed
// at ts. Split out from Publish so the pure encoding logic is testable
// without a Redis connection.
func encodeEnvelope(rec tlv.Record, ts time.Time) (payload []byte, field string, err error) {
	env := envelope{ID: uint8(rec.ID), Len: rec.Len, Value: rec.Value, ReceivedAtUnixNano: ts.UnixNano()}
	payload, err = cbor.Marshal(env)
	if err != nil {
		return nil, "", err
	}
	return payload, strconv.Itoa(int(rec.ID)), nil
}
