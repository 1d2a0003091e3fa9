package domain

import (
	"context"
	"time"
)

// TickCache keeps the most recent tick for fast reads by the HTTP API.
type TickCache interface {
	SetLatest(ctx context.Context, tick Tick) error
	GetLatest(ctx context.Context, pair string) (Tick, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Bus channels.
const (
	ChannelTicks     = "ticks"
	ChannelSignals   = "signals"
	ChannelPositions = "positions"
)

// StreamKey names the durable stream that mirrors a bus channel.
func StreamKey(channel string) string {
	return "stream:" + channel
}
