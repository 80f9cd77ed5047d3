package redisq

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Type selects the ordering of a queue.
type Type string

const (
	// FIFO pushes to the head of the list; consumers pop the tail.
	FIFO Type = "fifo"
	// LIFO pushes to the tail of the list, the same end consumers pop.
	LIFO Type = "lifo"
)

func (t Type) valid() bool { return t == FIFO || t == LIFO }

// Client is the part of a go-redis client the queue needs.
// *redis.Client, *redis.ClusterClient and redis.UniversalClient satisfy it.
type Client interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// Message is one delivery handed to a Handler.
type Message[T any] struct {
	Payload    T
	RetryCount int
	Raw        []byte
}

// Handler processes a delivery. Returning nil acknowledges it; returning an
// error puts the payload back on the queue while the retry budget lasts.
type Handler[T any] func(ctx context.Context, m *Message[T]) error

type EventType string

const (
	EventPushed   EventType = "pushed"
	EventReceived EventType = "received"
	EventAcked    EventType = "acked"
	EventRequeued EventType = "requeued"
	EventPoisoned EventType = "poisoned"
	EventFlushed  EventType = "flushed"
)

type Event struct {
	Type     EventType         `json:"type"`
	Queue    string            `json:"queue"`
	AtUnixMs int64             `json:"at_unix_ms"`
	Extra    map[string]string `json:"extra,omitempty"`
}
