package redisq

import (
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultAddr            = "localhost:6379"
	DefaultRetries         = 5
	DefaultPollingInterval = 10 * time.Second
)

type Options struct {
	Prefix        string
	Type          Type
	Retries       int
	Client        Client
	Addr          string
	Logger        *slog.Logger
	ErrorHandler  func(error)
	TriggerClient redis.UniversalClient
}

type Option func(*Options)

// WithPrefix namespaces the list key as "<prefix>:<name>".
func WithPrefix(prefix string) Option {
	return func(o *Options) { o.Prefix = prefix }
}

func WithType(t Type) Option {
	return func(o *Options) { o.Type = t }
}

// WithRetries sets how many times a failed payload is requeued before it is
// reported as a poison message. Negative values are ignored.
func WithRetries(n int) Option {
	return func(o *Options) {
		if n >= 0 {
			o.Retries = n
		}
	}
}

// WithClient makes the queue use an existing client. The same client may
// back any number of queues.
func WithClient(c Client) Option {
	return func(o *Options) { o.Client = c }
}

// WithAddr sets the Redis address used when no client is supplied.
func WithAddr(addr string) Option {
	return func(o *Options) { o.Addr = addr }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithErrorHandler subscribes fn to the queue's error channel from the start.
// See Queue.OnError.
func WithErrorHandler(fn func(error)) Option {
	return func(o *Options) { o.ErrorHandler = fn }
}

// WithTriggerClient enables PubSub lifecycle events.
// It must be a go-redis/v9 client that supports Subscribe (e.g. *redis.Client or *redis.ClusterClient).
func WithTriggerClient(c redis.UniversalClient) Option {
	return func(o *Options) { o.TriggerClient = c }
}

type PushOptions struct {
	RetryCount int
}

type PushOption func(*PushOptions)

// WithRetryCount pushes the payload as if it had already been redelivered n times.
func WithRetryCount(n int) PushOption {
	return func(o *PushOptions) {
		if n >= 0 {
			o.RetryCount = n
		}
	}
}

type PullOptions struct {
	Polling         bool
	PollingInterval time.Duration
}

type PullOption func(*PullOptions)

// WithPolling keeps Pull reading until Stop is called or the context ends.
func WithPolling(polling bool) PullOption {
	return func(o *PullOptions) { o.Polling = polling }
}

// WithPollingInterval sets how long a single read blocks on the server
// (BRPOP timeout). BRPOP has seconds resolution, so d is rounded up to whole
// seconds; non-positive values are ignored.
func WithPollingInterval(d time.Duration) PullOption {
	return func(o *PullOptions) {
		if d > 0 {
			o.PollingInterval = roundUpSeconds(d)
		}
	}
}

func roundUpSeconds(d time.Duration) time.Duration {
	return ((d + time.Second - 1) / time.Second) * time.Second
}
