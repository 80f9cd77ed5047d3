package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultNamespace = "redisq"

// Queue is a named Redis list consumed in FIFO or LIFO order.
//
// A Queue runs at most one Pull loop at a time. Several queues may share
// one Client.
type Queue[T any] struct {
	client Client
	codec  Codec[T]
	opt    Options
	name   string
	log    *slog.Logger

	stopping atomic.Bool
	stopOnce sync.Once
	stopErr  error

	mu      sync.RWMutex
	subs    []errorSub
	nextSub uint64
}

type errorSub struct {
	id uint64
	fn func(error)
}

func New[T any](name string, codec Codec[T], opts ...Option) (*Queue[T], error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidQueueName
	}
	if codec == nil {
		return nil, fmt.Errorf("redisq: %s: nil codec", name)
	}

	opt := Options{
		Prefix:  "",
		Type:    FIFO,
		Retries: DefaultRetries,
		Addr:    DefaultAddr,
	}
	for _, fn := range opts {
		if fn != nil {
			fn(&opt)
		}
	}
	if opt.Type == "" {
		opt.Type = FIFO
	}
	if !opt.Type.valid() {
		return nil, ErrInvalidQueueType
	}
	if opt.Addr == "" {
		opt.Addr = DefaultAddr
	}
	if opt.Client == nil {
		opt.Client = redis.NewClient(&redis.Options{Addr: opt.Addr})
	}
	if opt.TriggerClient == nil {
		if uc, ok := opt.Client.(redis.UniversalClient); ok {
			opt.TriggerClient = uc
		}
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}

	q := &Queue[T]{
		client: opt.Client,
		codec:  codec,
		opt:    opt,
		name:   name,
		log:    opt.Logger.With("component", "redisq", "queue", name),
	}
	if opt.ErrorHandler != nil {
		q.OnError(opt.ErrorHandler)
	}
	return q, nil
}

func (q *Queue[T]) Name() string { return q.name }
func (q *Queue[T]) Type() Type   { return q.opt.Type }

// Stopping reports whether Stop has been called.
func (q *Queue[T]) Stopping() bool { return q.stopping.Load() }

func (q *Queue[T]) key() string {
	if q.opt.Prefix == "" {
		return q.name
	}
	return q.opt.Prefix + ":" + q.name
}

func eventNamespace(prefix string) string {
	if prefix == "" {
		return defaultNamespace
	}
	return prefix
}

func (q *Queue[T]) eventChannel() string {
	return eventNamespace(q.opt.Prefix) + ":" + q.name + ":events"
}

func (q *Queue[T]) namespaceEventChannel() string {
	return eventNamespace(q.opt.Prefix) + ":events"
}

func (q *Queue[T]) publish(ctx context.Context, typ EventType, extra map[string]string) {
	if q.opt.TriggerClient == nil {
		return
	}
	b, _ := json.Marshal(Event{Type: typ, Queue: q.name, AtUnixMs: time.Now().UnixMilli(), Extra: extra})
	// Publish to both a per-queue channel and a namespace channel so pools
	// can discover queues without PSUBSCRIBE.
	_ = q.opt.TriggerClient.Publish(ctx, q.eventChannel(), b).Err()
	_ = q.opt.TriggerClient.Publish(ctx, q.namespaceEventChannel(), b).Err()
}

func rcExtra(rc int) map[string]string {
	return map[string]string{"rc": strconv.Itoa(rc)}
}

// OnError subscribes fn to failures that happen inside a pull loop:
// codec errors, failed requeues (*RequeueError) and poison messages. fn
// runs on the pulling goroutine. The returned func removes the subscription.
//
// Errors raised while nobody is subscribed are logged.
func (q *Queue[T]) OnError(fn func(error)) (cancel func()) {
	q.mu.Lock()
	id := q.nextSub
	q.nextSub++
	q.subs = append(q.subs, errorSub{id: id, fn: fn})
	q.mu.Unlock()

	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		for i, s := range q.subs {
			if s.id == id {
				q.subs = append(q.subs[:i:i], q.subs[i+1:]...)
				return
			}
		}
	}
}

func (q *Queue[T]) emit(err error) {
	q.mu.RLock()
	subs := append([]errorSub(nil), q.subs...)
	q.mu.RUnlock()

	if len(subs) == 0 {
		q.log.Error("unobserved queue error", "err", err)
		return
	}
	for _, s := range subs {
		s.fn(err)
	}
}

// Push encodes v, wraps it in an envelope and writes it to the head (FIFO)
// or tail (LIFO) of the list.
func (q *Queue[T]) Push(ctx context.Context, v T, opts ...PushOption) error {
	var po PushOptions
	for _, fn := range opts {
		if fn != nil {
			fn(&po)
		}
	}
	b, err := q.codec.Encode(v)
	if err != nil {
		return &CodecError{Queue: q.name, Op: "encode", Err: err}
	}
	return q.pushRaw(ctx, b, po.RetryCount, EventPushed)
}

func (q *Queue[T]) pushRaw(ctx context.Context, payload []byte, rc int, ev EventType) error {
	raw, err := wrap(payload, rc)
	if err != nil {
		return &CodecError{Queue: q.name, Op: "wrap", Raw: payload, Err: err}
	}

	op := "LPUSH"
	if q.opt.Type == LIFO {
		op = "RPUSH"
		err = q.client.RPush(ctx, q.key(), raw).Err()
	} else {
		err = q.client.LPush(ctx, q.key(), raw).Err()
	}
	if err != nil {
		return &StoreError{Queue: q.name, Op: op, Err: err}
	}

	q.log.Debug("pushed message", "type", q.opt.Type, "rc", rc)
	q.publish(ctx, ev, rcExtra(rc))
	return nil
}

// Pull reads from the tail of the list and hands each payload to h.
//
// Without WithPolling, Pull performs one read that blocks on the server for
// at most the polling interval, invokes h at most once and returns. An empty
// queue is not an error.
//
// With WithPolling(true), Pull keeps reading after every delivery and every
// empty read until Stop is called (then it returns nil) or ctx ends (then it
// returns ctx.Err()). A failed read ends the loop with a *StoreError.
//
// A failed delivery is requeued with its retry count incremented, or
// reported as a *PoisonMessageError once the budget is spent.
func (q *Queue[T]) Pull(ctx context.Context, h Handler[T], opts ...PullOption) error {
	po := PullOptions{PollingInterval: DefaultPollingInterval}
	for _, fn := range opts {
		if fn != nil {
			fn(&po)
		}
	}

	for {
		if _, err := q.pullOnce(ctx, h, po.PollingInterval); err != nil {
			if q.stopping.Load() {
				q.log.Debug("read aborted by stop", "err", err)
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if !po.Polling || q.stopping.Load() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// pullOnce reports whether an entry was taken off the list.
func (q *Queue[T]) pullOnce(ctx context.Context, h Handler[T], wait time.Duration) (bool, error) {
	q.log.Debug("reading from the queue")
	res, err := q.client.BRPop(ctx, wait, q.key()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			q.log.Debug("queue is empty")
			return false, nil
		}
		return false, &StoreError{Queue: q.name, Op: "BRPOP", Err: err}
	}
	if len(res) != 2 {
		return false, nil
	}

	raw := []byte(res[1])
	payload, rc, err := unwrap(raw)
	if err != nil {
		q.emit(&CodecError{Queue: q.name, Op: "unwrap", Raw: raw, Err: err})
		return true, nil
	}
	v, err := q.codec.Decode(payload)
	if err != nil {
		q.emit(&CodecError{Queue: q.name, Op: "decode", Raw: payload, Err: err})
		return true, nil
	}

	q.log.Debug("got a message", "rc", rc)
	q.publish(ctx, EventReceived, rcExtra(rc))

	m := &Message[T]{Payload: v, RetryCount: rc, Raw: payload}
	q.done(ctx, m, q.invoke(ctx, h, m))
	return true, nil
}

func (q *Queue[T]) invoke(ctx context.Context, h Handler[T], m *Message[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return h(ctx, m)
}

func (q *Queue[T]) done(ctx context.Context, m *Message[T], herr error) {
	if herr == nil {
		q.publish(ctx, EventAcked, rcExtra(m.RetryCount))
		return
	}

	if !shouldRequeue(m.RetryCount, q.opt.Retries) {
		q.log.Debug("retry budget exhausted", "rc", m.RetryCount, "err", herr)
		q.publish(ctx, EventPoisoned, rcExtra(m.RetryCount))
		q.emit(&PoisonMessageError{
			Queue:      q.name,
			Payload:    m.Payload,
			Raw:        m.Raw,
			RetryCount: m.RetryCount,
			Err:        herr,
		})
		return
	}

	// The payload was already removed from the list; a cancelled ctx must
	// not lose it.
	q.log.Debug("requeueing message", "rc", m.RetryCount+1, "err", herr)
	if err := q.pushRaw(context.WithoutCancel(ctx), m.Raw, m.RetryCount+1, EventRequeued); err != nil {
		q.emit(&RequeueError{
			Queue:      q.name,
			Payload:    m.Payload,
			Raw:        m.Raw,
			RetryCount: m.RetryCount,
			Cause:      herr,
			Err:        err,
		})
	}
}

// List returns the decoded payloads currently on the list without removing
// them. Index 0 is the head of the list: the most recent push of a FIFO
// queue, the oldest push of a LIFO queue.
func (q *Queue[T]) List(ctx context.Context) ([]T, error) {
	vals, err := q.client.LRange(ctx, q.key(), 0, -1).Result()
	if err != nil {
		return nil, &StoreError{Queue: q.name, Op: "LRANGE", Err: err}
	}

	out := make([]T, 0, len(vals))
	for _, s := range vals {
		payload, _, err := unwrap([]byte(s))
		if err != nil {
			return nil, &CodecError{Queue: q.name, Op: "unwrap", Raw: []byte(s), Err: err}
		}
		v, err := q.codec.Decode(payload)
		if err != nil {
			return nil, &CodecError{Queue: q.name, Op: "decode", Raw: payload, Err: err}
		}
		out = append(out, v)
	}
	return out, nil
}

// Len returns the number of entries on the list.
func (q *Queue[T]) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key()).Result()
	if err != nil {
		return 0, &StoreError{Queue: q.name, Op: "LLEN", Err: err}
	}
	return n, nil
}

// Flush deletes the list. Entries are removed regardless of retry state.
func (q *Queue[T]) Flush(ctx context.Context) error {
	n, err := q.client.Del(ctx, q.key()).Result()
	if err != nil {
		return &StoreError{Queue: q.name, Op: "DEL", Err: err}
	}
	q.publish(ctx, EventFlushed, map[string]string{"removed": strconv.FormatInt(n, 10)})
	return nil
}

// Stop marks the queue as stopping and closes its client. A running Pull
// loop is not re-armed; a read already in flight is aborted by the close.
//
// Stop is idempotent. A client already closed through another queue
// sharing it is not an error.
func (q *Queue[T]) Stop() error {
	q.stopping.Store(true)
	q.stopOnce.Do(func() {
		q.log.Debug("closing queue")
		if err := q.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			q.stopErr = &StoreError{Queue: q.name, Op: "CLOSE", Err: err}
		}
	})
	return q.stopErr
}

// Subscribe registers a handler receiving PubSub events of this queue.
// Requires a trigger client.
func (q *Queue[T]) Subscribe(ctx context.Context, handler func(Event)) (func() error, error) {
	if q.opt.TriggerClient == nil {
		return nil, ErrTriggersNotConfigured
	}
	pubsub := q.opt.TriggerClient.Subscribe(ctx, q.eventChannel())
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}
	ch := pubsub.Channel()

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err == nil {
					handler(ev)
				}
			}
		}
	}()

	return func() error {
		close(stop)
		return pubsub.Close()
	}, nil
}
