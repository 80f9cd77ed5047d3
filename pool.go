package redisq

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// WorkerPool drains every queue of a namespace that announces pushes on the
// namespace event channel, using a bounded number of worker goroutines that
// share one client.
type WorkerPool[T any] struct {
	client       redis.UniversalClient
	codec        Codec[T]
	prefix       string
	minWorkers   int
	maxWorkers   int
	retries      int
	handler      func(context.Context, string, *Message[T]) error
	onError      func(error)
	logger       *slog.Logger
	log          *slog.Logger
	queueIdle    time.Duration
	workerIdle   time.Duration
	pollInterval time.Duration
	runCtx       context.Context
	cancel       context.CancelFunc

	mu       sync.RWMutex
	queues   map[string]*queueState
	workCh   chan string
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	pubsub   *redis.PubSub

	workersMu    sync.Mutex
	workersLive  int
	nextWorkerID int
}

type queueState struct {
	name       string
	lastActive time.Time
	msgCount   int64
	active     bool
	pending    bool
}

type PoolOption func(*poolOptions)

type poolOptions struct {
	minWorkers   int
	maxWorkers   int
	retries      int
	queueIdle    time.Duration
	workerIdle   time.Duration
	pollInterval time.Duration
	onError      func(error)
	logger       *slog.Logger
}

// WithWorkerCount sets the maximum number of worker goroutines.
func WithWorkerCount(n int) PoolOption {
	return func(o *poolOptions) { o.maxWorkers = n }
}

func WithMinWorkers(n int) PoolOption {
	return func(o *poolOptions) { o.minWorkers = n }
}

// WithIdleTimeout sets how long a queue may stay empty before its worker
// moves on.
func WithIdleTimeout(d time.Duration) PoolOption {
	return func(o *poolOptions) { o.queueIdle = d }
}

// WithWorkerIdleTimeout controls how long a worker goroutine waits for new work
// before exiting (down to MinWorkers).
func WithWorkerIdleTimeout(d time.Duration) PoolOption {
	return func(o *poolOptions) { o.workerIdle = d }
}

// WithPollInterval sets the blocking read timeout used while draining a
// queue. It is rounded up to whole seconds.
func WithPollInterval(d time.Duration) PoolOption {
	return func(o *poolOptions) {
		if d > 0 {
			o.pollInterval = roundUpSeconds(d)
		}
	}
}

// WithPoolRetries sets the retry budget of the queues the pool drains.
func WithPoolRetries(n int) PoolOption {
	return func(o *poolOptions) {
		if n >= 0 {
			o.retries = n
		}
	}
}

// WithPoolErrorHandler receives store, codec and poison errors from every
// drained queue.
func WithPoolErrorHandler(fn func(error)) PoolOption {
	return func(o *poolOptions) { o.onError = fn }
}

func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(o *poolOptions) { o.logger = l }
}

func NewWorkerPool[T any](
	client redis.UniversalClient,
	prefix string,
	codec Codec[T],
	handler func(context.Context, string, *Message[T]) error,
	opts ...PoolOption,
) *WorkerPool[T] {
	o := poolOptions{
		maxWorkers:   10,
		retries:      DefaultRetries,
		queueIdle:    5 * time.Minute,
		workerIdle:   30 * time.Second,
		pollInterval: time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	o.normalize()
	if o.logger == nil {
		o.logger = slog.Default()
	}
	log := o.logger.With("component", "redisq.pool", "namespace", eventNamespace(prefix))
	if o.onError == nil {
		o.onError = func(err error) { log.Error("queue error", "err", err) }
	}

	return &WorkerPool[T]{
		client:       client,
		codec:        codec,
		prefix:       prefix,
		minWorkers:   o.minWorkers,
		maxWorkers:   o.maxWorkers,
		retries:      o.retries,
		handler:      handler,
		onError:      o.onError,
		logger:       o.logger,
		log:          log,
		queueIdle:    o.queueIdle,
		workerIdle:   o.workerIdle,
		pollInterval: o.pollInterval,
		queues:       make(map[string]*queueState),
		workCh:       make(chan string, 1000),
		stopCh:       make(chan struct{}),
	}
}

// normalize clamps worker bounds and idle timeouts. The pool never writes
// these fields after construction.
func (o *poolOptions) normalize() {
	o.maxWorkers = max(o.maxWorkers, 1)
	o.minWorkers = min(max(o.minWorkers, 0), o.maxWorkers)
	if o.workerIdle <= 0 {
		o.workerIdle = 30 * time.Second
	}
	if o.queueIdle <= 0 {
		o.queueIdle = 5 * time.Minute
	}
}

// Start subscribes to the namespace event channel and starts MinWorkers
// workers. Queues are picked up from the first push announced after Start.
func (p *WorkerPool[T]) Start(ctx context.Context) error {
	p.runCtx, p.cancel = context.WithCancel(ctx)
	p.pubsub = p.client.Subscribe(ctx, eventNamespace(p.prefix)+":events")
	if _, err := p.pubsub.Receive(ctx); err != nil {
		p.cancel()
		_ = p.pubsub.Close()
		return err
	}

	for i := 0; i < p.minWorkers; i++ {
		p.spawnWorker()
	}

	p.wg.Add(2)
	go p.eventListener(p.runCtx)
	go p.idleCleaner(p.runCtx)

	p.log.Debug("pool started", "min_workers", p.minWorkers, "max_workers", p.maxWorkers)
	return nil
}

// Stop ends the event listener and waits for workers to finish their
// current read. The shared client is left open.
func (p *WorkerPool[T]) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		if p.cancel != nil {
			p.cancel()
		}
		if p.pubsub != nil {
			_ = p.pubsub.Close()
		}
	})
	p.wg.Wait()
}

func (p *WorkerPool[T]) eventListener(ctx context.Context) {
	defer p.wg.Done()

	ch := p.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				p.log.Debug("ignoring malformed event", "err", err)
				continue
			}
			if ev.Type == EventPushed && ev.Queue != "" {
				p.markPushed(ev.Queue)
			}
		}
	}
}

// markPushed records a push on name. A queue nobody drains is scheduled;
// a queue being drained is flagged so its worker schedules it again.
func (p *WorkerPool[T]) markPushed(name string) {
	now := time.Now()

	p.mu.Lock()
	qs := p.queues[name]
	if qs == nil {
		qs = &queueState{name: name}
		p.queues[name] = qs
	}
	qs.lastActive = now
	schedule := !qs.active
	if schedule {
		qs.active = true
	} else {
		qs.pending = true
	}
	p.mu.Unlock()

	if schedule {
		p.schedule(name)
	}
}

// release hands name back after a drain. It is scheduled again when a
// push arrived in the meantime.
func (p *WorkerPool[T]) release(name string) {
	p.mu.Lock()
	qs := p.queues[name]
	again := qs != nil && qs.pending
	if qs != nil {
		qs.pending = false
		qs.active = again
		if again {
			qs.lastActive = time.Now()
		}
	}
	p.mu.Unlock()

	if again {
		p.schedule(name)
	}
}

func (p *WorkerPool[T]) schedule(name string) {
	select {
	case p.workCh <- name:
	default:
		p.log.Warn("work channel full, dropping schedule", "queue", name)
	}
	if len(p.workCh) > 0 {
		p.spawnWorker()
	}
}

// spawnWorker starts a worker unless MaxWorkers are already running.
func (p *WorkerPool[T]) spawnWorker() {
	p.workersMu.Lock()
	if p.workersLive >= p.maxWorkers {
		p.workersMu.Unlock()
		return
	}
	id := p.nextWorkerID
	p.nextWorkerID++
	p.workersLive++
	p.workersMu.Unlock()

	p.wg.Add(1)
	go p.worker(p.runCtx, id)
}

// retire reports whether the calling idle worker may exit, and if so
// removes it from the live count.
func (p *WorkerPool[T]) retire() bool {
	p.workersMu.Lock()
	defer p.workersMu.Unlock()
	if p.workersLive <= p.minWorkers {
		return false
	}
	p.workersLive--
	return true
}

func (p *WorkerPool[T]) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	idle := time.NewTimer(p.workerIdle)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			p.exitWorker()
			return
		case <-p.stopCh:
			p.exitWorker()
			return
		case name := <-p.workCh:
			p.processQueue(ctx, name)
			p.release(name)
			idle.Reset(p.workerIdle)
		case <-idle.C:
			if p.retire() {
				p.log.Debug("worker idle, exiting", "worker", id)
				return
			}
			idle.Reset(p.workerIdle)
		}
	}
}

func (p *WorkerPool[T]) exitWorker() {
	p.workersMu.Lock()
	p.workersLive--
	p.workersMu.Unlock()
}

func (p *WorkerPool[T]) processQueue(ctx context.Context, queueName string) {
	q, err := New(queueName, p.codec,
		WithClient(p.client),
		WithPrefix(p.prefix),
		WithRetries(p.retries),
		WithLogger(p.logger),
		WithErrorHandler(p.onError),
	)
	if err != nil {
		p.onError(err)
		return
	}
	h := func(ctx context.Context, m *Message[T]) error {
		return p.handler(ctx, queueName, m)
	}

	lastMsgAt := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		default:
		}

		delivered, err := q.pullOnce(ctx, h, p.pollInterval)
		if err != nil {
			if ctx.Err() == nil {
				p.onError(err)
			}
			return
		}

		if !delivered {
			if time.Since(lastMsgAt) >= p.queueIdle {
				return
			}
			continue
		}

		lastMsgAt = time.Now()
		p.updateQueueActivity(queueName)
	}
}

func (p *WorkerPool[T]) updateQueueActivity(name string) {
	p.mu.Lock()
	if qs, ok := p.queues[name]; ok {
		qs.lastActive = time.Now()
		qs.msgCount++
	}
	p.mu.Unlock()
}

func (p *WorkerPool[T]) idleCleaner(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.cleanIdleQueues()
		}
	}
}

// cleanIdleQueues forgets queues that nobody drains and that saw no push
// for the queue idle timeout. Their counters disappear from Stats.
func (p *WorkerPool[T]) cleanIdleQueues() {
	cutoff := time.Now().Add(-p.queueIdle)
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, qs := range p.queues {
		if !qs.active && qs.lastActive.Before(cutoff) {
			delete(p.queues, name)
		}
	}
}

// Stats returns the number of deliveries handled per queue.
func (p *WorkerPool[T]) Stats() map[string]int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := make(map[string]int64, len(p.queues))
	for name, qs := range p.queues {
		stats[name] = qs.msgCount
	}
	return stats
}
