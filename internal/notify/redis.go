package notify

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/investigator/internal/resilience"
)

// redisClient is the slice of *redis.Client the relay needs.
type redisClient interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisPublisher relays events to a Redis pub/sub channel for consumers
// outside this process. Publish only enqueues; a single sender drains the
// queue, so a slow broker never delays the caller. Events that do not fit
// in the queue are dropped and counted. Failures are logged, never returned.
type RedisPublisher struct {
	client  redisClient
	channel string
	timeout time.Duration
	breaker *resilience.Breaker
	log     *zap.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan Event
	done    chan struct{}
	dropped atomic.Int64
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "notify: ping redis %s", addr)
	}
	return client, nil
}

const defaultRelayQueue = 256

// NewRedisPublisher starts a relay to channel through client holding up to
// queueSize pending events. After five consecutive failures the relay stops
// calling Redis for 30s so a dead broker does not add its timeout to every
// queued event. Close flushes the queue and stops the sender.
func NewRedisPublisher(client redisClient, channel string, queueSize int) *RedisPublisher {
	if queueSize <= 0 {
		queueSize = defaultRelayQueue
	}
	log := zap.L().With(zap.String("component", "notify.redis"))
	p := &RedisPublisher{
		client:  client,
		channel: channel,
		timeout: 2 * time.Second,
		breaker: resilience.NewBreaker(5, 30*time.Second, func(from, to resilience.BreakerState) {
			log.Warn("redis relay breaker", zap.Stringer("from", from), zap.Stringer("to", to))
		}),
		log:   log,
		queue: make(chan Event, queueSize),
		done:  make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish enqueues e without blocking. It drops e when the queue is full or
// the relay is closed.
func (p *RedisPublisher) Publish(_ context.Context, e Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.drop("relay_closed")
		return
	}
	select {
	case p.queue <- e:
	default:
		p.drop("relay_full")
	}
}

// Dropped returns how many events never reached the sender.
func (p *RedisPublisher) Dropped() int64 {
	return p.dropped.Load()
}

// Close stops accepting events and waits until the queued ones are sent or
// ctx is done.
func (p *RedisPublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return eris.Wrapf(ctx.Err(), "notify: flush redis relay (%d pending)", len(p.queue))
	}
}

func (p *RedisPublisher) drop(reason string) {
	p.dropped.Add(1)
	eventsDropped.WithLabelValues(reason).Inc()
}

func (p *RedisPublisher) run() {
	defer close(p.done)
	for e := range p.queue {
		p.send(e)
	}
}

func (p *RedisPublisher) send(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		p.log.Warn("marshal event", zap.Error(err))
		return
	}

	if err := p.breaker.Allow(); err != nil {
		eventsDropped.WithLabelValues("relay_open").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	err = p.client.Publish(ctx, p.channel, payload).Err()
	p.breaker.Record(err)
	if err != nil {
		eventsDropped.WithLabelValues("relay_error").Inc()
		p.log.Warn("relay event",
			zap.String("kind", string(e.Kind)),
			zap.String("instance_id", e.InstanceID),
			zap.Error(err),
		)
	}
}
