// Package fanout mirrors the task registry into Redis so other processes
// can follow it: every snapshot is published on a channel and the latest
// one is kept under a key.
package fanout

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"taskhub/internal/metrics"
	"taskhub/internal/tasks"
)

const (
	DefaultChannel = "taskhub:tasks"
	DefaultKey     = "taskhub:tasks:latest"
	DefaultTTL     = 24 * time.Hour
)

// Client is the subset of *redis.Client the publisher uses.
type Client interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Publisher forwards registry snapshots to Redis. Registry listeners run
// synchronously, so the listener only parks the snapshot in a one-slot
// buffer; Run does the Redis I/O. When Redis is slower than the registry,
// intermediate snapshots are dropped and only the newest is sent.
type Publisher struct {
	client  Client
	channel string
	key     string
	ttl     time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	pending chan tasks.Snapshot
}

type Option func(*Publisher)

func WithChannel(name string) Option {
	return func(p *Publisher) {
		if name != "" {
			p.channel = name
		}
	}
}

func WithKey(key string) Option {
	return func(p *Publisher) {
		if key != "" {
			p.key = key
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(p *Publisher) { p.ttl = ttl }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) { p.logger = l }
}

func NewPublisher(client Client, opts ...Option) *Publisher {
	p := &Publisher{
		client:  client,
		channel: DefaultChannel,
		key:     DefaultKey,
		ttl:     DefaultTTL,
		pending: make(chan tasks.Snapshot, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run subscribes to reg and publishes snapshots until ctx is done.
func (p *Publisher) Run(ctx context.Context, reg *tasks.Registry) {
	unsubscribe := reg.Subscribe(p.offer)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case s := <-p.pending:
			if err := p.Publish(ctx, s); err != nil && ctx.Err() == nil {
				p.logWarn(ctx, "fanout_publish_failed", "channel", p.channel, "error", err)
			}
		}
	}
}

// Publish writes one snapshot to the channel and the latest-snapshot key.
func (p *Publisher) Publish(ctx context.Context, s tasks.Snapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		metrics.RecordFanout("error")
		return err
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		metrics.RecordFanout("error")
		return err
	}
	if err := p.client.Set(ctx, p.key, payload, p.ttl).Err(); err != nil {
		metrics.RecordFanout("error")
		return err
	}
	metrics.RecordFanout("ok")
	return nil
}

func (p *Publisher) offer(s tasks.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.pending:
	default:
	}
	p.pending <- s
}

func (p *Publisher) logWarn(ctx context.Context, msg string, args ...any) {
	if p.logger != nil {
		p.logger.WarnContext(ctx, msg, args...)
	}
}
