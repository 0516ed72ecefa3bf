// SPDX-License-Identifier: MIT

// Package bus implements the Redis pub/sub event bus used for
// service-to-service coordination: publish with TTL-bounded persistence,
// fan-out subscriptions, a single dispatch loop, and an at-least-once
// retry policy with dead-lettering on the consumer side.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/auditflow/ledgerbus/internal/event"
	"github.com/auditflow/ledgerbus/internal/log"
	"github.com/auditflow/ledgerbus/internal/metrics"
)

// Config holds construction-time settings. There is no dynamic
// reconfiguration; build a new Bus to change any of these.
type Config struct {
	RedisURL      string        // connection string, e.g. redis://localhost:6379/0
	MaxRetries    int           // handler retry budget per delivery (default 3)
	PersistEvents bool          // write published events to the history store
	EventTTL      time.Duration // TTL for history and DLQ keys (default 7 days)
	BackoffCap    time.Duration // ceiling for exponential retry backoff (default 60s)
	PollTimeout   time.Duration // broker poll timeout in the dispatch loop (default 1s)
}

func (c *Config) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.EventTTL <= 0 {
		c.EventTTL = 7 * 24 * time.Hour
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 60 * time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = time.Second
	}
}

// Handler consumes a decoded event. A non-nil error triggers the retry
// policy; it is never propagated back to the publisher.
type Handler func(ctx context.Context, ev event.Event) error

type registration struct {
	eventType string
	handler   Handler
}

// Bus owns one broker connection, one subscription handle and one dispatch
// goroutine. Construct it explicitly and pass it to consumers; there is no
// package-level instance.
type Bus struct {
	cfg      Config
	logger   zerolog.Logger
	tracer   trace.Tracer
	registry *event.Registry
	backoff  func(retry int) time.Duration

	mu        sync.RWMutex
	client    *redis.Client
	pubsub    *redis.PubSub
	store     *store
	handlers  map[string][]registration
	listening bool

	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithLogger overrides the default component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithBackoff overrides the retry backoff schedule. Used by tests to avoid
// multi-second sleeps.
func WithBackoff(fn func(retry int) time.Duration) Option {
	return func(b *Bus) { b.backoff = fn }
}

// New builds an unconnected Bus. Call Connect before publishing or
// subscribing.
func New(cfg Config, opts ...Option) *Bus {
	cfg.applyDefaults()
	b := &Bus{
		cfg:      cfg,
		logger:   log.WithComponent("bus"),
		tracer:   otel.Tracer("ledgerbus"),
		registry: event.NewRegistry(),
		handlers: make(map[string][]registration),
	}
	b.backoff = func(retry int) time.Duration {
		d := b.cfg.BackoffCap
		if retry < 30 {
			if exp := time.Duration(1<<uint(retry)) * time.Second; exp < d {
				d = exp
			}
		}
		return d
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Connect establishes the broker connection and the subscription handle.
// Calling Connect on a live bus returns ErrAlreadyConnected instead of
// silently leaking a second handle.
func (b *Bus) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client != nil {
		return ErrAlreadyConnected
	}

	opt, err := redis.ParseURL(b.cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis connection failed: %w", err)
	}

	b.client = client
	b.pubsub = client.Subscribe(ctx)
	b.store = &store{client: client, ttl: b.cfg.EventTTL, logger: b.logger}

	b.logger.Info().
		Str("addr", opt.Addr).
		Int("db", opt.DB).
		Bool("persist_events", b.cfg.PersistEvents).
		Msg("connected to event bus broker")
	return nil
}

// Disconnect stops the dispatch loop, closes the subscription and the
// connection. Safe to call when never connected, and safe to call twice.
// In-flight handler work is not awaited beyond the loop's own shutdown.
func (b *Bus) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	cancel := b.loopCancel
	done := b.loopDone
	b.loopCancel = nil
	b.loopDone = nil
	b.listening = false
	b.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubsub != nil {
		if err := b.pubsub.Close(); err != nil {
			b.logger.Warn().Err(err).Msg("closing subscription failed")
		}
		b.pubsub = nil
	}
	if b.client != nil {
		if err := b.client.Close(); err != nil {
			b.logger.Warn().Err(err).Msg("closing broker connection failed")
		}
		b.client = nil
		b.store = nil
		b.logger.Info().Msg("disconnected from event bus broker")
	}
	return nil
}

// Publish wraps the event in a first-delivery envelope and sends it to the
// channel. Delivery is fire-and-forget: no subscriber acknowledgment is
// awaited; reliability comes from the consumer-side retry loop. With
// persistence enabled the envelope is also written to the history store.
func (b *Bus) Publish(ctx context.Context, channel string, ev event.Event) error {
	b.mu.RLock()
	client, st := b.client, b.store
	b.mu.RUnlock()
	if client == nil {
		return ErrNotConnected
	}

	ctx, span := b.tracer.Start(ctx, "bus.publish", trace.WithAttributes(
		attribute.String("messaging.destination", channel),
		attribute.String("messaging.message_type", ev.EventType()),
	))
	defer span.End()

	env, err := event.Wrap(ev)
	if err != nil {
		return err
	}
	body, err := env.Encode()
	if err != nil {
		return err
	}

	if err := client.Publish(ctx, channel, body).Err(); err != nil {
		return fmt.Errorf("publish to %q: %w", channel, err)
	}
	metrics.PublishedTotal.WithLabelValues(channel, ev.EventType()).Inc()

	if b.cfg.PersistEvents {
		if err := st.saveEvent(ctx, channel, env, body); err != nil {
			// History is best-effort; the event is already on the wire.
			b.logger.Warn().Err(err).
				Str("channel", channel).
				Str("event_id", env.EventID).
				Msg("persisting published event failed")
		}
	}

	b.logger.Debug().
		Str("channel", channel).
		Str("event_id", env.EventID).
		Str("event_type", ev.EventType()).
		Msg("event published")
	return nil
}

// Subscribe registers a handler for one event type on a channel and issues
// the broker-level subscribe. Multiple handlers per channel fan out: each
// receives every matching message independently.
func (b *Bus) Subscribe(ctx context.Context, channel, eventType string, decode event.DecodeFunc, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pubsub == nil {
		return ErrNotConnected
	}
	if err := b.pubsub.Subscribe(ctx, channel); err != nil {
		return fmt.Errorf("subscribe to %q: %w", channel, err)
	}
	b.registry.Register(eventType, decode)
	b.handlers[channel] = append(b.handlers[channel], registration{eventType: eventType, handler: h})

	b.logger.Info().
		Str("channel", channel).
		Str("event_type", eventType).
		Int("handlers", len(b.handlers[channel])).
		Msg("handler registered")
	return nil
}

// On registers a typed handler, deriving the decoder from T.
func On[T event.Event](ctx context.Context, b *Bus, channel, eventType string, h func(context.Context, T) error) error {
	return b.Subscribe(ctx, channel, eventType, event.Decoder[T](), func(ctx context.Context, ev event.Event) error {
		typed, ok := ev.(T)
		if !ok {
			return fmt.Errorf("handler for %q received %T", eventType, ev)
		}
		return h(ctx, typed)
	})
}

// StartListening spawns the dispatch goroutine. A second call while the
// loop is running logs a warning and does nothing.
func (b *Bus) StartListening() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pubsub == nil {
		return ErrNotConnected
	}
	if b.listening {
		b.logger.Warn().Msg("dispatch loop already running")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.loopCancel = cancel
	b.loopDone = make(chan struct{})
	b.listening = true

	go b.dispatchLoop(ctx, b.pubsub, b.loopDone)
	b.logger.Info().Msg("dispatch loop started")
	return nil
}
