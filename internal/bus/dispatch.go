// SPDX-License-Identifier: MIT

package bus

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/auditflow/ledgerbus/internal/event"
	"github.com/auditflow/ledgerbus/internal/metrics"
)

// dispatchLoop is the single consumer of the subscription handle. It polls
// with a short timeout, ignores subscription-control traffic and survives
// any error in its own body with a 1s pause. Handlers run sequentially
// inside this goroutine; a slow handler delays everything behind it.
func (b *Bus) dispatchLoop(ctx context.Context, ps *redis.PubSub, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}

		msg, err := ps.ReceiveTimeout(ctx, b.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			metrics.PollErrorsTotal.Inc()
			b.logger.Error().Err(err).Msg("dispatch poll failed")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		switch m := msg.(type) {
		case *redis.Message:
			b.handleMessage(ctx, m.Channel, []byte(m.Payload))
		case *redis.Subscription, *redis.Pong:
			// control traffic, nothing to dispatch
		}
	}
}

// handleMessage fans a broker message out to every registration on the
// channel whose event type matches the envelope's tag. Handler errors feed
// the retry policy and never escape this function.
func (b *Bus) handleMessage(ctx context.Context, channel string, body []byte) {
	b.mu.RLock()
	regs := append([]registration(nil), b.handlers[channel]...)
	b.mu.RUnlock()

	if len(regs) == 0 {
		metrics.IncDropped(channel, "no_handlers")
		b.logger.Debug().Str("channel", channel).Msg("message on channel with no handlers")
		return
	}

	env, err := event.DecodeEnvelope(body)
	if err != nil {
		metrics.IncDropped(channel, "bad_envelope")
		b.logger.Error().Err(err).Str("channel", channel).Msg("undecodable envelope")
		return
	}
	tag, err := env.TypeTag()
	if err != nil {
		metrics.IncDropped(channel, "bad_envelope")
		b.logger.Error().Err(err).Str("channel", channel).Str("event_id", env.EventID).Msg("envelope without type tag")
		return
	}

	matched := regs[:0]
	for _, reg := range regs {
		if reg.eventType == tag {
			matched = append(matched, reg)
		}
	}
	if len(matched) == 0 {
		metrics.IncDropped(channel, "unmatched_type")
		b.logger.Debug().
			Str("channel", channel).
			Str("event_type", tag).
			Msg("no handler registered for event type")
		return
	}

	ev, err := b.registry.Decode(tag, env.Data)
	if err != nil {
		// A payload no registered decoder accepts aborts this message for
		// every handler; there is no partial retry for decode failures.
		metrics.IncDropped(channel, "decode_failed")
		b.logger.Error().Err(err).
			Str("channel", channel).
			Str("event_id", env.EventID).
			Str("event_type", tag).
			Msg("event payload decode failed")
		return
	}

	for _, reg := range matched {
		b.invoke(ctx, channel, tag, env, ev, reg.handler)
	}
}

func (b *Bus) invoke(ctx context.Context, channel, tag string, env event.Envelope, ev event.Event, h Handler) {
	ctx, span := b.tracer.Start(ctx, "bus.handle", trace.WithAttributes(
		attribute.String("messaging.destination", channel),
		attribute.String("messaging.message_type", tag),
		attribute.Int("messaging.redelivery_count", env.RetryCount),
	))
	defer span.End()

	start := time.Now()
	err := h(ctx, ev)
	metrics.HandlerDuration.WithLabelValues(channel, tag).Observe(time.Since(start).Seconds())

	if err == nil {
		metrics.DeliveredTotal.WithLabelValues(channel, tag).Inc()
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "handler failed")
	metrics.HandlerErrorsTotal.WithLabelValues(channel, tag).Inc()
	b.retryOrDeadLetter(ctx, channel, env, err)
}

// retryOrDeadLetter implements the at-least-once policy: bump the retry
// counter, back off, and re-publish to the same channel until the budget is
// spent, then park the envelope in the channel's dead-letter list.
//
// Re-publishing redelivers to every handler on the channel, not only the
// one that failed. That matches the behavior this bus replaces; scoping
// retries per handler would change observable side effects for all
// subscribers, so the channel-wide fan-out is kept on purpose.
func (b *Bus) retryOrDeadLetter(ctx context.Context, channel string, env event.Envelope, handlerErr error) {
	b.mu.RLock()
	client, st := b.client, b.store
	b.mu.RUnlock()
	if client == nil {
		return
	}

	if env.RetryCount >= b.cfg.MaxRetries {
		metrics.DeadLetteredTotal.WithLabelValues(channel).Inc()
		b.logger.Error().Err(handlerErr).
			Str("channel", channel).
			Str("event_id", env.EventID).
			Int("retry_count", env.RetryCount).
			Msg("retry budget exhausted, dead-lettering event")
		if err := st.appendDeadLetter(ctx, channel, env, handlerErr); err != nil {
			b.logger.Error().Err(err).
				Str("channel", channel).
				Str("event_id", env.EventID).
				Msg("writing dead-letter entry failed")
		}
		return
	}

	env.RetryCount++
	delay := b.backoff(env.RetryCount)
	b.logger.Warn().Err(handlerErr).
		Str("channel", channel).
		Str("event_id", env.EventID).
		Int("retry_count", env.RetryCount).
		Dur("backoff", delay).
		Msg("handler failed, scheduling retry")

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return
	}

	body, err := env.Encode()
	if err != nil {
		b.logger.Error().Err(err).Str("event_id", env.EventID).Msg("encoding retry envelope failed")
		return
	}
	if err := client.Publish(ctx, channel, body).Err(); err != nil {
		b.logger.Error().Err(err).
			Str("channel", channel).
			Str("event_id", env.EventID).
			Msg("re-publishing retry failed")
		return
	}
	metrics.RetriesTotal.WithLabelValues(channel).Inc()
}
