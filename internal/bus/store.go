// SPDX-License-Identifier: MIT

package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/auditflow/ledgerbus/internal/event"
)

// DeadLetter is one parked envelope with the failure that exhausted its
// retry budget.
type DeadLetter struct {
	Event     event.Envelope `json:"event"`
	Error     string         `json:"error"`
	Timestamp time.Time      `json:"timestamp"`
	Channel   string         `json:"channel"`
}

func historyKey(channel, eventID string) string {
	return fmt.Sprintf("events:%s:%s", channel, eventID)
}

func dlqKey(channel string) string {
	return fmt.Sprintf("dlq:%s", channel)
}

// store persists published envelopes and dead letters in Redis with a
// shared TTL. It is created on Connect and torn down on Disconnect.
type store struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func (s *store) saveEvent(ctx context.Context, channel string, env event.Envelope, body []byte) error {
	key := historyKey(channel, env.EventID)
	if err := s.client.Set(ctx, key, body, s.ttl).Err(); err != nil {
		return fmt.Errorf("persist %s: %w", key, err)
	}
	return nil
}

// eventHistory fetches up to limit persisted envelopes for the channel.
// Keys are discovered by SCAN, so the result order is undefined.
func (s *store) eventHistory(ctx context.Context, channel string, limit int) ([]event.Envelope, error) {
	var out []event.Envelope
	iter := s.client.Scan(ctx, 0, historyKey(channel, "*"), 100).Iterator()
	for iter.Next(ctx) {
		if len(out) >= limit {
			break
		}
		body, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue // expired between scan and fetch
		}
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", iter.Val(), err)
		}
		env, err := event.DecodeEnvelope(body)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", iter.Val()).Msg("skipping unparseable history entry")
			continue
		}
		out = append(out, env)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan history for %q: %w", channel, err)
	}
	return out, nil
}

func (s *store) appendDeadLetter(ctx context.Context, channel string, env event.Envelope, cause error) error {
	entry := DeadLetter{
		Event:     env,
		Error:     cause.Error(),
		Timestamp: time.Now().UTC(),
		Channel:   channel,
	}
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dead letter %q: %w", env.EventID, err)
	}

	key := dlqKey(channel)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, body)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append dead letter to %s: %w", key, err)
	}
	return nil
}

func (s *store) deadLetters(ctx context.Context, channel string, limit int) ([]DeadLetter, error) {
	raw, err := s.client.LRange(ctx, dlqKey(channel), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read dlq for %q: %w", channel, err)
	}
	out := make([]DeadLetter, 0, len(raw))
	for _, item := range raw {
		var entry DeadLetter
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			s.logger.Warn().Err(err).Str("channel", channel).Msg("skipping unparseable dlq entry")
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *store) clearDeadLetters(ctx context.Context, channel string) error {
	if err := s.client.Del(ctx, dlqKey(channel)).Err(); err != nil {
		return fmt.Errorf("clear dlq for %q: %w", channel, err)
	}
	return nil
}

// EventHistory returns up to limit persisted envelopes for the channel.
// Ordering is undefined; this is a key scan, not a range query.
func (b *Bus) EventHistory(ctx context.Context, channel string, limit int) ([]event.Envelope, error) {
	b.mu.RLock()
	st := b.store
	b.mu.RUnlock()
	if st == nil {
		return nil, ErrNotConnected
	}
	return st.eventHistory(ctx, channel, limit)
}

// DLQMessages returns up to limit dead letters for the channel, oldest first.
func (b *Bus) DLQMessages(ctx context.Context, channel string, limit int) ([]DeadLetter, error) {
	b.mu.RLock()
	st := b.store
	b.mu.RUnlock()
	if st == nil {
		return nil, ErrNotConnected
	}
	return st.deadLetters(ctx, channel, limit)
}

// ClearDLQ drops the channel's dead-letter list. Clearing a channel that
// never dead-lettered anything is not an error.
func (b *Bus) ClearDLQ(ctx context.Context, channel string) error {
	b.mu.RLock()
	st := b.store
	b.mu.RUnlock()
	if st == nil {
		return ErrNotConnected
	}
	return st.clearDeadLetters(ctx, channel)
}

// Ping reports broker reachability for health checks.
func (b *Bus) Ping(ctx context.Context) error {
	b.mu.RLock()
	client := b.client
	b.mu.RUnlock()
	if client == nil {
		return ErrNotConnected
	}
	return client.Ping(ctx).Err()
}
