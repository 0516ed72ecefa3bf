// SPDX-License-Identifier: MIT

// Package event defines the versioned message shapes shared by every
// publisher and subscriber on the bus, plus the JSON wire envelope.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is implemented by every payload carried on the bus. Concrete event
// types embed Base and add their own fields.
type Event interface {
	EventID() string
	EventType() string
}

// Base is the common envelope shape: identity, type tag, origin and optional
// user/organization context. Events are immutable once published; only the
// retry counter on the wire envelope changes across redeliveries.
type Base struct {
	ID        string            `json:"event_id"`
	Type      string            `json:"event_type"`
	Timestamp time.Time         `json:"timestamp"`
	Service   string            `json:"service"`
	UserID    string            `json:"user_id,omitempty"`
	OrgID     string            `json:"organization_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewBase stamps a fresh event identity for the given type and origin service.
func NewBase(eventType, service string) Base {
	return Base{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Service:   service,
	}
}

func (b Base) EventID() string   { return b.ID }
func (b Base) EventType() string { return b.Type }

// Envelope is the wire format published to the broker and written to the
// persistence store: the serialized event plus delivery bookkeeping.
type Envelope struct {
	Data       json.RawMessage `json:"data"`
	RetryCount int             `json:"retry_count"`
	EventID    string          `json:"event_id"`
}

// Wrap serializes an event into a first-delivery envelope (retry_count 0).
func Wrap(e Event) (Envelope, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal event %q: %w", e.EventID(), err)
	}
	return Envelope{Data: data, EventID: e.EventID()}, nil
}

// Encode renders the envelope as the JSON message body.
func (env Envelope) Encode() ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope %q: %w", env.EventID, err)
	}
	return b, nil
}

// DecodeEnvelope parses a broker message body back into an envelope.
func DecodeEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return env, nil
}

// TypeTag extracts the event_type tag from the envelope payload without
// decoding the full event, so dispatch can pick the registered decoder.
func (env Envelope) TypeTag() (string, error) {
	var probe struct {
		Type string `json:"event_type"`
	}
	if err := json.Unmarshal(env.Data, &probe); err != nil {
		return "", fmt.Errorf("probe event type for %q: %w", env.EventID, err)
	}
	if probe.Type == "" {
		return "", fmt.Errorf("envelope %q carries no event_type tag", env.EventID)
	}
	return probe.Type, nil
}
