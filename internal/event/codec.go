// SPDX-License-Identifier: MIT

package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownType is returned when no decoder is registered for an event tag.
var ErrUnknownType = errors.New("unknown event type")

// DecodeFunc turns a serialized payload into a concrete event.
type DecodeFunc func([]byte) (Event, error)

// Registry maps event-type tags to decoders. Deserialization failures and
// unregistered tags surface as explicit errors instead of duck-typed access
// on a dynamic payload.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]DecodeFunc
}

func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]DecodeFunc)}
}

// Register binds a decoder to an event-type tag. Re-registering a tag
// replaces the previous decoder.
func (r *Registry) Register(eventType string, fn DecodeFunc) {
	r.mu.Lock()
	r.decoders[eventType] = fn
	r.mu.Unlock()
}

// Decode looks up the decoder for the tag and runs it.
func (r *Registry) Decode(eventType string, data []byte) (Event, error) {
	r.mu.RLock()
	fn, ok := r.decoders[eventType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, eventType)
	}
	return fn(data)
}

// Decoder returns a DecodeFunc that unmarshals the payload into T.
func Decoder[T Event]() DecodeFunc {
	return func(data []byte) (Event, error) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode event payload: %w", err)
		}
		return v, nil
	}
}
