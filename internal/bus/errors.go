// SPDX-License-Identifier: MIT

package bus

import "errors"

var (
	// ErrNotConnected is returned when publish, subscribe or a query is
	// attempted before Connect has succeeded.
	ErrNotConnected = errors.New("event bus is not connected")

	// ErrAlreadyConnected is returned when Connect is called on a live bus.
	ErrAlreadyConnected = errors.New("event bus is already connected")
)
