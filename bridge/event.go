// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package bridge

import (
	"context"
)

// Event is emitted exactly once for every bridged request.
type Event struct {
	// ID correlates the event with the reply passed to Fulfil.
	ID string `json:"id"`

	// URI is the request path, without the query string.
	URI string `json:"uri"`

	// Params holds query parameters and form fields.
	Params map[string][]string `json:"params"`

	// Files are the absolute paths of the persisted uploads, in body order.
	Files []string `json:"files"`
}

// Reply is the wire form used by out-of-process consumers to answer an [Event].
type Reply struct {
	ID   string `json:"id"`
	Body string `json:"body"`
}

// Consumer receives the events of bridged requests. A consumer answers
// dynamic requests by fulfilling the event id, possibly never.
type Consumer interface {
	Dispatch(context.Context, Event) error
}

// ConsumerFunc is a func variant of the [Consumer] interface.
type ConsumerFunc func(context.Context, Event) error

// Dispatch implements the [Consumer] interface.
func (f ConsumerFunc) Dispatch(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Fulfiller delivers a reply payload to the request waiting on id and
// reports whether there was one. It is implemented by broker.Broker
// and host.Server.
type Fulfiller interface {
	Fulfil(id, payload string) bool
}

// FulfilFunc is a func variant of the [Fulfiller] interface.
type FulfilFunc func(id, payload string) bool

// Fulfil implements the [Fulfiller] interface.
func (f FulfilFunc) Fulfil(id, payload string) bool {
	return f(id, payload)
}
