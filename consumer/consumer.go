// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package consumer provides in-process [bridge.Consumer] implementations.
// Remote transports live in the sub packages.
package consumer

import (
	"context"
	"log/slog"

	"github.com/z5labs/staticserver/bridge"
	"github.com/z5labs/staticserver/pkg/slogfield"
)

// Channel hands events to in-process readers over a bounded channel.
type Channel struct {
	events chan bridge.Event
}

// NewChannel returns a [Channel] buffering up to size events.
func NewChannel(size int) *Channel {
	return &Channel{
		events: make(chan bridge.Event, size),
	}
}

// Events returns the channel events are delivered on.
func (c *Channel) Events() <-chan bridge.Event {
	return c.events
}

// Dispatch implements the [bridge.Consumer] interface. It blocks while the
// buffer is full, at most until ctx is done.
func (c *Channel) Dispatch(ctx context.Context, ev bridge.Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case c.events <- ev:
		return nil
	}
}

// Log only logs the events it receives. Dynamic requests dispatched to it
// are answered through some other path, such as the control API, or time out.
type Log struct {
	log *slog.Logger
}

// NewLog returns a [Log] writing to h.
func NewLog(h slog.Handler) *Log {
	return &Log{log: slog.New(h)}
}

// Dispatch implements the [bridge.Consumer] interface.
func (l *Log) Dispatch(ctx context.Context, ev bridge.Event) error {
	l.log.InfoContext(
		ctx,
		"received event",
		slogfield.String("id", ev.ID),
		slogfield.String("uri", ev.URI),
		slogfield.Strings("files", ev.Files),
	)
	return nil
}
