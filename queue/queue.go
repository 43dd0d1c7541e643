// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package queue drives consume-then-process loops, such as reading
// consumer replies off a message queue.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/z5labs/staticserver/internal/try"
	"github.com/z5labs/staticserver/pkg/noop"
	"github.com/z5labs/staticserver/pkg/otelslog"
	"github.com/z5labs/staticserver/pkg/slogfield"

	"go.opentelemetry.io/otel"
)

// ErrNoItem is returned by a [Consumer] when there was nothing to consume.
var ErrNoItem = errors.New("queue: no item")

// Consumer
type Consumer[T any] interface {
	Consume(context.Context) (T, error)
}

// ConsumerFunc is a func implementation of [Consumer].
type ConsumerFunc[T any] func(context.Context) (T, error)

// Consume implements the [Consumer] interface.
func (f ConsumerFunc[T]) Consume(ctx context.Context) (T, error) {
	return f(ctx)
}

// Processor
type Processor[T any] interface {
	Process(context.Context, T) error
}

// ProcessorFunc is a func implementation of [Processor].
type ProcessorFunc[T any] func(context.Context, T) error

// Process implements the [Processor] interface.
func (f ProcessorFunc[T]) Process(ctx context.Context, t T) error {
	return f(ctx, t)
}

type options struct {
	logHandler slog.Handler
	backoff    time.Duration
}

// Option configures a [SequentialRuntime].
type Option func(*options)

// LogHandler
func LogHandler(h slog.Handler) Option {
	return func(o *options) {
		o.logHandler = h
	}
}

// Backoff is how long the runtime pauses after an empty or failed consume.
func Backoff(d time.Duration) Option {
	return func(o *options) {
		o.backoff = d
	}
}

// SequentialRuntime consumes and processes one item at a time.
type SequentialRuntime[T any] struct {
	log     *slog.Logger
	c       Consumer[T]
	p       Processor[T]
	backoff time.Duration
}

// Sequential returns a [SequentialRuntime] which feeds every item of c into p.
func Sequential[T any](c Consumer[T], p Processor[T], opts ...Option) *SequentialRuntime[T] {
	so := &options{
		logHandler: noop.LogHandler{},
		backoff:    time.Second,
	}
	for _, opt := range opts {
		opt(so)
	}

	return &SequentialRuntime[T]{
		log:     otelslog.New(so.logHandler),
		c:       c,
		p:       p,
		backoff: so.backoff,
	}
}

// Run loops until ctx is cancelled. Consume and process failures are
// logged and never end the loop.
func (rt *SequentialRuntime[T]) Run(ctx context.Context) error {
	tracer := otel.Tracer("github.com/z5labs/staticserver/queue")
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		spanCtx, span := tracer.Start(ctx, "SequentialRuntime.Run")
		item, err := consume(spanCtx, rt.c)
		if err != nil {
			if !errors.Is(err, ErrNoItem) && ctx.Err() == nil {
				rt.log.ErrorContext(spanCtx, "failed to consume", slogfield.Error(err))
			}
			span.End()
			if !rt.pause(ctx) {
				return nil
			}
			continue
		}

		select {
		case <-ctx.Done():
			span.End()
			return nil
		default:
		}

		err = process(spanCtx, rt.p, item)
		if err != nil {
			rt.log.ErrorContext(spanCtx, "failed to process", slogfield.Error(err))
		}
		span.End()
	}
}

func (rt *SequentialRuntime[T]) pause(ctx context.Context) bool {
	if rt.backoff <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(rt.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func consume[T any](ctx context.Context, c Consumer[T]) (_ T, err error) {
	defer try.Recover(&err)

	return c.Consume(ctx)
}

func process[T any](ctx context.Context, p Processor[T], item T) (err error) {
	defer try.Recover(&err)

	return p.Process(ctx, item)
}
