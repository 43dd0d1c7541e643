// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package broker correlates asynchronous replies with the synchronous
// HTTP requests waiting on them.
//
// A request goroutine registers a correlation id, hands the id to some
// consumer and then waits. Whoever produces the reply calls [Broker.Fulfil]
// with the same id, from any goroutine, and only that waiter is woken up.
package broker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/z5labs/staticserver/pkg/noop"
	"github.com/z5labs/staticserver/pkg/otelslog"
	"github.com/z5labs/staticserver/pkg/slogfield"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrClosed is returned by [Broker.Register] once the broker has been closed.
var ErrClosed = errors.New("broker: closed")

// ErrDuplicateID is returned by [Broker.Register] when the id is already pending.
var ErrDuplicateID = errors.New("broker: id is already pending")

// Kind classifies why a wait returned.
type Kind int

const (
	// Fulfilled means a payload was delivered for the id before the wait ended.
	Fulfilled Kind = iota + 1

	// TimedOut means no payload arrived before the timeout elapsed.
	TimedOut

	// Interrupted means the wait was cancelled, either through its
	// context or because the broker was closed.
	Interrupted
)

// String implements the [fmt.Stringer] interface.
func (k Kind) String() string {
	switch k {
	case Fulfilled:
		return "fulfilled"
	case TimedOut:
		return "timeout"
	case Interrupted:
		return "interrupt"
	default:
		return "unknown"
	}
}

// Outcome is the result of waiting on a pending request.
type Outcome struct {
	Kind    Kind
	Payload string
}

type options struct {
	logHandler slog.Handler
	meter      metric.Meter
	now        func() time.Time
}

// Option configures a [Broker].
type Option func(*options)

// LogHandler configures the [slog.Handler] used by the [Broker].
func LogHandler(h slog.Handler) Option {
	return func(o *options) {
		o.logHandler = h
	}
}

// Meter overrides the [metric.Meter] used to record table size and outcomes.
// By default, the global OTel meter provider is used.
func Meter(m metric.Meter) Option {
	return func(o *options) {
		o.meter = m
	}
}

type pending struct {
	id        string
	createdAt time.Time

	done     chan struct{}
	signaled bool
	payload  string
	hasValue bool
}

// Broker owns the table of pending requests. A single mutex guards the table
// and is only ever held for map operations, never while a caller is suspended.
//
// The zero value is not usable, use [New].
type Broker struct {
	log *slog.Logger
	now func() time.Time

	mu      sync.Mutex
	pending map[string]*pending
	closed  bool
	closing chan struct{}

	inflight metric.Int64UpDownCounter
	outcomes metric.Int64Counter
	orphans  metric.Int64Counter
}

// New returns a fully initialized [Broker].
func New(opts ...Option) *Broker {
	bo := &options{
		logHandler: noop.LogHandler{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(bo)
	}
	if bo.meter == nil {
		bo.meter = otel.Meter("github.com/z5labs/staticserver/broker")
	}

	// Instrument creation only fails for invalid names, which these are not,
	// and the API always hands back a usable (possibly no-op) instrument.
	inflight, _ := bo.meter.Int64UpDownCounter(
		"broker.pending",
		metric.WithDescription("Number of requests currently waiting on a reply."),
	)
	outcomes, _ := bo.meter.Int64Counter(
		"broker.outcomes",
		metric.WithDescription("Completed waits by outcome."),
	)
	orphans, _ := bo.meter.Int64Counter(
		"broker.orphaned_replies",
		metric.WithDescription("Replies dropped because no request was waiting on their id."),
	)

	return &Broker{
		log:      otelslog.New(bo.logHandler),
		now:      bo.now,
		pending:  make(map[string]*pending),
		closing:  make(chan struct{}),
		inflight: inflight,
		outcomes: outcomes,
		orphans:  orphans,
	}
}

// Pending is a registered correlation id which has not been waited on yet.
type Pending struct {
	b *Broker
	p *pending
}

// ID returns the correlation id.
func (p *Pending) ID() string {
	return p.p.id
}

// CreatedAt returns when the id was registered.
func (p *Pending) CreatedAt() time.Time {
	return p.p.createdAt
}

// Register inserts a single-use wait entry for the given id.
//
// Registering before handing the id to a consumer guarantees that a
// reply can never arrive before anyone is listening for it.
func (b *Broker) Register(id string) (*Pending, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if _, exists := b.pending[id]; exists {
		return nil, ErrDuplicateID
	}

	p := &pending{
		id:        id,
		createdAt: b.now(),
		done:      make(chan struct{}),
	}
	b.pending[id] = p
	b.inflight.Add(context.Background(), 1)
	return &Pending{b: b, p: p}, nil
}

// Wait suspends the caller until the id is fulfilled, the timeout elapses,
// the context is cancelled or the broker is closed, whichever comes first.
//
// The id's entry is always removed from the table before Wait returns.
// Wait must only be called once per [Pending].
func (p *Pending) Wait(ctx context.Context, timeout time.Duration) Outcome {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var woke Kind
	select {
	case <-p.p.done:
		woke = Fulfilled
	case <-timer.C:
		woke = TimedOut
	case <-ctx.Done():
		woke = Interrupted
	case <-p.b.closing:
		woke = Interrupted
	}

	return p.b.remove(ctx, p.p, woke)
}

// Cancel removes the registration without waiting on it.
func (p *Pending) Cancel() {
	p.b.remove(context.Background(), p.p, Interrupted)
}

func (b *Broker) remove(ctx context.Context, p *pending, woke Kind) Outcome {
	b.mu.Lock()
	if cur, ok := b.pending[p.id]; ok && cur == p {
		delete(b.pending, p.id)
		b.inflight.Add(ctx, -1)
	}
	out := Outcome{Kind: woke}
	// A payload stored before we got the lock back wins over a timer or
	// cancellation which fired in the same instant.
	if p.hasValue {
		out = Outcome{Kind: Fulfilled, Payload: p.payload}
	}
	b.mu.Unlock()

	b.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", out.Kind.String())))
	b.log.DebugContext(
		ctx,
		"pending request completed",
		slogfield.String("id", p.id),
		slogfield.String("outcome", out.Kind.String()),
		slogfield.Duration("waited", b.now().Sub(p.createdAt)),
	)
	return out
}

// RegisterAndWait registers the id and immediately waits on it.
func (b *Broker) RegisterAndWait(ctx context.Context, id string, timeout time.Duration) (Outcome, error) {
	p, err := b.Register(id)
	if err != nil {
		return Outcome{}, err
	}
	return p.Wait(ctx, timeout), nil
}

// Fulfil delivers the payload to the request waiting on id and reports
// whether such a request existed. It never blocks.
//
// Replies for unknown or already completed ids are dropped, they are
// never stored for later.
func (b *Broker) Fulfil(id, payload string) bool {
	b.mu.Lock()
	p, ok := b.pending[id]
	if ok {
		p.payload = payload
		p.hasValue = true
		if !p.signaled {
			p.signaled = true
			close(p.done)
		}
	}
	b.mu.Unlock()

	if !ok {
		b.orphans.Add(context.Background(), 1)
		b.log.Debug("dropped reply for unknown id", slogfield.String("id", id))
	}
	return ok
}

// Len returns the number of pending requests.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Close interrupts every pending request and rejects new registrations.
// It is safe to call Close more than once.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.closing)
	b.log.Info("closed broker", slogfield.Int("pending", len(b.pending)))
}
