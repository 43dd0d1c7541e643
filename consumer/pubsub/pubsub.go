// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package pubsub exchanges events and replies with a consumer over
// Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/z5labs/staticserver/bridge"
	"github.com/z5labs/staticserver/pkg/noop"
	"github.com/z5labs/staticserver/pkg/otelslog"
	"github.com/z5labs/staticserver/pkg/slogfield"
	"github.com/z5labs/staticserver/queue"

	pubsub "cloud.google.com/go/pubsub/apiv1"
	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CorrelationIDAttribute is the message attribute carrying the event id.
const CorrelationIDAttribute = "correlation_id"

type options struct {
	logHandler       slog.Handler
	maxNumOfMessages int32
}

// Option configures the types in this package.
type Option func(*options)

// LogHandler configures the underlying slog.Handler.
func LogHandler(h slog.Handler) Option {
	return func(o *options) {
		o.logHandler = h
	}
}

// MaxNumOfMessages bounds how many replies are pulled at once.
func MaxNumOfMessages(n int32) Option {
	return func(o *options) {
		o.maxNumOfMessages = n
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		logHandler:       noop.LogHandler{},
		maxNumOfMessages: 10,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type pubsubPublishClient interface {
	Publish(context.Context, *pubsubpb.PublishRequest, ...gax.CallOption) (*pubsubpb.PublishResponse, error)
}

// Publisher publishes every event as a JSON message to a topic.
type Publisher struct {
	log    *slog.Logger
	pubsub pubsubPublishClient
	topic  string
}

// NewPublisher returns a [Publisher] for the fully qualified topic name,
// e.g. projects/my-project/topics/events.
func NewPublisher(c *pubsub.PublisherClient, topic string, opts ...Option) *Publisher {
	return newPublisher(c, topic, opts...)
}

func newPublisher(c pubsubPublishClient, topic string, opts ...Option) *Publisher {
	o := newOptions(opts)
	return &Publisher{
		log:    otelslog.New(o.logHandler),
		pubsub: c,
		topic:  topic,
	}
}

// Dispatch implements the [bridge.Consumer] interface.
func (p *Publisher) Dispatch(ctx context.Context, ev bridge.Event) error {
	spanCtx, span := otel.Tracer("github.com/z5labs/staticserver/consumer/pubsub").Start(ctx, "Publisher.Dispatch", trace.WithAttributes(
		attribute.String("bridge.id", ev.ID),
	))
	defer span.End()

	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	_, err = p.pubsub.Publish(spanCtx, &pubsubpb.PublishRequest{
		Topic: p.topic,
		Messages: []*pubsubpb.PubsubMessage{
			{
				Data: b,
				Attributes: map[string]string{
					CorrelationIDAttribute: ev.ID,
				},
			},
		},
	})
	if err != nil {
		p.log.ErrorContext(spanCtx, "failed to publish event", slogfield.String("id", ev.ID), slogfield.Error(err))
		return err
	}
	return nil
}

type pubsubPullClient interface {
	Pull(context.Context, *pubsubpb.PullRequest, ...gax.CallOption) (*pubsubpb.PullResponse, error)
}

// ReplyConsumer pulls batches of reply messages from a subscription.
type ReplyConsumer struct {
	log    *slog.Logger
	pubsub pubsubPullClient

	subscription     string
	maxNumOfMessages int32
}

func newReplyConsumer(c pubsubPullClient, subscription string, o *options) *ReplyConsumer {
	return &ReplyConsumer{
		log:              otelslog.New(o.logHandler),
		pubsub:           c,
		subscription:     subscription,
		maxNumOfMessages: o.maxNumOfMessages,
	}
}

// Consume implements the [queue.Consumer] interface.
func (c *ReplyConsumer) Consume(ctx context.Context) ([]*pubsubpb.ReceivedMessage, error) {
	spanCtx, span := otel.Tracer("github.com/z5labs/staticserver/consumer/pubsub").Start(ctx, "ReplyConsumer.Consume")
	defer span.End()

	resp, err := c.pubsub.Pull(spanCtx, &pubsubpb.PullRequest{
		Subscription: c.subscription,
		MaxMessages:  c.maxNumOfMessages,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.ReceivedMessages) == 0 {
		return nil, queue.ErrNoItem
	}
	c.log.DebugContext(spanCtx, "pulled replies", slogfield.Int("num_of_messages", len(resp.ReceivedMessages)))
	return resp.ReceivedMessages, nil
}

type pubsubAckClient interface {
	Acknowledge(context.Context, *pubsubpb.AcknowledgeRequest, ...gax.CallOption) error
}

// ReplyProcessor fulfils pending requests with reply messages and
// acknowledges the messages afterwards.
type ReplyProcessor struct {
	log          *slog.Logger
	pubsub       pubsubAckClient
	subscription string
	fulfil       bridge.Fulfiller
}

func newReplyProcessor(c pubsubAckClient, subscription string, f bridge.Fulfiller, o *options) *ReplyProcessor {
	return &ReplyProcessor{
		log:          otelslog.New(o.logHandler),
		pubsub:       c,
		subscription: subscription,
		fulfil:       f,
	}
}

// Process implements the [queue.Processor] interface. Undecodable
// replies are acknowledged as well, redelivery would not fix them.
func (p *ReplyProcessor) Process(ctx context.Context, msgs []*pubsubpb.ReceivedMessage) error {
	spanCtx, span := otel.Tracer("github.com/z5labs/staticserver/consumer/pubsub").Start(ctx, "ReplyProcessor.Process", trace.WithAttributes(
		attribute.Int("num_of_messages", len(msgs)),
	))
	defer span.End()

	ackIds := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		ackIds = append(ackIds, msg.GetAckId())

		var reply bridge.Reply
		err := json.Unmarshal(msg.GetMessage().GetData(), &reply)
		if err != nil {
			p.log.ErrorContext(spanCtx, "failed to decode reply", slogfield.String("pubsub_message_id", msg.GetMessage().GetMessageId()), slogfield.Error(err))
			continue
		}
		if !p.fulfil.Fulfil(reply.ID, reply.Body) {
			p.log.WarnContext(spanCtx, "no request waiting for reply", slogfield.String("id", reply.ID))
		}
	}
	if len(ackIds) == 0 {
		return nil
	}

	// Acknowledge even if ctx has been cancelled meanwhile.
	err := p.pubsub.Acknowledge(context.WithoutCancel(spanCtx), &pubsubpb.AcknowledgeRequest{
		Subscription: p.subscription,
		AckIds:       ackIds,
	})
	if err != nil {
		p.log.ErrorContext(spanCtx, "failed to acknowledge messages", slogfield.Int("num_of_ack_ids", len(ackIds)), slogfield.Error(err))
		return err
	}
	return nil
}

type pubsubReplyClient interface {
	pubsubPullClient
	pubsubAckClient
}

// Replies returns a runtime which pulls replies from the fully qualified
// subscription name and hands them to f until its context is cancelled.
func Replies(c *pubsub.SubscriberClient, subscription string, f bridge.Fulfiller, opts ...Option) *queue.SequentialRuntime[[]*pubsubpb.ReceivedMessage] {
	return replies(c, subscription, f, opts...)
}

func replies(c pubsubReplyClient, subscription string, f bridge.Fulfiller, opts ...Option) *queue.SequentialRuntime[[]*pubsubpb.ReceivedMessage] {
	o := newOptions(opts)
	return queue.Sequential[[]*pubsubpb.ReceivedMessage](
		newReplyConsumer(c, subscription, o),
		newReplyProcessor(c, subscription, f, o),
		queue.LogHandler(o.logHandler),
	)
}
