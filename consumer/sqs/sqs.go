// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package sqs exchanges events and replies with a consumer over AWS SQS.
package sqs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/z5labs/staticserver/bridge"
	"github.com/z5labs/staticserver/pkg/noop"
	"github.com/z5labs/staticserver/pkg/otelslog"
	"github.com/z5labs/staticserver/pkg/slogfield"
	"github.com/z5labs/staticserver/queue"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CorrelationIDAttribute is the message attribute carrying the event id.
const CorrelationIDAttribute = "correlation_id"

type options struct {
	logHandler        slog.Handler
	maxNumOfMessages  int32
	visibilityTimeout int32
	waitTimeSeconds   int32
}

// Option configures the types in this package.
type Option func(*options)

// LogHandler configures the underlying slog.Handler.
func LogHandler(h slog.Handler) Option {
	return func(o *options) {
		o.logHandler = h
	}
}

// MaxNumOfMessages bounds how many replies are received at once.
func MaxNumOfMessages(n int32) Option {
	return func(o *options) {
		o.maxNumOfMessages = n
	}
}

// VisibilityTimeout hides received replies from other readers for n seconds.
func VisibilityTimeout(n int32) Option {
	return func(o *options) {
		o.visibilityTimeout = n
	}
}

// WaitTimeSeconds enables long polling for replies.
func WaitTimeSeconds(n int32) Option {
	return func(o *options) {
		o.waitTimeSeconds = n
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		logHandler:       noop.LogHandler{},
		maxNumOfMessages: 10,
		waitTimeSeconds:  20,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type sqsSendClient interface {
	SendMessage(context.Context, *sqs.SendMessageInput, ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Publisher sends every event as a JSON message to a queue.
type Publisher struct {
	log      *slog.Logger
	sqs      sqsSendClient
	queueUrl string
}

// NewPublisher returns a [Publisher] sending to queueUrl.
func NewPublisher(c *sqs.Client, queueUrl string, opts ...Option) *Publisher {
	return newPublisher(c, queueUrl, opts...)
}

func newPublisher(c sqsSendClient, queueUrl string, opts ...Option) *Publisher {
	o := newOptions(opts)
	return &Publisher{
		log:      otelslog.New(o.logHandler),
		sqs:      c,
		queueUrl: queueUrl,
	}
}

// Dispatch implements the [bridge.Consumer] interface.
func (p *Publisher) Dispatch(ctx context.Context, ev bridge.Event) error {
	spanCtx, span := otel.Tracer("github.com/z5labs/staticserver/consumer/sqs").Start(ctx, "Publisher.Dispatch", trace.WithAttributes(
		attribute.String("bridge.id", ev.ID),
	))
	defer span.End()

	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	resp, err := p.sqs.SendMessage(spanCtx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueUrl),
		MessageBody: aws.String(string(b)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			CorrelationIDAttribute: {
				DataType:    aws.String("String"),
				StringValue: aws.String(ev.ID),
			},
		},
	})
	if err != nil {
		p.log.ErrorContext(spanCtx, "failed to send event", slogfield.String("id", ev.ID), slogfield.Error(err))
		return err
	}
	p.log.DebugContext(spanCtx, "sent event", slogfield.String("id", ev.ID), slogfield.String("sqs_message_id", aws.ToString(resp.MessageId)))
	return nil
}

type sqsReceiveClient interface {
	ReceiveMessage(context.Context, *sqs.ReceiveMessageInput, ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
}

// ReplyConsumer receives batches of reply messages.
type ReplyConsumer struct {
	log *slog.Logger
	sqs sqsReceiveClient

	queueUrl          string
	maxNumOfMessages  int32
	visibilityTimeout int32
	waitTimeSeconds   int32
}

func newReplyConsumer(c sqsReceiveClient, queueUrl string, o *options) *ReplyConsumer {
	return &ReplyConsumer{
		log:               otelslog.New(o.logHandler),
		sqs:               c,
		queueUrl:          queueUrl,
		maxNumOfMessages:  o.maxNumOfMessages,
		visibilityTimeout: o.visibilityTimeout,
		waitTimeSeconds:   o.waitTimeSeconds,
	}
}

// Consume implements the [queue.Consumer] interface.
func (c *ReplyConsumer) Consume(ctx context.Context) ([]types.Message, error) {
	spanCtx, span := otel.Tracer("github.com/z5labs/staticserver/consumer/sqs").Start(ctx, "ReplyConsumer.Consume")
	defer span.End()

	resp, err := c.sqs.ReceiveMessage(spanCtx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueUrl),
		MaxNumberOfMessages: c.maxNumOfMessages,
		VisibilityTimeout:   c.visibilityTimeout,
		WaitTimeSeconds:     c.waitTimeSeconds,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, queue.ErrNoItem
	}
	c.log.DebugContext(spanCtx, "received replies", slogfield.Int("num_of_messages", len(resp.Messages)))
	return resp.Messages, nil
}

type sqsBatchDeleteClient interface {
	DeleteMessageBatch(context.Context, *sqs.DeleteMessageBatchInput, ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
}

// ReplyProcessor fulfils pending requests with reply messages and
// deletes the messages afterwards.
type ReplyProcessor struct {
	log      *slog.Logger
	sqs      sqsBatchDeleteClient
	queueUrl string
	fulfil   bridge.Fulfiller
}

func newReplyProcessor(c sqsBatchDeleteClient, queueUrl string, f bridge.Fulfiller, o *options) *ReplyProcessor {
	return &ReplyProcessor{
		log:      otelslog.New(o.logHandler),
		sqs:      c,
		queueUrl: queueUrl,
		fulfil:   f,
	}
}

// Process implements the [queue.Processor] interface.
//
// Every message is deleted, including undecodable ones and replies for
// requests which are no longer waiting, since neither can ever succeed.
func (p *ReplyProcessor) Process(ctx context.Context, msgs []types.Message) error {
	spanCtx, span := otel.Tracer("github.com/z5labs/staticserver/consumer/sqs").Start(ctx, "ReplyProcessor.Process", trace.WithAttributes(
		attribute.Int("num_of_messages", len(msgs)),
	))
	defer span.End()

	entries := make([]types.DeleteMessageBatchRequestEntry, 0, len(msgs))
	for _, msg := range msgs {
		var reply bridge.Reply
		err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &reply)
		switch {
		case err != nil:
			p.log.ErrorContext(spanCtx, "failed to decode reply", slogfield.String("sqs_message_id", aws.ToString(msg.MessageId)), slogfield.Error(err))
		case !p.fulfil.Fulfil(reply.ID, reply.Body):
			p.log.WarnContext(spanCtx, "no request waiting for reply", slogfield.String("id", reply.ID))
		}

		entries = append(entries, types.DeleteMessageBatchRequestEntry{
			Id:            msg.MessageId,
			ReceiptHandle: msg.ReceiptHandle,
		})
	}
	if len(entries) == 0 {
		return nil
	}

	// Delete even if ctx has been cancelled meanwhile.
	resp, err := p.sqs.DeleteMessageBatch(context.WithoutCancel(spanCtx), &sqs.DeleteMessageBatchInput{
		QueueUrl: aws.String(p.queueUrl),
		Entries:  entries,
	})
	if err != nil {
		p.log.ErrorContext(
			spanCtx,
			"failed to batch delete messages",
			slogfield.Int("num_of_delete_entries", len(entries)),
			slogfield.Error(err),
		)
		return err
	}
	for _, entry := range resp.Failed {
		p.log.ErrorContext(
			spanCtx,
			"failed to delete message",
			slogfield.String("sqs_message_id", aws.ToString(entry.Id)),
			slogfield.String("sqs_error_code", aws.ToString(entry.Code)),
			slogfield.String("sqs_error_message", aws.ToString(entry.Message)),
			slogfield.Bool("sqs_sender_fault", entry.SenderFault),
		)
	}
	return nil
}

type sqsReplyClient interface {
	sqsReceiveClient
	sqsBatchDeleteClient
}

// Replies returns a runtime which reads replies from queueUrl and hands
// them to f until its context is cancelled.
func Replies(c *sqs.Client, queueUrl string, f bridge.Fulfiller, opts ...Option) *queue.SequentialRuntime[[]types.Message] {
	return replies(c, queueUrl, f, opts...)
}

func replies(c sqsReplyClient, queueUrl string, f bridge.Fulfiller, opts ...Option) *queue.SequentialRuntime[[]types.Message] {
	o := newOptions(opts)
	return queue.Sequential[[]types.Message](
		newReplyConsumer(c, queueUrl, o),
		newReplyProcessor(c, queueUrl, f, o),
		queue.LogHandler(o.logHandler),
	)
}
