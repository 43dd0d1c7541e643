// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/z5labs/staticserver"
	"github.com/z5labs/staticserver/app"
	"github.com/z5labs/staticserver/bridge"
	"github.com/z5labs/staticserver/consumer"
	"github.com/z5labs/staticserver/consumer/pubsub"
	"github.com/z5labs/staticserver/consumer/sqs"
	"github.com/z5labs/staticserver/consumer/webhook"
	"github.com/z5labs/staticserver/host"
	"github.com/z5labs/staticserver/http/httpclient"
	"github.com/z5labs/staticserver/lifecycle"
	"github.com/z5labs/staticserver/pkg/maskslog"
	"github.com/z5labs/staticserver/pkg/slogfield"

	gpubsub "cloud.google.com/go/pubsub/apiv1"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// UnknownConsumerError is returned when consumer.kind names no known consumer.
type UnknownConsumerError struct {
	Kind string
}

// Error implements the error interface.
func (e UnknownConsumerError) Error() string {
	return fmt.Sprintf("unknown consumer kind: %q", e.Kind)
}

// MissingConfigError is returned when the selected consumer lacks a
// required setting.
type MissingConfigError struct {
	Key string
}

// Error implements the error interface.
func (e MissingConfigError) Error() string {
	return "missing required config: " + e.Key
}

func newLogHandler(w io.Writer, cfg Config) slog.Handler {
	opts := &slog.HandlerOptions{
		AddSource: true,
		Level:     cfg.Log.Level,
	}
	var h slog.Handler = slog.NewTextHandler(w, opts)
	if cfg.Log.Format == "json" {
		h = slog.NewJSONHandler(w, opts)
	}

	var masks []maskslog.Option
	if cfg.Log.RedactQuery {
		masks = append(masks,
			maskslog.Attr("uri", maskslog.WithoutQuery),
			maskslog.Attr("url", maskslog.WithoutQuery),
		)
	}
	if len(cfg.Log.Mask) > 0 {
		masks = append(masks, maskslog.Anonymize(cfg.Log.Mask...))
	}
	if len(masks) == 0 {
		return h
	}
	return maskslog.NewHandler(h, masks...)
}

// buildApp wires the server to the configured consumer. Clients opened
// here are closed by post run hooks.
func buildApp(ctx context.Context, cfg Config) (staticserver.App, error) {
	logHandler := newLogHandler(os.Stderr, cfg)

	lc, ok := lifecycle.FromContext(ctx)
	if !ok {
		lc = &lifecycle.Context{}
	}

	var server *host.Server
	fulfiller := bridge.FulfilFunc(func(id, payload string) bool {
		return server.Fulfil(id, payload)
	})

	c, replies, err := buildConsumer(ctx, lc, logHandler, cfg.Consumer, fulfiller)
	if err != nil {
		return nil, err
	}

	server = host.NewServer(
		cfg.Server,
		host.LogHandler(logHandler),
		host.Consumer(c),
	)

	apps := []staticserver.App{server}
	apps = append(apps, replies...)

	return app.Recover(
		app.WithSignalNotifications(
			app.Multi(apps...),
			os.Interrupt,
			syscall.SIGTERM,
		),
	), nil
}

func buildConsumer(ctx context.Context, lc *lifecycle.Context, h slog.Handler, cfg ConsumerConfig, f bridge.Fulfiller) (bridge.Consumer, []staticserver.App, error) {
	switch cfg.Kind {
	case "", kindLog:
		return consumer.NewLog(h), nil, nil
	case kindWebhook:
		return buildWebhook(lc, h, cfg)
	case kindSQS:
		return buildSQS(ctx, h, cfg, f)
	case kindPubSub:
		return buildPubSub(ctx, lc, h, cfg, f)
	default:
		return nil, nil, UnknownConsumerError{Kind: cfg.Kind}
	}
}

func buildWebhook(lc *lifecycle.Context, h slog.Handler, cfg ConsumerConfig) (bridge.Consumer, []staticserver.App, error) {
	if cfg.Webhook.URL == "" {
		return nil, nil, MissingConfigError{Key: "consumer.webhook.url"}
	}

	zlog, err := zap.NewProduction()
	if err != nil {
		return nil, nil, err
	}
	lc.OnPostRun(lifecycle.HookFunc(func(context.Context) error {
		// Syncing stderr fails on some platforms, nothing is lost by ignoring it.
		zlog.Sync()
		return nil
	}))

	client := httpclient.New(
		httpclient.Name("webhook"),
		httpclient.LogHandler(h),
		httpclient.StateLogger(zlog),
		httpclient.Timeout(10*time.Second),
		httpclient.TripAfter(5),
		httpclient.Retry(cfg.Webhook.Retries, 100*time.Millisecond, 2*time.Second),
	)
	return webhook.NewConsumer(cfg.Webhook.URL, webhook.LogHandler(h), webhook.Client(client)), nil, nil
}

func buildSQS(ctx context.Context, h slog.Handler, cfg ConsumerConfig, f bridge.Fulfiller) (bridge.Consumer, []staticserver.App, error) {
	if cfg.SQS.QueueURL == "" {
		return nil, nil, MissingConfigError{Key: "consumer.sqs.queueUrl"}
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	client := awssqs.NewFromConfig(awsCfg)

	opts := []sqs.Option{sqs.LogHandler(h)}
	if cfg.SQS.WaitTimeSeconds > 0 {
		opts = append(opts, sqs.WaitTimeSeconds(cfg.SQS.WaitTimeSeconds))
	}

	var replies []staticserver.App
	if cfg.SQS.ReplyQueueURL != "" {
		replies = append(replies, sqs.Replies(client, cfg.SQS.ReplyQueueURL, f, opts...))
	}
	return sqs.NewPublisher(client, cfg.SQS.QueueURL, opts...), replies, nil
}

func buildPubSub(ctx context.Context, lc *lifecycle.Context, h slog.Handler, cfg ConsumerConfig, f bridge.Fulfiller) (bridge.Consumer, []staticserver.App, error) {
	if cfg.PubSub.Topic == "" {
		return nil, nil, MissingConfigError{Key: "consumer.pubsub.topic"}
	}

	pub, err := gpubsub.NewPublisherClient(ctx)
	if err != nil {
		return nil, nil, err
	}
	lc.OnPostRun(lifecycle.HookFunc(func(context.Context) error {
		return pub.Close()
	}))

	var replies []staticserver.App
	if cfg.PubSub.Subscription != "" {
		sub, err := gpubsub.NewSubscriberClient(ctx)
		if err != nil {
			return nil, nil, err
		}
		lc.OnPostRun(lifecycle.HookFunc(func(context.Context) error {
			return sub.Close()
		}))
		replies = append(replies, pubsub.Replies(sub, cfg.PubSub.Subscription, f, pubsub.LogHandler(h)))
	}
	return pubsub.NewPublisher(pub, cfg.PubSub.Topic, pubsub.LogHandler(h)), replies, nil
}

func logStartupFailure(h slog.Handler, err error) {
	slog.New(h).Error("failed to run staticserver", slogfield.Error(err))
}
