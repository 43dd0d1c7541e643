// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"log/slog"

	"github.com/z5labs/staticserver/host"
	"github.com/z5labs/staticserver/otelconfig"
)

// Consumer kinds.
const (
	kindLog     = "log"
	kindWebhook = "webhook"
	kindSQS     = "sqs"
	kindPubSub  = "pubsub"
)

// Config is the complete configuration of the staticserver command.
type Config struct {
	Log struct {
		Level slog.Level `config:"level"`

		// Format is either "text" or "json".
		Format string `config:"format"`

		// RedactQuery drops query strings from logged request and
		// webhook URLs.
		RedactQuery bool `config:"redactQuery"`

		// Mask lists attribute keys whose values are never logged.
		Mask []string `config:"mask"`
	} `config:"log"`

	OTel otelconfig.Config `config:"otel"`

	Server host.Config `config:"server"`

	Consumer ConsumerConfig `config:"consumer"`
}

// ConsumerConfig selects where the events of bridged requests go and,
// for queue based consumers, where their replies come from.
type ConsumerConfig struct {
	Kind string `config:"kind"`

	Webhook struct {
		URL     string `config:"url"`
		Retries int    `config:"retries"`
	} `config:"webhook"`

	SQS struct {
		QueueURL        string `config:"queueUrl"`
		ReplyQueueURL   string `config:"replyQueueUrl"`
		WaitTimeSeconds int32  `config:"waitTimeSeconds"`
	} `config:"sqs"`

	PubSub struct {
		Topic        string `config:"topic"`
		Subscription string `config:"subscription"`
	} `config:"pubsub"`
}

// InitializeOTel implements the appbuilder.OTelInitializer interface.
func (cfg Config) InitializeOTel(ctx context.Context) error {
	return cfg.OTel.Initialize(ctx)
}
