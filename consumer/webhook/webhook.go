// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package webhook delivers events by POSTing them to a remote endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/z5labs/staticserver/bridge"
	"github.com/z5labs/staticserver/http/httpclient"
	"github.com/z5labs/staticserver/internal/try"
	"github.com/z5labs/staticserver/pkg/noop"
	"github.com/z5labs/staticserver/pkg/otelslog"
	"github.com/z5labs/staticserver/pkg/slogfield"
)

// UnexpectedStatusError is returned when the endpoint does not accept the event.
type UnexpectedStatusError struct {
	StatusCode int
}

// Error implements the [error] interface.
func (e UnexpectedStatusError) Error() string {
	return fmt.Sprintf("webhook responded with unexpected status code: %d", e.StatusCode)
}

type options struct {
	logHandler slog.Handler
	client     *http.Client
}

// Option configures a [Consumer].
type Option func(*options)

// LogHandler configures the [slog.Handler] used to report failed deliveries.
func LogHandler(h slog.Handler) Option {
	return func(o *options) {
		o.logHandler = h
	}
}

// Client overrides the [http.Client] events are sent with.
func Client(c *http.Client) Option {
	return func(o *options) {
		o.client = c
	}
}

// Consumer POSTs every event as JSON to a fixed url. Any 2xx response
// counts as accepted. The reply still has to be delivered separately.
type Consumer struct {
	log    *slog.Logger
	client *http.Client
	url    string
}

// NewConsumer returns a [Consumer] posting to url.
func NewConsumer(url string, opts ...Option) *Consumer {
	o := &options{
		logHandler: noop.LogHandler{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.client == nil {
		o.client = httpclient.New(
			httpclient.Name("webhook"),
			httpclient.LogHandler(o.logHandler),
			httpclient.TripAfter(5),
		)
	}

	return &Consumer{
		log:    otelslog.New(o.logHandler),
		client: o.client,
		url:    url,
	}
}

// Dispatch implements the [bridge.Consumer] interface.
func (c *Consumer) Dispatch(ctx context.Context, ev bridge.Event) (err error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.ErrorContext(ctx, "failed to post event", slogfield.String("id", ev.ID), slogfield.Error(err))
		return err
	}
	defer try.Close(&err, resp.Body)

	_, err = io.Copy(io.Discard, resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return UnexpectedStatusError{StatusCode: resp.StatusCode}
	}
	return nil
}
