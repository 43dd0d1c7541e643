// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package control serves the out-of-band API used by consumers to deliver
// replies and by orchestrators to probe the server's health.
package control

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/z5labs/staticserver/bridge"
	shttp "github.com/z5labs/staticserver/http"
	"github.com/z5labs/staticserver/http/httphealth"
	"github.com/z5labs/staticserver/http/httpvalidate"
	"github.com/z5labs/staticserver/pkg/health"
	"github.com/z5labs/staticserver/pkg/noop"
	"github.com/z5labs/staticserver/pkg/otelslog"
	"github.com/z5labs/staticserver/pkg/slogfield"
)

// DefaultMaxReplyBytes bounds the size of a single reply payload.
const DefaultMaxReplyBytes = 4 << 20

type options struct {
	logHandler    slog.Handler
	addr          string
	ls            net.Listener
	liveness      health.Metric
	readiness     health.Metric
	maxReplyBytes int64
}

// Option configures the control [shttp.Runtime].
type Option func(*options)

// LogHandler configures the [slog.Handler] used by the control API.
func LogHandler(h slog.Handler) Option {
	return func(o *options) {
		o.logHandler = h
	}
}

// ListenOn sets the control API's address.
func ListenOn(addr string) Option {
	return func(o *options) {
		o.addr = addr
	}
}

// Listener makes the control API serve on an already bound listener.
func Listener(ls net.Listener) Option {
	return func(o *options) {
		o.ls = ls
	}
}

// Liveness is reported on /health/liveness. It is always healthy by default.
func Liveness(m health.Metric) Option {
	return func(o *options) {
		o.liveness = m
	}
}

// Readiness is reported on /health/readiness.
func Readiness(m health.Metric) Option {
	return func(o *options) {
		o.readiness = m
	}
}

// MaxReplyBytes overrides [DefaultMaxReplyBytes].
func MaxReplyBytes(n int64) Option {
	return func(o *options) {
		o.maxReplyBytes = n
	}
}

func alive() health.Metric {
	b := &health.Binary{}
	b.Set(true)
	return b
}

// NewRuntime returns the runtime serving the control API for f.
func NewRuntime(f bridge.Fulfiller, opts ...Option) *shttp.Runtime {
	o := &options{
		logHandler:    noop.LogHandler{},
		addr:          "127.0.0.1:9998",
		liveness:      alive(),
		readiness:     alive(),
		maxReplyBytes: DefaultMaxReplyBytes,
	}
	for _, opt := range opts {
		opt(o)
	}

	ropts := []shttp.RuntimeOption{
		shttp.Name("control"),
		shttp.ListenOn(o.addr),
		shttp.LogHandler(o.logHandler),
		shttp.Handle(
			"/responses/{id}",
			httpvalidate.Request(
				NewFulfilHandler(f, o.logHandler),
				httpvalidate.ForMethods(http.MethodPost, http.MethodPut),
				httpvalidate.MaxBodyBytes(o.maxReplyBytes),
			),
		),
		shttp.Handle(
			"/health/liveness",
			httpvalidate.Request(
				httphealth.NewHandler(o.liveness),
				httpvalidate.ForMethods(http.MethodGet),
			),
		),
		shttp.Handle(
			"/health/readiness",
			httpvalidate.Request(
				httphealth.NewHandler(o.readiness),
				httpvalidate.ForMethods(http.MethodGet),
			),
		),
	}
	if o.ls != nil {
		ropts = append(ropts, shttp.Listener(o.ls))
	}
	return shttp.NewRuntime(ropts...)
}

// FulfilHandler delivers the request body as the reply payload for the
// id in the path. It must be registered on a pattern with an {id} wildcard.
type FulfilHandler struct {
	log *slog.Logger
	f   bridge.Fulfiller
}

// NewFulfilHandler returns a [FulfilHandler] for f.
func NewFulfilHandler(f bridge.Fulfiller, h slog.Handler) *FulfilHandler {
	return &FulfilHandler{
		log: otelslog.New(h),
		f:   f,
	}
}

// ServeHTTP implements the [http.Handler] interface.
//
// It responds with 204 if a request was waiting on the id and 404 if not.
func (h *FulfilHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	b, err := io.ReadAll(r.Body)
	if err != nil {
		h.log.WarnContext(ctx, "failed to read reply", slogfield.String("id", id), slogfield.Error(err))
		var merr *http.MaxBytesError
		if errors.As(err, &merr) {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !h.f.Fulfil(id, string(b)) {
		h.log.InfoContext(ctx, "no request waiting for reply", slogfield.String("id", id))
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
