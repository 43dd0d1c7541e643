// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package bridge turns selected HTTP requests into events for an
// asynchronous consumer and answers them with the consumer's reply.
//
// Every request is classified first. Multipart uploads are collected and
// persisted, requests below the dynamic prefix are registered with a
// [broker.Broker] and held until the consumer fulfils them or the timeout
// elapses. Everything else falls through to the bundled assets and then
// to the static file server.
package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/z5labs/staticserver/assets"
	"github.com/z5labs/staticserver/broker"
	"github.com/z5labs/staticserver/pkg/noop"
	"github.com/z5labs/staticserver/pkg/otelslog"
	"github.com/z5labs/staticserver/pkg/slogfield"
	"github.com/z5labs/staticserver/static"
	"github.com/z5labs/staticserver/upload"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTimeout bounds how long a dynamic request waits for its reply.
const DefaultTimeout = 5 * time.Second

type handlerOptions struct {
	logHandler    slog.Handler
	timeout       time.Duration
	dynamicPrefix string
	collector     *upload.Collector
	persister     *upload.Persister
	assets        *assets.Resolver
	static        http.Handler
	corsOrigin    string
	newID         func() string
}

// HandlerOption configures a [Handler].
type HandlerOption func(*handlerOptions)

// LogHandler configures the [slog.Handler] used by the [Handler].
func LogHandler(h slog.Handler) HandlerOption {
	return func(ho *handlerOptions) {
		ho.logHandler = h
	}
}

// Timeout overrides [DefaultTimeout].
func Timeout(d time.Duration) HandlerOption {
	return func(ho *handlerOptions) {
		ho.timeout = d
	}
}

// DynamicPrefix overrides [DefaultDynamicPrefix].
func DynamicPrefix(prefix string) HandlerOption {
	return func(ho *handlerOptions) {
		ho.dynamicPrefix = prefix
	}
}

// Collector overrides the default [upload.Collector].
func Collector(c *upload.Collector) HandlerOption {
	return func(ho *handlerOptions) {
		ho.collector = c
	}
}

// Persist uploaded files with p. Without a persister, uploads are
// parsed but never written and events carry no file paths.
func Persist(p *upload.Persister) HandlerOption {
	return func(ho *handlerOptions) {
		ho.persister = p
	}
}

// Assets enables the asset fallback for pass through requests.
func Assets(r *assets.Resolver) HandlerOption {
	return func(ho *handlerOptions) {
		ho.assets = r
	}
}

// Static sets the handler for pass through requests which no asset
// matched. By default, those requests receive a 404.
func Static(h http.Handler) HandlerOption {
	return func(ho *handlerOptions) {
		ho.static = h
	}
}

// CORS allows pages from origin to read pass through responses, the
// bundled assets and the static files, and answers their preflight
// requests. Bridged requests are left to the consumer.
func CORS(origin string) HandlerOption {
	return func(ho *handlerOptions) {
		ho.corsOrigin = origin
	}
}

// IDGenerator overrides how correlation ids are created. Ids must be
// unique among the requests in flight.
func IDGenerator(f func() string) HandlerOption {
	return func(ho *handlerOptions) {
		ho.newID = f
	}
}

// Handler is the per-request driver of the server.
type Handler struct {
	log    *slog.Logger
	tracer trace.Tracer

	broker   *broker.Broker
	consumer Consumer

	timeout       time.Duration
	dynamicPrefix string
	collector     *upload.Collector
	persister     *upload.Persister
	assets        *assets.Resolver
	passThrough   http.Handler
	newID         func() string
}

// NewHandler returns a [Handler] which bridges requests to c and waits
// for the replies delivered through b.
func NewHandler(b *broker.Broker, c Consumer, opts ...HandlerOption) *Handler {
	ho := &handlerOptions{
		logHandler:    noop.LogHandler{},
		timeout:       DefaultTimeout,
		dynamicPrefix: DefaultDynamicPrefix,
		static:        http.NotFoundHandler(),
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(ho)
	}
	if ho.collector == nil {
		ho.collector = upload.NewCollector()
	}

	h := &Handler{
		log:           otelslog.New(ho.logHandler),
		tracer:        otel.Tracer("github.com/z5labs/staticserver/bridge"),
		broker:        b,
		consumer:      c,
		timeout:       ho.timeout,
		dynamicPrefix: ho.dynamicPrefix,
		collector:     ho.collector,
		persister:     ho.persister,
		assets:        ho.assets,
		newID:         ho.newID,
	}

	pass := h.servePassThrough(ho.static)
	if ho.corsOrigin != "" {
		pass = static.AllowOrigin(ho.corsOrigin, pass)
	}
	h.passThrough = pass
	return h
}

// ServeHTTP implements the [http.Handler] interface.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route := Classify(r, h.dynamicPrefix)
	if route == RoutePassThrough {
		h.passThrough.ServeHTTP(w, r)
		return
	}

	ctx, span := h.tracer.Start(r.Context(), "Handler.ServeHTTP", trace.WithAttributes(
		attribute.String("bridge.route", route.String()),
		attribute.String("http.path", r.URL.Path),
	))
	defer span.End()

	dynamic := IsDynamic(r.URL.Path, h.dynamicPrefix)

	var params url.Values
	files := []string{}
	if route == RouteUpload {
		var n int
		params, files, n = h.collect(ctx, r)
		if n == 0 && !dynamic {
			span.SetAttributes(attribute.String("bridge.route", RoutePassThrough.String()))
			h.passThrough.ServeHTTP(w, r)
			return
		}
	} else {
		params = h.parseForm(ctx, r)
	}

	ev := Event{
		ID:     h.newID(),
		URI:    r.URL.Path,
		Params: params,
		Files:  files,
	}
	span.SetAttributes(attribute.String("bridge.id", ev.ID))

	if !dynamic {
		h.uploadOnly(ctx, w, ev)
		return
	}
	h.bridge(ctx, w, span, ev)
}

func (h *Handler) servePassThrough(files http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.assets != nil && h.assets.Serve(w, r) {
			return
		}
		files.ServeHTTP(w, r)
	})
}

func (h *Handler) uploadOnly(ctx context.Context, w http.ResponseWriter, ev Event) {
	err := h.consumer.Dispatch(ctx, ev)
	if err != nil {
		h.log.ErrorContext(ctx, "failed to dispatch upload event", slogfield.String("id", ev.ID), slogfield.Error(err))
	}
	writeMessage(w, http.StatusOK, "ok")
}

func (h *Handler) bridge(ctx context.Context, w http.ResponseWriter, span trace.Span, ev Event) {
	start := time.Now()

	p, err := h.broker.Register(ev.ID)
	if err != nil {
		h.log.ErrorContext(ctx, "failed to register request", slogfield.String("id", ev.ID), slogfield.Error(err))
		span.SetStatus(codes.Error, err.Error())
		writeMessage(w, http.StatusInternalServerError, broker.Interrupted.String())
		return
	}

	err = h.consumer.Dispatch(ctx, ev)
	if err != nil {
		p.Cancel()
		h.log.ErrorContext(ctx, "failed to dispatch event", slogfield.String("id", ev.ID), slogfield.Error(err))
		span.SetStatus(codes.Error, err.Error())
		writeMessage(w, http.StatusInternalServerError, broker.Interrupted.String())
		return
	}

	out := p.Wait(ctx, h.timeout)
	span.SetAttributes(attribute.String("bridge.outcome", out.Kind.String()))
	h.log.InfoContext(
		ctx,
		"bridged request",
		slogfield.String("id", ev.ID),
		slogfield.String("uri", ev.URI),
		slogfield.String("outcome", out.Kind.String()),
		slogfield.Duration("duration", time.Since(start)),
	)

	switch out.Kind {
	case broker.Fulfilled:
		writeJSON(w, http.StatusOK, []byte(out.Payload))
	case broker.TimedOut:
		writeMessage(w, http.StatusRequestTimeout, out.Kind.String())
	default:
		span.SetStatus(codes.Error, "interrupted")
		writeMessage(w, http.StatusInternalServerError, broker.Interrupted.String())
	}
}

// collect returns the request parameters, the paths of the persisted files
// and how many files the body carried. A malformed body degrades to no files.
func (h *Handler) collect(ctx context.Context, r *http.Request) (url.Values, []string, int) {
	params := r.URL.Query()
	paths := []string{}
	n := 0

	form, err := h.collector.Collect(r, func(f upload.UploadedFile) error {
		n++
		if h.persister == nil {
			return nil
		}

		path, err := h.persister.Persist(f)
		if err != nil {
			h.log.ErrorContext(ctx, "failed to persist uploaded file", slogfield.String("filename", f.Filename), slogfield.Error(err))
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		h.log.WarnContext(ctx, "failed to collect uploaded files", slogfield.Request(r.Method, r.URL.Path), slogfield.Error(err))
		return params, []string{}, 0
	}

	for k, vs := range form {
		params[k] = append(params[k], vs...)
	}
	return params, paths, n
}

func (h *Handler) parseForm(ctx context.Context, r *http.Request) url.Values {
	err := r.ParseForm()
	if err != nil {
		h.log.WarnContext(ctx, "failed to parse form", slogfield.Request(r.Method, r.URL.Path), slogfield.Error(err))
		return r.URL.Query()
	}
	return r.Form
}

type message struct {
	Msg string `json:"msg"`
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	// Marshalling a struct of one string can not fail.
	b, _ := json.Marshal(message{Msg: msg})
	writeJSON(w, status, b)
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	w.Write(body)
}
