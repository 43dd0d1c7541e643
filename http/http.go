// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package http provides a HTTP server runtime which serves until its
// context is cancelled and then shuts down gracefully.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/z5labs/staticserver/pkg/health"
	"github.com/z5labs/staticserver/pkg/noop"
	"github.com/z5labs/staticserver/pkg/otelslog"
	"github.com/z5labs/staticserver/pkg/slogfield"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

// DefaultShutdownTimeout bounds how long in-flight requests may take to
// complete once the runtime is stopping.
const DefaultShutdownTimeout = 10 * time.Second

type runtimeOptions struct {
	name            string
	addr            string
	ls              net.Listener
	mux             *http.ServeMux
	logHandler      slog.Handler
	readiness       *health.Binary
	keepAlive       bool
	shutdownTimeout time.Duration
	onShutdown      []func()
}

// RuntimeOption
type RuntimeOption func(*runtimeOptions)

// Name is used for the server span names and log records.
func Name(name string) RuntimeOption {
	return func(ro *runtimeOptions) {
		ro.name = name
	}
}

// ListenOn configures the address the runtime will listen on.
//
// Default address is ":8080".
func ListenOn(addr string) RuntimeOption {
	return func(ro *runtimeOptions) {
		ro.addr = addr
	}
}

// Listener makes the runtime serve on an already bound listener,
// which takes precedence over [ListenOn].
func Listener(ls net.Listener) RuntimeOption {
	return func(ro *runtimeOptions) {
		ro.ls = ls
	}
}

// LogHandler
func LogHandler(h slog.Handler) RuntimeOption {
	return func(ro *runtimeOptions) {
		ro.logHandler = h
	}
}

// Handle registers a http.Handler for the given path pattern.
func Handle(pattern string, h http.Handler) RuntimeOption {
	return func(ro *runtimeOptions) {
		registerEndpoint(ro.mux, pattern, h)
	}
}

// HandleFunc registers a http.HandlerFunc for the given path pattern.
func HandleFunc(pattern string, f func(http.ResponseWriter, *http.Request)) RuntimeOption {
	return func(ro *runtimeOptions) {
		registerEndpoint(ro.mux, pattern, http.HandlerFunc(f))
	}
}

// Readiness is set while the runtime is serving.
func Readiness(b *health.Binary) RuntimeOption {
	return func(ro *runtimeOptions) {
		ro.readiness = b
	}
}

// KeepAlive toggles HTTP keep-alives. They are enabled by default.
func KeepAlive(enabled bool) RuntimeOption {
	return func(ro *runtimeOptions) {
		ro.keepAlive = enabled
	}
}

// ShutdownTimeout overrides [DefaultShutdownTimeout].
func ShutdownTimeout(d time.Duration) RuntimeOption {
	return func(ro *runtimeOptions) {
		ro.shutdownTimeout = d
	}
}

// OnShutdown registers f to be called once the runtime stops accepting
// work, before it waits for in-flight requests. Use it to release
// requests which would otherwise hold up the shutdown.
func OnShutdown(f func()) RuntimeOption {
	return func(ro *runtimeOptions) {
		ro.onShutdown = append(ro.onShutdown, f)
	}
}

// Runtime
type Runtime struct {
	name   string
	addr   string
	ls     net.Listener
	listen func(string, string) (net.Listener, error)

	log *slog.Logger
	h   http.Handler

	readiness       *health.Binary
	keepAlive       bool
	shutdownTimeout time.Duration
	onShutdown      []func()
}

// NewRuntime
func NewRuntime(opts ...RuntimeOption) *Runtime {
	ros := &runtimeOptions{
		name:            "server",
		addr:            ":8080",
		mux:             http.NewServeMux(),
		logHandler:      noop.LogHandler{},
		readiness:       &health.Binary{},
		keepAlive:       true,
		shutdownTimeout: DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(ros)
	}

	return &Runtime{
		name:            ros.name,
		addr:            ros.addr,
		ls:              ros.ls,
		listen:          net.Listen,
		log:             otelslog.New(ros.logHandler).With(slogfield.String("server", ros.name)),
		h:               ros.mux,
		readiness:       ros.readiness,
		keepAlive:       ros.keepAlive,
		shutdownTimeout: ros.shutdownTimeout,
		onShutdown:      ros.onShutdown,
	}
}

// Run implements the app.Runtime interface.
func (rt *Runtime) Run(ctx context.Context) error {
	ls := rt.ls
	if ls == nil {
		var err error
		ls, err = rt.listen("tcp", rt.addr)
		if err != nil {
			rt.log.Error("failed to listen for connections", slogfield.Error(err))
			return err
		}
	}

	s := &http.Server{
		Handler: otelhttp.NewHandler(
			rt.h,
			rt.name,
			otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.SetKeepAlivesEnabled(rt.keepAlive)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		rt.readiness.Set(false)

		rt.log.Info("shutting down service")
		defer rt.log.Info("shut down service")
		for _, f := range rt.onShutdown {
			f()
		}

		ctx, cancel := context.WithTimeout(context.Background(), rt.shutdownTimeout)
		defer cancel()
		return s.Shutdown(ctx)
	})
	addr := rt.addr
	if a := ls.Addr(); a != nil {
		addr = a.String()
	}
	g.Go(func() error {
		rt.readiness.Set(true)
		rt.log.Info("started service", slogfield.String("addr", addr))
		return s.Serve(ls)
	})

	err := g.Wait()
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	rt.log.Error("service encountered unexpected error", slogfield.Error(err))
	return err
}

func registerEndpoint(mux *http.ServeMux, path string, h http.Handler) {
	mux.Handle(
		path,
		otelhttp.WithRouteTag(path, h),
	)
}
