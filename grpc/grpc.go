// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package grpc exposes the server's readiness through the standard gRPC
// health checking protocol, for orchestrators which only speak gRPC.
package grpc

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/z5labs/staticserver/pkg/health"
	"github.com/z5labs/staticserver/pkg/noop"
	"github.com/z5labs/staticserver/pkg/otelslog"
	"github.com/z5labs/staticserver/pkg/slogfield"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	grpchealth "google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// DefaultPollInterval is how often the readiness metric is sampled.
const DefaultPollInterval = 200 * time.Millisecond

type options struct {
	addr         string
	ls           net.Listener
	logHandler   slog.Handler
	tc           credentials.TransportCredentials
	serviceName  string
	readiness    health.Metric
	pollInterval time.Duration
}

// Option configures the health [Runtime].
type Option func(*options)

// ListenOn sets the address to listen on. Default is "127.0.0.1:9997".
func ListenOn(addr string) Option {
	return func(o *options) {
		o.addr = addr
	}
}

// Listener makes the runtime serve on an already bound listener.
func Listener(ls net.Listener) Option {
	return func(o *options) {
		o.ls = ls
	}
}

// LogHandler configures the [slog.Handler] used by the health service.
func LogHandler(h slog.Handler) Option {
	return func(o *options) {
		o.logHandler = h
	}
}

// TransportCredentials configures the credentials of the gRPC server.
// Default is insecure.
func TransportCredentials(tc credentials.TransportCredentials) Option {
	return func(o *options) {
		o.tc = tc
	}
}

// ServiceName is the name the status is reported under, in addition to
// the overall server status "".
func ServiceName(name string) Option {
	return func(o *options) {
		o.serviceName = name
	}
}

// Readiness is the metric reported as SERVING or NOT_SERVING.
func Readiness(m health.Metric) Option {
	return func(o *options) {
		o.readiness = m
	}
}

// PollInterval overrides [DefaultPollInterval].
func PollInterval(d time.Duration) Option {
	return func(o *options) {
		o.pollInterval = d
	}
}

type grpcServer interface {
	Serve(net.Listener) error
	GracefulStop()
}

// Runtime serves the gRPC health service.
type Runtime struct {
	addr         string
	ls           net.Listener
	listen       func(string, string) (net.Listener, error)
	log          *slog.Logger
	names        []string
	readiness    health.Metric
	pollInterval time.Duration

	grpc   grpcServer
	health *grpchealth.Server
}

// NewRuntime returns a [Runtime] which is NOT_SERVING until its first
// readiness sample.
func NewRuntime(opts ...Option) *Runtime {
	o := &options{
		addr:         "127.0.0.1:9997",
		logHandler:   noop.LogHandler{},
		tc:           insecure.NewCredentials(),
		readiness:    &health.Binary{},
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(o)
	}

	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.Creds(o.tc),
	)
	hs := grpchealth.NewServer()
	grpc_health_v1.RegisterHealthServer(s, hs)

	names := []string{""}
	if o.serviceName != "" {
		names = append(names, o.serviceName)
	}
	for _, name := range names {
		hs.SetServingStatus(name, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}

	return &Runtime{
		addr:         o.addr,
		ls:           o.ls,
		listen:       net.Listen,
		log:          otelslog.New(o.logHandler),
		names:        names,
		readiness:    o.readiness,
		pollInterval: o.pollInterval,
		grpc:         s,
		health:       hs,
	}
}

// Run serves until ctx is cancelled.
func (rt *Runtime) Run(ctx context.Context) error {
	ls := rt.ls
	if ls == nil {
		var err error
		ls, err = rt.listen("tcp", rt.addr)
		if err != nil {
			rt.log.ErrorContext(ctx, "failed to listen for connections", slogfield.Error(err))
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rt.monitor(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		rt.log.InfoContext(gctx, "shutting down health service")
		rt.health.Shutdown()
		rt.grpc.GracefulStop()
		return nil
	})
	g.Go(func() error {
		rt.log.InfoContext(gctx, "started health service", slogfield.String("addr", ls.Addr().String()))
		return rt.grpc.Serve(ls)
	})

	err := g.Wait()
	if err == nil || errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	rt.log.ErrorContext(ctx, "health service encountered unexpected error", slogfield.Error(err))
	return err
}

func (rt *Runtime) monitor(ctx context.Context) {
	var last *bool
	ticker := time.NewTicker(rt.pollInterval)
	defer ticker.Stop()

	for {
		healthy := rt.readiness.Healthy(ctx)
		if last == nil || *last != healthy {
			last = &healthy
			for _, name := range rt.names {
				rt.health.SetServingStatus(name, servingStatus(healthy))
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func servingStatus(healthy bool) grpc_health_v1.HealthCheckResponse_ServingStatus {
	if healthy {
		return grpc_health_v1.HealthCheckResponse_SERVING
	}
	return grpc_health_v1.HealthCheckResponse_NOT_SERVING
}
