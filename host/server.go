// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package host embeds the bridging static file server into an application
// and manages its lifecycle: start, stop and the app background/foreground
// transitions.
package host

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/z5labs/staticserver/assets"
	"github.com/z5labs/staticserver/bridge"
	"github.com/z5labs/staticserver/broker"
	"github.com/z5labs/staticserver/consumer"
	"github.com/z5labs/staticserver/control"
	sgrpc "github.com/z5labs/staticserver/grpc"
	shttp "github.com/z5labs/staticserver/http"
	"github.com/z5labs/staticserver/pkg/health"
	"github.com/z5labs/staticserver/pkg/noop"
	"github.com/z5labs/staticserver/pkg/otelslog"
	"github.com/z5labs/staticserver/pkg/slogfield"
	"github.com/z5labs/staticserver/static"
	"github.com/z5labs/staticserver/upload"

	"github.com/go-git/go-billy/v5/osfs"
	"golang.org/x/sync/errgroup"
)

type options struct {
	logHandler     slog.Handler
	consumer       bridge.Consumer
	assets         fs.FS
	readiness      *health.Binary
	interfaceAddrs func() ([]net.Addr, error)
	listen         func(string, string) (net.Listener, error)
}

// Option configures a [Server].
type Option func(*options)

// LogHandler configures the [slog.Handler] shared by every part of the server.
func LogHandler(h slog.Handler) Option {
	return func(o *options) {
		o.logHandler = h
	}
}

// Consumer receives the events of bridged requests. Without one, events
// are only logged and dynamic requests can only be answered through
// [Server.Fulfil] or the control API.
func Consumer(c bridge.Consumer) Option {
	return func(o *options) {
		o.consumer = c
	}
}

// Assets provides the bundled asset namespace consulted when
// Config.TryAssets is set and no Config.AssetsDirectory is given.
func Assets(fsys fs.FS) Option {
	return func(o *options) {
		o.assets = fsys
	}
}

// Readiness is set while a server instance is serving.
func Readiness(b *health.Binary) Option {
	return func(o *options) {
		o.readiness = b
	}
}

// Server is a restartable bridging static file server.
type Server struct {
	cfg            Config
	log            *slog.Logger
	logHandler     slog.Handler
	consumer       bridge.Consumer
	assets         fs.FS
	readiness      *health.Binary
	interfaceAddrs func() ([]net.Addr, error)
	listen         func(string, string) (net.Listener, error)

	failures chan error

	// live is read without mu so that replies are never held up by a
	// start or stop in progress.
	live atomic.Pointer[instance]

	mu        sync.Mutex
	parent    context.Context
	running   *instance
	resumable bool
}

type instance struct {
	origin string
	broker *broker.Broker
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewServer returns a stopped [Server] for cfg.
func NewServer(cfg Config, opts ...Option) *Server {
	o := &options{
		logHandler:     noop.LogHandler{},
		readiness:      &health.Binary{},
		interfaceAddrs: net.InterfaceAddrs,
		listen:         net.Listen,
	}
	for _, opt := range opts {
		opt(o)
	}

	h := otelslog.NewHandler(o.logHandler)
	if o.consumer == nil {
		o.consumer = consumer.NewLog(h)
	}
	return &Server{
		cfg:            cfg,
		log:            slog.New(h),
		logHandler:     h,
		consumer:       o.consumer,
		assets:         o.assets,
		readiness:      o.readiness,
		interfaceAddrs: o.interfaceAddrs,
		listen:         o.listen,
		failures:       make(chan error, 1),
	}
}

// Start binds the listener and starts serving in the background. It
// returns the origin clients should use, e.g. http://192.168.1.10:8080.
//
// Calling Start on a running server returns the current origin. The
// server stops when ctx is cancelled or [Server.Stop] is called.
func (s *Server) Start(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inst := s.current(); inst != nil {
		return inst.origin, nil
	}
	s.parent = ctx
	s.resumable = false
	return s.start(ctx)
}

func (s *Server) current() *instance {
	if s.running == nil {
		return nil
	}
	select {
	case <-s.running.done:
		s.running = nil
		return nil
	default:
		return s.running
	}
}

func (s *Server) start(ctx context.Context) (string, error) {
	cfg := s.cfg

	root, err := ResolvePath(cfg.DocumentRoot, cfg.FilesDirectory)
	if err != nil {
		return "", err
	}

	hostname := cfg.host(s.interfaceAddrs)
	ls, err := s.bind(hostname, cfg.port())
	if err != nil {
		return "", err
	}
	port := strconv.Itoa(ls.Addr().(*net.TCPAddr).Port)

	controlLs, err := s.bindOptional(cfg.ControlAddress)
	if err != nil {
		ls.Close()
		return "", err
	}
	healthLs, err := s.bindOptional(cfg.HealthAddress)
	if err != nil {
		closeAll(ls, controlLs)
		return "", err
	}

	b := broker.New(broker.LogHandler(s.logHandler))
	hopts := []bridge.HandlerOption{
		bridge.LogHandler(s.logHandler),
		bridge.Static(static.NewDelegate(http.Dir(root))),
	}
	if cfg.Timeout > 0 {
		hopts = append(hopts, bridge.Timeout(cfg.Timeout))
	}
	if origin := cfg.corsOrigin(); origin != "" {
		hopts = append(hopts, bridge.CORS(origin))
	}
	if cfg.UploadDirectory != "" {
		dir, err := ResolvePath(cfg.UploadDirectory, cfg.FilesDirectory)
		if err != nil {
			closeAll(ls, controlLs, healthLs)
			return "", err
		}
		hopts = append(hopts, bridge.Persist(upload.NewPersister(osfs.New(dir))))
	}
	if fsys := s.assetFS(); fsys != nil {
		hopts = append(hopts, bridge.Assets(assets.NewResolver(fsys, assets.LogHandler(s.logHandler))))
	}

	rts := []interface{ Run(context.Context) error }{
		shttp.NewRuntime(
			shttp.Name("staticserver"),
			shttp.Listener(ls),
			shttp.LogHandler(s.logHandler),
			shttp.Readiness(s.readiness),
			shttp.Handle("/", bridge.NewHandler(b, s.consumer, hopts...)),
			shttp.OnShutdown(b.Close),
		),
	}
	if controlLs != nil {
		rts = append(rts, control.NewRuntime(
			b,
			control.Listener(controlLs),
			control.LogHandler(s.logHandler),
			control.Readiness(s.readiness),
		))
	}
	if healthLs != nil {
		rts = append(rts, sgrpc.NewRuntime(
			sgrpc.Listener(healthLs),
			sgrpc.LogHandler(s.logHandler),
			sgrpc.ServiceName("staticserver"),
			sgrpc.Readiness(s.readiness),
		))
	}

	runCtx, cancel := context.WithCancel(ctx)
	inst := &instance{
		origin: "http://" + net.JoinHostPort(hostname, port),
		broker: b,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(inst.done)
		defer s.live.CompareAndSwap(inst, nil)

		g, gctx := errgroup.WithContext(runCtx)
		for _, rt := range rts {
			rt := rt
			g.Go(func() error {
				return rt.Run(gctx)
			})
		}
		inst.err = g.Wait()
		if inst.err != nil && runCtx.Err() == nil {
			select {
			case s.failures <- inst.err:
			default:
			}
		}
	}()

	s.running = inst
	s.live.Store(inst)
	s.log.InfoContext(ctx, "started server", slogfield.String("origin", inst.origin), slogfield.String("document_root", root))
	return inst.origin, nil
}

func (s *Server) assetFS() fs.FS {
	if !s.cfg.TryAssets {
		return nil
	}
	if s.cfg.AssetsDirectory == "" {
		return s.assets
	}
	dir, err := ResolvePath(s.cfg.AssetsDirectory, s.cfg.FilesDirectory)
	if err != nil {
		s.log.Warn("ignoring assets directory", slogfield.String("assets_directory", s.cfg.AssetsDirectory), slogfield.Error(err))
		return s.assets
	}
	return os.DirFS(dir)
}

// bind listens on the given port or, if port is 0, on a random free port
// with FallbackPort as last resort.
func (s *Server) bind(hostname string, port int) (net.Listener, error) {
	addr := net.JoinHostPort(hostname, strconv.Itoa(port))
	ls, err := s.listen("tcp", addr)
	if err != nil && port == 0 {
		s.log.Warn("failed to allocate a random port", slogfield.Error(err))
		addr = net.JoinHostPort(hostname, strconv.Itoa(FallbackPort))
		ls, err = s.listen("tcp", addr)
	}
	if err == nil {
		return ls, nil
	}
	if isAddrInUse(err) {
		return nil, BindInUseError{Addr: addr, Cause: err}
	}
	return nil, err
}

// bindOptional binds addr unless it is empty.
func (s *Server) bindOptional(addr string) (net.Listener, error) {
	if addr == "" {
		return nil, nil
	}
	ls, err := s.listen("tcp", addr)
	if err == nil {
		return ls, nil
	}
	if isAddrInUse(err) {
		return nil, BindInUseError{Addr: addr, Cause: err}
	}
	return nil, err
}

func closeAll(lss ...net.Listener) {
	for _, ls := range lss {
		if ls != nil {
			ls.Close()
		}
	}
}

// Stop shuts the server down and waits until every in-flight request has
// completed. Requests waiting on a reply are interrupted. Stopping a
// stopped server is a no-op.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resumable = false
	return s.stop()
}

func (s *Server) stop() error {
	inst := s.running
	if inst == nil {
		return nil
	}
	s.running = nil
	s.live.CompareAndSwap(inst, nil)

	inst.cancel()
	<-inst.done
	s.log.Info("stopped server", slogfield.String("origin", inst.origin))
	return inst.err
}

// Origin returns the origin of the running server, or "" if stopped or
// stopping.
func (s *Server) Origin() string {
	if inst := s.live.Load(); inst != nil {
		return inst.origin
	}
	return ""
}

// Fulfil delivers payload to the request waiting on id. It reports false
// if the server is stopped or stopping, or nothing waits on id.
//
// Fulfil never blocks, not even while the server shuts down.
func (s *Server) Fulfil(id, payload string) bool {
	inst := s.live.Load()
	if inst == nil {
		return false
	}
	return inst.broker.Fulfil(id, payload)
}

// Background must be called when the embedding application moves to the
// background. Unless Config.KeepAlive is set, the server is stopped and
// restarted by the next [Server.Foreground].
func (s *Server) Background() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.KeepAlive || s.current() == nil {
		return
	}
	err := s.stop()
	if err != nil {
		s.log.Error("server failed while stopping", slogfield.Error(err))
	}
	s.resumable = true
}

// Foreground must be called when the embedding application returns to
// the foreground. It restarts a server stopped by [Server.Background].
func (s *Server) Foreground() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.resumable || s.current() != nil {
		return
	}
	s.resumable = false
	if s.parent.Err() != nil {
		return
	}
	_, err := s.start(s.parent)
	if err != nil {
		s.log.Error("failed to restart server", slogfield.Error(err))
	}
}

// Run starts the server and keeps it running until ctx is cancelled.
// It only returns early if serving fails.
func (s *Server) Run(ctx context.Context) error {
	_, err := s.Start(ctx)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case err = <-s.failures:
	}
	return errors.Join(err, s.Stop())
}
