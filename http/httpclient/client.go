// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package httpclient provides the http.Client used to push events to
// remote consumers.
package httpclient

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/z5labs/staticserver/pkg/noop"
	"github.com/z5labs/staticserver/pkg/otelslog"
	"github.com/z5labs/staticserver/pkg/slogfield"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type circuitOptions struct {
	maxRequests uint32
	interval    time.Duration
	timeout     time.Duration
	tripCount   uint32
	statusCodes []int
}

func withCircuitOption(f func(*circuitOptions)) Option {
	return func(o *options) {
		if o.co == nil {
			o.co = &circuitOptions{
				maxRequests: 1,
				timeout:     60 * time.Second,
				tripCount:   5,
			}
		}
		f(o.co)
	}
}

// HalfOpenRequests is the number of requests let through while the
// circuit is half open.
func HalfOpenRequests(n uint32) Option {
	return withCircuitOption(func(co *circuitOptions) {
		co.maxRequests = n
	})
}

// OpenStateTimeout is how long the circuit stays open before turning half open.
func OpenStateTimeout(d time.Duration) Option {
	return withCircuitOption(func(co *circuitOptions) {
		co.timeout = d
	})
}

// CountResetInterval clears the failure counts periodically while closed.
func CountResetInterval(d time.Duration) Option {
	return withCircuitOption(func(co *circuitOptions) {
		co.interval = d
	})
}

// TripAfter opens the circuit after n consecutive failures.
func TripAfter(n uint32) Option {
	return withCircuitOption(func(co *circuitOptions) {
		co.tripCount = n
	})
}

// TripOn counts the given response status codes as failures.
//
// Default: 500, 502, 503, 504
func TripOn(codes ...int) Option {
	return withCircuitOption(func(co *circuitOptions) {
		co.statusCodes = append(co.statusCodes, codes...)
	})
}

type retryOptions struct {
	maxRetries int
	waitMin    time.Duration
	waitMax    time.Duration
}

// Retry enables retrying failed requests with exponential backoff.
func Retry(maxRetries int, waitMin, waitMax time.Duration) Option {
	return func(o *options) {
		o.ro = &retryOptions{
			maxRetries: maxRetries,
			waitMin:    waitMin,
			waitMax:    waitMax,
		}
	}
}

type options struct {
	timeout time.Duration
	rt      http.RoundTripper

	name       string
	logHandler slog.Handler
	zap        *zap.Logger

	co *circuitOptions
	ro *retryOptions
}

// Option configures the client returned by [New].
type Option func(*options)

// Name is attached to every log record and to the circuit breaker.
func Name(s string) Option {
	return func(o *options) {
		o.name = s
	}
}

// RoundTripper overrides [http.DefaultTransport].
func RoundTripper(rt http.RoundTripper) Option {
	return func(wo *options) {
		wo.rt = rt
	}
}

// Timeout provides a global timeout value for the http.Client.
func Timeout(d time.Duration) Option {
	return func(wo *options) {
		wo.timeout = d
	}
}

// LogHandler configures the per request logging.
func LogHandler(h slog.Handler) Option {
	return func(wo *options) {
		wo.logHandler = h
	}
}

// StateLogger receives circuit state changes and retry attempts.
func StateLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.zap = l
	}
}

// New returns a traced [http.Client], optionally guarded by a circuit
// breaker and retrying failed requests.
func New(opts ...Option) *http.Client {
	o := &options{
		rt:         http.DefaultTransport,
		logHandler: noop.LogHandler{},
		zap:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}

	logger := otelslog.New(o.logHandler)
	zlog := o.zap
	if o.name != "" {
		logger = logger.With(slogfield.String("http_client", o.name))
		zlog = zlog.Named(o.name)
	}

	var rt http.RoundTripper = &logRoundTripper{
		base: otelhttp.NewTransport(o.rt),
		log:  logger,
	}
	if o.co != nil {
		rt = newCircuitRoundTripper(o.name, o.co, rt, zlog)
	}

	c := &http.Client{
		Timeout:   o.timeout,
		Transport: rt,
	}
	if o.ro == nil {
		return c
	}

	rc := retryablehttp.Client{
		HTTPClient:   c,
		Logger:       nil,
		RetryWaitMin: o.ro.waitMin,
		RetryWaitMax: o.ro.waitMax,
		RetryMax:     o.ro.maxRetries,
		RequestLogHook: func(_ retryablehttp.Logger, req *http.Request, attempt int) {
			if attempt == 0 {
				return
			}
			zlog.Warn("retrying http request", zap.String("url", req.URL.String()), zap.Int("attempt", attempt))
		},
		CheckRetry:   retryablehttp.DefaultRetryPolicy,
		Backoff:      retryablehttp.DefaultBackoff,
		ErrorHandler: retryablehttp.PassthroughErrorHandler,
	}
	return rc.StandardClient()
}

type logRoundTripper struct {
	base http.RoundTripper
	log  *slog.Logger
}

func (rt *logRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	start := time.Now()
	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		rt.log.ErrorContext(
			ctx,
			"request failed",
			slogfield.String("url", req.URL.String()),
			slogfield.Error(err),
		)
		return nil, err
	}
	rt.log.InfoContext(
		ctx,
		"response received",
		slogfield.String("url", req.URL.String()),
		slogfield.Int("status_code", resp.StatusCode),
		slogfield.Duration("latency", time.Since(start)),
	)
	return resp, nil
}

// StatusCodeError marks a response whose status code counts against the circuit.
type StatusCodeError struct {
	Code int
}

// Error implements the [error] interface.
func (e StatusCodeError) Error() string {
	return "unexpected status code: " + http.StatusText(e.Code)
}

type circuitRoundTripper struct {
	base  http.RoundTripper
	cb    *gobreaker.CircuitBreaker
	codes map[int]struct{}
}

func newCircuitRoundTripper(name string, co *circuitOptions, base http.RoundTripper, log *zap.Logger) *circuitRoundTripper {
	if len(co.statusCodes) == 0 {
		co.statusCodes = []int{
			http.StatusInternalServerError, // 500
			http.StatusBadGateway,          // 502
			http.StatusServiceUnavailable,  // 503
			http.StatusGatewayTimeout,      // 504
		}
	}
	codes := make(map[int]struct{}, len(co.statusCodes))
	for _, code := range co.statusCodes {
		codes[code] = struct{}{}
	}

	return &circuitRoundTripper{
		base:  base,
		codes: codes,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: co.maxRequests,
			Interval:    co.interval,
			Timeout:     co.timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= co.tripCount
			},
			OnStateChange: func(_ string, from, to gobreaker.State) {
				switch to {
				case gobreaker.StateOpen:
					log.Error("circuit has been opened")
				case gobreaker.StateHalfOpen:
					log.Warn("circuit is now half open", zap.Uint32("max_requests_allowed_through", co.maxRequests))
				case gobreaker.StateClosed:
					log.Info("circuit has been closed")
				}
			},
		}),
	}
}

func (rt *circuitRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	var failed *http.Response
	v, err := rt.cb.Execute(func() (interface{}, error) {
		resp, err := rt.base.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if _, ok := rt.codes[resp.StatusCode]; ok {
			failed = resp
			return nil, StatusCodeError{Code: resp.StatusCode}
		}
		return resp, nil
	})
	// The failure is counted, the caller still gets the response.
	var serr StatusCodeError
	if errors.As(err, &serr) {
		return failed, nil
	}
	if err != nil {
		return nil, err
	}
	return v.(*http.Response), nil
}
