// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package app provides middleware for [staticserver.App]s.
package app

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/z5labs/staticserver"
	"github.com/z5labs/staticserver/internal/try"
	"github.com/z5labs/staticserver/lifecycle"

	"golang.org/x/sync/errgroup"
)

// Recover turns a panic inside app into a [try.PanicError].
func Recover(app staticserver.App) staticserver.App {
	return staticserver.AppFunc(func(ctx context.Context) (err error) {
		defer try.Recover(&err)

		return app.Run(ctx)
	})
}

// WithSignalNotifications cancels the context passed to app once any of
// signals is received.
func WithSignalNotifications(app staticserver.App, signals ...os.Signal) staticserver.App {
	return staticserver.AppFunc(func(ctx context.Context) error {
		sigCtx, cancel := signal.NotifyContext(ctx, signals...)
		defer cancel()

		return app.Run(sigCtx)
	})
}

// PostRun runs hook after app returns, even if app panics. The hook
// error is joined with the app error.
func PostRun(app staticserver.App, hook lifecycle.Hook) staticserver.App {
	return staticserver.AppFunc(func(ctx context.Context) (err error) {
		defer func() {
			// The app context may already be cancelled, which must not
			// stop the hooks from flushing.
			herr := hook.Run(context.WithoutCancel(ctx))
			err = errors.Join(err, herr)
		}()

		return app.Run(ctx)
	})
}

// Multi runs every app concurrently. The first failure cancels the
// others and is returned once all of them stopped.
func Multi(apps ...staticserver.App) staticserver.App {
	return staticserver.AppFunc(func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		for _, a := range apps {
			a := a
			g.Go(func() error {
				return a.Run(gctx)
			})
		}
		return g.Wait()
	})
}
