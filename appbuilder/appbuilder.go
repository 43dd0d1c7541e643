// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package appbuilder provides middleware for [staticserver.AppBuilder]s.
package appbuilder

import (
	"context"
	"errors"

	"github.com/z5labs/staticserver"
	"github.com/z5labs/staticserver/app"
	"github.com/z5labs/staticserver/internal/try"
	"github.com/z5labs/staticserver/lifecycle"
)

// Recover turns a panic inside builder into a [try.PanicError].
func Recover[T any](builder staticserver.AppBuilder[T]) staticserver.AppBuilder[T] {
	return staticserver.AppBuilderFunc[T](func(ctx context.Context, cfg T) (_ staticserver.App, err error) {
		defer try.Recover(&err)

		return builder.Build(ctx, cfg)
	})
}

// Lifecycle gives builder a [lifecycle.Context] to register hooks with.
// The post run hooks are run once the built app returns. If the build
// fails, they are run right away.
func Lifecycle[T any](builder staticserver.AppBuilder[T]) staticserver.AppBuilder[T] {
	return staticserver.AppBuilderFunc[T](func(ctx context.Context, cfg T) (staticserver.App, error) {
		lc := &lifecycle.Context{}

		base, err := builder.Build(lifecycle.NewContext(ctx, lc), cfg)
		if err != nil {
			return nil, joinHookErr(ctx, err, lc.PostRun())
		}
		return app.PostRun(base, lc.PostRun()), nil
	})
}

func joinHookErr(ctx context.Context, err error, hook lifecycle.Hook) error {
	herr := hook.Run(context.WithoutCancel(ctx))
	if herr == nil {
		return err
	}
	return errors.Join(err, herr)
}
