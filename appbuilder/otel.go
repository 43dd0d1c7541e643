// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package appbuilder

import (
	"context"

	"github.com/z5labs/staticserver"
	"github.com/z5labs/staticserver/app"
	"github.com/z5labs/staticserver/lifecycle"

	"go.opentelemetry.io/otel"
)

// OTelInitializer is implemented by configs which set up the global
// OTel providers.
type OTelInitializer interface {
	InitializeOTel(context.Context) error
}

// OTel initializes the OTel SDK before building the app and shuts the
// global providers down, flushing any buffered telemetry, once the app
// returns.
func OTel[T OTelInitializer](builder staticserver.AppBuilder[T]) staticserver.AppBuilder[T] {
	return staticserver.AppBuilderFunc[T](func(ctx context.Context, cfg T) (staticserver.App, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		err := cfg.InitializeOTel(ctx)
		if err != nil {
			return nil, err
		}

		shutdown := lifecycle.MultiHook(
			tryShutdown(otel.GetTracerProvider()),
			tryShutdown(otel.GetMeterProvider()),
		)

		base, err := builder.Build(ctx, cfg)
		if err != nil {
			return nil, joinHookErr(ctx, err, shutdown)
		}

		if lc, ok := lifecycle.FromContext(ctx); ok {
			lc.OnPostRun(shutdown)
			return base, nil
		}
		return app.PostRun(base, shutdown), nil
	})
}

type shutdowner interface {
	Shutdown(context.Context) error
}

func tryShutdown(v any) lifecycle.HookFunc {
	return func(ctx context.Context) error {
		s, ok := v.(shutdowner)
		if !ok {
			return nil
		}
		return s.Shutdown(ctx)
	}
}
