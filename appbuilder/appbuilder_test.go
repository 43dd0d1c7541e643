// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package appbuilder

import (
	"context"
	"errors"
	"testing"

	"github.com/z5labs/staticserver"
	"github.com/z5labs/staticserver/internal/try"
	"github.com/z5labs/staticserver/lifecycle"

	"github.com/stretchr/testify/require"
)

func TestRecover(t *testing.T) {
	t.Run("will return the build error", func(t *testing.T) {
		buildErr := errors.New("failed to build")
		builder := Recover(staticserver.AppBuilderFunc[struct{}](func(context.Context, struct{}) (staticserver.App, error) {
			return nil, buildErr
		}))

		_, err := builder.Build(context.Background(), struct{}{})
		require.ErrorIs(t, err, buildErr)
	})

	t.Run("will return a PanicError if the builder panics", func(t *testing.T) {
		builder := Recover(staticserver.AppBuilderFunc[struct{}](func(context.Context, struct{}) (staticserver.App, error) {
			panic("hello world")
		}))

		_, err := builder.Build(context.Background(), struct{}{})

		var perr try.PanicError
		require.ErrorAs(t, err, &perr)
		require.Equal(t, "hello world", perr.Value)
	})
}

func TestLifecycle(t *testing.T) {
	t.Run("will run post run hooks after the app", func(t *testing.T) {
		var order []string
		builder := Lifecycle(staticserver.AppBuilderFunc[struct{}](func(ctx context.Context, _ struct{}) (staticserver.App, error) {
			lc, ok := lifecycle.FromContext(ctx)
			require.True(t, ok)
			lc.OnPostRun(lifecycle.HookFunc(func(context.Context) error {
				order = append(order, "hook")
				return nil
			}))

			return staticserver.AppFunc(func(context.Context) error {
				order = append(order, "app")
				return nil
			}), nil
		}))

		a, err := builder.Build(context.Background(), struct{}{})
		require.NoError(t, err)
		require.NoError(t, a.Run(context.Background()))
		require.Equal(t, []string{"app", "hook"}, order)
	})

	t.Run("will run post run hooks if the build fails", func(t *testing.T) {
		buildErr := errors.New("failed to build")
		hookErr := errors.New("failed to close")
		builder := Lifecycle(staticserver.AppBuilderFunc[struct{}](func(ctx context.Context, _ struct{}) (staticserver.App, error) {
			lc, _ := lifecycle.FromContext(ctx)
			lc.OnPostRun(lifecycle.HookFunc(func(context.Context) error {
				return hookErr
			}))
			return nil, buildErr
		}))

		_, err := builder.Build(context.Background(), struct{}{})
		require.ErrorIs(t, err, buildErr)
		require.ErrorIs(t, err, hookErr)
	})
}
