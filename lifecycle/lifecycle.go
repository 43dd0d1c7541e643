// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package lifecycle collects actions to run once an app stops, such as
// flushing telemetry or closing clients opened while building the app.
package lifecycle

import (
	"context"
	"errors"
)

// Hook is an action run relative to an app's execution.
type Hook interface {
	Run(context.Context) error
}

// HookFunc is a func variant of the [Hook] interface.
type HookFunc func(context.Context) error

// Run implements the [Hook] interface.
func (f HookFunc) Run(ctx context.Context) error {
	return f(ctx)
}

type multiHook []Hook

func (mh multiHook) Run(ctx context.Context) error {
	var errs []error
	for _, h := range mh {
		if err := h.Run(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MultiHook runs every hook in order, even after one of them failed, and
// joins their errors.
func MultiHook(hooks ...Hook) Hook {
	return multiHook(hooks)
}

// Context gathers the hooks registered while an app is being built.
type Context struct {
	postRuns multiHook
}

// OnPostRun registers hook to run after the app returns.
func (c *Context) OnPostRun(hook Hook) {
	c.postRuns = append(c.postRuns, hook)
}

// PostRun returns every hook registered with [Context.OnPostRun].
func (c *Context) PostRun() Hook {
	return c.postRuns
}

type contextKey struct{}

// NewContext returns a copy of parent carrying c.
func NewContext(parent context.Context, c *Context) context.Context {
	return context.WithValue(parent, contextKey{}, c)
}

// FromContext returns the [Context] stored in ctx, if any.
func FromContext(ctx context.Context) (*Context, bool) {
	lc, ok := ctx.Value(contextKey{}).(*Context)
	return lc, ok
}
