// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package maskslog provides a slog.Handler which rewrites selected
// attributes before they are written, e.g. to keep query strings and
// credentials out of access logs.
package maskslog

import (
	"context"
	"log/slog"
	"net/url"
)

// Option helps configure the [Handler].
type Option func(map[string]func(slog.Attr) slog.Attr)

// Attr registers f for every attribute named key, including attributes
// nested in groups and those added through WithAttrs.
func Attr(key string, f func(slog.Attr) slog.Attr) Option {
	return func(m map[string]func(slog.Attr) slog.Attr) {
		m[key] = f
	}
}

// Anonymize replaces the values of the given keys with "****".
func Anonymize(keys ...string) Option {
	return func(m map[string]func(slog.Attr) slog.Attr) {
		for _, key := range keys {
			m[key] = AnonymousStringAttr
		}
	}
}

// AnonymousStringAttr converts any attribute into the string "****".
func AnonymousStringAttr(a slog.Attr) slog.Attr {
	return slog.String(a.Key, "****")
}

// WithoutQuery drops the query and fragment of a URL valued attribute.
// Values which do not parse as a URL are anonymized.
func WithoutQuery(a slog.Attr) slog.Attr {
	u, err := url.Parse(a.Value.String())
	if err != nil {
		return AnonymousStringAttr(a)
	}
	if u.RawQuery != "" {
		u.RawQuery = ""
		u.ForceQuery = false
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil
	return slog.String(a.Key, u.String())
}

// Handler is an slog.Handler.
type Handler struct {
	h     slog.Handler
	masks map[string]func(slog.Attr) slog.Attr
}

// NewHandler wraps h.
func NewHandler(h slog.Handler, opts ...Option) *Handler {
	masks := make(map[string]func(slog.Attr) slog.Attr)
	for _, opt := range opts {
		opt(masks)
	}
	return &Handler{h: h, masks: masks}
}

// Enabled implements the slog.Handler interface.
func (h *Handler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.h.Enabled(ctx, lvl)
}

// Handle implements the slog.Handler interface.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if len(h.masks) == 0 {
		return h.h.Handle(ctx, r)
	}

	nr := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		nr.AddAttrs(h.mask(a))
		return true
	})
	return h.h.Handle(ctx, nr)
}

// WithAttrs implements the slog.Handler interface.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	masked := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		masked[i] = h.mask(a)
	}
	return &Handler{h: h.h.WithAttrs(masked), masks: h.masks}
}

// WithGroup implements the slog.Handler interface.
func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{h: h.h.WithGroup(name), masks: h.masks}
}

func (h *Handler) mask(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		masked := make([]any, len(group))
		for i, ga := range group {
			masked[i] = h.mask(ga)
		}
		return slog.Group(a.Key, masked...)
	}
	f, ok := h.masks[a.Key]
	if !ok {
		return a
	}
	return f(a)
}
