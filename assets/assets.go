// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package assets resolves request paths against a bundled, read-only
// asset namespace before the document root is consulted.
package assets

import (
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/z5labs/staticserver/internal/try"
	"github.com/z5labs/staticserver/pkg/noop"
	"github.com/z5labs/staticserver/pkg/otelslog"
	"github.com/z5labs/staticserver/pkg/slogfield"
	"github.com/z5labs/staticserver/static"
)

// DefaultPrefix is the directory inside the asset namespace which
// request paths are mapped onto.
const DefaultPrefix = "www"

type options struct {
	prefix     string
	logHandler slog.Handler
}

// Option configures a [Resolver].
type Option func(*options)

// Prefix overrides [DefaultPrefix].
func Prefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// LogHandler configures the [slog.Handler] used by the [Resolver].
func LogHandler(h slog.Handler) Option {
	return func(o *options) {
		o.logHandler = h
	}
}

// Resolver looks up request paths in an [fs.FS].
type Resolver struct {
	log    *slog.Logger
	fsys   fs.FS
	prefix string
}

// NewResolver returns a [Resolver] for the given asset namespace.
func NewResolver(fsys fs.FS, opts ...Option) *Resolver {
	ro := &options{
		prefix:     DefaultPrefix,
		logHandler: noop.LogHandler{},
	}
	for _, opt := range opts {
		opt(ro)
	}
	return &Resolver{
		log:    otelslog.New(ro.logHandler),
		fsys:   fsys,
		prefix: strings.Trim(ro.prefix, "/"),
	}
}

// Normalize turns a raw request URI into the logical asset path, so
// "/a?x=1", "/a" and "\a" all resolve to the same asset.
func Normalize(uri string) string {
	p := strings.TrimSpace(uri)
	p = strings.ReplaceAll(p, `\`, "/")
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	return path.Clean("/" + p)
}

// Resolve opens the asset for uri. The boolean is false when no regular
// file exists for it, in which case the returned file is nil.
func (r *Resolver) Resolve(uri string) (fs.File, bool) {
	name := strings.TrimPrefix(Normalize(uri), "/")
	if r.prefix != "" {
		name = path.Join(r.prefix, name)
	}
	if !fs.ValidPath(name) {
		return nil, false
	}

	f, err := r.fsys.Open(name)
	if err != nil {
		return nil, false
	}

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		f.Close()
		return nil, false
	}
	return f, true
}

// Serve writes the asset for the request, if there is one, and
// reports whether it did. The body is streamed without a Content-Length.
func (r *Resolver) Serve(w http.ResponseWriter, req *http.Request) bool {
	uri := req.URL.Path
	f, ok := r.Resolve(uri)
	if !ok {
		return false
	}

	var err error
	defer func() {
		try.Close(&err, f)
		if err != nil {
			r.log.ErrorContext(req.Context(), "failed to stream asset", slogfield.String("path", uri), slogfield.Error(err))
		}
	}()

	w.Header().Set("Content-Type", static.ContentType(Normalize(uri)))
	w.WriteHeader(http.StatusOK)
	if req.Method == http.MethodHead {
		return true
	}
	_, err = io.Copy(w, f)
	return true
}
