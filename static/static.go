// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package static serves files from the document root.
package static

import (
	"mime"
	"net/http"
	"path"
	"strings"
)

// Content types which the standard library either lacks or gets
// wrong for the e-book and web-app content this server is used for.
var contentTypes = map[string]string{
	"xhtml": "application/xhtml+xml",
	"opf":   "application/oebps-package+xml",
	"ncx":   "application/xml",
	"epub":  "application/epub+zip",
	"otf":   "application/x-font-otf",
	"ttf":   "application/x-font-ttf",
	"js":    "application/javascript",
	"json":  "application/json",
	"svg":   "image/svg+xml",
}

// DefaultContentType is used when nothing is known about an extension.
const DefaultContentType = "application/octet-stream"

// ContentType returns the MIME type for the file at p.
func ContentType(p string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
	if ext == "" {
		return DefaultContentType
	}
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension("." + ext); ct != "" {
		return ct
	}
	return DefaultContentType
}

// Delegate is the fallback [http.Handler] for every request which is
// neither bridged nor found in the bundled assets.
type Delegate struct {
	files http.Handler
}

// NewDelegate returns a [Delegate] serving files below root.
func NewDelegate(root http.FileSystem) *Delegate {
	return &Delegate{
		files: http.FileServer(root),
	}
}

// ServeHTTP implements the [http.Handler] interface.
func (d *Delegate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// http.FileServer keeps a Content-Type which is already set, so the
	// table above takes precedence over content sniffing. Directories
	// are left to the file server.
	if p := r.URL.Path; !strings.HasSuffix(p, "/") && path.Ext(p) != "" {
		w.Header().Set("Content-Type", ContentType(p))
	}
	d.files.ServeHTTP(w, r)
}
