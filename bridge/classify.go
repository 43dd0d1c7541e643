// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package bridge

import (
	"net/http"
	"strings"

	"github.com/z5labs/staticserver/upload"
)

// DefaultDynamicPrefix marks request paths which are answered by the consumer.
const DefaultDynamicPrefix = "/rn/"

// Route is the decision taken for an incoming request.
type Route int

const (
	// RoutePassThrough requests are served from assets or the document root.
	RoutePassThrough Route = iota

	// RouteUpload requests carry a multipart body which may contain files.
	RouteUpload

	// RouteDynamic requests are forwarded to the consumer and wait for its reply.
	RouteDynamic
)

// String implements the [fmt.Stringer] interface.
func (r Route) String() string {
	switch r {
	case RouteUpload:
		return "upload"
	case RouteDynamic:
		return "dynamic"
	default:
		return "passthrough"
	}
}

// Classify decides how a request is routed by looking only at its
// method, path and headers. The body is never touched.
//
// A multipart POST is classified as [RouteUpload] even if it turns out
// to carry no files; the handler refines that once the body is read.
func Classify(r *http.Request, dynamicPrefix string) Route {
	if r.Method == http.MethodPost && upload.IsMultipart(r) {
		return RouteUpload
	}
	if IsDynamic(r.URL.Path, dynamicPrefix) {
		return RouteDynamic
	}
	return RoutePassThrough
}

// IsDynamic reports whether path carries the dynamic prefix.
func IsDynamic(path, prefix string) bool {
	return prefix != "" && strings.HasPrefix(path, prefix)
}
