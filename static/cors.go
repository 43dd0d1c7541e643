// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package static

import (
	"net/http"
	"strconv"
)

// AnyOrigin allows every origin to read the served files.
const AnyOrigin = "*"

const (
	allowedHeaders = "origin,accept,content-type"
	allowedMethods = "GET, POST, PUT, DELETE, OPTIONS, HEAD"
	corsMaxAge     = 42 * 60 * 60
)

// AllowOrigin adds CORS headers for origin to every response of next and
// answers preflight (OPTIONS) requests itself, so pages served from other
// origins, such as an app's web view, can fetch files from the server.
func AllowOrigin(origin string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Headers", allowedHeaders)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Allow-Methods", allowedMethods)
		h.Set("Access-Control-Max-Age", strconv.Itoa(corsMaxAge))
		if origin != AnyOrigin {
			h.Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			h.Set("Content-Length", "0")
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
