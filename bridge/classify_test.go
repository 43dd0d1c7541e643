// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package bridge

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	testCases := []struct {
		name        string
		method      string
		target      string
		contentType string
		expected    Route
	}{
		{
			name:     "plain get of a static file",
			method:   http.MethodGet,
			target:   "/index.html",
			expected: RoutePassThrough,
		},
		{
			name:     "get below the dynamic prefix",
			method:   http.MethodGet,
			target:   "/rn/echo?msg=hello",
			expected: RouteDynamic,
		},
		{
			name:        "url encoded post below the dynamic prefix",
			method:      http.MethodPost,
			target:      "/rn/echo",
			contentType: "application/x-www-form-urlencoded",
			expected:    RouteDynamic,
		},
		{
			name:        "multipart post below the dynamic prefix",
			method:      http.MethodPost,
			target:      "/rn/upload",
			contentType: "multipart/form-data; boundary=abc",
			expected:    RouteUpload,
		},
		{
			name:        "multipart post outside the dynamic prefix",
			method:      http.MethodPost,
			target:      "/anything",
			contentType: "multipart/form-data; boundary=abc",
			expected:    RouteUpload,
		},
		{
			name:        "multipart put is not an upload",
			method:      http.MethodPut,
			target:      "/anything",
			contentType: "multipart/form-data; boundary=abc",
			expected:    RoutePassThrough,
		},
		{
			name:     "prefix without trailing slash",
			method:   http.MethodGet,
			target:   "/rn",
			expected: RoutePassThrough,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(tc.method, tc.target, strings.NewReader(""))
			if tc.contentType != "" {
				r.Header.Set("Content-Type", tc.contentType)
			}

			require.Equal(t, tc.expected, Classify(r, DefaultDynamicPrefix))
		})
	}
}

func TestIsDynamic(t *testing.T) {
	require.True(t, IsDynamic("/rn/x", "/rn/"))
	require.False(t, IsDynamic("/rn/x", ""))
	require.False(t, IsDynamic("/static/rn/x", "/rn/"))
}

func TestRoute_String(t *testing.T) {
	require.Equal(t, "passthrough", RoutePassThrough.String())
	require.Equal(t, "upload", RouteUpload.String())
	require.Equal(t, "dynamic", RouteDynamic.String())
}
