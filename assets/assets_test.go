// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package assets

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	testCases := []struct {
		uri      string
		expected string
	}{
		{uri: "/a", expected: "/a"},
		{uri: "/a?x=1", expected: "/a"},
		{uri: "  /a/b.js  ", expected: "/a/b.js"},
		{uri: `\a\b.js`, expected: "/a/b.js"},
		{uri: "/a/../../etc/passwd", expected: "/etc/passwd"},
		{uri: "", expected: "/"},
	}

	for _, tc := range testCases {
		t.Run(tc.uri, func(t *testing.T) {
			require.Equal(t, tc.expected, Normalize(tc.uri))
		})
	}
}

func TestResolver_Resolve(t *testing.T) {
	fsys := fstest.MapFS{
		"www/index.html":   {Data: []byte("<html>asset</html>")},
		"www/js/app.js":    {Data: []byte("console.log(1)")},
		"www/dir/.keep":    {Data: nil},
		"outside/file.txt": {Data: []byte("nope")},
	}

	testCases := []struct {
		name       string
		resolver   *Resolver
		uri        string
		expectOK   bool
		expectBody string
	}{
		{
			name:       "finds a file below the prefix",
			resolver:   NewResolver(fsys),
			uri:        "/index.html",
			expectOK:   true,
			expectBody: "<html>asset</html>",
		},
		{
			name:       "ignores the query string",
			resolver:   NewResolver(fsys),
			uri:        "/js/app.js?v=2",
			expectOK:   true,
			expectBody: "console.log(1)",
		},
		{
			name:     "does not serve directories",
			resolver: NewResolver(fsys),
			uri:      "/dir",
		},
		{
			name:     "does not escape the prefix",
			resolver: NewResolver(fsys),
			uri:      "/../outside/file.txt",
		},
		{
			name:     "reports missing files",
			resolver: NewResolver(fsys),
			uri:      "/missing.html",
		},
		{
			name:       "supports a custom prefix",
			resolver:   NewResolver(fsys, Prefix("/outside/")),
			uri:        "/file.txt",
			expectOK:   true,
			expectBody: "nope",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f, ok := tc.resolver.Resolve(tc.uri)
			require.Equal(t, tc.expectOK, ok)
			if !ok {
				require.Nil(t, f)
				return
			}
			defer f.Close()

			b, err := io.ReadAll(f)
			require.NoError(t, err)
			require.Equal(t, tc.expectBody, string(b))
		})
	}
}

func TestResolver_Serve(t *testing.T) {
	r := NewResolver(fstest.MapFS{
		"www/book/toc.ncx": {Data: []byte("<ncx/>")},
	})

	t.Run("will stream the asset", func(t *testing.T) {
		t.Run("if it exists", func(t *testing.T) {
			w := httptest.NewRecorder()
			ok := r.Serve(w, httptest.NewRequest(http.MethodGet, "/book/toc.ncx?x=1", nil))
			require.True(t, ok)

			resp := w.Result()
			require.Equal(t, http.StatusOK, resp.StatusCode)
			require.Equal(t, "application/xml", resp.Header.Get("Content-Type"))

			b, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			require.Equal(t, "<ncx/>", string(b))
		})
	})

	t.Run("will not write anything", func(t *testing.T) {
		t.Run("if the asset does not exist", func(t *testing.T) {
			w := httptest.NewRecorder()
			ok := r.Serve(w, httptest.NewRequest(http.MethodGet, "/book/missing.ncx", nil))
			require.False(t, ok)
			require.Zero(t, w.Body.Len())
			require.Empty(t, w.Header())
		})
	})
}
