// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package static

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContentType(t *testing.T) {
	testCases := []struct {
		path     string
		expected string
	}{
		{path: "/book/chapter.xhtml", expected: "application/xhtml+xml"},
		{path: "/book/content.opf", expected: "application/oebps-package+xml"},
		{path: "/book/toc.ncx", expected: "application/xml"},
		{path: "/moby-dick.epub", expected: "application/epub+zip"},
		{path: "/fonts/a.otf", expected: "application/x-font-otf"},
		{path: "/fonts/a.TTF", expected: "application/x-font-ttf"},
		{path: "/app.js", expected: "application/javascript"},
		{path: "/data.json", expected: "application/json"},
		{path: "/logo.svg", expected: "image/svg+xml"},
		{path: "/index.html", expected: "text/html; charset=utf-8"},
		{path: "/README", expected: DefaultContentType},
		{path: "/blob.nope-not-a-type", expected: DefaultContentType},
	}

	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			require.Equal(t, tc.expected, ContentType(tc.path))
		})
	}
}

func TestDelegate_ServeHTTP(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "chapter.xhtml"), []byte("<html/>"), 0o644))

	d := NewDelegate(http.Dir(root))

	testCases := []struct {
		name         string
		path         string
		expectStatus int
		expectType   string
		expectBody   string
	}{
		{
			name:         "serves a file with the mapped content type",
			path:         "/chapter.xhtml",
			expectStatus: http.StatusOK,
			expectType:   "application/xhtml+xml",
			expectBody:   "<html/>",
		},
		{
			name:         "responds not found for a missing file",
			path:         "/missing.xhtml",
			expectStatus: http.StatusNotFound,
			expectType:   "text/plain; charset=utf-8",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			d.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.path, nil))

			resp := w.Result()
			require.Equal(t, tc.expectStatus, resp.StatusCode)
			require.Equal(t, tc.expectType, resp.Header.Get("Content-Type"))
			if tc.expectBody == "" {
				return
			}
			b, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			require.Equal(t, tc.expectBody, string(b))
		})
	}
}
