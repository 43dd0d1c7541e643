// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package httpvalidate

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandler_ServeHTTP(t *testing.T) {
	t.Run("will not run base handler", func(t *testing.T) {
		t.Run("if any validator fails", func(t *testing.T) {
			called := false
			h := Request(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					called = true
				}),
				ValidatorFunc(func(w http.ResponseWriter, r *http.Request) bool {
					w.WriteHeader(http.StatusInternalServerError)
					return false
				}),
			)

			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "http://example.com", nil)

			h.ServeHTTP(w, r)

			require.Equal(t, http.StatusInternalServerError, w.Result().StatusCode)
			require.False(t, called)
		})
	})

	t.Run("will run base handler", func(t *testing.T) {
		t.Run("if all validators pass", func(t *testing.T) {
			h := Request(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusAccepted)
				}),
				ValidatorFunc(func(w http.ResponseWriter, r *http.Request) bool {
					return true
				}),
			)

			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "http://example.com", nil)

			h.ServeHTTP(w, r)

			require.Equal(t, http.StatusAccepted, w.Result().StatusCode)
		})
	})
}

func TestForMethods(t *testing.T) {
	testCases := []struct {
		method   string
		expected int
	}{
		{method: http.MethodGet, expected: http.StatusOK},
		{method: http.MethodHead, expected: http.StatusOK},
		{method: http.MethodPost, expected: http.StatusMethodNotAllowed},
		{method: http.MethodDelete, expected: http.StatusMethodNotAllowed},
	}

	for _, tc := range testCases {
		t.Run(tc.method, func(t *testing.T) {
			h := Request(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusOK)
				}),
				ForMethods(http.MethodGet, http.MethodHead),
			)

			w := httptest.NewRecorder()
			r := httptest.NewRequest(tc.method, "http://example.com", nil)

			h.ServeHTTP(w, r)

			require.Equal(t, tc.expected, w.Result().StatusCode)
			if tc.expected == http.StatusMethodNotAllowed {
				require.Equal(t, "GET, HEAD", w.Header().Get("Allow"))
			}
		})
	}
}

func TestMaxBodyBytes(t *testing.T) {
	t.Run("will return 413", func(t *testing.T) {
		t.Run("if the announced body is too large", func(t *testing.T) {
			h := Request(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusOK)
				}),
				MaxBodyBytes(4),
			)

			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "http://example.com", strings.NewReader("too long"))

			h.ServeHTTP(w, r)

			require.Equal(t, http.StatusRequestEntityTooLarge, w.Result().StatusCode)
		})
	})

	t.Run("will cap bodies of unknown length", func(t *testing.T) {
		var readErr error
		h := Request(
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, readErr = io.ReadAll(r.Body)
			}),
			MaxBodyBytes(4),
		)

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "http://example.com", strings.NewReader("too long"))
		r.ContentLength = -1

		h.ServeHTTP(w, r)

		var merr *http.MaxBytesError
		require.True(t, errors.As(readErr, &merr))
	})
}
