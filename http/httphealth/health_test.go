// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package httphealth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/z5labs/staticserver/pkg/health"

	"github.com/stretchr/testify/require"
)

type healthMetricHandler struct {
	health.Metric
	http.Handler
}

func TestNewHandler(t *testing.T) {
	t.Run("will return the metric", func(t *testing.T) {
		t.Run("if it implements http.Handler", func(t *testing.T) {
			m := healthMetricHandler{
				Metric: health.MetricFunc(func(ctx context.Context) bool {
					return true
				}),
				Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusAccepted)
				}),
			}

			h := NewHandler(m)
			require.IsType(t, m, h)

			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example.com", nil))
			require.Equal(t, http.StatusAccepted, w.Result().StatusCode)
		})
	})

	testCases := []struct {
		name     string
		healthy  bool
		expected int
	}{
		{name: "will return 200 if healthy", healthy: true, expected: http.StatusOK},
		{name: "will return 503 if unhealthy", healthy: false, expected: http.StatusServiceUnavailable},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := &health.Binary{}
			m.Set(tc.healthy)

			w := httptest.NewRecorder()
			NewHandler(m).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example.com", nil))

			require.Equal(t, tc.expected, w.Result().StatusCode)
		})
	}
}
