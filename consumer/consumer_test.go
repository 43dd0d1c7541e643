// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package consumer

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/z5labs/staticserver/bridge"

	"github.com/stretchr/testify/require"
)

func TestChannel_Dispatch(t *testing.T) {
	t.Run("will deliver the event", func(t *testing.T) {
		c := NewChannel(1)

		err := c.Dispatch(context.Background(), bridge.Event{ID: "a"})
		require.NoError(t, err)

		ev := <-c.Events()
		require.Equal(t, "a", ev.ID)
	})

	t.Run("will return an error", func(t *testing.T) {
		t.Run("if the buffer stays full until the context is done", func(t *testing.T) {
			c := NewChannel(1)
			require.NoError(t, c.Dispatch(context.Background(), bridge.Event{ID: "a"}))

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
			defer cancel()

			err := c.Dispatch(ctx, bridge.Event{ID: "b"})
			require.ErrorIs(t, err, context.DeadlineExceeded)
		})
	})
}

func TestLog_Dispatch(t *testing.T) {
	var buf bytes.Buffer
	l := NewLog(slog.NewJSONHandler(&buf, nil))

	err := l.Dispatch(context.Background(), bridge.Event{ID: "abc", URI: "/rn/x"})
	require.NoError(t, err)
	require.Contains(t, buf.String(), `"id":"abc"`)
	require.Contains(t, buf.String(), `"uri":"/rn/x"`)
}
