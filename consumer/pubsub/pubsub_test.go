// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/z5labs/staticserver/bridge"
	"github.com/z5labs/staticserver/broker"
	"github.com/z5labs/staticserver/queue"

	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/require"
)

type pubsubPublishClientFunc func(context.Context, *pubsubpb.PublishRequest, ...gax.CallOption) (*pubsubpb.PublishResponse, error)

func (f pubsubPublishClientFunc) Publish(ctx context.Context, req *pubsubpb.PublishRequest, opts ...gax.CallOption) (*pubsubpb.PublishResponse, error) {
	return f(ctx, req, opts...)
}

type fakeSubscription struct {
	mu       sync.Mutex
	messages []*pubsubpb.ReceivedMessage
	acked    []string
	err      error
}

func (s *fakeSubscription) Pull(ctx context.Context, req *pubsubpb.PullRequest, _ ...gax.CallOption) (*pubsubpb.PullResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	n := min(int(req.MaxMessages), len(s.messages))
	msgs := s.messages[:n]
	s.messages = s.messages[n:]
	return &pubsubpb.PullResponse{ReceivedMessages: msgs}, nil
}

func (s *fakeSubscription) Acknowledge(ctx context.Context, req *pubsubpb.AcknowledgeRequest, _ ...gax.CallOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = append(s.acked, req.AckIds...)
	return nil
}

func (s *fakeSubscription) ackedIds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.acked...)
}

func replyMessage(t *testing.T, ackId string, reply bridge.Reply) *pubsubpb.ReceivedMessage {
	t.Helper()

	b, err := json.Marshal(reply)
	require.NoError(t, err)
	return &pubsubpb.ReceivedMessage{
		AckId: ackId,
		Message: &pubsubpb.PubsubMessage{
			MessageId: "msg-" + ackId,
			Data:      b,
		},
	}
}

func TestPublisher_Dispatch(t *testing.T) {
	t.Run("will publish the event with its id as attribute", func(t *testing.T) {
		var req *pubsubpb.PublishRequest
		client := pubsubPublishClientFunc(func(ctx context.Context, pr *pubsubpb.PublishRequest, co ...gax.CallOption) (*pubsubpb.PublishResponse, error) {
			req = pr
			return &pubsubpb.PublishResponse{MessageIds: []string{"1"}}, nil
		})

		ev := bridge.Event{ID: "abc", URI: "/rn/x", Files: []string{"/tmp/a"}}
		err := newPublisher(client, "projects/p/topics/events").Dispatch(context.Background(), ev)
		require.NoError(t, err)

		require.Equal(t, "projects/p/topics/events", req.Topic)
		require.Len(t, req.Messages, 1)
		require.Equal(t, "abc", req.Messages[0].Attributes[CorrelationIDAttribute])

		var got bridge.Event
		require.NoError(t, json.Unmarshal(req.Messages[0].Data, &got))
		require.Equal(t, ev, got)
	})

	t.Run("will return an error", func(t *testing.T) {
		t.Run("if pubsub fails to publish", func(t *testing.T) {
			publishErr := errors.New("failed to publish")
			client := pubsubPublishClientFunc(func(ctx context.Context, pr *pubsubpb.PublishRequest, co ...gax.CallOption) (*pubsubpb.PublishResponse, error) {
				return nil, publishErr
			})

			err := newPublisher(client, "t").Dispatch(context.Background(), bridge.Event{ID: "abc"})
			require.ErrorIs(t, err, publishErr)
		})
	})
}

func TestReplyConsumer_Consume(t *testing.T) {
	t.Run("will return ErrNoItem", func(t *testing.T) {
		t.Run("if there are no replies", func(t *testing.T) {
			c := newReplyConsumer(&fakeSubscription{}, "s", newOptions(nil))

			_, err := c.Consume(context.Background())
			require.ErrorIs(t, err, queue.ErrNoItem)
		})
	})

	t.Run("will return the pull error", func(t *testing.T) {
		pullErr := errors.New("failed to pull")
		c := newReplyConsumer(&fakeSubscription{err: pullErr}, "s", newOptions(nil))

		_, err := c.Consume(context.Background())
		require.ErrorIs(t, err, pullErr)
	})
}

func TestReplyProcessor_Process(t *testing.T) {
	t.Run("will fulfil and acknowledge every message", func(t *testing.T) {
		b := broker.New()
		p1, err := b.Register("a")
		require.NoError(t, err)

		sub := &fakeSubscription{}
		proc := newReplyProcessor(sub, "s", b, newOptions(nil))

		err = proc.Process(context.Background(), []*pubsubpb.ReceivedMessage{
			replyMessage(t, "ack-1", bridge.Reply{ID: "a", Body: "hello"}),
			{AckId: "ack-2", Message: &pubsubpb.PubsubMessage{Data: []byte("{")}},
		})
		require.NoError(t, err)

		out := p1.Wait(context.Background(), time.Second)
		require.Equal(t, broker.Outcome{Kind: broker.Fulfilled, Payload: "hello"}, out)
		require.Equal(t, []string{"ack-1", "ack-2"}, sub.ackedIds())
	})
}

func TestReplies(t *testing.T) {
	t.Run("will deliver replies until cancelled", func(t *testing.T) {
		b := broker.New()
		p, err := b.Register("r1")
		require.NoError(t, err)

		sub := &fakeSubscription{
			messages: []*pubsubpb.ReceivedMessage{replyMessage(t, "ack-1", bridge.Reply{ID: "r1", Body: "pong"})},
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		done := make(chan error, 1)
		go func() {
			done <- replies(sub, "s", b).Run(ctx)
		}()

		out := p.Wait(context.Background(), 5*time.Second)
		require.Equal(t, "pong", out.Payload)

		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("replies runtime did not stop")
		}
		require.Equal(t, []string{"ack-1"}, sub.ackedIds())
	})
}
