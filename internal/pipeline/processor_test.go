package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-relay/internal/backend"
	"github.com/tinywideclouds/go-push-relay/internal/pipeline"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockRouter struct {
	mock.Mock
}

func (m *mockRouter) Enqueue(backendID string, notifications ...push.Notification) error {
	args := m.Called(backendID, notifications)
	return args.Error(0)
}

func (m *mockRouter) Identity(backendID string) (push.Identity, bool) {
	args := m.Called(backendID)
	return args.Get(0).(push.Identity), args.Bool(1)
}

type collectingNotifier struct {
	mu  sync.Mutex
	got []push.TokenFeedback
}

func (c *collectingNotifier) Notify(fb push.TokenFeedback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, fb)
}

func TestProcessor_Routing(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	fcmID := push.Identity{Kind: push.KindFCM, Host: "capulet.lit", AppName: "chat"}

	t.Run("Enqueues onto the addressed backend", func(t *testing.T) {
		router := new(mockRouter)
		notifier := &collectingNotifier{}

		var captured []push.Notification
		router.On("Identity", "capulet.lit/chat").Return(fcmID, true)
		router.On("Enqueue", "capulet.lit/chat", mock.Anything).Run(func(args mock.Arguments) {
			captured = args.Get(1).([]push.Notification)
		}).Return(nil)

		processor := pipeline.NewProcessor(router, notifier, logger)
		err := processor(ctx, messagepipeline.Message{}, &pipeline.Record{
			Backend:   "capulet.lit/chat",
			Recipient: "juliet@capulet.lit",
			Token:     "fcm-123",
			Payload:   push.Payload{{Key: "message-count", Value: "1"}},
		})

		require.NoError(t, err)
		router.AssertExpectations(t)
		require.Len(t, captured, 1)
		n := captured[0]
		assert.Equal(t, "juliet@capulet.lit", n.Recipient)
		assert.Equal(t, "fcm-123", n.Token)

		// The callback reaches the notifier exactly once.
		n.Unsubscribe()
		n.Unsubscribe()
		require.Len(t, notifier.got, 1)
		fb := notifier.got[0]
		assert.Equal(t, "capulet.lit/chat", fb.Backend)
		assert.Equal(t, push.KindFCM, fb.Kind)
		assert.Equal(t, "fcm-123", fb.Token)
		assert.False(t, fb.Timestamp.IsZero())
	})

	t.Run("Binary token feedback keeps the record form", func(t *testing.T) {
		router := new(mockRouter)
		notifier := &collectingNotifier{}
		apnsID := push.Identity{Kind: push.KindAPNS, Host: "capulet.lit", AppName: "ios"}

		var captured []push.Notification
		router.On("Identity", "capulet.lit/ios").Return(apnsID, true)
		router.On("Enqueue", "capulet.lit/ios", mock.Anything).Run(func(args mock.Arguments) {
			captured = args.Get(1).([]push.Notification)
		}).Return(nil)

		processor := pipeline.NewProcessor(router, notifier, logger)
		require.NoError(t, processor(ctx, messagepipeline.Message{}, &pipeline.Record{
			Backend: "capulet.lit/ios", Recipient: "juliet@capulet.lit", BinaryToken: "Af8=",
		}))

		require.Len(t, captured, 1)
		assert.Equal(t, "\x01\xff", captured[0].Token)
		captured[0].Unsubscribe()
		require.Len(t, notifier.got, 1)
		assert.Equal(t, "Af8=", notifier.got[0].Token)
	})

	t.Run("Unknown backend is an error", func(t *testing.T) {
		router := new(mockRouter)
		router.On("Identity", "nowhere/none").Return(push.Identity{}, false)

		processor := pipeline.NewProcessor(router, &collectingNotifier{}, logger)
		err := processor(ctx, messagepipeline.Message{}, &pipeline.Record{Backend: "nowhere/none", Recipient: "r", Token: "t"})

		assert.ErrorIs(t, err, backend.ErrUnknownBackend)
		router.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
	})

	t.Run("Stopped backend is an error", func(t *testing.T) {
		router := new(mockRouter)
		router.On("Identity", "capulet.lit/chat").Return(fcmID, true)
		router.On("Enqueue", "capulet.lit/chat", mock.Anything).Return(backend.ErrStopped)

		processor := pipeline.NewProcessor(router, &collectingNotifier{}, logger)
		err := processor(ctx, messagepipeline.Message{}, &pipeline.Record{Backend: "capulet.lit/chat", Recipient: "r", Token: "t"})

		assert.True(t, errors.Is(err, backend.ErrStopped))
	})
}
