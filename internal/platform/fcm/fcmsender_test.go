package fcm_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-relay/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

// MockClient satisfies the MessagingClient interface
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Send(ctx context.Context, msg *messaging.Message) (string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func byToken(token string) any {
	return mock.MatchedBy(func(msg *messaging.Message) bool { return msg.Token == token })
}

func TestFCMSend_Lifecycle(t *testing.T) {
	logger := newTestLogger()
	ctx := context.Background()

	t.Run("Empty batch", func(t *testing.T) {
		mockClient := new(MockClient)
		sender := fcm.NewSender(mockClient, 0, logger)

		assert.Empty(t, sender.Send(ctx, nil))
		mockClient.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	})

	t.Run("Happy Path - All Success", func(t *testing.T) {
		mockClient := new(MockClient)
		sender := fcm.NewSender(mockClient, 0, logger)

		mockClient.On("Send", mock.Anything, mock.MatchedBy(func(msg *messaging.Message) bool {
			return msg.Token == "token-1" &&
				msg.Data["message-count"] == "4" &&
				msg.Android != nil && *msg.Android.TTL == push.NotificationExpireTime
		})).Return("projects/p/messages/1", nil)
		mockClient.On("Send", mock.Anything, byToken("token-2")).Return("projects/p/messages/2", nil)

		batch := push.Batch{
			push.NewNotification("r", "token-1", push.Payload{{Key: "message-count", Value: "4"}}, nil),
			push.NewNotification("r", "token-2", nil, nil),
		}

		assert.Empty(t, sender.Send(ctx, batch))
		mockClient.AssertExpectations(t)
	})

	t.Run("Transport Failure aborts the rest of the batch", func(t *testing.T) {
		mockClient := new(MockClient)
		sender := fcm.NewSender(mockClient, 0, logger)
		unsubscribed := 0

		mockClient.On("Send", mock.Anything, byToken("token-1")).Return("projects/p/messages/1", nil)
		mockClient.On("Send", mock.Anything, byToken("token-2")).Return("", errors.New("network down"))

		batch := push.Batch{
			push.NewNotification("r", "token-1", nil, func() { unsubscribed++ }),
			push.NewNotification("r", "token-2", nil, func() { unsubscribed++ }),
			push.NewNotification("r", "token-3", nil, func() { unsubscribed++ }),
		}
		retry := sender.Send(ctx, batch)

		require.Len(t, retry, 2)
		assert.Equal(t, "token-2", retry[0].Token)
		assert.Equal(t, "token-3", retry[1].Token)
		assert.Zero(t, unsubscribed)
		mockClient.AssertNotCalled(t, "Send", mock.Anything, byToken("token-3"))
	})

	// Note: the SDK's typed errors (not-registered, unavailable) cannot be
	// constructed outside the SDK, so their mapping is not unit tested here.
}

func TestData(t *testing.T) {
	data := fcm.Data(push.Payload{{Key: "a", Value: "1"}, {Key: "b", Value: "x"}})
	assert.Equal(t, map[string]string{"a": "1", "b": "x"}, data)

	huge := fcm.Data(push.Payload{{Key: "body", Value: strings.Repeat("q", fcm.MaxDataSize)}})
	assert.Empty(t, huge)
	assert.NotNil(t, huge)
}
