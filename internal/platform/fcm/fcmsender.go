// Package fcm implements the FCM HTTP v1 backend on top of the Firebase Admin SDK.
package fcm

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

// MaxDataSize is the v1 API limit for the data section of a message.
const MaxDataSize = 4096

// MessagingClient defines the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it.
type MessagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

type Sender struct {
	client  MessagingClient
	timeout time.Duration
	logger  *slog.Logger
}

// NewSender wraps a messaging client. A zero timeout means 10s per call.
func NewSender(client MessagingClient, timeout time.Duration, logger *slog.Logger) *Sender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sender{
		client:  client,
		timeout: timeout,
		logger:  logger.With("component", "FCMv1Sender"),
	}
}

// Send delivers one message per token. Errors the SDK cannot attribute to the
// token or the service are treated as transport failures and abort the batch.
func (s *Sender) Send(ctx context.Context, batch push.Batch) push.Batch {
	var retry push.Batch

	for i, n := range batch {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		msgID, err := s.client.Send(callCtx, s.message(n))
		cancel()

		switch {
		case err == nil:
			s.logger.Debug("FCM accepted message", "token", n.ShortToken(), "message_id", msgID)
		case isDeadToken(err):
			s.logger.Info("FCM reports dead token; unsubscribing", "token", n.ShortToken(), "err", err)
			n.Unsubscribe()
		case isTransient(err):
			s.logger.Info("FCM deferred message", "token", n.ShortToken(), "err", err)
			retry = append(retry, n)
		default:
			s.logger.Warn("FCM transport failed; requeueing rest of batch", "token", n.ShortToken(), "requeued", len(batch)-i, "err", err)
			return append(retry, batch[i:]...)
		}
	}
	return retry
}

func (s *Sender) message(n push.Notification) *messaging.Message {
	ttl := push.NotificationExpireTime
	return &messaging.Message{
		Token:   n.Token,
		Data:    Data(n.Payload),
		Android: &messaging.AndroidConfig{TTL: &ttl},
	}
}

// Data converts the payload to the string map the v1 API requires, falling
// back to an empty map when the encoded data would exceed MaxDataSize.
func Data(payload push.Payload) map[string]string {
	data := make(map[string]string, len(payload))
	for _, f := range payload {
		data[f.Key] = f.Value
	}
	if encoded, err := json.Marshal(data); err != nil || len(encoded) > MaxDataSize {
		return map[string]string{}
	}
	return data
}

func isDeadToken(err error) bool {
	return messaging.IsRegistrationTokenNotRegistered(err) ||
		messaging.IsInvalidArgument(err) ||
		messaging.IsSenderIDMismatch(err)
}

func isTransient(err error) bool {
	return messaging.IsUnavailable(err) ||
		messaging.IsInternal(err) ||
		messaging.IsQuotaExceeded(err)
}
