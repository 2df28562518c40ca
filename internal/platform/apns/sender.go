package apns

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sideshow/apns2"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

// Sender submits each notification over the session and resolves it from the
// session's feedback channel.
type Sender struct {
	session         Session
	topic           string
	maxPayload      int
	feedbackTimeout time.Duration
	logger          *slog.Logger
}

// NewSender creates a sender for the app identified by topic (its bundle id).
// A zero feedbackTimeout means 10s.
func NewSender(session Session, topic string, feedbackTimeout time.Duration, logger *slog.Logger) *Sender {
	if feedbackTimeout <= 0 {
		feedbackTimeout = defaultTimeout
	}
	return &Sender{
		session:         session,
		topic:           topic,
		maxPayload:      MaxPayloadSize,
		feedbackTimeout: feedbackTimeout,
		logger:          logger.With("component", "APNSSender"),
	}
}

type attempt struct {
	resolved bool
	retry    bool
}

// Send connects lazily, submits the batch and waits for every verdict. On a
// session failure, or if verdicts stop arriving, the session is dropped and
// every unresolved notification is returned for retry.
func (s *Sender) Send(ctx context.Context, batch push.Batch) push.Batch {
	if len(batch) == 0 {
		return nil
	}

	if !s.session.Connected() {
		if err := s.session.Connect(ctx); err != nil {
			s.logger.Error("APNs connect failed; requeueing batch", "count", len(batch), "err", err)
			return batch
		}
	}

	attempts := make([]attempt, len(batch))
	outstanding := make(map[string]int, len(batch))

	for i, n := range batch {
		note := s.notification(n)
		outstanding[note.ApnsID] = i

		if err := s.session.Submit(ctx, note); err != nil {
			s.logger.Warn("APNs session failed; disconnecting", "token", n.ShortToken(), "err", err)
			s.session.Disconnect()
			return s.retrySet(batch, attempts)
		}
		s.drain(batch, attempts, outstanding)
	}

	if !s.await(ctx, batch, attempts, outstanding) {
		s.logger.Warn("APNs feedback overdue; disconnecting", "missing", len(outstanding))
		s.session.Disconnect()
	}
	return s.retrySet(batch, attempts)
}

// Close releases the provider session.
func (s *Sender) Close() error {
	s.session.Disconnect()
	return nil
}

func (s *Sender) notification(n push.Notification) *apns2.Notification {
	body, silent := BuildPayload(n.Payload, s.maxPayload)
	if silent {
		s.logger.Debug("Payload exceeds provider limit; sending silent push", "token", n.ShortToken())
	}
	return &apns2.Notification{
		ApnsID:      uuid.NewString(),
		DeviceToken: HexToken(n.Token),
		Topic:       s.topic,
		Expiration:  time.Now().Add(push.NotificationExpireTime),
		Priority:    apns2.PriorityLow,
		PushType:    apns2.PushTypeBackground,
		Payload:     body,
	}
}

// drain applies every verdict already waiting without blocking.
func (s *Sender) drain(batch push.Batch, attempts []attempt, outstanding map[string]int) {
	for {
		select {
		case fb := <-s.session.Feedback():
			s.apply(fb, batch, attempts, outstanding)
		default:
			return
		}
	}
}

// await blocks until every outstanding verdict arrived. It reports false on timeout.
func (s *Sender) await(ctx context.Context, batch push.Batch, attempts []attempt, outstanding map[string]int) bool {
	if len(outstanding) == 0 {
		return true
	}
	timer := time.NewTimer(s.feedbackTimeout)
	defer timer.Stop()

	for len(outstanding) > 0 {
		select {
		case fb := <-s.session.Feedback():
			s.apply(fb, batch, attempts, outstanding)
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func (s *Sender) apply(fb Feedback, batch push.Batch, attempts []attempt, outstanding map[string]int) {
	i, ok := outstanding[fb.ApnsID]
	if !ok {
		s.logger.Debug("Ignoring feedback for an earlier batch", "apns_id", fb.ApnsID)
		return
	}
	delete(outstanding, fb.ApnsID)
	n := batch[i]
	attempts[i].resolved = true

	switch {
	case fb.Sent():
		s.logger.Debug("APNs accepted notification", "token", n.ShortToken())
	case isDeadToken(fb.Reason):
		s.logger.Info("APNs reports dead token; unsubscribing", "token", n.ShortToken(), "reason", fb.Reason)
		n.Unsubscribe()
	case fb.StatusCode == http.StatusTooManyRequests || fb.StatusCode >= 500:
		s.logger.Info("APNs deferred notification", "token", n.ShortToken(), "status", fb.StatusCode, "reason", fb.Reason)
		attempts[i].retry = true
	default:
		// The token may be fine; certificate, topic or payload problems are ours.
		s.logger.Error("APNs rejected notification; keeping token for retry", "token", n.ShortToken(), "status", fb.StatusCode, "reason", fb.Reason)
		attempts[i].retry = true
	}
}

func (s *Sender) retrySet(batch push.Batch, attempts []attempt) push.Batch {
	var retry push.Batch
	for i, a := range attempts {
		if !a.resolved || a.retry {
			retry = append(retry, batch[i])
		}
	}
	return retry
}

func isDeadToken(reason string) bool {
	switch reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
		return true
	}
	return false
}
