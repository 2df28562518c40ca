package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-push-relay/internal/backend"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

// Router resolves backend ids and accepts notifications for them.
// *backend.Registry satisfies it.
type Router interface {
	push.Enqueuer
	Identity(backendID string) (push.Identity, bool)
}

// Notifier receives the unsubscribe signal of a permanently failed token.
// It must not block.
type Notifier interface {
	Notify(feedback push.TokenFeedback)
}

// NewProcessor builds the stage that hands each record to its backend. The
// notification's unsubscribe callback only enqueues onto the notifier, so it
// is safe to fire from a backend worker.
func NewProcessor(router Router, notifier Notifier, logger *slog.Logger) messagepipeline.StreamProcessor[Record] {
	logger = logger.With("component", "RecordProcessor")

	return func(ctx context.Context, original messagepipeline.Message, rec *Record) error {
		identity, ok := router.Identity(rec.Backend)
		if !ok {
			logger.Warn("Record addressed to unknown backend", "backend", rec.Backend, "pubsub_msg_id", original.ID)
			return fmt.Errorf("%w: %q", backend.ErrUnknownBackend, rec.Backend)
		}

		token, err := rec.DeviceToken()
		if err != nil {
			return err
		}

		// Binary tokens are reported in their base64 record form.
		reported := rec.Token
		if reported == "" {
			reported = rec.BinaryToken
		}
		feedback := push.TokenFeedback{
			Backend:   identity.ID(),
			Kind:      identity.Kind,
			Recipient: rec.Recipient,
			Token:     reported,
		}
		n := push.NewNotification(rec.Recipient, token, rec.Payload, func() {
			fb := feedback
			fb.Timestamp = time.Now().UTC()
			notifier.Notify(fb)
		})

		if err := router.Enqueue(identity.ID(), n); err != nil {
			logger.Error("Failed to enqueue notification", "backend", identity.ID(), "pubsub_msg_id", original.ID, "err", err)
			return err
		}
		logger.Debug("Notification enqueued", "backend", identity.ID(), "recipient", rec.Recipient, "token", n.ShortToken())
		return nil
	}
}
