package push

import (
	"context"
	"time"
)

// Sender is the only provider-specific part of a backend.
//
// Every notification of the input batch must be accounted for: it is either
// absent from the returned retry set (delivered, or permanently failed with
// Unsubscribe already called) or present unchanged (transient failure). Send
// never calls Unsubscribe for a notification it returns for retry, and never
// returns an error: failures are folded into those two outcomes.
type Sender interface {
	Send(ctx context.Context, batch Batch) Batch
}

// Enqueuer accepts notifications for asynchronous delivery. Enqueue never
// blocks on delivery and is safe for concurrent use.
type Enqueuer interface {
	Enqueue(backendID string, notifications ...Notification) error
}

// TokenFeedback records that a provider permanently rejected a device token.
type TokenFeedback struct {
	Backend   string    `json:"backend" firestore:"backend"`
	Kind      Kind      `json:"kind" firestore:"kind"`
	Recipient string    `json:"recipient" firestore:"recipient"`
	Token     string    `json:"token" firestore:"token"`
	Timestamp time.Time `json:"timestamp" firestore:"timestamp"`
}

// FeedbackSink persists token feedback for operators and the XMPP component.
type FeedbackSink interface {
	Record(ctx context.Context, feedback TokenFeedback) error
}

// FeedbackStore is a FeedbackSink that can also list what it holds, newest first.
type FeedbackStore interface {
	FeedbackSink
	Recent(ctx context.Context, limit int) ([]TokenFeedback, error)
}
