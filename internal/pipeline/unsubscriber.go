package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/tinywideclouds/go-push-relay/internal/queue"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

// Publisher sends one encoded event to the unsubscribe topic.
type Publisher interface {
	Publish(ctx context.Context, data []byte) error
}

// PubsubPublisher publishes to a Pub/Sub topic and waits for the server ack.
type PubsubPublisher struct {
	publisher *pubsub.Publisher
}

func NewPubsubPublisher(publisher *pubsub.Publisher) *PubsubPublisher {
	return &PubsubPublisher{publisher: publisher}
}

func (p *PubsubPublisher) Publish(ctx context.Context, data []byte) error {
	result := p.publisher.Publish(ctx, &pubsub.Message{Data: data})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("failed to publish unsubscribe event: %w", err)
	}
	return nil
}

// Stop flushes and releases the underlying publisher.
func (p *PubsubPublisher) Stop() {
	p.publisher.Stop()
}

// drainTimeout bounds the final flush after Run's context ends.
const drainTimeout = 5 * time.Second

// Unsubscriber moves unsubscribe signals off the backend workers. Notify only
// queues; Run publishes each signal and records it in the sink.
type Unsubscriber struct {
	pending   *queue.Queue[push.TokenFeedback]
	publisher Publisher
	sink      push.FeedbackSink
	logger    *slog.Logger
}

// NewUnsubscriber creates an Unsubscriber. publisher and sink may be nil.
func NewUnsubscriber(publisher Publisher, sink push.FeedbackSink, logger *slog.Logger) *Unsubscriber {
	return &Unsubscriber{
		pending:   queue.New[push.TokenFeedback](),
		publisher: publisher,
		sink:      sink,
		logger:    logger.With("component", "Unsubscriber"),
	}
}

func (u *Unsubscriber) Notify(feedback push.TokenFeedback) {
	u.pending.Push(feedback)
}

// Pending is the number of signals not yet handled.
func (u *Unsubscriber) Pending() int {
	return u.pending.Len()
}

// Run handles signals until ctx is done, then flushes whatever is still queued.
func (u *Unsubscriber) Run(ctx context.Context) {
loop:
	for {
		items, err := u.pending.TakeAll(ctx)
		if err != nil {
			break
		}
		for i, fb := range items {
			if ctx.Err() != nil {
				u.pending.PushFront(items[i:]...)
				break loop
			}
			u.handleOne(ctx, fb)
		}
	}

	left := u.pending.Drain()
	if len(left) == 0 {
		return
	}
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()
	u.logger.Info("Flushing unsubscribe signals", "count", len(left))
	for _, fb := range left {
		u.handle(flushCtx, fb)
	}
}

// handleOne detaches from ctx so that a signal already in hand is not lost to
// a cancellation midway through publishing it.
func (u *Unsubscriber) handleOne(ctx context.Context, fb push.TokenFeedback) {
	itemCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()
	u.handle(itemCtx, fb)
}

func (u *Unsubscriber) handle(ctx context.Context, fb push.TokenFeedback) {
	log := u.logger.With("backend", fb.Backend, "recipient", fb.Recipient)

	if u.publisher != nil {
		data, err := json.Marshal(fb)
		if err != nil {
			log.Error("Failed to encode unsubscribe event", "err", err)
		} else if err := u.publisher.Publish(ctx, data); err != nil {
			log.Error("Failed to publish unsubscribe event", "err", err)
		}
	}
	if u.sink != nil {
		if err := u.sink.Record(ctx, fb); err != nil {
			log.Warn("Failed to record token feedback", "err", err)
		}
	}
	log.Info("Device token unsubscribed")
}
