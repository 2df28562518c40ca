// Package backend implements the provider-independent half of a push backend:
// the pending queue, the single delivery worker and the retry loop. The
// provider-specific half is a push.Sender.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tinywideclouds/go-push-relay/internal/queue"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

var (
	ErrStopped        = errors.New("backend is stopped")
	ErrAlreadyStarted = errors.New("backend already started")
)

// RetryConfig bounds the pause between a send that left work for retry and the
// next attempt.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig is used for zero fields of a RetryConfig.
var DefaultRetryConfig = RetryConfig{
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     30 * time.Second,
}

// Stats is a point-in-time snapshot of a backend's counters.
type Stats struct {
	ID          string    `json:"id"`
	Kind        push.Kind `json:"kind"`
	Running     bool      `json:"running"`
	Pending     int       `json:"pending"`
	Batches     int64     `json:"batches"`
	Attempted   int64     `json:"attempted"`
	Resolved    int64     `json:"resolved"`
	Retried     int64     `json:"retried"`
	LastBatchAt time.Time `json:"last_batch_at,omitempty"`
}

// Backend owns a pending queue and one worker goroutine that feeds it to a Sender.
//
// Shutdown abandons pending work: Stop aborts any in-flight send through its
// context and hands every notification still pending back to the caller
// without invoking callbacks. A sender that outlives the Stop deadline hands
// its batch back later through Abandoned.
type Backend struct {
	identity push.Identity
	sender   push.Sender
	pending  *queue.Queue[push.Notification]
	retry    RetryConfig
	logger   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	stopped bool
	late    chan push.Batch

	batches     atomic.Int64
	attempted   atomic.Int64
	retried     atomic.Int64
	lastBatchAt atomic.Int64
}

// New creates a stopped backend. Enqueued notifications wait until Start.
func New(identity push.Identity, sender push.Sender, retry RetryConfig, logger *slog.Logger) *Backend {
	if retry.InitialInterval <= 0 {
		retry.InitialInterval = DefaultRetryConfig.InitialInterval
	}
	if retry.MaxInterval <= 0 {
		retry.MaxInterval = DefaultRetryConfig.MaxInterval
	}
	if retry.MaxInterval < retry.InitialInterval {
		retry.MaxInterval = retry.InitialInterval
	}
	return &Backend{
		identity: identity,
		sender:   sender,
		pending:  queue.New[push.Notification](),
		retry:    retry,
		late:     make(chan push.Batch, 1),
		logger:   logger.With("component", "Backend", "backend", identity.ID(), "kind", identity.Kind),
	}
}

func (b *Backend) Identity() push.Identity {
	return b.identity
}

// Enqueue appends notifications to the pending queue and returns immediately.
func (b *Backend) Enqueue(notifications ...push.Notification) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return fmt.Errorf("enqueue to %s: %w", b.identity.ID(), ErrStopped)
	}
	b.pending.Push(notifications...)
	return nil
}

// Start launches the worker. The worker runs until Stop or until ctx is done.
func (b *Backend) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return ErrStopped
	}
	if b.started {
		return ErrAlreadyStarted
	}

	workerCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	b.started = true

	go b.run(workerCtx)
	b.logger.Info("Backend worker started")
	return nil
}

// Stop cancels the worker, waits for it to exit (bounded by ctx), closes the
// sender if it is an io.Closer and returns the abandoned notifications.
// Further Enqueue calls fail with ErrStopped and later Stop calls are no-ops.
//
// If ctx expires first, Stop returns what is pending at that moment together
// with the context error. Whatever the worker still holds is delivered on
// Abandoned once it exits.
func (b *Backend) Stop(ctx context.Context) (push.Batch, error) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil, nil
	}
	b.stopped = true
	started := b.started
	cancel, done := b.cancel, b.done
	b.mu.Unlock()

	if !started {
		defer close(b.late)
		return b.drainAbandoned(), nil
	}

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		go b.finishLate(done)
		return push.Batch(b.pending.Drain()), fmt.Errorf("waiting for %s worker: %w", b.identity.ID(), ctx.Err())
	}

	b.closeSender()
	defer close(b.late)
	return b.drainAbandoned(), nil
}

// Abandoned yields, at most once, the notifications a worker still held when
// a Stop deadline expired. It is closed once the backend is fully stopped.
func (b *Backend) Abandoned() <-chan push.Batch {
	return b.late
}

func (b *Backend) finishLate(done <-chan struct{}) {
	<-done
	b.closeSender()
	left := push.Batch(b.pending.Drain())
	if len(left) > 0 {
		b.logger.Warn("Worker exited after the stop deadline; notifications abandoned", "count", len(left))
		b.late <- left
	}
	close(b.late)
}

func (b *Backend) closeSender() {
	if closer, ok := b.sender.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			b.logger.Warn("Failed to release sender resources", "err", err)
		}
	}
}

func (b *Backend) drainAbandoned() push.Batch {
	abandoned := push.Batch(b.pending.Drain())
	if len(abandoned) > 0 {
		b.logger.Warn("Backend stopped with pending notifications abandoned", "count", len(abandoned))
	} else {
		b.logger.Info("Backend stopped")
	}
	return abandoned
}

// Stats returns a snapshot of the backend counters.
func (b *Backend) Stats() Stats {
	b.mu.Lock()
	running := b.started && !b.stopped
	b.mu.Unlock()

	attempted, retried := b.attempted.Load(), b.retried.Load()
	s := Stats{
		ID:        b.identity.ID(),
		Kind:      b.identity.Kind,
		Running:   running,
		Pending:   b.pending.Len(),
		Batches:   b.batches.Load(),
		Attempted: attempted,
		Resolved:  attempted - retried,
		Retried:   retried,
	}
	if ts := b.lastBatchAt.Load(); ts > 0 {
		s.LastBatchAt = time.Unix(0, ts).UTC()
	}
	return s
}

func (b *Backend) run(ctx context.Context) {
	defer close(b.done)

	bo := b.newBackOff()
	for {
		if ctx.Err() != nil {
			return
		}
		batch, err := b.pending.TakeAll(ctx)
		if err != nil {
			return
		}

		b.batches.Add(1)
		b.attempted.Add(int64(len(batch)))
		b.lastBatchAt.Store(time.Now().UnixNano())

		retry := b.sender.Send(ctx, batch)
		if len(retry) == 0 {
			bo.Reset()
			continue
		}
		b.retried.Add(int64(len(retry)))
		b.pending.PushFront(retry...)
		if ctx.Err() != nil {
			return
		}

		wait := bo.NextBackOff()
		b.logger.Info("Batch left notifications for retry", "batch", len(batch), "retry", len(retry), "backoff", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (b *Backend) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.retry.InitialInterval
	bo.MaxInterval = b.retry.MaxInterval
	bo.RandomizationFactor = 0.2
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}
