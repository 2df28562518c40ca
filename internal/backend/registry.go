package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

var ErrUnknownBackend = errors.New("unknown backend")

// Registry routes notifications to backends by id and manages their lifecycle.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]*Backend
	order    []string
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		backends: make(map[string]*Backend),
		logger:   logger.With("component", "BackendRegistry"),
	}
}

// Register adds a backend. Ids must be unique.
func (r *Registry) Register(b *Backend) error {
	id := b.Identity().ID()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.backends[id]; exists {
		return fmt.Errorf("backend %q already registered", id)
	}
	r.backends[id] = b
	r.order = append(r.order, id)
	return nil
}

func (r *Registry) Get(id string) (*Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[id]
	return b, ok
}

// Enqueue implements push.Enqueuer.
func (r *Registry) Enqueue(backendID string, notifications ...push.Notification) error {
	b, ok := r.Get(backendID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownBackend, backendID)
	}
	return b.Enqueue(notifications...)
}

// StartAll starts every registered backend.
func (r *Registry) StartAll(ctx context.Context) error {
	for _, b := range r.list() {
		if err := b.Start(ctx); err != nil {
			return fmt.Errorf("starting backend %s: %w", b.Identity(), err)
		}
	}
	r.logger.Info("All backends started", "count", len(r.order))
	return nil
}

// StopAll stops every backend concurrently and returns the abandoned
// notifications by backend id.
func (r *Registry) StopAll(ctx context.Context) (map[string]push.Batch, error) {
	backends := r.list()

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		abandoned = make(map[string]push.Batch)
		errs      []error
	)
	for _, b := range backends {
		wg.Add(1)
		go func(b *Backend) {
			defer wg.Done()
			left, err := b.Stop(ctx)
			mu.Lock()
			defer mu.Unlock()
			if len(left) > 0 {
				abandoned[b.Identity().ID()] = left
			}
			if err != nil {
				errs = append(errs, err)
			}
		}(b)
	}
	wg.Wait()
	return abandoned, errors.Join(errs...)
}

// Stats returns one snapshot per backend in registration order.
func (r *Registry) Stats() []Stats {
	backends := r.list()
	stats := make([]Stats, 0, len(backends))
	for _, b := range backends {
		stats = append(stats, b.Stats())
	}
	return stats
}

func (r *Registry) list() []*Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Backend, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.backends[id])
	}
	return out
}

// Identity returns the identity of the backend registered under id.
func (r *Registry) Identity(id string) (push.Identity, bool) {
	b, ok := r.Get(id)
	if !ok {
		return push.Identity{}, false
	}
	return b.Identity(), true
}
