package cache

import (
	"context"
	"encoding/json"

	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

const (
	feedbackKey = "pushrelay:feedback"
	// DefaultMaxEntries caps the Redis list.
	DefaultMaxEntries = 1000
)

// ListClient defines the subset of Redis list commands we need.
type ListClient interface {
	Push(ctx context.Context, key string, value interface{}, maxLen int64) error
	Range(ctx context.Context, key string, n int64) ([][]byte, error)
}

// CachedFeedbackStore is a Decorator that mirrors recent feedback into a
// capped Redis list in front of any push.FeedbackStore.
type CachedFeedbackStore struct {
	realStore  push.FeedbackStore
	cache      ListClient
	maxEntries int64
}

func NewCachedFeedbackStore(realStore push.FeedbackStore, cache ListClient, maxEntries int64) *CachedFeedbackStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &CachedFeedbackStore{realStore: realStore, cache: cache, maxEntries: maxEntries}
}

// Record writes to the source of truth first, then to the list.
func (s *CachedFeedbackStore) Record(ctx context.Context, fb push.TokenFeedback) error {
	if err := s.realStore.Record(ctx, fb); err != nil {
		return err
	}
	// Caching is an optimization: Recent falls back to the store.
	_ = s.cache.Push(ctx, feedbackKey, fb, s.maxEntries)
	return nil
}

// Recent serves from the list when it holds enough entries.
func (s *CachedFeedbackStore) Recent(ctx context.Context, limit int) ([]push.TokenFeedback, error) {
	if int64(limit) <= s.maxEntries {
		raw, err := s.cache.Range(ctx, feedbackKey, int64(limit))
		if err == nil && len(raw) == limit {
			out := make([]push.TokenFeedback, 0, len(raw))
			for _, b := range raw {
				var fb push.TokenFeedback
				if err := json.Unmarshal(b, &fb); err != nil {
					break
				}
				out = append(out, fb)
			}
			if len(out) == limit {
				return out, nil
			}
		}
	}
	return s.realStore.Recent(ctx, limit)
}
