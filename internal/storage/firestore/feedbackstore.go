package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

const DefaultCollection = "push-feedback"

// FeedbackStore implements push.FeedbackStore using Google Cloud Firestore.
// One document is kept per backend and token; a repeated rejection refreshes it.
type FeedbackStore struct {
	client     *firestore.Client
	collection string
}

func NewFeedbackStore(client *firestore.Client, collection string) *FeedbackStore {
	if collection == "" {
		collection = DefaultCollection
	}
	return &FeedbackStore{client: client, collection: collection}
}

func (s *FeedbackStore) Record(ctx context.Context, fb push.TokenFeedback) error {
	if fb.Timestamp.IsZero() {
		fb.Timestamp = time.Now().UTC()
	}
	if _, err := s.client.Collection(s.collection).Doc(docID(fb)).Set(ctx, fb); err != nil {
		return fmt.Errorf("failed to store feedback for %s: %w", fb.Backend, err)
	}
	return nil
}

func (s *FeedbackStore) Recent(ctx context.Context, limit int) ([]push.TokenFeedback, error) {
	iter := s.client.Collection(s.collection).
		OrderBy("timestamp", firestore.Desc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	out := make([]push.TokenFeedback, 0, limit)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var fb push.TokenFeedback
		if err := doc.DataTo(&fb); err != nil {
			continue
		}
		out = append(out, fb)
	}
	return out, nil
}

// docID hashes backend and token so raw tokens never appear in document paths.
func docID(fb push.TokenFeedback) string {
	sum := sha256.Sum256([]byte(fb.Backend + "\x00" + fb.Token))
	return hex.EncodeToString(sum[:])
}
