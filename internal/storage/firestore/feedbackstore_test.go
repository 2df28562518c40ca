//go:build integration

package firestore_test

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fs "github.com/tinywideclouds/go-push-relay/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

func setupSuite(t *testing.T) (context.Context, *fs.FeedbackStore) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	projectID := "test-feedback-store"
	conn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	client, err := firestore.NewClient(ctx, projectID, conn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return ctx, fs.NewFeedbackStore(client, "")
}

func TestFeedbackStore_Integration(t *testing.T) {
	ctx, store := setupSuite(t)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Records newest first", func(t *testing.T) {
		require.NoError(t, store.Record(ctx, push.TokenFeedback{
			Backend: "capulet.lit/chat", Kind: push.KindFCM, Recipient: "juliet@capulet.lit", Token: "old", Timestamp: base,
		}))
		require.NoError(t, store.Record(ctx, push.TokenFeedback{
			Backend: "capulet.lit/ios", Kind: push.KindAPNS, Recipient: "juliet@capulet.lit", Token: "AQI=", Timestamp: base.Add(time.Minute),
		}))

		got, err := store.Recent(ctx, 10)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "AQI=", got[0].Token)
		assert.Equal(t, push.KindAPNS, got[0].Kind)
		assert.Equal(t, "old", got[1].Token)
	})

	t.Run("Repeated rejection refreshes the same document", func(t *testing.T) {
		require.NoError(t, store.Record(ctx, push.TokenFeedback{
			Backend: "capulet.lit/chat", Kind: push.KindFCM, Recipient: "juliet@capulet.lit", Token: "old", Timestamp: base.Add(time.Hour),
		}))

		got, err := store.Recent(ctx, 10)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "old", got[0].Token)
	})

	t.Run("Limit is honoured", func(t *testing.T) {
		got, err := store.Recent(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})
}
