package cache_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-relay/internal/storage/cache"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

// --- Mocks ---
type MockList struct {
	mock.Mock
}

func (m *MockList) Push(ctx context.Context, key string, value interface{}, maxLen int64) error {
	return m.Called(ctx, key, value, maxLen).Error(0)
}

func (m *MockList) Range(ctx context.Context, key string, n int64) ([][]byte, error) {
	args := m.Called(ctx, key, n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]byte), args.Error(1)
}

type MockRealStore struct {
	mock.Mock
}

func (m *MockRealStore) Record(ctx context.Context, fb push.TokenFeedback) error {
	return m.Called(ctx, fb).Error(0)
}

func (m *MockRealStore) Recent(ctx context.Context, limit int) ([]push.TokenFeedback, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]push.TokenFeedback), args.Error(1)
}

func encoded(t *testing.T, fbs ...push.TokenFeedback) [][]byte {
	t.Helper()
	out := make([][]byte, 0, len(fbs))
	for _, fb := range fbs {
		b, err := json.Marshal(fb)
		require.NoError(t, err)
		out = append(out, b)
	}
	return out
}

func TestCachedFeedbackStore(t *testing.T) {
	ctx := context.Background()
	key := "pushrelay:feedback"
	fb := push.TokenFeedback{Backend: "capulet.lit/chat", Kind: push.KindFCM, Recipient: "juliet@capulet.lit", Token: "dead"}

	t.Run("Record writes through then mirrors", func(t *testing.T) {
		mockList := new(MockList)
		mockDB := new(MockRealStore)
		store := cache.NewCachedFeedbackStore(mockDB, mockList, 50)

		mockDB.On("Record", ctx, fb).Return(nil)
		mockList.On("Push", ctx, key, fb, int64(50)).Return(nil)

		require.NoError(t, store.Record(ctx, fb))
		mockDB.AssertExpectations(t)
		mockList.AssertExpectations(t)
	})

	t.Run("Store failure skips the mirror", func(t *testing.T) {
		mockList := new(MockList)
		mockDB := new(MockRealStore)
		store := cache.NewCachedFeedbackStore(mockDB, mockList, 50)

		mockDB.On("Record", ctx, fb).Return(assert.AnError)

		assert.ErrorIs(t, store.Record(ctx, fb), assert.AnError)
		mockList.AssertNotCalled(t, "Push", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Mirror failure is not an error", func(t *testing.T) {
		mockList := new(MockList)
		mockDB := new(MockRealStore)
		store := cache.NewCachedFeedbackStore(mockDB, mockList, 50)

		mockDB.On("Record", ctx, fb).Return(nil)
		mockList.On("Push", ctx, key, fb, int64(50)).Return(assert.AnError)

		assert.NoError(t, store.Record(ctx, fb))
	})

	t.Run("Recent served from a full list", func(t *testing.T) {
		mockList := new(MockList)
		mockDB := new(MockRealStore)
		store := cache.NewCachedFeedbackStore(mockDB, mockList, 50)

		mockList.On("Range", ctx, key, int64(1)).Return(encoded(t, fb), nil)

		got, err := store.Recent(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, []push.TokenFeedback{fb}, got)
		mockDB.AssertNotCalled(t, "Recent", mock.Anything, mock.Anything)
	})

	t.Run("Short list falls back to the store", func(t *testing.T) {
		mockList := new(MockList)
		mockDB := new(MockRealStore)
		store := cache.NewCachedFeedbackStore(mockDB, mockList, 50)

		mockList.On("Range", ctx, key, int64(5)).Return(encoded(t, fb), nil)
		mockDB.On("Recent", ctx, 5).Return([]push.TokenFeedback{fb, fb}, nil)

		got, err := store.Recent(ctx, 5)
		require.NoError(t, err)
		assert.Len(t, got, 2)
		mockDB.AssertExpectations(t)
	})

	t.Run("Limit beyond the cap goes straight to the store", func(t *testing.T) {
		mockList := new(MockList)
		mockDB := new(MockRealStore)
		store := cache.NewCachedFeedbackStore(mockDB, mockList, 2)

		mockDB.On("Recent", ctx, 10).Return([]push.TokenFeedback{}, nil)

		_, err := store.Recent(ctx, 10)
		require.NoError(t, err)
		mockList.AssertNotCalled(t, "Range", mock.Anything, mock.Anything, mock.Anything)
	})
}
