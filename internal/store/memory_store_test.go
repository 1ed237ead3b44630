package store

import (
	"context"
	"testing"
	"time"

	"github.com/devrev/querysync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	q, err := s.CreateQuery(ctx, "original")
	require.NoError(t, err)
	q.Content = "mutated"

	queries, err := s.ListQueries(ctx)
	require.NoError(t, err)
	require.Len(t, queries, 1)
	assert.Equal(t, "original", queries[0].Content)
}

func TestInMemoryIdempotencyStore(t *testing.T) {
	s := NewInMemoryIdempotencyStore(2, zap.NewNop())
	defer s.Close()
	ctx := context.Background()

	_, err := s.Lookup(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	q := &model.Query{ID: 4, Content: "v1"}
	require.NoError(t, s.Remember(ctx, "k1", q, time.Hour))
	q.Content = "mutated"
	got, err := s.Lookup(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, &model.Query{ID: 4, Content: "v1"}, got)

	t.Run("expired keys are not returned", func(t *testing.T) {
		require.NoError(t, s.Remember(ctx, "short", &model.Query{ID: 5}, -time.Second))
		_, err := s.Lookup(ctx, "short")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("capacity is bounded", func(t *testing.T) {
		require.NoError(t, s.Remember(ctx, "k2", &model.Query{ID: 6}, time.Hour))
		require.NoError(t, s.Remember(ctx, "k3", &model.Query{ID: 7}, 2*time.Hour))
		assert.LessOrEqual(t, s.Len(), 2)
		got, err := s.Lookup(ctx, "k3")
		require.NoError(t, err)
		assert.Equal(t, int64(7), got.ID)
	})

	assert.NoError(t, s.Ping(ctx))
	assert.NoError(t, s.Close())
}
