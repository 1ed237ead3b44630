package service

import (
	"context"
	"strings"
	"testing"
	"time"

	apierrors "github.com/devrev/querysync/internal/errors"
	"github.com/devrev/querysync/internal/metrics"
	"github.com/devrev/querysync/internal/model"
	"github.com/devrev/querysync/internal/store"
	"github.com/devrev/querysync/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestQueryService(records store.RecordStore, withIdempotency bool) *QueryService {
	var idem *IdempotencyService
	if withIdempotency {
		idem = NewIdempotencyService(store.NewInMemoryIdempotencyStore(100, zap.NewNop()), time.Hour, zap.NewNop())
	}
	return NewQueryService(records, idem, validation.NewValidator(), metrics.NewMetrics(), zap.NewNop())
}

func TestQueryService_CRUD(t *testing.T) {
	ctx := context.Background()
	svc := newTestQueryService(store.NewMemoryStore(), false)

	q1, replayed, err := svc.CreateQuery(ctx, "first", "")
	require.NoError(t, err)
	assert.False(t, replayed)
	q2, _, err := svc.CreateQuery(ctx, "second", "")
	require.NoError(t, err)
	assert.Greater(t, q2.ID, q1.ID)

	queries, err := svc.ListQueries(ctx)
	require.NoError(t, err)
	require.Len(t, queries, 2)

	found, err := svc.DeleteQuery(ctx, q1.ID)
	require.NoError(t, err)
	assert.True(t, found)

	found, err = svc.DeleteQuery(ctx, q1.ID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestQueryService_CreateValidation(t *testing.T) {
	svc := newTestQueryService(store.NewMemoryStore(), true)

	_, _, err := svc.CreateQuery(context.Background(), "", "")
	assert.True(t, apierrors.IsValidation(err))

	_, _, err = svc.CreateQuery(context.Background(), "ok", "bad key")
	assert.True(t, apierrors.IsValidation(err))
}

func TestQueryService_IdempotentCreate(t *testing.T) {
	ctx := context.Background()
	records := store.NewMemoryStore()
	svc := newTestQueryService(records, true)

	first, replayed, err := svc.CreateQuery(ctx, "x", "key-1")
	require.NoError(t, err)
	assert.False(t, replayed)

	second, replayed, err := svc.CreateQuery(ctx, "x", "key-1")
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first, second)

	_, replayed, err = svc.CreateQuery(ctx, "x", "key-2")
	require.NoError(t, err)
	assert.False(t, replayed)

	queries, err := records.ListQueries(ctx)
	require.NoError(t, err)
	assert.Len(t, queries, 2)
}

func TestQueryService_IdempotencyDisabledCreatesEveryTime(t *testing.T) {
	ctx := context.Background()
	records := store.NewMemoryStore()
	svc := newTestQueryService(records, false)

	for i := 0; i < 2; i++ {
		_, replayed, err := svc.CreateQuery(ctx, "x", "key-1")
		require.NoError(t, err)
		assert.False(t, replayed)
	}

	queries, err := records.ListQueries(ctx)
	require.NoError(t, err)
	assert.Len(t, queries, 2)
}

func TestQueryService_StorageFailure(t *testing.T) {
	svc := newTestQueryService(&brokenStore{store.NewMemoryStore()}, false)

	_, _, err := svc.CreateQuery(context.Background(), "x", "")
	assert.True(t, apierrors.IsStorage(err))
	_, err = svc.ListQueries(context.Background())
	assert.True(t, apierrors.IsStorage(err))
	_, err = svc.DeleteQuery(context.Background(), 1)
	assert.True(t, apierrors.IsStorage(err))
}

func TestIdempotencyService(t *testing.T) {
	ctx := context.Background()
	backend := store.NewInMemoryIdempotencyStore(10, zap.NewNop())
	defer backend.Close()
	svc := NewIdempotencyService(backend, time.Hour, zap.NewNop())

	got, err := svc.Recall(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, svc.Remember(ctx, "k", &model.Query{ID: 9, Content: "x"}))
	got, err = svc.Recall(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(9), got.ID)

	_, err = backend.Lookup(ctx, "k")
	assert.ErrorIs(t, err, store.ErrNotFound, "receipts are namespaced")
}

func TestValidIdempotencyKey(t *testing.T) {
	assert.True(t, ValidIdempotencyKey(NewIdempotencyKey()))
	assert.True(t, ValidIdempotencyKey("order-17:retry"))
	assert.False(t, ValidIdempotencyKey(""))
	assert.False(t, ValidIdempotencyKey("has space"))
	assert.False(t, ValidIdempotencyKey("tab\there"))
	assert.False(t, ValidIdempotencyKey(strings.Repeat("k", 256)))
}
