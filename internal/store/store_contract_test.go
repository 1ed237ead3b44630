package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/devrev/querysync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises the behaviour every Store implementation must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("create assigns increasing ids", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a, err := s.CreateQuery(ctx, "a")
		require.NoError(t, err)
		b, err := s.CreateQuery(ctx, "b")
		require.NoError(t, err)

		assert.Equal(t, "a", a.Content)
		assert.Greater(t, b.ID, a.ID)
	})

	t.Run("list returns records ordered by id", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, c := range []string{"x", "y", "z"} {
			_, err := s.CreateQuery(ctx, c)
			require.NoError(t, err)
		}

		queries, err := s.ListQueries(ctx)
		require.NoError(t, err)
		require.Len(t, queries, 3)
		assert.Equal(t, "x", queries[0].Content)
		assert.Equal(t, "z", queries[2].Content)
		assert.Less(t, queries[0].ID, queries[1].ID)
	})

	t.Run("list on empty store is empty not nil", func(t *testing.T) {
		s := newStore(t)
		queries, err := s.ListQueries(context.Background())
		require.NoError(t, err)
		assert.NotNil(t, queries)
		assert.Empty(t, queries)
	})

	t.Run("delete reports presence", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		q, err := s.CreateQuery(ctx, "gone")
		require.NoError(t, err)

		found, err := s.DeleteQuery(ctx, q.ID)
		require.NoError(t, err)
		assert.True(t, found)

		found, err = s.DeleteQuery(ctx, q.ID)
		require.NoError(t, err)
		assert.False(t, found)

		found, err = s.DeleteQuery(ctx, 9999)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("ids are not reused after delete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a, err := s.CreateQuery(ctx, "a")
		require.NoError(t, err)
		_, err = s.DeleteQuery(ctx, a.ID)
		require.NoError(t, err)
		b, err := s.CreateQuery(ctx, "b")
		require.NoError(t, err)

		assert.Greater(t, b.ID, a.ID)
	})

	t.Run("concurrent creates get unique ids", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		const n = 20
		ids := make(chan int64, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				q, err := s.CreateQuery(ctx, "c")
				if assert.NoError(t, err) {
					ids <- q.ID
				}
			}()
		}
		wg.Wait()
		close(ids)

		seen := make(map[int64]bool)
		for id := range ids {
			assert.False(t, seen[id], "duplicate id %d", id)
			seen[id] = true
		}
		assert.Len(t, seen, n)
	})

	t.Run("create with entry commits both", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now()

		entry := newTestEntry("e-1", model.OperationCreate, now)
		q, err := s.CreateQueryWithEntry(ctx, "hello", entry)
		require.NoError(t, err)
		assert.Equal(t, q.ID, entry.QueryID)

		entries, err := s.ListEntries(ctx, 0)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "e-1", entries[0].EntryID)
		assert.Equal(t, model.OperationCreate, entries[0].Operation)
		assert.Equal(t, q.ID, entries[0].QueryID)
		assert.Equal(t, "hello", entries[0].Content)
		assert.Equal(t, "key-e-1", entries[0].IdempotencyKey)
	})

	t.Run("delete with entry only enqueues when found", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now()

		found, queued, err := s.DeleteQueryWithEntry(ctx, 42, newTestEntry("missing", model.OperationDelete, now))
		require.NoError(t, err)
		assert.False(t, found)
		assert.False(t, queued)

		q, err := s.CreateQuery(ctx, "to delete")
		require.NoError(t, err)
		found, queued, err = s.DeleteQueryWithEntry(ctx, q.ID, newTestEntry("present", model.OperationDelete, now))
		require.NoError(t, err)
		assert.True(t, found)
		assert.False(t, queued)

		count, err := s.CountEntries(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		entries, err := s.ListEntries(ctx, 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "present", entries[0].EntryID)
		assert.Equal(t, q.ID, entries[0].QueryID)
	})

	t.Run("due entries respect schedule and limit", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now()

		for i, id := range []string{"a", "b", "c"} {
			e := newTestEntry(id, model.OperationCreate, now.Add(time.Duration(i)*time.Millisecond))
			_, err := s.CreateQueryWithEntry(ctx, id, e)
			require.NoError(t, err)
		}
		require.NoError(t, s.MarkFailed(ctx, "b", 1, "connection refused", now.Add(time.Hour)))

		due, err := s.DueEntries(ctx, now.Add(time.Second), 10)
		require.NoError(t, err)
		require.Len(t, due, 2)
		assert.Equal(t, "a", due[0].EntryID)
		assert.Equal(t, "c", due[1].EntryID)

		due, err = s.DueEntries(ctx, now.Add(time.Second), 1)
		require.NoError(t, err)
		assert.Len(t, due, 1)

		entries, err := s.ListEntries(ctx, 0)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, 1, entries[1].Attempts)
		assert.Equal(t, "connection refused", entries[1].LastError)
	})

	t.Run("delete is held behind a pending create", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now()

		create := newTestEntry("create", model.OperationCreate, now)
		q, err := s.CreateQueryWithEntry(ctx, "short lived", create)
		require.NoError(t, err)
		other := newTestEntry("other", model.OperationCreate, now.Add(time.Millisecond))
		_, err = s.CreateQueryWithEntry(ctx, "other", other)
		require.NoError(t, err)

		found, queued, err := s.DeleteQueryWithEntry(ctx, q.ID, newTestEntry("delete", model.OperationDelete, now.Add(2*time.Millisecond)))
		require.NoError(t, err)
		assert.True(t, found)
		assert.True(t, queued)

		due, err := s.DueEntries(ctx, now.Add(time.Second), 10)
		require.NoError(t, err)
		require.Len(t, due, 2)
		assert.Equal(t, "create", due[0].EntryID)
		assert.Equal(t, "other", due[1].EntryID)

		// A create that is not due yet still holds its delete back.
		require.NoError(t, s.MarkFailed(ctx, "create", 1, "timeout", now.Add(time.Hour)))
		due, err = s.DueEntries(ctx, now.Add(time.Second), 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, "other", due[0].EntryID)

		require.NoError(t, s.DeleteEntry(ctx, "create"))
		due, err = s.DueEntries(ctx, now.Add(time.Second), 10)
		require.NoError(t, err)
		require.Len(t, due, 2)
		assert.Equal(t, "other", due[0].EntryID)
		assert.Equal(t, "delete", due[1].EntryID)
		assert.Equal(t, q.ID, due[1].QueryID)
	})

	t.Run("delete and cleanup entries", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		old := newTestEntry("old", model.OperationCreate, time.Now().Add(-48*time.Hour))
		fresh := newTestEntry("fresh", model.OperationCreate, time.Now())
		_, err := s.CreateQueryWithEntry(ctx, "old", old)
		require.NoError(t, err)
		_, err = s.CreateQueryWithEntry(ctx, "fresh", fresh)
		require.NoError(t, err)

		deleted, err := s.CleanupOldEntries(ctx, 24*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		require.NoError(t, s.DeleteEntry(ctx, "fresh"))
		assert.ErrorIs(t, s.DeleteEntry(ctx, "fresh"), ErrNotFound)
		assert.ErrorIs(t, s.MarkFailed(ctx, "fresh", 1, "", time.Now()), ErrNotFound)

		count, err := s.CountEntries(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func newTestEntry(id string, op model.Operation, createdAt time.Time) *model.OutboxEntry {
	return &model.OutboxEntry{
		EntryID:        id,
		Operation:      op,
		IdempotencyKey: "key-" + id,
		Content:        id,
		CreatedAt:      createdAt,
		NextAttemptAt:  createdAt,
	}
}
