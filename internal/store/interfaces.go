package store

import (
	"context"
	"errors"
	"time"

	"github.com/devrev/querysync/internal/model"
)

// ErrNotFound is returned when a key is not found
var ErrNotFound = errors.New("not found")

// RecordStore is durable keyed storage of Query records owned by one service.
// Every call returns only after the change is committed.
type RecordStore interface {
	// CreateQuery assigns a fresh id, persists the record and returns it
	CreateQuery(ctx context.Context, content string) (*model.Query, error)

	// ListQueries returns every persisted record ordered by id
	ListQueries(ctx context.Context) ([]*model.Query, error)

	// DeleteQuery removes the record and reports whether it existed.
	// A missing id is not an error.
	DeleteQuery(ctx context.Context, id int64) (bool, error)

	// Health check
	Ping(ctx context.Context) error
	Close()
}

// OutboxStore records pending propagations in the same medium as the records
// so that a local commit and its outbox entry are written atomically.
type OutboxStore interface {
	// CreateQueryWithEntry creates a record and enqueues entry in one transaction.
	// entry.QueryID is set to the id assigned to the new record.
	CreateQueryWithEntry(ctx context.Context, content string, entry *model.OutboxEntry) (*model.Query, error)

	// DeleteQueryWithEntry deletes a record and, only if it existed, enqueues entry
	// in the same transaction. queued reports that a create for the same record
	// is still pending, so the delete must not reach the secondary before it.
	DeleteQueryWithEntry(ctx context.Context, id int64, entry *model.OutboxEntry) (found, queued bool, err error)

	// DueEntries returns entries whose next attempt is at or before now, oldest
	// first. A delete is withheld while a create for the same record is pending.
	DueEntries(ctx context.Context, now time.Time, limit int) ([]*model.OutboxEntry, error)

	// ListEntries returns pending entries oldest first
	ListEntries(ctx context.Context, limit int) ([]*model.OutboxEntry, error)

	// DeleteEntry removes an entry after successful replay
	DeleteEntry(ctx context.Context, entryID string) error

	// MarkFailed records a failed replay attempt and schedules the next one
	MarkFailed(ctx context.Context, entryID string, attempts int, lastError string, nextAttemptAt time.Time) error

	// CountEntries returns the number of pending entries
	CountEntries(ctx context.Context) (int64, error)

	// CleanupOldEntries deletes entries created before now-ttl
	CleanupOldEntries(ctx context.Context, ttl time.Duration) (int64, error)
}

// Store is a record store that can also hold the outbox.
type Store interface {
	RecordStore
	OutboxStore
}

// IdempotencyStore remembers the record a create produced under a caller's
// idempotency key. Entries expire after the ttl given to Remember.
type IdempotencyStore interface {
	// Lookup returns ErrNotFound for unknown or expired keys
	Lookup(ctx context.Context, key string) (*model.Query, error)
	Remember(ctx context.Context, key string, q *model.Query, ttl time.Duration) error
	Ping(ctx context.Context) error
	Close() error
}
