package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/devrev/querysync/internal/model"
)

// MemoryStore implements Store with in-process maps.
// Records are lost on restart; it is meant for tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	queries map[int64]*model.Query
	outbox  map[string]*model.OutboxEntry
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		queries: make(map[int64]*model.Query),
		outbox:  make(map[string]*model.OutboxEntry),
	}
}

// CreateQuery assigns the next id and stores the record
func (s *MemoryStore) CreateQuery(ctx context.Context, content string) (*model.Query, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(content), nil
}

func (s *MemoryStore) createLocked(content string) *model.Query {
	s.nextID++
	q := &model.Query{ID: s.nextID, Content: content}
	s.queries[q.ID] = q
	return &model.Query{ID: q.ID, Content: q.Content}
}

// ListQueries returns all records ordered by id
func (s *MemoryStore) ListQueries(ctx context.Context) ([]*model.Query, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	queries := make([]*model.Query, 0, len(s.queries))
	for _, q := range s.queries {
		queries = append(queries, &model.Query{ID: q.ID, Content: q.Content})
	}
	sort.Slice(queries, func(i, j int) bool { return queries[i].ID < queries[j].ID })
	return queries, nil
}

// DeleteQuery removes the record if present
func (s *MemoryStore) DeleteQuery(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(id), nil
}

func (s *MemoryStore) deleteLocked(id int64) bool {
	if _, ok := s.queries[id]; !ok {
		return false
	}
	delete(s.queries, id)
	return true
}

// CreateQueryWithEntry creates a record and enqueues entry atomically
func (s *MemoryStore) CreateQueryWithEntry(ctx context.Context, content string, entry *model.OutboxEntry) (*model.Query, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.createLocked(content)
	entry.QueryID = q.ID
	s.outbox[entry.EntryID] = copyEntry(entry)
	return q, nil
}

// DeleteQueryWithEntry deletes a record and enqueues entry if it existed
func (s *MemoryStore) DeleteQueryWithEntry(ctx context.Context, id int64, entry *model.OutboxEntry) (bool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.deleteLocked(id) {
		return false, false, nil
	}
	queued := s.createPendingLocked(id)
	entry.QueryID = id
	s.outbox[entry.EntryID] = copyEntry(entry)
	return true, queued, nil
}

func (s *MemoryStore) createPendingLocked(queryID int64) bool {
	for _, e := range s.outbox {
		if e.QueryID == queryID && e.Operation == model.OperationCreate {
			return true
		}
	}
	return false
}

// DueEntries returns entries due at or before now
func (s *MemoryStore) DueEntries(ctx context.Context, now time.Time, limit int) ([]*model.OutboxEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]*model.OutboxEntry, 0)
	for _, e := range s.outbox {
		if e.NextAttemptAt.After(now) {
			continue
		}
		if e.Operation == model.OperationDelete && s.createPendingLocked(e.QueryID) {
			continue
		}
		entries = append(entries, copyEntry(e))
	}
	return limitEntries(sortEntries(entries), limit), nil
}

// ListEntries returns pending entries oldest first
func (s *MemoryStore) ListEntries(ctx context.Context, limit int) ([]*model.OutboxEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]*model.OutboxEntry, 0, len(s.outbox))
	for _, e := range s.outbox {
		entries = append(entries, copyEntry(e))
	}
	return limitEntries(sortEntries(entries), limit), nil
}

// DeleteEntry removes an entry
func (s *MemoryStore) DeleteEntry(ctx context.Context, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.outbox[entryID]; !ok {
		return ErrNotFound
	}
	delete(s.outbox, entryID)
	return nil
}

// MarkFailed records a failed attempt
func (s *MemoryStore) MarkFailed(ctx context.Context, entryID string, attempts int, lastError string, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.outbox[entryID]
	if !ok {
		return ErrNotFound
	}
	e.Attempts = attempts
	e.LastError = lastError
	e.NextAttemptAt = nextAttemptAt
	return nil
}

// CountEntries returns the number of pending entries
func (s *MemoryStore) CountEntries(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.outbox)), nil
}

// CleanupOldEntries deletes entries older than ttl
func (s *MemoryStore) CleanupOldEntries(ctx context.Context, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-ttl)
	var deleted int64
	for id, e := range s.outbox {
		if e.CreatedAt.Before(cutoff) {
			delete(s.outbox, id)
			deleted++
		}
	}
	return deleted, nil
}

// Ping always succeeds
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() {}

func copyEntry(e *model.OutboxEntry) *model.OutboxEntry {
	c := *e
	return &c
}

func sortEntries(entries []*model.OutboxEntry) []*model.OutboxEntry {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].EntryID < entries[j].EntryID
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries
}

func limitEntries(entries []*model.OutboxEntry, limit int) []*model.OutboxEntry {
	if limit > 0 && len(entries) > limit {
		return entries[:limit]
	}
	return entries
}
