package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/devrev/querysync/internal/model"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// SQLiteStore implements Store on an embedded SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// SQLiteBusyTimeout is how long a statement waits for the write lock.
const SQLiteBusyTimeout = 5 * time.Second

// NewSQLiteStore creates or opens a SQLite database at the given path.
// The database runs in WAL mode with a single writer connection and a
// 5 second busy timeout. The schema is applied idempotently.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", SQLiteBusyTimeout.Milliseconds()),
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Info("SQLite store opened", zap.String("path", path))

	return &SQLiteStore{db: db, logger: logger}, nil
}

// CreateQuery inserts a record and returns it with its assigned id
func (s *SQLiteStore) CreateQuery(ctx context.Context, content string) (*model.Query, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO queries (content) VALUES (?)`, content)
	if err != nil {
		return nil, fmt.Errorf("failed to insert query: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read inserted id: %w", err)
	}

	return &model.Query{ID: id, Content: content}, nil
}

// ListQueries returns all records ordered by id
func (s *SQLiteStore) ListQueries(ctx context.Context) ([]*model.Query, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, content FROM queries ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list queries: %w", err)
	}
	defer rows.Close()

	queries := make([]*model.Query, 0)
	for rows.Next() {
		var q model.Query
		if err := rows.Scan(&q.ID, &q.Content); err != nil {
			return nil, fmt.Errorf("failed to scan query: %w", err)
		}
		queries = append(queries, &q)
	}

	return queries, rows.Err()
}

// DeleteQuery removes a record and reports whether it existed
func (s *SQLiteStore) DeleteQuery(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM queries WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete query: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return n > 0, nil
}

// CreateQueryWithEntry inserts a record and its outbox entry in one transaction
func (s *SQLiteStore) CreateQueryWithEntry(ctx context.Context, content string, entry *model.OutboxEntry) (*model.Query, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO queries (content) VALUES (?)`, content)
	if err != nil {
		return nil, fmt.Errorf("failed to insert query: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read inserted id: %w", err)
	}

	entry.QueryID = id
	if err := insertSQLiteEntry(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &model.Query{ID: id, Content: content}, nil
}

// DeleteQueryWithEntry deletes a record and, if it existed, enqueues entry in one transaction
func (s *SQLiteStore) DeleteQueryWithEntry(ctx context.Context, id int64, entry *model.OutboxEntry) (bool, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM queries WHERE id = ?`, id)
	if err != nil {
		return false, false, fmt.Errorf("failed to delete query: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return false, false, nil
	}

	var queued bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM outbox WHERE query_id = ? AND operation = ?)`,
		id, string(model.OperationCreate),
	).Scan(&queued); err != nil {
		return false, false, fmt.Errorf("failed to check pending create: %w", err)
	}

	entry.QueryID = id
	if err := insertSQLiteEntry(ctx, tx, entry); err != nil {
		return false, false, err
	}

	if err := tx.Commit(); err != nil {
		return false, false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return true, queued, nil
}

func insertSQLiteEntry(ctx context.Context, tx *sql.Tx, entry *model.OutboxEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO outbox (
			entry_id, operation, query_id, content, idempotency_key,
			attempts, last_error, created_at, next_attempt_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.EntryID,
		string(entry.Operation),
		entry.QueryID,
		entry.Content,
		entry.IdempotencyKey,
		entry.Attempts,
		entry.LastError,
		entry.CreatedAt.UnixMilli(),
		entry.NextAttemptAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to store outbox entry: %w", err)
	}
	return nil
}

// DueEntries returns entries due at or before now, oldest first
func (s *SQLiteStore) DueEntries(ctx context.Context, now time.Time, limit int) ([]*model.OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entry_id, operation, query_id, content, idempotency_key,
		       attempts, last_error, created_at, next_attempt_at
		FROM outbox o
		WHERE next_attempt_at <= ?
		  AND NOT (operation = 'delete' AND EXISTS (
		      SELECT 1 FROM outbox c WHERE c.query_id = o.query_id AND c.operation = 'create'))
		ORDER BY created_at ASC, entry_id ASC
		LIMIT ?
	`, now.UnixMilli(), sqliteLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to get due entries: %w", err)
	}
	defer rows.Close()

	return scanSQLiteEntries(rows)
}

// ListEntries returns pending entries oldest first
func (s *SQLiteStore) ListEntries(ctx context.Context, limit int) ([]*model.OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entry_id, operation, query_id, content, idempotency_key,
		       attempts, last_error, created_at, next_attempt_at
		FROM outbox
		ORDER BY created_at ASC, entry_id ASC
		LIMIT ?
	`, sqliteLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	return scanSQLiteEntries(rows)
}

func scanSQLiteEntries(rows *sql.Rows) ([]*model.OutboxEntry, error) {
	entries := make([]*model.OutboxEntry, 0)
	for rows.Next() {
		var (
			e                   model.OutboxEntry
			op                  string
			createdAt, nextAtMs int64
		)
		if err := rows.Scan(
			&e.EntryID,
			&op,
			&e.QueryID,
			&e.Content,
			&e.IdempotencyKey,
			&e.Attempts,
			&e.LastError,
			&createdAt,
			&nextAtMs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan outbox entry: %w", err)
		}
		e.Operation = model.Operation(op)
		e.CreatedAt = time.UnixMilli(createdAt)
		e.NextAttemptAt = time.UnixMilli(nextAtMs)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// sqliteLimit maps "no limit" to SQLite's -1
func sqliteLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

// DeleteEntry removes an entry
func (s *SQLiteStore) DeleteEntry(ctx context.Context, entryID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM outbox WHERE entry_id = ?`, entryID)
	if err != nil {
		return fmt.Errorf("failed to delete outbox entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailed records a failed replay attempt
func (s *SQLiteStore) MarkFailed(ctx context.Context, entryID string, attempts int, lastError string, nextAttemptAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE outbox SET attempts = ?, last_error = ?, next_attempt_at = ?
		WHERE entry_id = ?
	`, attempts, lastError, nextAttemptAt.UnixMilli(), entryID)
	if err != nil {
		return fmt.Errorf("failed to update outbox entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountEntries returns the number of pending entries
func (s *SQLiteStore) CountEntries(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count outbox entries: %w", err)
	}
	return count, nil
}

// CleanupOldEntries deletes entries created before now-ttl
func (s *SQLiteStore) CleanupOldEntries(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().Add(-ttl).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM outbox WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old entries: %w", err)
	}
	return res.RowsAffected()
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *SQLiteStore) Close() {
	if err := s.db.Close(); err != nil {
		s.logger.Warn("failed to close SQLite store", zap.Error(err))
	}
}
