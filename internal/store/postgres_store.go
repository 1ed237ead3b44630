package store

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/devrev/querysync/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed schema_postgres.sql
var postgresSchema string

// PostgresStore implements Store for PostgreSQL
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a new PostgreSQL store and applies the schema
func NewPostgresStore(
	ctx context.Context,
	host string,
	port int,
	database, user, password, sslMode string,
	maxConns, minConns int,
	logger *zap.Logger,
) (*PostgresStore, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s pool_max_conns=%d pool_min_conns=%d",
		host, port, database, user, password, sslMode, maxConns, minConns,
	)

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Info("PostgreSQL store opened",
		zap.String("host", host),
		zap.Int("port", port),
		zap.String("database", database))

	return &PostgresStore{
		pool:   pool,
		logger: logger,
	}, nil
}

// CreateQuery inserts a record and returns it with its assigned id
func (s *PostgresStore) CreateQuery(ctx context.Context, content string) (*model.Query, error) {
	q := &model.Query{Content: content}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO queries (content) VALUES ($1) RETURNING id`, content,
	).Scan(&q.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert query: %w", err)
	}
	return q, nil
}

// ListQueries returns all records ordered by id
func (s *PostgresStore) ListQueries(ctx context.Context) ([]*model.Query, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, content FROM queries ORDER BY id ASC`)
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
func (s *PostgresStore) DeleteQuery(ctx context.Context, id int64) (bool, error) {
	result, err := s.pool.Exec(ctx, `DELETE FROM queries WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete query: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// CreateQueryWithEntry inserts a record and its outbox entry in one transaction
func (s *PostgresStore) CreateQueryWithEntry(ctx context.Context, content string, entry *model.OutboxEntry) (*model.Query, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	q := &model.Query{Content: content}
	if err := tx.QueryRow(ctx,
		`INSERT INTO queries (content) VALUES ($1) RETURNING id`, content,
	).Scan(&q.ID); err != nil {
		return nil, fmt.Errorf("failed to insert query: %w", err)
	}

	entry.QueryID = q.ID
	if err := insertPostgresEntry(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return q, nil
}

// DeleteQueryWithEntry deletes a record and, if it existed, enqueues entry in one transaction
func (s *PostgresStore) DeleteQueryWithEntry(ctx context.Context, id int64, entry *model.OutboxEntry) (bool, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `DELETE FROM queries WHERE id = $1`, id)
	if err != nil {
		return false, false, fmt.Errorf("failed to delete query: %w", err)
	}
	if result.RowsAffected() == 0 {
		return false, false, nil
	}

	var queued bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM outbox WHERE query_id = $1 AND operation = $2)`,
		id, string(model.OperationCreate),
	).Scan(&queued); err != nil {
		return false, false, fmt.Errorf("failed to check pending create: %w", err)
	}

	entry.QueryID = id
	if err := insertPostgresEntry(ctx, tx, entry); err != nil {
		return false, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, queued, nil
}

func insertPostgresEntry(ctx context.Context, tx pgx.Tx, entry *model.OutboxEntry) error {
	query := `
		INSERT INTO outbox (
			entry_id, operation, query_id, content, idempotency_key,
			attempts, last_error, created_at, next_attempt_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := tx.Exec(ctx, query,
		entry.EntryID,
		string(entry.Operation),
		entry.QueryID,
		entry.Content,
		entry.IdempotencyKey,
		entry.Attempts,
		entry.LastError,
		entry.CreatedAt,
		entry.NextAttemptAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store outbox entry: %w", err)
	}
	return nil
}

// DueEntries returns entries due at or before now, oldest first
func (s *PostgresStore) DueEntries(ctx context.Context, now time.Time, limit int) ([]*model.OutboxEntry, error) {
	query := `
		SELECT entry_id, operation, query_id, content, idempotency_key,
		       attempts, last_error, created_at, next_attempt_at
		FROM outbox o
		WHERE next_attempt_at <= $1
		  AND NOT (operation = 'delete' AND EXISTS (
		      SELECT 1 FROM outbox c WHERE c.query_id = o.query_id AND c.operation = 'create'))
		ORDER BY created_at ASC, entry_id ASC
	`
	args := []interface{}{now}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get due entries: %w", err)
	}
	defer rows.Close()

	return scanPostgresEntries(rows)
}

// ListEntries returns pending entries oldest first
func (s *PostgresStore) ListEntries(ctx context.Context, limit int) ([]*model.OutboxEntry, error) {
	query := `
		SELECT entry_id, operation, query_id, content, idempotency_key,
		       attempts, last_error, created_at, next_attempt_at
		FROM outbox
		ORDER BY created_at ASC, entry_id ASC
	`
	args := make([]interface{}, 0)
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	return scanPostgresEntries(rows)
}

func scanPostgresEntries(rows pgx.Rows) ([]*model.OutboxEntry, error) {
	entries := make([]*model.OutboxEntry, 0)
	for rows.Next() {
		var e model.OutboxEntry
		var op string
		if err := rows.Scan(
			&e.EntryID,
			&op,
			&e.QueryID,
			&e.Content,
			&e.IdempotencyKey,
			&e.Attempts,
			&e.LastError,
			&e.CreatedAt,
			&e.NextAttemptAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan outbox entry: %w", err)
		}
		e.Operation = model.Operation(op)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// DeleteEntry deletes a specific entry
func (s *PostgresStore) DeleteEntry(ctx context.Context, entryID string) error {
	result, err := s.pool.Exec(ctx, `DELETE FROM outbox WHERE entry_id = $1`, entryID)
	if err != nil {
		return fmt.Errorf("failed to delete outbox entry: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailed records a failed replay attempt
func (s *PostgresStore) MarkFailed(ctx context.Context, entryID string, attempts int, lastError string, nextAttemptAt time.Time) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE outbox SET attempts = $2, last_error = $3, next_attempt_at = $4
		WHERE entry_id = $1
	`, entryID, attempts, lastError, nextAttemptAt)
	if err != nil {
		return fmt.Errorf("failed to update outbox entry: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountEntries returns the number of pending entries
func (s *PostgresStore) CountEntries(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count outbox entries: %w", err)
	}
	return count, nil
}

// CleanupOldEntries deletes entries older than the specified TTL
func (s *PostgresStore) CleanupOldEntries(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoffTime := time.Now().Add(-ttl)
	result, err := s.pool.Exec(ctx, `DELETE FROM outbox WHERE created_at < $1`, cutoffTime)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old entries: %w", err)
	}
	return result.RowsAffected(), nil
}

// Ping checks the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}
