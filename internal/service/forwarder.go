package service

import (
	"context"
	"time"

	apierrors "github.com/devrev/querysync/internal/errors"
	"github.com/devrev/querysync/internal/metrics"
	"github.com/devrev/querysync/internal/model"
	"github.com/devrev/querysync/internal/store"
	"github.com/devrev/querysync/internal/validation"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Result is the composite outcome of a mutating operation on the primary.
type Result struct {
	Operation model.Operation
	Outcome   model.Outcome
	// Query is the locally committed record for creates
	Query *model.Query
	// Failure is set when Outcome is PartiallyReplicated
	Failure *apierrors.ForwardFailure
}

// ForwarderConfig controls how the forwarder propagates operations.
type ForwarderConfig struct {
	// Outbox, when non-nil, records every propagation in the same transaction as
	// the local commit so that failed replays are retried in the background.
	Outbox store.OutboxStore
	// RetryDelay is how long a failed or in-flight entry waits before the replay
	// service picks it up.
	RetryDelay time.Duration
}

// Forwarder applies operations to the local store, then replays them once on
// the secondary and classifies the result.
type Forwarder struct {
	records    store.RecordStore
	outbox     store.OutboxStore
	secondary  Secondary
	validator  *validation.Validator
	retryDelay time.Duration
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewForwarder creates a new forwarder
func NewForwarder(
	records store.RecordStore,
	secondary Secondary,
	validator *validation.Validator,
	cfg ForwarderConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Forwarder {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	return &Forwarder{
		records:    records,
		outbox:     cfg.Outbox,
		secondary:  secondary,
		validator:  validator,
		retryDelay: cfg.RetryDelay,
		metrics:    m,
		logger:     logger,
	}
}

// OutboxEnabled reports whether failed propagations are retried.
func (f *Forwarder) OutboxEnabled() bool {
	return f.outbox != nil
}

// CreateQuery validates content, commits it locally and replays the create on
// the secondary exactly once. A failed replay never undoes the local commit.
func (f *Forwarder) CreateQuery(ctx context.Context, content string) (*Result, error) {
	if err := f.validator.ValidateContent(content); err != nil {
		return nil, err
	}

	key := NewIdempotencyKey()
	entry := f.newEntry(model.OperationCreate, content, key)

	var local *model.Query
	var err error
	if entry != nil {
		local, err = f.outbox.CreateQueryWithEntry(ctx, content, entry)
	} else {
		local, err = f.records.CreateQuery(ctx, content)
	}
	if err != nil {
		return nil, apierrors.Storage("create query", err)
	}

	result := &Result{Operation: model.OperationCreate, Query: local}

	start := time.Now()
	_, ferr := f.secondary.CreateQuery(ctx, content, key)
	f.finish(ctx, result, entry, ferr, time.Since(start))

	return result, nil
}

// DeleteQuery deletes id locally and, only if it existed, replays the delete on
// the secondary exactly once. The secondary not holding the id counts as replicated.
// With the outbox enabled, a delete whose create is still queued is not sent
// at all and waits in the outbox behind that create.
func (f *Forwarder) DeleteQuery(ctx context.Context, id int64) (*Result, error) {
	key := NewIdempotencyKey()
	entry := f.newEntry(model.OperationDelete, "", key)

	var found, queued bool
	var err error
	if entry != nil {
		found, queued, err = f.outbox.DeleteQueryWithEntry(ctx, id, entry)
	} else {
		found, err = f.records.DeleteQuery(ctx, id)
	}
	if err != nil {
		return nil, apierrors.Storage("delete query", err)
	}

	result := &Result{Operation: model.OperationDelete}
	if !found {
		result.Outcome = model.OutcomeNotFound
		f.logger.Debug("Query not found locally, nothing to forward", zap.Int64("query_id", id))
		return result, nil
	}

	if queued {
		// The create has not reached the secondary yet; the replay service sends
		// the delete after it.
		result.Outcome = model.OutcomePartiallyReplicated
		result.Failure = &apierrors.ForwardFailure{
			Operation: string(model.OperationDelete),
			Kind:      apierrors.FailureQueued,
		}
		f.metrics.RecordForward(string(result.Operation), string(result.Outcome), string(apierrors.FailureQueued), 0)
		f.logger.Info("Delete queued behind pending create",
			zap.Int64("query_id", id),
			zap.String("entry_id", entry.EntryID))
		return result, nil
	}

	start := time.Now()
	remoteFound, ferr := f.secondary.DeleteQuery(ctx, id, key)
	if ferr == nil && !remoteFound {
		f.logger.Info("Query already absent on secondary",
			zap.Int64("query_id", id))
	}
	f.finish(ctx, result, entry, ferr, time.Since(start))

	return result, nil
}

// ListQueries returns the local records. The secondary is never consulted.
func (f *Forwarder) ListQueries(ctx context.Context) ([]*model.Query, error) {
	queries, err := f.records.ListQueries(ctx)
	if err != nil {
		return nil, apierrors.Storage("list queries", err)
	}
	return queries, nil
}

func (f *Forwarder) newEntry(op model.Operation, content, key string) *model.OutboxEntry {
	if f.outbox == nil {
		return nil
	}
	now := time.Now()
	return &model.OutboxEntry{
		EntryID:        uuid.New().String(),
		Operation:      op,
		Content:        content,
		IdempotencyKey: key,
		CreatedAt:      now,
		NextAttemptAt:  now.Add(f.retryDelay),
	}
}

// finish classifies the replay, settles the outbox entry and records metrics.
func (f *Forwarder) finish(ctx context.Context, result *Result, entry *model.OutboxEntry, ferr error, elapsed time.Duration) {
	var queryID int64
	if result.Query != nil {
		queryID = result.Query.ID
	} else if entry != nil {
		queryID = entry.QueryID
	}

	// Outbox bookkeeping must survive the caller going away.
	bg := context.WithoutCancel(ctx)

	if ferr == nil {
		result.Outcome = model.OutcomeReplicated
		f.metrics.RecordForward(string(result.Operation), string(result.Outcome), "", elapsed)
		if entry != nil {
			if err := f.outbox.DeleteEntry(bg, entry.EntryID); err != nil {
				f.logger.Warn("Failed to remove replicated outbox entry",
					zap.String("entry_id", entry.EntryID),
					zap.Error(err))
			}
		}
		f.logger.Debug("Operation replicated",
			zap.String("operation", string(result.Operation)),
			zap.Int64("query_id", queryID),
			zap.Duration("duration", elapsed))
		return
	}

	ff, ok := apierrors.AsForwardFailure(ferr)
	if !ok {
		ff = apierrors.ClassifyTransport(string(result.Operation), ferr)
	}
	result.Outcome = model.OutcomePartiallyReplicated
	result.Failure = ff
	f.metrics.RecordForward(string(result.Operation), string(result.Outcome), string(ff.Kind), elapsed)

	fields := []zap.Field{
		zap.String("operation", string(result.Operation)),
		zap.Int64("query_id", queryID),
		zap.String("failure_kind", string(ff.Kind)),
		zap.Int("status_code", ff.StatusCode),
		zap.Duration("duration", elapsed),
		zap.Bool("queued_for_retry", entry != nil),
		zap.Error(ff),
	}
	if ff.Unexpected() {
		f.logger.Error("Secondary returned an unexpected response", fields...)
	} else {
		f.logger.Warn("Failed to forward operation to secondary", fields...)
	}

	if entry != nil {
		next := time.Now().Add(f.retryDelay)
		if err := f.outbox.MarkFailed(bg, entry.EntryID, 1, ff.Error(), next); err != nil {
			f.logger.Error("Failed to record outbox attempt",
				zap.String("entry_id", entry.EntryID),
				zap.Error(err))
		}
	}
}
