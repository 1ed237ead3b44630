package service

import (
	"context"

	apierrors "github.com/devrev/querysync/internal/errors"
	"github.com/devrev/querysync/internal/metrics"
	"github.com/devrev/querysync/internal/model"
	"github.com/devrev/querysync/internal/store"
	"github.com/devrev/querysync/internal/validation"
	"go.uber.org/zap"
)

// QueryService is the secondary's view of its record store. It never
// propagates anything.
type QueryService struct {
	records     store.RecordStore
	idempotency *IdempotencyService
	validator   *validation.Validator
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewQueryService creates a new query service. idempotency may be nil.
func NewQueryService(
	records store.RecordStore,
	idempotency *IdempotencyService,
	validator *validation.Validator,
	m *metrics.Metrics,
	logger *zap.Logger,
) *QueryService {
	return &QueryService{
		records:     records,
		idempotency: idempotency,
		validator:   validator,
		metrics:     m,
		logger:      logger,
	}
}

// CreateQuery stores content. When idempotencyKey names a create already
// served, the stored record is returned and replayed is true.
func (s *QueryService) CreateQuery(ctx context.Context, content, idempotencyKey string) (q *model.Query, replayed bool, err error) {
	if err := s.validator.ValidateContent(content); err != nil {
		return nil, false, err
	}

	useKey := s.idempotency != nil && idempotencyKey != ""
	if useKey {
		if !ValidIdempotencyKey(idempotencyKey) {
			return nil, false, apierrors.InvalidField("Idempotency-Key", "invalid idempotency key")
		}
		existing, err := s.idempotency.Recall(ctx, idempotencyKey)
		if err != nil {
			// Lookup failures degrade to a plain create.
			s.logger.Warn("Idempotency lookup failed",
				zap.String("idempotency_key", idempotencyKey),
				zap.Error(err))
		} else if existing != nil {
			s.metrics.RecordIdempotentHit()
			return existing, true, nil
		}
	}

	q, err = s.records.CreateQuery(ctx, content)
	if err != nil {
		return nil, false, apierrors.Storage("create query", err)
	}

	if useKey {
		if err := s.idempotency.Remember(ctx, idempotencyKey, q); err != nil {
			s.logger.Warn("Failed to store idempotency record",
				zap.String("idempotency_key", idempotencyKey),
				zap.Int64("query_id", q.ID),
				zap.Error(err))
		}
	}

	return q, false, nil
}

// ListQueries returns every record in id order
func (s *QueryService) ListQueries(ctx context.Context) ([]*model.Query, error) {
	queries, err := s.records.ListQueries(ctx)
	if err != nil {
		return nil, apierrors.Storage("list queries", err)
	}
	return queries, nil
}

// DeleteQuery deletes id and reports whether it existed
func (s *QueryService) DeleteQuery(ctx context.Context, id int64) (bool, error) {
	found, err := s.records.DeleteQuery(ctx, id)
	if err != nil {
		return false, apierrors.Storage("delete query", err)
	}
	return found, nil
}
