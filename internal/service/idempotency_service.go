package service

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode"

	"github.com/devrev/querysync/internal/model"
	"github.com/devrev/querysync/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxIdempotencyKeyLength = 255
	receiptKeyPrefix        = "querysync:receipt:create:"
)

// NewIdempotencyKey generates the key the primary attaches to a forwarded operation.
func NewIdempotencyKey() string {
	return uuid.New().String()
}

// ValidIdempotencyKey reports whether a caller-supplied key is usable.
// Keys are at most 255 bytes of printable characters without spaces.
func ValidIdempotencyKey(key string) bool {
	if key == "" || len(key) > maxIdempotencyKeyLength {
		return false
	}
	for _, c := range key {
		if !unicode.IsPrint(c) || unicode.IsSpace(c) {
			return false
		}
	}
	return true
}

// IdempotencyService namespaces receipts for creates and applies the retention TTL.
type IdempotencyService struct {
	receipts store.IdempotencyStore
	ttl      time.Duration
	logger   *zap.Logger
}

func NewIdempotencyService(receipts store.IdempotencyStore, ttl time.Duration, logger *zap.Logger) *IdempotencyService {
	return &IdempotencyService{receipts: receipts, ttl: ttl, logger: logger}
}

// Recall returns the record an earlier create under key produced, or nil.
func (s *IdempotencyService) Recall(ctx context.Context, key string) (*model.Query, error) {
	q, err := s.receipts.Lookup(ctx, receiptKeyPrefix+key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("recall receipt: %w", err)
	}
	return q, nil
}

// Remember records q as the result of the create under key.
func (s *IdempotencyService) Remember(ctx context.Context, key string, q *model.Query) error {
	if err := s.receipts.Remember(ctx, receiptKeyPrefix+key, q, s.ttl); err != nil {
		return fmt.Errorf("remember receipt: %w", err)
	}
	s.logger.Debug("Receipt stored",
		zap.String("idempotency_key", key),
		zap.Int64("query_id", q.ID))
	return nil
}
