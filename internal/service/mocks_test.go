package service

import (
	"context"
	"errors"

	"github.com/devrev/querysync/internal/model"
	"github.com/devrev/querysync/internal/store"
	"github.com/stretchr/testify/mock"
)

// MockSecondary is a mock implementation of Secondary
type MockSecondary struct {
	mock.Mock
}

func (m *MockSecondary) CreateQuery(ctx context.Context, content, idempotencyKey string) (*model.Query, error) {
	args := m.Called(ctx, content, idempotencyKey)
	q, _ := args.Get(0).(*model.Query)
	return q, args.Error(1)
}

func (m *MockSecondary) DeleteQuery(ctx context.Context, id int64, idempotencyKey string) (bool, error) {
	args := m.Called(ctx, id, idempotencyKey)
	return args.Bool(0), args.Error(1)
}

var errDiskFull = errors.New("disk full")

// brokenStore fails every record operation
type brokenStore struct {
	*store.MemoryStore
}

func (b *brokenStore) CreateQuery(ctx context.Context, content string) (*model.Query, error) {
	return nil, errDiskFull
}

func (b *brokenStore) ListQueries(ctx context.Context) ([]*model.Query, error) {
	return nil, errDiskFull
}

func (b *brokenStore) DeleteQuery(ctx context.Context, id int64) (bool, error) {
	return false, errDiskFull
}

func (b *brokenStore) CreateQueryWithEntry(ctx context.Context, content string, entry *model.OutboxEntry) (*model.Query, error) {
	return nil, errDiskFull
}
