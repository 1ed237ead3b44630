package service

import (
	"context"

	"github.com/devrev/querysync/internal/model"
)

// Secondary is the remote side the primary replays mutating operations on.
// Implementations return *errors.ForwardFailure for every failed call.
type Secondary interface {
	CreateQuery(ctx context.Context, content, idempotencyKey string) (*model.Query, error)
	// DeleteQuery reports whether the secondary held the id. Absence is not a failure.
	DeleteQuery(ctx context.Context, id int64, idempotencyKey string) (bool, error)
}
