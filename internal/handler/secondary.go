package handler

import (
	"context"
	"net/http"

	"github.com/devrev/querysync/internal/client"
	apierrors "github.com/devrev/querysync/internal/errors"
	"github.com/devrev/querysync/internal/model"
	"go.uber.org/zap"
)

// IdempotentReplayHeader is set on a create answered from the idempotency store.
const IdempotentReplayHeader = "Idempotent-Replayed"

// QueryStore is the secondary's operation set.
type QueryStore interface {
	CreateQuery(ctx context.Context, content, idempotencyKey string) (*model.Query, bool, error)
	ListQueries(ctx context.Context) ([]*model.Query, error)
	DeleteQuery(ctx context.Context, id int64) (bool, error)
}

// SecondaryHandlers serves the secondary's API.
type SecondaryHandlers struct {
	queries      QueryStore
	errorHandler *apierrors.Handler
	logger       *zap.Logger
}

// NewSecondaryHandlers creates the secondary handlers.
func NewSecondaryHandlers(queries QueryStore, errorHandler *apierrors.Handler, logger *zap.Logger) *SecondaryHandlers {
	return &SecondaryHandlers{
		queries:      queries,
		errorHandler: errorHandler,
		logger:       logger,
	}
}

// CreateQuery handles POST /query and answers 201 with the stored record.
func (h *SecondaryHandlers) CreateQuery(w http.ResponseWriter, r *http.Request) {
	content, err := decodeCreateRequest(w, r)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	q, replayed, err := h.queries.CreateQuery(r.Context(), content, r.Header.Get(client.IdempotencyKeyHeader))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if replayed {
		w.Header().Set(IdempotentReplayHeader, "true")
	}
	writeJSON(h.logger, w, http.StatusCreated, q)
}

// ListQueries handles GET /queries.
func (h *SecondaryHandlers) ListQueries(w http.ResponseWriter, r *http.Request) {
	queries, err := h.queries.ListQueries(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSON(h.logger, w, http.StatusOK, nonNil(queries))
}

// DeleteQuery handles DELETE /query/{id}.
func (h *SecondaryHandlers) DeleteQuery(w http.ResponseWriter, r *http.Request) {
	id, ok := queryID(r)
	if !ok {
		writeJSON(h.logger, w, http.StatusNotFound, MessageResponse{Message: MessageNotFound})
		return
	}

	found, err := h.queries.DeleteQuery(r.Context(), id)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if !found {
		writeJSON(h.logger, w, http.StatusNotFound, MessageResponse{Message: MessageNotFound})
		return
	}
	writeJSON(h.logger, w, http.StatusOK, MessageResponse{Message: MessageDeletedSecondary})
}
