package handler

import (
	"context"
	"net/http"

	"github.com/devrev/querysync/internal/client"
	apierrors "github.com/devrev/querysync/internal/errors"
	"github.com/devrev/querysync/internal/model"
	"github.com/devrev/querysync/internal/service"
	"go.uber.org/zap"
)

// Propagator is the primary's operation set.
type Propagator interface {
	CreateQuery(ctx context.Context, content string) (*service.Result, error)
	DeleteQuery(ctx context.Context, id int64) (*service.Result, error)
	ListQueries(ctx context.Context) ([]*model.Query, error)
}

// PrimaryHandlers serves the caller-facing API of the primary.
type PrimaryHandlers struct {
	forwarder     Propagator
	errorHandler  *apierrors.Handler
	partialStatus int
	logger        *zap.Logger
}

// NewPrimaryHandlers creates the primary handlers. partialStatus is the status
// returned when the local commit succeeded but the secondary was not updated.
func NewPrimaryHandlers(forwarder Propagator, errorHandler *apierrors.Handler, partialStatus int, logger *zap.Logger) *PrimaryHandlers {
	if partialStatus == 0 {
		partialStatus = http.StatusInternalServerError
	}
	return &PrimaryHandlers{
		forwarder:     forwarder,
		errorHandler:  errorHandler,
		partialStatus: partialStatus,
		logger:        logger,
	}
}

// CreateQuery handles POST /query.
func (h *PrimaryHandlers) CreateQuery(w http.ResponseWriter, r *http.Request) {
	content, err := decodeCreateRequest(w, r)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ctx := client.WithRequestID(r.Context(), requestID(r))
	result, err := h.forwarder.CreateQuery(ctx, content)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	resp := CreateQueryResponse{Query: result.Query, Outcome: result.Outcome}
	status := http.StatusCreated
	resp.Message = MessageCreatedBoth
	if result.Outcome == model.OutcomePartiallyReplicated {
		status = h.partialStatus
		resp.Message = MessageCreatedPartially
	}
	writeJSON(h.logger, w, status, resp)
}

// ListQueries handles GET /queries. Only local records are returned.
func (h *PrimaryHandlers) ListQueries(w http.ResponseWriter, r *http.Request) {
	queries, err := h.forwarder.ListQueries(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	writeJSON(h.logger, w, http.StatusOK, nonNil(queries))
}

// DeleteQuery handles DELETE /query/{id}.
func (h *PrimaryHandlers) DeleteQuery(w http.ResponseWriter, r *http.Request) {
	id, ok := queryID(r)
	if !ok {
		writeJSON(h.logger, w, http.StatusNotFound, MessageResponse{Message: MessageNotFound, Outcome: model.OutcomeNotFound})
		return
	}

	ctx := client.WithRequestID(r.Context(), requestID(r))
	result, err := h.forwarder.DeleteQuery(ctx, id)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	switch result.Outcome {
	case model.OutcomeNotFound:
		writeJSON(h.logger, w, http.StatusNotFound, MessageResponse{Message: MessageNotFound, Outcome: result.Outcome})
	case model.OutcomePartiallyReplicated:
		writeJSON(h.logger, w, h.partialStatus, MessageResponse{Message: MessageDeletedPartially, Outcome: result.Outcome})
	default:
		writeJSON(h.logger, w, http.StatusOK, MessageResponse{Message: MessageDeletedBoth, Outcome: result.Outcome})
	}
}
