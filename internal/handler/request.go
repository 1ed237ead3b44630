// Package handler provides the HTTP handlers of the primary and secondary services.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	apierrors "github.com/devrev/querysync/internal/errors"
	"github.com/devrev/querysync/internal/middleware"
	"github.com/devrev/querysync/internal/model"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const maxRequestBody = 64 << 10

// Response messages
const (
	MessageCreatedBoth      = "Created in both services"
	MessageCreatedPartially = "Created in Service1 but failed to forward to Service2"
	MessageDeletedBoth      = "Deleted from both services"
	MessageDeletedPartially = "Deleted from Service1 but failed to forward to Service2"
	MessageDeletedSecondary = "Deleted from Service2"
	MessageNotFound         = "Query not found"
)

// CreateQueryRequest is the body of POST /query.
type CreateQueryRequest struct {
	Content *string `json:"content"`
}

// MessageResponse carries a human-readable result.
type MessageResponse struct {
	Message string        `json:"message"`
	Outcome model.Outcome `json:"outcome,omitempty"`
}

// CreateQueryResponse is returned by the primary's create.
type CreateQueryResponse struct {
	Message string        `json:"message"`
	Query   *model.Query  `json:"query"`
	Outcome model.Outcome `json:"outcome"`
}

func decodeCreateRequest(w http.ResponseWriter, r *http.Request) (string, error) {
	var req CreateQueryRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return "", apierrors.InvalidField("body", "request body is required")
		}
		return "", apierrors.InvalidField("body", "invalid JSON body")
	}
	if req.Content == nil {
		return "", apierrors.InvalidField("content", "content is required")
	}
	return *req.Content, nil
}

// queryID extracts the {id} path variable. ok is false when it does not fit an int64,
// which no store can hold, so callers answer 404.
func queryID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil
}

func requestID(r *http.Request) string {
	return middleware.GetRequestID(r.Context())
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}

func nonNil(queries []*model.Query) []*model.Query {
	if queries == nil {
		return []*model.Query{}
	}
	return queries
}
