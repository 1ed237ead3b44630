package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"go.uber.org/zap"
)

// ErrorResponse is the body of every error answer.
type ErrorResponse struct {
	Status    string    `json:"status"`
	ErrorCode ErrorCode `json:"error_code"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
}

// Classify maps a service-layer error to its HTTP status, code and the message
// shown to the caller. Messages of unclassified errors are not exposed.
func Classify(err error) (int, ErrorCode, string) {
	var ve *ValidationError
	if stderrors.As(err, &ve) {
		return http.StatusBadRequest, ErrorCodeInvalidRequest, ve.Error()
	}
	var se *StorageError
	if stderrors.As(err, &se) {
		return http.StatusInternalServerError, ErrorCodeStorage, "storage " + se.Op + " failed"
	}
	return http.StatusInternalServerError, ErrorCodeInternalError, "internal server error"
}

// Handler writes error responses and logs server-side faults.
type Handler struct {
	logger *zap.Logger
}

func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{logger: logger}
}

// HandleError answers r with the response Classify chooses for err.
func (h *Handler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := Classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("error_code", string(code)),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID(r)),
			zap.Error(err))
	}
	h.Write(w, r, status, code, message)
}

// Write sends an error body with the given status.
func (h *Handler) Write(w http.ResponseWriter, r *http.Request, status int, code ErrorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(ErrorResponse{
		Status:    "error",
		ErrorCode: code,
		Message:   message,
		RequestID: requestID(r),
	})
	if err != nil {
		h.logger.Debug("Failed to write error response", zap.Error(err))
	}
}

func requestID(r *http.Request) string {
	return r.Header.Get("X-Request-ID")
}
