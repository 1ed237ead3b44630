package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apierrors "github.com/devrev/querysync/internal/errors"
	"github.com/devrev/querysync/internal/model"
	"github.com/devrev/querysync/internal/service"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubPropagator struct {
	createResult *service.Result
	deleteResult *service.Result
	err          error
	creates      []string
	deletes      []int64
}

func (s *stubPropagator) CreateQuery(ctx context.Context, content string) (*service.Result, error) {
	s.creates = append(s.creates, content)
	return s.createResult, s.err
}

func (s *stubPropagator) DeleteQuery(ctx context.Context, id int64) (*service.Result, error) {
	s.deletes = append(s.deletes, id)
	return s.deleteResult, s.err
}

func (s *stubPropagator) ListQueries(ctx context.Context) ([]*model.Query, error) {
	return nil, s.err
}

func newPrimary(p Propagator, partialStatus int) http.Handler {
	h := NewPrimaryHandlers(p, apierrors.NewHandler(zap.NewNop()), partialStatus, zap.NewNop())
	r := mux.NewRouter()
	r.HandleFunc("/query", h.CreateQuery).Methods(http.MethodPost)
	r.HandleFunc("/queries", h.ListQueries).Methods(http.MethodGet)
	r.HandleFunc("/query/{id:[0-9]+}", h.DeleteQuery).Methods(http.MethodDelete)
	return r
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestPrimaryHandlers_CreateQuery(t *testing.T) {
	q := &model.Query{ID: 3, Content: "x"}

	tests := []struct {
		name          string
		outcome       model.Outcome
		partialStatus int
		wantStatus    int
		wantMessage   string
	}{
		{"replicated", model.OutcomeReplicated, 0, http.StatusCreated, MessageCreatedBoth},
		{"partial default status", model.OutcomePartiallyReplicated, 0, http.StatusInternalServerError, MessageCreatedPartially},
		{"partial configured status", model.OutcomePartiallyReplicated, http.StatusAccepted, http.StatusAccepted, MessageCreatedPartially},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &stubPropagator{createResult: &service.Result{Operation: model.OperationCreate, Outcome: tt.outcome, Query: q}}
			rec := serve(newPrimary(p, tt.partialStatus), http.MethodPost, "/query", `{"content":"x"}`)

			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, tt.wantMessage, body["message"])
			assert.Equal(t, string(tt.outcome), body["outcome"])
			assert.Equal(t, float64(3), body["query"].(map[string]interface{})["id"])
			assert.Equal(t, []string{"x"}, p.creates)
		})
	}
}

func TestPrimaryHandlers_CreateQuery_BadRequests(t *testing.T) {
	for _, body := range []string{"", "{", `{"text":"x"}`, `{"content":5}`} {
		p := &stubPropagator{}
		rec := serve(newPrimary(p, 0), http.MethodPost, "/query", body)

		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
		assert.Equal(t, "INVALID_REQUEST", decodeBody(t, rec)["error_code"])
		assert.Empty(t, p.creates)
	}
}

func TestPrimaryHandlers_CreateQuery_Errors(t *testing.T) {
	p := &stubPropagator{err: apierrors.InvalidField("content", "content is required")}
	rec := serve(newPrimary(p, 0), http.MethodPost, "/query", `{"content":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	p = &stubPropagator{err: apierrors.Storage("create query", assert.AnError)}
	rec = serve(newPrimary(p, 0), http.MethodPost, "/query", `{"content":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "STORAGE_ERROR", decodeBody(t, rec)["error_code"])
}

func TestPrimaryHandlers_DeleteQuery(t *testing.T) {
	tests := []struct {
		name        string
		outcome     model.Outcome
		wantStatus  int
		wantMessage string
	}{
		{"not found", model.OutcomeNotFound, http.StatusNotFound, MessageNotFound},
		{"replicated", model.OutcomeReplicated, http.StatusOK, MessageDeletedBoth},
		{"partial", model.OutcomePartiallyReplicated, http.StatusInternalServerError, MessageDeletedPartially},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &stubPropagator{deleteResult: &service.Result{Operation: model.OperationDelete, Outcome: tt.outcome}}
			rec := serve(newPrimary(p, 0), http.MethodDelete, "/query/12", "")

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantMessage, decodeBody(t, rec)["message"])
			assert.Equal(t, []int64{12}, p.deletes)
		})
	}
}

func TestPrimaryHandlers_DeleteQuery_IDOverflow(t *testing.T) {
	p := &stubPropagator{}
	rec := serve(newPrimary(p, 0), http.MethodDelete, "/query/99999999999999999999", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, MessageNotFound, decodeBody(t, rec)["message"])
	assert.Empty(t, p.deletes)
}

func TestPrimaryHandlers_ListQueries_EmptyIsArray(t *testing.T) {
	rec := serve(newPrimary(&stubPropagator{}, 0), http.MethodGet, "/queries", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}
