package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apierrors "github.com/devrev/querysync/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *SecondaryClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewSecondaryClient(srv.URL+"/", timeout, zap.NewNop())
	t.Cleanup(c.Close)
	return c
}

func requireFailure(t *testing.T, err error, kind apierrors.FailureKind) *apierrors.ForwardFailure {
	t.Helper()
	ff, ok := apierrors.AsForwardFailure(err)
	require.True(t, ok, "expected ForwardFailure, got %v", err)
	assert.Equal(t, kind, ff.Kind)
	return ff
}

func TestSecondaryClient_CreateQuery(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/query", r.URL.Path)
			assert.Equal(t, "key-1", r.Header.Get(IdempotencyKeyHeader))
			assert.Equal(t, "req-1", r.Header.Get(RequestIDHeader))

			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "hello", body["content"])

			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id": 17, "content": "hello"}`))
		}, time.Second)

		ctx := WithRequestID(context.Background(), "req-1")
		q, err := c.CreateQuery(ctx, "hello", "key-1")
		require.NoError(t, err)
		assert.Equal(t, int64(17), q.ID)
		assert.Equal(t, "hello", q.Content)
	})

	t.Run("non-success status", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}, time.Second)

		_, err := c.CreateQuery(context.Background(), "hello", "")
		ff := requireFailure(t, err, apierrors.FailureStatus)
		assert.Equal(t, http.StatusServiceUnavailable, ff.StatusCode)
	})

	t.Run("malformed body", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`<html>`))
		}, time.Second)

		_, err := c.CreateQuery(context.Background(), "hello", "")
		ff := requireFailure(t, err, apierrors.FailureMalformedResponse)
		assert.True(t, ff.Unexpected())
	})

	t.Run("timeout", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}, 50*time.Millisecond)

		start := time.Now()
		_, err := c.CreateQuery(context.Background(), "hello", "")
		requireFailure(t, err, apierrors.FailureTimeout)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		c := NewSecondaryClient(url, time.Second, zap.NewNop())
		_, err := c.CreateQuery(context.Background(), "hello", "")
		requireFailure(t, err, apierrors.FailureConnection)
	})
}

func TestSecondaryClient_DeleteQuery(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantFound bool
		wantKind  apierrors.FailureKind
	}{
		{"deleted", http.StatusOK, true, ""},
		{"not found is not an error", http.StatusNotFound, false, ""},
		{"server error", http.StatusInternalServerError, false, apierrors.FailureStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodDelete, r.Method)
				assert.Equal(t, "/query/7", r.URL.Path)
				w.WriteHeader(tt.status)
			}, time.Second)

			found, err := c.DeleteQuery(context.Background(), 7, "")
			if tt.wantKind != "" {
				requireFailure(t, err, tt.wantKind)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFound, found)
		})
	}
}

func TestSecondaryClient_ListAndPing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/queries":
			w.Write([]byte(`[{"id":1,"content":"a"},{"id":2,"content":"b"}]`))
		case "/health":
			w.Write([]byte(`{"status":"healthy"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}, time.Second)

	queries, err := c.ListQueries(context.Background())
	require.NoError(t, err)
	require.Len(t, queries, 2)
	assert.Equal(t, "b", queries[1].Content)

	assert.NoError(t, c.Ping(context.Background()))
}
