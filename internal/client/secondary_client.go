// Package client provides the HTTP client the primary uses to replay operations on the secondary.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	apierrors "github.com/devrev/querysync/internal/errors"
	"github.com/devrev/querysync/internal/model"
	"go.uber.org/zap"
)

const (
	// IdempotencyKeyHeader carries the key the secondary deduplicates creates by
	IdempotencyKeyHeader = "Idempotency-Key"
	// RequestIDHeader is propagated from the inbound request
	RequestIDHeader = "X-Request-ID"

	maxResponseBody = 1 << 20
)

type requestIDKey struct{}

// WithRequestID returns a context carrying the request id to propagate.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// SecondaryClient handles communication with the secondary service.
// Every failure is returned as a *apierrors.ForwardFailure.
type SecondaryClient struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger
}

// NewSecondaryClient creates a new secondary client
func NewSecondaryClient(baseURL string, timeout time.Duration, logger *zap.Logger) *SecondaryClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 32
	transport.ResponseHeaderTimeout = timeout

	return &SecondaryClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: transport,
		},
		timeout: timeout,
		logger:  logger,
	}
}

// BaseURL returns the secondary's base URL
func (c *SecondaryClient) BaseURL() string {
	return c.baseURL
}

type createRequest struct {
	Content string `json:"content"`
}

// CreateQuery replays a create on the secondary and returns the record the
// secondary stored. The secondary assigns its own id.
func (c *SecondaryClient) CreateQuery(ctx context.Context, content, idempotencyKey string) (*model.Query, error) {
	const op = "create"

	body, _ := json.Marshal(createRequest{Content: content})

	resp, respBody, err := c.do(ctx, op, http.MethodPost, "/query", body, idempotencyKey)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apierrors.UnexpectedStatus(op, resp.StatusCode)
	}

	var created model.Query
	if err := json.Unmarshal(respBody, &created); err != nil {
		return nil, apierrors.MalformedResponse(op, resp.StatusCode, err)
	}
	if created.ID == 0 {
		return nil, apierrors.MalformedResponse(op, resp.StatusCode, fmt.Errorf("response has no id"))
	}

	return &created, nil
}

// DeleteQuery replays a delete on the secondary using the same id.
// found is false when the secondary answered 404, which is not an error.
func (c *SecondaryClient) DeleteQuery(ctx context.Context, id int64, idempotencyKey string) (bool, error) {
	const op = "delete"

	resp, _, err := c.do(ctx, op, http.MethodDelete, "/query/"+strconv.FormatInt(id, 10), nil, idempotencyKey)
	if err != nil {
		return false, err
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		return true, nil
	default:
		return false, apierrors.UnexpectedStatus(op, resp.StatusCode)
	}
}

// ListQueries returns the secondary's records
func (c *SecondaryClient) ListQueries(ctx context.Context) ([]*model.Query, error) {
	const op = "list"

	resp, respBody, err := c.do(ctx, op, http.MethodGet, "/queries", nil, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apierrors.UnexpectedStatus(op, resp.StatusCode)
	}

	queries := make([]*model.Query, 0)
	if err := json.Unmarshal(respBody, &queries); err != nil {
		return nil, apierrors.MalformedResponse(op, resp.StatusCode, err)
	}
	return queries, nil
}

// Ping probes the secondary's liveness endpoint
func (c *SecondaryClient) Ping(ctx context.Context) error {
	const op = "ping"

	resp, _, err := c.do(ctx, op, http.MethodGet, "/health", nil, "")
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return apierrors.UnexpectedStatus(op, resp.StatusCode)
	}
	return nil
}

// do performs one bounded request. The body is fully read before returning.
func (c *SecondaryClient) do(
	ctx context.Context,
	op, method, path string,
	body []byte,
	idempotencyKey string,
) (*http.Response, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, nil, apierrors.ClassifyTransport(op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if idempotencyKey != "" {
		req.Header.Set(IdempotencyKeyHeader, idempotencyKey)
	}
	if requestID := requestIDFrom(ctx); requestID != "" {
		req.Header.Set(RequestIDHeader, requestID)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, apierrors.ClassifyTransport(op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, nil, apierrors.ClassifyTransport(op, err)
	}

	c.logger.Debug("secondary call completed",
		zap.String("operation", op),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	return resp, respBody, nil
}

// Close releases idle connections
func (c *SecondaryClient) Close() {
	c.httpClient.CloseIdleConnections()
}
