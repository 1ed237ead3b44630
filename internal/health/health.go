// Package health provides liveness and readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/devrev/querysync/internal/metrics"
	"go.uber.org/zap"
)

// Pinger is anything whose reachability can be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

type check struct {
	name     string
	pinger   Pinger
	required bool
}

// HealthCheck tracks the dependencies of one service. Required checks gate
// readiness; advisory checks are only reported.
type HealthCheck struct {
	checks        []check
	metrics       *metrics.Metrics
	logger        *zap.Logger
	checkInterval time.Duration
	checkTimeout  time.Duration

	mu        sync.RWMutex
	results   map[string]error
	ready     bool
	lastCheck time.Time
}

// NewHealthCheck creates a new HealthCheck instance.
func NewHealthCheck(m *metrics.Metrics, logger *zap.Logger) *HealthCheck {
	return &HealthCheck{
		metrics:       m,
		logger:        logger,
		checkInterval: 5 * time.Second,
		checkTimeout:  2 * time.Second,
		results:       make(map[string]error),
	}
}

// AddRequired registers a dependency that must be reachable for readiness.
func (hc *HealthCheck) AddRequired(name string, p Pinger) *HealthCheck {
	hc.checks = append(hc.checks, check{name: name, pinger: p, required: true})
	return hc
}

// AddAdvisory registers a dependency that is reported but never fails readiness.
func (hc *HealthCheck) AddAdvisory(name string, p Pinger) *HealthCheck {
	hc.checks = append(hc.checks, check{name: name, pinger: p})
	return hc
}

// LivenessResponse represents the response for the liveness check.
type LivenessResponse struct {
	Status string `json:"status"`
}

// ReadinessResponse represents the response for the readiness check.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Errors []string          `json:"errors,omitempty"`
}

// LivenessHandler handles GET /health. It answers 200 while the process runs.
func (hc *HealthCheck) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{Status: "healthy"})
}

// ReadinessHandler handles GET /ready.
func (hc *HealthCheck) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if !hc.IsReady() {
		hc.CheckNow(r.Context())
	}

	hc.mu.RLock()
	ready := hc.ready
	resp := ReadinessResponse{Checks: make(map[string]string, len(hc.checks))}
	for _, c := range hc.checks {
		err := hc.results[c.name]
		if err != nil {
			resp.Checks[c.name] = "unhealthy"
			resp.Errors = append(resp.Errors, c.name+": "+err.Error())
		} else {
			resp.Checks[c.name] = "healthy"
		}
	}
	hc.mu.RUnlock()
	sort.Strings(resp.Errors)

	if ready {
		resp.Status = "ready"
		writeJSON(w, http.StatusOK, resp)
		return
	}
	resp.Status = "not_ready"
	writeJSON(w, http.StatusServiceUnavailable, resp)
}

// CheckNow probes every dependency and updates readiness.
func (hc *HealthCheck) CheckNow(ctx context.Context) bool {
	results := make(map[string]error, len(hc.checks))
	ready := true
	for _, c := range hc.checks {
		cctx, cancel := context.WithTimeout(ctx, hc.checkTimeout)
		err := c.pinger.Ping(cctx)
		cancel()

		results[c.name] = err
		if err != nil {
			hc.logger.Warn("Health check failed",
				zap.String("check", c.name),
				zap.Bool("required", c.required),
				zap.Error(err))
			if c.required {
				ready = false
			}
		}
	}

	hc.mu.Lock()
	hc.results = results
	hc.ready = ready
	hc.lastCheck = time.Now()
	hc.mu.Unlock()

	hc.metrics.SetHealthStatus(ready)
	return ready
}

// Run re-checks dependencies periodically until ctx is canceled.
func (hc *HealthCheck) Run(ctx context.Context) error {
	hc.CheckNow(ctx)

	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			hc.CheckNow(ctx)
		}
	}
}

// IsReady returns the current readiness status.
func (hc *HealthCheck) IsReady() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.ready
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
