package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devrev/querysync/internal/metrics"
	"github.com/devrev/querysync/internal/model"
	"github.com/devrev/querysync/internal/store"
	"github.com/devrev/querysync/internal/workerpool"
	"go.uber.org/zap"
)

// OutboxReplayConfig holds outbox replay settings
type OutboxReplayConfig struct {
	Interval       time.Duration
	BatchSize      int
	Workers        int
	MaxAttempts    int
	TTL            time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// ReplayStats summarizes one replay pass
type ReplayStats struct {
	Replicated int
	Retried    int
	Dropped    int
}

// OutboxReplayService replays locally committed operations that have not yet
// reached the secondary.
type OutboxReplayService struct {
	outbox    store.OutboxStore
	secondary Secondary
	pool      *workerpool.Pool
	cfg       OutboxReplayConfig
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewOutboxReplayService creates a new outbox replay service
func NewOutboxReplayService(
	outbox store.OutboxStore,
	secondary Secondary,
	cfg OutboxReplayConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *OutboxReplayService {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = 5 * time.Minute
	}

	return &OutboxReplayService{
		outbox:    outbox,
		secondary: secondary,
		pool: workerpool.New(workerpool.Config{
			Name:      "outbox-replay",
			Workers:   cfg.Workers,
			QueueSize: cfg.BatchSize,
			Logger:    logger,
		}),
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Run replays due entries every interval until ctx is canceled.
func (s *OutboxReplayService) Run(ctx context.Context) error {
	s.logger.Info("Starting outbox replay",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("batch_size", s.cfg.BatchSize),
		zap.Int("max_attempts", s.cfg.MaxAttempts),
		zap.Duration("ttl", s.cfg.TTL))

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Outbox replay stopped")
			return nil
		case <-ticker.C:
			if _, err := s.Cleanup(ctx); err != nil {
				s.logger.Error("Failed to clean up outbox", zap.Error(err))
			}
			if _, err := s.ReplayOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("Outbox replay pass failed", zap.Error(err))
			}
		}
	}
}

// ReplayOnce replays up to one batch of due entries, oldest first.
func (s *OutboxReplayService) ReplayOnce(ctx context.Context) (ReplayStats, error) {
	var stats ReplayStats

	entries, err := s.outbox.DueEntries(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("failed to load due entries: %w", err)
	}
	if len(entries) == 0 {
		s.refreshDepth(ctx)
		return stats, nil
	}

	jobs := make([]workerpool.Job, len(entries))
	for i, e := range entries {
		e := e
		jobs[i] = workerpool.Job{
			Key: e.EntryID,
			Run: func(ctx context.Context) error { return s.replayEntry(ctx, e) },
		}
	}

	results := s.pool.RunAll(ctx, jobs)

	// Settle what ran even if ctx was canceled mid-pass.
	settleCtx := context.WithoutCancel(ctx)
	for i, e := range entries {
		if ctx.Err() != nil && errors.Is(results[i], ctx.Err()) {
			continue
		}
		switch s.settle(settleCtx, e, results[i]) {
		case "replicated":
			stats.Replicated++
		case "dropped":
			stats.Dropped++
		default:
			stats.Retried++
		}
	}

	s.refreshDepth(settleCtx)

	s.logger.Info("Outbox replay pass completed",
		zap.Int("entries", len(entries)),
		zap.Int("replicated", stats.Replicated),
		zap.Int("retried", stats.Retried),
		zap.Int("dropped", stats.Dropped))

	return stats, nil
}

func (s *OutboxReplayService) replayEntry(ctx context.Context, e *model.OutboxEntry) error {
	s.logger.Debug("Replaying outbox entry",
		zap.String("entry_id", e.EntryID),
		zap.String("operation", string(e.Operation)),
		zap.Int64("query_id", e.QueryID),
		zap.Int("attempts", e.Attempts))

	switch e.Operation {
	case model.OperationCreate:
		_, err := s.secondary.CreateQuery(ctx, e.Content, e.IdempotencyKey)
		return err
	case model.OperationDelete:
		_, err := s.secondary.DeleteQuery(ctx, e.QueryID, e.IdempotencyKey)
		return err
	default:
		return fmt.Errorf("unknown operation %q", e.Operation)
	}
}

// settle removes or reschedules an entry after a replay attempt and returns
// the result label.
func (s *OutboxReplayService) settle(ctx context.Context, e *model.OutboxEntry, replayErr error) string {
	if replayErr == nil {
		if err := s.outbox.DeleteEntry(ctx, e.EntryID); err != nil {
			s.logger.Error("Failed to delete replayed entry",
				zap.String("entry_id", e.EntryID),
				zap.Error(err))
		}
		s.metrics.RecordOutboxReplay("replicated")
		return "replicated"
	}

	attempts := e.Attempts + 1
	expired := s.cfg.TTL > 0 && s.now().Sub(e.CreatedAt) > s.cfg.TTL
	if attempts >= s.cfg.MaxAttempts || expired {
		s.logger.Warn("Dropping outbox entry, secondary may be missing this operation",
			zap.String("entry_id", e.EntryID),
			zap.String("operation", string(e.Operation)),
			zap.Int64("query_id", e.QueryID),
			zap.Int("attempts", attempts),
			zap.Bool("expired", expired),
			zap.Error(replayErr))
		if err := s.outbox.DeleteEntry(ctx, e.EntryID); err != nil {
			s.logger.Error("Failed to delete dropped entry",
				zap.String("entry_id", e.EntryID),
				zap.Error(err))
		}
		s.metrics.RecordOutboxReplay("dropped")
		return "dropped"
	}

	next := s.now().Add(s.backoff(attempts))
	if err := s.outbox.MarkFailed(ctx, e.EntryID, attempts, replayErr.Error(), next); err != nil {
		s.logger.Error("Failed to reschedule entry",
			zap.String("entry_id", e.EntryID),
			zap.Error(err))
	}
	s.metrics.RecordOutboxReplay("retry")
	return "retry"
}

// backoff doubles from InitialBackoff per attempt, capped at MaxBackoff.
func (s *OutboxReplayService) backoff(attempts int) time.Duration {
	d := s.cfg.InitialBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= s.cfg.MaxBackoff {
			return s.cfg.MaxBackoff
		}
	}
	return d
}

// Cleanup drops entries older than the configured TTL.
func (s *OutboxReplayService) Cleanup(ctx context.Context) (int64, error) {
	if s.cfg.TTL <= 0 {
		return 0, nil
	}
	deleted, err := s.outbox.CleanupOldEntries(ctx, s.cfg.TTL)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old entries: %w", err)
	}
	if deleted > 0 {
		s.logger.Warn("Dropped expired outbox entries",
			zap.Int64("deleted", deleted),
			zap.Duration("ttl", s.cfg.TTL))
		for i := int64(0); i < deleted; i++ {
			s.metrics.RecordOutboxReplay("dropped")
		}
	}
	return deleted, nil
}

func (s *OutboxReplayService) refreshDepth(ctx context.Context) {
	n, err := s.outbox.CountEntries(ctx)
	if err != nil {
		s.logger.Debug("Failed to count outbox entries", zap.Error(err))
		return
	}
	s.metrics.SetOutboxDepth(n)
}

// Stop stops the replay workers.
func (s *OutboxReplayService) Stop(timeout time.Duration) error {
	return s.pool.Stop(timeout)
}
