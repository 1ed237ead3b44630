package store

import (
	"context"
	"sync"
	"time"

	"github.com/devrev/querysync/internal/model"
	"go.uber.org/zap"
)

const defaultReceiptCapacity = 10000

type receipt struct {
	query     model.Query
	expiresAt time.Time
}

// InMemoryIdempotencyStore is a bounded in-process receipt cache. When full,
// expired receipts are swept first, then the one closest to expiry is evicted.
type InMemoryIdempotencyStore struct {
	mu       sync.RWMutex
	receipts map[string]receipt
	capacity int
	logger   *zap.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

// NewInMemoryIdempotencyStore creates a store holding at most capacity receipts.
func NewInMemoryIdempotencyStore(capacity int, logger *zap.Logger) *InMemoryIdempotencyStore {
	if capacity <= 0 {
		capacity = defaultReceiptCapacity
	}
	s := &InMemoryIdempotencyStore{
		receipts: make(map[string]receipt, capacity),
		capacity: capacity,
		logger:   logger,
		stop:     make(chan struct{}),
	}
	go s.sweepLoop(time.Minute)
	return s
}

func (s *InMemoryIdempotencyStore) Lookup(ctx context.Context, key string) (*model.Query, error) {
	s.mu.RLock()
	r, ok := s.receipts[key]
	s.mu.RUnlock()

	if !ok || !time.Now().Before(r.expiresAt) {
		return nil, ErrNotFound
	}
	q := r.query
	return &q, nil
}

func (s *InMemoryIdempotencyStore) Remember(ctx context.Context, key string, q *model.Query, ttl time.Duration) error {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.receipts[key]; !exists && len(s.receipts) >= s.capacity {
		s.sweepLocked(now)
		if len(s.receipts) >= s.capacity {
			s.evictSoonestLocked()
		}
	}
	s.receipts[key] = receipt{query: *q, expiresAt: now.Add(ttl)}
	return nil
}

func (s *InMemoryIdempotencyStore) sweepLocked(now time.Time) int {
	removed := 0
	for k, r := range s.receipts {
		if !now.Before(r.expiresAt) {
			delete(s.receipts, k)
			removed++
		}
	}
	return removed
}

func (s *InMemoryIdempotencyStore) evictSoonestLocked() {
	var victim string
	var soonest time.Time
	for k, r := range s.receipts {
		if victim == "" || r.expiresAt.Before(soonest) {
			victim, soonest = k, r.expiresAt
		}
	}
	if victim != "" {
		delete(s.receipts, victim)
		s.logger.Debug("Receipt cache full, evicted key", zap.String("key", victim))
	}
}

func (s *InMemoryIdempotencyStore) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			n := s.sweepLocked(now)
			s.mu.Unlock()
			if n > 0 {
				s.logger.Debug("Swept expired receipts", zap.Int("count", n))
			}
		}
	}
}

// Len returns the number of receipts held, expired ones included.
func (s *InMemoryIdempotencyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.receipts)
}

func (s *InMemoryIdempotencyStore) Ping(ctx context.Context) error { return nil }

// Close stops the sweeper. It is safe to call more than once.
func (s *InMemoryIdempotencyStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}
