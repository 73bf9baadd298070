package webhook

import (
	"context"
	"sync"
)

// defaultHighWaterMark bounds the in-memory store's working set. When the
// tracked set exceeds this size, the oldest half is evicted. Eviction only
// risks reprocessing a very old event; handlers are idempotent at the
// domain level, so this is a resource bound, not a correctness mechanism.
const defaultHighWaterMark = 10_000

// MemoryStore is an in-process IdempotencyStore. It is a single-instance
// approximation: idempotency does not survive restarts and does not span
// multiple server instances. Production deployments use the Postgres or
// Redis backends; this one exists for local development and tests.
type MemoryStore struct {
	mu        sync.Mutex
	seen      map[string]bool // value: true = processed, false = in-flight claim
	order     []string        // insertion order, oldest first, for eviction
	highWater int
}

// NewMemoryStore creates a MemoryStore with the given high-water mark.
// A zero or negative mark falls back to the default of 10,000 entries.
func NewMemoryStore(highWater int) *MemoryStore {
	if highWater <= 0 {
		highWater = defaultHighWaterMark
	}
	return &MemoryStore{
		seen:      make(map[string]bool),
		highWater: highWater,
	}
}

// Compile-time assertion that MemoryStore satisfies IdempotencyStore.
var _ IdempotencyStore = (*MemoryStore)(nil)

// Begin claims the webhook ID under the store mutex, making the
// check-then-claim sequence atomic with respect to concurrent deliveries
// of the same event.
func (s *MemoryStore) Begin(_ context.Context, webhookID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[webhookID]; exists {
		return false, nil
	}

	s.seen[webhookID] = false
	s.order = append(s.order, webhookID)

	if len(s.seen) > s.highWater {
		s.evictOldestHalf()
	}

	return true, nil
}

// Complete upgrades the claim to a durable (for this process) processed mark.
func (s *MemoryStore) Complete(_ context.Context, webhookID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[webhookID]; exists {
		s.seen[webhookID] = true
	}
	return nil
}

// Abort drops the in-flight claim so a retry can reprocess the event.
// Aborting an already-completed ID is a no-op.
func (s *MemoryStore) Abort(_ context.Context, webhookID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if processed, exists := s.seen[webhookID]; exists && !processed {
		delete(s.seen, webhookID)
		s.removeFromOrder(webhookID)
	}
	return nil
}

// removeFromOrder drops the tracking entry for id so that a later re-claim
// does not leave a duplicate behind. A stale duplicate would let eviction
// remove the live re-claim, and repeated abort cycles would grow the slice
// past the high-water bound. Aborts target a recently claimed ID, so the
// scan runs from the newest end. Caller must hold the mutex.
func (s *MemoryStore) removeFromOrder(id string) {
	for i := len(s.order) - 1; i >= 0; i-- {
		if s.order[i] == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

// Len reports the number of tracked IDs. Exposed for tests and the
// health endpoint.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// evictOldestHalf removes the oldest half of the tracked set. Caller must
// hold the mutex.
func (s *MemoryStore) evictOldestHalf() {
	half := len(s.order) / 2
	for _, id := range s.order[:half] {
		delete(s.seen, id)
	}
	s.order = append([]string(nil), s.order[half:]...)
}
