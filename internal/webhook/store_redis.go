package webhook

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"steward/internal/types"
)

// Claim states stored as Redis values.
const (
	redisStateProcessing = "processing"
	redisStateProcessed  = "processed"
)

// claimTTL bounds how long an in-flight claim can block redelivery. If the
// process crashes between Begin and Complete, the claim expires and the
// provider's retry succeeds. Must exceed the slowest plausible handler.
const claimTTL = 5 * time.Minute

// RedisStore is an IdempotencyStore backed by Redis. Begin relies on
// SET NX for the atomic insert-if-absent; Complete rewrites the key with
// the retention TTL. The store is shared across all server instances, so
// idempotency holds under horizontal scaling.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	retention time.Duration
}

// NewRedisStore creates a RedisStore. retention controls how long
// processed IDs are remembered; a zero retention falls back to 30 days.
func NewRedisStore(client *redis.Client, retention time.Duration) *RedisStore {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &RedisStore{
		client:    client,
		keyPrefix: "webhook:processed:",
		retention: retention,
	}
}

// Compile-time assertion that RedisStore satisfies IdempotencyStore.
var _ IdempotencyStore = (*RedisStore)(nil)

// Begin claims the webhook ID via SET NX. Exactly one of any number of
// concurrent deliveries observes true.
func (s *RedisStore) Begin(ctx context.Context, webhookID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(webhookID), redisStateProcessing, claimTTL).Result()
	if err != nil {
		return false, types.NewAppError(
			types.ErrCodeInternalDB,
			"idempotency claim failed",
			err,
		)
	}
	return ok, nil
}

// Complete rewrites the key as processed with the full retention TTL.
func (s *RedisStore) Complete(ctx context.Context, webhookID string) error {
	if err := s.client.Set(ctx, s.key(webhookID), redisStateProcessed, s.retention).Err(); err != nil {
		return types.NewAppError(
			types.ErrCodeInternalDB,
			"idempotency commit failed",
			err,
		)
	}
	return nil
}

// Abort deletes the claim so a retry can take a fresh one. Deleting a key
// that has already been completed would reopen the event, so Abort only
// removes keys still in the processing state.
func (s *RedisStore) Abort(ctx context.Context, webhookID string) error {
	const script = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`
	if err := s.client.Eval(ctx, script, []string{s.key(webhookID)}, redisStateProcessing).Err(); err != nil {
		return types.NewAppError(
			types.ErrCodeInternalDB,
			"idempotency claim release failed",
			err,
		)
	}
	return nil
}

func (s *RedisStore) key(webhookID string) string {
	return s.keyPrefix + webhookID
}
