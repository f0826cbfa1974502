package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyPending = "pending"
	// in-flight reservations expire so a crashed request cannot block a key forever
	idempotencyLockTTL = 2 * time.Minute
)

// IdempotencyService deduplicates requests keyed on their identifying fields.
// A nil service or a service without a Redis client accepts every request.
type IdempotencyService struct {
	client *redis.Client
	ttl    time.Duration
}

// NewIdempotencyService creates a new idempotency service
func NewIdempotencyService(client *redis.Client, ttl time.Duration) *IdempotencyService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyService{client: client, ttl: ttl}
}

// Key derives a stable token from the identifying fields of a request
func (s *IdempotencyService) Key(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}

func (s *IdempotencyService) enabled() bool {
	return s != nil && s.client != nil
}

func redisKey(scope, key string) string {
	return fmt.Sprintf("idempotency:%s:%s", scope, key)
}

// Begin reserves key within scope and returns an attempt token unique to this
// reservation, for use as the provider's idempotency key. When an earlier
// request with the same key completed, its stored result is decoded into out
// and found is true. When an earlier request is still in flight, ErrConflict
// is returned. Without Redis the attempt token is empty.
func (s *IdempotencyService) Begin(ctx context.Context, scope, key string, out any) (attempt string, found bool, err error) {
	if !s.enabled() {
		return "", false, nil
	}

	k := redisKey(scope, key)
	for i := 0; i < 2; i++ {
		nonce := uuid.NewString()
		reserved, err := s.client.SetNX(ctx, k, idempotencyPending+":"+nonce, idempotencyLockTTL).Result()
		if err != nil {
			return "", false, fmt.Errorf("failed to reserve idempotency key: %w", err)
		}
		if reserved {
			return key + "-" + nonce, false, nil
		}

		val, err := s.client.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			// expired between SETNX and GET
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("failed to read idempotency key: %w", err)
		}
		if strings.HasPrefix(val, idempotencyPending) {
			return "", false, fmt.Errorf("%w: an identical request is already in progress", ErrConflict)
		}
		if err := json.Unmarshal([]byte(val), out); err != nil {
			return "", false, fmt.Errorf("failed to decode stored result: %w", err)
		}
		return "", true, nil
	}
	return "", false, fmt.Errorf("%w: idempotency key is contended", ErrConflict)
}

// Complete stores the result for key so later duplicates can replay it
func (s *IdempotencyService) Complete(ctx context.Context, scope, key string, result any) error {
	if !s.enabled() {
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return s.client.Set(ctx, redisKey(scope, key), data, s.ttl).Err()
}

// Abort releases a reservation or a stored result so the request can run again
func (s *IdempotencyService) Abort(ctx context.Context, scope, key string) error {
	if !s.enabled() {
		return nil
	}
	return s.client.Del(ctx, redisKey(scope, key)).Err()
}
