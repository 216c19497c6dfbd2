// Package resultstore persists task execution results in Redis so operators
// can inspect the fate of a message by id after the fact.
package resultstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cognive/controlplane-go/messaging"
)

// ErrResultNotFound is returned when no result exists for a message id.
var ErrResultNotFound = errors.New("resultstore: result not found")

const (
	keyPrefix     = "controlplane:task:"
	defaultExpiry = time.Hour
)

// RedisStore records task results keyed by message id with a bounded TTL.
// Recording is best effort from the executor's point of view; the store
// returns errors but the messaging layer only logs them.
type RedisStore struct {
	client *redis.Client
	expiry time.Duration
}

// RedisStoreOption configures the store.
type RedisStoreOption func(*RedisStore)

// WithResultExpiry overrides the default 1h result retention.
func WithResultExpiry(d time.Duration) RedisStoreOption {
	return func(s *RedisStore) {
		s.expiry = d
	}
}

// NewRedisStore creates a store over an existing client.
func NewRedisStore(client *redis.Client, options ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		client: client,
		expiry: defaultExpiry,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Record writes the result under the message id, overwriting any earlier
// attempt's result so the key always reflects the latest outcome.
func (s *RedisStore) Record(ctx context.Context, result messaging.TaskResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("resultstore: encode result for %q: %w", result.MessageID, err)
	}
	if err := s.client.Set(ctx, keyPrefix+result.MessageID, data, s.expiry).Err(); err != nil {
		return fmt.Errorf("resultstore: store result for %q: %w", result.MessageID, err)
	}
	return nil
}

// Get fetches the latest recorded result for a message id.
func (s *RedisStore) Get(ctx context.Context, messageID string) (messaging.TaskResult, error) {
	data, err := s.client.Get(ctx, keyPrefix+messageID).Bytes()
	if errors.Is(err, redis.Nil) {
		return messaging.TaskResult{}, fmt.Errorf("%w: %q", ErrResultNotFound, messageID)
	}
	if err != nil {
		return messaging.TaskResult{}, fmt.Errorf("resultstore: fetch result for %q: %w", messageID, err)
	}

	var result messaging.TaskResult
	if err := json.Unmarshal(data, &result); err != nil {
		return messaging.TaskResult{}, fmt.Errorf("resultstore: decode result for %q: %w", messageID, err)
	}
	return result, nil
}

// Ping verifies connectivity; used by health checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
