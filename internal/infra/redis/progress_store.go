package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-attempt-service/internal/progress"
)

// ProgressStore keeps attempt snapshots as JSON strings with a TTL so
// abandoned attempts do not accumulate. SET replaces the whole value, so
// readers never see a partial snapshot.
type ProgressStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewProgressStore(client *redis.Client, ttl time.Duration) *ProgressStore {
	return &ProgressStore{client: client, ttl: ttl}
}

func (s *ProgressStore) Save(ctx context.Context, key string, snap progress.Snapshot) error {
	data, err := progress.Encode(snap)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, s.ttl).Err()
}

func (s *ProgressStore) Load(ctx context.Context, key string) (progress.Snapshot, bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return progress.Snapshot{}, false, nil
	}
	if err != nil {
		return progress.Snapshot{}, false, err
	}
	snap, err := progress.Decode(data)
	if err != nil {
		return progress.Snapshot{}, false, err
	}
	return snap, true, nil
}

func (s *ProgressStore) Clear(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}
