package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps short-lived marks for house pages that yielded no data, so
// back-to-back runs don't hammer pages already known to be empty or broken.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr string) *RedisStore {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	return &RedisStore{client: rdb}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// MarkNoData records that a house page produced no extractable data.
func (s *RedisStore) MarkNoData(ctx context.Context, addressID int, ttl time.Duration) error {
	key := fmt.Sprintf("nodata:house:%d", addressID)
	return s.client.Set(ctx, key, "1", ttl).Err()
}

// RecentlyNoData checks whether a house page is still marked as empty.
func (s *RedisStore) RecentlyNoData(ctx context.Context, addressID int) (bool, error) {
	key := fmt.Sprintf("nodata:house:%d", addressID)
	val, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return val == 1, nil
}
