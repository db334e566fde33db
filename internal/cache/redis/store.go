// Package redis keeps cached aggregation results in Redis sorted sets,
// one per category, scored by insertion time so age windows map to
// score ranges.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/velmora/news-aggregator/internal/models"
)

// entries older than this are unreachable by any read window, so let
// Redis expire the whole key
const keyTTL = 7 * 24 * time.Hour

type envelope struct {
	InsertedAt int64            `json:"inserted_at"`
	Articles   []models.Article `json:"articles"`
}

type Store struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func categoryZKey(category models.Category) string {
	return fmt.Sprintf("news:cache:%s", category)
}

func (s *Store) Put(ctx context.Context, category models.Category, articles []models.Article, at time.Time) error {
	// nanosecond timestamp keeps members unique across rapid writes
	b, err := json.Marshal(envelope{InsertedAt: at.UnixNano(), Articles: articles})
	if err != nil {
		return err
	}

	key := categoryZKey(category)
	z := redis.Z{Score: float64(at.UnixMilli()), Member: string(b)}
	if err := s.rdb.ZAdd(ctx, key, z).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, key, keyTTL).Err()
}

func (s *Store) GetSince(ctx context.Context, category models.Category, maxAge time.Duration) ([]models.Article, error) {
	oldest := time.Now().Add(-maxAge).UnixMilli()

	members, err := s.rdb.ZRevRangeByScore(ctx, categoryZKey(category), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", oldest),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}

	var out []models.Article
	for _, m := range members {
		var env envelope
		if err := json.Unmarshal([]byte(m), &env); err != nil {
			return nil, err
		}
		out = append(out, env.Articles...)
	}
	return out, nil
}

func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	max := fmt.Sprintf("(%d", cutoff.UnixMilli())

	var removed int64
	for _, cat := range models.Categories {
		n, err := s.rdb.ZRemRangeByScore(ctx, categoryZKey(cat), "-inf", max).Result()
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, nil
}

func (s *Store) Clear(ctx context.Context, category models.Category) (int64, error) {
	if category != "" {
		n, err := s.rdb.ZCard(ctx, categoryZKey(category)).Result()
		if err != nil {
			return 0, err
		}
		if err := s.rdb.Del(ctx, categoryZKey(category)).Err(); err != nil {
			return 0, err
		}
		return n, nil
	}

	var removed int64
	for _, cat := range models.Categories {
		n, err := s.rdb.ZCard(ctx, categoryZKey(cat)).Result()
		if err != nil {
			return removed, err
		}
		if err := s.rdb.Del(ctx, categoryZKey(cat)).Err(); err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}
