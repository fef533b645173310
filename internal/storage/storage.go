package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	defaultTTL = 5 * time.Minute
	keyPrefix  = "feed:doc:"
)

// CachedFeed 缓存的是已经渲染好的订阅文档，命中时直接返回，不再抓取
type CachedFeed struct {
	Format      string    `json:"format"`
	ContentType string    `json:"contentType"`
	Body        []byte    `json:"body"`
	Items       int       `json:"items"`
	GeneratedAt time.Time `json:"generatedAt"`
}

type Store struct {
	Redis *redis.Client
	ttl   time.Duration
}

func NewStore(redisAddr string, ttl time.Duration) (*Store, error) {
	if redisAddr == "" {
		return nil, errors.New("redis addr is empty")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	// Redis 不可用时不阻止启动，缓存读写失败会回退到实时聚合
	if err := rdb.Ping(ctx).Err(); err != nil {
		logrus.WithError(err).WithField("addr", redisAddr).Warn("redis ping failed")
	}

	return NewStoreWithClient(rdb, ttl), nil
}

func NewStoreWithClient(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{Redis: rdb, ttl: ttl}
}

func (s *Store) TTL() time.Duration {
	return s.ttl
}

func cacheKey(format string) string {
	return keyPrefix + format
}

// SaveFeed 按格式写入缓存，过期完全依赖 TTL
func (s *Store) SaveFeed(ctx context.Context, doc CachedFeed) error {
	if doc.Format == "" {
		return errors.New("cached feed without format")
	}
	bs, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal cached feed: %w", err)
	}
	return s.Redis.Set(ctx, cacheKey(doc.Format), bs, s.ttl).Err()
}

// GetFeed 未命中时返回 ok=false 且 err 为 nil
func (s *Store) GetFeed(ctx context.Context, format string) (*CachedFeed, bool, error) {
	bs, err := s.Redis.Get(ctx, cacheKey(format)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var doc CachedFeed
	if err := json.Unmarshal(bs, &doc); err != nil {
		// 内容损坏按未命中处理，下次写入会覆盖
		return nil, false, nil
	}
	return &doc, true, nil
}

func (s *Store) Invalidate(ctx context.Context, formats ...string) error {
	if len(formats) == 0 {
		return nil
	}
	keys := make([]string, 0, len(formats))
	for _, f := range formats {
		keys = append(keys, cacheKey(f))
	}
	return s.Redis.Del(ctx, keys...).Err()
}

func (s *Store) Close() error {
	return s.Redis.Close()
}
