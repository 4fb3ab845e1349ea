package cache

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"SquadCheck/internal/schedule"
	"SquadCheck/storage/redis"
)

const guardPrefix = "guard"

// GuardStore 基于 Redis SETNX 的通知幂等记录。TryInsert 写入的键在 ttl 后过期，
// TryInsertPermanent 写入的键不过期
type GuardStore struct {
	client *goredis.Client
	ttl    time.Duration
}

var (
	_ schedule.GuardStore          = (*GuardStore)(nil)
	_ schedule.PermanentGuardStore = (*GuardStore)(nil)
)

func NewGuardStore(client *goredis.Client, ttl time.Duration) *GuardStore {
	return &GuardStore{client: client, ttl: ttl}
}

func (g *GuardStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := g.client.Exists(ctx, redis.Key(guardPrefix, key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check guard: %w", err)
	}
	return n > 0, nil
}

// TryInsert 写入成功返回 true，键已存在返回 false
func (g *GuardStore) TryInsert(ctx context.Context, key string) (bool, error) {
	return g.setNX(ctx, key, g.ttl)
}

// TryInsertPermanent 同 TryInsert，但键不设置过期时间
func (g *GuardStore) TryInsertPermanent(ctx context.Context, key string) (bool, error) {
	return g.setNX(ctx, key, 0)
}

func (g *GuardStore) setNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, redis.Key(guardPrefix, key), time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to insert guard: %w", err)
	}
	return ok, nil
}
