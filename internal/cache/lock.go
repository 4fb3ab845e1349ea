package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"SquadCheck/internal/schedule"
	"SquadCheck/storage/redis"
)

// 分布式锁，同一挑战同一时刻只允许一个实例结算
const lockPrefix = "lock"

// 只删除自己持有的锁，避免锁过期后误删别人的
var unlockScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type SweepLocker struct {
	client *goredis.Client
	tokens sync.Map // key -> token
}

var _ schedule.Locker = (*SweepLocker)(nil)

func NewSweepLocker(client *goredis.Client) *SweepLocker {
	return &SweepLocker{client: client}
}

func (l *SweepLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, redis.Key(lockPrefix, key), token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if ok {
		l.tokens.Store(key, token)
	}
	return ok, nil
}

func (l *SweepLocker) Unlock(ctx context.Context, key string) error {
	v, ok := l.tokens.LoadAndDelete(key)
	if !ok {
		return nil
	}
	if err := unlockScript.Run(ctx, l.client, []string{redis.Key(lockPrefix, key)}, v.(string)).Err(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
