package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Blacklist 已登出令牌黑名单，按 jti 记录直到令牌过期
type Blacklist interface {
	Add(ctx context.Context, jti string, ttl time.Duration) error
	Contains(ctx context.Context, jti string) (bool, error)
}

// MemoryBlacklist 进程内黑名单
type MemoryBlacklist struct {
	entries *sync.Map
	now     func() time.Time
}

// NewMemoryBlacklist 创建进程内黑名单
func NewMemoryBlacklist() *MemoryBlacklist {
	return &MemoryBlacklist{
		entries: &sync.Map{},
		now:     time.Now,
	}
}

// Add 加入黑名单
func (b *MemoryBlacklist) Add(_ context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	b.entries.Store(jti, b.now().Add(ttl))
	return nil
}

// Contains 检查是否在黑名单中，过期条目顺带清理
func (b *MemoryBlacklist) Contains(_ context.Context, jti string) (bool, error) {
	val, ok := b.entries.Load(jti)
	if !ok {
		return false, nil
	}
	if b.now().After(val.(time.Time)) {
		b.entries.Delete(jti)
		return false, nil
	}
	return true, nil
}

const blacklistPrefix = "moneylens:token:blacklist:"

// RedisBlacklist 基于 Redis 的黑名单，多实例部署时共享
type RedisBlacklist struct {
	rdb *redis.Client
}

// NewRedisBlacklist 连接 Redis 并检查可用性
func NewRedisBlacklist(ctx context.Context, addr, password string, db int) (*RedisBlacklist, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect redis %s: %w", addr, err)
	}
	return &RedisBlacklist{rdb: rdb}, nil
}

// Add 加入黑名单，TTL 与令牌剩余有效期一致
func (b *RedisBlacklist) Add(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return b.rdb.Set(ctx, blacklistPrefix+jti, "1", ttl).Err()
}

// Contains 检查是否在黑名单中
func (b *RedisBlacklist) Contains(ctx context.Context, jti string) (bool, error) {
	n, err := b.rdb.Exists(ctx, blacklistPrefix+jti).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Ping 检查 Redis 连接
func (b *RedisBlacklist) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// Close 关闭 Redis 连接
func (b *RedisBlacklist) Close() error {
	return b.rdb.Close()
}
