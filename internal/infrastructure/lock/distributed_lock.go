package lock

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ============================================================================
// Redis 分布式锁
// ============================================================================
//
// 多实例部署时，同一个用户的请求可能落在不同进程上，进程内的互斥锁失效。
//
// 加锁：SET key value NX PX ttl
//   - NX: 只有 key 不存在时才设置（保证互斥）
//   - PX: 过期时间（持有者崩溃时锁自动释放）
//   - value: 持有者标识，释放时校验
//
// 释放锁：Lua 脚本原子地 "比较 value + 删除"
//
// 这里的锁只用于减少同一用户请求在数据库上的排队，
// 余额与库存的正确性仍由数据库事务里的条件更新保证。
// ============================================================================

var (
	ErrLockFailed = errors.New("获取分布式锁失败")
)

// unlockScript 检查 value 是否匹配，匹配则删除
var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// DistributedLock 单个 key 的分布式锁
type DistributedLock struct {
	client     redis.UniversalClient
	key        string        // 锁的 key
	value      string        // 锁的 value（用于验证锁的持有者）
	expiration time.Duration // 锁的过期时间
}

func NewDistributedLock(client redis.UniversalClient, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 非阻塞加锁
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock 阻塞式加锁，最多重试 maxRetries 次
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁
//
// 【关键点】必须校验 value：
//
//	A 加锁 -> A 处理超时，锁过期 -> B 加锁 -> A 调用 Unlock
//
// 不校验的话 A 会删掉 B 的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	return unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Err()
}

// ============================================================================
// RedisLocker
// ============================================================================

var _ Locker = (*RedisLocker)(nil)

// RedisLocker 基于 DistributedLock 的 Locker
type RedisLocker struct {
	client        redis.UniversalClient
	ttl           time.Duration
	retryInterval time.Duration
	maxRetries    int
	logger        *zap.Logger
}

// NewRedisLocker logger 为 nil 时不输出日志
func NewRedisLocker(client redis.UniversalClient, ttl, retryInterval time.Duration, maxRetries int, logger *zap.Logger) *RedisLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{
		client:        client,
		ttl:           ttl,
		retryInterval: retryInterval,
		maxRetries:    maxRetries,
		logger:        logger,
	}
}

// Acquire 按排序后的顺序逐个加锁，任一失败则释放已持有的锁
func (r *RedisLocker) Acquire(ctx context.Context, keys ...string) (func(), error) {
	owner := uuid.NewString()
	held := make([]*DistributedLock, 0, len(keys))

	release := func() {
		// 释放不应受请求 ctx 取消影响
		unlockCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			// 释放失败时锁会在 ttl 后自动过期，这里只记录
			if err := held[i].Unlock(unlockCtx); err != nil {
				r.logger.Warn("释放分布式锁失败",
					zap.String("key", held[i].key),
					zap.Duration("ttl", r.ttl),
					zap.Error(err),
				)
			}
		}
	}

	for _, key := range normalize(keys) {
		l := NewDistributedLock(r.client, key, owner, r.ttl)
		if err := l.Lock(ctx, r.retryInterval, r.maxRetries); err != nil {
			release()
			return nil, err
		}
		held = append(held, l)
	}
	return release, nil
}
