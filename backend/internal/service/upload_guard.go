package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"ccms/backend/pkg/redis"
)

// ── 上传熔断 ──

var (
	// ErrUploadCircuitOpen 连续失败达到阈值，本次直接短路，需人工介入
	ErrUploadCircuitOpen = errors.New("文档上传连续失败，请稍后再试或联系管理员")
	// ErrStorageFailure 存储或加解密故障
	ErrStorageFailure = errors.New("文档存储失败")
	// ErrPersistenceFailure 数据库写入故障
	ErrPersistenceFailure = errors.New("数据保存失败")
)

// CounterStore 熔断计数存储
type CounterStore interface {
	Get(ctx context.Context, key string) (int, error)
	Incr(ctx context.Context, key string) (int, error)
	Reset(ctx context.Context, key string) error
}

// UploadGuard 按 (报销单, 调用方) 计数的熔断器
type UploadGuard struct {
	store     CounterStore
	threshold int
	logger    *zap.Logger
}

// NewUploadGuard 创建熔断器
func NewUploadGuard(store CounterStore, threshold int, logger *zap.Logger) *UploadGuard {
	return &UploadGuard{store: store, threshold: threshold, logger: logger}
}

func guardKey(claimID, principalID string) string {
	return claimID + ":" + principalID
}

// countsAsFailure 只有存储与持久化故障计入熔断
func countsAsFailure(err error) bool {
	return errors.Is(err, ErrStorageFailure) || errors.Is(err, ErrPersistenceFailure)
}

// Do 执行 op；计数达到阈值时不调用 op，清零并返回 ErrUploadCircuitOpen
// 计数存储自身出错时放行
func (g *UploadGuard) Do(ctx context.Context, claimID, principalID string, op func(context.Context) error) error {
	key := guardKey(claimID, principalID)

	n, err := g.store.Get(ctx, key)
	if err != nil {
		g.logger.Warn("读取熔断计数失败", zap.String("key", key), zap.Error(err))
		n = 0
	}
	if n >= g.threshold {
		if err := g.store.Reset(ctx, key); err != nil {
			g.logger.Warn("重置熔断计数失败", zap.String("key", key), zap.Error(err))
		}
		g.logger.Warn("上传熔断触发",
			zap.String("claim_id", claimID),
			zap.String("principal_id", principalID),
			zap.Int("failures", n),
		)
		return ErrUploadCircuitOpen
	}

	opErr := op(ctx)
	switch {
	case opErr == nil:
		if err := g.store.Reset(ctx, key); err != nil {
			g.logger.Warn("重置熔断计数失败", zap.String("key", key), zap.Error(err))
		}
	case countsAsFailure(opErr):
		// 调用方取消时仍需记账
		if _, err := g.store.Incr(context.WithoutCancel(ctx), key); err != nil {
			g.logger.Warn("累加熔断计数失败", zap.String("key", key), zap.Error(err))
		}
	}
	return opErr
}

// ── 内存计数 ──

type counterEntry struct {
	count   int
	expires time.Time
}

// MemoryCounterStore 进程内 TTL 计数，条目数有上限
type MemoryCounterStore struct {
	mu         sync.Mutex
	entries    map[string]*counterEntry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// NewMemoryCounterStore 创建内存计数存储
func NewMemoryCounterStore(ttl time.Duration, maxEntries int) *MemoryCounterStore {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &MemoryCounterStore{
		entries:    make(map[string]*counterEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (m *MemoryCounterStore) Get(_ context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return 0, nil
	}
	if m.now().After(e.expires) {
		delete(m.entries, key)
		return 0, nil
	}
	return e.count, nil
}

func (m *MemoryCounterStore) Incr(_ context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.entries[key]
	if !ok || now.After(e.expires) {
		if !ok && len(m.entries) >= m.maxEntries {
			m.evictLocked(now)
		}
		e = &counterEntry{}
		m.entries[key] = e
	}
	e.count++
	e.expires = now.Add(m.ttl)
	return e.count, nil
}

func (m *MemoryCounterStore) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// evictLocked 先清过期条目，仍满则淘汰最早过期的一条
func (m *MemoryCounterStore) evictLocked(now time.Time) {
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, e := range m.entries {
		if now.After(e.expires) {
			delete(m.entries, k)
			continue
		}
		if oldestKey == "" || e.expires.Before(oldest) {
			oldestKey, oldest = k, e.expires
		}
	}
	if len(m.entries) >= m.maxEntries && oldestKey != "" {
		delete(m.entries, oldestKey)
	}
}

// Len 当前条目数
func (m *MemoryCounterStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// ── Redis 计数 ──

const uploadBreakerPrefix = "upload:breaker:"

// RedisCounterStore 多实例共享的计数，INCR + EXPIRE
type RedisCounterStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCounterStore 创建 Redis 计数存储
func NewRedisCounterStore(client *redis.Client, ttl time.Duration) *RedisCounterStore {
	return &RedisCounterStore{client: client, ttl: ttl}
}

func (r *RedisCounterStore) Get(ctx context.Context, key string) (int, error) {
	n, err := r.client.GetCount(ctx, uploadBreakerPrefix+key)
	return int(n), err
}

func (r *RedisCounterStore) Incr(ctx context.Context, key string) (int, error) {
	n, err := r.client.IncrWithTTL(ctx, uploadBreakerPrefix+key, r.ttl)
	return int(n), err
}

func (r *RedisCounterStore) Reset(ctx context.Context, key string) error {
	return r.client.Delete(ctx, uploadBreakerPrefix+key)
}
