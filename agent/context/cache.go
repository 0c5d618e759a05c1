package context

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	rediscache "github.com/BaSui01/skillflow/internal/cache"
	"github.com/BaSui01/skillflow/llm/cache"
	"github.com/BaSui01/skillflow/types"
	"go.uber.org/zap"
)

// =============================================================================
// 💾 上下文缓存（L1 进程内 LRU + 可选 L2 远端存储）
// =============================================================================

// RemoteStore L2 存储，internal/cache.Manager 实现了它.
// GetJSON 未命中时返回 internal/cache.ErrCacheMiss，内容无法解码时返回 ErrCorruptValue.
type RemoteStore interface {
	GetJSON(ctx context.Context, key string, dest any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// CacheObserver 缓存事件回调
type CacheObserver interface {
	ObserveCacheEvent(event string)
}

// 缓存事件
const (
	CacheEventHit       = "hit"
	CacheEventMiss      = "miss"
	CacheEventRemoteHit = "remote_hit"
	CacheEventEviction  = "eviction"
	CacheEventCorrupt   = "corrupt"
)

// CacheConfig 缓存配置
type CacheConfig struct {
	MaxSize        int           `yaml:"max_size" json:"max_size"`
	TTL            time.Duration `yaml:"ttl" json:"ttl"`
	UpdateAgeOnGet bool          `yaml:"update_age_on_get" json:"update_age_on_get"`
	RemotePrefix   string        `yaml:"remote_prefix" json:"remote_prefix"`
	RemoteTimeout  time.Duration `yaml:"remote_timeout" json:"remote_timeout"`
}

// DefaultCacheConfig 返回默认配置：50 条，1 小时，命中刷新 TTL
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxSize:        50,
		TTL:            time.Hour,
		UpdateAgeOnGet: true,
		RemotePrefix:   "skillflow:context:",
		RemoteTimeout:  200 * time.Millisecond,
	}
}

// CachedContext 缓存条目，独立于调用方的快照
type CachedContext struct {
	Key           string         `json:"key"`
	Content       string         `json:"content"`
	Timestamp     time.Time      `json:"timestamp"`
	SkillNames    []string       `json:"skillNames"`
	SteeringRules []string       `json:"steeringRules"`
	Tokens        int            `json:"tokens"`
	Sections      []Section      `json:"sections,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Clone 深拷贝
func (c *CachedContext) Clone() *CachedContext {
	if c == nil {
		return nil
	}
	out := *c
	out.SkillNames = append([]string(nil), c.SkillNames...)
	out.SteeringRules = append([]string(nil), c.SteeringRules...)
	out.Sections = append([]Section(nil), c.Sections...)
	if c.Metadata != nil {
		out.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

func (c *CachedContext) validate() error {
	if c.Key == "" {
		return errors.New("missing key")
	}
	if c.Tokens < 0 {
		return fmt.Errorf("negative token count %d", c.Tokens)
	}
	if c.Timestamp.IsZero() {
		return errors.New("missing timestamp")
	}
	if cache.SetKey(c.SkillNames, c.SteeringRules) != c.Key {
		return errors.New("key does not match skill names and steering rules")
	}
	return nil
}

func (c *CachedContext) containsSkill(name string) bool {
	for _, s := range c.SkillNames {
		if s == name {
			return true
		}
	}
	return false
}

func (c *CachedContext) containsRule(rule string) bool {
	for _, r := range c.SteeringRules {
		if r == rule {
			return true
		}
	}
	return false
}

// CacheStats 缓存统计. Evictions 只统计容量淘汰与过期.
type CacheStats struct {
	Size       int     `json:"size"`
	MaxSize    int     `json:"maxSize"`
	Hits       uint64  `json:"hits"`
	Misses     uint64  `json:"misses"`
	RemoteHits uint64  `json:"remoteHits"`
	Evictions  uint64  `json:"evictions"`
	HitRate    float64 `json:"hitRate"`
}

// Cache 按排序后的技能集合与规则集合寻址的上下文缓存
type Cache struct {
	config   CacheConfig
	local    *cache.LRU[*CachedContext]
	remote   RemoteStore
	observer CacheObserver
	now      func() time.Time
	logger   *zap.Logger

	hits       atomic.Uint64
	misses     atomic.Uint64
	remoteHits atomic.Uint64
	evictions  atomic.Uint64

	// 串行化失效与写入，避免失效期间写回旧条目
	mu sync.Mutex
}

// CacheOption 缓存选项
type CacheOption func(*Cache)

// WithRemoteStore 启用 L2
func WithRemoteStore(store RemoteStore) CacheOption {
	return func(c *Cache) { c.remote = store }
}

// WithCacheObserver 设置事件回调
func WithCacheObserver(o CacheObserver) CacheOption {
	return func(c *Cache) { c.observer = o }
}

// WithCacheClock 替换时钟，测试用
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCache 创建上下文缓存
func NewCache(config CacheConfig, logger *zap.Logger, opts ...CacheOption) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultCacheConfig()
	if config.MaxSize <= 0 {
		config.MaxSize = defaults.MaxSize
	}
	if config.RemoteTimeout <= 0 {
		config.RemoteTimeout = defaults.RemoteTimeout
	}
	c := &Cache{
		config: config,
		now:    time.Now,
		logger: logger.With(zap.String("component", "context_cache")),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.local = cache.NewLRU[*CachedContext](config.MaxSize, config.TTL,
		cache.WithUpdateAgeOnGet[*CachedContext](config.UpdateAgeOnGet),
		cache.WithClock[*CachedContext](c.now),
		cache.WithEvictCallback(func(key string, _ *CachedContext, reason cache.EvictReason) {
			c.evictions.Add(1)
			c.emit(CacheEventEviction)
			c.logger.Debug("context evicted", zap.String("key", key), zap.String("reason", string(reason)))
		}),
	)
	return c
}

// Key 计算与顺序无关的缓存键
func Key(skillNames, steeringRules []string) string {
	return cache.SetKey(skillNames, steeringRules)
}

func (c *Cache) emit(event string) {
	if c.observer != nil {
		c.observer.ObserveCacheEvent(event)
	}
}

func (c *Cache) remoteKey(key string) string {
	return c.config.RemotePrefix + key
}

// Get 先查 L1，未命中再查 L2 并回填 L1. 返回的是副本.
func (c *Cache) Get(ctx context.Context, skillNames, steeringRules []string) (*CachedContext, bool) {
	key := Key(skillNames, steeringRules)

	if entry, ok := c.local.Get(key); ok {
		c.hits.Add(1)
		c.emit(CacheEventHit)
		return entry.Clone(), true
	}

	if entry, ok := c.getRemote(ctx, key); ok {
		c.local.Set(key, entry)
		c.hits.Add(1)
		c.remoteHits.Add(1)
		c.emit(CacheEventRemoteHit)
		return entry.Clone(), true
	}

	c.misses.Add(1)
	c.emit(CacheEventMiss)
	return nil, false
}

// getRemote 读取并校验 L2 条目，损坏的条目删除后按未命中处理
func (c *Cache) getRemote(ctx context.Context, key string) (*CachedContext, bool) {
	if c.remote == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, c.config.RemoteTimeout)
	defer cancel()

	entry, err := c.readRemote(ctx, c.remoteKey(key))
	switch {
	case err == nil && entry.Key != key:
		err = errors.New("entry key mismatch")
	case rediscache.IsCacheMiss(err):
		return nil, false
	case err != nil && !isCorruptEntry(err):
		c.logger.Warn("remote context cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if err != nil {
		c.logger.Warn("corrupt remote context cache entry dropped", zap.String("key", key), zap.Error(err))
		c.emit(CacheEventCorrupt)
		_ = c.remote.Delete(ctx, c.remoteKey(key))
		return nil, false
	}
	return entry, true
}

// readRemote 读取并校验一个 L2 条目. 解码或校验失败统一报告为 ErrInvalidCacheData.
func (c *Cache) readRemote(ctx context.Context, remoteKey string) (*CachedContext, error) {
	var entry CachedContext
	err := c.remote.GetJSON(ctx, remoteKey, &entry)
	if err == nil {
		err = entry.validate()
	} else if !rediscache.IsCorrupt(err) {
		return nil, err
	}
	if err != nil {
		return nil, types.NewError(types.ErrInvalidCacheData, "invalid cached context").WithCause(err)
	}
	return &entry, nil
}

func isCorruptEntry(err error) bool {
	return types.IsCode(err, types.ErrInvalidCacheData)
}

// Set 写入 L1 与 L2，返回写入的条目
func (c *Cache) Set(ctx context.Context, entry *CachedContext) *CachedContext {
	stored := entry.Clone()
	stored.SkillNames = sortedCopy(stored.SkillNames)
	stored.SteeringRules = sortedCopy(stored.SteeringRules)
	stored.Key = Key(stored.SkillNames, stored.SteeringRules)
	if stored.Timestamp.IsZero() {
		stored.Timestamp = c.now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.local.Set(stored.Key, stored)
	c.setRemote(ctx, stored)
	return stored.Clone()
}

func (c *Cache) setRemote(ctx context.Context, entry *CachedContext) {
	if c.remote == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.config.RemoteTimeout)
	defer cancel()
	if err := c.remote.SetJSON(ctx, c.remoteKey(entry.Key), entry, c.config.TTL); err != nil {
		c.logger.Warn("remote context cache write failed", zap.String("key", entry.Key), zap.Error(err))
	}
}

// Has 只查 L1，不影响统计与 LRU 顺序
func (c *Cache) Has(skillNames, steeringRules []string) bool {
	_, ok := c.local.Peek(Key(skillNames, steeringRules))
	return ok
}

// Invalidate 删除一个精确组合
func (c *Cache) Invalidate(ctx context.Context, skillNames, steeringRules []string) bool {
	key := Key(skillNames, steeringRules)

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := c.local.Delete(key)
	if c.remote != nil {
		rctx, cancel := context.WithTimeout(ctx, c.config.RemoteTimeout)
		defer cancel()
		_ = c.remote.Delete(rctx, c.remoteKey(key))
	}
	return removed
}

// InvalidateSkill 删除所有包含该技能的条目，返回 L1 删除数
func (c *Cache) InvalidateSkill(ctx context.Context, name string) int {
	return c.invalidateWhere(ctx, func(e *CachedContext) bool { return e.containsSkill(name) })
}

// InvalidateSteering 删除所有包含该规则的条目，返回 L1 删除数
func (c *Cache) InvalidateSteering(ctx context.Context, rule string) int {
	return c.invalidateWhere(ctx, func(e *CachedContext) bool { return e.containsRule(rule) })
}

func (c *Cache) invalidateWhere(ctx context.Context, match func(*CachedContext) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.local.DeleteFunc(func(_ string, e *CachedContext) bool { return match(e) })
	c.invalidateRemoteWhere(ctx, match)
	return n
}

func (c *Cache) invalidateRemoteWhere(ctx context.Context, match func(*CachedContext) bool) {
	if c.remote == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.config.RemoteTimeout*4)
	defer cancel()

	keys, err := c.remote.Keys(ctx, c.config.RemotePrefix+"*")
	if err != nil {
		c.logger.Warn("remote context cache scan failed", zap.Error(err))
		return
	}
	var doomed []string
	for _, k := range keys {
		entry, err := c.readRemote(ctx, k)
		if err != nil && !isCorruptEntry(err) {
			continue
		}
		if err != nil || match(entry) {
			doomed = append(doomed, k)
		}
	}
	if len(doomed) > 0 {
		if err := c.remote.Delete(ctx, doomed...); err != nil {
			c.logger.Warn("remote context cache invalidation failed", zap.Error(err))
		}
	}
}

// Clear 清空 L1 与 L2 的条目和统计
func (c *Cache) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.local.Clear()
	c.hits.Store(0)
	c.misses.Store(0)
	c.remoteHits.Store(0)
	c.evictions.Store(0)
	c.invalidateRemoteWhere(ctx, func(*CachedContext) bool { return true })
}

// GetEntriesBySkill 返回包含该技能的 L1 条目副本
func (c *Cache) GetEntriesBySkill(name string) []*CachedContext {
	var out []*CachedContext
	c.local.Range(func(_ string, e *CachedContext, _ time.Time) bool {
		if e.containsSkill(name) {
			out = append(out, e.Clone())
		}
		return true
	})
	return out
}

// Keys 返回 L1 中未过期的键，最近使用的在前
func (c *Cache) Keys() []string {
	return c.local.Keys()
}

// Prune 清除 L1 过期条目
func (c *Cache) Prune() int {
	return c.local.Prune()
}

// Size L1 条目数
func (c *Cache) Size() int {
	return c.local.Len()
}

// Stats 返回统计快照
func (c *Cache) Stats() CacheStats {
	hits, misses := c.hits.Load(), c.misses.Load()
	stats := CacheStats{
		Size:       c.local.Len(),
		MaxSize:    c.config.MaxSize,
		Hits:       hits,
		Misses:     misses,
		RemoteHits: c.remoteHits.Load(),
		Evictions:  c.evictions.Load(),
	}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats
}

// Export 导出 L1 中未过期的条目
func (c *Cache) Export() []*CachedContext {
	var out []*CachedContext
	c.local.Range(func(_ string, e *CachedContext, _ time.Time) bool {
		out = append(out, e.Clone())
		return true
	})
	return out
}

// Import 导入条目，跳过已过期或校验失败的，返回导入数
func (c *Cache) Import(entries []*CachedContext) int {
	now := c.now()
	n := 0
	for _, e := range entries {
		if e == nil {
			continue
		}
		if err := e.validate(); err != nil {
			c.logger.Debug("skipping invalid imported entry", zap.Error(err))
			continue
		}
		if c.config.TTL > 0 && now.Sub(e.Timestamp) > c.config.TTL {
			continue
		}
		c.local.Set(e.Key, e.Clone())
		n++
	}
	return n
}

func sortedCopy(values []string) []string {
	out := append([]string{}, values...)
	sort.Strings(out)
	return out
}
