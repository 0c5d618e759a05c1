// Package cache provides the Redis-backed second-level store for assembled contexts.
// This package is internal and should not be imported by external projects.
package cache

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/skillflow/internal/tlsutil"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// 💾 Redis 缓存管理器
// =============================================================================

// ErrCacheMiss 缓存未命中
var ErrCacheMiss = errors.New("cache miss")

// ErrClosed 管理器已关闭
var ErrClosed = errors.New("cache manager is closed")

// ErrCorruptValue 键存在但内容无法解码
var ErrCorruptValue = errors.New("corrupt cache value")

// Manager Redis 缓存管理器
type Manager struct {
	redis  *redis.Client
	config Config
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
}

// Config 缓存配置
type Config struct {
	// Redis 地址
	Addr string `yaml:"addr" json:"addr" env:"ADDR"`

	// 密码
	Password string `yaml:"password" json:"password" env:"PASSWORD"`

	// 数据库编号
	DB int `yaml:"db" json:"db" env:"DB"`

	// 默认过期时间
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl" env:"DEFAULT_TTL"`

	// 最大重试次数
	MaxRetries int `yaml:"max_retries" json:"max_retries" env:"MAX_RETRIES"`

	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size" env:"POOL_SIZE"`

	// 最小空闲连接数
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns" env:"MIN_IDLE_CONNS"`

	// 启用 TLS
	TLSEnabled bool `yaml:"tls_enabled" json:"tls_enabled" env:"TLS_ENABLED"`

	// 健康检查间隔，0 表示不检查
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`

	// SCAN 每批数量
	ScanCount int64 `yaml:"scan_count" json:"scan_count" env:"SCAN_COUNT"`
}

// DefaultConfig 返回默认缓存配置
func DefaultConfig() Config {
	return Config{
		Addr:                "localhost:6379",
		DefaultTTL:          time.Hour,
		MaxRetries:          3,
		PoolSize:            10,
		MinIdleConns:        2,
		HealthCheckInterval: 30 * time.Second,
		ScanCount:           100,
	}
}

// NewManager 创建缓存管理器并验证连接
func NewManager(config Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ScanCount <= 0 {
		config.ScanCount = DefaultConfig().ScanCount
	}

	opts := &redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		MaxRetries:   config.MaxRetries,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
	}
	if config.TLSEnabled {
		host, _, err := net.SplitHostPort(config.Addr)
		if err != nil {
			host = config.Addr
		}
		opts.TLSConfig = tlsutil.ClientConfig(host)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	m := &Manager{
		redis:  client,
		config: config,
		logger: logger.With(zap.String("component", "redis_cache")),
		stop:   make(chan struct{}),
	}

	if config.HealthCheckInterval > 0 {
		go m.healthCheckLoop()
	}

	m.logger.Info("redis cache connected",
		zap.String("addr", config.Addr),
		zap.Int("pool_size", config.PoolSize),
		zap.Bool("tls", config.TLSEnabled),
	)
	return m, nil
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Get 获取缓存值，不存在时返回 ErrCacheMiss
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return "", ErrClosed
	}

	val, err := m.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	if err != nil {
		m.logger.Error("cache get failed", zap.String("key", key), zap.Error(err))
		return "", fmt.Errorf("cache get failed: %w", err)
	}
	return val, nil
}

// Set 设置缓存值，ttl 为 0 时使用默认过期时间
func (m *Manager) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}
	if ttl == 0 {
		ttl = m.config.DefaultTTL
	}

	if err := m.redis.Set(ctx, key, value, ttl).Err(); err != nil {
		m.logger.Error("cache set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache set failed: %w", err)
	}
	return nil
}

// GetJSON 获取并反序列化. 内容不是合法 JSON 时返回包装了 ErrCorruptValue 的错误.
func (m *Manager) GetJSON(ctx context.Context, key string, dest any) error {
	val, err := m.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptValue, key, err)
	}
	return nil
}

// SetJSON 序列化并写入
func (m *Manager) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	return m.Set(ctx, key, string(data), ttl)
}

// RotateJSON 在一个 MULTI 事务里把 key 的旧值移到 backupKey 并写入新值.
// 与 Set 不同，ttl 为 0 表示不过期.
func (m *Manager) RotateJSON(ctx context.Context, key, backupKey string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}

	existing, err := m.redis.Get(ctx, key).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("cache get failed: %w", err)
	}
	_, err = m.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if existing != nil {
			pipe.Set(ctx, backupKey, existing, ttl)
		}
		pipe.Set(ctx, key, data, ttl)
		return nil
	})
	if err != nil {
		m.logger.Error("cache rotate failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache rotate failed: %w", err)
	}
	return nil
}

// Delete 删除键
func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}
	if len(keys) == 0 {
		return nil
	}

	if err := m.redis.Del(ctx, keys...).Err(); err != nil {
		m.logger.Error("cache delete failed", zap.Strings("keys", keys), zap.Error(err))
		return fmt.Errorf("cache delete failed: %w", err)
	}
	return nil
}

// Keys 用 SCAN 列出匹配的键，不阻塞 Redis
func (m *Manager) Keys(ctx context.Context, pattern string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	var keys []string
	iter := m.redis.Scan(ctx, 0, pattern, m.config.ScanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("cache scan failed: %w", err)
	}
	return keys, nil
}

// Exists 统计存在的键数量
func (m *Manager) Exists(ctx context.Context, keys ...string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrClosed
	}

	count, err := m.redis.Exists(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("cache exists check failed: %w", err)
	}
	return count, nil
}

// Ping 检查 Redis 连接
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}
	return m.redis.Ping(ctx).Err()
}

// Close 关闭连接并停止健康检查
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	close(m.stop)
	m.logger.Info("closing redis cache")
	return m.redis.Close()
}

// =============================================================================
// 🏥 健康检查
// =============================================================================

func (m *Manager) healthCheckLoop() {
	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.Ping(ctx); err != nil && !errors.Is(err, ErrClosed) {
			m.logger.Warn("redis health check failed", zap.Error(err))
		}
		cancel()
	}
}

// =============================================================================
// 📊 统计信息
// =============================================================================

// Stats L2 统计：连接池计数来自客户端，命中与内存来自服务端 INFO
type Stats struct {
	Keys        int64  `json:"keys"`
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	UsedMemory  int64  `json:"used_memory"`
	MaxMemory   int64  `json:"max_memory"`
	Connections int    `json:"connections"`
	PoolTotal   uint32 `json:"pool_total"`
	PoolIdle    uint32 `json:"pool_idle"`
	PoolTimeout uint32 `json:"pool_timeouts"`
}

// GetStats 读取 DBSIZE 与连接池计数. INFO 不可用时服务端字段保持为零.
func (m *Manager) GetStats(ctx context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	stats := &Stats{}
	if info, err := m.redis.Info(ctx, "stats", "memory", "clients").Result(); err == nil {
		stats = parseInfo(info)
	} else {
		m.logger.Debug("redis info unavailable", zap.Error(err))
	}

	keys, err := m.redis.DBSize(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get redis dbsize: %w", err)
	}
	stats.Keys = keys

	pool := m.redis.PoolStats()
	stats.PoolTotal = pool.TotalConns
	stats.PoolIdle = pool.IdleConns
	stats.PoolTimeout = pool.Timeouts
	return stats, nil
}

// parseInfo 解析 INFO 输出中的 key:value 行，未知字段忽略
func parseInfo(info string) *Stats {
	stats := &Stats{}
	scanner := bufio.NewScanner(strings.NewReader(info))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch key {
		case "keyspace_hits":
			stats.Hits, _ = strconv.ParseUint(value, 10, 64)
		case "keyspace_misses":
			stats.Misses, _ = strconv.ParseUint(value, 10, 64)
		case "used_memory":
			stats.UsedMemory, _ = strconv.ParseInt(value, 10, 64)
		case "maxmemory":
			stats.MaxMemory, _ = strconv.ParseInt(value, 10, 64)
		case "connected_clients":
			stats.Connections, _ = strconv.Atoi(value)
		}
	}
	return stats
}

// IsCacheMiss 判断是否为缓存未命中
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// IsCorrupt 判断是否为无法解码的缓存值
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrCorruptValue)
}
