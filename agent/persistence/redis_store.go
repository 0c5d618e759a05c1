package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	rediscache "github.com/BaSui01/skillflow/internal/cache"
	"go.uber.org/zap"
)

// RedisKV RedisRegistryStore 用到的键值操作，internal/cache.Manager 实现了它.
// 未命中返回 ErrCacheMiss，无法解码返回 ErrCorruptValue.
type RedisKV interface {
	GetJSON(ctx context.Context, key string, dest any) error
	RotateJSON(ctx context.Context, key, backupKey string, value any, ttl time.Duration) error
	Exists(ctx context.Context, keys ...string) (int64, error)
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
}

// RedisRegistryStore 基于 Redis 的注册表存储，适合多实例共享同一份快照.
// 主副本与备份分别存放在 <prefix>registry 与 <prefix>registry:backup.
type RedisRegistryStore struct {
	kv        RedisKV
	keyPrefix string
	ttl       time.Duration
	observer  OperationObserver
	logger    *zap.Logger
}

// RedisStoreConfig Redis 存储配置
type RedisStoreConfig struct {
	// 键前缀
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`

	// 快照过期时间，0 表示不过期
	TTL time.Duration `json:"ttl" yaml:"ttl"`
}

// NewRedisRegistryStore 在已有连接上创建存储. 连接由调用方管理.
func NewRedisRegistryStore(kv RedisKV, config RedisStoreConfig, logger *zap.Logger, observer OperationObserver) (*RedisRegistryStore, error) {
	if kv == nil {
		return nil, fmt.Errorf("%w: redis client is required", ErrInvalidInput)
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "skillflow:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &RedisRegistryStore{
		kv:        kv,
		keyPrefix: config.KeyPrefix,
		ttl:       config.TTL,
		observer:  observer,
		logger:    logger.With(zap.String("component", "registry_redis_store")),
	}, nil
}

func (s *RedisRegistryStore) primaryKey() string { return s.keyPrefix + "registry" }
func (s *RedisRegistryStore) backupKey() string  { return s.keyPrefix + "registry:backup" }

// Save 在一个 MULTI 事务里把旧主副本写为备份并写入新快照
func (s *RedisRegistryStore) Save(ctx context.Context, snapshot *Snapshot) (err error) {
	start := time.Now()
	defer func() { observe(s.observer, "redis", "save", start, err) }()

	if err := snapshot.Validate(); err != nil {
		return err
	}
	if err := s.kv.RotateJSON(ctx, s.primaryKey(), s.backupKey(), snapshot, s.ttl); err != nil {
		return fmt.Errorf("failed to write registry snapshot: %w", err)
	}
	s.logger.Info("registry saved", zap.String("key", s.primaryKey()), zap.Int("skills", len(snapshot.Skills)))
	return nil
}

// Load 读取主副本，损坏时回退到备份
func (s *RedisRegistryStore) Load(ctx context.Context) (snap *Snapshot, err error) {
	start := time.Now()
	defer func() { observe(s.observer, "redis", "load", start, err) }()

	snap, err = s.read(ctx, s.primaryKey())
	switch {
	case err == nil:
		snap.Source = SourcePrimary
		return snap, nil
	case rediscache.IsCacheMiss(err):
		return nil, ErrRegistryNotFound
	case !rediscache.IsCorrupt(err):
		return nil, fmt.Errorf("failed to read registry key: %w", err)
	}
	s.logger.Warn("registry snapshot corrupt, trying backup", zap.Error(err))

	snap, berr := s.read(ctx, s.backupKey())
	if berr != nil {
		return nil, fmt.Errorf("registry snapshot corrupt and no usable backup: %w", errors.Join(err, berr))
	}
	snap.Source = SourceBackup
	return snap, nil
}

// read 解码并校验一个快照键. 校验失败与解码失败一样视为损坏.
func (s *RedisRegistryStore) read(ctx context.Context, key string) (*Snapshot, error) {
	var snap Snapshot
	if err := s.kv.GetJSON(ctx, key, &snap); err != nil {
		return nil, err
	}
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", rediscache.ErrCorruptValue, err)
	}
	return &snap, nil
}

// Exists 主副本是否存在
func (s *RedisRegistryStore) Exists(ctx context.Context) (bool, error) {
	n, err := s.kv.Exists(ctx, s.primaryKey())
	return n > 0, err
}

// Invalidate 删除主副本
func (s *RedisRegistryStore) Invalidate(ctx context.Context) error {
	return s.kv.Delete(ctx, s.primaryKey())
}

// Ping 健康检查
func (s *RedisRegistryStore) Ping(ctx context.Context) error {
	return s.kv.Ping(ctx)
}

// Close 不关闭共享连接
func (s *RedisRegistryStore) Close() error {
	return nil
}
