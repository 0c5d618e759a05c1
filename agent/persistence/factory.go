package persistence

import (
	"fmt"

	"go.uber.org/zap"
)

// StoreConfig 注册表存储配置
type StoreConfig struct {
	// 后端类型: memory, file, redis, sql
	Type StoreType `json:"type" yaml:"type"`

	// 文件后端的缓存目录
	Dir string `json:"dir" yaml:"dir"`

	// Redis 后端配置
	Redis RedisStoreConfig `json:"redis" yaml:"redis"`
}

// DefaultStoreConfig 默认使用 .skills-cache 下的文件存储
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type: StoreTypeFile,
		Dir:  ".skills-cache",
		Redis: RedisStoreConfig{
			KeyPrefix: "skillflow:",
		},
	}
}

// StoreDeps 后端需要的外部资源. 只需填写所选后端用到的字段.
type StoreDeps struct {
	Redis    RedisKV
	DB       SQLPool
	Logger   *zap.Logger
	Observer OperationObserver
}

// NewRegistryStore 按配置创建存储
func NewRegistryStore(config StoreConfig, deps StoreDeps) (RegistryStore, error) {
	switch config.Type {
	case StoreTypeMemory:
		return NewMemoryRegistryStore(), nil
	case StoreTypeFile, "":
		return NewFileRegistryStore(config.Dir, deps.Logger, WithFileObserver(deps.Observer))
	case StoreTypeRedis:
		return NewRedisRegistryStore(deps.Redis, config.Redis, deps.Logger, deps.Observer)
	case StoreTypeSQL:
		return NewSQLRegistryStore(deps.DB, deps.Logger, deps.Observer)
	default:
		return nil, fmt.Errorf("unsupported registry store type: %s", config.Type)
	}
}

// MustNewRegistryStore 创建存储，失败时 panic. 只应在初始化阶段使用.
func MustNewRegistryStore(config StoreConfig, deps StoreDeps) RegistryStore {
	store, err := NewRegistryStore(config, deps)
	if err != nil {
		panic(fmt.Sprintf("failed to create registry store: %v", err))
	}
	return store
}
