// =============================================================================
// 🧩 SkillFlow 配置结构
// =============================================================================
// 配置分两层：YAML/环境变量直接映射的分节结构，以及各组件构造时
// 使用的配置投影（激活器、上下文管理器、注册表存储、Redis、数据库）
// =============================================================================
package config

import (
	"fmt"
	"time"

	"github.com/BaSui01/skillflow/agent/activation"
	agentctx "github.com/BaSui01/skillflow/agent/context"
	"github.com/BaSui01/skillflow/agent/discovery"
	"github.com/BaSui01/skillflow/agent/persistence"
	"github.com/BaSui01/skillflow/internal/cache"
	"github.com/BaSui01/skillflow/internal/database"
	"github.com/BaSui01/skillflow/internal/server"
	"github.com/BaSui01/skillflow/llm/tokenizer"
)

// Config 是 SkillFlow 的完整配置结构
type Config struct {
	// Skills 技能目录与发现
	Skills SkillsConfig `yaml:"skills" env:"SKILLS"`

	// Performance 容量与 Token 上限
	Performance PerformanceConfig `yaml:"performance" env:"PERFORMANCE"`

	// Activation 关键词激活
	Activation ActivationConfig `yaml:"activation" env:"ACTIVATION"`

	// Context 上下文构建
	Context ContextConfig `yaml:"context" env:"CONTEXT"`

	// Persistence 注册表持久化
	Persistence PersistenceConfig `yaml:"persistence" env:"PERSISTENCE"`

	// Redis 缓存配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 数据库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// SkillsConfig 技能目录配置
type SkillsConfig struct {
	// 是否启用技能系统
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 初始化时是否扫描技能目录
	AutoDiscovery bool `yaml:"auto_discovery" env:"AUTO_DISCOVERY"`
	// 技能目录
	Directory string `yaml:"skills_directory" env:"DIRECTORY"`
	// 注册表快照目录
	CacheDirectory string `yaml:"cache_directory" env:"CACHE_DIRECTORY"`
	// 元数据文件名
	MetadataFiles []string `yaml:"metadata_files" env:"METADATA_FILES"`
	// 发现时是否校验元数据
	ValidateOnDiscovery bool `yaml:"validate_on_discovery" env:"VALIDATE_ON_DISCOVERY"`
	// 快照最大有效期，超过后重新扫描
	RegistryMaxAge time.Duration `yaml:"registry_max_age" env:"REGISTRY_MAX_AGE"`
}

// PerformanceConfig 性能配置
type PerformanceConfig struct {
	// 同时活跃的技能上限
	MaxActiveSkills int `yaml:"max_active_skills" env:"MAX_ACTIVE_SKILLS"`
	// 上下文 Token 上限
	MaxContextTokens int `yaml:"max_context_tokens" env:"MAX_CONTEXT_TOKENS"`
	// Token 计数缓存容量
	CacheSize int `yaml:"cache_size" env:"CACHE_SIZE"`
	// Token 计数缓存 TTL
	TokenCacheTTL time.Duration `yaml:"token_cache_ttl" env:"TOKEN_CACHE_TTL"`
}

// ActivationConfig 激活配置
type ActivationConfig struct {
	// 自动激活所需的最低分数
	FuzzyMatchThreshold float64 `yaml:"fuzzy_match_threshold" env:"FUZZY_MATCH_THRESHOLD"`
	// 返回的候选数量
	MaxSuggestions int `yaml:"max_suggestions" env:"MAX_SUGGESTIONS"`
	// 精确匹配时是否自动激活
	AutoActivateOnExactMatch bool `yaml:"auto_activate_on_exact_match" env:"AUTO_ACTIVATE_ON_EXACT_MATCH"`
}

// ContextConfig 上下文配置
type ContextConfig struct {
	// 上下文缓存容量
	CacheMaxSize int `yaml:"cache_max_size" env:"CACHE_MAX_SIZE"`
	// 上下文缓存 TTL
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
	// 部分保留段落的最小剩余 Token
	MinSectionSize int `yaml:"min_section_size" env:"MIN_SECTION_SIZE"`
	// 分词器: estimator, tiktoken
	Tokenizer string `yaml:"tokenizer" env:"TOKENIZER"`
	// 分词器模型
	TokenizerModel string `yaml:"tokenizer_model" env:"TOKENIZER_MODEL"`
	// 引导规则文件目录（可选）
	SteeringDirectory string `yaml:"steering_directory" env:"STEERING_DIRECTORY"`
}

// PersistenceConfig 注册表持久化配置
type PersistenceConfig struct {
	// 是否持久化注册表
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 后端: memory, file, redis, sql
	Backend string `yaml:"backend" env:"BACKEND"`
	// 保存时是否同时写入快照 TTL（仅 redis）
	SnapshotTTL time.Duration `yaml:"snapshot_ttl" env:"SNAPSHOT_TTL"`
	// 打开 sql 后端时是否自动执行迁移
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 启用 TLS
	TLSEnabled bool `yaml:"tls_enabled" env:"TLS_ENABLED"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: sqlite, postgres
	Driver string `yaml:"driver" env:"DRIVER"`
	// sqlite 文件路径
	Path string `yaml:"path" env:"PATH"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// 指标路径
	MetricsPath string `yaml:"metrics_path" env:"METRICS_PATH"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每个客户端的每秒请求数
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 突发请求数
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 证书与私钥同时设置时以 HTTPS 提供服务
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
	// 同时通过 OTLP 导出指标（Prometheus 始终可用）
	ExportMetrics bool `yaml:"export_metrics" env:"EXPORT_METRICS"`
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "sqlite":
		return d.Path
	default:
		return ""
	}
}

// Addr 返回 HTTP 监听地址
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.HTTPPort)
}

// =============================================================================
// 🔌 组件配置投影
// =============================================================================

// TokenCounterConfig token 计数的记忆化缓存
func (c *Config) TokenCounterConfig() tokenizer.CounterConfig {
	return tokenizer.CounterConfig{
		CacheSize: c.Performance.CacheSize,
		CacheTTL:  c.Performance.TokenCacheTTL,
	}
}

// SkillScannerConfig 目录扫描. validate_on_discovery 决定元数据不合法的技能是否被丢弃.
func (c *Config) SkillScannerConfig() discovery.ScannerConfig {
	cfg := discovery.DefaultScannerConfig()
	cfg.Validate = c.Skills.ValidateOnDiscovery
	return cfg
}

// ActivatorConfig 活跃上限与模糊匹配参数
func (c *Config) ActivatorConfig() activation.Config {
	return activation.Config{
		MaxActiveSkills:     c.Performance.MaxActiveSkills,
		FuzzyMatchThreshold: c.Activation.FuzzyMatchThreshold,
		MaxSuggestions:      c.Activation.MaxSuggestions,
	}
}

// ContextManagerConfig 上下文预算与两级缓存. L2 条目放在 Redis 键前缀下的 context: 命名空间.
func (c *Config) ContextManagerConfig() agentctx.Config {
	cacheCfg := agentctx.DefaultCacheConfig()
	cacheCfg.MaxSize = c.Context.CacheMaxSize
	cacheCfg.TTL = c.Context.CacheTTL
	cacheCfg.RemotePrefix = c.Redis.KeyPrefix + "context:"

	return agentctx.Config{
		MaxTokens:      c.Performance.MaxContextTokens,
		MinSectionSize: c.Context.MinSectionSize,
		Cache:          cacheCfg,
	}
}

// RegistryStoreConfig 注册表快照后端. file 后端写入 skills.cache_directory.
func (c *Config) RegistryStoreConfig() persistence.StoreConfig {
	cfg := persistence.DefaultStoreConfig()
	cfg.Type = persistence.StoreType(c.Persistence.Backend)
	if c.Skills.CacheDirectory != "" {
		cfg.Dir = c.Skills.CacheDirectory
	}
	cfg.Redis = persistence.RedisStoreConfig{
		KeyPrefix: c.Redis.KeyPrefix,
		TTL:       c.Persistence.SnapshotTTL,
	}
	return cfg
}

// RedisManagerConfig 共享 Redis 连接. 未指定 TTL 的写入沿用上下文缓存 TTL.
func (c *Config) RedisManagerConfig() cache.Config {
	cfg := cache.DefaultConfig()
	cfg.Addr = c.Redis.Addr
	cfg.Password = c.Redis.Password
	cfg.DB = c.Redis.DB
	cfg.DefaultTTL = c.Context.CacheTTL
	cfg.PoolSize = c.Redis.PoolSize
	cfg.MinIdleConns = c.Redis.MinIdleConns
	cfg.TLSEnabled = c.Redis.TLSEnabled
	return cfg
}

// DatabaseConnConfig sql 后端的驱动、DSN 与连接池
func (c *Config) DatabaseConnConfig() database.Config {
	pool := database.DefaultPoolConfig()
	pool.MaxOpenConns = c.Database.MaxOpenConns
	pool.MaxIdleConns = c.Database.MaxIdleConns
	pool.ConnMaxLifetime = c.Database.ConnMaxLifetime
	return database.Config{
		Driver: c.Database.Driver,
		DSN:    c.Database.DSN(),
		Pool:   pool,
	}
}

// HTTPServerConfig API 服务器. 未设置的超时沿用 server.DefaultConfig.
func (c *Config) HTTPServerConfig() server.Config {
	cfg := server.DefaultConfig()
	cfg.Addr = c.Server.Addr()
	if c.Server.ReadTimeout > 0 {
		cfg.ReadTimeout = c.Server.ReadTimeout
	}
	if c.Server.WriteTimeout > 0 {
		cfg.WriteTimeout = c.Server.WriteTimeout
	}
	if c.Server.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = c.Server.ShutdownTimeout
	}
	cfg.TLSCertFile = c.Server.TLSCertFile
	cfg.TLSKeyFile = c.Server.TLSKeyFile
	return cfg
}
