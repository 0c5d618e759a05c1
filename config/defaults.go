// =============================================================================
// 📦 SkillFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Skills:      DefaultSkillsConfig(),
		Performance: DefaultPerformanceConfig(),
		Activation:  DefaultActivationConfig(),
		Context:     DefaultContextConfig(),
		Persistence: DefaultPersistenceConfig(),
		Redis:       DefaultRedisConfig(),
		Database:    DefaultDatabaseConfig(),
		Server:      DefaultServerConfig(),
		Log:         DefaultLogConfig(),
		Telemetry:   DefaultTelemetryConfig(),
	}
}

// DefaultSkillsConfig 返回默认技能目录配置
func DefaultSkillsConfig() SkillsConfig {
	return SkillsConfig{
		Enabled:             true,
		AutoDiscovery:       true,
		Directory:           "skills",
		CacheDirectory:      ".skills-cache",
		MetadataFiles:       []string{"SKILL.yaml", "SKILL.md"},
		ValidateOnDiscovery: true,
		RegistryMaxAge:      24 * time.Hour,
	}
}

// DefaultPerformanceConfig 返回默认性能配置
func DefaultPerformanceConfig() PerformanceConfig {
	return PerformanceConfig{
		MaxActiveSkills:  10,
		MaxContextTokens: 150000,
		CacheSize:        1000,
		TokenCacheTTL:    5 * time.Minute,
	}
}

// DefaultActivationConfig 返回默认激活配置
func DefaultActivationConfig() ActivationConfig {
	return ActivationConfig{
		FuzzyMatchThreshold:      0.8,
		MaxSuggestions:           5,
		AutoActivateOnExactMatch: false,
	}
}

// DefaultContextConfig 返回默认上下文配置
func DefaultContextConfig() ContextConfig {
	return ContextConfig{
		CacheMaxSize:   50,
		CacheTTL:       time.Hour,
		MinSectionSize: 100,
		Tokenizer:      "estimator",
		TokenizerModel: "claude",
	}
}

// DefaultPersistenceConfig 返回默认持久化配置
func DefaultPersistenceConfig() PersistenceConfig {
	return PersistenceConfig{
		Enabled:     true,
		Backend:     "file",
		AutoMigrate: true,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		KeyPrefix:    "skillflow:",
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Path:            "skillflow.db",
		Host:            "localhost",
		Port:            5432,
		User:            "skillflow",
		Password:        "",
		Name:            "skillflow",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPath:     "/metrics",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "skillflow",
		SampleRate:   0.1,
	}
}
