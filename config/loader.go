// =============================================================================
// 📦 SkillFlow 配置加载器
// =============================================================================
// 加载顺序: .env 文件 → 默认值 → YAML 文件 → SKILLFLOW_* 环境变量 → 规范化
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("skillflow.yaml").
//	    WithEnvFiles(".env").
//	    Load()
//
// 环境变量名由 env 标签逐级拼接，例如 performance.max_active_skills
// 对应 SKILLFLOW_PERFORMANCE_MAX_ACTIVE_SKILLS.
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix 环境变量前缀
const DefaultEnvPrefix = "SKILLFLOW"

// ErrInvalidConfig 配置校验失败
var ErrInvalidConfig = errors.New("invalid config")

// Loader 配置加载器
type Loader struct {
	configPath string
	envPrefix  string
	envFiles   []string
	validators []func(*Config) error
}

// NewLoader 创建加载器
func NewLoader() *Loader {
	return &Loader{envPrefix: DefaultEnvPrefix}
}

// WithConfigPath 设置 YAML 文件路径. 文件不存在时使用默认值.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 替换 SKILLFLOW 前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithEnvFiles 设置 .env 文件. 不存在的文件被忽略，已存在的环境变量不会被覆盖.
func (l *Loader) WithEnvFiles(files ...string) *Loader {
	l.envFiles = append(l.envFiles, files...)
	return l
}

// WithValidator 追加加载后执行的校验
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
func (l *Loader) Load() (*Config, error) {
	for _, f := range l.envFiles {
		_ = godotenv.Load(f)
	}

	cfg := DefaultConfig()
	if l.configPath != "" {
		if err := l.loadFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}
	if err := l.loadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	cfg.normalize()

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

// loadFile 解析 YAML. ${VAR} 与 $VAR 先用环境变量展开，未设置的引用原样保留.
func (l *Loader) loadFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.Expand(string(data), func(name string) string {
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return "$" + name
	})
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// loadEnv 用 <prefix>_<SECTION>_<KEY> 覆盖字段，空值跳过
func (l *Loader) loadEnv(cfg *Config) error {
	return walkEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix, func(key string, field reflect.Value) error {
		raw := os.Getenv(key)
		if raw == "" {
			return nil
		}
		if err := decodeEnv(field, raw); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		return nil
	})
}

// walkEnv 按 env 标签遍历叶子字段，嵌套分节拼接前缀
func walkEnv(v reflect.Value, prefix string, visit func(key string, field reflect.Value) error) error {
	t := v.Type()
	for i := range t.NumField() {
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + tag
		field := v.Field(i)
		if field.Kind() == reflect.Struct {
			if err := walkEnv(field, key, visit); err != nil {
				return err
			}
			continue
		}
		if err := visit(key, field); err != nil {
			return err
		}
	}
	return nil
}

// decodeEnv 字符串原样写入，列表按逗号拆分，数字、布尔与时长按 YAML 标量解码
func decodeEnv(field reflect.Value, raw string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
		return nil
	case reflect.Slice:
		field.Set(reflect.ValueOf(splitList(raw)))
		return nil
	default:
		return yaml.Unmarshal([]byte(raw), field.Addr().Interface())
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// =============================================================================
// 🧹 规范化
// =============================================================================

// normalize 统一枚举值的大小写，清理技能元数据文件列表
func (c *Config) normalize() {
	lower := func(s *string) { *s = strings.ToLower(strings.TrimSpace(*s)) }
	lower(&c.Persistence.Backend)
	lower(&c.Database.Driver)
	lower(&c.Context.Tokenizer)
	lower(&c.Log.Level)
	lower(&c.Log.Format)

	c.Skills.Directory = strings.TrimSpace(c.Skills.Directory)
	files := make([]string, 0, len(c.Skills.MetadataFiles))
	for _, f := range c.Skills.MetadataFiles {
		if f = strings.TrimSpace(f); f != "" && !slices.Contains(files, f) {
			files = append(files, f)
		}
	}
	c.Skills.MetadataFiles = files
}

// =============================================================================
// ✅ 校验
// =============================================================================

// Validate 校验配置，收集全部违规项
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if c.Skills.Enabled {
		if strings.TrimSpace(c.Skills.Directory) == "" {
			add("skills.skills_directory is required")
		}
		if len(c.Skills.MetadataFiles) == 0 {
			add("skills.metadata_files must not be empty")
		}
	}
	if c.Skills.RegistryMaxAge < 0 {
		add("skills.registry_max_age must not be negative")
	}

	if c.Performance.MaxActiveSkills <= 0 {
		add("performance.max_active_skills must be positive")
	}
	if c.Performance.MaxContextTokens <= 0 {
		add("performance.max_context_tokens must be positive")
	}
	if c.Performance.CacheSize < 0 {
		add("performance.cache_size must not be negative")
	}
	if c.Performance.TokenCacheTTL < 0 {
		add("performance.token_cache_ttl must not be negative")
	}

	if c.Activation.FuzzyMatchThreshold < 0 || c.Activation.FuzzyMatchThreshold > 1 {
		add("activation.fuzzy_match_threshold must be between 0 and 1")
	}
	if c.Activation.MaxSuggestions <= 0 {
		add("activation.max_suggestions must be positive")
	}

	if c.Context.CacheMaxSize < 0 {
		add("context.cache_max_size must not be negative")
	}
	if c.Context.CacheTTL < 0 {
		add("context.cache_ttl must not be negative")
	}
	if c.Context.MinSectionSize < 0 {
		add("context.min_section_size must not be negative")
	} else if c.Performance.MaxContextTokens > 0 && c.Context.MinSectionSize >= c.Performance.MaxContextTokens {
		add("context.min_section_size must be smaller than performance.max_context_tokens")
	}
	switch strings.ToLower(c.Context.Tokenizer) {
	case "", "estimator", "tiktoken":
	default:
		add("context.tokenizer %q is not supported", c.Context.Tokenizer)
	}

	if c.Persistence.Enabled {
		switch c.Persistence.Backend {
		case "memory", "file", "sql":
		case "redis":
			if !c.Redis.Enabled {
				add("persistence.backend redis requires redis.enabled")
			}
		default:
			add("persistence.backend %q is not supported", c.Persistence.Backend)
		}
	}
	if c.Persistence.SnapshotTTL < 0 {
		add("persistence.snapshot_ttl must not be negative")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		add("redis.addr is required when redis is enabled")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		add("database.driver %q is not supported", c.Database.Driver)
	}

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		add("invalid HTTP port")
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		add("server.tls_cert_file and server.tls_key_file must be set together")
	}
	if c.Server.RateLimitRPS < 0 {
		add("server.rate_limit_rps must not be negative")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		add("telemetry.sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}
