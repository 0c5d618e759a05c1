// Package skillflow 是技能编排核心的顶层入口.
//
// 用法:
//
//	import "github.com/BaSui01/skillflow"
//
//	sys, err := skillflow.New(cfg, skillflow.WithLogger(logger))
//	if err != nil { ... }
//	defer sys.Close()
//
//	if err := sys.Initialize(ctx); err != nil { ... }
//	res := sys.ActivateByKeywords(ctx, "review my react component", true)
//	built := sys.BuildContext(ctx, agentctx.DefaultBuildOptions())
//
// System 持有注册表、关键词索引、依赖解析器、激活器与上下文管理器，
// 由调用方显式创建和关闭，不存在进程级单例.
package skillflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/skillflow/agent/activation"
	agentctx "github.com/BaSui01/skillflow/agent/context"
	"github.com/BaSui01/skillflow/agent/discovery"
	"github.com/BaSui01/skillflow/agent/persistence"
	"github.com/BaSui01/skillflow/agent/skills"
	"github.com/BaSui01/skillflow/config"
	"github.com/BaSui01/skillflow/internal/cache"
	"github.com/BaSui01/skillflow/internal/database"
	"github.com/BaSui01/skillflow/internal/metrics"
	"github.com/BaSui01/skillflow/internal/migration"
	"github.com/BaSui01/skillflow/internal/telemetry"
	"github.com/BaSui01/skillflow/llm/tokenizer"
	"github.com/BaSui01/skillflow/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// 📦 响应信封
// =============================================================================

// Response 门面操作的统一返回值. 失败时 Error 为可读信息，Code 为错误码.
// 部分失败的操作（例如批量激活）同时返回 Data.
type Response[T any] struct {
	Success bool            `json:"success"`
	Data    T               `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Code    types.ErrorCode `json:"code,omitempty"`
}

// Err 把失败响应还原为 *types.Error，成功时返回 nil
func (r Response[T]) Err() error {
	if r.Success {
		return nil
	}
	code := r.Code
	if code == "" {
		code = types.ErrInternalError
	}
	return types.NewError(code, r.Error)
}

func succeed[T any](data T) Response[T] {
	return Response[T]{Success: true, Data: data}
}

func fail[T any](data T, err error) Response[T] {
	code := types.GetErrorCode(err)
	if code == "" {
		code = types.ErrInternalError
	}
	return Response[T]{Data: data, Error: err.Error(), Code: code}
}

// =============================================================================
// 🧩 结果类型
// =============================================================================

// RefreshResult 重新扫描的差异
type RefreshResult struct {
	Total       int      `json:"total"`
	Added       []string `json:"added"`
	Updated     []string `json:"updated"`
	Removed     []string `json:"removed"`
	Deactivated []string `json:"deactivated"`
	Failures    int      `json:"failures"`
}

// SaveResult 注册表保存结果
type SaveResult struct {
	Skills     int       `json:"skills"`
	ExportedAt time.Time `json:"exportedAt"`
	Backend    string    `json:"backend"`
}

// RegistryStatus 注册表、依赖图与关键词索引的统计
type RegistryStatus struct {
	Registry skills.RegistryStats `json:"registry"`
	Graph    skills.GraphStats    `json:"graph"`
	Index    discovery.IndexStats `json:"index"`
	Cycles   []skills.Cycle       `json:"cycles"`
}

// CacheReport 上下文缓存与 token 缓存统计. 启用 Redis 或 SQL 存储时附带连接统计.
type CacheReport struct {
	agentctx.ManagerCacheStats
	Redis    *cache.Stats        `json:"redis,omitempty"`
	Database *database.PoolStats `json:"database,omitempty"`
}

// Status 系统状态
type Status struct {
	Initialized  bool   `json:"initialized"`
	SessionID    string `json:"sessionId"`
	TotalSkills  int    `json:"totalSkills"`
	ActiveSkills int    `json:"activeSkills"`
	MaxActive    int    `json:"maxActive"`
	Store        string `json:"store"`
	Source       string `json:"source"`
}

// 注册表来源
const (
	SourceNone      = "none"
	SourceDiscovery = "discovery"
)

// =============================================================================
// ⚙️ 选项
// =============================================================================

// Option 配置 System
type Option func(*System)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(s *System) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics 设置指标收集器，激活、上下文构建、缓存与存储操作都会上报
func WithMetrics(c *metrics.Collector) Option {
	return func(s *System) { s.metrics = c }
}

// WithRegistryStore 使用外部存储，替代按配置创建的后端
func WithRegistryStore(store persistence.RegistryStore) Option {
	return func(s *System) { s.store = store }
}

// WithSteeringRules 设置初始引导规则
func WithSteeringRules(rules ...string) Option {
	return func(s *System) { s.steering = append([]string(nil), rules...) }
}

// =============================================================================
// 🎯 System
// =============================================================================

// System 技能编排门面
type System struct {
	cfg    *config.Config
	logger *zap.Logger

	registry  *skills.Registry
	graph     *skills.DependencyGraph
	resolver  *skills.DependencyResolver
	validator *skills.Validator
	index     *discovery.KeywordIndex
	matcher   *discovery.KeywordMatcher
	scanner   *discovery.Scanner
	parser    *discovery.Scanner
	activator *activation.Activator
	counter   *tokenizer.Counter
	contexts  *agentctx.Manager

	metrics *metrics.Collector
	store   persistence.RegistryStore
	redis   *cache.Manager
	db      *database.PoolManager

	sessionID   string
	steering    []string
	source      string
	initialized bool
	closed      bool

	// 串行化变更操作
	mu sync.RWMutex
}

// New 按配置组装系统. cfg 为 nil 时使用默认配置.
// 外部资源（Redis、数据库）在此建立连接，失败时已建立的连接会被释放.
func New(cfg *config.Config, opts ...Option) (sys *System, err error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &System{
		cfg:       cfg,
		logger:    zap.NewNop(),
		sessionID: uuid.NewString(),
		source:    SourceNone,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "skill_system"), zap.String("session_id", s.sessionID))

	defer func() {
		if err != nil {
			_ = s.closeResources()
		}
	}()

	tok, err := tokenizer.New(cfg.Context.Tokenizer, cfg.Context.TokenizerModel)
	if err != nil {
		return nil, fmt.Errorf("create tokenizer: %w", err)
	}
	s.counter = tokenizer.NewCounter(tok, cfg.TokenCounterConfig(), s.logger)

	s.registry = skills.NewRegistry(s.logger)
	s.graph = skills.NewDependencyGraph()
	s.index = discovery.NewKeywordIndex(0)
	s.registry.OnChange(s.syncIndexes)
	s.resolver = skills.NewDependencyResolver(s.registry)
	s.validator = skills.NewValidator()
	s.matcher = discovery.NewKeywordMatcher(s.index, s.registry, s.logger)

	scanCfg := cfg.SkillScannerConfig()
	s.scanner = discovery.NewScanner(scanCfg, s.logger)
	parseCfg := scanCfg
	parseCfg.Validate = false
	s.parser = discovery.NewScanner(parseCfg, s.logger)

	var activatorOpts []activation.Option
	if s.metrics != nil {
		activatorOpts = append(activatorOpts, activation.WithObserver(s.metrics))
	}
	s.activator = activation.NewActivator(s.registry, s.resolver, s.matcher, cfg.ActivatorConfig(), s.logger, activatorOpts...)

	if cfg.Redis.Enabled {
		s.redis, err = cache.NewManager(cfg.RedisManagerConfig(), s.logger)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
	}

	s.contexts = s.newContextManager()

	if s.store == nil && cfg.Persistence.Enabled {
		if s.store, err = s.openStore(context.Background()); err != nil {
			return nil, err
		}
	}

	s.logger.Info("skill system created",
		zap.Int("max_active_skills", cfg.Performance.MaxActiveSkills),
		zap.Int("max_context_tokens", cfg.Performance.MaxContextTokens),
		zap.String("tokenizer", tok.Name()),
		zap.Bool("redis", s.redis != nil),
		zap.String("store", s.storeName()),
	)
	return s, nil
}

func (s *System) newContextManager() *agentctx.Manager {
	mgrCfg := s.cfg.ContextManagerConfig()

	var cacheOpts []agentctx.CacheOption
	if s.redis != nil {
		cacheOpts = append(cacheOpts, agentctx.WithRemoteStore(s.redis))
	}
	var managerOpts []agentctx.ManagerOption
	if s.metrics != nil {
		cacheOpts = append(cacheOpts, agentctx.WithCacheObserver(s.metrics))
		managerOpts = append(managerOpts, agentctx.WithBuildObserver(s.metrics))
	}
	managerOpts = append(managerOpts, agentctx.WithCache(agentctx.NewCache(mgrCfg.Cache, s.logger, cacheOpts...)))

	return agentctx.NewManager(mgrCfg, s.counter, s.logger, managerOpts...)
}

// openStore 按 persistence.backend 创建注册表存储
func (s *System) openStore(ctx context.Context) (persistence.RegistryStore, error) {
	storeCfg := s.cfg.RegistryStoreConfig()

	deps := persistence.StoreDeps{Logger: s.logger}
	if s.metrics != nil {
		deps.Observer = s.metrics
	}

	switch storeCfg.Type {
	case persistence.StoreTypeRedis:
		if s.redis == nil {
			return nil, types.NewError(types.ErrInvalidArgument, "redis persistence requires redis.enabled")
		}
		deps.Redis = s.redis
	case persistence.StoreTypeSQL:
		db, err := s.openDatabase(ctx)
		if err != nil {
			return nil, err
		}
		deps.DB = db
	}

	store, err := persistence.NewRegistryStore(storeCfg, deps)
	if err != nil {
		return nil, fmt.Errorf("create registry store: %w", err)
	}
	return store, nil
}

func (s *System) openDatabase(ctx context.Context) (*database.PoolManager, error) {
	pm, err := database.Connect(ctx, s.cfg.DatabaseConnConfig(), s.logger)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	s.db = pm

	if s.cfg.Persistence.AutoMigrate {
		dbType, err := migration.ParseDatabaseType(s.cfg.Database.Driver)
		if err != nil {
			return nil, err
		}
		sqlDB, err := pm.DB().DB()
		if err != nil {
			return nil, fmt.Errorf("get sql.DB: %w", err)
		}
		if _, err := migration.ApplyAll(ctx, sqlDB, dbType, s.logger); err != nil {
			return nil, fmt.Errorf("migrate registry schema: %w", err)
		}
	}
	return pm, nil
}

// syncIndexes 让关键词索引与依赖图跟随注册表变化
func (s *System) syncIndexes(event skills.RegistryEvent, current, previous *skills.Skill) {
	switch event {
	case skills.EventRegistered, skills.EventUpdated:
		s.index.AddSkill(&current.Metadata)
		s.graph.AddSkill(current.Metadata.Name, current.SkillDependencies())
	case skills.EventUnregistered:
		s.index.RemoveSkill(previous.Metadata.Name)
		s.graph.RemoveSkill(previous.Metadata.Name)
	case skills.EventCleared:
		s.index.Clear()
		s.graph.Rebuild(s.registry)
	}
	if s.metrics != nil {
		s.metrics.RecordRegistrySize(s.registry.Size())
	}
}

func (s *System) storeName() string {
	if s.store == nil {
		return "disabled"
	}
	if s.cfg.Persistence.Backend == "" {
		return string(persistence.StoreTypeFile)
	}
	return s.cfg.Persistence.Backend
}

// SessionID 本次会话 ID
func (s *System) SessionID() string {
	return s.sessionID
}

// Config 返回配置
func (s *System) Config() *config.Config {
	return s.cfg
}

// Registry 返回注册表
func (s *System) Registry() *skills.Registry {
	return s.registry
}

// Activator 返回激活器
func (s *System) Activator() *activation.Activator {
	return s.activator
}

// ContextManager 返回上下文管理器
func (s *System) ContextManager() *agentctx.Manager {
	return s.contexts
}

// =============================================================================
// 🚀 生命周期
// =============================================================================

// Initialize 填充注册表. 优先读取持久化快照，快照缺失、损坏或超过
// skills.registry_max_age 时扫描技能目录，并把结果写回存储.
// 重复调用无副作用.
func (s *System) Initialize(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := telemetry.StartRegistrySpan(ctx, "registry.initialize", s.sessionID, s.storeName())
	defer func() {
		span.SetAttributes(
			telemetry.AttrRegistrySource.String(s.source),
			telemetry.AttrRegistrySkills.Int(s.registry.Size()),
		)
		telemetry.End(span, err)
	}()

	if s.closed {
		return types.NewError(types.ErrInternalError, "skill system is closed")
	}
	if s.initialized {
		return nil
	}
	if !s.cfg.Skills.Enabled {
		s.initialized = true
		s.logger.Info("skill system disabled")
		return nil
	}

	if err := s.loadSteeringLocked(); err != nil {
		return err
	}

	loaded, err := s.loadSnapshotLocked(ctx)
	if err != nil {
		return err
	}
	if !loaded && s.cfg.Skills.AutoDiscovery {
		if _, err := s.discoverLocked(ctx); err != nil {
			return err
		}
		if s.store != nil {
			if _, err := persistence.SaveRegistry(ctx, s.store, s.registry); err != nil {
				s.logger.Warn("failed to persist discovered registry", zap.Error(err))
			}
		}
	}

	s.initialized = true
	s.logger.Info("skill system initialized",
		zap.Int("skills", s.registry.Size()),
		zap.String("source", s.source),
		zap.Int("steering_rules", len(s.steering)),
	)
	return nil
}

// loadSnapshotLocked 读取快照并重新读取提示词内容. 返回 false 表示需要扫描.
func (s *System) loadSnapshotLocked(ctx context.Context) (bool, error) {
	if s.store == nil {
		return false, nil
	}

	snap, n, err := persistence.LoadRegistry(ctx, s.store, s.registry)
	switch {
	case errors.Is(err, persistence.ErrRegistryNotFound):
		s.logger.Info("no registry snapshot, falling back to discovery")
		return false, nil
	case err != nil && snap == nil:
		s.logger.Warn("registry snapshot unusable, falling back to discovery", zap.Error(err))
		return false, nil
	case err != nil:
		s.logger.Warn("registry snapshot partially loaded", zap.Int("skills", n), zap.Error(err))
	}

	if maxAge := s.cfg.Skills.RegistryMaxAge; maxAge > 0 && time.Since(snap.ExportedAt) > maxAge {
		s.logger.Info("registry snapshot is stale",
			zap.Time("exported_at", snap.ExportedAt),
			zap.Duration("max_age", maxAge),
		)
		s.registry.Clear()
		return false, nil
	}

	if vanished := s.hydrateLocked(ctx); len(vanished) > 0 {
		s.logger.Info("registry snapshot references missing skill directories, falling back to discovery",
			zap.Strings("skills", vanished),
		)
		s.registry.Clear()
		return false, nil
	}
	s.source = snap.Source
	return true, nil
}

// hydrateLocked 快照不含提示词，从技能目录重新读取，保留快照中的状态.
// 返回目录已不存在的技能；其余读取失败的技能标记为 error.
func (s *System) hydrateLocked(ctx context.Context) []string {
	var vanished []string
	for _, skill := range s.registry.List() {
		if skill.Path == "" {
			continue
		}
		if _, err := os.Stat(skill.Path); errors.Is(err, os.ErrNotExist) {
			vanished = append(vanished, skill.Name())
			continue
		}
		parsed, err := s.parser.ParseSkillDir(ctx, skill.Path)
		if err != nil {
			s.logger.Warn("failed to reload skill content",
				zap.String("skill", skill.Name()),
				zap.String("path", skill.Path),
				zap.Error(err),
			)
			_ = s.registry.SetStatus(skill.Name(), skills.StatusError)
			continue
		}
		parsed.Status = skill.Status
		if err := s.registry.Register(parsed); err != nil {
			s.logger.Warn("failed to register reloaded skill", zap.String("skill", skill.Name()), zap.Error(err))
		}
	}
	return vanished
}

// scanLocked 扫描技能目录. 目录不存在视为空目录.
func (s *System) scanLocked(ctx context.Context) (*discovery.ScanResult, error) {
	result, err := s.scanner.Scan(ctx, s.cfg.Skills.Directory)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("skills directory not found", zap.String("directory", s.cfg.Skills.Directory))
		return &discovery.ScanResult{Skills: []*skills.Skill{}, Failures: []discovery.ScanFailure{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("discover skills: %w", err)
	}
	return result, nil
}

func (s *System) discoverLocked(ctx context.Context) (*discovery.ScanResult, error) {
	result, err := s.scanLocked(ctx)
	if err != nil {
		return nil, err
	}
	s.registry.Clear()
	n, errs := s.registry.RegisterAll(result.Skills)
	for _, e := range errs {
		s.logger.Warn("discovered skill rejected", zap.Error(e))
	}
	for _, f := range result.Failures {
		s.logger.Warn("skill directory skipped", zap.String("path", f.Path), zap.String("error", f.Error))
	}
	s.source = SourceDiscovery
	s.logger.Info("skills discovered",
		zap.String("directory", s.cfg.Skills.Directory),
		zap.Int("registered", n),
		zap.Int("failures", len(result.Failures)),
	)
	return result, nil
}

// loadSteeringLocked 读取引导规则目录下的 *.md 文件，按文件名排序
func (s *System) loadSteeringLocked() error {
	dir := s.cfg.Context.SteeringDirectory
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Debug("steering directory not found", zap.String("dir", dir))
		return nil
	}
	if err != nil {
		return fmt.Errorf("read steering directory: %w", err)
	}

	var rules []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("read steering rule %s: %w", e.Name(), err)
		}
		if rule := strings.TrimSpace(string(data)); rule != "" {
			rules = append(rules, rule)
		}
	}
	s.steering = append(s.steering, rules...)
	return nil
}

// Refresh 重新扫描技能目录，同步注册表，使变化技能的上下文缓存失效，
// 并移除已删除技能的激活状态
func (s *System) Refresh(ctx context.Context) Response[*RefreshResult] {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := telemetry.StartRegistrySpan(ctx, "registry.refresh", s.sessionID, s.storeName())
	result, err := s.refreshLocked(ctx)
	if result != nil {
		telemetry.SkillChanges(span, map[string]int{
			"added":       len(result.Added),
			"updated":     len(result.Updated),
			"removed":     len(result.Removed),
			"deactivated": len(result.Deactivated),
		})
		span.SetAttributes(telemetry.AttrRegistrySkills.Int(result.Total))
	}
	telemetry.End(span, err)
	if err != nil {
		return fail(result, err)
	}
	return succeed(result)
}

func (s *System) refreshLocked(ctx context.Context) (*RefreshResult, error) {
	scan, err := s.scanLocked(ctx)
	if err != nil {
		return nil, err
	}

	result := &RefreshResult{
		Added:    []string{},
		Updated:  []string{},
		Removed:  []string{},
		Failures: len(scan.Failures),
	}
	seen := make(map[string]bool, len(scan.Skills))
	for _, skill := range scan.Skills {
		name := skill.Name()
		seen[name] = true
		existing, ok := s.registry.Get(name)
		switch {
		case !ok:
			result.Added = append(result.Added, name)
		case skillChanged(existing, skill):
			skill.Status = existing.Status
			result.Updated = append(result.Updated, name)
		default:
			continue
		}
		if err := s.registry.Register(skill); err != nil {
			s.logger.Warn("refreshed skill rejected", zap.String("skill", name), zap.Error(err))
			continue
		}
		s.contexts.InvalidateSkillCache(ctx, name)
	}
	for _, name := range s.registry.Names() {
		if !seen[name] {
			s.registry.Unregister(name)
			s.contexts.InvalidateSkillCache(ctx, name)
			result.Removed = append(result.Removed, name)
		}
	}
	result.Deactivated = s.activator.Prune()
	if result.Deactivated == nil {
		result.Deactivated = []string{}
	}
	result.Total = s.registry.Size()
	s.source = SourceDiscovery

	if s.store != nil && len(result.Added)+len(result.Updated)+len(result.Removed) > 0 {
		if _, err := persistence.SaveRegistry(ctx, s.store, s.registry); err != nil {
			return result, err
		}
	}

	s.logger.Info("skills refreshed",
		zap.Int("total", result.Total),
		zap.Int("added", len(result.Added)),
		zap.Int("updated", len(result.Updated)),
		zap.Int("removed", len(result.Removed)),
	)
	return result, nil
}

// skillChanged 修改时间、版本或路径变化时视为更新
func skillChanged(old, cur *skills.Skill) bool {
	return !old.LastModified.Equal(cur.LastModified) ||
		old.Metadata.Version != cur.Metadata.Version ||
		old.Path != cur.Path
}

// SaveRegistry 把当前注册表写入持久化存储
func (s *System) SaveRegistry(ctx context.Context) Response[*SaveResult] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store == nil {
		return fail[*SaveResult](nil, types.NewError(types.ErrInvalidArgument, "registry persistence is disabled"))
	}
	ctx, span := telemetry.StartRegistrySpan(ctx, "registry.save", s.sessionID, s.storeName())
	snap, err := persistence.SaveRegistry(ctx, s.store, s.registry)
	if snap != nil {
		span.SetAttributes(telemetry.AttrRegistrySkills.Int(len(snap.Skills)))
	}
	telemetry.End(span, err)
	if err != nil {
		return fail[*SaveResult](nil, err)
	}
	return succeed(&SaveResult{
		Skills:     len(snap.Skills),
		ExportedAt: snap.ExportedAt,
		Backend:    s.storeName(),
	})
}

// Dependency 一个已启用的外部依赖及其连通性检查
type Dependency struct {
	Name string
	Ping func(ctx context.Context) error
}

// Dependencies 返回注册表存储、Redis 与数据库中已启用的部分
func (s *System) Dependencies() []Dependency {
	var deps []Dependency
	if s.store != nil {
		deps = append(deps, Dependency{Name: "registry_store", Ping: s.store.Ping})
	}
	if s.redis != nil {
		deps = append(deps, Dependency{Name: "redis", Ping: s.redis.Ping})
	}
	if s.db != nil {
		deps = append(deps, Dependency{Name: "database", Ping: s.db.Ping})
	}
	return deps
}

// Health 依次检查全部外部依赖
func (s *System) Health(ctx context.Context) error {
	var errs []error
	for _, dep := range s.Dependencies() {
		if err := dep.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", dep.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Close 释放存储、Redis 与数据库连接. 重复调用返回 nil.
func (s *System) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	err := s.closeResources()
	s.logger.Info("skill system closed")
	return err
}

func (s *System) closeResources() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}

// =============================================================================
// 🔍 查询
// =============================================================================

// GetAllSkills 返回全部技能，按名称排序
func (s *System) GetAllSkills() Response[[]*skills.Skill] {
	return succeed(s.registry.List())
}

// GetSkill 按名称查找技能
func (s *System) GetSkill(name string) Response[*skills.Skill] {
	skill, ok := s.registry.Get(name)
	if !ok {
		return fail[*skills.Skill](nil, types.NewError(types.ErrNotFound, "skill not found").WithSkill(name))
	}
	return succeed(skill)
}

// SearchSkills 关键词检索. fuzzy 为 false 时只做精确关键词匹配.
func (s *System) SearchSkills(query string, fuzzy bool) Response[[]*discovery.MatchResult] {
	if strings.TrimSpace(query) == "" {
		return fail[[]*discovery.MatchResult](nil, types.NewError(types.ErrInvalidArgument, "query is required"))
	}
	opts := discovery.DefaultMatchOptions()
	opts.Fuzzy = fuzzy
	results := s.matcher.Match(query, opts)
	if results == nil {
		results = []*discovery.MatchResult{}
	}
	return succeed(results)
}

// SuggestKeywords 关键词补全
func (s *System) SuggestKeywords(partial string, limit int) Response[[]string] {
	out := s.matcher.Suggest(partial, limit)
	if out == nil {
		out = []string{}
	}
	return succeed(out)
}

// GetActiveSkills 返回活跃技能，按激活顺序
func (s *System) GetActiveSkills() Response[[]*activation.ActiveSkill] {
	return succeed(s.activator.ActiveSkills())
}

// IsSkillActive 技能是否处于活跃集合
func (s *System) IsSkillActive(name string) bool {
	return s.activator.IsActive(name)
}

// GetActivationStats 返回活跃集合统计
func (s *System) GetActivationStats() Response[activation.ActivationStats] {
	return succeed(s.activator.Stats())
}

// GetCacheStats 返回缓存统计. Redis 统计读取失败只记日志，不影响其余字段.
func (s *System) GetCacheStats(ctx context.Context) Response[*CacheReport] {
	report := &CacheReport{ManagerCacheStats: s.contexts.CacheStats()}
	if s.redis != nil {
		stats, err := s.redis.GetStats(ctx)
		if err != nil {
			s.logger.Warn("redis stats unavailable", zap.Error(err))
		} else {
			report.Redis = stats
		}
	}
	if s.db != nil {
		stats := s.db.GetStats()
		report.Database = &stats
	}
	return succeed(report)
}

// GetRegistryStats 返回注册表、依赖图与索引统计，以及检测到的依赖环
func (s *System) GetRegistryStats() Response[*RegistryStatus] {
	cycles := s.graph.DetectCycles()
	if cycles == nil {
		cycles = []skills.Cycle{}
	}
	return succeed(&RegistryStatus{
		Registry: s.registry.Stats(),
		Graph:    s.graph.Stats(),
		Index:    s.index.Stats(),
		Cycles:   cycles,
	})
}

// Status 返回系统状态
func (s *System) Status() Response[*Status] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return succeed(&Status{
		Initialized:  s.initialized,
		SessionID:    s.sessionID,
		TotalSkills:  s.registry.Size(),
		ActiveSkills: len(s.activator.ActiveSkillNames()),
		MaxActive:    s.activator.MaxActiveSkills(),
		Store:        s.storeName(),
		Source:       s.source,
	})
}

// ValidateSkill 校验技能目录结构与元数据
func (s *System) ValidateSkill(ctx context.Context, dir string) Response[skills.ValidationResult] {
	result := s.validator.ValidateDirectory(dir)
	if result.Valid {
		skill, err := s.parser.ParseSkillDir(ctx, dir)
		if err != nil {
			return fail(result, types.NewError(types.ErrValidationFailed, "failed to parse skill").WithCause(err))
		}
		meta := s.validator.ValidateSkill(skill)
		result.Errors = append(result.Errors, meta.Errors...)
		result.Warnings = append(result.Warnings, meta.Warnings...)
		result.Valid = meta.Valid
	}
	if !result.Valid {
		msg := "skill validation failed"
		if len(result.Errors) > 0 {
			msg = result.Errors[0].Message
		}
		return fail(result, types.NewError(types.ErrValidationFailed, msg))
	}
	return succeed(result)
}

// =============================================================================
// ⚡ 激活
// =============================================================================

func activationResponse(result *activation.ActivationResult) Response[*activation.ActivationResult] {
	if err := result.Err(); err != nil {
		return fail(result, err)
	}
	return succeed(result)
}

// ActivateSkill 显式激活技能及其传递依赖
func (s *System) ActivateSkill(ctx context.Context, name string) Response[*activation.ActivationResult] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return activationResponse(s.activator.ActivateSkill(ctx, name, activation.ViaExplicit))
}

// ActivateByKeywords 按关键词激活. 需要用户选择时 Success 为 true，
// Data.RequiresUserSelection 为 true 且 Data.Suggestions 为候选项.
func (s *System) ActivateByKeywords(ctx context.Context, text string, autoActivate bool) Response[*activation.ActivationResult] {
	if strings.TrimSpace(text) == "" {
		return fail[*activation.ActivationResult](nil, types.NewError(types.ErrInvalidArgument, "text is required"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return activationResponse(s.activator.ActivateByKeywords(ctx, text, autoActivate))
}

// ActivateMultipleSkills 逐个激活，单个失败不影响其余
func (s *System) ActivateMultipleSkills(ctx context.Context, names []string) Response[*activation.ActivationResult] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return activationResponse(s.activator.ActivateMultiple(ctx, names))
}

// DeactivateSkill 停用技能，依赖不级联停用
func (s *System) DeactivateSkill(name string) Response[*activation.DeactivationResult] {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, err := s.activator.DeactivateSkill(name)
	if err != nil {
		return fail[*activation.DeactivationResult](nil, err)
	}
	return succeed(result)
}

// DeactivateAll 清空活跃集合，返回停用数量
func (s *System) DeactivateAll() Response[int] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return succeed(s.activator.DeactivateAll())
}

// SetMaxActiveSkills 调整容量上限，不影响已激活的技能
func (s *System) SetMaxActiveSkills(limit int) Response[int] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.activator.SetMaxActiveSkills(limit); err != nil {
		return fail(s.activator.MaxActiveSkills(), err)
	}
	return succeed(limit)
}

// =============================================================================
// 🔗 执行链
// =============================================================================

func chainResponse(chain *activation.SkillChain) Response[*activation.SkillChain] {
	if chain.Ready() {
		return succeed(chain)
	}
	code := types.ErrMissingDependency
	for _, e := range chain.Errors {
		if strings.Contains(strings.ToLower(e), "circular") {
			code = types.ErrCircularDependency
			break
		}
	}
	return fail(chain, types.NewError(code, strings.Join(chain.Errors, "; ")))
}

// BuildChainForActiveSkills 为活跃技能构建依赖优先的执行链
func (s *System) BuildChainForActiveSkills(task string) Response[*activation.SkillChain] {
	chain := s.activator.BuildChainForActiveSkills(task)
	if !chain.Ready() && len(chain.Steps) == 0 && len(s.activator.ActiveSkillNames()) == 0 {
		return fail(chain, types.NewError(types.ErrNotActive, "no active skills to build chain"))
	}
	return chainResponse(chain)
}

// BuildChainForSkill 为单个技能构建执行链
func (s *System) BuildChainForSkill(name string) Response[*activation.SkillChain] {
	if !s.registry.Has(name) {
		return fail[*activation.SkillChain](nil, types.NewError(types.ErrNotFound, "skill not found").WithSkill(name))
	}
	return chainResponse(s.activator.ChainBuilder().BuildChainForSkill(name))
}

// =============================================================================
// 🏗️ 上下文
// =============================================================================

// SteeringRules 返回当前引导规则
func (s *System) SteeringRules() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.steering...)
}

// SetSteeringRules 替换引导规则，并使引用旧规则的缓存失效
func (s *System) SetSteeringRules(ctx context.Context, rules []string) {
	s.mu.Lock()
	old := s.steering
	s.steering = append([]string(nil), rules...)
	s.mu.Unlock()

	for _, rule := range old {
		s.contexts.InvalidateSteeringCache(ctx, rule)
	}
}

// BuildContext 用活跃技能与引导规则组装上下文
func (s *System) BuildContext(ctx context.Context, opts agentctx.BuildOptions) Response[*agentctx.AIContext] {
	active := s.activator.ActiveSkills()
	list := make([]*skills.Skill, 0, len(active))
	for _, a := range active {
		list = append(list, a.Skill)
	}
	aiCtx, err := s.contexts.BuildContext(ctx, list, s.SteeringRules(), opts)
	if err != nil {
		return fail[*agentctx.AIContext](nil, err)
	}
	return succeed(aiCtx)
}

// OptimizeContext 把上下文压缩到 targetTokens 以内. aiCtx 为 nil 时
// 先按默认选项构建当前上下文；targetTokens <= 0 使用 performance.max_context_tokens.
func (s *System) OptimizeContext(ctx context.Context, aiCtx *agentctx.AIContext, targetTokens int) Response[*agentctx.OptimizationResult] {
	if aiCtx == nil {
		built := s.BuildContext(ctx, agentctx.DefaultBuildOptions())
		if !built.Success {
			return fail[*agentctx.OptimizationResult](nil, built.Err())
		}
		aiCtx = built.Data
	}
	if targetTokens <= 0 {
		targetTokens = s.cfg.Performance.MaxContextTokens
	}
	result, err := s.contexts.OptimizeContext(ctx, aiCtx, targetTokens)
	if err != nil {
		return fail[*agentctx.OptimizationResult](nil, err)
	}
	return succeed(result)
}

// InvalidateSkill 使包含该技能的上下文缓存失效，返回移除条目数
func (s *System) InvalidateSkill(ctx context.Context, name string) Response[int] {
	if name == "" {
		return fail(0, types.NewError(types.ErrInvalidArgument, "skill name is required"))
	}
	return succeed(s.contexts.InvalidateSkillCache(ctx, name))
}

// ActiveSkillNames 活跃技能名，排序后返回
func (s *System) ActiveSkillNames() []string {
	names := s.activator.ActiveSkillNames()
	sort.Strings(names)
	return names
}
