package context

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BaSui01/skillflow/agent/skills"
	"github.com/BaSui01/skillflow/llm/cache"
	"github.com/BaSui01/skillflow/llm/tokenizer"
	"github.com/BaSui01/skillflow/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const instrumentationName = "github.com/BaSui01/skillflow/agent/context"

// 优化步骤名称
const (
	OptimizationRemoveReferences = "Removed reference sections"
	OptimizationRemoveExamples   = "Removed example sections"
	OptimizationTruncate         = "Applied intelligent truncation"
)

// BuildObserver 上下文构建指标回调
type BuildObserver interface {
	ObserveContextBuild(tokens int, truncated, cached bool, elapsed time.Duration)
}

// Config 上下文管理器配置
type Config struct {
	MaxTokens      int           `yaml:"max_tokens" json:"max_tokens"`
	MinSectionSize int           `yaml:"min_section_size" json:"min_section_size"`
	PreserveTypes  []SectionType `yaml:"preserve_types" json:"preserve_types"`
	Cache          CacheConfig   `yaml:"cache" json:"cache"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxTokens:      150000,
		MinSectionSize: defaultMinSectionSize,
		PreserveTypes:  []SectionType{SectionSteeringRules},
		Cache:          DefaultCacheConfig(),
	}
}

// BuildOptions 单次构建选项. 零值不包含示例与参考且不使用缓存，
// 调用方通常从 DefaultBuildOptions 开始修改.
type BuildOptions struct {
	MaxTokens         int           `json:"maxTokens"`
	IncludeExamples   bool          `json:"includeExamples"`
	IncludeReferences bool          `json:"includeReferences"`
	UseCache          bool          `json:"useCache"`
	PreserveTypes     []SectionType `json:"preserveTypes,omitempty"`
}

// DefaultBuildOptions 包含全部段落并使用缓存，MaxTokens 为 0 表示使用管理器配置
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{
		IncludeExamples:   true,
		IncludeReferences: true,
		UseCache:          true,
	}
}

// fingerprint 区分同一技能组合在不同构建选项下的结果
func (o BuildOptions) fingerprint() string {
	return fmt.Sprintf("max=%d;ex=%t;ref=%t", o.MaxTokens, o.IncludeExamples, o.IncludeReferences)
}

// ContextMetadata 构建元数据
type ContextMetadata struct {
	SkillNames        []string      `json:"skillNames"`
	SkillCount        int           `json:"skillCount"`
	SteeringRuleCount int           `json:"steeringRuleCount"`
	SectionCount      int           `json:"sectionCount"`
	OriginalTokens    int           `json:"originalTokens"`
	TokensSaved       int           `json:"tokensSaved"`
	BuildTime         time.Duration `json:"buildTime"`
	CacheKey          string        `json:"cacheKey,omitempty"`
}

// AIContext 组装好的上下文
type AIContext struct {
	SystemPrompt  string          `json:"systemPrompt"`
	SkillPrompts  []string        `json:"skillPrompts,omitempty"`
	SteeringRules []string        `json:"steeringRules"`
	TotalTokens   int             `json:"totalTokens"`
	Truncated     bool            `json:"truncated"`
	Cached        bool            `json:"cached"`
	Sections      []Section       `json:"sections"`
	Metadata      ContextMetadata `json:"metadata"`
}

// OptimizationResult 优化结果
type OptimizationResult struct {
	Original             *AIContext `json:"original"`
	Optimized            *AIContext `json:"optimized"`
	TokensSaved          int        `json:"tokensSaved"`
	OptimizationsApplied []string   `json:"optimizationsApplied"`
}

// Analysis 上下文构成分析
type Analysis struct {
	SectionBreakdown  map[SectionType]int `json:"sectionBreakdown"`
	TokenDistribution map[SectionType]int `json:"tokenDistribution"`
	Recommendations   []string            `json:"recommendations"`
}

// ManagerCacheStats 上下文缓存与 token 记忆化缓存的统计
type ManagerCacheStats struct {
	Context CacheStats  `json:"context"`
	Tokens  cache.Stats `json:"tokens"`
}

// Manager 组合合并、截断与缓存
type Manager struct {
	config    Config
	counter   *tokenizer.Counter
	merger    *Merger
	truncator *Truncator
	cache     *Cache
	observer  BuildObserver
	tracer    trace.Tracer
	group     singleflight.Group
	logger    *zap.Logger
}

// ManagerOption 管理器选项
type ManagerOption func(*Manager)

// WithCache 使用外部构造的缓存（例如带 L2 的缓存）
func WithCache(c *Cache) ManagerOption {
	return func(m *Manager) {
		if c != nil {
			m.cache = c
		}
	}
}

// WithBuildObserver 设置构建指标回调
func WithBuildObserver(o BuildObserver) ManagerOption {
	return func(m *Manager) { m.observer = o }
}

// NewManager 创建上下文管理器. counter 为 nil 时使用估算器.
func NewManager(config Config, counter *tokenizer.Counter, logger *zap.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if counter == nil {
		counter = tokenizer.NewCounter(nil, tokenizer.DefaultCounterConfig(), logger)
	}
	if config.MinSectionSize <= 0 {
		config.MinSectionSize = defaultMinSectionSize
	}
	if len(config.PreserveTypes) == 0 {
		config.PreserveTypes = []SectionType{SectionSteeringRules}
	}

	m := &Manager{
		config:    config,
		counter:   counter,
		merger:    NewMerger(counter, logger),
		truncator: NewTruncator(counter, logger),
		tracer:    otel.Tracer(instrumentationName),
		logger:    logger.With(zap.String("component", "context_manager")),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cache == nil {
		m.cache = NewCache(config.Cache, logger)
	}
	return m
}

// Cache 返回上下文缓存
func (m *Manager) Cache() *Cache {
	return m.cache
}

// Merger 返回合并器
func (m *Manager) Merger() *Merger {
	return m.merger
}

// Truncator 返回截断器
func (m *Manager) Truncator() *Truncator {
	return m.truncator
}

// =============================================================================
// 🏗️ 构建
// =============================================================================

// BuildContext 缓存查找 → 合并 → 按需截断 → 写缓存.
// 相同的技能集合与规则集合（顺序无关）产生逐字节相同的 SystemPrompt.
func (m *Manager) BuildContext(ctx context.Context, activeSkills []*skills.Skill, steeringRules []string, opts BuildOptions) (*AIContext, error) {
	if opts.MaxTokens < 0 {
		return nil, types.Errorf(types.ErrInvalidArgument, "max tokens must not be negative: %d", opts.MaxTokens)
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = m.config.MaxTokens
	}

	names := make([]string, 0, len(activeSkills))
	for _, s := range activeSkills {
		if s != nil {
			names = append(names, s.Metadata.Name)
		}
	}

	ctx, span := m.tracer.Start(ctx, "context.build",
		trace.WithAttributes(
			attribute.Int("context.skills", len(names)),
			attribute.Int("context.steering_rules", len(steeringRules)),
			attribute.Int("context.max_tokens", opts.MaxTokens),
			attribute.Bool("context.use_cache", opts.UseCache),
		))
	defer span.End()

	start := time.Now()
	if !opts.UseCache {
		aiCtx := m.build(activeSkills, names, steeringRules, opts, start)
		m.finish(span, aiCtx, start)
		return aiCtx, nil
	}

	if aiCtx, ok := m.lookup(ctx, names, steeringRules, opts, start); ok {
		m.finish(span, aiCtx, start)
		return aiCtx, nil
	}

	key := Key(names, steeringRules) + "|" + opts.fingerprint()
	v, _, _ := m.group.Do(key, func() (any, error) {
		aiCtx := m.build(activeSkills, names, steeringRules, opts, start)
		m.store(ctx, aiCtx, opts)
		return aiCtx, nil
	})
	aiCtx := cloneContext(v.(*AIContext))
	m.finish(span, aiCtx, start)
	return aiCtx, nil
}

func (m *Manager) finish(span trace.Span, aiCtx *AIContext, start time.Time) {
	elapsed := time.Since(start)
	span.SetAttributes(
		attribute.Int("context.tokens", aiCtx.TotalTokens),
		attribute.Bool("context.truncated", aiCtx.Truncated),
		attribute.Bool("context.cached", aiCtx.Cached),
	)
	if m.observer != nil {
		m.observer.ObserveContextBuild(aiCtx.TotalTokens, aiCtx.Truncated, aiCtx.Cached, elapsed)
	}
	m.logger.Debug("context built",
		zap.Int("tokens", aiCtx.TotalTokens),
		zap.Bool("truncated", aiCtx.Truncated),
		zap.Bool("cached", aiCtx.Cached),
		zap.Duration("elapsed", elapsed),
	)
}

func (m *Manager) lookup(ctx context.Context, names, rules []string, opts BuildOptions, start time.Time) (*AIContext, bool) {
	entry, ok := m.cache.Get(ctx, names, rules)
	if !ok {
		return nil, false
	}
	if fp, _ := entry.Metadata["options"].(string); fp != opts.fingerprint() {
		m.logger.Debug("cached context built with different options, rebuilding", zap.String("key", entry.Key))
		return nil, false
	}

	aiCtx := &AIContext{
		SystemPrompt:  entry.Content,
		SteeringRules: entry.SteeringRules,
		TotalTokens:   entry.Tokens,
		Cached:        true,
		Sections:      entry.Sections,
		Metadata: ContextMetadata{
			SkillNames:        entry.SkillNames,
			SkillCount:        len(entry.SkillNames),
			SteeringRuleCount: len(entry.SteeringRules),
			SectionCount:      len(entry.Sections),
			BuildTime:         time.Since(start),
			CacheKey:          entry.Key,
		},
	}
	if truncated, _ := entry.Metadata["truncated"].(bool); truncated {
		aiCtx.Truncated = true
	}
	aiCtx.Metadata.OriginalTokens = metadataInt(entry.Metadata, "originalTokens")
	aiCtx.Metadata.TokensSaved = max(0, aiCtx.Metadata.OriginalTokens-aiCtx.TotalTokens)
	return aiCtx, true
}

// metadataInt 兼容 L2 反序列化后的 float64
func metadataInt(md map[string]any, key string) int {
	switch v := md[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// build 按技能名与规则文本排序后合并，输出只取决于两个集合本身
func (m *Manager) build(activeSkills []*skills.Skill, names, rules []string, opts BuildOptions, start time.Time) *AIContext {
	ordered := make([]*skills.Skill, 0, len(activeSkills))
	for _, s := range activeSkills {
		if s != nil {
			ordered = append(ordered, s)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Metadata.Name < ordered[j].Metadata.Name })
	prompts := make([]string, len(ordered))
	for i, s := range ordered {
		prompts[i] = s.PromptContent
	}
	names = sortedCopy(names)
	rules = sortedCopy(rules)

	merged := m.merger.Merge(rules, prompts, MergeOptions{
		IncludeExamples:   opts.IncludeExamples,
		IncludeReferences: opts.IncludeReferences,
	})

	sections := merged.Sections
	original := m.counter.CountTokens(merged.Content)
	truncated := false
	if original > opts.MaxTokens {
		preserve := opts.PreserveTypes
		if len(preserve) == 0 {
			preserve = m.config.PreserveTypes
		}
		res := m.truncator.Truncate(sections, TruncateOptions{
			MaxTokens:      opts.MaxTokens,
			PreserveTypes:  preserve,
			MinSectionSize: m.config.MinSectionSize,
			AddMarker:      true,
		})
		sections = res.Sections
		truncated = true
	}

	prompt := Render(sections)
	total := m.counter.CountTokens(prompt)
	return &AIContext{
		SystemPrompt:  prompt,
		SkillPrompts:  prompts,
		SteeringRules: append([]string(nil), rules...),
		TotalTokens:   total,
		Truncated:     truncated,
		Sections:      sections,
		Metadata: ContextMetadata{
			SkillNames:        names,
			SkillCount:        len(names),
			SteeringRuleCount: len(rules),
			SectionCount:      len(sections),
			OriginalTokens:    original,
			TokensSaved:       max(0, original-total),
			BuildTime:         time.Since(start),
			CacheKey:          Key(names, rules),
		},
	}
}

func (m *Manager) store(ctx context.Context, aiCtx *AIContext, opts BuildOptions) {
	m.cache.Set(ctx, &CachedContext{
		Content:       aiCtx.SystemPrompt,
		SkillNames:    aiCtx.Metadata.SkillNames,
		SteeringRules: aiCtx.SteeringRules,
		Tokens:        aiCtx.TotalTokens,
		Sections:      aiCtx.Sections,
		Metadata: map[string]any{
			"truncated":      aiCtx.Truncated,
			"originalTokens": aiCtx.Metadata.OriginalTokens,
			"buildTimeMs":    aiCtx.Metadata.BuildTime.Milliseconds(),
			"options":        opts.fingerprint(),
		},
	})
}

func cloneContext(c *AIContext) *AIContext {
	out := *c
	out.SkillPrompts = append([]string(nil), c.SkillPrompts...)
	out.SteeringRules = append([]string(nil), c.SteeringRules...)
	out.Sections = append([]Section(nil), c.Sections...)
	out.Metadata.SkillNames = append([]string(nil), c.Metadata.SkillNames...)
	return &out
}

// =============================================================================
// 🔧 优化
// =============================================================================

// OptimizeContext 依次尝试去掉参考段落、去掉示例段落、截断，
// 每一步之前重新检查预算，去掉某类段落后仍超预算时不采用该步.
func (m *Manager) OptimizeContext(ctx context.Context, aiCtx *AIContext, targetTokens int) (*OptimizationResult, error) {
	if aiCtx == nil {
		return nil, types.NewError(types.ErrInvalidArgument, "context is nil")
	}
	if targetTokens <= 0 {
		return nil, types.Errorf(types.ErrInvalidArgument, "target tokens must be positive: %d", targetTokens)
	}

	_, span := m.tracer.Start(ctx, "context.optimize",
		trace.WithAttributes(
			attribute.Int("context.tokens", aiCtx.TotalTokens),
			attribute.Int("context.target_tokens", targetTokens),
		))
	defer span.End()

	applied := []string{}
	sections := append([]Section(nil), aiCtx.Sections...)
	tokensOf := func(s []Section) int { return m.counter.CountTokens(Render(s)) }

	for _, step := range []struct {
		typ  SectionType
		name string
	}{
		{SectionReferences, OptimizationRemoveReferences},
		{SectionExamples, OptimizationRemoveExamples},
	} {
		if tokensOf(sections) <= targetTokens {
			break
		}
		without := RemoveSectionTypes(sections, step.typ)
		if len(without) != len(sections) && tokensOf(without) <= targetTokens {
			sections = without
			applied = append(applied, step.name)
		}
	}

	truncated := aiCtx.Truncated
	if tokensOf(sections) > targetTokens {
		res := m.truncator.Truncate(sections, TruncateOptions{
			MaxTokens:      targetTokens,
			PreserveTypes:  m.config.PreserveTypes,
			MinSectionSize: m.config.MinSectionSize,
			AddMarker:      true,
		})
		sections = res.Sections
		truncated = true
		applied = append(applied, OptimizationTruncate)
	}

	optimized := cloneContext(aiCtx)
	optimized.Sections = sections
	optimized.SystemPrompt = Render(sections)
	optimized.TotalTokens = m.counter.CountTokens(optimized.SystemPrompt)
	optimized.Truncated = truncated || len(applied) > 0
	optimized.Cached = false
	optimized.Metadata.SectionCount = len(sections)
	optimized.Metadata.TokensSaved = max(0, aiCtx.TotalTokens-optimized.TotalTokens)

	span.SetAttributes(attribute.Int("context.optimized_tokens", optimized.TotalTokens))
	m.logger.Debug("context optimized",
		zap.Int("before", aiCtx.TotalTokens),
		zap.Int("after", optimized.TotalTokens),
		zap.Strings("applied", applied),
	)
	return &OptimizationResult{
		Original:             aiCtx,
		Optimized:            optimized,
		TokensSaved:          aiCtx.TotalTokens - optimized.TotalTokens,
		OptimizationsApplied: applied,
	}, nil
}

// MergeContexts 合并多个上下文，按 (类型, 标题) 去重后重新排序
func (m *Manager) MergeContexts(contexts ...*AIContext) *AIContext {
	var (
		sections []Section
		prompts  []string
		rules    []string
		names    []string
	)
	seenSection := make(map[string]bool)
	for _, c := range contexts {
		if c == nil {
			continue
		}
		for _, s := range c.Sections {
			k := string(s.Type) + ":" + s.Title
			if !seenSection[k] {
				seenSection[k] = true
				sections = append(sections, s)
			}
		}
		prompts = append(prompts, c.SkillPrompts...)
		rules = append(rules, c.SteeringRules...)
		names = append(names, c.Metadata.SkillNames...)
	}
	SortSections(sections)

	prompt := Render(sections)
	names = uniqueStrings(names)
	rules = uniqueStrings(rules)
	return &AIContext{
		SystemPrompt:  prompt,
		SkillPrompts:  uniqueStrings(prompts),
		SteeringRules: rules,
		TotalTokens:   m.counter.CountTokens(prompt),
		Sections:      sections,
		Metadata: ContextMetadata{
			SkillNames:        names,
			SkillCount:        len(names),
			SteeringRuleCount: len(rules),
			SectionCount:      len(sections),
		},
	}
}

// AnalyzeContext 按段落类型统计数量与 token
func (m *Manager) AnalyzeContext(aiCtx *AIContext) Analysis {
	a := Analysis{
		SectionBreakdown:  make(map[SectionType]int),
		TokenDistribution: make(map[SectionType]int),
		Recommendations:   []string{},
	}
	if aiCtx == nil {
		return a
	}
	for _, s := range aiCtx.Sections {
		a.SectionBreakdown[s.Type]++
		a.TokenDistribution[s.Type] += s.Tokens
	}

	total := float64(aiCtx.TotalTokens)
	if float64(a.TokenDistribution[SectionReferences]) > total*0.3 {
		a.Recommendations = append(a.Recommendations, "Consider removing reference sections to reduce context size")
	}
	if float64(a.TokenDistribution[SectionExamples]) > total*0.4 {
		a.Recommendations = append(a.Recommendations, "Example sections are taking up significant space")
	}
	if aiCtx.Truncated {
		a.Recommendations = append(a.Recommendations, "Context was truncated - consider reducing active skills")
	}
	return a
}

// =============================================================================
// 🧹 缓存管理
// =============================================================================

// InvalidateSkillCache 删除包含该技能的缓存条目
func (m *Manager) InvalidateSkillCache(ctx context.Context, name string) int {
	n := m.cache.InvalidateSkill(ctx, name)
	if n > 0 {
		m.logger.Info("invalidated cached contexts", zap.String("skill", name), zap.Int("entries", n))
	}
	return n
}

// InvalidateSteeringCache 删除包含该规则的缓存条目
func (m *Manager) InvalidateSteeringCache(ctx context.Context, rule string) int {
	return m.cache.InvalidateSteering(ctx, rule)
}

// ClearCache 清空上下文缓存与 token 记忆化缓存
func (m *Manager) ClearCache(ctx context.Context) {
	m.cache.Clear(ctx)
	m.counter.ClearCache()
}

// CacheStats 返回两级统计
func (m *Manager) CacheStats() ManagerCacheStats {
	return ManagerCacheStats{
		Context: m.cache.Stats(),
		Tokens:  m.counter.CacheStats(),
	}
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// SummarizeSections 返回 "type:title(tokens)" 列表，便于日志与 CLI 展示
func SummarizeSections(sections []Section) string {
	parts := make([]string, len(sections))
	for i, s := range sections {
		parts[i] = fmt.Sprintf("%s:%s(%d)", s.Type, s.Title, s.Tokens)
	}
	return strings.Join(parts, ", ")
}
