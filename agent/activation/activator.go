package activation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/skillflow/agent/discovery"
	"github.com/BaSui01/skillflow/agent/skills"
	"github.com/BaSui01/skillflow/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/BaSui01/skillflow/agent/activation"

// Via 激活来源
type Via string

const (
	ViaExplicit   Via = "explicit"
	ViaKeyword    Via = "keyword"
	ViaDependency Via = "dependency"
)

// Observer 激活事件观察者
type Observer interface {
	ObserveActivation(skill, via, outcome string)
	ObserveActiveSkills(count int)
}

type nopObserver struct{}

func (nopObserver) ObserveActivation(string, string, string) {}
func (nopObserver) ObserveActiveSkills(int)                  {}

// Config 激活器配置
type Config struct {
	MaxActiveSkills     int     `json:"max_active_skills" yaml:"max_active_skills"`
	FuzzyMatchThreshold float64 `json:"fuzzy_match_threshold" yaml:"fuzzy_match_threshold"`
	MaxSuggestions      int     `json:"max_suggestions" yaml:"max_suggestions"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxActiveSkills:     10,
		FuzzyMatchThreshold: 0.8,
		MaxSuggestions:      5,
	}
}

// ActiveSkill 一条活跃记录. Skill 在读取时从注册表重新获取.
type ActiveSkill struct {
	Skill        *skills.Skill            `json:"skill"`
	ActivatedAt  time.Time                `json:"activatedAt"`
	ActivatedVia Via                      `json:"activatedVia"`
	Resolution   *skills.ResolutionResult `json:"-"`
}

// ActivationFailure 激活失败
type ActivationFailure struct {
	Skill      string                   `json:"skill"`
	Code       types.ErrorCode          `json:"code"`
	Reason     string                   `json:"reason"`
	Resolution *skills.ResolutionResult `json:"resolution,omitempty"`
}

// ActivationResult 激活结果
type ActivationResult struct {
	Activated             []*skills.Skill          `json:"activated"`
	Dependencies          []*skills.Skill          `json:"dependencies"`
	Failed                []ActivationFailure      `json:"failed"`
	Suggestions           []*discovery.MatchResult `json:"suggestions"`
	RequiresUserSelection bool                     `json:"requiresUserSelection"`
	AlreadyActive         bool                     `json:"alreadyActive"`
}

func newResult() *ActivationResult {
	return &ActivationResult{
		Activated:    []*skills.Skill{},
		Dependencies: []*skills.Skill{},
		Failed:       []ActivationFailure{},
		Suggestions:  []*discovery.MatchResult{},
	}
}

// Success 无失败项
func (r *ActivationResult) Success() bool {
	return len(r.Failed) == 0
}

// Err 把第一条失败转换为 *types.Error
func (r *ActivationResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	f := r.Failed[0]
	return types.NewError(f.Code, f.Reason).WithSkill(f.Skill)
}

// DeactivationResult 停用结果
type DeactivationResult struct {
	Skill      string   `json:"skill"`
	Dependents []string `json:"dependents"`
}

// ActivationStats 活跃集合统计
type ActivationStats struct {
	TotalActive           int           `json:"totalActive"`
	MaxActive             int           `json:"maxActive"`
	AverageActiveDuration time.Duration `json:"averageActiveDuration"`
	OldestActivation      time.Time     `json:"oldestActivation"`
	ByVia                 map[Via]int   `json:"byVia"`
}

type activeEntry struct {
	name        string
	activatedAt time.Time
	via         Via
	resolution  *skills.ResolutionResult
}

// Activator 管理活跃技能集合
type Activator struct {
	registry *skills.Registry
	resolver *skills.DependencyResolver
	matcher  *discovery.KeywordMatcher
	chains   *ChainBuilder
	config   Config
	observer Observer
	tracer   trace.Tracer
	now      func() time.Time
	logger   *zap.Logger

	active map[string]*activeEntry
	order  []string
	mu     sync.RWMutex
}

// Option 激活器选项
type Option func(*Activator)

// WithObserver 设置指标观察者
func WithObserver(o Observer) Option {
	return func(a *Activator) {
		if o != nil {
			a.observer = o
		}
	}
}

// WithClock 替换时钟，测试用
func WithClock(now func() time.Time) Option {
	return func(a *Activator) { a.now = now }
}

// NewActivator 创建激活器
func NewActivator(
	registry *skills.Registry,
	resolver *skills.DependencyResolver,
	matcher *discovery.KeywordMatcher,
	config Config,
	logger *zap.Logger,
	opts ...Option,
) *Activator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxActiveSkills < 1 {
		config.MaxActiveSkills = DefaultConfig().MaxActiveSkills
	}
	if config.MaxSuggestions < 1 {
		config.MaxSuggestions = DefaultConfig().MaxSuggestions
	}
	a := &Activator{
		registry: registry,
		resolver: resolver,
		matcher:  matcher,
		config:   config,
		observer: nopObserver{},
		tracer:   otel.Tracer(instrumentationName),
		now:      time.Now,
		logger:   logger.With(zap.String("component", "skill_activator")),
		active:   make(map[string]*activeEntry),
	}
	a.chains = NewChainBuilder(registry, resolver, logger)
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// =============================================================================
// 🎯 激活
// =============================================================================

// ActivateSkill 激活技能及其尚未激活的传递依赖，全有或全无
func (a *Activator) ActivateSkill(ctx context.Context, name string, via Via) *ActivationResult {
	_, span := a.tracer.Start(ctx, "skills.activate",
		trace.WithAttributes(
			attribute.String("skill.name", name),
			attribute.String("skill.via", string(via)),
		))
	defer span.End()

	a.mu.Lock()
	result := a.activateLocked(name, via)
	count := len(a.active)
	a.mu.Unlock()

	outcome := "activated"
	switch {
	case !result.Success():
		outcome = string(result.Failed[0].Code)
		span.SetStatus(codes.Error, result.Failed[0].Reason)
	case result.AlreadyActive:
		outcome = "already_active"
	}
	span.SetAttributes(attribute.Int("skills.activated", len(result.Activated)+len(result.Dependencies)))
	a.observer.ObserveActivation(name, string(via), outcome)
	a.observer.ObserveActiveSkills(count)
	return result
}

func (a *Activator) activateLocked(name string, via Via) *ActivationResult {
	result := newResult()

	skill, ok := a.registry.Get(name)
	if !ok {
		result.Failed = append(result.Failed, ActivationFailure{
			Skill:  name,
			Code:   types.ErrNotFound,
			Reason: fmt.Sprintf("skill '%s' not found in registry", name),
		})
		return result
	}

	if _, active := a.active[name]; active {
		result.Activated = append(result.Activated, skill)
		result.AlreadyActive = true
		return result
	}
	if skill.Status == skills.StatusError {
		result.Failed = append(result.Failed, ActivationFailure{
			Skill:  name,
			Code:   types.ErrValidationFailed,
			Reason: fmt.Sprintf("skill '%s' is in error state", name),
		})
		return result
	}

	exempt := a.requiredByActiveLocked(name)
	if len(a.active) >= a.config.MaxActiveSkills && !exempt {
		result.Failed = append(result.Failed, ActivationFailure{
			Skill:  name,
			Code:   types.ErrCapacityExceeded,
			Reason: fmt.Sprintf("maximum active skills limit (%d) reached", a.config.MaxActiveSkills),
		})
		return result
	}

	resolution := a.resolver.Resolve(name)
	if !resolution.Success {
		result.Failed = append(result.Failed, ActivationFailure{
			Skill:      name,
			Code:       resolutionCode(&resolution),
			Reason:     "dependency resolution failed: " + resolution.FirstError(),
			Resolution: &resolution,
		})
		return result
	}

	var pending []string
	for _, n := range resolution.ExecutionOrder {
		if _, active := a.active[n]; !active {
			pending = append(pending, n)
		}
	}
	for _, n := range pending {
		if s, _ := a.registry.Get(n); n != name && s != nil && s.Status == skills.StatusError {
			result.Failed = append(result.Failed, ActivationFailure{
				Skill:      name,
				Code:       types.ErrMissingDependency,
				Reason:     fmt.Sprintf("dependency '%s' is in error state", n),
				Resolution: &resolution,
			})
			return result
		}
	}

	// 豁免只给技能本身多留一个槽位，拉入的依赖仍受上限约束
	limit := a.config.MaxActiveSkills
	if exempt {
		limit++
	}
	if len(a.active)+len(pending) > limit {
		result.Failed = append(result.Failed, ActivationFailure{
			Skill: name,
			Code:  types.ErrCapacityExceeded,
			Reason: fmt.Sprintf("activating %s with its dependencies needs %d slots, %d available",
				name, len(pending), limit-len(a.active)),
			Resolution: &resolution,
		})
		return result
	}

	now := a.now()
	for _, n := range pending {
		entry := &activeEntry{name: n, activatedAt: now, via: ViaDependency}
		if n == name {
			entry.via = via
			entry.resolution = &resolution
		} else {
			depResolution := a.resolver.Resolve(n)
			entry.resolution = &depResolution
		}
		a.active[n] = entry
		a.order = append(a.order, n)

		s, _ := a.registry.Get(n)
		if n == name {
			result.Activated = append(result.Activated, s)
		} else {
			result.Dependencies = append(result.Dependencies, s)
		}
	}

	a.logger.Info("skill activated",
		zap.String("skill", name),
		zap.String("via", string(via)),
		zap.Int("dependencies", len(result.Dependencies)),
		zap.Strings("warnings", resolution.Warnings),
	)
	return result
}

// requiredByActiveLocked 判断 name 是否在某个活跃技能的执行顺序中
func (a *Activator) requiredByActiveLocked(name string) bool {
	for _, e := range a.active {
		if e.resolution == nil {
			continue
		}
		for _, n := range e.resolution.ExecutionOrder {
			if n == name && e.name != name {
				return true
			}
		}
	}
	return false
}

func resolutionCode(r *skills.ResolutionResult) types.ErrorCode {
	switch {
	case r.HasError(skills.ErrorCircularDependency):
		return types.ErrCircularDependency
	case r.HasError(skills.ErrorSkillNotFound):
		return types.ErrNotFound
	default:
		return types.ErrMissingDependency
	}
}

// ActivateByKeywords 通过关键词匹配激活. autoActivate 为 true 且最高分不低于
// 模糊阈值并严格高于第二名时自动激活，否则返回候选项.
func (a *Activator) ActivateByKeywords(ctx context.Context, text string, autoActivate bool) *ActivationResult {
	ctx, span := a.tracer.Start(ctx, "skills.activate_by_keywords",
		trace.WithAttributes(attribute.Bool("skills.auto_activate", autoActivate)))
	defer span.End()

	opts := discovery.DefaultMatchOptions()
	opts.MaxResults = max(a.config.MaxSuggestions, 2)
	matches := a.matcher.Match(text, opts)
	span.SetAttributes(attribute.Int("skills.matches", len(matches)))

	if len(matches) == 0 {
		a.logger.Debug("no keyword matches", zap.String("text", text))
		return newResult()
	}

	top := matches[0]
	unambiguous := len(matches) == 1 || top.Score > matches[1].Score
	if autoActivate && top.Score >= a.config.FuzzyMatchThreshold && unambiguous {
		result := a.ActivateSkill(ctx, top.Skill.Metadata.Name, ViaKeyword)
		result.Suggestions = append(result.Suggestions, top)
		return result
	}

	result := newResult()
	if len(matches) > a.config.MaxSuggestions {
		matches = matches[:a.config.MaxSuggestions]
	}
	result.Suggestions = matches
	result.RequiresUserSelection = true
	return result
}

// ActivateMultiple 逐个激活，单个失败不影响其余
func (a *Activator) ActivateMultiple(ctx context.Context, names []string) *ActivationResult {
	combined := newResult()
	seenActivated := make(map[string]bool)
	seenDeps := make(map[string]bool)

	for _, name := range names {
		r := a.ActivateSkill(ctx, name, ViaExplicit)
		for _, s := range r.Activated {
			if !seenActivated[s.Metadata.Name] {
				seenActivated[s.Metadata.Name] = true
				combined.Activated = append(combined.Activated, s)
			}
		}
		for _, s := range r.Dependencies {
			if !seenDeps[s.Metadata.Name] {
				seenDeps[s.Metadata.Name] = true
				combined.Dependencies = append(combined.Dependencies, s)
			}
		}
		combined.Failed = append(combined.Failed, r.Failed...)
	}
	return combined
}

// =============================================================================
// 🧹 停用
// =============================================================================

// DeactivateSkill 停用技能，不级联
func (a *Activator) DeactivateSkill(name string) (*DeactivationResult, error) {
	a.mu.Lock()
	if _, ok := a.active[name]; !ok {
		a.mu.Unlock()
		return nil, types.NewError(types.ErrNotActive, "skill is not active").WithSkill(name)
	}
	dependents := a.dependentsLocked(name)
	a.removeLocked(name)
	count := len(a.active)
	a.mu.Unlock()

	if len(dependents) > 0 {
		a.logger.Warn("deactivated skill still required by active skills",
			zap.String("skill", name),
			zap.Strings("dependents", dependents),
		)
	} else {
		a.logger.Info("skill deactivated", zap.String("skill", name))
	}
	a.observer.ObserveActiveSkills(count)
	return &DeactivationResult{Skill: name, Dependents: dependents}, nil
}

// DeactivateAll 清空活跃集合，返回停用数量
func (a *Activator) DeactivateAll() int {
	a.mu.Lock()
	n := len(a.active)
	a.active = make(map[string]*activeEntry)
	a.order = nil
	a.mu.Unlock()

	a.logger.Info("all skills deactivated", zap.Int("count", n))
	a.observer.ObserveActiveSkills(0)
	return n
}

// Prune 移除注册表中已不存在的活跃技能
func (a *Activator) Prune() []string {
	a.mu.Lock()
	var removed []string
	for _, name := range append([]string(nil), a.order...) {
		if !a.registry.Has(name) {
			a.removeLocked(name)
			removed = append(removed, name)
		}
	}
	count := len(a.active)
	a.mu.Unlock()

	if len(removed) > 0 {
		a.logger.Info("pruned active skills", zap.Strings("skills", removed))
		a.observer.ObserveActiveSkills(count)
	}
	return removed
}

func (a *Activator) dependentsLocked(name string) []string {
	var out []string
	for _, e := range a.active {
		if e.name == name {
			continue
		}
		s, ok := a.registry.Get(e.name)
		if !ok {
			continue
		}
		for _, d := range s.Metadata.Dependencies.Skills {
			if d == name {
				out = append(out, e.name)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

func (a *Activator) removeLocked(name string) {
	delete(a.active, name)
	for i, n := range a.order {
		if n == name {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
}

// =============================================================================
// 📊 查询
// =============================================================================

// ActiveSkills 按激活顺序返回活跃技能
func (a *Activator) ActiveSkills() []*ActiveSkill {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]*ActiveSkill, 0, len(a.order))
	for _, name := range a.order {
		e := a.active[name]
		s, ok := a.registry.Get(name)
		if !ok {
			continue
		}
		out = append(out, &ActiveSkill{
			Skill:        s,
			ActivatedAt:  e.activatedAt,
			ActivatedVia: e.via,
			Resolution:   e.resolution,
		})
	}
	return out
}

// ActiveSkillNames 按激活顺序返回活跃技能名
func (a *Activator) ActiveSkillNames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.order...)
}

// IsActive 判断技能是否活跃
func (a *Activator) IsActive(name string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.active[name]
	return ok
}

// Stats 返回活跃集合统计
func (a *Activator) Stats() ActivationStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := ActivationStats{
		TotalActive: len(a.active),
		MaxActive:   a.config.MaxActiveSkills,
		ByVia:       make(map[Via]int),
	}
	if len(a.active) == 0 {
		return stats
	}

	now := a.now()
	var total time.Duration
	for _, e := range a.active {
		total += now.Sub(e.activatedAt)
		stats.ByVia[e.via]++
		if stats.OldestActivation.IsZero() || e.activatedAt.Before(stats.OldestActivation) {
			stats.OldestActivation = e.activatedAt
		}
	}
	stats.AverageActiveDuration = total / time.Duration(len(a.active))
	return stats
}

// SetMaxActiveSkills 调整容量上限，不影响已激活的技能
func (a *Activator) SetMaxActiveSkills(limit int) error {
	if limit < 1 {
		return types.NewError(types.ErrInvalidArgument, "max active skills must be at least 1")
	}
	a.mu.Lock()
	a.config.MaxActiveSkills = limit
	a.mu.Unlock()

	a.logger.Info("max active skills updated", zap.Int("limit", limit))
	return nil
}

// MaxActiveSkills 返回容量上限
func (a *Activator) MaxActiveSkills() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config.MaxActiveSkills
}

// BuildChainForActiveSkills 为当前活跃集合构建执行链
func (a *Activator) BuildChainForActiveSkills(task string) *SkillChain {
	names := a.ActiveSkillNames()
	if len(names) == 0 {
		return failedChain(task, "No active skills to build chain")
	}
	return a.chains.BuildChain(task, names)
}

// ChainBuilder 返回内部的执行链构建器
func (a *Activator) ChainBuilder() *ChainBuilder {
	return a.chains
}
