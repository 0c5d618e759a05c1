package skills

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ResolutionErrorType 解析错误类型
type ResolutionErrorType string

const (
	ErrorSkillNotFound      ResolutionErrorType = "skill_not_found"
	ErrorCircularDependency ResolutionErrorType = "circular_dependency"
	ErrorMissingSkill       ResolutionErrorType = "missing_skill_dependency"
	ErrorMissingPackage     ResolutionErrorType = "missing_package_dependency"
	ErrorMissingAPI         ResolutionErrorType = "missing_api_dependency"
)

const defaultPackageVersion = "latest"

// ResolutionError 解析错误
type ResolutionError struct {
	Type    ResolutionErrorType `json:"type"`
	Message string              `json:"message"`
	Skill   string              `json:"skill"`
	Cycle   []string            `json:"cycle,omitempty"`
	Missing []string            `json:"missing,omitempty"`
}

// PackageDependency 已解析的包依赖
type PackageDependency struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Required bool   `json:"required"`
}

// APIDependency 已解析的 API 依赖
type APIDependency struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

// ResolvedDependencies 已解析依赖
type ResolvedDependencies struct {
	Skills   []*Skill            `json:"skills"`
	Packages []PackageDependency `json:"packages"`
	APIs     []APIDependency     `json:"apis"`
}

// MissingDependencies 缺失依赖
type MissingDependencies struct {
	Skills   []string `json:"skills"`
	Packages []string `json:"packages"`
	APIs     []string `json:"apis"`
}

// Empty 是否无缺失
func (m MissingDependencies) Empty() bool {
	return len(m.Skills) == 0 && len(m.Packages) == 0 && len(m.APIs) == 0
}

// ResolutionResult 单个技能的依赖解析结果.
// 失败时 ExecutionOrder 仍包含已成功解析的部分.
type ResolutionResult struct {
	Success        bool                 `json:"success"`
	Skill          *Skill               `json:"skill,omitempty"`
	Dependencies   ResolvedDependencies `json:"dependencies"`
	Missing        MissingDependencies  `json:"missing"`
	Errors         []ResolutionError    `json:"errors"`
	Warnings       []string             `json:"warnings"`
	ExecutionOrder []string             `json:"executionOrder"`
}

// HasError 判断是否包含指定类型的错误
func (r *ResolutionResult) HasError(t ResolutionErrorType) bool {
	for _, e := range r.Errors {
		if e.Type == t {
			return true
		}
	}
	return false
}

// FirstError 返回第一条错误信息
func (r *ResolutionResult) FirstError() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0].Message
}

// SkillLookup 解析器读取技能的来源，*Registry 即实现
type SkillLookup interface {
	Get(name string) (*Skill, bool)
}

// PackageChecker 判断包是否可用
type PackageChecker func(name, version string) bool

// APIChecker 判断 API 是否可用
type APIChecker func(name string) bool

// ResolverOption 解析器选项
type ResolverOption func(*DependencyResolver)

// WithPackageChecker 设置包可用性检查，默认全部可用
func WithPackageChecker(fn PackageChecker) ResolverOption {
	return func(r *DependencyResolver) { r.packageChecker = fn }
}

// WithAPIChecker 设置 API 可用性检查，默认全部可用
func WithAPIChecker(fn APIChecker) ResolverOption {
	return func(r *DependencyResolver) { r.apiChecker = fn }
}

// WithResolverLogger 设置日志
func WithResolverLogger(logger *zap.Logger) ResolverOption {
	return func(r *DependencyResolver) {
		if logger != nil {
			r.logger = logger.With(zap.String("component", "dependency_resolver"))
		}
	}
}

// DependencyResolver 递归解析技能依赖并给出执行顺序
type DependencyResolver struct {
	lookup         SkillLookup
	packageChecker PackageChecker
	apiChecker     APIChecker
	logger         *zap.Logger
}

// NewDependencyResolver 创建依赖解析器
func NewDependencyResolver(lookup SkillLookup, opts ...ResolverOption) *DependencyResolver {
	r := &DependencyResolver{
		lookup: lookup,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// resolveState 单次解析的遍历状态
type resolveState struct {
	visiting map[string]bool
	done     map[string]bool
	missing  map[string]bool
	path     []string
	order    []string
	result   *ResolutionResult
}

// Resolve 解析单个技能. 深度优先遍历，visiting 集合检测环；
// 缺失依赖记录后继续解析其它分支.
func (r *DependencyResolver) Resolve(name string) ResolutionResult {
	result := ResolutionResult{
		Errors:   []ResolutionError{},
		Warnings: []string{},
	}

	root, ok := r.lookup.Get(name)
	if !ok {
		result.Missing.Skills = []string{name}
		result.Errors = append(result.Errors, ResolutionError{
			Type:    ErrorSkillNotFound,
			Message: fmt.Sprintf("skill '%s' not found in registry", name),
			Skill:   name,
		})
		return result
	}
	result.Skill = root

	st := &resolveState{
		visiting: make(map[string]bool),
		done:     make(map[string]bool),
		missing:  make(map[string]bool),
		result:   &result,
	}
	r.visit(root, st)

	result.ExecutionOrder = st.order
	for _, n := range st.order {
		if n == name {
			continue
		}
		if s, ok := r.lookup.Get(n); ok {
			result.Dependencies.Skills = append(result.Dependencies.Skills, s)
		}
	}

	if len(result.Missing.Skills) > 0 {
		result.Errors = append(result.Errors, ResolutionError{
			Type:    ErrorMissingSkill,
			Message: "missing skill dependencies: " + strings.Join(result.Missing.Skills, ", "),
			Skill:   name,
			Missing: append([]string(nil), result.Missing.Skills...),
		})
	}

	r.resolvePackages(root, &result)
	r.resolveAPIs(root, &result)

	result.Success = len(result.Errors) == 0
	if !result.Success {
		r.logger.Debug("dependency resolution failed",
			zap.String("skill", name),
			zap.String("error", result.FirstError()),
		)
	}
	return result
}

func (r *DependencyResolver) visit(skill *Skill, st *resolveState) {
	name := skill.Metadata.Name
	st.visiting[name] = true
	st.path = append(st.path, name)

	for _, dep := range skill.Metadata.Dependencies.Skills {
		if st.visiting[dep] {
			start := indexOf(st.path, dep)
			cycle := append(append([]string(nil), st.path[start:]...), dep)
			st.result.Errors = append(st.result.Errors, ResolutionError{
				Type:    ErrorCircularDependency,
				Message: "circular dependency detected: " + strings.Join(cycle, " -> "),
				Skill:   name,
				Cycle:   cycle,
			})
			continue
		}
		if st.done[dep] || st.missing[dep] {
			continue
		}
		depSkill, ok := r.lookup.Get(dep)
		if !ok {
			st.missing[dep] = true
			st.result.Missing.Skills = append(st.result.Missing.Skills, dep)
			continue
		}
		r.visit(depSkill, st)
	}

	st.path = st.path[:len(st.path)-1]
	st.visiting[name] = false
	st.done[name] = true
	st.order = append(st.order, name)
}

func (r *DependencyResolver) resolvePackages(skill *Skill, result *ResolutionResult) {
	for _, spec := range skill.Metadata.Dependencies.Packages {
		name, version := ParsePackageSpec(spec)
		if version == "" {
			version = defaultPackageVersion
		}
		if r.packageChecker != nil && !r.packageChecker(name, version) {
			result.Missing.Packages = append(result.Missing.Packages, spec)
			continue
		}
		result.Dependencies.Packages = append(result.Dependencies.Packages, PackageDependency{
			Name:     name,
			Version:  version,
			Required: true,
		})
	}
	if len(result.Missing.Packages) > 0 {
		result.Errors = append(result.Errors, ResolutionError{
			Type:    ErrorMissingPackage,
			Message: "missing package dependencies: " + strings.Join(result.Missing.Packages, ", "),
			Skill:   skill.Metadata.Name,
			Missing: append([]string(nil), result.Missing.Packages...),
		})
	}
}

func (r *DependencyResolver) resolveAPIs(skill *Skill, result *ResolutionResult) {
	for _, api := range skill.Metadata.Dependencies.APIs {
		if r.apiChecker != nil && !r.apiChecker(api) {
			result.Missing.APIs = append(result.Missing.APIs, api)
			continue
		}
		result.Dependencies.APIs = append(result.Dependencies.APIs, APIDependency{Name: api, Available: true})
	}
	if len(result.Missing.APIs) > 0 {
		result.Errors = append(result.Errors, ResolutionError{
			Type:    ErrorMissingAPI,
			Message: "missing API dependencies: " + strings.Join(result.Missing.APIs, ", "),
			Skill:   skill.Metadata.Name,
			Missing: append([]string(nil), result.Missing.APIs...),
		})
	}
}

// ResolveMultiple 逐个独立解析
func (r *DependencyResolver) ResolveMultiple(names []string) []ResolutionResult {
	out := make([]ResolutionResult, len(names))
	for i, n := range names {
		out[i] = r.Resolve(n)
	}
	return out
}

// CanResolve 判断是否可完整解析
func (r *DependencyResolver) CanResolve(name string) bool {
	res := r.Resolve(name)
	return res.Success
}

// ExecutionOrder 返回执行顺序，解析失败时返回 nil
func (r *DependencyResolver) ExecutionOrder(name string) []string {
	res := r.Resolve(name)
	if !res.Success {
		return nil
	}
	return res.ExecutionOrder
}

// ParsePackageSpec 拆分 "name@version"，支持 "@scope/pkg@1.0.0"
func ParsePackageSpec(spec string) (name, version string) {
	spec = strings.TrimSpace(spec)
	searchFrom := 0
	if strings.HasPrefix(spec, "@") {
		searchFrom = 1
	}
	idx := strings.LastIndex(spec[searchFrom:], "@")
	if idx < 0 {
		return spec, ""
	}
	idx += searchFrom
	return spec[:idx], spec[idx+1:]
}
