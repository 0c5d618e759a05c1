package activation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BaSui01/skillflow/agent/skills"
	"go.uber.org/zap"
)

// ChainStatus 执行链状态
type ChainStatus string

const (
	ChainReady  ChainStatus = "ready"
	ChainFailed ChainStatus = "failed"
)

const (
	baseStepDuration      = 30 * time.Second
	perCapabilityDuration = 10 * time.Second
	perDependencyDuration = 5 * time.Second
	defaultStepOutput     = "result"
)

// ChainStep 执行链中的一步
type ChainStep struct {
	StepNumber        int            `json:"stepNumber"`
	Skill             string         `json:"skill"`
	Action            string         `json:"action"`
	Inputs            map[string]any `json:"inputs"`
	Outputs           []string       `json:"outputs"`
	DependsOn         []string       `json:"dependsOn"`
	EstimatedDuration time.Duration  `json:"estimatedDuration"`
}

// SkillChain 按依赖顺序排列的执行计划
type SkillChain struct {
	Task                string              `json:"task"`
	Steps               []ChainStep         `json:"steps"`
	EstimatedDuration   time.Duration       `json:"estimatedDuration"`
	RequiredPermissions []skills.Permission `json:"requiredPermissions"`
	Errors              []string            `json:"errors"`
	Warnings            []string            `json:"warnings"`
	Status              ChainStatus         `json:"status"`
}

// Ready 执行链可执行
func (c *SkillChain) Ready() bool {
	return c.Status == ChainReady
}

// ChainValidation 执行链校验结果
type ChainValidation struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func failedChain(task string, errs ...string) *SkillChain {
	return &SkillChain{
		Task:                task,
		Steps:               []ChainStep{},
		RequiredPermissions: []skills.Permission{},
		Errors:              errs,
		Warnings:            []string{},
		Status:              ChainFailed,
	}
}

// ChainBuilder 把一个或多个技能的执行顺序合并为 SkillChain
type ChainBuilder struct {
	registry *skills.Registry
	resolver *skills.DependencyResolver
	logger   *zap.Logger
}

// NewChainBuilder 创建执行链构建器
func NewChainBuilder(registry *skills.Registry, resolver *skills.DependencyResolver, logger *zap.Logger) *ChainBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChainBuilder{
		registry: registry,
		resolver: resolver,
		logger:   logger.With(zap.String("component", "chain_builder")),
	}
}

// BuildChainForSkill 为单个技能构建执行链
func (b *ChainBuilder) BuildChainForSkill(name string) *SkillChain {
	return b.BuildChain(fmt.Sprintf("Execute %s", name), []string{name})
}

// BuildChain 解析每个技能并用 Kahn 算法合并执行顺序.
// 任一技能解析失败时整条链为 failed，步骤为空.
func (b *ChainBuilder) BuildChain(task string, names []string) *SkillChain {
	if len(names) == 0 {
		return failedChain(task, "No skills to build chain")
	}

	var (
		errs     []string
		warnings []string
		// 合并后出现的先后次序，作为 Kahn 队列的稳定排序键
		rank  = make(map[string]int)
		nodes []string
	)
	for _, name := range names {
		res := b.resolver.Resolve(name)
		if !res.Success {
			for _, e := range res.Errors {
				errs = append(errs, fmt.Sprintf("%s: %s", name, e.Message))
			}
			continue
		}
		warnings = append(warnings, res.Warnings...)
		for _, n := range res.ExecutionOrder {
			if _, seen := rank[n]; !seen {
				rank[n] = len(nodes)
				nodes = append(nodes, n)
			}
		}
	}
	if len(errs) > 0 {
		b.logger.Warn("chain build failed", zap.String("task", task), zap.Strings("errors", errs))
		return failedChain(task, errs...)
	}

	order, ok := mergeOrder(nodes, rank, b.registry)
	if !ok {
		return failedChain(task, "circular dependency between chained skills")
	}

	chain := &SkillChain{
		Task:                task,
		Steps:               make([]ChainStep, 0, len(order)),
		RequiredPermissions: []skills.Permission{},
		Errors:              []string{},
		Warnings:            dedupe(warnings),
		Status:              ChainReady,
	}
	seenPerm := make(map[skills.Permission]bool)

	for i, name := range order {
		skill, ok := b.registry.Get(name)
		if !ok {
			return failedChain(task, fmt.Sprintf("skill '%s' left the registry", name))
		}
		step := newStep(i+1, skill, rank)
		chain.Steps = append(chain.Steps, step)
		chain.EstimatedDuration += step.EstimatedDuration

		for _, p := range skill.Permissions() {
			if !seenPerm[p] {
				seenPerm[p] = true
				chain.RequiredPermissions = append(chain.RequiredPermissions, p)
			}
		}
	}

	b.logger.Debug("chain built",
		zap.String("task", task),
		zap.Int("steps", len(chain.Steps)),
		zap.Duration("estimated", chain.EstimatedDuration),
	)
	return chain
}

// mergeOrder 对合并后的节点做 Kahn 拓扑排序，入度为零的节点按 rank 出队
func mergeOrder(nodes []string, rank map[string]int, registry *skills.Registry) ([]string, bool) {
	inDegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		inDegree[n] += 0
		skill, ok := registry.Get(n)
		if !ok {
			continue
		}
		for _, dep := range skill.SkillDependencies() {
			if _, in := rank[dep]; !in {
				continue
			}
			inDegree[n]++
			dependents[dep] = append(dependents[dep], n)
		}
	}

	var queue []string
	for _, n := range nodes {
		if inDegree[n] == 0 {
			queue = append(queue, n)
		}
	}

	order := make([]string, 0, len(nodes))
	for len(queue) > 0 {
		sort.SliceStable(queue, func(i, j int) bool { return rank[queue[i]] < rank[queue[j]] })
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		for _, d := range dependents[n] {
			inDegree[d]--
			if inDegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}
	return order, len(order) == len(nodes)
}

func newStep(number int, skill *skills.Skill, inChain map[string]int) ChainStep {
	meta := skill.Metadata
	step := ChainStep{
		StepNumber: number,
		Skill:      meta.Name,
		Action:     meta.Description,
		Inputs:     make(map[string]any),
		Outputs:    []string{defaultStepOutput},
		DependsOn:  []string{},
	}
	for _, dep := range meta.Dependencies.Skills {
		if _, ok := inChain[dep]; ok {
			step.DependsOn = append(step.DependsOn, dep)
		}
	}
	for _, c := range meta.Capabilities {
		for _, p := range c.Parameters {
			if p.Default != nil {
				step.Inputs[p.Name] = p.Default
			} else if p.Required {
				step.Inputs[p.Name] = nil
			}
		}
	}
	step.EstimatedDuration = estimateDuration(skill)
	return step
}

func estimateDuration(skill *skills.Skill) time.Duration {
	meta := skill.Metadata
	return baseStepDuration +
		time.Duration(len(meta.Capabilities))*perCapabilityDuration +
		time.Duration(len(meta.Dependencies.Skills))*perDependencyDuration
}

// ValidateChain 检查执行链：无步骤为错误，必填输入没有上游提供为警告
func (b *ChainBuilder) ValidateChain(chain *SkillChain) ChainValidation {
	v := ChainValidation{Valid: true, Errors: []string{}, Warnings: []string{}}
	if chain == nil || len(chain.Steps) == 0 {
		v.Valid = false
		v.Errors = append(v.Errors, "chain has no steps")
		return v
	}
	if chain.Status == ChainFailed {
		v.Valid = false
		v.Errors = append(v.Errors, chain.Errors...)
	}

	provided := make(map[string]bool)
	for _, step := range chain.Steps {
		skill, ok := b.registry.Get(step.Skill)
		if !ok {
			v.Valid = false
			v.Errors = append(v.Errors, fmt.Sprintf("step %d: skill '%s' not found", step.StepNumber, step.Skill))
			continue
		}
		for _, c := range skill.Metadata.Capabilities {
			for _, p := range c.Parameters {
				if p.Required && p.Default == nil && !provided[p.Name] {
					v.Warnings = append(v.Warnings, fmt.Sprintf(
						"step %d (%s): required input '%s' is not provided by a previous step",
						step.StepNumber, step.Skill, p.Name))
				}
			}
		}
		for _, out := range step.Outputs {
			provided[out] = true
		}
	}
	return v
}

// Describe 返回执行链的可读摘要
func (c *SkillChain) Describe() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s] %d step(s), ~%s\n", c.Task, c.Status, len(c.Steps), c.EstimatedDuration)
	for _, s := range c.Steps {
		fmt.Fprintf(&sb, "  %d. %s", s.StepNumber, s.Skill)
		if len(s.DependsOn) > 0 {
			fmt.Fprintf(&sb, " (after %s)", strings.Join(s.DependsOn, ", "))
		}
		sb.WriteString("\n")
	}
	for _, e := range c.Errors {
		fmt.Fprintf(&sb, "  error: %s\n", e)
	}
	return sb.String()
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
