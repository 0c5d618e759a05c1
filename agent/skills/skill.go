package skills

import (
	"fmt"
	"strings"
	"time"
)

// SkillStatus 技能状态
type SkillStatus string

const (
	StatusActive   SkillStatus = "active"
	StatusInactive SkillStatus = "inactive"
	StatusError    SkillStatus = "error"
)

// Valid 判断状态是否合法
func (s SkillStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusError:
		return true
	}
	return false
}

// Dependencies 技能依赖声明
type Dependencies struct {
	Skills   []string `json:"skills,omitempty" yaml:"skills,omitempty"`
	APIs     []string `json:"apis,omitempty" yaml:"apis,omitempty"`
	Packages []string `json:"packages,omitempty" yaml:"packages,omitempty"`
}

// Total 返回依赖总数
func (d Dependencies) Total() int {
	return len(d.Skills) + len(d.APIs) + len(d.Packages)
}

// CapabilityParameter 能力参数
type CapabilityParameter struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"` // string, number, boolean, array, object
	Required    bool   `json:"required" yaml:"required"`
	Description string `json:"description" yaml:"description"`
	Default     any    `json:"default,omitempty" yaml:"default,omitempty"`
}

// Capability 技能提供的一项能力
type Capability struct {
	Name        string                `json:"name" yaml:"name"`
	Description string                `json:"description" yaml:"description"`
	Script      string                `json:"script,omitempty" yaml:"script,omitempty"`
	Usage       string                `json:"usage,omitempty" yaml:"usage,omitempty"`
	Parameters  []CapabilityParameter `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Examples    []string              `json:"examples,omitempty" yaml:"examples,omitempty"`
}

// Documentation 文档信息
type Documentation struct {
	Readme     string   `json:"readme,omitempty" yaml:"readme,omitempty"`
	References []string `json:"references,omitempty" yaml:"references,omitempty"`
}

// SkillMetadata 技能元数据（SKILL.yaml 或 SKILL.md frontmatter）
type SkillMetadata struct {
	Name        string `json:"name" yaml:"name"`
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description" yaml:"description"`
	Author      string `json:"author,omitempty" yaml:"author,omitempty"`
	License     string `json:"license,omitempty" yaml:"license,omitempty"`

	// 激活触发词
	Triggers []string `json:"triggers" yaml:"triggers"`

	Dependencies Dependencies `json:"dependencies" yaml:"dependencies"`
	Capabilities []Capability `json:"capabilities" yaml:"capabilities"`

	Config        map[string]any    `json:"config,omitempty" yaml:"config,omitempty"`
	Scripts       map[string]string `json:"npmScripts,omitempty" yaml:"npmScripts,omitempty"`
	Documentation *Documentation    `json:"documentation,omitempty" yaml:"documentation,omitempty"`
}

// Skill 注册表中的一条技能记录
type Skill struct {
	Metadata      SkillMetadata `json:"metadata"`
	PromptContent string        `json:"promptContent,omitempty"`
	ReadmeContent string        `json:"readmeContent,omitempty"`
	Path          string        `json:"path"`
	LastModified  time.Time     `json:"lastModified"`
	Status        SkillStatus   `json:"status"`
}

// Name 返回技能名
func (s *Skill) Name() string {
	if s == nil {
		return ""
	}
	return s.Metadata.Name
}

// SkillDependencies 返回直接依赖的技能名
func (s *Skill) SkillDependencies() []string {
	if s == nil {
		return nil
	}
	return s.Metadata.Dependencies.Skills
}

// Permission 技能声明的权限
type Permission struct {
	Type   string `json:"type" yaml:"type"` // filesystem, network, system, env
	Scope  string `json:"scope,omitempty" yaml:"scope,omitempty"`
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Permissions 返回 config.permissions 中声明的权限.
// 支持字符串（视为 Type）和 {type, scope, reason} 对象两种写法.
func (s *Skill) Permissions() []Permission {
	if s == nil || s.Metadata.Config == nil {
		return nil
	}
	raw, ok := s.Metadata.Config["permissions"]
	if !ok {
		return nil
	}

	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case []string:
		for _, item := range v {
			items = append(items, item)
		}
	case []Permission:
		return append([]Permission(nil), v...)
	default:
		items = []any{v}
	}

	out := make([]Permission, 0, len(items))
	for _, item := range items {
		switch p := item.(type) {
		case string:
			out = append(out, Permission{Type: p})
		case Permission:
			out = append(out, p)
		case map[string]any:
			out = append(out, Permission{
				Type:   stringField(p, "type"),
				Scope:  stringField(p, "scope"),
				Reason: stringField(p, "reason"),
			})
		default:
			out = append(out, Permission{Type: fmt.Sprint(p)})
		}
	}
	return out
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

// Clone 克隆技能（用于隔离修改）
func (s *Skill) Clone() *Skill {
	if s == nil {
		return nil
	}
	c := *s
	m := &c.Metadata
	m.Triggers = cloneStrings(s.Metadata.Triggers)
	m.Dependencies = Dependencies{
		Skills:   cloneStrings(s.Metadata.Dependencies.Skills),
		APIs:     cloneStrings(s.Metadata.Dependencies.APIs),
		Packages: cloneStrings(s.Metadata.Dependencies.Packages),
	}
	if s.Metadata.Capabilities != nil {
		m.Capabilities = make([]Capability, len(s.Metadata.Capabilities))
		for i, capability := range s.Metadata.Capabilities {
			capability.Parameters = append([]CapabilityParameter(nil), capability.Parameters...)
			capability.Examples = cloneStrings(capability.Examples)
			m.Capabilities[i] = capability
		}
	}
	if s.Metadata.Config != nil {
		m.Config = make(map[string]any, len(s.Metadata.Config))
		for k, v := range s.Metadata.Config {
			m.Config[k] = v
		}
	}
	if s.Metadata.Scripts != nil {
		m.Scripts = make(map[string]string, len(s.Metadata.Scripts))
		for k, v := range s.Metadata.Scripts {
			m.Scripts[k] = v
		}
	}
	if s.Metadata.Documentation != nil {
		doc := *s.Metadata.Documentation
		doc.References = cloneStrings(doc.References)
		m.Documentation = &doc
	}
	return &c
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// =============================================================================
// 🔧 SkillBuilder
// =============================================================================

// SkillBuilder 技能构建器
type SkillBuilder struct {
	skill *Skill
}

// NewSkillBuilder 创建技能构建器
func NewSkillBuilder(name, version string) *SkillBuilder {
	return &SkillBuilder{
		skill: &Skill{
			Metadata: SkillMetadata{
				Name:    name,
				Version: version,
			},
			LastModified: time.Now(),
			Status:       StatusActive,
		},
	}
}

// WithDescription 设置描述
func (b *SkillBuilder) WithDescription(desc string) *SkillBuilder {
	b.skill.Metadata.Description = desc
	return b
}

// WithAuthor 设置作者
func (b *SkillBuilder) WithAuthor(author string) *SkillBuilder {
	b.skill.Metadata.Author = author
	return b
}

// WithTriggers 追加触发词
func (b *SkillBuilder) WithTriggers(triggers ...string) *SkillBuilder {
	b.skill.Metadata.Triggers = append(b.skill.Metadata.Triggers, triggers...)
	return b
}

// DependsOn 追加技能依赖
func (b *SkillBuilder) DependsOn(skills ...string) *SkillBuilder {
	b.skill.Metadata.Dependencies.Skills = append(b.skill.Metadata.Dependencies.Skills, skills...)
	return b
}

// WithPackages 追加包依赖（name@version）
func (b *SkillBuilder) WithPackages(packages ...string) *SkillBuilder {
	b.skill.Metadata.Dependencies.Packages = append(b.skill.Metadata.Dependencies.Packages, packages...)
	return b
}

// WithAPIs 追加 API 依赖
func (b *SkillBuilder) WithAPIs(apis ...string) *SkillBuilder {
	b.skill.Metadata.Dependencies.APIs = append(b.skill.Metadata.Dependencies.APIs, apis...)
	return b
}

// WithCapability 追加能力
func (b *SkillBuilder) WithCapability(name, description string) *SkillBuilder {
	b.skill.Metadata.Capabilities = append(b.skill.Metadata.Capabilities, Capability{
		Name:        name,
		Description: description,
	})
	return b
}

// WithConfig 设置配置项
func (b *SkillBuilder) WithConfig(key string, value any) *SkillBuilder {
	if b.skill.Metadata.Config == nil {
		b.skill.Metadata.Config = make(map[string]any)
	}
	b.skill.Metadata.Config[key] = value
	return b
}

// WithPrompt 设置提示词内容
func (b *SkillBuilder) WithPrompt(prompt string) *SkillBuilder {
	b.skill.PromptContent = prompt
	return b
}

// WithPath 设置技能目录
func (b *SkillBuilder) WithPath(path string) *SkillBuilder {
	b.skill.Path = path
	return b
}

// WithStatus 设置状态
func (b *SkillBuilder) WithStatus(status SkillStatus) *SkillBuilder {
	b.skill.Status = status
	return b
}

// WithLastModified 设置修改时间
func (b *SkillBuilder) WithLastModified(t time.Time) *SkillBuilder {
	b.skill.LastModified = t
	return b
}

// Build 构建技能
func (b *SkillBuilder) Build() (*Skill, error) {
	if strings.TrimSpace(b.skill.Metadata.Name) == "" {
		return nil, fmt.Errorf("skill name is required")
	}
	if !b.skill.Status.Valid() {
		return nil, fmt.Errorf("invalid skill status: %s", b.skill.Status)
	}
	return b.skill.Clone(), nil
}

// MustBuild 构建技能，失败时 panic
func (b *SkillBuilder) MustBuild() *Skill {
	s, err := b.Build()
	if err != nil {
		panic(err)
	}
	return s
}
