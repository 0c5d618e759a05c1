package skills

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

var (
	skillNamePattern = regexp.MustCompile(`^[a-z0-9-]+$`)
	packagePattern   = regexp.MustCompile(`^(@[a-z0-9-~][a-z0-9-._~]*/)?[a-z0-9-~][a-z0-9-._~]*$`)
)

const (
	minDescriptionLength = 10
	maxDescriptionLength = 500
	maxDependencyCount   = 10
)

// Severity 问题级别
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ValidationIssue 单条校验问题
type ValidationIssue struct {
	Field    string   `json:"field"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

func (i ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", i.Field, i.Message)
}

// ValidationResult 校验结果. 只有 Errors 会使 Valid 为 false.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Errors   []ValidationIssue `json:"errors"`
	Warnings []ValidationIssue `json:"warnings"`
}

func (r *ValidationResult) errorf(field, format string, args ...any) {
	r.Errors = append(r.Errors, ValidationIssue{Field: field, Message: fmt.Sprintf(format, args...), Severity: SeverityError})
}

func (r *ValidationResult) warnf(field, format string, args ...any) {
	r.Warnings = append(r.Warnings, ValidationIssue{Field: field, Message: fmt.Sprintf(format, args...), Severity: SeverityWarning})
}

func (r *ValidationResult) merge(other ValidationResult) {
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

func (r *ValidationResult) finish() ValidationResult {
	r.Valid = len(r.Errors) == 0
	if r.Errors == nil {
		r.Errors = []ValidationIssue{}
	}
	if r.Warnings == nil {
		r.Warnings = []ValidationIssue{}
	}
	return *r
}

// Summary 返回可读摘要
func (r ValidationResult) Summary() string {
	switch {
	case r.Valid && len(r.Warnings) == 0:
		return "skill is valid with no issues"
	case r.Valid:
		return fmt.Sprintf("skill is valid with %d warning(s)", len(r.Warnings))
	default:
		return fmt.Sprintf("skill validation failed with %d error(s) and %d warning(s)", len(r.Errors), len(r.Warnings))
	}
}

// Validator 技能元数据与目录结构校验器，无状态
type Validator struct{}

// NewValidator 创建校验器
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateSkill 校验完整技能：元数据、依赖、能力，Path 非空时校验目录结构
func (v *Validator) ValidateSkill(skill *Skill) ValidationResult {
	var result ValidationResult
	if skill == nil {
		result.errorf("skill", "skill is nil")
		return result.finish()
	}
	result.merge(v.ValidateMetadata(&skill.Metadata))
	if skill.Path != "" {
		result.merge(v.ValidateDirectory(skill.Path))
	}
	return result.finish()
}

// ValidateMetadata 只校验元数据
func (v *Validator) ValidateMetadata(meta *SkillMetadata) ValidationResult {
	var result ValidationResult
	if meta == nil {
		result.errorf("metadata", "metadata is nil")
		return result.finish()
	}

	v.validateRequired(meta, &result)
	v.validateDependencies(meta, &result)
	v.validateCapabilities(meta, &result)
	return result.finish()
}

func (v *Validator) validateRequired(meta *SkillMetadata, result *ValidationResult) {
	required := []struct {
		field string
		value string
	}{
		{"name", meta.Name},
		{"version", meta.Version},
		{"description", meta.Description},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			result.errorf(f.field, "required field '%s' is missing", f.field)
		}
	}

	if meta.Name != "" && !skillNamePattern.MatchString(meta.Name) {
		result.errorf("name", "skill name must contain only lowercase letters, numbers, and hyphens")
	}
	if meta.Version != "" && !IsSemver(meta.Version) {
		result.errorf("version", "version must follow semantic versioning (e.g., 1.0.0)")
	}
	if meta.Description != "" {
		n := len([]rune(meta.Description))
		if n < minDescriptionLength {
			result.errorf("description", "description must be at least %d characters", minDescriptionLength)
		}
		if n > maxDescriptionLength {
			result.warnf("description", "description should not exceed %d characters", maxDescriptionLength)
		}
	}
	if len(meta.Triggers) == 0 {
		result.warnf("triggers", "at least one trigger keyword is recommended")
	}
}

func (v *Validator) validateDependencies(meta *SkillMetadata, result *ValidationResult) {
	deps := meta.Dependencies
	for _, dep := range deps.Skills {
		if !skillNamePattern.MatchString(dep) {
			result.errorf("dependencies.skills", "invalid skill dependency name: %s", dep)
		}
	}
	for _, pkg := range deps.Packages {
		name, _ := ParsePackageSpec(pkg)
		if !packagePattern.MatchString(name) {
			result.errorf("dependencies.packages", "invalid package name: %s", pkg)
		}
	}
	if total := deps.Total(); total > maxDependencyCount {
		result.warnf("dependencies", "skill has %d dependencies, consider reducing complexity", total)
	}
}

func (v *Validator) validateCapabilities(meta *SkillMetadata, result *ValidationResult) {
	if len(meta.Capabilities) == 0 {
		result.warnf("capabilities", "no capabilities defined")
		return
	}
	for _, c := range meta.Capabilities {
		if c.Name == "" {
			result.errorf("capabilities", "capability is missing required field: name")
		} else if !skillNamePattern.MatchString(c.Name) {
			result.errorf("capabilities", "capability name '%s' must contain only lowercase letters, numbers, and hyphens", c.Name)
		}
		if c.Description == "" {
			result.errorf("capabilities", "capability '%s' is missing description", c.Name)
		}
	}
}

// ValidateDirectory 校验技能目录结构
func (v *Validator) ValidateDirectory(dir string) ValidationResult {
	var result ValidationResult

	entries, err := os.ReadDir(dir)
	if err != nil {
		result.errorf("files", "failed to read skill directory: %v", err)
		return result.finish()
	}

	files := make(map[string]bool, len(entries))
	hasScriptFile := false
	for _, e := range entries {
		files[e.Name()] = true
		if strings.Contains(e.Name(), "script") {
			hasScriptFile = true
		}
	}

	if !files["SKILL.md"] && !files["PROMPT.md"] {
		result.errorf("files", "at least one prompt file (SKILL.md or PROMPT.md) is required")
	}
	if !files["SKILL.yaml"] {
		result.warnf("files", "SKILL.yaml is recommended for structured metadata")
	}
	if !files["README.md"] {
		result.warnf("files", "README.md is recommended for documentation")
	}
	if hasScriptFile && !files["scripts"] {
		result.warnf("files", "scripts/ directory is recommended for automation scripts")
	}
	return result.finish()
}

// QuickValidate 只检查关键字段
func (v *Validator) QuickValidate(meta *SkillMetadata) bool {
	return meta != nil &&
		meta.Name != "" &&
		meta.Version != "" &&
		meta.Description != "" &&
		skillNamePattern.MatchString(meta.Name) &&
		IsSemver(meta.Version)
}

// IsSemver 判断是否为完整的 MAJOR.MINOR.PATCH 语义化版本，允许预发布与构建元数据.
// semver 包接受 "1.0" 这类简写，这里要求三段齐全.
func IsSemver(version string) bool {
	v := "v" + version
	if !semver.IsValid(v) {
		return false
	}
	return semver.Canonical(v) == strings.TrimSuffix(v, semver.Build(v))
}
