package skills

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validMetadata() SkillMetadata {
	return SkillMetadata{
		Name:        "code-review",
		Version:     "1.2.3",
		Description: "Reviews pull requests for style issues",
		Triggers:    []string{"review"},
		Capabilities: []Capability{
			{Name: "lint", Description: "run linters"},
		},
	}
}

func TestValidator_ValidMetadata(t *testing.T) {
	meta := validMetadata()
	res := NewValidator().ValidateMetadata(&meta)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, "skill is valid with no issues", res.Summary())
}

func TestValidator_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SkillMetadata)
		field  string
	}{
		{"missing name", func(m *SkillMetadata) { m.Name = "" }, "name"},
		{"bad name", func(m *SkillMetadata) { m.Name = "Code_Review" }, "name"},
		{"bad version", func(m *SkillMetadata) { m.Version = "1.0" }, "version"},
		{"short description", func(m *SkillMetadata) { m.Description = "short" }, "description"},
		{"bad dependency", func(m *SkillMetadata) { m.Dependencies.Skills = []string{"Bad Name"} }, "dependencies.skills"},
		{"bad package", func(m *SkillMetadata) { m.Dependencies.Packages = []string{"UPPER@1.0.0"} }, "dependencies.packages"},
		{"capability without description", func(m *SkillMetadata) { m.Capabilities[0].Description = "" }, "capabilities"},
		{"capability bad name", func(m *SkillMetadata) { m.Capabilities[0].Name = "Lint!" }, "capabilities"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta := validMetadata()
			tt.mutate(&meta)
			res := NewValidator().ValidateMetadata(&meta)
			assert.False(t, res.Valid)
			require.NotEmpty(t, res.Errors)
			assert.Equal(t, tt.field, res.Errors[0].Field)
			assert.Equal(t, SeverityError, res.Errors[0].Severity)
		})
	}
}

func TestValidator_WarningsKeepSkillValid(t *testing.T) {
	meta := validMetadata()
	meta.Triggers = nil
	meta.Capabilities = nil
	meta.Description = strings.Repeat("d", 501)
	meta.Dependencies.Packages = []string{"a", "b", "c", "d", "e", "f", "@scope/g@1.0.0", "h", "i", "j", "k"}

	res := NewValidator().ValidateMetadata(&meta)
	assert.True(t, res.Valid)
	assert.Len(t, res.Warnings, 4)
	assert.Equal(t, "skill is valid with 4 warning(s)", res.Summary())
}

func TestIsSemver(t *testing.T) {
	tests := []struct {
		version string
		want    bool
	}{
		{"1.0.0", true},
		{"0.1.0", true},
		{"1.0.0-beta", true},
		{"1.0.0-RC.1", true},
		{"1.0.0-alpha.1+build.5", true},
		{"1.0.0+build.1", true},
		{"1.0.0+20240101.sha.abc", true},
		{"1.0", false},
		{"1", false},
		{"v1.0.0", false},
		{"01.0.0", false},
		{"1.0.0-", false},
		{"1.0.0+", false},
		{"latest", false},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSemver(tt.version))

			meta := validMetadata()
			meta.Version = tt.version
			assert.Equal(t, tt.want, NewValidator().ValidateMetadata(&meta).Valid)
		})
	}
}

func TestValidator_QuickValidate(t *testing.T) {
	v := NewValidator()
	meta := validMetadata()
	assert.True(t, v.QuickValidate(&meta))
	meta.Version = "1.0.0-beta+x"
	assert.True(t, v.QuickValidate(&meta))
	meta.Name = "NOPE"
	assert.False(t, v.QuickValidate(&meta))
	assert.False(t, v.QuickValidate(nil))
}

func TestValidator_ValidateDirectory(t *testing.T) {
	dir := t.TempDir()
	v := NewValidator()

	res := v.ValidateDirectory(dir)
	assert.False(t, res.Valid)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte("# Skill"), 0o644))
	res = v.ValidateDirectory(dir)
	assert.True(t, res.Valid)
	assert.Len(t, res.Warnings, 2)

	res = v.ValidateDirectory(filepath.Join(dir, "missing"))
	assert.False(t, res.Valid)
}

func TestValidator_ValidateSkillIncludesDirectory(t *testing.T) {
	skill := &Skill{Metadata: validMetadata(), Path: t.TempDir()}
	res := NewValidator().ValidateSkill(skill)
	assert.False(t, res.Valid)
	assert.Equal(t, "files", res.Errors[0].Field)
	assert.Contains(t, res.Summary(), "failed")
}
