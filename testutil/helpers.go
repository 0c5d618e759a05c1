// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 提供通用的测试辅助函数和断言
//
// 使用方法:
//
//	ctx := testutil.TestContext(t)
//	testutil.WriteSkillDir(t, root, testutil.SkillSpec{Name: "react-review"})
//	testutil.AssertEventuallyTrue(t, func() bool { return condition }, 5*time.Second)
//
// =============================================================================
package testutil

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回带超时的测试上下文
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestContextWithTimeout 返回带自定义超时的测试上下文
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// 📁 技能目录
// =============================================================================

// SkillSpec 描述一个待写入磁盘的技能目录
type SkillSpec struct {
	Name         string
	Version      string
	Description  string
	Author       string
	Triggers     []string
	Dependencies []string
	Capabilities []string
	Prompt       string
	Readme       string

	// Frontmatter 为 true 时元数据写入 SKILL.md frontmatter，否则写入 SKILL.yaml
	Frontmatter bool
}

type specMetadata struct {
	Name         string           `yaml:"name"`
	Version      string           `yaml:"version,omitempty"`
	Description  string           `yaml:"description"`
	Author       string           `yaml:"author,omitempty"`
	Triggers     []string         `yaml:"triggers,omitempty"`
	Dependencies map[string]any   `yaml:"dependencies,omitempty"`
	Capabilities []map[string]any `yaml:"capabilities,omitempty"`
}

// WriteFile 写入文件并创建父目录
func WriteFile(t testing.TB, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WriteSkillDir 在 root 下生成技能目录，返回目录路径
func WriteSkillDir(t testing.TB, root string, spec SkillSpec) string {
	t.Helper()

	dir := filepath.Join(root, spec.Name)
	meta := specMetadata{
		Name:        spec.Name,
		Version:     spec.Version,
		Description: spec.Description,
		Author:      spec.Author,
		Triggers:    spec.Triggers,
	}
	if meta.Version == "" {
		meta.Version = "1.0.0"
	}
	if meta.Description == "" {
		meta.Description = "Test skill " + spec.Name + " used by the test suite"
	}
	if len(spec.Dependencies) > 0 {
		meta.Dependencies = map[string]any{"skills": spec.Dependencies}
	}
	for _, c := range spec.Capabilities {
		meta.Capabilities = append(meta.Capabilities, map[string]any{
			"name":        c,
			"description": "Capability " + c,
		})
	}

	data, err := yaml.Marshal(meta)
	if err != nil {
		t.Fatalf("marshal metadata: %v", err)
	}

	prompt := spec.Prompt
	if prompt == "" {
		prompt = "# " + spec.Name + "\n\nInstructions for " + spec.Name + ".\n"
	}
	if spec.Frontmatter {
		WriteFile(t, filepath.Join(dir, "SKILL.md"), "---\n"+string(data)+"---\n"+prompt)
	} else {
		WriteFile(t, filepath.Join(dir, "SKILL.yaml"), string(data))
		WriteFile(t, filepath.Join(dir, "SKILL.md"), prompt)
	}
	if spec.Readme != "" {
		WriteFile(t, filepath.Join(dir, "README.md"), spec.Readme)
	}
	return dir
}

// Touch 把目录下所有文件的修改时间设为 at
func Touch(t testing.TB, dir string, at time.Time) {
	t.Helper()
	err := filepath.WalkDir(dir, func(path string, _ os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return os.Chtimes(path, at, at)
	})
	if err != nil {
		t.Fatalf("touch %s: %v", dir, err)
	}
}

// =============================================================================
// 🔍 断言辅助
// =============================================================================

// AssertJSONEqual 断言两个值的 JSON 表示相等
func AssertJSONEqual(t *testing.T, expected, actual any) {
	t.Helper()

	expectedJSON, err := json.Marshal(expected)
	if err != nil {
		t.Fatalf("failed to marshal expected: %v", err)
	}

	actualJSON, err := json.Marshal(actual)
	if err != nil {
		t.Fatalf("failed to marshal actual: %v", err)
	}

	if string(expectedJSON) != string(actualJSON) {
		t.Errorf("JSON mismatch:\nexpected: %s\nactual: %s", expectedJSON, actualJSON)
	}
}

// AssertEventuallyTrue 断言条件最终为真
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	if !WaitFor(condition, timeout) {
		t.Errorf("condition did not become true within %v", timeout)
	}
}

// AssertEventuallyEqual 断言值最终相等
func AssertEventuallyEqual(t *testing.T, expected any, getter func() any, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	var lastValue any

	for time.Now().Before(deadline) {
		lastValue = getter()
		if reflect.DeepEqual(expected, lastValue) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Errorf("value did not become %v within %v, last value: %v", expected, timeout, lastValue)
}

// AssertContains 断言字符串包含子串
func AssertContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("expected %q to contain %q", s, substr)
	}
}

// =============================================================================
// ⏱️ 时间辅助
// =============================================================================

// WaitFor 等待条件满足或超时
func WaitFor(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return condition()
}

// =============================================================================
// 🔧 测试数据辅助
// =============================================================================

// MustJSON 将值转换为 JSON 字符串，失败时 panic
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// MustParseJSON 解析 JSON 字符串，失败时 panic
func MustParseJSON[T any](s string) T {
	var v T
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		panic(err)
	}
	return v
}
