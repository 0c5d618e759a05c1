// =============================================================================
// 📦 测试数据工厂 - 技能样例
// =============================================================================
// 提供预定义的技能集合，覆盖依赖链、依赖环与关键词匹配场景
// =============================================================================
package fixtures

import (
	"time"

	"github.com/BaSui01/skillflow/agent/skills"
	"github.com/BaSui01/skillflow/testutil"
)

// FixedTime 固定的修改时间，便于比较快照
var FixedTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// =============================================================================
// 🔗 依赖链
// =============================================================================

// ChainSkillSpecs A→B→C 依赖链：app 依赖 service，service 依赖 storage
func ChainSkillSpecs() []testutil.SkillSpec {
	return []testutil.SkillSpec{
		{Name: "app", Triggers: []string{"application"}, Dependencies: []string{"service"}, Capabilities: []string{"render"}},
		{Name: "service", Triggers: []string{"service layer"}, Dependencies: []string{"storage"}},
		{Name: "storage", Triggers: []string{"database"}, Frontmatter: true},
	}
}

// CycleSkillSpecs 互相依赖的两个技能
func CycleSkillSpecs() []testutil.SkillSpec {
	return []testutil.SkillSpec{
		{Name: "ping", Triggers: []string{"ping"}, Dependencies: []string{"pong"}},
		{Name: "pong", Triggers: []string{"pong"}, Dependencies: []string{"ping"}},
	}
}

// ReviewSkillSpecs 关键词场景：一个精确触发词与一个相近技能
func ReviewSkillSpecs() []testutil.SkillSpec {
	return []testutil.SkillSpec{
		{
			Name:         "react-review",
			Description:  "Reviews React components for hooks and rendering issues",
			Author:       "frontend-team",
			Triggers:     []string{"react review", "component review"},
			Capabilities: []string{"review-hooks"},
			Prompt:       "# React Review\n\nCheck hooks usage.\n\n## Examples\n\nuseEffect cleanup.\n",
		},
		{
			Name:        "css-audit",
			Description: "Audits stylesheets for unused selectors",
			Author:      "frontend-team",
			Triggers:    []string{"css audit", "stylesheet"},
		},
	}
}

// AllSkillSpecs 链、关键词场景的并集，不含依赖环
func AllSkillSpecs() []testutil.SkillSpec {
	return append(ChainSkillSpecs(), ReviewSkillSpecs()...)
}

// =============================================================================
// 🧱 内存技能
// =============================================================================

// ChainSkills 与 ChainSkillSpecs 对应的内存技能
func ChainSkills() []*skills.Skill {
	return []*skills.Skill{
		skills.NewSkillBuilder("app", "1.0.0").
			WithDescription("Application skill for tests").
			WithTriggers("application").
			DependsOn("service").
			WithPrompt("# app").
			WithLastModified(FixedTime).
			MustBuild(),
		skills.NewSkillBuilder("service", "1.0.0").
			WithDescription("Service skill for tests").
			WithTriggers("service layer").
			DependsOn("storage").
			WithPrompt("# service").
			WithLastModified(FixedTime).
			MustBuild(),
		skills.NewSkillBuilder("storage", "1.0.0").
			WithDescription("Storage skill for tests").
			WithTriggers("database").
			WithPrompt("# storage").
			WithLastModified(FixedTime).
			MustBuild(),
	}
}
