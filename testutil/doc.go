// 版权所有 2024 SkillFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package testutil 提供 SkillFlow 测试的共享工具和辅助函数。

# 概述

testutil 包为门面、HTTP 处理器与命令行测试提供统一的辅助能力，
避免各包重复实现技能目录构造等测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 断言工具: AssertJSONEqual / AssertEventuallyTrue / AssertEventuallyEqual
  - 技能目录: WriteFile / WriteSkillDir 在临时目录中生成 SKILL.md 与 SKILL.yaml
  - 数据工具: MustJSON / MustParseJSON

# 子包

  - testutil/mocks: MockRegistryStore，内存注册表存储，支持错误注入与调用计数
  - testutil/fixtures: 技能样例，包括 A→B→C 依赖链、互相依赖的环与关键词场景

# 使用示例

	root := t.TempDir()
	for _, spec := range fixtures.ReviewSkillSpecs() {
		testutil.WriteSkillDir(t, root, spec)
	}
*/
package testutil
