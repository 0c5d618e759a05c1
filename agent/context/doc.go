// 版权所有 2024 SkillFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 context 把活跃技能的提示词与 steering 规则组装为一段受 token 预算约束的系统提示词。

# 概述

LLM 的上下文窗口有限，而活跃技能的提示词会随技能数量增长。本包先把
每段 Markdown 文本按标题切分为带优先级的 Section，再在超出预算时按
优先级截断，最后把结果缓存起来，相同的技能集合与规则集合直接复用。

# 核心类型

  - Merger：按 #/##/### 标题切分文本，推断段落类型并按优先级稳定排序
  - Truncator：保留 PreserveTypes（默认 steeringRules），其余段落贪心加入，
    第一个放不下的段落按行部分保留并追加截断标记
  - Cache：L1 进程内 LRU + TTL，可选 L2 Redis；键为排序后集合的 SHA-256
  - Manager：BuildContext / OptimizeContext / AnalyzeContext / MergeContexts

# 段落优先级

	steeringRules   1  永不截断
	skillCorePrompt 2  最后截断
	skillExamples   3
	skillReferences 4  最先截断
	other           5

标题下一行写 <!-- section: examples --> 可以覆盖按标题推断出的类型。

# 缓存一致性

缓存只按内容寻址，不感知技能文件的变化。技能更新后调用方必须显式调用
Manager.InvalidateSkillCache，skillflow.System.Refresh 会自动完成这一步。
*/
package context
