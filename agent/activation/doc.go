// 版权所有 2024 SkillFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 activation 维护有容量上限的活跃技能集合，并把活跃技能编排为依赖安全的执行链。

# 状态机

技能只有两种状态：未激活 → 活跃 → 未激活。激活一个技能会先解析依赖，
然后按执行顺序把尚未激活的依赖一并激活（ActivatedVia=dependency）。
整个过程是全有或全无的：依赖解析失败或容量不足时活跃集合保持不变。

停用不会级联：仍依赖被停用技能的活跃技能会在 DeactivationResult.Dependents
中列出并记录 warn 日志。

# 核心类型

  - Activator：活跃集合、关键词激活、批量激活、统计。
  - ChainBuilder：用 Kahn 算法合并多个技能的执行顺序，生成 SkillChain。
  - Observer：激活事件的指标回调，internal/metrics.Collector 实现了它。
*/
package activation
