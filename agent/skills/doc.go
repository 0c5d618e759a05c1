// 版权所有 2024 SkillFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 skills 提供技能的数据模型、注册表、元数据校验与依赖图解析。

# 概述

技能是一组提示词、触发关键词、依赖声明与能力描述的集合。Registry
是技能记录的唯一所有者，匹配器、解析器和激活器都以它为事实来源。
依赖关系由 Metadata.Dependencies.Skills 隐式构成有向图，解析要求
该图无环；环路作为解析错误返回，而不是 panic。

# 核心类型

  - Skill / SkillMetadata：技能记录与元数据（SKILL.yaml 对应结构）
  - SkillBuilder：链式构建技能，简化编程式注册与测试
  - Registry：并发安全的技能注册表，支持检索、统计与变更监听
  - Validator：名称、语义化版本、描述长度、依赖与能力校验
  - DependencyGraph：依赖图，提供依赖/被依赖查询、环检测与拓扑排序
  - DependencyResolver：深度优先解析传递依赖，输出拓扑执行顺序

# 主要能力

  - 环检测：遍历时维护 visiting 集合，重入当前路径即报告环路径
  - 部分解析：缺失依赖记录在 Missing 中，独立分支继续解析
  - 包依赖：解析 name@version 与 @scope/name@version 形式
  - 变更监听：Registry.OnChange 供上层同步关键词索引与依赖图
*/
package skills
