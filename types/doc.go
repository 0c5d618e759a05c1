// Copyright (c) SkillFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 SkillFlow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 agent/skills、
agent/activation、agent/context、api 等上层模块提供统一的错误契约，
以避免循环依赖。

# 核心类型

  - Error / ErrorCode — 结构化错误体系，携带技能名、HTTP 状态码与原因链

# 错误码

  - NOT_FOUND              — 技能不存在
  - CIRCULAR_DEPENDENCY    — 依赖图存在环，消息中包含环路径
  - MISSING_DEPENDENCY     — 依赖缺失（其余分支仍会继续解析）
  - CAPACITY_EXCEEDED      — 激活集合已达上限
  - INVALID_CACHE_DATA     — 缓存条目损坏
  - INVALID_REGISTRY_DATA  — 注册表持久化文档结构非法
  - VALIDATION_FAILED      — 技能元数据校验失败

# 错误工具链

IsCode / GetErrorCode 基于 errors.As，可穿透 fmt.Errorf("%w") 包装。
*/
package types
