// 版权所有 2024 SkillFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 handlers 提供 SkillFlow HTTP API 的请求处理器。

# 核心类型

  - SkillsHandler  技能查询、激活、执行链与上下文构建，基于 skillflow.System
  - HealthHandler  存活与就绪探针，可注册任意 HealthCheck
  - PingCheck      用 ping 函数实现的 HealthCheck
  - Response       统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo      结构化错误信息，含 code、message 与相关技能名

# 主要能力

  - WriteSuccess / WriteError / WriteJSON 输出统一信封，并回填请求 ID
  - DecodeJSONBody 限制 1 MB 且拒绝未知字段
  - 错误码到 HTTP 状态码的映射见 types.HTTPStatusOf
*/
package handlers
