// 版权所有 2024 SkillFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 api 汇总 SkillFlow HTTP 接口的路由约定，处理器实现位于 api/handlers。

# 路由

	GET  /healthz                      存活探针
	GET  /ready, /readyz               就绪探针（存储、Redis、数据库）
	GET  /version                      构建信息
	GET  /metrics                      Prometheus 指标
	GET  /api/v1/skills                技能列表，可按 status 过滤
	GET  /api/v1/skills/{name}         单个技能
	GET  /api/v1/skills/{name}/chain   单个技能的执行链
	GET  /api/v1/search?q=             关键词检索
	GET  /api/v1/suggest?q=            关键词补全
	GET  /api/v1/active                活跃技能
	POST /api/v1/activate              按名称或关键词激活
	POST /api/v1/deactivate            停用
	GET  /api/v1/chain?task=           活跃技能的执行链
	POST /api/v1/context               构建（并可选压缩）上下文
	GET  /api/v1/stats                 汇总统计
	POST /api/v1/refresh               重新扫描技能目录

# 响应格式

所有 /api/v1 接口返回统一信封：

	{"success": true, "data": ..., "timestamp": "...", "request_id": "..."}

失败时 error 字段包含 code（例如 NOT_FOUND、CIRCULAR_DEPENDENCY）与 message，
HTTP 状态码由错误码决定。部分成功的批量操作在错误响应中同时返回 data。
*/
package api
