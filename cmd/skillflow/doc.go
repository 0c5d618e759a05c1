// 版权所有 2024 SkillFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 main 提供 skillflow 命令行程序。

# 概述

cmd/skillflow 基于 cobra 组织子命令：查询与激活技能、构建上下文、
校验技能目录、启动 HTTP 服务以及管理 SQL 注册表的 schema 迁移。
每次运行都会按配置创建一个独立的 skillflow.System。

# 子命令

  - list / search / suggest：浏览注册表与关键词检索
  - activate / chain / context：激活技能并输出执行链或组装后的上下文
  - validate：校验单个技能目录
  - sync：重新扫描并保存注册表快照
  - serve：HTTP API、/metrics 与健康探针
  - migrate up|down|status|version|force：注册表表结构迁移
  - health / version

# 中间件链

Recovery、RequestID、SecurityHeaders、RequestLogger、OTelTracing、
Metrics、RateLimiter（基于 IP），构建信息通过 ldflags 注入 Version、
BuildTime 与 GitCommit。
*/
package main
