// 版权所有 2024 SkillFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖 HTTP、
技能激活、上下文构建、缓存与持久化存储几个维度。

# 概述

Collector 统一注册并记录 Prometheus 指标，使用 promauto.With
绑定到调用方给定的 Registerer（nil 时使用默认注册表）。所有指标按
namespace 隔离。Collector 同时实现 activation.Observer、
context.CacheObserver 与 context.BuildObserver，由门面在装配时注入，
业务包本身不依赖 Prometheus。

# 主要能力

  - HTTP 指标：请求总数与耗时，按 method/path/status 分组，
    状态码归类为 2xx/3xx/4xx/5xx。
  - 激活指标：按 via/outcome 统计激活次数，活跃技能数 Gauge。
  - 上下文指标：构建次数（按 cached/truncated）、输出 token 分布、
    构建耗时，以及上下文缓存事件计数。
  - 注册表指标：已注册技能数 Gauge。
  - 存储指标：操作耗时 Histogram 与失败计数，按 backend/operation 分组。
*/
package metrics
