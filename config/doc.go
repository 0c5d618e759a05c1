// 版权所有 2024 SkillFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 config 提供 SkillFlow 的配置结构、默认值与加载器。

# 加载顺序

默认值 → YAML 文件 → .env 文件 → 环境变量。YAML 中的 ${VAR} 与 $VAR
在解析前展开；.env 文件通过 godotenv 加载，不覆盖已存在的环境变量。
环境变量名由前缀与 env 标签拼接，例如 SKILLFLOW_PERFORMANCE_MAX_ACTIVE_SKILLS。

# 配置段

  - Skills：技能目录、缓存目录、元数据文件名与自动发现开关
  - Performance：活跃技能上限、上下文 Token 上限、计数缓存
  - Activation：模糊匹配阈值、候选数量、精确匹配自动激活
  - Context：上下文缓存、最小段落大小与分词器
  - Persistence：注册表快照后端（memory、file、redis、sql）
  - Redis / Database：可选的 L2 缓存与 SQL 存储
  - Server / Log / Telemetry：HTTP 服务、日志与链路追踪

加载后统一枚举值大小写并清理 metadata_files。Validate 收集全部违规项后一次性返回，
其中包括跨段约束，例如 min_section_size 必须小于 max_context_tokens。

# 组件投影

ActivatorConfig、ContextManagerConfig、RegistryStoreConfig、RedisManagerConfig、
DatabaseConnConfig 等方法把分段配置转换为各组件的构造参数。
*/
package config
