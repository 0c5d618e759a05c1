// 版权所有 2024 SkillFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 persistence 提供技能注册表快照的持久化，使进程重启后无需重新
扫描技能目录即可恢复注册表。

# 概述

注册表以 Snapshot 形式导出：

	{"version": "1.0.0", "exportedAt": "...", "skills": [{metadata, path, lastModified, status}]}

提示词正文不进入快照，由调用方按 path 重新读取。加载时严格校验格式，
格式不符视为损坏数据。

# 存储后端

  - memory：进程内，测试与禁用持久化时使用
  - file：skill-registry.json，覆盖前把旧文件复制为
    skill-registry.backup.json；主文件损坏时回退到备份
  - redis：主键与备份键，回退语义与 file 相同
  - sql：基于 GORM 的 skills 与 registry_snapshots 表，Schema 由
    internal/migration 管理

# 回退顺序

Load 依次尝试主副本与备份；两者都不存在时返回 ErrRegistryNotFound，
由上层转为重新扫描。
*/
package persistence
