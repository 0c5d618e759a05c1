// 版权所有 2024 SkillFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理技能注册表的数据库 Schema，基于 golang-migrate，
迁移文件通过 embed.FS 内嵌，支持 SQLite 与 PostgreSQL。

# 概述

迁移器构建在已打开的 *sql.DB 之上（通常来自 internal/database），
因此 SQLite 使用与 GORM 相同的纯 Go 驱动连接。Schema 包含两张表：

  - skills：每个技能一行，元数据以 JSON 保存
  - registry_snapshots：每次保存注册表时追加一条导出记录

# 核心类型

  - Migrator / DefaultMigrator：Up/Down/DownAll/Goto/Force/
    Version/Status/Info/Close。
  - CLI：skillflow migrate 子命令的表格化输出，列出每个迁移创建的表，
    并在每次变更后报告 SQL 注册表存储能否使用当前版本
    （RegistrySchemaVersion）。
  - ApplyAll：在共享连接上执行全部迁移而不关闭连接。
*/
package migration
