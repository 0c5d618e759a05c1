// 版权所有 2024 SkillFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的数据库打开与连接池管理，供 SQL
注册表存储和迁移命令共用。

# 概述

Open 按驱动名选择方言：sqlite 使用纯 Go 的 glebarez/sqlite，
postgres 使用 gorm.io/driver/postgres。PoolManager 在打开的连接上
应用连接池参数，可选地在后台定时探活，并提供事务与带退避的事务重试。

# 核心类型

  - Config：驱动、DSN 与连接池参数。
  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB()、Ping()、
    Stats()、GetStats()、Close()。
  - PoolConfig：最大空闲/打开连接数、生命周期、空闲超时与探活间隔。

# 主要能力

  - 方言选择：sqlite（默认，适合单机与测试）与 postgres。
  - 健康检查：后台 PingContext 探活，Close 时停止。
  - 事务重试：死锁、序列化失败、连接中断等错误按指数退避重试，
    注册表 SQL 存储的保存走这条路径。
*/
package database
