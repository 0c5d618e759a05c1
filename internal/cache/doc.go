// 版权所有 2024 SkillFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 封装 go-redis 客户端，作为上下文缓存的可选二级存储。

# 概述

agent/context.Cache 的一级缓存是进程内 LRU，多个 skillflow 进程共享
同一 Redis 时，一级未命中会回落到这里。Manager 负责连接生命周期：
初始化时 Ping、后台健康检查、Close 时停止检查并释放连接。

# 核心类型

  - Manager：Get/Set/Delete/Exists/Expire、GetJSON/SetJSON，
    以及用 SCAN 实现的 Keys（按技能失效时遍历前缀）。
  - Config：地址、密码、连接池、默认 TTL、TLS 开关、健康检查间隔。
  - Stats：从 INFO 与 DBSIZE 解析出的命中、未命中、内存与连接数。

# 错误语义

未命中返回 ErrCacheMiss，可用 IsCacheMiss 或 errors.Is 判断；
关闭后的调用返回 ErrClosed。
*/
package cache
