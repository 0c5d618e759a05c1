// 版权所有 2024 SkillFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供进程内的 LRU + TTL 缓存原语与稳定的集合哈希键，
供 token 计数记忆化与上下文缓存复用。

# 概述

LRU 使用双向链表 + map 实现 O(1) 的读写与淘汰。过期与淘汰都是惰性的：
只在访问或写入时触发，不依赖后台定时器。缓存统计（命中、未命中、
淘汰次数与命中率）随每次访问更新。

# 核心类型

  - LRU[V]：泛型 LRU 缓存，支持 TTL、updateAgeOnGet 与淘汰回调。
  - Stats：缓存统计快照。
  - SetKey：对两组字符串集合排序后做 SHA-256，得到与顺序无关的键。

# 使用方式

	lru := cache.NewLRU[int](1000, time.Hour, cache.WithUpdateAgeOnGet[int](true))
	lru.Set("k", 42)
	v, ok := lru.Get("k")

	key := cache.SetKey(skillNames, steeringRules)
*/
package cache
