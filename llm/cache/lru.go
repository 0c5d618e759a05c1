package cache

import (
	"sync"
	"time"
)

// ============================================================
// LRU 本地缓存实现（使用双向链表实现 O(1) 操作）
// ============================================================

// EvictReason 描述条目离开缓存的原因.
type EvictReason string

const (
	// EvictCapacity 容量已满，淘汰最久未使用的条目
	EvictCapacity EvictReason = "capacity"
	// EvictExpired 条目已过期
	EvictExpired EvictReason = "expired"
)

// Stats 缓存统计
type Stats struct {
	Size      int     `json:"size"`
	Capacity  int     `json:"capacity"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

// LRU 是带 TTL 的泛型 LRU 缓存.
// 过期条目在 Get/Peek/Range/Prune 时惰性清除.
type LRU[V any] struct {
	mu             sync.Mutex
	capacity       int
	ttl            time.Duration
	updateAgeOnGet bool
	items          map[string]*lruNode[V]
	head           *lruNode[V] // 最近使用
	tail           *lruNode[V] // 最久未使用

	hits      uint64
	misses    uint64
	evictions uint64

	onEvict func(key string, value V, reason EvictReason)
	now     func() time.Time
}

type lruNode[V any] struct {
	key       string
	value     V
	storedAt  time.Time
	expiresAt time.Time
	prev      *lruNode[V]
	next      *lruNode[V]
}

// LRUOption 配置 LRU
type LRUOption[V any] func(*LRU[V])

// WithUpdateAgeOnGet 命中时刷新条目的 TTL
func WithUpdateAgeOnGet[V any](enabled bool) LRUOption[V] {
	return func(c *LRU[V]) {
		c.updateAgeOnGet = enabled
	}
}

// WithEvictCallback 在条目因容量或过期被移除时回调
func WithEvictCallback[V any](fn func(key string, value V, reason EvictReason)) LRUOption[V] {
	return func(c *LRU[V]) {
		c.onEvict = fn
	}
}

// WithClock 替换时间源（测试用）
func WithClock[V any](now func() time.Time) LRUOption[V] {
	return func(c *LRU[V]) {
		if now != nil {
			c.now = now
		}
	}
}

// NewLRU 创建 LRU 缓存. capacity <= 0 时取 1; ttl <= 0 表示永不过期.
func NewLRU[V any](capacity int, ttl time.Duration, opts ...LRUOption[V]) *LRU[V] {
	if capacity <= 0 {
		capacity = 1
	}
	c := &LRU[V]{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*lruNode[V]),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get 读取条目并计入命中统计
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	node, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}

	now := c.now()
	if c.expired(node, now) {
		c.evict(node, EvictExpired)
		c.misses++
		return zero, false
	}

	c.moveToHead(node)
	if c.updateAgeOnGet && c.ttl > 0 {
		node.expiresAt = now.Add(c.ttl)
	}
	c.hits++
	return node.value, true
}

// Peek 读取条目，不影响统计与 LRU 顺序
func (c *LRU[V]) Peek(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	node, ok := c.items[key]
	if !ok {
		return zero, false
	}
	if c.expired(node, c.now()) {
		c.evict(node, EvictExpired)
		return zero, false
	}
	return node.value, true
}

// Set 写入条目，已存在则更新并移动到头部
func (c *LRU[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if node, ok := c.items[key]; ok {
		node.value = value
		node.storedAt = now
		node.expiresAt = c.deadline(now)
		c.moveToHead(node)
		return
	}

	if len(c.items) >= c.capacity {
		c.evictTail()
	}

	node := &lruNode[V]{
		key:       key,
		value:     value,
		storedAt:  now,
		expiresAt: c.deadline(now),
	}
	c.items[key] = node
	c.addToHead(node)
}

// Delete 删除条目，返回是否存在
func (c *LRU[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeNode(node)
	delete(c.items, key)
	return true
}

// DeleteFunc 删除所有满足条件的未过期条目，返回删除数量
func (c *LRU[V]) DeleteFunc(match func(key string, value V) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for node := c.head; node != nil; {
		next := node.next
		if c.expired(node, now) {
			c.evict(node, EvictExpired)
		} else if match(node.key, node.value) {
			c.removeNode(node)
			delete(c.items, node.key)
			removed++
		}
		node = next
	}
	return removed
}

// Range 按最近使用顺序遍历未过期条目，fn 返回 false 时停止
func (c *LRU[V]) Range(fn func(key string, value V, storedAt time.Time) bool) {
	c.mu.Lock()
	now := c.now()
	type kv struct {
		key      string
		value    V
		storedAt time.Time
	}
	snapshot := make([]kv, 0, len(c.items))
	for node := c.head; node != nil; {
		next := node.next
		if c.expired(node, now) {
			c.evict(node, EvictExpired)
		} else {
			snapshot = append(snapshot, kv{key: node.key, value: node.value, storedAt: node.storedAt})
		}
		node = next
	}
	c.mu.Unlock()

	for _, item := range snapshot {
		if !fn(item.key, item.value, item.storedAt) {
			return
		}
	}
}

// Keys 返回未过期的键，最近使用的在前
func (c *LRU[V]) Keys() []string {
	keys := make([]string, 0)
	c.Range(func(key string, _ V, _ time.Time) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

// Prune 清除所有过期条目，返回清除数量
func (c *LRU[V]) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	pruned := 0
	for node := c.head; node != nil; {
		next := node.next
		if c.expired(node, now) {
			c.evict(node, EvictExpired)
			pruned++
		}
		node = next
	}
	return pruned
}

// Clear 清空缓存并重置统计
func (c *LRU[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*lruNode[V])
	c.head = nil
	c.tail = nil
	c.hits, c.misses, c.evictions = 0, 0, 0
}

// Len 返回当前条目数（可能包含尚未清除的过期条目）
func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Capacity 返回容量上限
func (c *LRU[V]) Capacity() int {
	return c.capacity
}

// Stats 缓存统计
func (c *LRU[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Size:      len(c.items),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

func (c *LRU[V]) deadline(now time.Time) time.Time {
	if c.ttl <= 0 {
		return time.Time{}
	}
	return now.Add(c.ttl)
}

func (c *LRU[V]) expired(node *lruNode[V], now time.Time) bool {
	return !node.expiresAt.IsZero() && now.After(node.expiresAt)
}

// evict 移除节点并计入淘汰统计
func (c *LRU[V]) evict(node *lruNode[V], reason EvictReason) {
	c.removeNode(node)
	delete(c.items, node.key)
	c.evictions++
	if c.onEvict != nil {
		c.onEvict(node.key, node.value, reason)
	}
}

// addToHead 添加节点到头部 O(1)
func (c *LRU[V]) addToHead(node *lruNode[V]) {
	node.prev = nil
	node.next = c.head
	if c.head != nil {
		c.head.prev = node
	}
	c.head = node
	if c.tail == nil {
		c.tail = node
	}
}

// removeNode 从链表中移除节点 O(1)
func (c *LRU[V]) removeNode(node *lruNode[V]) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		c.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		c.tail = node.prev
	}
	node.prev = nil
	node.next = nil
}

// moveToHead 移动节点到头部 O(1)
func (c *LRU[V]) moveToHead(node *lruNode[V]) {
	if node == c.head {
		return
	}
	c.removeNode(node)
	c.addToHead(node)
}

// evictTail 淘汰尾部节点 O(1)
func (c *LRU[V]) evictTail() {
	if c.tail == nil {
		return
	}
	c.evict(c.tail, EvictCapacity)
}
