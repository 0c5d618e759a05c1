package tokenizer

import (
	"hash/fnv"
	"strconv"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/BaSui01/skillflow/llm/cache"
	"go.uber.org/zap"
)

// =============================================================================
// 🔢 记忆化 Token 计数器
// =============================================================================

// CounterConfig 计数器配置
type CounterConfig struct {
	// 记忆化缓存容量
	CacheSize int `yaml:"cache_size" json:"cache_size"`
	// 记忆化缓存 TTL
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
}

// DefaultCounterConfig 返回默认计数器配置
func DefaultCounterConfig() CounterConfig {
	return CounterConfig{
		CacheSize: 1000,
		CacheTTL:  5 * time.Minute,
	}
}

// CountResult 计数结果
type CountResult struct {
	Tokens     int  `json:"tokens"`
	Characters int  `json:"characters"`
	Cached     bool `json:"cached"`
}

// Counter 在 Tokenizer 之上加一层 LRU 记忆化.
// 主分词器失败时（例如 tiktoken 无法加载编码表）退回估算器.
type Counter struct {
	tokenizer Tokenizer
	fallback  Tokenizer
	memo      *cache.LRU[int]
	logger    *zap.Logger

	fallbackWarned atomic.Bool
}

// NewCounter 创建计数器. tokenizer 为 nil 时使用估算器.
func NewCounter(t Tokenizer, config CounterConfig, logger *zap.Logger) *Counter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if t == nil {
		t = NewEstimatorTokenizer("", 0)
	}
	if config.CacheSize <= 0 {
		config.CacheSize = DefaultCounterConfig().CacheSize
	}

	return &Counter{
		tokenizer: t,
		fallback:  NewEstimatorTokenizer("", t.MaxTokens()),
		memo:      cache.NewLRU[int](config.CacheSize, config.CacheTTL, cache.WithUpdateAgeOnGet[int](true)),
		logger:    logger.With(zap.String("component", "token_counter")),
	}
}

// Count 计数并报告是否命中缓存
func (c *Counter) Count(text string) CountResult {
	chars := utf8.RuneCountInString(text)
	if text == "" {
		return CountResult{}
	}

	key := memoKey(text)
	if tokens, ok := c.memo.Get(key); ok {
		return CountResult{Tokens: tokens, Characters: chars, Cached: true}
	}

	tokens := c.raw(text)
	c.memo.Set(key, tokens)
	return CountResult{Tokens: tokens, Characters: chars}
}

// CountTokens 只返回 token 数
func (c *Counter) CountTokens(text string) int {
	return c.Count(text).Tokens
}

// CountBatch 汇总多段文本
func (c *Counter) CountBatch(texts []string) CountResult {
	var total CountResult
	for _, text := range texts {
		r := c.Count(text)
		total.Tokens += r.Tokens
		total.Characters += r.Characters
		total.Cached = total.Cached || r.Cached
	}
	return total
}

// Estimate 不查缓存的粗略估算（约 4 字符/token，向上取整）
func (c *Counter) Estimate(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// ExceedsLimit 判断文本是否超过 token 上限
func (c *Counter) ExceedsLimit(text string, limit int) bool {
	return c.CountTokens(text) > limit
}

// TruncateToLimit 截取不超过 limit 个 token 的最长前缀（按 rune 二分）
func (c *Counter) TruncateToLimit(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if !c.ExceedsLimit(text, limit) {
		return text
	}

	runes := []rune(text)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		// 前缀只用一次，绕过记忆化缓存
		if c.raw(string(runes[:mid])) <= limit {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo])
}

// CountUncached 直接计数，不读写缓存. 适合只用一次的中间文本.
func (c *Counter) CountUncached(text string) int {
	if text == "" {
		return 0
	}
	return c.raw(text)
}

// Invalidate 删除某段文本的缓存
func (c *Counter) Invalidate(text string) {
	c.memo.Delete(memoKey(text))
}

// ClearCache 清空缓存与统计
func (c *Counter) ClearCache() {
	c.memo.Clear()
}

// CacheStats 返回缓存统计
func (c *Counter) CacheStats() cache.Stats {
	return c.memo.Stats()
}

// Tokenizer 返回底层分词器
func (c *Counter) Tokenizer() Tokenizer {
	return c.tokenizer
}

// raw 不经缓存直接计数，失败时退回估算器
func (c *Counter) raw(text string) int {
	tokens, err := c.tokenizer.CountTokens(text)
	if err == nil {
		return tokens
	}
	if c.fallbackWarned.CompareAndSwap(false, true) {
		c.logger.Warn("tokenizer failed, falling back to estimator",
			zap.String("tokenizer", c.tokenizer.Name()),
			zap.Error(err),
		)
	}
	tokens, _ = c.fallback.CountTokens(text)
	return tokens
}

// memoKey 全文 FNV-1a 哈希 + 字节长度
func memoKey(text string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	return strconv.FormatUint(h.Sum64(), 16) + ":" + strconv.Itoa(len(text))
}
