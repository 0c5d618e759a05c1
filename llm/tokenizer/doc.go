// Package tokenizer 提供统一的 Token 计数接口，
// 支持 tiktoken 精确计数与面向 Markdown 技能提示的估算器（CJK、假名、韩文按高密度计，
// 连续空白合并），并通过 Counter 对计数结果做 LRU 记忆化，
// 用于技能上下文组装时的 Token 预算管理。
package tokenizer
