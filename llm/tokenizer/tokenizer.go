package tokenizer

import (
	"fmt"
	"strings"
)

// Tokenizer是统一的代号计数界面.
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) (int, error)

	// MaxTokens 返回模型的最大上下文长度.
	MaxTokens() int

	// Name 返回分词器的名称.
	Name() string
}

// 未知模型的上下文长度
const defaultMaxTokens = 200000

// 分词器类型
const (
	KindEstimator = "estimator"
	KindTiktoken  = "tiktoken"
)

// New 按类型创建分词器. kind 为空时使用估算器.
func New(kind, model string) (Tokenizer, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindEstimator:
		return NewEstimatorTokenizer(model, 0), nil
	case KindTiktoken:
		return NewTiktokenTokenizer(model)
	default:
		return nil, fmt.Errorf("unknown tokenizer kind: %s", kind)
	}
}
