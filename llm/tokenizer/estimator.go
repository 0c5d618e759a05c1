package tokenizer

import (
	"unicode"
)

// EstimatorTokenizer 不依赖编码表的 token 估算器，面向 SKILL.md 一类的
// Markdown 技能提示：表意文字、假名与韩文按约 1.5 字符/token 计，
// 其余字符约 4 字符/token，连续空白（缩进、空行）只按一个字符计.
type EstimatorTokenizer struct {
	maxTokens int
}

// NewEstimatorTokenizer 创建估算器. maxTokens <= 0 时取 model 的上下文长度，
// 未知模型为 200000.
func NewEstimatorTokenizer(model string, maxTokens int) *EstimatorTokenizer {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
		if info, ok := lookupEncoding(model); ok {
			maxTokens = info.maxTokens
		}
	}
	return &EstimatorTokenizer{maxTokens: maxTokens}
}

func (e *EstimatorTokenizer) CountTokens(text string) (int, error) {
	return estimate(text), nil
}

func (e *EstimatorTokenizer) MaxTokens() int {
	return e.maxTokens
}

func (e *EstimatorTokenizer) Name() string {
	return KindEstimator
}

// estimate 非空文本至少 1 个 token
func estimate(text string) int {
	if text == "" {
		return 0
	}

	var dense, other int
	inSpace := false
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			if !inSpace {
				other++
			}
			inSpace = true
			continue
		case isDense(r):
			dense++
		default:
			other++
		}
		inSpace = false
	}

	estimated := int(float64(dense)/1.5 + float64(other)/4.0)
	if estimated == 0 {
		estimated = 1
	}
	return estimated
}

// isDense 表意文字、假名、韩文及全角符号，单字符信息量高
func isDense(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul) ||
		(r >= 0x3000 && r <= 0x303F) || // CJK Symbols and Punctuation
		(r >= 0xFF00 && r <= 0xFFEF) // Halfwidth and Fullwidth Forms
}
