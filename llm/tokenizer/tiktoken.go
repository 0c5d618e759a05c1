package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TiktokenTokenizer 基于 tiktoken 的精确计数器.
// Claude 系列模型没有公开的 BPE, 使用 cl100k_base 近似.
type TiktokenTokenizer struct {
	model     string
	encoding  string
	maxTokens int
	enc       *tiktoken.Tiktoken
	once      sync.Once
	initErr   error
}

type encodingInfo struct {
	encoding  string
	maxTokens int
}

// 模型编码将模型名称映射到其tiktoken编码和上下文大小。
var modelEncodings = map[string]encodingInfo{
	"gpt-4o":        {encoding: "o200k_base", maxTokens: 128000},
	"gpt-4-turbo":   {encoding: "cl100k_base", maxTokens: 128000},
	"gpt-4":         {encoding: "cl100k_base", maxTokens: 8192},
	"gpt-3.5-turbo": {encoding: "cl100k_base", maxTokens: 16385},
	"claude-3":      {encoding: "cl100k_base", maxTokens: 200000},
	"claude":        {encoding: "cl100k_base", maxTokens: 200000},
}

// NewTiktokenTokenizer为给定型号创建了以tiktoken为主的代号.
func NewTiktokenTokenizer(model string) (*TiktokenTokenizer, error) {
	info, ok := lookupEncoding(model)
	if !ok {
		// 默认为 cl100k_base
		info = encodingInfo{encoding: "cl100k_base", maxTokens: defaultMaxTokens}
	}

	return &TiktokenTokenizer{
		model:     model,
		encoding:  info.encoding,
		maxTokens: info.maxTokens,
	}, nil
}

// lookupEncoding 精确匹配优先，其次取最长前缀匹配
func lookupEncoding(model string) (encodingInfo, bool) {
	if info, ok := modelEncodings[model]; ok {
		return info, true
	}
	best := ""
	for prefix := range modelEncodings {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return encodingInfo{}, false
	}
	return modelEncodings[best], true
}

// init lazily 初始化 tiktoken 编码(可以在第一次使用时下载数据).
func (t *TiktokenTokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *TiktokenTokenizer) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	if err := t.init(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

func (t *TiktokenTokenizer) MaxTokens() int {
	return t.maxTokens
}

func (t *TiktokenTokenizer) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}
