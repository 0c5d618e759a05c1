package tokenizer

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// failingTokenizer 模拟无法加载编码表的分词器
type failingTokenizer struct {
	calls int
}

func (f *failingTokenizer) CountTokens(string) (int, error) {
	f.calls++
	return 0, errors.New("encoding unavailable")
}
func (f *failingTokenizer) MaxTokens() int { return 1000 }
func (f *failingTokenizer) Name() string   { return "failing" }

// countingTokenizer 记录调用次数的估算器
type countingTokenizer struct {
	EstimatorTokenizer
	calls int
}

func (c *countingTokenizer) CountTokens(text string) (int, error) {
	c.calls++
	return estimate(text), nil
}

func TestEstimator_CountTokens(t *testing.T) {
	e := NewEstimatorTokenizer("any", 0)

	n, err := e.CountTokens("")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, _ = e.CountTokens("ab")
	assert.Equal(t, 1, n, "non-empty text counts at least one token")

	n, _ = e.CountTokens(strings.Repeat("a", 400))
	assert.Equal(t, 100, n)

	n, _ = e.CountTokens("你好世界你好世界")
	assert.Equal(t, 5, n)

	assert.Equal(t, "estimator", e.Name())
	assert.Equal(t, 200000, e.MaxTokens())
}

func TestEstimator_SkillMarkdown(t *testing.T) {
	e := NewEstimatorTokenizer("", 0)

	// 缩进与空行只按一个字符计
	flat, _ := e.CountTokens("# Core\nrun the linter before commit")
	indented, _ := e.CountTokens("# Core\n\n\n        run the linter before commit")
	assert.Equal(t, flat, indented)

	// 韩文与假名按表意文字的密度计
	hangul, _ := e.CountTokens("사건파일사건파일")
	kana, _ := e.CountTokens("ひらがなカタカナ")
	latin, _ := e.CountTokens("abcdefgh")
	assert.Equal(t, 5, hangul)
	assert.Equal(t, 5, kana)
	assert.Equal(t, 2, latin)
}

func TestEstimator_MaxTokensFollowsModel(t *testing.T) {
	assert.Equal(t, 8192, NewEstimatorTokenizer("gpt-4", 0).MaxTokens())
	assert.Equal(t, 128000, NewEstimatorTokenizer("gpt-4o-mini", 0).MaxTokens())
	assert.Equal(t, 200000, NewEstimatorTokenizer("unknown-model", 0).MaxTokens())
	assert.Equal(t, 4096, NewEstimatorTokenizer("gpt-4", 4096).MaxTokens())

	tk, err := New("estimator", "claude-3-sonnet")
	require.NoError(t, err)
	assert.Equal(t, 200000, tk.MaxTokens())
}

func TestNew(t *testing.T) {
	tk, err := New("", "gpt-4")
	require.NoError(t, err)
	assert.Equal(t, "estimator", tk.Name())

	tk, err = New("tiktoken", "gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, "tiktoken[o200k_base]", tk.Name())
	assert.Equal(t, 128000, tk.MaxTokens())

	tk, err = New("TikToken", "claude-3-opus")
	require.NoError(t, err)
	assert.Equal(t, "tiktoken[cl100k_base]", tk.Name())
	assert.Equal(t, 200000, tk.MaxTokens())

	_, err = New("sentencepiece", "x")
	assert.Error(t, err)
}

func TestCounter_Memoizes(t *testing.T) {
	inner := &countingTokenizer{EstimatorTokenizer: *NewEstimatorTokenizer("", 0)}
	c := NewCounter(inner, DefaultCounterConfig(), zap.NewNop())

	first := c.Count("hello world, this is a prompt")
	second := c.Count("hello world, this is a prompt")

	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Tokens, second.Tokens)
	assert.Equal(t, 1, inner.calls)

	stats := c.CacheStats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)

	c.Invalidate("hello world, this is a prompt")
	assert.False(t, c.Count("hello world, this is a prompt").Cached)
	assert.Equal(t, 2, inner.calls)
}

func TestCounter_SameLengthDifferentTextNotConfused(t *testing.T) {
	c := NewCounter(nil, DefaultCounterConfig(), zap.NewNop())
	prefix := strings.Repeat("x", 120)

	// 两段文本字节长度相同（12 字节），token 数不同
	ascii := c.CountTokens(prefix + "abcdefghijkl")
	cjk := c.CountTokens(prefix + "你好世界")

	assert.NotEqual(t, ascii, cjk)
}

func TestCounter_FallbackOnTokenizerError(t *testing.T) {
	inner := &failingTokenizer{}
	c := NewCounter(inner, DefaultCounterConfig(), zap.NewNop())

	assert.Equal(t, 25, c.CountTokens(strings.Repeat("a", 100)))
	assert.Equal(t, 1, inner.calls)
}

func TestCounter_BatchAndLimits(t *testing.T) {
	c := NewCounter(nil, DefaultCounterConfig(), zap.NewNop())

	res := c.CountBatch([]string{strings.Repeat("a", 40), strings.Repeat("b", 80)})
	assert.Equal(t, 30, res.Tokens)
	assert.Equal(t, 120, res.Characters)

	assert.Equal(t, 3, c.Estimate("abcdefghi"))
	assert.True(t, c.ExceedsLimit(strings.Repeat("a", 100), 10))
	assert.False(t, c.ExceedsLimit("short", 10))
}

func TestCounter_TruncateToLimit(t *testing.T) {
	c := NewCounter(nil, DefaultCounterConfig(), zap.NewNop())
	text := strings.Repeat("word ", 100)

	out := c.TruncateToLimit(text, 10)
	assert.LessOrEqual(t, c.CountTokens(out), 10)
	assert.True(t, strings.HasPrefix(text, out))
	assert.Greater(t, len(out), 30)

	assert.Equal(t, "short", c.TruncateToLimit("short", 10))
	assert.Equal(t, "", c.TruncateToLimit("anything", 0))
}
