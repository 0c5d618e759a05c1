package context

import (
	"strings"

	"github.com/BaSui01/skillflow/llm/tokenizer"
	"go.uber.org/zap"
)

const (
	// TruncationMarker 部分保留的段落末尾追加的标记
	TruncationMarker = "[... content truncated for context size ...]"

	markerReserveTokens   = 20
	joinSlackTokens       = 2
	defaultMinSectionSize = 100
)

// TruncateOptions 截断选项
type TruncateOptions struct {
	MaxTokens      int           `json:"max_tokens"`
	PreserveTypes  []SectionType `json:"preserve_types"`
	MinSectionSize int           `json:"min_section_size"`
	AddMarker      bool          `json:"add_marker"`
}

// DefaultTruncateOptions 保留 steeringRules，最小部分段落 100 token，追加标记
func DefaultTruncateOptions(maxTokens int) TruncateOptions {
	return TruncateOptions{
		MaxTokens:      maxTokens,
		PreserveTypes:  []SectionType{SectionSteeringRules},
		MinSectionSize: defaultMinSectionSize,
		AddMarker:      true,
	}
}

// TruncateResult 截断结果
type TruncateResult struct {
	Content        string    `json:"content"`
	Sections       []Section `json:"sections"`
	Removed        []Section `json:"removed"`
	OriginalTokens int       `json:"original_tokens"`
	FinalTokens    int       `json:"final_tokens"`
	Truncated      bool      `json:"truncated"`
}

// Strategy 截断建议
type Strategy string

const (
	StrategyNone             Strategy = "none"
	StrategyRemoveReferences Strategy = "remove_references"
	StrategyRemoveExamples   Strategy = "remove_examples"
	StrategyTruncateAll      Strategy = "truncate_all"
)

// Recommendation 截断策略建议
type Recommendation struct {
	Strategy     Strategy `json:"strategy"`
	ExcessTokens int      `json:"excess_tokens"`
	Message      string   `json:"message"`
}

// Truncator 按优先级截断段落.
// 预算按渲染后文本的实际 token 数计算，段落之间的分隔符也计入.
type Truncator struct {
	counter *tokenizer.Counter
	logger  *zap.Logger
}

// NewTruncator 创建截断器
func NewTruncator(counter *tokenizer.Counter, logger *zap.Logger) *Truncator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if counter == nil {
		counter = tokenizer.NewCounter(nil, tokenizer.DefaultCounterConfig(), logger)
	}
	return &Truncator{
		counter: counter,
		logger:  logger.With(zap.String("component", "context_truncator")),
	}
}

// Truncate 保留 PreserveTypes 中的全部段落（即使它们本身超出预算），
// 其余段落按优先级贪心加入；第一个放不下的段落在剩余预算不少于
// MinSectionSize 时按行部分保留，之后的段落全部丢弃.
func (t *Truncator) Truncate(sections []Section, opts TruncateOptions) TruncateResult {
	if opts.PreserveTypes == nil {
		opts.PreserveTypes = []SectionType{SectionSteeringRules}
	}
	if opts.MinSectionSize <= 0 {
		opts.MinSectionSize = defaultMinSectionSize
	}

	sorted := append([]Section(nil), sections...)
	SortSections(sorted)

	original := t.counter.CountTokens(Render(sorted))
	if original <= opts.MaxTokens {
		return TruncateResult{
			Content:        Render(sorted),
			Sections:       sorted,
			Removed:        []Section{},
			OriginalTokens: original,
			FinalTokens:    original,
		}
	}

	var kept, removed []Section
	for _, s := range sorted {
		if containsType(opts.PreserveTypes, s.Type) {
			kept = append(kept, s)
		}
	}

	// 逐段累加估算，最后整体复核一次
	used := t.counter.CountUncached(Render(ordered(kept)))
	joinCost := t.counter.CountTokens(sectionSeparator) + joinSlackTokens
	join := func() int {
		if len(kept) == 0 {
			return 0
		}
		return joinCost
	}

	stopped := false
	for _, s := range sorted {
		if containsType(opts.PreserveTypes, s.Type) {
			continue
		}
		if stopped {
			removed = append(removed, s)
			continue
		}
		need := join() + t.counter.CountTokens(s.Content)
		if used+need <= opts.MaxTokens {
			kept = append(kept, s)
			used += need
			continue
		}

		stopped = true
		available := opts.MaxTokens - used - join()
		if available >= opts.MinSectionSize {
			if partial, ok := t.truncateSection(s, available, opts); ok {
				used += join() + partial.Tokens
				kept = append(kept, partial)
				continue
			}
		}
		removed = append(removed, s)
	}

	kept = ordered(kept)
	content := Render(kept)
	final := t.counter.CountTokens(content)
	for final > opts.MaxTokens {
		i := lastRemovable(kept, opts.PreserveTypes)
		if i < 0 {
			break
		}
		removed = append(removed, kept[i])
		kept = append(kept[:i], kept[i+1:]...)
		content = Render(kept)
		final = t.counter.CountTokens(content)
	}

	t.logger.Debug("context truncated",
		zap.Int("original_tokens", original),
		zap.Int("final_tokens", final),
		zap.Int("kept", len(kept)),
		zap.Int("removed", len(removed)),
	)
	if removed == nil {
		removed = []Section{}
	}
	return TruncateResult{
		Content:        content,
		Sections:       kept,
		Removed:        removed,
		OriginalTokens: original,
		FinalTokens:    final,
		Truncated:      true,
	}
}

func ordered(sections []Section) []Section {
	out := append([]Section(nil), sections...)
	SortSections(out)
	return out
}

// lastRemovable 最后一个不受保护的段落下标，没有则返回 -1
func lastRemovable(sections []Section, preserve []SectionType) int {
	for i := len(sections) - 1; i >= 0; i-- {
		if !containsType(preserve, sections[i].Type) {
			return i
		}
	}
	return -1
}

// truncateSection 在 available 个 token 内逐行保留，标题行必留，为截断标记预留 20 token.
// 行数按累加估算得出，整体超出时二分回退.
func (t *Truncator) truncateSection(s Section, available int, opts TruncateOptions) (Section, bool) {
	lines := strings.Split(s.Content, "\n")
	start := 0
	if len(lines) > 0 && strings.HasPrefix(lines[0], "#") {
		start = 1
	}

	reserve := 0
	if opts.AddMarker {
		reserve = markerReserveTokens
	}
	build := func(n int) Section {
		body := lines[:n]
		if opts.AddMarker {
			body = append(append([]string(nil), body...), "", TruncationMarker)
		}
		partial := s
		partial.Content = strings.Join(body, "\n")
		partial.Tokens = t.counter.CountUncached(partial.Content)
		return partial
	}

	used := t.counter.CountUncached(strings.Join(lines[:start], "\n"))
	n := start
	for n < len(lines) {
		cost := t.counter.CountUncached(lines[n]) + 1
		if used+cost > available-reserve {
			break
		}
		used += cost
		n++
	}

	partial := build(n)
	if partial.Tokens <= available {
		return partial, true
	}
	lo, hi := start, n
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if build(mid).Tokens <= available {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	partial = build(lo)
	if partial.Tokens > available {
		return Section{}, false
	}
	return partial, true
}

// TruncateText 截取不超过 maxTokens 的最长前缀
func (t *Truncator) TruncateText(text string, maxTokens int) string {
	return t.counter.TruncateToLimit(text, maxTokens)
}

// SmartTruncate 在句子或单词边界处截断
func (t *Truncator) SmartTruncate(text string, maxTokens int) string {
	truncated := t.TruncateText(text, maxTokens)
	if len(truncated) == len(text) {
		return text
	}

	boundary := -1
	for _, ending := range []string{". ", "! ", "? ", ".\n", "!\n", "?\n"} {
		if idx := strings.LastIndex(truncated, ending); idx >= 0 && idx+len(ending) > boundary {
			boundary = idx + len(ending)
		}
	}
	if float64(boundary) > float64(len(truncated))*0.8 {
		return truncated[:boundary]
	}
	if space := strings.LastIndex(truncated, " "); float64(space) > float64(len(truncated))*0.9 {
		return truncated[:space]
	}
	return truncated
}

// ExcessTokens 超出预算的 token 数
func ExcessTokens(sections []Section, maxTokens int) int {
	return max(0, SumTokens(sections)-maxTokens)
}

// Recommend 给出最小代价的截断策略
func (t *Truncator) Recommend(sections []Section, maxTokens int) Recommendation {
	excess := ExcessTokens(sections, maxTokens)
	if excess == 0 {
		return Recommendation{Strategy: StrategyNone, Message: "No truncation needed"}
	}

	refs := SumTokens(SectionsByType(sections, SectionReferences))
	if excess <= refs {
		return Recommendation{Strategy: StrategyRemoveReferences, ExcessTokens: excess, Message: "Remove reference sections"}
	}
	examples := SumTokens(SectionsByType(sections, SectionExamples))
	if excess <= refs+examples {
		return Recommendation{Strategy: StrategyRemoveExamples, ExcessTokens: excess, Message: "Remove references and examples"}
	}
	return Recommendation{Strategy: StrategyTruncateAll, ExcessTokens: excess, Message: "Truncate all non-essential sections"}
}
