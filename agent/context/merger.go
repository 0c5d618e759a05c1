package context

import (
	"regexp"
	"sort"
	"strings"

	"github.com/BaSui01/skillflow/llm/tokenizer"
	"go.uber.org/zap"
)

// SectionType 段落类型
type SectionType string

const (
	SectionSteeringRules SectionType = "steeringRules"
	SectionCorePrompt    SectionType = "skillCorePrompt"
	SectionExamples      SectionType = "skillExamples"
	SectionReferences    SectionType = "skillReferences"
	SectionOther         SectionType = "other"
)

// Priority 越小越晚被截断
func (t SectionType) Priority() int {
	switch t {
	case SectionSteeringRules:
		return 1
	case SectionCorePrompt:
		return 2
	case SectionExamples:
		return 3
	case SectionReferences:
		return 4
	default:
		return 5
	}
}

// ParseSectionType 解析段落标签，接受完整类型名与简写
func ParseSectionType(s string) (SectionType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "steeringrules", "steering", "rules", "rule":
		return SectionSteeringRules, true
	case "skillcoreprompt", "core", "prompt", "instructions":
		return SectionCorePrompt, true
	case "skillexamples", "examples", "example":
		return SectionExamples, true
	case "skillreferences", "references", "reference", "docs":
		return SectionReferences, true
	case "other":
		return SectionOther, true
	}
	return "", false
}

// Section 一个 Markdown 段落. Content 包含标题行.
type Section struct {
	Type     SectionType `json:"type"`
	Title    string      `json:"title"`
	Content  string      `json:"content"`
	Priority int         `json:"priority"`
	Tokens   int         `json:"tokens"`
}

const (
	introductionTitle = "Introduction"
	sectionSeparator  = "\n\n"
)

var sectionTagPattern = regexp.MustCompile(`^\s*<!--\s*section:\s*([A-Za-z]+)\s*-->\s*$`)

// MergeOptions 合并选项
type MergeOptions struct {
	IncludeExamples   bool `json:"include_examples"`
	IncludeReferences bool `json:"include_references"`
}

// MergeResult 合并结果
type MergeResult struct {
	Content     string    `json:"content"`
	Sections    []Section `json:"sections"`
	TotalTokens int       `json:"total_tokens"`
}

// Merger 把 steering 规则与技能提示词合并为按优先级排序的段落
type Merger struct {
	counter *tokenizer.Counter
	logger  *zap.Logger
}

// NewMerger 创建合并器. counter 为 nil 时使用估算器.
func NewMerger(counter *tokenizer.Counter, logger *zap.Logger) *Merger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if counter == nil {
		counter = tokenizer.NewCounter(nil, tokenizer.DefaultCounterConfig(), logger)
	}
	return &Merger{
		counter: counter,
		logger:  logger.With(zap.String("component", "context_merger")),
	}
}

// Merge 切分、计数、过滤并按优先级稳定排序
func (m *Merger) Merge(steeringRules, prompts []string, opts MergeOptions) MergeResult {
	var sections []Section
	for _, rule := range steeringRules {
		sections = append(sections, m.ParseSections(rule, SectionSteeringRules)...)
	}
	for _, prompt := range prompts {
		sections = append(sections, m.ParseSections(prompt, SectionCorePrompt)...)
	}

	if !opts.IncludeExamples {
		sections = RemoveSectionTypes(sections, SectionExamples)
	}
	if !opts.IncludeReferences {
		sections = RemoveSectionTypes(sections, SectionReferences)
	}
	SortSections(sections)

	content := Render(sections)
	m.logger.Debug("merged context",
		zap.Int("rules", len(steeringRules)),
		zap.Int("prompts", len(prompts)),
		zap.Int("sections", len(sections)),
	)
	return MergeResult{
		Content:     content,
		Sections:    sections,
		TotalTokens: SumTokens(sections),
	}
}

// ParseSections 按 #、##、### 标题切分文本，第一个标题之前的非空文本成为 Introduction
func (m *Merger) ParseSections(content string, defaultType SectionType) []Section {
	var (
		sections []Section
		current  *Section
		lines    []string
	)
	flush := func() {
		if current == nil {
			return
		}
		body := strings.TrimRight(strings.Join(lines, "\n"), " \t\r\n")
		if current.Title == introductionTitle && strings.TrimSpace(body) == "" {
			return
		}
		current.Content = body
		current.Tokens = m.counter.CountTokens(body)
		sections = append(sections, *current)
	}

	all := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	for i := 0; i < len(all); i++ {
		line := all[i]
		if title, ok := headerTitle(line); ok {
			flush()
			typ := inferSectionType(title, defaultType)
			if i+1 < len(all) {
				if match := sectionTagPattern.FindStringSubmatch(all[i+1]); match != nil {
					if tagged, ok := ParseSectionType(match[1]); ok {
						typ = tagged
					}
					i++
				}
			}
			current = &Section{Type: typ, Title: title, Priority: typ.Priority()}
			lines = []string{line}
			continue
		}
		if current == nil {
			current = &Section{Type: defaultType, Title: introductionTitle, Priority: defaultType.Priority()}
			lines = nil
		}
		lines = append(lines, line)
	}
	flush()
	return sections
}

func headerTitle(line string) (string, bool) {
	for _, prefix := range []string{"# ", "## ", "### "} {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimLeft(line, "#")), true
		}
	}
	return "", false
}

func inferSectionType(title string, defaultType SectionType) SectionType {
	lower := strings.ToLower(title)
	switch {
	case strings.Contains(lower, "steering"), strings.Contains(lower, "rule"):
		return SectionSteeringRules
	case strings.Contains(lower, "example"):
		return SectionExamples
	case strings.Contains(lower, "reference"), strings.Contains(lower, "documentation"):
		return SectionReferences
	case strings.Contains(lower, "prompt"), strings.Contains(lower, "instruction"):
		return SectionCorePrompt
	}
	return defaultType
}

// =============================================================================
// 🧩 段落工具函数
// =============================================================================

// SortSections 按优先级稳定排序
func SortSections(sections []Section) {
	sort.SliceStable(sections, func(i, j int) bool {
		return sections[i].Priority < sections[j].Priority
	})
}

// Render 用空行连接段落
func Render(sections []Section) string {
	parts := make([]string, len(sections))
	for i, s := range sections {
		parts[i] = s.Content
	}
	return strings.Join(parts, sectionSeparator)
}

// SumTokens 段落 token 之和
func SumTokens(sections []Section) int {
	total := 0
	for _, s := range sections {
		total += s.Tokens
	}
	return total
}

// RemoveSectionTypes 返回去掉指定类型后的新切片
func RemoveSectionTypes(sections []Section, types ...SectionType) []Section {
	out := make([]Section, 0, len(sections))
	for _, s := range sections {
		if !containsType(types, s.Type) {
			out = append(out, s)
		}
	}
	return out
}

// SectionsByType 筛选指定类型
func SectionsByType(sections []Section, typ SectionType) []Section {
	var out []Section
	for _, s := range sections {
		if s.Type == typ {
			out = append(out, s)
		}
	}
	return out
}

func containsType(types []SectionType, t SectionType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}
