package discovery

import (
	"sort"
	"strings"

	"github.com/BaSui01/skillflow/agent/skills"
	"go.uber.org/zap"
)

// stopWords are dropped from user input before matching.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "as": true, "is": true, "was": true,
	"are": true, "were": true, "been": true, "be": true, "have": true, "has": true,
	"had": true, "do": true, "does": true, "did": true, "will": true, "would": true,
	"should": true, "could": true, "can": true, "may": true, "might": true, "must": true,
	"i": true, "you": true, "he": true, "she": true, "it": true, "we": true,
	"they": true, "me": true, "him": true, "her": true, "us": true, "them": true,
	"my": true, "your": true, "his": true, "its": true, "our": true, "their": true,
	"this": true, "that": true, "these": true, "those": true,
}

// MatchOptions controls a Match call.
type MatchOptions struct {
	Fuzzy           bool    `json:"fuzzy"`
	MinScore        float64 `json:"min_score"`
	MaxResults      int     `json:"max_results"`
	IncludeInactive bool    `json:"include_inactive"`
}

// DefaultMatchOptions returns fuzzy matching, MinScore 0.6 and MaxResults 10.
func DefaultMatchOptions() MatchOptions {
	return MatchOptions{
		Fuzzy:      true,
		MinScore:   0.6,
		MaxResults: 10,
	}
}

// MatchResult is a ranked skill for a query.
type MatchResult struct {
	Skill           *skills.Skill `json:"skill"`
	Score           float64       `json:"score"`
	MatchCount      int           `json:"matchCount"`
	MatchedKeywords []string      `json:"matchedKeywords"`
}

// MatcherStats summarizes matcher inputs.
type MatcherStats struct {
	TotalSkills             int     `json:"totalSkills"`
	ActiveSkills            int     `json:"activeSkills"`
	TotalKeywords           int     `json:"totalKeywords"`
	AverageKeywordsPerSkill float64 `json:"averageKeywordsPerSkill"`
}

// KeywordMatcher ranks registered skills against free-text input.
type KeywordMatcher struct {
	index    *KeywordIndex
	registry *skills.Registry
	logger   *zap.Logger
}

// NewKeywordMatcher creates a matcher over an index and the registry it was built from.
func NewKeywordMatcher(index *KeywordIndex, registry *skills.Registry, logger *zap.Logger) *KeywordMatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeywordMatcher{
		index:    index,
		registry: registry,
		logger:   logger.With(zap.String("component", "keyword_matcher")),
	}
}

// Match extracts keywords from input and returns skills ranked by score,
// then by number of distinct matched keywords, then by name.
func (m *KeywordMatcher) Match(input string, opts MatchOptions) []*MatchResult {
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMatchOptions().MaxResults
	}

	keywords := ExtractKeywords(input)
	if len(keywords) == 0 {
		return nil
	}

	type agg struct {
		score    float64
		keywords map[string]struct{}
	}
	perSkill := make(map[string]*agg)
	collect := func(hits []IndexHit) {
		for _, h := range hits {
			a, ok := perSkill[h.Skill]
			if !ok {
				a = &agg{keywords: make(map[string]struct{})}
				perSkill[h.Skill] = a
			}
			if h.Score > a.score {
				a.score = h.Score
			}
			for _, kw := range h.Keywords {
				a.keywords[kw] = struct{}{}
			}
		}
	}

	for _, kw := range keywords {
		if opts.Fuzzy {
			collect(m.index.SearchFuzzy(kw))
		} else {
			collect(m.index.Search(kw))
		}
	}
	collect(m.index.PhraseHits(input))

	results := make([]*MatchResult, 0, len(perSkill))
	for name, a := range perSkill {
		if a.score < opts.MinScore {
			continue
		}
		skill, ok := m.registry.Get(name)
		if !ok {
			continue
		}
		if !opts.IncludeInactive && skill.Status != skills.StatusActive {
			continue
		}
		results = append(results, &MatchResult{
			Skill:           skill,
			Score:           a.score,
			MatchCount:      len(a.keywords),
			MatchedKeywords: sortedKeys(a.keywords),
		})
	}

	sortResults(results)
	if len(results) > opts.MaxResults {
		results = results[:opts.MaxResults]
	}

	m.logger.Debug("keyword match",
		zap.Int("keywords", len(keywords)),
		zap.Int("results", len(results)),
	)
	return results
}

func sortResults(results []*MatchResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].MatchCount != results[j].MatchCount {
			return results[i].MatchCount > results[j].MatchCount
		}
		return results[i].Skill.Metadata.Name < results[j].Skill.Metadata.Name
	})
}

// FindByTrigger returns exact keyword matches scored 1.0, falling back to a
// fuzzy match with MinScore 0.7 when nothing matches exactly.
func (m *KeywordMatcher) FindByTrigger(phrase string, fuzzy bool) []*MatchResult {
	var results []*MatchResult
	for _, name := range m.index.SkillsForKeyword(phrase) {
		if skill, ok := m.registry.Get(name); ok {
			results = append(results, &MatchResult{
				Skill:           skill,
				Score:           1.0,
				MatchCount:      1,
				MatchedKeywords: []string{Normalize(phrase)},
			})
		}
	}
	if len(results) > 0 || !fuzzy {
		return results
	}

	opts := DefaultMatchOptions()
	opts.MinScore = 0.7
	return m.Match(phrase, opts)
}

// ContainsTriggers reports whether the input exactly hits any indexed keyword.
func (m *KeywordMatcher) ContainsTriggers(input string) bool {
	for _, kw := range ExtractKeywords(input) {
		if len(m.index.Search(kw)) > 0 {
			return true
		}
	}
	return len(m.index.PhraseHits(input)) > 0
}

// DetectTriggers returns the declared triggers that the input appears to reference.
func (m *KeywordMatcher) DetectTriggers(input string) []string {
	found := make(map[string]struct{})
	for _, kw := range ExtractKeywords(input) {
		for _, hit := range m.index.SearchFuzzy(kw) {
			if hit.Score <= 0.7 {
				continue
			}
			skill, ok := m.registry.Get(hit.Skill)
			if !ok {
				continue
			}
			for _, trigger := range skill.Metadata.Triggers {
				if strings.Contains(Normalize(trigger), kw) {
					found[trigger] = struct{}{}
				}
			}
		}
	}
	return sortedKeys(found)
}

// Suggest returns indexed keywords starting with partial, then those containing it.
func (m *KeywordMatcher) Suggest(partial string, limit int) []string {
	partial = Normalize(partial)
	if partial == "" {
		return nil
	}
	if limit <= 0 {
		limit = 5
	}

	var prefixed, contained []string
	for _, kw := range m.index.Keywords() {
		switch {
		case strings.HasPrefix(kw, partial):
			prefixed = append(prefixed, kw)
		case strings.Contains(kw, partial):
			contained = append(contained, kw)
		}
	}
	out := append(prefixed, contained...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Stats returns matcher statistics.
func (m *KeywordMatcher) Stats() MatcherStats {
	idx := m.index.Stats()
	reg := m.registry.Stats()
	return MatcherStats{
		TotalSkills:             reg.Total,
		ActiveSkills:            reg.Active,
		TotalKeywords:           idx.TotalKeywords,
		AverageKeywordsPerSkill: idx.AverageKeywordsPerSkill,
	}
}

// ExtractKeywords normalizes input and returns words longer than two
// characters that are not stop words, followed by bigrams and trigrams that
// contain at least one non stop word. Duplicates are removed.
func ExtractKeywords(input string) []string {
	words := strings.Fields(Normalize(input))

	seen := make(map[string]struct{})
	var out []string
	add := func(kw string) {
		if _, ok := seen[kw]; ok {
			return
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}

	for _, w := range words {
		if len([]rune(w)) > 2 && !stopWords[w] {
			add(w)
		}
	}
	for n := 2; n <= 3; n++ {
		for i := 0; i+n <= len(words); i++ {
			gram := words[i : i+n]
			if validPhrase(gram) {
				add(strings.Join(gram, " "))
			}
		}
	}
	return out
}

func validPhrase(words []string) bool {
	for _, w := range words {
		if !stopWords[w] {
			return true
		}
	}
	return false
}
