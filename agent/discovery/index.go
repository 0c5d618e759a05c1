package discovery

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/BaSui01/skillflow/agent/skills"
)

// DefaultFuzzyThreshold is the minimum similarity for a fuzzy index hit.
const DefaultFuzzyThreshold = 0.6

var (
	specialChars = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)
	whitespace   = regexp.MustCompile(`\s+`)
)

// Normalize lowercases, turns punctuation other than hyphens into word
// breaks and collapses whitespace. Triggers and queries share this rule, so
// "react/redux" is the two words "react redux" on both sides.
func Normalize(s string) string {
	s = specialChars.ReplaceAllString(strings.ToLower(s), " ")
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// IndexHit is a single skill returned by an index search.
type IndexHit struct {
	Skill    string   `json:"skill"`
	Score    float64  `json:"score"`
	Keywords []string `json:"keywords"`
}

// IndexStats summarizes the index.
type IndexStats struct {
	TotalKeywords           int     `json:"totalKeywords"`
	TotalSkills             int     `json:"totalSkills"`
	AverageKeywordsPerSkill float64 `json:"averageKeywordsPerSkill"`
}

// KeywordIndex is an inverted index from normalized keywords to skill names.
type KeywordIndex struct {
	index          map[string]map[string]struct{}
	skillKeywords  map[string]map[string]struct{}
	fuzzyThreshold float64
	mu             sync.RWMutex
}

// NewKeywordIndex creates an empty index. A threshold <= 0 uses DefaultFuzzyThreshold.
func NewKeywordIndex(fuzzyThreshold float64) *KeywordIndex {
	if fuzzyThreshold <= 0 {
		fuzzyThreshold = DefaultFuzzyThreshold
	}
	return &KeywordIndex{
		index:          make(map[string]map[string]struct{}),
		skillKeywords:  make(map[string]map[string]struct{}),
		fuzzyThreshold: fuzzyThreshold,
	}
}

// AddSkill indexes a skill's triggers, the words of multi-word triggers,
// its name and its capability names. Re-adding replaces the previous entries.
func (idx *KeywordIndex) AddSkill(meta *skills.SkillMetadata) {
	if meta == nil || meta.Name == "" {
		return
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.removeLocked(meta.Name)

	keywords := make(map[string]struct{})
	add := func(kw string) {
		if kw == "" {
			return
		}
		keywords[kw] = struct{}{}
		if idx.index[kw] == nil {
			idx.index[kw] = make(map[string]struct{})
		}
		idx.index[kw][meta.Name] = struct{}{}
	}

	for _, trigger := range meta.Triggers {
		normalized := Normalize(trigger)
		add(normalized)
		words := strings.Fields(normalized)
		if len(words) > 1 {
			for _, w := range words {
				if len([]rune(w)) > 2 {
					add(w)
				}
			}
		}
	}
	add(Normalize(meta.Name))
	for _, c := range meta.Capabilities {
		add(Normalize(c.Name))
	}

	idx.skillKeywords[meta.Name] = keywords
}

// RemoveSkill drops every entry for a skill.
func (idx *KeywordIndex) RemoveSkill(name string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(name)
}

func (idx *KeywordIndex) removeLocked(name string) {
	for kw := range idx.skillKeywords[name] {
		if set, ok := idx.index[kw]; ok {
			delete(set, name)
			if len(set) == 0 {
				delete(idx.index, kw)
			}
		}
	}
	delete(idx.skillKeywords, name)
}

// Rebuild clears the index and indexes the given skills.
func (idx *KeywordIndex) Rebuild(list []*skills.Skill) {
	idx.Clear()
	for _, s := range list {
		idx.AddSkill(&s.Metadata)
	}
}

// Clear empties the index.
func (idx *KeywordIndex) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.index = make(map[string]map[string]struct{})
	idx.skillKeywords = make(map[string]map[string]struct{})
}

// Search returns skills whose keywords equal the query exactly.
func (idx *KeywordIndex) Search(query string) []IndexHit {
	return idx.search(Normalize(query), false)
}

// SearchFuzzy returns exact hits plus fuzzy hits above the threshold.
func (idx *KeywordIndex) SearchFuzzy(query string) []IndexHit {
	return idx.search(Normalize(query), true)
}

func (idx *KeywordIndex) search(query string, fuzzy bool) []IndexHit {
	if query == "" {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	hits := make(map[string]*IndexHit)
	record := func(skill, keyword string, score float64) {
		h, ok := hits[skill]
		if !ok {
			h = &IndexHit{Skill: skill}
			hits[skill] = h
		}
		if score > h.Score {
			h.Score = score
		}
		h.Keywords = append(h.Keywords, keyword)
	}

	if set, ok := idx.index[query]; ok {
		for skill := range set {
			record(skill, query, 1.0)
		}
	}

	if fuzzy {
		for kw, set := range idx.index {
			if kw == query {
				continue
			}
			sim := Similarity(query, kw)
			if sim < idx.fuzzyThreshold {
				continue
			}
			for skill := range set {
				record(skill, kw, sim)
			}
		}
	}

	return sortHits(hits)
}

// PhraseHits returns skills whose indexed multi-word keywords appear verbatim
// in the normalized text, each scored 1.0.
func (idx *KeywordIndex) PhraseHits(text string) []IndexHit {
	padded := " " + Normalize(text) + " "

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	hits := make(map[string]*IndexHit)
	for kw, set := range idx.index {
		if !strings.Contains(kw, " ") || !strings.Contains(padded, " "+kw+" ") {
			continue
		}
		for skill := range set {
			h, ok := hits[skill]
			if !ok {
				h = &IndexHit{Skill: skill, Score: 1.0}
				hits[skill] = h
			}
			h.Keywords = append(h.Keywords, kw)
		}
	}
	return sortHits(hits)
}

// SkillsForKeyword returns the skills indexed under an exact keyword.
func (idx *KeywordIndex) SkillsForKeyword(keyword string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return sortedKeys(idx.index[Normalize(keyword)])
}

// KeywordsForSkill returns the keywords indexed for a skill.
func (idx *KeywordIndex) KeywordsForSkill(name string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return sortedKeys(idx.skillKeywords[name])
}

// Keywords returns every indexed keyword, sorted.
func (idx *KeywordIndex) Keywords() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]string, 0, len(idx.index))
	for kw := range idx.index {
		out = append(out, kw)
	}
	sort.Strings(out)
	return out
}

// Stats returns index statistics.
func (idx *KeywordIndex) Stats() IndexStats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	stats := IndexStats{
		TotalKeywords: len(idx.index),
		TotalSkills:   len(idx.skillKeywords),
	}
	if stats.TotalSkills > 0 {
		total := 0
		for _, kws := range idx.skillKeywords {
			total += len(kws)
		}
		stats.AverageKeywordsPerSkill = float64(total) / float64(stats.TotalSkills)
	}
	return stats
}

// Similarity returns 1.0 for equal strings, 0.9 when one contains the other,
// otherwise 1 - levenshtein/maxLen.
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 0.9
	}
	ra, rb := []rune(a), []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	return 1 - float64(levenshtein(ra, rb))/float64(maxLen)
}

func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func sortHits(hits map[string]*IndexHit) []IndexHit {
	out := make([]IndexHit, 0, len(hits))
	for _, h := range hits {
		sort.Strings(h.Keywords)
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Skill < out[j].Skill
	})
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
