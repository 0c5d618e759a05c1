package discovery

import (
	"testing"

	"github.com/BaSui01/skillflow/agent/skills"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMatcherFixture(t *testing.T) (*KeywordMatcher, *skills.Registry) {
	t.Helper()
	reg := skills.NewRegistry(nil)
	for _, s := range []*skills.Skill{
		skills.NewSkillBuilder("code-review", "1.0.0").
			WithDescription("reviews code").
			WithTriggers("code review", "pull request").
			WithCapability("lint", "run linters").
			MustBuild(),
		skills.NewSkillBuilder("testing", "1.0.0").
			WithDescription("writes tests").
			WithTriggers("unit test", "coverage").
			MustBuild(),
		skills.NewSkillBuilder("deploy", "1.0.0").
			WithDescription("ships builds").
			WithTriggers("deploy", "release").
			WithStatus(skills.StatusInactive).
			MustBuild(),
	} {
		require.NoError(t, reg.Register(s))
	}
	index := NewKeywordIndex(DefaultFuzzyThreshold)
	index.Rebuild(reg.List())
	return NewKeywordMatcher(index, reg, nil), reg
}

func TestExtractKeywords(t *testing.T) {
	kws := ExtractKeywords("Please review the Pull-Request, thanks!")
	assert.Contains(t, kws, "review")
	assert.Contains(t, kws, "pull-request")
	assert.Contains(t, kws, "please review")
	assert.NotContains(t, kws, "the")
	assert.Empty(t, ExtractKeywords("it is to be"))
}

func TestNormalize_SharedByTriggersAndQueries(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"React/Redux", "react redux"},
		{"  Git Commit! ", "git commit"},
		{"pull-request", "pull-request"},
		{"a.b,c", "a b c"},
		{"!!!", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}

	assert.Contains(t, ExtractKeywords("react/redux"), "react redux")

	idx := NewKeywordIndex(0)
	idx.AddSkill(&skills.SkillMetadata{Name: "state", Triggers: []string{"react/redux"}})
	assert.Equal(t, []string{"state"}, idx.SkillsForKeyword("react redux"))
	assert.Equal(t, []string{"state"}, idx.SkillsForKeyword("redux"))
}

func TestMatcher_ExactRanksAboveFuzzy(t *testing.T) {
	m, _ := newMatcherFixture(t)

	results := m.Match("need a code review", DefaultMatchOptions())
	require.NotEmpty(t, results)
	assert.Equal(t, "code-review", results[0].Skill.Name())
	assert.Equal(t, 1.0, results[0].Score)

	fuzzy := m.Match("coverag", DefaultMatchOptions())
	require.NotEmpty(t, fuzzy)
	assert.Equal(t, "testing", fuzzy[0].Skill.Name())
	assert.Less(t, fuzzy[0].Score, 1.0)
}

func TestMatcher_TieBreaksOnMatchCount(t *testing.T) {
	m, _ := newMatcherFixture(t)
	results := m.Match("code review for this pull request and unit test", DefaultMatchOptions())
	require.GreaterOrEqual(t, len(results), 2)
	assert.Equal(t, 1.0, results[0].Score)
	assert.Equal(t, 1.0, results[1].Score)
	assert.Equal(t, "code-review", results[0].Skill.Name())
	assert.GreaterOrEqual(t, results[0].MatchCount, results[1].MatchCount)
}

func TestMatcher_Options(t *testing.T) {
	m, _ := newMatcherFixture(t)

	assert.Empty(t, m.Match("deploy", DefaultMatchOptions()), "inactive excluded by default")

	opts := DefaultMatchOptions()
	opts.IncludeInactive = true
	require.Len(t, m.Match("deploy", opts), 1)

	opts = DefaultMatchOptions()
	opts.Fuzzy = false
	assert.Empty(t, m.Match("coverag", opts))

	opts = DefaultMatchOptions()
	opts.MaxResults = 1
	assert.Len(t, m.Match("code review unit test", opts), 1)

	opts = DefaultMatchOptions()
	opts.MinScore = 1.01
	assert.Empty(t, m.Match("code review", opts))
}

func TestMatcher_FindByTrigger(t *testing.T) {
	m, _ := newMatcherFixture(t)

	exact := m.FindByTrigger("Pull Request", true)
	require.Len(t, exact, 1)
	assert.Equal(t, 1.0, exact[0].Score)

	fuzzy := m.FindByTrigger("covrage", true)
	require.NotEmpty(t, fuzzy)
	assert.Equal(t, "testing", fuzzy[0].Skill.Name())

	assert.Empty(t, m.FindByTrigger("covrage", false))
}

func TestMatcher_DetectAndContains(t *testing.T) {
	m, _ := newMatcherFixture(t)
	assert.True(t, m.ContainsTriggers("can you check coverage"))
	assert.False(t, m.ContainsTriggers("bake a cake"))
	assert.Equal(t, []string{"code review"}, m.DetectTriggers("please review"))
}

func TestMatcher_SuggestAndStats(t *testing.T) {
	m, _ := newMatcherFixture(t)
	assert.Equal(t, []string{"code", "code review", "code-review"}, m.Suggest("code", 5))
	assert.Len(t, m.Suggest("e", 2), 2)

	stats := m.Stats()
	assert.Equal(t, 3, stats.TotalSkills)
	assert.Equal(t, 2, stats.ActiveSkills)
	assert.Positive(t, stats.TotalKeywords)
}

func TestKeywordIndex_AddRemove(t *testing.T) {
	idx := NewKeywordIndex(0)
	meta := &skills.SkillMetadata{
		Name:         "git-helper",
		Triggers:     []string{"Git Commit!", "go"},
		Capabilities: []skills.Capability{{Name: "rebase"}},
	}
	idx.AddSkill(meta)

	assert.Equal(t, []string{"commit", "git", "git commit", "git-helper", "go", "rebase"}, idx.KeywordsForSkill("git-helper"))
	assert.Equal(t, []string{"git-helper"}, idx.SkillsForKeyword("GIT COMMIT"))
	assert.Len(t, idx.Search("rebase"), 1)

	meta.Triggers = []string{"push"}
	idx.AddSkill(meta)
	assert.Empty(t, idx.Search("commit"), "re-adding replaces old keywords")

	idx.RemoveSkill("git-helper")
	assert.Equal(t, IndexStats{}, idx.Stats())
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("abc", "abc"))
	assert.Equal(t, 0.9, Similarity("test", "testing"))
	assert.Equal(t, 0.0, Similarity("", "x"))
	assert.InDelta(t, 1-1.0/6, Similarity("kitten", "sitten"), 1e-9)
	assert.Equal(t, 3, levenshtein([]rune("kitten"), []rune("sitting")))
}
