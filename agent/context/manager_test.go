package context

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/skillflow/agent/skills"
	"github.com/BaSui01/skillflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type buildRecorder struct {
	mu     sync.Mutex
	builds int
	cached int
}

func (r *buildRecorder) ObserveContextBuild(_ int, _ bool, cached bool, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builds++
	if cached {
		r.cached++
	}
}

func promptSkill(name, prompt string) *skills.Skill {
	return skills.NewSkillBuilder(name, "1.0.0").
		WithDescription("skill " + name + " for tests").
		WithPrompt(prompt).
		MustBuild()
}

func newTestManager(opts ...ManagerOption) *Manager {
	return NewManager(DefaultConfig(), nil, zap.NewNop(), opts...)
}

func TestManager_BuildContext_Basic(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	active := []*skills.Skill{
		promptSkill("writer", "# Core\nWrite clearly.\n# Examples\nA clear sentence."),
	}
	rules := []string{"# Rule\nAlways be polite."}

	aiCtx, err := m.BuildContext(ctx, active, rules, DefaultBuildOptions())
	require.NoError(t, err)
	assert.False(t, aiCtx.Cached)
	assert.False(t, aiCtx.Truncated)
	assert.Equal(t, "# Rule\nAlways be polite.\n\n# Core\nWrite clearly.\n\n# Examples\nA clear sentence.", aiCtx.SystemPrompt)
	assert.Equal(t, 1, aiCtx.Metadata.SkillCount)
	assert.Equal(t, 1, aiCtx.Metadata.SteeringRuleCount)
	assert.Equal(t, 3, aiCtx.Metadata.SectionCount)
	assert.Equal(t, []string{"writer"}, aiCtx.Metadata.SkillNames)
	assert.Positive(t, aiCtx.TotalTokens)
}

func TestManager_BuildContext_SecondCallCached(t *testing.T) {
	rec := &buildRecorder{}
	m := newTestManager(WithBuildObserver(rec))
	ctx := context.Background()
	a := promptSkill("a", "# Core\nAlpha.")
	b := promptSkill("b", "# Core B\nBeta.")
	rules := []string{"# Rule one\nFirst.", "# Rule two\nSecond."}

	first, err := m.BuildContext(ctx, []*skills.Skill{a, b}, rules, DefaultBuildOptions())
	require.NoError(t, err)
	second, err := m.BuildContext(ctx, []*skills.Skill{b, a}, []string{rules[1], rules[0]}, DefaultBuildOptions())
	require.NoError(t, err)

	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, first.SystemPrompt, second.SystemPrompt)
	assert.Equal(t, first.TotalTokens, second.TotalTokens)
	assert.Equal(t, 2, rec.builds)
	assert.Equal(t, 1, rec.cached)
}

func TestManager_BuildContext_DeterministicWithoutCache(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	a := promptSkill("a", "# Core\nAlpha.")
	b := promptSkill("b", "# Core B\nBeta.")
	opts := DefaultBuildOptions()
	opts.UseCache = false

	x, err := m.BuildContext(ctx, []*skills.Skill{a, b}, []string{"r1", "r2"}, opts)
	require.NoError(t, err)
	y, err := m.BuildContext(ctx, []*skills.Skill{b, a}, []string{"r2", "r1"}, opts)
	require.NoError(t, err)

	assert.Equal(t, x.SystemPrompt, y.SystemPrompt)
	assert.False(t, y.Cached)
	assert.Equal(t, 0, m.Cache().Size())
}

func TestManager_BuildContext_TruncatesButKeepsRules(t *testing.T) {
	m := newTestManager()
	opts := DefaultBuildOptions()
	opts.MaxTokens = 5

	aiCtx, err := m.BuildContext(context.Background(),
		[]*skills.Skill{promptSkill("x", "# Core\nDo X.")},
		[]string{"# Rule\nAlways be polite."},
		opts)
	require.NoError(t, err)
	assert.True(t, aiCtx.Truncated)
	assert.Contains(t, aiCtx.SystemPrompt, "Always be polite.")
	assert.NotContains(t, aiCtx.SystemPrompt, "Do X.")
	assert.Greater(t, aiCtx.Metadata.OriginalTokens, aiCtx.TotalTokens)
	assert.Equal(t, aiCtx.Metadata.OriginalTokens-aiCtx.TotalTokens, aiCtx.Metadata.TokensSaved)
}

func TestManager_BuildContext_DifferentOptionsRebuild(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	active := []*skills.Skill{promptSkill("x", "# Core\nDo X.\n# Examples\nX.")}

	full, err := m.BuildContext(ctx, active, nil, DefaultBuildOptions())
	require.NoError(t, err)

	noExamples := DefaultBuildOptions()
	noExamples.IncludeExamples = false
	slim, err := m.BuildContext(ctx, active, nil, noExamples)
	require.NoError(t, err)

	assert.False(t, slim.Cached)
	assert.NotEqual(t, full.SystemPrompt, slim.SystemPrompt)
	assert.NotContains(t, slim.SystemPrompt, "# Examples")
}

func TestManager_BuildContext_InvalidArgs(t *testing.T) {
	m := newTestManager()
	opts := DefaultBuildOptions()
	opts.MaxTokens = -1

	_, err := m.BuildContext(context.Background(), nil, nil, opts)
	assert.True(t, types.IsCode(err, types.ErrInvalidArgument))
}

func TestManager_BuildContext_ConcurrentMissesShareResult(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	active := []*skills.Skill{promptSkill("x", "# Core\n"+strings.Repeat("text ", 200))}

	var wg sync.WaitGroup
	prompts := make([]string, 16)
	for i := range prompts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			aiCtx, err := m.BuildContext(ctx, active, nil, DefaultBuildOptions())
			assert.NoError(t, err)
			prompts[i] = aiCtx.SystemPrompt
		}(i)
	}
	wg.Wait()

	for _, p := range prompts[1:] {
		assert.Equal(t, prompts[0], p)
	}
	assert.Equal(t, 1, m.Cache().Size())
}

func TestManager_OptimizeContext(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	refs := "# References\n" + strings.Repeat("reference material line\n", 20)
	examples := "# Examples\n" + strings.Repeat("example line here\n", 20)
	active := []*skills.Skill{promptSkill("x", "# Core\nDo X.\n"+examples+refs)}

	aiCtx, err := m.BuildContext(ctx, active, []string{"# Rule\nBe kind."}, DefaultBuildOptions())
	require.NoError(t, err)

	withoutRefs := m.counter.CountTokens(Render(RemoveSectionTypes(aiCtx.Sections, SectionReferences)))
	res, err := m.OptimizeContext(ctx, aiCtx, withoutRefs)
	require.NoError(t, err)
	assert.Equal(t, []string{OptimizationRemoveReferences}, res.OptimizationsApplied)
	assert.NotContains(t, res.Optimized.SystemPrompt, "# References")
	assert.Contains(t, res.Optimized.SystemPrompt, "# Examples")
	assert.Equal(t, aiCtx.TotalTokens-res.Optimized.TotalTokens, res.TokensSaved)

	res, err = m.OptimizeContext(ctx, aiCtx, 10)
	require.NoError(t, err)
	assert.Contains(t, res.OptimizationsApplied, OptimizationTruncate)
	assert.Contains(t, res.Optimized.SystemPrompt, "Be kind.")
	assert.True(t, res.Optimized.Truncated)

	// 原上下文不被修改
	assert.Contains(t, aiCtx.SystemPrompt, "# References")

	_, err = m.OptimizeContext(ctx, aiCtx, 0)
	assert.True(t, types.IsCode(err, types.ErrInvalidArgument))
}

func TestManager_OptimizeContext_AlreadyWithinTarget(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	aiCtx, err := m.BuildContext(ctx, []*skills.Skill{promptSkill("x", "# Core\nDo X.")}, nil, DefaultBuildOptions())
	require.NoError(t, err)

	res, err := m.OptimizeContext(ctx, aiCtx, 10000)
	require.NoError(t, err)
	assert.Empty(t, res.OptimizationsApplied)
	assert.Equal(t, aiCtx.SystemPrompt, res.Optimized.SystemPrompt)
	assert.Zero(t, res.TokensSaved)
}

func TestManager_InvalidateSkillCache(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	a := promptSkill("a", "# Core\nAlpha.")
	b := promptSkill("b", "# Core\nBeta.")

	_, err := m.BuildContext(ctx, []*skills.Skill{a}, nil, DefaultBuildOptions())
	require.NoError(t, err)
	_, err = m.BuildContext(ctx, []*skills.Skill{a, b}, nil, DefaultBuildOptions())
	require.NoError(t, err)
	_, err = m.BuildContext(ctx, []*skills.Skill{b}, []string{"rule"}, DefaultBuildOptions())
	require.NoError(t, err)

	assert.Equal(t, 2, m.InvalidateSkillCache(ctx, "a"))
	assert.Equal(t, 1, m.Cache().Size())
	assert.Equal(t, 1, m.InvalidateSteeringCache(ctx, "rule"))

	m.ClearCache(ctx)
	stats := m.CacheStats()
	assert.Zero(t, stats.Context.Size)
	assert.Zero(t, stats.Tokens.Size)
}

func TestManager_AnalyzeAndMerge(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	refs := "# References\n" + strings.Repeat("reference material line\n", 30)

	one, err := m.BuildContext(ctx, []*skills.Skill{promptSkill("a", "# Core\nAlpha.\n"+refs)}, []string{"# Rule\nKind."}, DefaultBuildOptions())
	require.NoError(t, err)
	two, err := m.BuildContext(ctx, []*skills.Skill{promptSkill("b", "# Core B\nBeta.")}, []string{"# Rule\nKind."}, DefaultBuildOptions())
	require.NoError(t, err)

	analysis := m.AnalyzeContext(one)
	assert.Equal(t, 1, analysis.SectionBreakdown[SectionReferences])
	assert.Contains(t, analysis.Recommendations, "Consider removing reference sections to reduce context size")

	merged := m.MergeContexts(one, two, nil)
	assert.Equal(t, []string{"a", "b"}, merged.Metadata.SkillNames)
	assert.Equal(t, []string{"# Rule\nKind."}, merged.SteeringRules)
	assert.Equal(t, 4, len(merged.Sections))
	assert.Equal(t, SectionSteeringRules, merged.Sections[0].Type)
	assert.Equal(t, SectionReferences, merged.Sections[3].Type)
}
