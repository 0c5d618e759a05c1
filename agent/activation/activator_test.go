package activation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/skillflow/agent/discovery"
	"github.com/BaSui01/skillflow/agent/skills"
	"github.com/BaSui01/skillflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
	lastSize int
}

func (o *recordingObserver) ObserveActivation(_, _, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *recordingObserver) ObserveActiveSkills(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastSize = n
}

func testSkill(name string, triggers []string, deps ...string) *skills.Skill {
	return skills.NewSkillBuilder(name, "1.0.0").
		WithDescription("test skill " + name).
		WithTriggers(triggers...).
		DependsOn(deps...).
		MustBuild()
}

type fixture struct {
	registry  *skills.Registry
	activator *Activator
	observer  *recordingObserver
}

func newFixture(t *testing.T, cfg Config, list ...*skills.Skill) *fixture {
	t.Helper()
	reg := skills.NewRegistry(zap.NewNop())
	for _, s := range list {
		require.NoError(t, reg.Register(s))
	}
	idx := discovery.NewKeywordIndex(discovery.DefaultFuzzyThreshold)
	idx.Rebuild(reg.List())
	matcher := discovery.NewKeywordMatcher(idx, reg, zap.NewNop())
	resolver := skills.NewDependencyResolver(reg)
	obs := &recordingObserver{}
	a := NewActivator(reg, resolver, matcher, cfg, zap.NewNop(), WithObserver(obs))
	return &fixture{registry: reg, activator: a, observer: obs}
}

func chainSkills() []*skills.Skill {
	return []*skills.Skill{
		testSkill("app", []string{"build app"}, "lib"),
		testSkill("lib", []string{"library"}, "core"),
		testSkill("core", []string{"core utils"}),
		testSkill("solo", []string{"solo work"}),
	}
}

// =============================================================================
// 🎯 ActivateSkill
// =============================================================================

func TestActivator_ActivatePullsTransitiveClosure(t *testing.T) {
	f := newFixture(t, DefaultConfig(), chainSkills()...)

	res := f.activator.ActivateSkill(context.Background(), "app", ViaExplicit)
	require.True(t, res.Success())
	require.Len(t, res.Activated, 1)
	assert.Equal(t, "app", res.Activated[0].Name())
	require.Len(t, res.Dependencies, 2)
	assert.Equal(t, "core", res.Dependencies[0].Name())
	assert.Equal(t, "lib", res.Dependencies[1].Name())

	assert.Equal(t, []string{"core", "lib", "app"}, f.activator.ActiveSkillNames())
	assert.False(t, f.activator.IsActive("solo"))

	active := f.activator.ActiveSkills()
	require.Len(t, active, 3)
	assert.Equal(t, ViaDependency, active[0].ActivatedVia)
	assert.Equal(t, ViaExplicit, active[2].ActivatedVia)
	assert.Equal(t, 3, f.observer.lastSize)
}

func TestActivator_NotFound(t *testing.T) {
	f := newFixture(t, DefaultConfig(), chainSkills()...)

	res := f.activator.ActivateSkill(context.Background(), "ghost", ViaExplicit)
	require.False(t, res.Success())
	assert.Equal(t, types.ErrNotFound, res.Failed[0].Code)
	assert.True(t, types.IsCode(res.Err(), types.ErrNotFound))
	assert.Empty(t, f.activator.ActiveSkillNames())
}

func TestActivator_AlreadyActiveIsNoop(t *testing.T) {
	f := newFixture(t, DefaultConfig(), chainSkills()...)
	ctx := context.Background()

	require.True(t, f.activator.ActivateSkill(ctx, "solo", ViaExplicit).Success())
	res := f.activator.ActivateSkill(ctx, "solo", ViaKeyword)
	require.True(t, res.Success())
	assert.True(t, res.AlreadyActive)
	assert.Equal(t, []string{"solo"}, f.activator.ActiveSkillNames())
	assert.Equal(t, ViaExplicit, f.activator.ActiveSkills()[0].ActivatedVia)
}

func TestActivator_CycleLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t, DefaultConfig(),
		testSkill("x", nil, "y"),
		testSkill("y", nil, "x"),
	)

	res := f.activator.ActivateSkill(context.Background(), "x", ViaExplicit)
	require.False(t, res.Success())
	assert.Equal(t, types.ErrCircularDependency, res.Failed[0].Code)
	assert.Contains(t, res.Failed[0].Reason, "x -> y -> x")
	assert.Empty(t, f.activator.ActiveSkillNames())
}

func TestActivator_MissingDependency(t *testing.T) {
	f := newFixture(t, DefaultConfig(), testSkill("needy", nil, "absent"))

	res := f.activator.ActivateSkill(context.Background(), "needy", ViaExplicit)
	require.False(t, res.Success())
	assert.Equal(t, types.ErrMissingDependency, res.Failed[0].Code)
	require.NotNil(t, res.Failed[0].Resolution)
	assert.Equal(t, []string{"absent"}, res.Failed[0].Resolution.Missing.Skills)
	assert.Empty(t, f.activator.ActiveSkillNames())
}

func TestActivator_CapacityExceeded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxActiveSkills = 1
	f := newFixture(t, cfg, chainSkills()...)
	ctx := context.Background()

	require.True(t, f.activator.ActivateSkill(ctx, "solo", ViaExplicit).Success())
	res := f.activator.ActivateSkill(ctx, "core", ViaExplicit)
	require.False(t, res.Success())
	assert.Equal(t, types.ErrCapacityExceeded, res.Failed[0].Code)
	assert.Equal(t, []string{"solo"}, f.activator.ActiveSkillNames())
}

func TestActivator_DependencyOverflowIsAllOrNothing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxActiveSkills = 2
	f := newFixture(t, cfg, chainSkills()...)

	res := f.activator.ActivateSkill(context.Background(), "app", ViaExplicit)
	require.False(t, res.Success())
	assert.Equal(t, types.ErrCapacityExceeded, res.Failed[0].Code)
	assert.Empty(t, f.activator.ActiveSkillNames())
	assert.Contains(t, f.observer.outcomes, string(types.ErrCapacityExceeded))
}

func TestActivator_RequiredSkillBypassesCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxActiveSkills = 3
	f := newFixture(t, cfg, chainSkills()...)
	ctx := context.Background()

	require.True(t, f.activator.ActivateSkill(ctx, "app", ViaExplicit).Success())
	_, err := f.activator.DeactivateSkill("lib")
	require.NoError(t, err)
	require.True(t, f.activator.ActivateSkill(ctx, "solo", ViaExplicit).Success())

	// 集合已满，但 lib 仍被活跃的 app 需要
	res := f.activator.ActivateSkill(ctx, "lib", ViaExplicit)
	require.True(t, res.Success(), res.Err())
	assert.True(t, f.activator.IsActive("lib"))
}

func TestActivator_ExemptSkillCannotPullDependenciesPastCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxActiveSkills = 3
	f := newFixture(t, cfg, append(chainSkills(), testSkill("other", []string{"other work"}))...)
	ctx := context.Background()

	require.True(t, f.activator.ActivateSkill(ctx, "app", ViaExplicit).Success())
	for _, name := range []string{"lib", "core"} {
		_, err := f.activator.DeactivateSkill(name)
		require.NoError(t, err)
	}
	require.True(t, f.activator.ActivateSkill(ctx, "solo", ViaExplicit).Success())
	require.True(t, f.activator.ActivateSkill(ctx, "other", ViaExplicit).Success())

	// lib 受 app 豁免，但还要拉入 core，超出上限
	res := f.activator.ActivateSkill(ctx, "lib", ViaExplicit)
	require.False(t, res.Success())
	assert.Equal(t, types.ErrCapacityExceeded, res.Failed[0].Code)
	assert.Equal(t, []string{"app", "solo", "other"}, f.activator.ActiveSkillNames())
}

func TestActivator_ErrorStatusSkillIsRefused(t *testing.T) {
	broken := skills.NewSkillBuilder("broken", "1.0.0").
		WithDescription("test skill broken").
		WithStatus(skills.StatusError).
		MustBuild()
	f := newFixture(t, DefaultConfig(), broken, testSkill("needs-broken", []string{"needs"}, "broken"))
	ctx := context.Background()

	res := f.activator.ActivateSkill(ctx, "broken", ViaExplicit)
	require.False(t, res.Success())
	assert.Equal(t, types.ErrValidationFailed, res.Failed[0].Code)

	res = f.activator.ActivateSkill(ctx, "needs-broken", ViaExplicit)
	require.False(t, res.Success())
	assert.Equal(t, types.ErrMissingDependency, res.Failed[0].Code)
	assert.Empty(t, f.activator.ActiveSkillNames())
}

// =============================================================================
// 🔍 ActivateByKeywords
// =============================================================================

func TestActivator_ActivateByKeywords_Auto(t *testing.T) {
	f := newFixture(t, DefaultConfig(), chainSkills()...)

	res := f.activator.ActivateByKeywords(context.Background(), "please do some solo work", true)
	require.True(t, res.Success())
	assert.False(t, res.RequiresUserSelection)
	require.Len(t, res.Activated, 1)
	assert.Equal(t, "solo", res.Activated[0].Name())
	assert.Equal(t, ViaKeyword, f.activator.ActiveSkills()[0].ActivatedVia)
}

func TestActivator_ActivateByKeywords_NoAutoReturnsCandidates(t *testing.T) {
	f := newFixture(t, DefaultConfig(), chainSkills()...)

	res := f.activator.ActivateByKeywords(context.Background(), "solo work", false)
	assert.True(t, res.RequiresUserSelection)
	require.NotEmpty(t, res.Suggestions)
	assert.Equal(t, "solo", res.Suggestions[0].Skill.Name())
	assert.Empty(t, f.activator.ActiveSkillNames())
}

func TestActivator_ActivateByKeywords_TieRequiresSelection(t *testing.T) {
	f := newFixture(t, DefaultConfig(),
		testSkill("lint-go", []string{"lint"}),
		testSkill("lint-js", []string{"lint"}),
	)

	res := f.activator.ActivateByKeywords(context.Background(), "lint", true)
	assert.True(t, res.RequiresUserSelection)
	assert.Len(t, res.Suggestions, 2)
	assert.Empty(t, f.activator.ActiveSkillNames())
}

func TestActivator_ActivateByKeywords_NoMatch(t *testing.T) {
	f := newFixture(t, DefaultConfig(), chainSkills()...)

	res := f.activator.ActivateByKeywords(context.Background(), "zzzz qqqq", true)
	assert.True(t, res.Success())
	assert.False(t, res.RequiresUserSelection)
	assert.Empty(t, res.Suggestions)
}

func TestActivator_ActivateMultiple(t *testing.T) {
	f := newFixture(t, DefaultConfig(), chainSkills()...)

	res := f.activator.ActivateMultiple(context.Background(), []string{"lib", "ghost", "app"})
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "ghost", res.Failed[0].Skill)

	names := make([]string, 0, len(res.Activated))
	for _, s := range res.Activated {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"lib", "app"}, names)
	assert.ElementsMatch(t, []string{"core", "lib", "app"}, f.activator.ActiveSkillNames())
}

// =============================================================================
// 🧹 停用与统计
// =============================================================================

func TestActivator_DeactivateDoesNotCascade(t *testing.T) {
	f := newFixture(t, DefaultConfig(), chainSkills()...)
	require.True(t, f.activator.ActivateSkill(context.Background(), "app", ViaExplicit).Success())

	res, err := f.activator.DeactivateSkill("core")
	require.NoError(t, err)
	assert.Equal(t, []string{"lib"}, res.Dependents)
	assert.Equal(t, []string{"lib", "app"}, f.activator.ActiveSkillNames())

	_, err = f.activator.DeactivateSkill("core")
	assert.True(t, types.IsCode(err, types.ErrNotActive))
}

func TestActivator_DeactivateAll(t *testing.T) {
	f := newFixture(t, DefaultConfig(), chainSkills()...)
	require.True(t, f.activator.ActivateSkill(context.Background(), "app", ViaExplicit).Success())

	assert.Equal(t, 3, f.activator.DeactivateAll())
	assert.Empty(t, f.activator.ActiveSkillNames())
	assert.Equal(t, 0, f.observer.lastSize)
}

func TestActivator_Prune(t *testing.T) {
	f := newFixture(t, DefaultConfig(), chainSkills()...)
	ctx := context.Background()
	require.True(t, f.activator.ActivateSkill(ctx, "solo", ViaExplicit).Success())
	require.True(t, f.activator.ActivateSkill(ctx, "core", ViaExplicit).Success())

	f.registry.Unregister("solo")
	assert.Equal(t, []string{"solo"}, f.activator.Prune())
	assert.Equal(t, []string{"core"}, f.activator.ActiveSkillNames())
}

func TestActivator_Stats(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	reg := skills.NewRegistry(nil)
	for _, s := range chainSkills() {
		require.NoError(t, reg.Register(s))
	}
	a := NewActivator(reg, skills.NewDependencyResolver(reg),
		discovery.NewKeywordMatcher(discovery.NewKeywordIndex(0.6), reg, nil),
		DefaultConfig(), nil, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	empty := a.Stats()
	assert.Equal(t, 0, empty.TotalActive)
	assert.True(t, empty.OldestActivation.IsZero())

	require.True(t, a.ActivateSkill(ctx, "solo", ViaExplicit).Success())
	now = base.Add(time.Minute)
	require.True(t, a.ActivateSkill(ctx, "core", ViaKeyword).Success())
	now = base.Add(2 * time.Minute)

	stats := a.Stats()
	assert.Equal(t, 2, stats.TotalActive)
	assert.Equal(t, 10, stats.MaxActive)
	assert.Equal(t, base, stats.OldestActivation)
	assert.Equal(t, 90*time.Second, stats.AverageActiveDuration)
	assert.Equal(t, 1, stats.ByVia[ViaExplicit])
	assert.Equal(t, 1, stats.ByVia[ViaKeyword])
}

func TestActivator_SetMaxActiveSkills(t *testing.T) {
	f := newFixture(t, DefaultConfig(), chainSkills()...)

	err := f.activator.SetMaxActiveSkills(0)
	assert.True(t, types.IsCode(err, types.ErrInvalidArgument))
	assert.Equal(t, 10, f.activator.MaxActiveSkills())

	require.NoError(t, f.activator.SetMaxActiveSkills(1))
	assert.Equal(t, 1, f.activator.MaxActiveSkills())
}

func TestActivator_ConcurrentActivation(t *testing.T) {
	f := newFixture(t, DefaultConfig(), chainSkills()...)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				f.activator.ActivateSkill(ctx, "app", ViaExplicit)
			} else {
				f.activator.ActivateSkill(ctx, "solo", ViaExplicit)
			}
		}(i)
	}
	wg.Wait()

	assert.ElementsMatch(t, []string{"core", "lib", "app", "solo"}, f.activator.ActiveSkillNames())
}
