package skills

import (
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/BaSui01/skillflow/types"
	"go.uber.org/zap"
)

// RegistryEvent 注册表变更事件
type RegistryEvent string

const (
	EventRegistered    RegistryEvent = "registered"
	EventUpdated       RegistryEvent = "updated"
	EventUnregistered  RegistryEvent = "unregistered"
	EventStatusChanged RegistryEvent = "status_changed"
	EventCleared       RegistryEvent = "cleared"
)

// RegistryListener 变更回调. previous 为被替换或移除的记录.
// 回调在注册表锁之外执行，可以回读注册表.
type RegistryListener func(event RegistryEvent, current, previous *Skill)

// RegistryStats 注册表统计
type RegistryStats struct {
	Total    int      `json:"total"`
	Active   int      `json:"active"`
	Inactive int      `json:"inactive"`
	Error    int      `json:"error"`
	Authors  []string `json:"authors"`
}

// Registry 技能注册表，技能记录的唯一所有者.
// 返回的 *Skill 视为只读；修改状态请使用 SetStatus.
type Registry struct {
	skills    map[string]*Skill
	listeners []RegistryListener
	logger    *zap.Logger
	mu        sync.RWMutex
}

// NewRegistry 创建技能注册表
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		skills: make(map[string]*Skill),
		logger: logger.With(zap.String("component", "skill_registry")),
	}
}

// OnChange 注册变更监听器
func (r *Registry) OnChange(listener RegistryListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, listener)
}

// Register 注册技能，同名记录会被替换
func (r *Registry) Register(skill *Skill) error {
	if skill == nil || strings.TrimSpace(skill.Metadata.Name) == "" {
		return types.NewError(types.ErrInvalidArgument, "skill name is required")
	}
	if skill.Status == "" {
		skill.Status = StatusActive
	}
	if !skill.Status.Valid() {
		return types.Errorf(types.ErrInvalidArgument, "invalid skill status %q", skill.Status).
			WithSkill(skill.Metadata.Name)
	}

	name := skill.Metadata.Name

	r.mu.Lock()
	previous, exists := r.skills[name]
	r.skills[name] = skill
	listeners := r.snapshotListeners()
	r.mu.Unlock()

	event := EventRegistered
	if exists {
		event = EventUpdated
		r.logger.Debug("skill replaced",
			zap.String("skill", name),
			zap.String("old_version", previous.Metadata.Version),
			zap.String("new_version", skill.Metadata.Version),
		)
	} else {
		r.logger.Debug("skill registered",
			zap.String("skill", name),
			zap.String("version", skill.Metadata.Version),
		)
	}

	notify(listeners, event, skill, previous)
	return nil
}

// RegisterAll 批量注册，单个失败不影响其他技能
func (r *Registry) RegisterAll(skills []*Skill) (int, []error) {
	registered := 0
	var errs []error
	for _, s := range skills {
		if err := r.Register(s); err != nil {
			errs = append(errs, err)
			continue
		}
		registered++
	}
	return registered, errs
}

// Unregister 注销技能，返回是否存在
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	previous, ok := r.skills[name]
	if ok {
		delete(r.skills, name)
	}
	listeners := r.snapshotListeners()
	r.mu.Unlock()

	if !ok {
		return false
	}

	r.logger.Debug("skill unregistered", zap.String("skill", name))
	notify(listeners, EventUnregistered, nil, previous)
	return true
}

// Get 获取技能
func (r *Registry) Get(name string) (*Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[name]
	return s, ok
}

// Has 判断技能是否存在
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// List 按名称排序返回全部技能
func (r *Registry) List() []*Skill {
	r.mu.RLock()
	out := make([]*Skill, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Metadata.Name < out[j].Metadata.Name
	})
	return out
}

// Names 返回排序后的技能名
func (r *Registry) Names() []string {
	list := r.List()
	names := make([]string, len(list))
	for i, s := range list {
		names[i] = s.Metadata.Name
	}
	return names
}

// Filter 返回满足条件的技能
func (r *Registry) Filter(pred func(*Skill) bool) []*Skill {
	var out []*Skill
	for _, s := range r.List() {
		if pred(s) {
			out = append(out, s)
		}
	}
	return out
}

// ByStatus 按状态过滤
func (r *Registry) ByStatus(status SkillStatus) []*Skill {
	return r.Filter(func(s *Skill) bool { return s.Status == status })
}

// SetStatus 更新技能状态
func (r *Registry) SetStatus(name string, status SkillStatus) error {
	if !status.Valid() {
		return types.Errorf(types.ErrInvalidArgument, "invalid skill status %q", status).WithSkill(name)
	}

	r.mu.Lock()
	current, ok := r.skills[name]
	if !ok {
		r.mu.Unlock()
		return types.NewError(types.ErrNotFound, "skill not found").WithSkill(name)
	}
	if current.Status == status {
		r.mu.Unlock()
		return nil
	}
	updated := *current
	updated.Status = status
	r.skills[name] = &updated
	listeners := r.snapshotListeners()
	r.mu.Unlock()

	r.logger.Info("skill status changed",
		zap.String("skill", name),
		zap.String("from", string(current.Status)),
		zap.String("to", string(status)),
	)
	notify(listeners, EventStatusChanged, &updated, current)
	return nil
}

// Search 按名称、描述与触发词检索，结果按相关度降序
func (r *Registry) Search(query string) []*Skill {
	query = strings.ToLower(strings.TrimSpace(query))
	all := r.List()
	if query == "" {
		return all
	}
	tokens := tokenizeQuery(query)

	type scored struct {
		skill *Skill
		score float64
	}
	matches := make([]scored, 0)
	for _, s := range all {
		if score := scoreMetadataMatch(&s.Metadata, query, tokens); score > 0 {
			matches = append(matches, scored{skill: s, score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})

	out := make([]*Skill, len(matches))
	for i, m := range matches {
		out[i] = m.skill
	}
	return out
}

// Size 返回技能数量
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.skills)
}

// Clear 清空注册表
func (r *Registry) Clear() {
	r.mu.Lock()
	count := len(r.skills)
	r.skills = make(map[string]*Skill)
	listeners := r.snapshotListeners()
	r.mu.Unlock()

	r.logger.Info("registry cleared", zap.Int("count", count))
	notify(listeners, EventCleared, nil, nil)
}

// Stats 返回注册表统计
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RegistryStats{Total: len(r.skills)}
	authors := make(map[string]struct{})
	for _, s := range r.skills {
		switch s.Status {
		case StatusActive:
			stats.Active++
		case StatusInactive:
			stats.Inactive++
		case StatusError:
			stats.Error++
		}
		if s.Metadata.Author != "" {
			authors[s.Metadata.Author] = struct{}{}
		}
	}
	stats.Authors = make([]string, 0, len(authors))
	for a := range authors {
		stats.Authors = append(stats.Authors, a)
	}
	sort.Strings(stats.Authors)
	return stats
}

func (r *Registry) snapshotListeners() []RegistryListener {
	if len(r.listeners) == 0 {
		return nil
	}
	return append([]RegistryListener(nil), r.listeners...)
}

func notify(listeners []RegistryListener, event RegistryEvent, current, previous *Skill) {
	for _, l := range listeners {
		l(event, current, previous)
	}
}

// =============================================================================
// 🔍 检索评分
// =============================================================================

func tokenizeQuery(query string) []string {
	if query == "" {
		return nil
	}
	tokens := strings.FieldsFunc(query, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-')
	})
	if len(tokens) == 0 {
		return nil
	}

	unique := make(map[string]struct{}, len(tokens))
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		token = strings.ToLower(strings.TrimSpace(token))
		if token == "" {
			continue
		}
		if _, exists := unique[token]; exists {
			continue
		}
		unique[token] = struct{}{}
		result = append(result, token)
	}

	return result
}

func scoreMetadataMatch(meta *SkillMetadata, query string, tokens []string) float64 {
	if meta == nil {
		return 0
	}

	name := strings.ToLower(meta.Name)
	description := strings.ToLower(meta.Description)

	score := 0.0
	if strings.Contains(name, query) {
		score += 0.45
	}
	if strings.Contains(description, query) {
		score += 0.25
	}

	triggerMatched := false
	for _, trigger := range meta.Triggers {
		if strings.Contains(strings.ToLower(trigger), query) {
			triggerMatched = true
			break
		}
	}
	if triggerMatched {
		score += 0.3
	}

	if len(tokens) > 0 {
		matched := 0
		for _, token := range tokens {
			if strings.Contains(name, token) || strings.Contains(description, token) {
				matched++
				continue
			}
			for _, trigger := range meta.Triggers {
				if strings.Contains(strings.ToLower(trigger), token) {
					matched++
					break
				}
			}
		}
		score += 0.3 * float64(matched) / float64(len(tokens))
	}

	return score
}
