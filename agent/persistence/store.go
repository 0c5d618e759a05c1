package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BaSui01/skillflow/agent/skills"
	"github.com/BaSui01/skillflow/types"
)

// FormatVersion 快照格式版本
const FormatVersion = "1.0.0"

// Common errors
var (
	ErrRegistryNotFound = errors.New("registry snapshot not found")
	ErrStoreClosed      = errors.New("store is closed")
	ErrInvalidInput     = errors.New("invalid input")
)

// StoreType 存储后端类型
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeFile   StoreType = "file"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeSQL    StoreType = "sql"
)

// 快照来源
const (
	SourcePrimary = "primary"
	SourceBackup  = "backup"
)

// =============================================================================
// 📦 快照格式
// =============================================================================

// SkillRecord 快照中的一条技能记录
type SkillRecord struct {
	Metadata     skills.SkillMetadata `json:"metadata"`
	Path         string               `json:"path"`
	LastModified time.Time            `json:"lastModified"`
	Status       skills.SkillStatus   `json:"status"`
}

// Snapshot 注册表快照
type Snapshot struct {
	Version    string        `json:"version"`
	ExportedAt time.Time     `json:"exportedAt"`
	Skills     []SkillRecord `json:"skills"`

	// Source 记录快照来自主副本还是备份，不序列化
	Source string `json:"-"`
}

// NewSnapshot 从技能列表生成快照，按名称排序
func NewSnapshot(list []*skills.Skill, exportedAt time.Time) *Snapshot {
	records := make([]SkillRecord, 0, len(list))
	for _, s := range list {
		if s == nil {
			continue
		}
		c := s.Clone()
		records = append(records, SkillRecord{
			Metadata:     c.Metadata,
			Path:         c.Path,
			LastModified: c.LastModified.UTC(),
			Status:       c.Status,
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Metadata.Name < records[j].Metadata.Name })
	return &Snapshot{
		Version:    FormatVersion,
		ExportedAt: exportedAt.UTC(),
		Skills:     records,
	}
}

// Export 导出注册表当前内容
func Export(reg *skills.Registry) *Snapshot {
	return NewSnapshot(reg.List(), time.Now())
}

// Validate 校验快照格式：版本、导出时间以及每条记录的名称、路径、
// 修改时间和状态都必须存在且合法.
func (s *Snapshot) Validate() error {
	if s == nil {
		return types.NewError(types.ErrInvalidRegistryData, "snapshot is nil")
	}
	var problems []string
	if s.Version == "" {
		problems = append(problems, "missing version")
	} else if major, _, _ := strings.Cut(s.Version, "."); major != "1" {
		problems = append(problems, fmt.Sprintf("unsupported version %q", s.Version))
	}
	if s.ExportedAt.IsZero() {
		problems = append(problems, "missing exportedAt")
	}
	if s.Skills == nil {
		problems = append(problems, "missing skills array")
	}
	for i, rec := range s.Skills {
		switch {
		case strings.TrimSpace(rec.Metadata.Name) == "":
			problems = append(problems, fmt.Sprintf("skills[%d]: missing metadata.name", i))
		case rec.Path == "":
			problems = append(problems, fmt.Sprintf("skills[%d] %s: missing path", i, rec.Metadata.Name))
		case rec.LastModified.IsZero():
			problems = append(problems, fmt.Sprintf("skills[%d] %s: missing lastModified", i, rec.Metadata.Name))
		case !rec.Status.Valid():
			problems = append(problems, fmt.Sprintf("skills[%d] %s: invalid status %q", i, rec.Metadata.Name, rec.Status))
		}
	}
	if len(problems) > 0 {
		return types.Errorf(types.ErrInvalidRegistryData, "invalid registry snapshot: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ToSkills 还原技能记录. 提示词正文为空，需要按 Path 重新读取.
func (s *Snapshot) ToSkills() []*skills.Skill {
	out := make([]*skills.Skill, 0, len(s.Skills))
	for _, rec := range s.Skills {
		skill := &skills.Skill{
			Metadata:     rec.Metadata,
			Path:         rec.Path,
			LastModified: rec.LastModified,
			Status:       rec.Status,
		}
		out = append(out, skill.Clone())
	}
	return out
}

// =============================================================================
// 🗄️ 存储接口
// =============================================================================

// RegistryStore 注册表快照存储
type RegistryStore interface {
	// Save 写入快照，覆盖前保留上一份作为备份
	Save(ctx context.Context, snapshot *Snapshot) error

	// Load 读取快照，主副本不可用时回退到备份；
	// 都不存在时返回 ErrRegistryNotFound
	Load(ctx context.Context) (*Snapshot, error)

	// Exists 主副本是否存在
	Exists(ctx context.Context) (bool, error)

	// Invalidate 删除主副本，备份保留
	Invalidate(ctx context.Context) error

	// Ping 健康检查
	Ping(ctx context.Context) error

	// Close 释放资源
	Close() error
}

// OperationObserver 存储操作观察者，由指标收集器实现
type OperationObserver interface {
	RecordStoreOperation(backend, operation string, duration time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) RecordStoreOperation(string, string, time.Duration, error) {}

// observe 记录一次操作. ErrRegistryNotFound 不计为失败.
func observe(o OperationObserver, backend, op string, start time.Time, err error) {
	if errors.Is(err, ErrRegistryNotFound) {
		err = nil
	}
	o.RecordStoreOperation(backend, op, time.Since(start), err)
}

// =============================================================================
// 🔧 与注册表对接
// =============================================================================

// SaveRegistry 导出并保存注册表
func SaveRegistry(ctx context.Context, store RegistryStore, reg *skills.Registry) (*Snapshot, error) {
	snap := Export(reg)
	if err := store.Save(ctx, snap); err != nil {
		return nil, types.NewError(types.ErrPersistenceFailed, "failed to save registry").WithCause(err)
	}
	return snap, nil
}

// LoadRegistry 读取快照并整体替换注册表内容，返回导入数量.
// 快照不存在时原样返回 ErrRegistryNotFound.
func LoadRegistry(ctx context.Context, store RegistryStore, reg *skills.Registry) (*Snapshot, int, error) {
	snap, err := store.Load(ctx)
	if err != nil {
		return nil, 0, err
	}
	reg.Clear()
	n, errs := reg.RegisterAll(snap.ToSkills())
	if len(errs) > 0 {
		return snap, n, types.NewError(types.ErrInvalidRegistryData, "some snapshot records were rejected").WithCause(errors.Join(errs...))
	}
	return snap, n, nil
}
