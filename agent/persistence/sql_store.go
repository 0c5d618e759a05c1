package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/skillflow/agent/skills"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// skillRow skills 表的一行. metadata 列保存完整元数据的 JSON.
type skillRow struct {
	Name         string    `gorm:"column:name;primaryKey"`
	Version      string    `gorm:"column:version"`
	Description  string    `gorm:"column:description"`
	Author       string    `gorm:"column:author"`
	Status       string    `gorm:"column:status"`
	Path         string    `gorm:"column:path"`
	Metadata     string    `gorm:"column:metadata"`
	LastModified time.Time `gorm:"column:last_modified"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (skillRow) TableName() string { return "skills" }

// snapshotRow registry_snapshots 表的一行，记录每次保存
type snapshotRow struct {
	ID         uint      `gorm:"column:id;primaryKey;autoIncrement"`
	Format     string    `gorm:"column:format"`
	SkillCount int       `gorm:"column:skill_count"`
	ExportedAt time.Time `gorm:"column:exported_at"`
}

func (snapshotRow) TableName() string { return "registry_snapshots" }

// SQLPool SQLRegistryStore 需要的连接池操作，internal/database.PoolManager 实现了它
type SQLPool interface {
	DB() *gorm.DB
	Ping(ctx context.Context) error
	WithTransactionRetry(ctx context.Context, maxRetries int, fn func(tx *gorm.DB) error) error
}

// saveRetries 保存事务遇到锁冲突或断连时的最大尝试次数
const saveRetries = 3

// SQLRegistryStore 基于 gorm 的注册表存储. 表结构由 internal/migration 管理.
// 每次保存在一个事务内替换全部技能行，因此不需要备份副本.
type SQLRegistryStore struct {
	pool      SQLPool
	batchSize int
	observer  OperationObserver
	logger    *zap.Logger
}

// NewSQLRegistryStore 在已迁移的数据库上创建存储. 连接池由调用方管理.
func NewSQLRegistryStore(pool SQLPool, logger *zap.Logger, observer OperationObserver) (*SQLRegistryStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: database is required", ErrInvalidInput)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &SQLRegistryStore{
		pool:      pool,
		batchSize: 100,
		observer:  observer,
		logger:    logger.With(zap.String("component", "registry_sql_store")),
	}, nil
}

// Save 替换全部技能行并追加一条快照记录
func (s *SQLRegistryStore) Save(ctx context.Context, snapshot *Snapshot) (err error) {
	start := time.Now()
	defer func() { observe(s.observer, "sql", "save", start, err) }()

	if err := snapshot.Validate(); err != nil {
		return err
	}
	rows := make([]skillRow, 0, len(snapshot.Skills))
	for _, rec := range snapshot.Skills {
		meta, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", rec.Metadata.Name, err)
		}
		rows = append(rows, skillRow{
			Name:         rec.Metadata.Name,
			Version:      rec.Metadata.Version,
			Description:  rec.Metadata.Description,
			Author:       rec.Metadata.Author,
			Status:       string(rec.Status),
			Path:         rec.Path,
			Metadata:     string(meta),
			LastModified: rec.LastModified.UTC(),
		})
	}

	err = s.pool.WithTransactionRetry(ctx, saveRetries, func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&skillRow{}).Error; err != nil {
			return fmt.Errorf("failed to clear skills: %w", err)
		}
		if len(rows) > 0 {
			if err := tx.CreateInBatches(rows, s.batchSize).Error; err != nil {
				return fmt.Errorf("failed to insert skills: %w", err)
			}
		}
		return tx.Create(&snapshotRow{
			Format:     snapshot.Version,
			SkillCount: len(rows),
			ExportedAt: snapshot.ExportedAt.UTC(),
		}).Error
	})
	if err != nil {
		return err
	}
	s.logger.Info("registry saved", zap.Int("skills", len(rows)))
	return nil
}

// Load 读取最近一次快照和当前技能行
func (s *SQLRegistryStore) Load(ctx context.Context) (snap *Snapshot, err error) {
	start := time.Now()
	defer func() { observe(s.observer, "sql", "load", start, err) }()

	db := s.pool.DB().WithContext(ctx)
	var head snapshotRow
	if err := db.Order("id DESC").First(&head).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRegistryNotFound
		}
		return nil, fmt.Errorf("failed to read registry snapshot: %w", err)
	}

	var rows []skillRow
	if err := db.Order("name ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to read skills: %w", err)
	}

	snap = &Snapshot{
		Version:    head.Format,
		ExportedAt: head.ExportedAt.UTC(),
		Skills:     make([]SkillRecord, 0, len(rows)),
		Source:     SourcePrimary,
	}
	for _, row := range rows {
		var meta skills.SkillMetadata
		if err := json.Unmarshal([]byte(row.Metadata), &meta); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for %s: %w", row.Name, err)
		}
		snap.Skills = append(snap.Skills, SkillRecord{
			Metadata:     meta,
			Path:         row.Path,
			LastModified: row.LastModified.UTC(),
			Status:       skills.SkillStatus(row.Status),
		})
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}

// Exists 是否存在快照记录
func (s *SQLRegistryStore) Exists(ctx context.Context) (bool, error) {
	var n int64
	if err := s.pool.DB().WithContext(ctx).Model(&snapshotRow{}).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// Invalidate 删除快照记录，技能行保留到下次保存
func (s *SQLRegistryStore) Invalidate(ctx context.Context) error {
	return s.pool.DB().WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&snapshotRow{}).Error
}

// Ping 健康检查
func (s *SQLRegistryStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close 不关闭共享连接
func (s *SQLRegistryStore) Close() error {
	return nil
}
