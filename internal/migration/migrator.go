package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// =============================================================================
// 📦 内嵌迁移文件
// =============================================================================

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// =============================================================================
// 🎯 类型定义
// =============================================================================

// DatabaseType 数据库方言
type DatabaseType string

const (
	DatabaseTypePostgres DatabaseType = "postgres"
	DatabaseTypeSQLite   DatabaseType = "sqlite"
)

// DefaultTableName 迁移版本表名
const DefaultTableName = "schema_migrations"

// MigrationStatus 单个迁移的状态
type MigrationStatus struct {
	Version uint   `json:"version"`
	Name    string `json:"name"`
	Applied bool   `json:"applied"`
	Dirty   bool   `json:"dirty"`
}

// MigrationInfo 迁移摘要
type MigrationInfo struct {
	CurrentVersion    uint `json:"current_version"`
	Dirty             bool `json:"dirty"`
	TotalMigrations   int  `json:"total_migrations"`
	AppliedMigrations int  `json:"applied_migrations"`
	PendingMigrations int  `json:"pending_migrations"`
}

// Config 迁移配置
type Config struct {
	// 数据库方言
	DatabaseType DatabaseType

	// 迁移版本表名，默认 schema_migrations
	TableName string

	// 获取迁移锁的超时
	LockTimeout time.Duration
}

// Migrator 迁移器接口
type Migrator interface {
	// Up 应用全部待执行迁移
	Up(ctx context.Context) error
	// Down 回滚最近一次迁移
	Down(ctx context.Context) error
	// DownAll 回滚全部迁移
	DownAll(ctx context.Context) error
	// Goto 迁移到指定版本
	Goto(ctx context.Context, version uint) error
	// Force 强制设置版本号而不执行迁移
	Force(ctx context.Context, version int) error
	// Version 当前版本与 dirty 标记
	Version(ctx context.Context) (uint, bool, error)
	// Status 所有迁移的状态
	Status(ctx context.Context) ([]MigrationStatus, error)
	// Info 迁移摘要
	Info(ctx context.Context) (*MigrationInfo, error)
	// Close 释放资源，同时关闭底层 sql.DB
	Close() error
}

// =============================================================================
// 🔧 默认实现
// =============================================================================

// DefaultMigrator 基于 golang-migrate 的迁移器
type DefaultMigrator struct {
	config  Config
	migrate *migrate.Migrate
	logger  *zap.Logger
}

// NewMigrator 在已打开的连接上创建迁移器. 迁移器接管 db 的生命周期.
func NewMigrator(db *sql.DB, cfg Config, logger *zap.Logger) (*DefaultMigrator, error) {
	if db == nil {
		return nil, errors.New("database handle is required")
	}
	if cfg.TableName == "" {
		cfg.TableName = DefaultTableName
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	driver, err := databaseDriver(db, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, migrationsDir(cfg.DatabaseType))
	if err != nil {
		return nil, fmt.Errorf("failed to create source driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, string(cfg.DatabaseType), driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.LockTimeout = cfg.LockTimeout

	return &DefaultMigrator{
		config:  cfg,
		migrate: m,
		logger:  logger.With(zap.String("component", "migrator"), zap.String("dialect", string(cfg.DatabaseType))),
	}, nil
}

func databaseDriver(db *sql.DB, cfg Config) (database.Driver, error) {
	switch cfg.DatabaseType {
	case DatabaseTypePostgres:
		return postgres.WithInstance(db, &postgres.Config{MigrationsTable: cfg.TableName})
	case DatabaseTypeSQLite:
		return sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: cfg.TableName})
	default:
		return nil, fmt.Errorf("unsupported database type: %q", cfg.DatabaseType)
	}
}

func migrationsDir(dbType DatabaseType) string {
	return path.Join("migrations", string(dbType))
}

// Up 应用全部待执行迁移
func (m *DefaultMigrator) Up(ctx context.Context) error {
	return m.run(ctx, "up", m.migrate.Up)
}

// Down 回滚最近一次迁移
func (m *DefaultMigrator) Down(ctx context.Context) error {
	return m.run(ctx, "down", func() error { return m.migrate.Steps(-1) })
}

// DownAll 回滚全部迁移
func (m *DefaultMigrator) DownAll(ctx context.Context) error {
	return m.run(ctx, "down all", m.migrate.Down)
}

// Goto 迁移到指定版本
func (m *DefaultMigrator) Goto(ctx context.Context, version uint) error {
	return m.run(ctx, "goto", func() error { return m.migrate.Migrate(version) })
}

// run 执行迁移动作，ErrNoChange 视为成功
func (m *DefaultMigrator) run(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	if err := fn(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration %s failed: %w", op, err)
	}
	version, dirty, _ := m.Version(ctx)
	m.logger.Info("migration finished",
		zap.String("op", op),
		zap.Uint("version", version),
		zap.Bool("dirty", dirty),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// Force 强制设置版本号
func (m *DefaultMigrator) Force(ctx context.Context, version int) error {
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("migration force failed: %w", err)
	}
	m.logger.Warn("migration version forced", zap.Int("version", version))
	return nil
}

// Version 返回当前版本. 尚未迁移时返回 0.
func (m *DefaultMigrator) Version(ctx context.Context) (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get version: %w", err)
	}
	return version, dirty, nil
}

// Status 返回所有内嵌迁移的状态
func (m *DefaultMigrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	files, err := AvailableMigrations(m.config.DatabaseType)
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(files))
	for _, f := range files {
		statuses = append(statuses, MigrationStatus{
			Version: f.Version,
			Name:    f.Name,
			Applied: f.Version <= current,
			Dirty:   dirty && f.Version == current,
		})
	}
	return statuses, nil
}

// Info 返回迁移摘要
func (m *DefaultMigrator) Info(ctx context.Context) (*MigrationInfo, error) {
	statuses, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}

	applied := 0
	for _, s := range statuses {
		if s.Applied {
			applied++
		}
	}
	return &MigrationInfo{
		CurrentVersion:    current,
		Dirty:             dirty,
		TotalMigrations:   len(statuses),
		AppliedMigrations: applied,
		PendingMigrations: len(statuses) - applied,
	}, nil
}

// Close 关闭迁移源与数据库
func (m *DefaultMigrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()
	return errors.Join(sourceErr, dbErr)
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MigrationFile 内嵌迁移文件描述
type MigrationFile struct {
	Version uint
	Name    string
}

// AvailableMigrations 列出方言下的内嵌迁移，按版本升序
func AvailableMigrations(dbType DatabaseType) ([]MigrationFile, error) {
	entries, err := fs.ReadDir(migrationsFS, migrationsDir(dbType))
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations for %q: %w", dbType, err)
	}

	seen := make(map[uint]bool)
	var files []MigrationFile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		// 000001_create_skills.up.sql
		prefix, rest, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(prefix, 10, 32)
		if err != nil || seen[uint(v)] {
			continue
		}
		seen[uint(v)] = true
		files = append(files, MigrationFile{
			Version: uint(v),
			Name:    strings.TrimSuffix(rest, ".up.sql"),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Version < files[j].Version })
	return files, nil
}

// ParseDatabaseType 解析方言名
func ParseDatabaseType(s string) (DatabaseType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pg":
		return DatabaseTypePostgres, nil
	case "sqlite", "sqlite3", "":
		return DatabaseTypeSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database type: %s", s)
	}
}

// ApplyAll 在共享连接上执行全部迁移. 不关闭 db，供 SQL 注册表存储启动时使用.
func ApplyAll(ctx context.Context, db *sql.DB, dbType DatabaseType, logger *zap.Logger) (uint, error) {
	m, err := NewMigrator(db, Config{DatabaseType: dbType}, logger)
	if err != nil {
		return 0, err
	}
	// m.Close 会关闭 db，这里只运行迁移
	if err := m.Up(ctx); err != nil {
		return 0, err
	}
	version, _, err := m.Version(ctx)
	return version, err
}
