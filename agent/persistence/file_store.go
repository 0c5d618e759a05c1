package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// 文件名
const (
	RegistryFileName = "skill-registry.json"
	BackupFileName   = "skill-registry.backup.json"
)

// FileRegistryStore 基于文件的注册表存储，适合单机部署
type FileRegistryStore struct {
	dir      string
	primary  string
	backup   string
	mu       sync.Mutex
	closed   bool
	observer OperationObserver
	logger   *zap.Logger
	now      func() time.Time
}

// FileOption 文件存储选项
type FileOption func(*FileRegistryStore)

// WithFileObserver 设置操作观察者
func WithFileObserver(o OperationObserver) FileOption {
	return func(s *FileRegistryStore) {
		if o != nil {
			s.observer = o
		}
	}
}

// NewFileRegistryStore 创建文件存储，目录不存在时创建
func NewFileRegistryStore(dir string, logger *zap.Logger, opts ...FileOption) (*FileRegistryStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: cache directory is required", ErrInvalidInput)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create registry cache directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &FileRegistryStore{
		dir:      dir,
		primary:  filepath.Join(dir, RegistryFileName),
		backup:   filepath.Join(dir, BackupFileName),
		observer: nopObserver{},
		logger:   logger.With(zap.String("component", "registry_file_store")),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Paths 返回主文件与备份文件路径
func (s *FileRegistryStore) Paths() (primary, backup string) {
	return s.primary, s.backup
}

// Save 先把现有主文件复制为备份，再原子写入新主文件
func (s *FileRegistryStore) Save(ctx context.Context, snapshot *Snapshot) (err error) {
	start := time.Now()
	defer func() { observe(s.observer, "file", "save", start, err) }()

	if err := snapshot.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode registry snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	existing, err := os.ReadFile(s.primary)
	switch {
	case err == nil:
		if err := writeAtomic(s.backup, existing); err != nil {
			return fmt.Errorf("failed to write registry backup: %w", err)
		}
		s.logger.Debug("registry backup created", zap.String("file", s.backup))
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("failed to read registry file: %w", err)
	}

	if err := writeAtomic(s.primary, data); err != nil {
		return fmt.Errorf("failed to write registry file: %w", err)
	}
	s.logger.Info("registry saved",
		zap.String("file", s.primary),
		zap.Int("skills", len(snapshot.Skills)),
	)
	return nil
}

// Load 读取主文件；主文件损坏时回退到备份.
// 主文件不存在时不查看备份，直接返回 ErrRegistryNotFound.
func (s *FileRegistryStore) Load(ctx context.Context) (snap *Snapshot, err error) {
	start := time.Now()
	defer func() { observe(s.observer, "file", "load", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	snap, err = readSnapshot(s.primary)
	if err == nil {
		snap.Source = SourcePrimary
		s.logger.Info("registry loaded",
			zap.String("file", s.primary),
			zap.Int("skills", len(snap.Skills)),
			zap.Time("exported_at", snap.ExportedAt),
		)
		return snap, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrRegistryNotFound
	}

	s.logger.Warn("registry file unreadable, trying backup", zap.String("file", s.primary), zap.Error(err))
	backup, berr := readSnapshot(s.backup)
	if berr != nil {
		s.logger.Warn("registry backup unreadable", zap.String("file", s.backup), zap.Error(berr))
		return nil, fmt.Errorf("registry file and backup unusable: %w", errors.Join(err, berr))
	}
	backup.Source = SourceBackup
	s.logger.Info("registry restored from backup",
		zap.String("file", s.backup),
		zap.Int("skills", len(backup.Skills)),
	)
	return backup, nil
}

// Exists 主文件是否存在
func (s *FileRegistryStore) Exists(ctx context.Context) (bool, error) {
	_, err := os.Stat(s.primary)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// ModifiedTime 返回主文件修改时间，不存在时返回零值与 false
func (s *FileRegistryStore) ModifiedTime() (time.Time, bool) {
	info, err := os.Stat(s.primary)
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

// IsStale 主文件不存在或早于 maxAge 时返回 true
func (s *FileRegistryStore) IsStale(maxAge time.Duration) bool {
	mod, ok := s.ModifiedTime()
	if !ok {
		return true
	}
	return s.now().Sub(mod) > maxAge
}

// Invalidate 删除主文件
func (s *FileRegistryStore) Invalidate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.primary); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove registry file: %w", err)
	}
	s.logger.Info("registry cache invalidated", zap.String("file", s.primary))
	return nil
}

// Ping 检查目录可用
func (s *FileRegistryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrStoreClosed
	}
	info, err := os.Stat(s.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", s.dir)
	}
	return nil
}

// Close 关闭存储
func (s *FileRegistryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func readSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decodeSnapshot(data)
}

func decodeSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode registry snapshot: %w", err)
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return &snap, nil
}

// writeAtomic 写入临时文件后重命名
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
