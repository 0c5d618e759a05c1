package persistence

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryRegistryStore 进程内存储. 保存编码后的字节，读取时重新解码，
// 与其他后端的校验路径一致.
type MemoryRegistryStore struct {
	mu      sync.RWMutex
	primary []byte
	backup  []byte
	closed  bool
}

// NewMemoryRegistryStore 创建内存存储
func NewMemoryRegistryStore() *MemoryRegistryStore {
	return &MemoryRegistryStore{}
}

// Save 保存快照，旧主副本转为备份
func (s *MemoryRegistryStore) Save(ctx context.Context, snapshot *Snapshot) error {
	if err := snapshot.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if s.primary != nil {
		s.backup = s.primary
	}
	s.primary = data
	return nil
}

// Load 读取快照
func (s *MemoryRegistryStore) Load(ctx context.Context) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	if s.primary == nil {
		return nil, ErrRegistryNotFound
	}
	snap, err := decodeSnapshot(s.primary)
	if err == nil {
		snap.Source = SourcePrimary
		return snap, nil
	}
	if s.backup == nil {
		return nil, err
	}
	snap, err = decodeSnapshot(s.backup)
	if err != nil {
		return nil, err
	}
	snap.Source = SourceBackup
	return snap, nil
}

// Exists 主副本是否存在
func (s *MemoryRegistryStore) Exists(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.primary != nil, nil
}

// Invalidate 删除主副本
func (s *MemoryRegistryStore) Invalidate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.primary = nil
	return nil
}

// Ping 健康检查
func (s *MemoryRegistryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close 关闭存储
func (s *MemoryRegistryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// corrupt 覆盖主副本，仅测试使用
func (s *MemoryRegistryStore) corrupt(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.primary = data
}
