// =============================================================================
// 🗄️ Mock 注册表存储
// =============================================================================
// 内存实现的 persistence.RegistryStore，支持错误注入与调用计数
//
// 使用方法:
//
//	store := mocks.NewMockRegistryStore().WithLoadError(errors.New("boom"))
//
// =============================================================================
package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/skillflow/agent/persistence"
)

// MockRegistryStore 注册表存储 Mock
type MockRegistryStore struct {
	mu       sync.Mutex
	snapshot *persistence.Snapshot

	saveErr error
	loadErr error
	pingErr error

	saves  int
	loads  int
	closed bool
}

var _ persistence.RegistryStore = (*MockRegistryStore)(nil)

// NewMockRegistryStore 创建空存储
func NewMockRegistryStore() *MockRegistryStore {
	return &MockRegistryStore{}
}

// WithSnapshot 预置快照
func (m *MockRegistryStore) WithSnapshot(snap *persistence.Snapshot) *MockRegistryStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = snap
	return m
}

// WithSaveError 设置 Save 返回的错误
func (m *MockRegistryStore) WithSaveError(err error) *MockRegistryStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
	return m
}

// WithLoadError 设置 Load 返回的错误
func (m *MockRegistryStore) WithLoadError(err error) *MockRegistryStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadErr = err
	return m
}

// WithPingError 设置 Ping 返回的错误
func (m *MockRegistryStore) WithPingError(err error) *MockRegistryStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
	return m
}

// Save 保存快照
func (m *MockRegistryStore) Save(_ context.Context, snap *persistence.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.snapshot = snap
	return nil
}

// Load 读取快照
func (m *MockRegistryStore) Load(context.Context) (*persistence.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.snapshot == nil {
		return nil, persistence.ErrRegistryNotFound
	}
	snap := *m.snapshot
	snap.Source = persistence.SourcePrimary
	return &snap, nil
}

// Exists 是否已有快照
func (m *MockRegistryStore) Exists(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot != nil, nil
}

// Invalidate 删除快照
func (m *MockRegistryStore) Invalidate(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = nil
	return nil
}

// Ping 健康检查
func (m *MockRegistryStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingErr
}

// Close 标记关闭
func (m *MockRegistryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Saves Save 调用次数
func (m *MockRegistryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Loads Load 调用次数
func (m *MockRegistryStore) Loads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads
}

// Closed 是否已关闭
func (m *MockRegistryStore) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Snapshot 当前快照
func (m *MockRegistryStore) Snapshot() *persistence.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}
