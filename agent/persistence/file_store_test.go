package persistence

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BaSui01/skillflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newFileStore(t *testing.T, opts ...FileOption) *FileRegistryStore {
	t.Helper()
	s, err := NewFileRegistryStore(filepath.Join(t.TempDir(), ".skills-cache"), zap.NewNop(), opts...)
	require.NoError(t, err)
	return s
}

func TestFileStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	rec := &storeRecorder{}
	s := newFileStore(t, WithFileObserver(rec))

	_, err := s.Load(ctx)
	assert.ErrorIs(t, err, ErrRegistryNotFound)

	require.NoError(t, s.Save(ctx, NewSnapshot(sampleSkills(), fixedTime)))
	primary, backup := s.Paths()
	assert.FileExists(t, primary)
	assert.NoFileExists(t, backup)

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourcePrimary, snap.Source)
	assert.Len(t, snap.Skills, 2)
	assert.Equal(t, fixedTime, snap.Skills[0].LastModified)

	raw, err := os.ReadFile(primary)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "1.0.0", doc["version"])
	assert.Contains(t, doc, "exportedAt")

	assert.Equal(t, []string{"file:load", "file:save", "file:load"}, rec.calls)
	assert.Zero(t, rec.fails)
}

func TestFileStore_BackupOnOverwrite(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)

	require.NoError(t, s.Save(ctx, NewSnapshot(sampleSkills()[:1], fixedTime)))
	require.NoError(t, s.Save(ctx, NewSnapshot(sampleSkills(), fixedTime)))

	_, backup := s.Paths()
	snap, err := readSnapshot(backup)
	require.NoError(t, err)
	assert.Len(t, snap.Skills, 1)
}

func TestFileStore_CorruptPrimaryUsesBackup(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)
	require.NoError(t, s.Save(ctx, NewSnapshot(sampleSkills()[:1], fixedTime)))
	require.NoError(t, s.Save(ctx, NewSnapshot(sampleSkills(), fixedTime)))

	primary, _ := s.Paths()
	require.NoError(t, os.WriteFile(primary, []byte(`{"version":"1.0.0"`), 0o644))

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceBackup, snap.Source)
	assert.Len(t, snap.Skills, 1)
}

func TestFileStore_InvalidPrimaryWithoutBackup(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)
	primary, _ := s.Paths()
	require.NoError(t, os.WriteFile(primary, []byte(`{"version":"1.0.0","exportedAt":"2024-05-01T12:00:00Z"}`), 0o644))

	_, err := s.Load(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRegistryNotFound)
	assert.True(t, types.IsCode(err, types.ErrInvalidRegistryData))
}

func TestFileStore_MissingPrimaryIgnoresBackup(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)
	require.NoError(t, s.Save(ctx, NewSnapshot(sampleSkills(), fixedTime)))
	require.NoError(t, s.Save(ctx, NewSnapshot(sampleSkills(), fixedTime)))

	require.NoError(t, s.Invalidate(ctx))
	ok, err := s.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Load(ctx)
	assert.ErrorIs(t, err, ErrRegistryNotFound)
}

func TestFileStore_RejectsInvalidSnapshot(t *testing.T) {
	s := newFileStore(t)
	snap := NewSnapshot(sampleSkills(), fixedTime)
	snap.Skills[0].Path = ""

	err := s.Save(context.Background(), snap)
	assert.True(t, types.IsCode(err, types.ErrInvalidRegistryData))
	primary, _ := s.Paths()
	assert.NoFileExists(t, primary)
}

func TestFileStore_IsStale(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)
	assert.True(t, s.IsStale(time.Hour))

	require.NoError(t, s.Save(ctx, NewSnapshot(sampleSkills(), fixedTime)))
	assert.False(t, s.IsStale(time.Hour))

	mod, ok := s.ModifiedTime()
	require.True(t, ok)
	s.now = func() time.Time { return mod.Add(2 * time.Hour) }
	assert.True(t, s.IsStale(time.Hour))
}

func TestFileStore_Closed(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Ping(ctx), ErrStoreClosed)
	assert.ErrorIs(t, s.Save(ctx, NewSnapshot(sampleSkills(), fixedTime)), ErrStoreClosed)
	_, err := s.Load(ctx)
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestNewFileRegistryStore_RequiresDir(t *testing.T) {
	_, err := NewFileRegistryStore("", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
