package migration

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/BaSui01/skillflow/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(database.Config{
		Driver: database.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "registry.db"),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return sqlDB
}

func newSQLiteMigrator(t *testing.T) *DefaultMigrator {
	t.Helper()
	m, err := NewMigrator(openSQLite(t), Config{DatabaseType: DatabaseTypeSQLite}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	require.NoError(t, err)
	return n == 1
}

func TestParseDatabaseType(t *testing.T) {
	tests := []struct {
		in      string
		want    DatabaseType
		wantErr bool
	}{
		{"postgres", DatabaseTypePostgres, false},
		{"PostgreSQL", DatabaseTypePostgres, false},
		{"pg", DatabaseTypePostgres, false},
		{"sqlite3", DatabaseTypeSQLite, false},
		{"", DatabaseTypeSQLite, false},
		{"mysql", "", true},
	}
	for _, tt := range tests {
		got, err := ParseDatabaseType(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestAvailableMigrations(t *testing.T) {
	for _, dbType := range []DatabaseType{DatabaseTypeSQLite, DatabaseTypePostgres} {
		files, err := AvailableMigrations(dbType)
		require.NoError(t, err)
		assert.Equal(t, []MigrationFile{
			{Version: 1, Name: "create_skills"},
			{Version: 2, Name: "create_registry_snapshots"},
		}, files, dbType)
	}

	_, err := AvailableMigrations("mysql")
	assert.Error(t, err)
}

func TestNewMigrator_InvalidInput(t *testing.T) {
	_, err := NewMigrator(nil, Config{DatabaseType: DatabaseTypeSQLite}, nil)
	assert.Error(t, err)

	_, err = NewMigrator(openSQLite(t), Config{DatabaseType: "oracle"}, nil)
	assert.Error(t, err)
}

func TestMigrator_SQLite_UpDown(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	m, err := NewMigrator(db, Config{DatabaseType: DatabaseTypeSQLite}, zap.NewNop())
	require.NoError(t, err)
	defer m.Close()

	version, dirty, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)

	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Up(ctx)) // 无变更不报错

	info, err := m.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, &MigrationInfo{
		CurrentVersion:    2,
		TotalMigrations:   2,
		AppliedMigrations: 2,
	}, info)
	assert.True(t, tableExists(t, db, "skills"))
	assert.True(t, tableExists(t, db, "registry_snapshots"))

	require.NoError(t, m.Down(ctx))
	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, []MigrationStatus{
		{Version: 1, Name: "create_skills", Applied: true},
		{Version: 2, Name: "create_registry_snapshots", Applied: false},
	}, statuses)
	assert.False(t, tableExists(t, db, "registry_snapshots"))

	require.NoError(t, m.DownAll(ctx))
	assert.False(t, tableExists(t, db, "skills"))

	require.NoError(t, m.Goto(ctx, 2))
	version, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestMigrator_CanceledContext(t *testing.T) {
	m := newSQLiteMigrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Up(ctx), context.Canceled)
}

func TestApplyAll_KeepsConnectionOpen(t *testing.T) {
	db := openSQLite(t)
	defer db.Close()

	version, err := ApplyAll(context.Background(), db, DatabaseTypeSQLite, nil)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.NoError(t, db.Ping())
	assert.True(t, tableExists(t, db, "skills"))
}

func TestCLI_Output(t *testing.T) {
	ctx := context.Background()
	cli := NewCLI(newSQLiteMigrator(t))
	var out bytes.Buffer
	cli.SetOutput(&out)

	require.NoError(t, cli.RunVersion(ctx))
	assert.Contains(t, out.String(), "No migrations applied yet")
	assert.Contains(t, out.String(), "Registry store: unavailable, requires schema version 2")

	out.Reset()
	require.NoError(t, cli.RunUp(ctx))
	assert.Contains(t, out.String(), "Current version: 2")
	assert.Contains(t, out.String(), "Registry store: ready")

	out.Reset()
	require.NoError(t, cli.RunStatus(ctx))
	assert.Regexp(t, `000001\s+create_skills\s+skills\s+applied`, out.String())
	assert.Regexp(t, `000002\s+create_registry_snapshots\s+registry_snapshots\s+applied`, out.String())
	assert.Contains(t, out.String(), "Total: 2, Applied: 2, Pending: 0")

	out.Reset()
	require.NoError(t, cli.RunDown(ctx))
	assert.Contains(t, out.String(), "Rollback complete. Current version: 1")
	assert.Contains(t, out.String(), "Registry store: unavailable")
}

func TestRegistrySchemaVersion_IsLatestMigration(t *testing.T) {
	for _, dbType := range []DatabaseType{DatabaseTypeSQLite, DatabaseTypePostgres} {
		files, err := AvailableMigrations(dbType)
		require.NoError(t, err)
		require.NotEmpty(t, files)
		assert.Equal(t, RegistrySchemaVersion, files[len(files)-1].Version, dbType)
		for _, f := range files {
			assert.Contains(t, migrationTables, f.Name, "migration %s has no table entry", f.Name)
		}
	}
}

func TestRegistryStoreState(t *testing.T) {
	assert.Equal(t, "ready", RegistryStoreState(RegistrySchemaVersion, false))
	assert.Contains(t, RegistryStoreState(1, false), "run migrate up")
	assert.Contains(t, RegistryStoreState(RegistrySchemaVersion, true), "dirty")
}

func TestCLI_GotoAndReset(t *testing.T) {
	ctx := context.Background()
	cli := NewCLI(newSQLiteMigrator(t))
	var out bytes.Buffer
	cli.SetOutput(&out)

	require.NoError(t, cli.RunGoto(ctx, 1))
	assert.Contains(t, out.String(), "Current version: 1")

	out.Reset()
	require.NoError(t, cli.RunUp(ctx))
	assert.Contains(t, out.String(), "Current version: 2")

	out.Reset()
	require.NoError(t, cli.RunReset(ctx))
	assert.Contains(t, out.String(), "Reset complete. Current version: 0")
}
