package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/skillflow/testutil"
	"github.com/BaSui01/skillflow/testutil/fixtures"
)

// =============================================================================
// 🧪 测试辅助
// =============================================================================

// cliEnv 技能目录与只用内存后端的配置文件
type cliEnv struct {
	root   string
	config string
}

func newCLIEnv(t *testing.T, specs ...testutil.SkillSpec) cliEnv {
	t.Helper()
	root := t.TempDir()
	for _, spec := range specs {
		testutil.WriteSkillDir(t, root, spec)
	}
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	testutil.WriteFile(t, cfgPath, "persistence:\n  backend: memory\n")
	return cliEnv{root: root, config: cfgPath}
}

// run 以全新根命令执行一次，返回标准输出
func (e cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	base := []string{"--config", e.config, "--skills-dir", e.root, "--env-file", filepath.Join(e.root, "missing.env")}

	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append(base, args...))
	err := cmd.ExecuteContext(testutil.TestContext(t))
	return stdout.String(), err
}

// =============================================================================
// 🧪 查询命令
// =============================================================================

func TestListCmd(t *testing.T) {
	env := newCLIEnv(t, fixtures.AllSkillSpecs()...)

	out, err := env.run(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	for _, name := range []string{"app", "service", "storage", "react-review", "css-audit"} {
		assert.Contains(t, out, name)
	}

	_, err = env.run(t, "list", "--status", "sleeping")
	assert.ErrorContains(t, err, "invalid --status")
}

func TestListCmd_JSON(t *testing.T) {
	env := newCLIEnv(t, fixtures.ChainSkillSpecs()...)

	out, err := env.run(t, "--json", "list", "--status", "inactive")
	require.NoError(t, err)

	var resp struct {
		Success bool             `json:"success"`
		Data    []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	assert.True(t, resp.Success)
	assert.Len(t, resp.Data, 3)
}

func TestSearchAndSuggestCmd(t *testing.T) {
	env := newCLIEnv(t, fixtures.ReviewSkillSpecs()...)

	out, err := env.run(t, "search", "react", "review")
	require.NoError(t, err)
	assert.Contains(t, out, "react-review")
	assert.NotContains(t, out, "css-audit")

	out, err = env.run(t, "search", "--exact", "quantum")
	require.NoError(t, err)
	assert.Contains(t, out, "No matching skills.")

	out, err = env.run(t, "suggest", "rev", "-n", "3")
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}

// =============================================================================
// 🧪 激活与执行链
// =============================================================================

func TestActivateCmd(t *testing.T) {
	env := newCLIEnv(t, fixtures.ChainSkillSpecs()...)

	out, err := env.run(t, "activate", "app", "--chain", "--task", "ship it")
	require.NoError(t, err)
	assert.Contains(t, out, "app")
	assert.Contains(t, out, "storage")
	assert.Contains(t, out, "Task: ship it")
	assert.Contains(t, out, "1. storage")
	assert.Contains(t, out, "3. app (after service)")
}

func TestActivateCmd_Arguments(t *testing.T) {
	env := newCLIEnv(t, fixtures.ChainSkillSpecs()...)

	_, err := env.run(t, "activate")
	assert.ErrorContains(t, err, "pass either skill names or --keywords")

	_, err = env.run(t, "activate", "app", "--keywords", "database")
	assert.ErrorContains(t, err, "pass either skill names or --keywords")

	_, err = env.run(t, "activate", "ghost")
	assert.Error(t, err)
}

func TestActivateCmd_Cycle(t *testing.T) {
	env := newCLIEnv(t, fixtures.CycleSkillSpecs()...)

	_, err := env.run(t, "activate", "ping")
	assert.Error(t, err)
}

func TestChainCmd(t *testing.T) {
	env := newCLIEnv(t, fixtures.ChainSkillSpecs()...)

	out, err := env.run(t, "chain", "service")
	require.NoError(t, err)
	assert.Contains(t, out, "1. storage")
	assert.Contains(t, out, "2. service (after storage)")
	assert.NotContains(t, out, "app")

	_, err = env.run(t, "chain", "ghost")
	assert.Error(t, err)
}

// =============================================================================
// 🧪 上下文
// =============================================================================

func TestContextCmd(t *testing.T) {
	env := newCLIEnv(t, fixtures.ReviewSkillSpecs()...)

	out, err := env.run(t, "context", "react-review")
	require.NoError(t, err)
	assert.Contains(t, out, "Check hooks usage.")
	assert.Contains(t, out, "useEffect cleanup.")

	out, err = env.run(t, "context", "react-review", "--no-examples", "--optimize", "1000")
	require.NoError(t, err)
	assert.Contains(t, out, "Check hooks usage.")
	assert.NotContains(t, out, "useEffect cleanup.")
}

// =============================================================================
// 🧪 校验与同步
// =============================================================================

func TestValidateCmd(t *testing.T) {
	env := newCLIEnv(t, fixtures.ChainSkillSpecs()...)

	dir := filepath.Join(env.root, "storage")
	out, err := env.run(t, "validate", dir)
	require.NoError(t, err)
	assert.Contains(t, out, dir+": valid")

	_, err = env.run(t, "validate", filepath.Join(env.root, "ghost"))
	assert.Error(t, err)
}

func TestSyncCmd(t *testing.T) {
	env := newCLIEnv(t, fixtures.ChainSkillSpecs()...)

	out, err := env.run(t, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "saved 3 skills to memory")
}

// =============================================================================
// 🧪 版本、健康检查与迁移
// =============================================================================

func TestVersionCmd(t *testing.T) {
	out, err := newCLIEnv(t).run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "SkillFlow "+Version)
	assert.Contains(t, out, "Git Commit: "+GitCommit)
}

func TestHealthCmd(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/readyz" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(int(status.Load()))
	}))
	t.Cleanup(srv.Close)
	env := newCLIEnv(t)

	out, err := env.run(t, "health", "--addr", srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, "OK\n", out)

	status.Store(http.StatusServiceUnavailable)
	_, err = env.run(t, "health", "--addr", srv.URL)
	assert.ErrorContains(t, err, "status 503")
}

func TestMigrateCmd_SQLite(t *testing.T) {
	env := newCLIEnv(t)
	dsn := filepath.Join(t.TempDir(), "registry.db")
	db := []string{"--db-type", "sqlite", "--dsn", dsn}

	out, err := env.run(t, append([]string{"migrate", "version"}, db...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "No migrations applied yet.")

	out, err = env.run(t, append([]string{"migrate", "up"}, db...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Current version: 2")

	out, err = env.run(t, append([]string{"migrate", "status"}, db...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Total: 2, Applied: 2, Pending: 0")

	out, err = env.run(t, append([]string{"migrate", "goto", "1"}, db...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Current version: 1")

	out, err = env.run(t, append([]string{"migrate", "down", "--all"}, db...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Current version: 0")

	_, err = env.run(t, append([]string{"migrate", "force", "abc"}, db...)...)
	assert.ErrorContains(t, err, "invalid version")
}
