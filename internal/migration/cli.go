package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
)

// RegistrySchemaVersion SQL 注册表存储读写 skills 与 registry_snapshots，
// 低于该版本时保存注册表会失败.
const RegistrySchemaVersion uint = 2

// migrationTables 每个迁移创建的注册表表
var migrationTables = map[string]string{
	"create_skills":             "skills",
	"create_registry_snapshots": "registry_snapshots",
}

// CLI skillflow migrate 子命令的终端输出. 每次变更后报告注册表存储能否使用当前 Schema.
type CLI struct {
	migrator Migrator
	output   io.Writer
}

// NewCLI 创建 CLI
func NewCLI(migrator Migrator) *CLI {
	return &CLI{migrator: migrator, output: os.Stdout}
}

// SetOutput 设置输出
func (c *CLI) SetOutput(w io.Writer) {
	c.output = w
}

// RunUp 应用全部迁移
func (c *CLI) RunUp(ctx context.Context) error {
	fmt.Fprintln(c.output, "Applying registry schema migrations...")
	if err := c.migrator.Up(ctx); err != nil {
		return err
	}
	return c.report(ctx, "Schema up to date.")
}

// RunDown 回滚最近一次迁移
func (c *CLI) RunDown(ctx context.Context) error {
	fmt.Fprintln(c.output, "Rolling back last migration...")
	if err := c.migrator.Down(ctx); err != nil {
		return err
	}
	return c.report(ctx, "Rollback complete.")
}

// RunGoto 迁移到指定版本
func (c *CLI) RunGoto(ctx context.Context, version uint) error {
	if err := c.migrator.Goto(ctx, version); err != nil {
		return err
	}
	return c.report(ctx, "Migration complete.")
}

// RunReset 回滚全部迁移. 注册表快照随 registry_snapshots 一并删除.
func (c *CLI) RunReset(ctx context.Context) error {
	fmt.Fprintln(c.output, "Rolling back all migrations (stored registry snapshots are dropped)...")
	if err := c.migrator.DownAll(ctx); err != nil {
		return err
	}
	return c.report(ctx, "Reset complete.")
}

// RunForce 强制设置版本
func (c *CLI) RunForce(ctx context.Context, version int) error {
	if err := c.migrator.Force(ctx, version); err != nil {
		return err
	}
	fmt.Fprintf(c.output, "Version forced to %d\n", version)
	return nil
}

// RunVersion 输出当前版本与注册表存储状态
func (c *CLI) RunVersion(ctx context.Context) error {
	version, _, err := c.migrator.Version(ctx)
	if err != nil {
		return err
	}
	if version == 0 {
		fmt.Fprintln(c.output, "No migrations applied yet.")
	}
	return c.report(ctx, "")
}

// RunStatus 以表格输出所有迁移及其创建的表
func (c *CLI) RunStatus(ctx context.Context) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		fmt.Fprintln(c.output, "No migrations found.")
		return nil
	}

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tTABLE\tSTATUS")
	for _, s := range statuses {
		status := "pending"
		switch {
		case s.Dirty:
			status = "dirty"
		case s.Applied:
			status = "applied"
		}
		table := migrationTables[s.Name]
		if table == "" {
			table = "-"
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\t%s\n", s.Version, s.Name, table, status)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.output, "\nTotal: %d, Applied: %d, Pending: %d\n",
		info.TotalMigrations, info.AppliedMigrations, info.PendingMigrations)
	return c.report(ctx, "")
}

// report 输出当前版本，以及 SQL 注册表存储在该版本下是否可用
func (c *CLI) report(ctx context.Context, prefix string) error {
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return err
	}
	if prefix != "" {
		fmt.Fprint(c.output, prefix+" ")
	}
	fmt.Fprintf(c.output, "Current version: %d", version)
	if dirty {
		fmt.Fprint(c.output, " (dirty)")
	}
	fmt.Fprintln(c.output)
	fmt.Fprintln(c.output, "Registry store: "+RegistryStoreState(version, dirty))
	return nil
}

// RegistryStoreState 描述 SQL 注册表存储能否使用给定版本的 Schema
func RegistryStoreState(version uint, dirty bool) string {
	switch {
	case dirty:
		return fmt.Sprintf("unavailable, schema version %d is dirty (fix it, then run migrate force)", version)
	case version < RegistrySchemaVersion:
		return fmt.Sprintf("unavailable, requires schema version %d (run migrate up)", RegistrySchemaVersion)
	default:
		return "ready"
	}
}
