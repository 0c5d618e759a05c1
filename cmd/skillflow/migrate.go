package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/BaSui01/skillflow/internal/database"
	"github.com/BaSui01/skillflow/internal/migration"
)

// =============================================================================
// 🗃️ migrate
// =============================================================================

func newMigrateCmd(opts *globalOptions) *cobra.Command {
	var dbType, dsn string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the SQL registry schema",
		Long: `管理 SQL 注册表存储的表结构. 连接参数默认来自 database 配置段，
可用 --db-type / --dsn 覆盖.

示例:
  skillflow migrate up
  skillflow migrate status --config /etc/skillflow/config.yaml
  skillflow migrate down
  skillflow migrate goto 1
  skillflow migrate force 0`,
	}
	cmd.PersistentFlags().StringVar(&dbType, "db-type", "", "database type: sqlite, postgres (default from config)")
	cmd.PersistentFlags().StringVar(&dsn, "dsn", "", "database connection string (default from config)")

	// withCLI 打开数据库、构建迁移器并在结束后关闭
	withCLI := func(run func(ctx context.Context, cli *migration.CLI) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			m, err := opts.openMigrator(cmd.Context(), dbType, dsn)
			if err != nil {
				return err
			}
			defer func() { _ = m.Close() }()

			cli := migration.NewCLI(m)
			cli.SetOutput(cmd.OutOrStdout())
			return run(cmd.Context(), cli)
		}
	}

	var all bool
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the last migration",
		Args:  cobra.NoArgs,
		RunE: withCLI(func(ctx context.Context, cli *migration.CLI) error {
			if all {
				return cli.RunReset(ctx)
			}
			return cli.RunDown(ctx)
		}),
	}
	down.Flags().BoolVar(&all, "all", false, "roll back every migration")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE:  withCLI(func(ctx context.Context, cli *migration.CLI) error { return cli.RunUp(ctx) }),
		},
		down,
		&cobra.Command{
			Use:   "status",
			Short: "Show migration status",
			Args:  cobra.NoArgs,
			RunE:  withCLI(func(ctx context.Context, cli *migration.CLI) error { return cli.RunStatus(ctx) }),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show the current schema version",
			Args:  cobra.NoArgs,
			RunE:  withCLI(func(ctx context.Context, cli *migration.CLI) error { return cli.RunVersion(ctx) }),
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Roll back every migration",
			Args:  cobra.NoArgs,
			RunE:  withCLI(func(ctx context.Context, cli *migration.CLI) error { return cli.RunReset(ctx) }),
		},
		newMigrateVersionArgCmd("goto <version>", "Migrate to a specific version", opts, &dbType, &dsn,
			func(ctx context.Context, cli *migration.CLI, v int) error {
				if v < 0 {
					return fmt.Errorf("version must not be negative: %d", v)
				}
				return cli.RunGoto(ctx, uint(v))
			}),
		newMigrateVersionArgCmd("force <version>", "Force the recorded version without migrating (use with caution)", opts, &dbType, &dsn,
			func(ctx context.Context, cli *migration.CLI, v int) error { return cli.RunForce(ctx, v) }),
	)
	return cmd
}

// newMigrateVersionArgCmd 带一个版本号参数的子命令
func newMigrateVersionArgCmd(
	use, short string,
	opts *globalOptions,
	dbType, dsn *string,
	run func(ctx context.Context, cli *migration.CLI, version int) error,
) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", args[0], err)
			}
			m, err := opts.openMigrator(cmd.Context(), *dbType, *dsn)
			if err != nil {
				return err
			}
			defer func() { _ = m.Close() }()

			cli := migration.NewCLI(m)
			cli.SetOutput(cmd.OutOrStdout())
			return run(cmd.Context(), cli, version)
		},
	}
}

// openMigrator 按配置打开数据库. 迁移器接管连接，Close 时一并关闭.
func (o *globalOptions) openMigrator(ctx context.Context, dbType, dsn string) (*migration.DefaultMigrator, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	if dbType != "" {
		cfg.Database.Driver = dbType
	}
	if dsn == "" {
		dsn = cfg.Database.DSN()
	}

	parsed, err := migration.ParseDatabaseType(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}

	db, err := database.Open(database.Config{Driver: cfg.Database.Driver, DSN: dsn})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s database: %w", cfg.Database.Driver, err)
	}

	m, err := migration.NewMigrator(sqlDB, migration.Config{DatabaseType: parsed}, o.cliLogger())
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return m, nil
}
