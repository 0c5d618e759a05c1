// =============================================================================
// SkillFlow 命令行入口
// =============================================================================
// 使用方法:
//
//	skillflow list                          # 列出已发现的技能
//	skillflow search "react review"         # 关键词检索
//	skillflow activate app --chain          # 激活技能并输出执行链
//	skillflow context react-review          # 输出组装后的上下文
//	skillflow serve --config config.yaml    # 启动 HTTP 服务
//	skillflow migrate up                    # 执行注册表迁移
// =============================================================================

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/skillflow"
	"github.com/BaSui01/skillflow/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// =============================================================================
// 🌳 根命令
// =============================================================================

// globalOptions 所有子命令共享的参数
type globalOptions struct {
	configPath string
	envFiles   []string
	skillsDir  string
	verbose    bool
	jsonOutput bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "skillflow",
		Short: "SkillFlow - skill discovery, activation and context assembly",
		Long: `SkillFlow 发现技能目录中的 SKILL.yaml / SKILL.md，按依赖激活技能，
并把活跃技能与引导规则组装为受 token 预算约束的上下文。

示例:
  skillflow list
  skillflow search "component review"
  skillflow activate app --chain
  skillflow context react-review --max-tokens 4000
  skillflow serve --config /etc/skillflow/config.yaml`,
		Version:       fmt.Sprintf("%s (built %s, commit %s)", Version, BuildTime, GitCommit),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to YAML config file")
	flags.StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, ".env files loaded before the environment")
	flags.StringVarP(&opts.skillsDir, "skills-dir", "d", "", "override skills.directory")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging to stderr")
	flags.BoolVar(&opts.jsonOutput, "json", false, "print machine readable JSON")

	root.AddCommand(
		newListCmd(opts),
		newSearchCmd(opts),
		newSuggestCmd(opts),
		newActivateCmd(opts),
		newChainCmd(opts),
		newContextCmd(opts),
		newValidateCmd(opts),
		newSyncCmd(opts),
		newServeCmd(opts),
		newMigrateCmd(opts),
		newHealthCmd(),
		newVersionCmd(),
	)
	return root
}

// =============================================================================
// 🔧 共享辅助
// =============================================================================

// loadConfig 默认值 → YAML → .env → 环境变量，最后应用命令行覆盖
func (o *globalOptions) loadConfig() (*config.Config, error) {
	loader := config.NewLoader().WithEnvFiles(o.envFiles...)
	if o.configPath != "" {
		loader = loader.WithConfigPath(o.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if o.skillsDir != "" {
		cfg.Skills.Directory = o.skillsDir
	}
	return cfg, nil
}

// cliLogger 一次性命令只把警告写到 stderr，--verbose 时输出调试日志
func (o *globalOptions) cliLogger() *zap.Logger {
	cfg := config.DefaultLogConfig()
	cfg.Format = "console"
	cfg.OutputPaths = []string{"stderr"}
	cfg.Level = "warn"
	if o.verbose {
		cfg.Level = "debug"
	}
	return initLogger(cfg)
}

// openSystem 加载配置、创建并初始化 System. 调用方负责 Close.
func (o *globalOptions) openSystem(ctx context.Context, extra ...skillflow.Option) (*skillflow.System, *zap.Logger, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := o.cliLogger()

	sys, err := skillflow.New(cfg, append([]skillflow.Option{skillflow.WithLogger(logger)}, extra...)...)
	if err != nil {
		return nil, nil, err
	}
	if err := sys.Initialize(ctx); err != nil {
		_ = sys.Close()
		return nil, nil, err
	}
	return sys, logger, nil
}

// initLogger 按日志配置构建 zap logger，失败时回退到 production 配置
func initLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

// =============================================================================
// 🏥 健康检查与版本
// =============================================================================

func newHealthCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check a running server's readiness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(addr, "/")+"/readyz", nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("health check failed: status %d", resp.StatusCode)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "server base URL")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "SkillFlow %s\n", Version)
			fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
			fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
		},
	}
}
