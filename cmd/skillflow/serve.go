package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/skillflow"
	"github.com/BaSui01/skillflow/api/handlers"
	"github.com/BaSui01/skillflow/config"
	"github.com/BaSui01/skillflow/internal/metrics"
	"github.com/BaSui01/skillflow/internal/server"
	"github.com/BaSui01/skillflow/internal/telemetry"
)

// =============================================================================
// 🚀 serve
// =============================================================================

func newServeCmd(opts *globalOptions) *cobra.Command {
	var addr, tlsCert, tlsKey string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger := initLogger(cfg.Log)
			defer func() { _ = logger.Sync() }()

			return serve(cmd.Context(), cfg, serveOptions{addr: addr, tlsCert: tlsCert, tlsKey: tlsKey}, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default :<server.http_port>)")
	cmd.Flags().StringVar(&tlsCert, "tls-cert", "", "serve HTTPS with this certificate file (overrides server.tls_cert_file)")
	cmd.Flags().StringVar(&tlsKey, "tls-key", "", "private key for --tls-cert")
	cmd.MarkFlagsRequiredTogether("tls-cert", "tls-key")
	return cmd
}

// serveOptions 命令行对监听方式的覆盖
type serveOptions struct {
	addr    string
	tlsCert string
	tlsKey  string
}

// serve 按依赖顺序启动各组件，ctx 结束后逆序关闭
func serve(ctx context.Context, cfg *config.Config, opts serveOptions, logger *zap.Logger) error {
	logger.Info("starting skillflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	providers, err := telemetry.Init(telemetryConfig(cfg), logger)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector("skillflow", reg, logger)

	sys, err := skillflow.New(cfg, skillflow.WithLogger(logger), skillflow.WithMetrics(collector))
	if err != nil {
		return err
	}
	defer func() {
		if err := sys.Close(); err != nil {
			logger.Warn("close skill system failed", zap.Error(err))
		}
	}()
	if err := sys.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize skill system: %w", err)
	}

	// 限流器清理协程随服务退出
	rateCtx, cancelRate := context.WithCancel(ctx)
	defer cancelRate()

	handler := newHTTPHandler(sys, cfg, reg, collector, logger, rateCtx)

	serverCfg := cfg.HTTPServerConfig()
	if opts.addr != "" {
		serverCfg.Addr = opts.addr
	}
	if opts.tlsCert != "" {
		serverCfg.TLSCertFile, serverCfg.TLSKeyFile = opts.tlsCert, opts.tlsKey
	}

	manager := server.NewManager(handler, serverCfg, logger)
	manager.OnShutdown("skill system", func(context.Context) error { return sys.Close() })
	if cfg.Persistence.Enabled && cfg.Skills.Enabled {
		manager.OnShutdown("registry snapshot", func(ctx context.Context) error {
			return sys.SaveRegistry(ctx).Err()
		})
	}
	return manager.Run(ctx)
}

// telemetryConfig 导出端点与采样来自 telemetry 段，资源属性标明技能目录与注册表后端
func telemetryConfig(cfg *config.Config) telemetry.Config {
	backend := "none"
	if cfg.Persistence.Enabled {
		backend = cfg.Persistence.Backend
	}
	return telemetry.Config{
		Enabled:         cfg.Telemetry.Enabled,
		Endpoint:        cfg.Telemetry.OTLPEndpoint,
		SampleRate:      cfg.Telemetry.SampleRate,
		ServiceName:     cfg.Telemetry.ServiceName,
		ExportMetrics:   cfg.Telemetry.ExportMetrics,
		SkillsDirectory: cfg.Skills.Directory,
		RegistryBackend: backend,
		MaxActiveSkills: cfg.Performance.MaxActiveSkills,
	}
}

// newHTTPHandler 注册全部路由并套上中间件链
func newHTTPHandler(
	sys *skillflow.System,
	cfg *config.Config,
	reg *prometheus.Registry,
	collector *metrics.Collector,
	logger *zap.Logger,
	rateCtx context.Context,
) http.Handler {
	mux := http.NewServeMux()

	health := handlers.NewHealthHandler(logger)
	health.RegisterSystemChecks(sys)
	mux.HandleFunc("GET /healthz", health.HandleHealthz)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.HandleFunc("GET /readyz", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion(Version, BuildTime, GitCommit))

	metricsPath := cfg.Server.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	mux.Handle("GET "+metricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	handlers.NewSkillsHandler(sys, logger).Register(mux)

	return Chain(mux,
		Recovery(logger),
		RequestID(),
		SessionID(sys.SessionID()),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(collector),
		RequestLogger(logger),
		RateLimiter(rateCtx, cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, logger),
	)
}
