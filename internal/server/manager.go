package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/BaSui01/skillflow/internal/tlsutil"
	"go.uber.org/zap"
)

// =============================================================================
// 🌐 HTTP 服务器管理器
// =============================================================================

// ErrServerClosed 服务器已关闭
var ErrServerClosed = errors.New("server is closed")

// Manager 托管技能 API 的 HTTP 服务器. 关闭时先排空请求，再按注册的逆序执行
// 收尾钩子（例如保存注册表快照），钩子与排空共享 ShutdownTimeout.
type Manager struct {
	server   *http.Server
	listener net.Listener
	errCh    chan error
	config   Config
	logger   *zap.Logger
	hooks    []shutdownHook
	mu       sync.Mutex
	started  bool
	closed   bool
}

type shutdownHook struct {
	name string
	fn   func(ctx context.Context) error
}

// Config 服务器配置
type Config struct {
	// 监听地址
	Addr string `yaml:"addr" json:"addr"`

	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// 写入超时. 上下文构建可能较慢，不宜过短.
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// 空闲超时
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// 最大请求头大小
	MaxHeaderBytes int `yaml:"max_header_bytes" json:"max_header_bytes"`

	// 优雅关闭超时，包含收尾钩子
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// 两者都设置时以 HTTPS 提供服务
	TLSCertFile string `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file" json:"tls_key_file"`
}

// DefaultConfig 返回默认服务器配置
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: 30 * time.Second,
	}
}

// TLS 是否以 HTTPS 提供服务
func (c Config) TLS() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

// NewManager 创建服务器管理器
func NewManager(handler http.Handler, config Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &http.Server{
		Addr:              config.Addr,
		Handler:           handler,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		MaxHeaderBytes:    config.MaxHeaderBytes,
	}

	return &Manager{
		server: server,
		errCh:  make(chan error, 1),
		config: config,
		logger: logger.With(zap.String("component", "http_server")),
	}
}

// OnShutdown 注册收尾钩子. 钩子在请求排空之后按注册的逆序执行，单个失败不影响其余钩子.
func (m *Manager) OnShutdown(name string, fn func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, shutdownHook{name: name, fn: fn})
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Start 启动服务器（非阻塞）. 配置了证书时使用加固的 TLS 配置.
func (m *Manager) Start() error {
	var serve func(net.Listener) error
	if m.config.TLS() {
		tlsConfig, err := tlsutil.ServerConfig(m.config.TLSCertFile, m.config.TLSKeyFile)
		if err != nil {
			return err
		}
		m.server.TLSConfig = tlsConfig
		// 证书已在 TLSConfig 中
		serve = func(l net.Listener) error { return m.server.ServeTLS(l, "", "") }
	} else {
		serve = m.server.Serve
	}

	listener, err := m.listen()
	if err != nil {
		return err
	}
	m.logger.Info("starting skill API server",
		zap.String("addr", listener.Addr().String()),
		zap.Bool("tls", m.config.TLS()),
	)
	go m.serve(func() error { return serve(listener) })
	return nil
}

func (m *Manager) listen() (net.Listener, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrServerClosed
	}
	if m.started {
		return nil, fmt.Errorf("server already started")
	}

	listener, err := net.Listen("tcp", m.config.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", m.config.Addr, err)
	}
	m.listener = listener
	m.started = true
	return listener, nil
}

func (m *Manager) serve(run func() error) {
	if err := run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		m.logger.Error("skill API server failed", zap.Error(err))
		m.errCh <- err
	}
}

// Shutdown 排空请求后执行收尾钩子. 重复调用返回 nil.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	hooks := m.hooks
	m.mu.Unlock()

	m.logger.Info("shutting down skill API server", zap.Int("hooks", len(hooks)))

	shutdownCtx, cancel := context.WithTimeout(ctx, m.config.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := m.server.Shutdown(shutdownCtx); err != nil {
		m.logger.Error("HTTP server shutdown failed", zap.Error(err))
		errs = append(errs, err)
	}
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		if err := h.fn(shutdownCtx); err != nil {
			m.logger.Error("shutdown hook failed", zap.String("hook", h.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
			continue
		}
		m.logger.Debug("shutdown hook done", zap.String("hook", h.name))
	}

	m.logger.Info("skill API server stopped")
	return errors.Join(errs...)
}

// Run 启动服务器并阻塞，直到 ctx 取消、收到 SIGINT/SIGTERM 或服务异常退出，
// 随后优雅关闭. 服务异常时返回该错误.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Start(); err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var serveErr error
	select {
	case <-sigCtx.Done():
		m.logger.Info("shutdown requested", zap.Error(context.Cause(sigCtx)))
	case serveErr = <-m.errCh:
	}

	if err := m.Shutdown(context.Background()); err != nil {
		return errors.Join(serveErr, err)
	}
	return serveErr
}

// Addr 返回监听地址. 启动后返回实际地址，便于使用 ":0" 端口.
func (m *Manager) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener != nil {
		return m.listener.Addr().String()
	}
	return m.config.Addr
}
