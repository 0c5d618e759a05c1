package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/skillflow"
	"github.com/BaSui01/skillflow/internal/cache"
	"github.com/BaSui01/skillflow/internal/database"
)

// readyTimeout 就绪检查的整体超时
const readyTimeout = 5 * time.Second

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// HealthHandler 健康检查处理器
type HealthHandler struct {
	logger *zap.Logger
	checks []HealthCheck
	mu     sync.RWMutex
}

// HealthCheck 健康检查接口
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// DetailedCheck 通过后附带细节的检查，细节写入 CheckResult.Details
type DetailedCheck interface {
	HealthCheck
	Details(ctx context.Context) any
}

// HealthStatus 健康状态响应
type HealthStatus struct {
	Status    string                 `json:"status"` // "healthy", "unhealthy"
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status  string `json:"status"` // "pass", "fail"
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
	Details any    `json:"details,omitempty"`
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger: logger.With(zap.String("component", "health_handler")),
		checks: make([]HealthCheck, 0),
	}
}

// RegisterCheck 注册健康检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleHealthz 存活探针，只说明进程在运行
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// HandleReady 就绪探针. 已注册的检查并发执行，共享 readyTimeout，任一失败返回 503.
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, check := range checks {
		g.Go(func() error {
			results[i] = h.runCheck(ctx, check)
			return nil
		})
	}
	_ = g.Wait()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}
	code := http.StatusOK
	for i, check := range checks {
		status.Checks[check.Name()] = results[i]
		if results[i].Status != "pass" {
			status.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}
	WriteJSON(w, code, status)
}

func (h *HealthHandler) runCheck(ctx context.Context, check HealthCheck) CheckResult {
	start := time.Now()
	err := check.Check(ctx)
	latency := time.Since(start)
	if err == nil {
		result := CheckResult{Status: "pass", Latency: latency.String()}
		if d, ok := check.(DetailedCheck); ok {
			result.Details = d.Details(ctx)
		}
		return result
	}
	h.logger.Warn("health check failed",
		zap.String("check", check.Name()),
		zap.Error(err),
		zap.Duration("latency", latency),
	)
	return CheckResult{Status: "fail", Message: err.Error(), Latency: latency.String()}
}

// HandleVersion 返回构建信息
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, r, map[string]string{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}

// =============================================================================
// 🔧 内置健康检查实现
// =============================================================================

// PingCheck 用一个 ping 函数实现 HealthCheck（注册表存储、Redis、数据库）
type PingCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingCheck 创建 ping 检查
func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, ping: ping}
}

func (c *PingCheck) Name() string {
	return c.name
}

func (c *PingCheck) Check(ctx context.Context) error {
	return c.ping(ctx)
}

// RegisterSystemChecks 为 System 注册注册表检查，并为每个已启用的外部依赖注册 ping 检查
func (h *HealthHandler) RegisterSystemChecks(sys *skillflow.System) {
	h.RegisterCheck(NewRegistryCheck(sys))
	for _, dep := range sys.Dependencies() {
		h.RegisterCheck(NewPingCheck(dep.Name, dep.Ping))
	}
}

// ErrRegistryNotReady 技能注册表尚未初始化
var ErrRegistryNotReady = errors.New("skill registry not initialized")

// RegistryCheck 技能注册表是否可用于激活. 通过时附带技能数与连接池统计.
type RegistryCheck struct {
	system *skillflow.System
}

// RegistryDetails 注册表检查通过时的细节
type RegistryDetails struct {
	Skills       int                 `json:"skills"`
	ActiveSkills int                 `json:"activeSkills"`
	MaxActive    int                 `json:"maxActive"`
	Store        string              `json:"store"`
	Source       string              `json:"source"`
	CacheHitRate float64             `json:"cacheHitRate"`
	Redis        *cache.Stats        `json:"redis,omitempty"`
	Database     *database.PoolStats `json:"database,omitempty"`
}

// NewRegistryCheck 创建注册表检查
func NewRegistryCheck(sys *skillflow.System) *RegistryCheck {
	return &RegistryCheck{system: sys}
}

func (c *RegistryCheck) Name() string {
	return "registry"
}

// Check 未初始化的系统不接受激活
func (c *RegistryCheck) Check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.system.Status().Data.Initialized {
		return ErrRegistryNotReady
	}
	return nil
}

func (c *RegistryCheck) Details(ctx context.Context) any {
	status := c.system.Status().Data
	details := RegistryDetails{
		Skills:       status.TotalSkills,
		ActiveSkills: status.ActiveSkills,
		MaxActive:    status.MaxActive,
		Store:        status.Store,
		Source:       status.Source,
	}
	if report := c.system.GetCacheStats(ctx); report.Success {
		details.CacheHitRate = report.Data.Context.HitRate
		details.Redis = report.Data.Redis
		details.Database = report.Data.Database
	}
	return details
}
