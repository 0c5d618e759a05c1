package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/BaSui01/skillflow"
	"github.com/BaSui01/skillflow/agent/activation"
	agentctx "github.com/BaSui01/skillflow/agent/context"
	"github.com/BaSui01/skillflow/agent/skills"
	"github.com/BaSui01/skillflow/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🧩 技能 Handler
// =============================================================================

// SkillsHandler 把 skillflow.System 的门面操作暴露为 HTTP 接口
type SkillsHandler struct {
	system *skillflow.System
	logger *zap.Logger
}

// NewSkillsHandler 创建技能处理器
func NewSkillsHandler(system *skillflow.System, logger *zap.Logger) *SkillsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SkillsHandler{
		system: system,
		logger: logger.With(zap.String("component", "skills_handler")),
	}
}

// SkillSummary 列表接口返回的精简技能信息
type SkillSummary struct {
	Name         string             `json:"name"`
	Version      string             `json:"version"`
	Description  string             `json:"description"`
	Author       string             `json:"author,omitempty"`
	Triggers     []string           `json:"triggers"`
	Dependencies []string           `json:"dependencies"`
	Status       skills.SkillStatus `json:"status"`
	Active       bool               `json:"active"`
}

// ActivateRequest 激活请求. Skills 与 Keywords 二选一.
type ActivateRequest struct {
	Skills   []string `json:"skills,omitempty"`
	Keywords string   `json:"keywords,omitempty"`
	// 为空时使用 activation.auto_activate_on_exact_match
	Auto *bool `json:"auto,omitempty"`
}

// DeactivateRequest 停用请求
type DeactivateRequest struct {
	Skills []string `json:"skills,omitempty"`
	All    bool     `json:"all,omitempty"`
}

// DeactivateResponse 停用结果
type DeactivateResponse struct {
	Deactivated []string                         `json:"deactivated"`
	Details     []*activation.DeactivationResult `json:"details,omitempty"`
}

// ContextRequest 上下文构建请求. 布尔选项为空时取默认值（包含并使用缓存）.
type ContextRequest struct {
	MaxTokens         int                    `json:"maxTokens,omitempty"`
	IncludeExamples   *bool                  `json:"includeExamples,omitempty"`
	IncludeReferences *bool                  `json:"includeReferences,omitempty"`
	UseCache          *bool                  `json:"useCache,omitempty"`
	PreserveTypes     []agentctx.SectionType `json:"preserveTypes,omitempty"`
	// 大于 0 时在构建后压缩到该预算
	OptimizeTo int `json:"optimizeTo,omitempty"`
}

// ContextResponse 上下文构建结果
type ContextResponse struct {
	Context      *agentctx.AIContext          `json:"context"`
	Optimization *agentctx.OptimizationResult `json:"optimization,omitempty"`
}

// StatsResponse 汇总统计
type StatsResponse struct {
	Status     *skillflow.Status          `json:"status"`
	Registry   *skillflow.RegistryStatus  `json:"registry"`
	Activation activation.ActivationStats `json:"activation"`
	Cache      *skillflow.CacheReport     `json:"cache"`
}

// Register 在 mux 上注册全部技能路由
func (h *SkillsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/skills", h.HandleListSkills)
	mux.HandleFunc("GET /api/v1/skills/{name}", h.HandleGetSkill)
	mux.HandleFunc("GET /api/v1/skills/{name}/chain", h.HandleSkillChain)
	mux.HandleFunc("GET /api/v1/search", h.HandleSearch)
	mux.HandleFunc("GET /api/v1/suggest", h.HandleSuggest)
	mux.HandleFunc("GET /api/v1/active", h.HandleListActive)
	mux.HandleFunc("POST /api/v1/activate", h.HandleActivate)
	mux.HandleFunc("POST /api/v1/deactivate", h.HandleDeactivate)
	mux.HandleFunc("GET /api/v1/chain", h.HandleActiveChain)
	mux.HandleFunc("POST /api/v1/context", h.HandleBuildContext)
	mux.HandleFunc("GET /api/v1/stats", h.HandleStats)
	mux.HandleFunc("POST /api/v1/refresh", h.HandleRefresh)
}

// respond 把门面响应写成 HTTP 响应，失败时附带部分结果
func respond[T any](h *SkillsHandler, w http.ResponseWriter, r *http.Request, resp skillflow.Response[T]) {
	if resp.Success {
		WriteSuccess(w, r, resp.Data)
		return
	}
	WriteError(w, r, resp.Err(), resp.Data, h.logger)
}

// =============================================================================
// 📚 查询
// =============================================================================

// HandleListSkills GET /api/v1/skills[?status=active|inactive|error]
func (h *SkillsHandler) HandleListSkills(w http.ResponseWriter, r *http.Request) {
	status := skills.SkillStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidArgument, "invalid status filter", h.logger)
		return
	}

	all := h.system.GetAllSkills()
	if !all.Success {
		respond(h, w, r, all)
		return
	}

	out := make([]SkillSummary, 0, len(all.Data))
	for _, s := range all.Data {
		if status != "" && s.Status != status {
			continue
		}
		out = append(out, SkillSummary{
			Name:         s.Name(),
			Version:      s.Metadata.Version,
			Description:  s.Metadata.Description,
			Author:       s.Metadata.Author,
			Triggers:     s.Metadata.Triggers,
			Dependencies: s.SkillDependencies(),
			Status:       s.Status,
			Active:       h.system.IsSkillActive(s.Name()),
		})
	}
	WriteSuccess(w, r, out)
}

// HandleGetSkill GET /api/v1/skills/{name}
func (h *SkillsHandler) HandleGetSkill(w http.ResponseWriter, r *http.Request) {
	respond(h, w, r, h.system.GetSkill(r.PathValue("name")))
}

// HandleSearch GET /api/v1/search?q=...&fuzzy=false
func (h *SkillsHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	fuzzy := true
	if raw := query.Get("fuzzy"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidArgument, "fuzzy must be a boolean", h.logger)
			return
		}
		fuzzy = v
	}
	respond(h, w, r, h.system.SearchSkills(query.Get("q"), fuzzy))
}

// HandleSuggest GET /api/v1/suggest?q=...&limit=5
func (h *SkillsHandler) HandleSuggest(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, h.logger, "limit", 5)
	if !ok {
		return
	}
	respond(h, w, r, h.system.SuggestKeywords(r.URL.Query().Get("q"), limit))
}

// HandleListActive GET /api/v1/active
func (h *SkillsHandler) HandleListActive(w http.ResponseWriter, r *http.Request) {
	respond(h, w, r, h.system.GetActiveSkills())
}

// HandleStats GET /api/v1/stats
func (h *SkillsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, StatsResponse{
		Status:     h.system.Status().Data,
		Registry:   h.system.GetRegistryStats().Data,
		Activation: h.system.GetActivationStats().Data,
		Cache:      h.system.GetCacheStats(r.Context()).Data,
	})
}

// =============================================================================
// ⚡ 激活
// =============================================================================

// HandleActivate POST /api/v1/activate
func (h *SkillsHandler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req ActivateRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	keywords := strings.TrimSpace(req.Keywords)
	switch {
	case len(req.Skills) > 0 && keywords != "":
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidArgument, "skills and keywords are mutually exclusive", h.logger)
	case len(req.Skills) == 1:
		respond(h, w, r, h.system.ActivateSkill(r.Context(), req.Skills[0]))
	case len(req.Skills) > 1:
		respond(h, w, r, h.system.ActivateMultipleSkills(r.Context(), req.Skills))
	case keywords != "":
		auto := h.system.Config().Activation.AutoActivateOnExactMatch
		if req.Auto != nil {
			auto = *req.Auto
		}
		respond(h, w, r, h.system.ActivateByKeywords(r.Context(), keywords, auto))
	default:
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidArgument, "skills or keywords is required", h.logger)
	}
}

// HandleDeactivate POST /api/v1/deactivate
func (h *SkillsHandler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req DeactivateRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	if req.All {
		names := h.system.ActiveSkillNames()
		h.system.DeactivateAll()
		WriteSuccess(w, r, DeactivateResponse{Deactivated: names})
		return
	}
	if len(req.Skills) == 0 {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidArgument, "skills or all is required", h.logger)
		return
	}

	out := DeactivateResponse{Deactivated: []string{}}
	for _, name := range req.Skills {
		res := h.system.DeactivateSkill(name)
		if !res.Success {
			WriteError(w, r, res.Err(), out, h.logger)
			return
		}
		out.Deactivated = append(out.Deactivated, name)
		out.Details = append(out.Details, res.Data)
	}
	WriteSuccess(w, r, out)
}

// =============================================================================
// 🔗 执行链与上下文
// =============================================================================

// HandleActiveChain GET /api/v1/chain?task=...
func (h *SkillsHandler) HandleActiveChain(w http.ResponseWriter, r *http.Request) {
	respond(h, w, r, h.system.BuildChainForActiveSkills(r.URL.Query().Get("task")))
}

// HandleSkillChain GET /api/v1/skills/{name}/chain
func (h *SkillsHandler) HandleSkillChain(w http.ResponseWriter, r *http.Request) {
	respond(h, w, r, h.system.BuildChainForSkill(r.PathValue("name")))
}

// HandleBuildContext POST /api/v1/context. 空请求体按默认选项构建.
func (h *SkillsHandler) HandleBuildContext(w http.ResponseWriter, r *http.Request) {
	var req ContextRequest
	if r.ContentLength != 0 {
		if !ValidateContentType(w, r, h.logger) {
			return
		}
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
	}
	if req.MaxTokens < 0 || req.OptimizeTo < 0 {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidArgument, "token budgets must not be negative", h.logger)
		return
	}

	opts := agentctx.DefaultBuildOptions()
	opts.MaxTokens = req.MaxTokens
	opts.PreserveTypes = req.PreserveTypes
	if req.IncludeExamples != nil {
		opts.IncludeExamples = *req.IncludeExamples
	}
	if req.IncludeReferences != nil {
		opts.IncludeReferences = *req.IncludeReferences
	}
	if req.UseCache != nil {
		opts.UseCache = *req.UseCache
	}

	built := h.system.BuildContext(r.Context(), opts)
	if !built.Success {
		respond(h, w, r, built)
		return
	}
	out := ContextResponse{Context: built.Data}
	if req.OptimizeTo > 0 {
		optimized := h.system.OptimizeContext(r.Context(), built.Data, req.OptimizeTo)
		if !optimized.Success {
			respond(h, w, r, optimized)
			return
		}
		out.Optimization = optimized.Data
	}
	WriteSuccess(w, r, out)
}

// HandleRefresh POST /api/v1/refresh
func (h *SkillsHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	respond(h, w, r, h.system.Refresh(r.Context()))
}

func intParam(w http.ResponseWriter, r *http.Request, logger *zap.Logger, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidArgument, name+" must be a positive integer", logger)
		return 0, false
	}
	return v, true
}
