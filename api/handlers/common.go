package handlers

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"time"

	"github.com/BaSui01/skillflow/internal/ctxkeys"
	"github.com/BaSui01/skillflow/types"
	"go.uber.org/zap"
)

// maxBodyBytes 请求体上限
const maxBodyBytes = 1 << 20

// =============================================================================
// 📦 通用响应结构
// =============================================================================

// Response 统一 API 响应结构
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo 错误信息结构
type ErrorInfo struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Skill      string `json:"skill,omitempty"`
	Details    string `json:"details,omitempty"`
	HTTPStatus int    `json:"-"`
}

// =============================================================================
// 🎯 响应辅助函数
// =============================================================================

// WriteJSON 写入 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)

	// 编码失败时响应头已经写出，只能放弃
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess 写入成功响应
func WriteSuccess(w http.ResponseWriter, r *http.Request, data any) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: requestID(r),
	})
}

// WriteError 写入错误响应. 非 *types.Error 按 INTERNAL_ERROR 处理.
// data 非空时随错误一起返回（例如批量激活的部分结果）.
func WriteError(w http.ResponseWriter, r *http.Request, err error, data any, logger *zap.Logger) {
	apiErr, ok := types.AsError(err)
	if !ok {
		apiErr = types.NewError(types.ErrInternalError, err.Error())
	}
	status := types.HTTPStatusOf(apiErr)

	info := &ErrorInfo{
		Code:       string(apiErr.Code),
		Message:    apiErr.Message,
		Skill:      apiErr.Skill,
		HTTPStatus: status,
	}
	if apiErr.Cause != nil {
		info.Details = apiErr.Cause.Error()
	}

	if logger != nil {
		level := logger.Warn
		if status >= http.StatusInternalServerError {
			level = logger.Error
		}
		level("API error",
			zap.String("code", info.Code),
			zap.String("message", info.Message),
			zap.Int("status", status),
			zap.String("request_id", requestID(r)),
			zap.Error(apiErr.Cause),
		)
	}

	WriteJSON(w, status, Response{
		Success:   false,
		Data:      data,
		Error:     info,
		Timestamp: time.Now(),
		RequestID: requestID(r),
	})
}

// WriteErrorMessage 写入简单错误消息
func WriteErrorMessage(w http.ResponseWriter, r *http.Request, status int, code types.ErrorCode, message string, logger *zap.Logger) {
	WriteError(w, r, types.NewError(code, message).WithHTTPStatus(status), nil, logger)
}

func requestID(r *http.Request) string {
	if r == nil {
		return ""
	}
	if id, ok := ctxkeys.RequestID(r.Context()); ok {
		return id
	}
	return r.Header.Get("X-Request-ID")
}

// =============================================================================
// 🛡️ 请求验证辅助函数
// =============================================================================

// DecodeJSONBody 解码 JSON 请求体（1 MB 限制，拒绝未知字段）.
// 失败时已经写出错误响应.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) error {
	if r.Body == nil || r.Body == http.NoBody {
		err := types.NewError(types.ErrInvalidArgument, "request body is empty")
		WriteError(w, r, err, nil, logger)
		return err
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		apiErr := types.NewError(types.ErrInvalidArgument, "invalid JSON body").WithCause(err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apiErr = types.NewError(types.ErrInvalidArgument, "request body too large").
				WithHTTPStatus(http.StatusRequestEntityTooLarge)
		}
		WriteError(w, r, apiErr, nil, logger)
		return apiErr
	}

	return nil
}

// ValidateContentType 验证 Content-Type
func ValidateContentType(w http.ResponseWriter, r *http.Request, logger *zap.Logger) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		apiErr := types.NewError(types.ErrInvalidArgument, "Content-Type must be application/json").
			WithHTTPStatus(http.StatusUnsupportedMediaType)
		WriteError(w, r, apiErr, nil, logger)
		return false
	}
	return true
}

// =============================================================================
// 📊 响应包装器（用于捕获状态码）
// =============================================================================

// ResponseWriter 包装 http.ResponseWriter 以捕获状态码
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	Written    bool
}

// NewResponseWriter 创建新的 ResponseWriter
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader 记录首次写入的状态码
func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.Written {
		rw.StatusCode = code
		rw.Written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write 标记已写入
func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}
