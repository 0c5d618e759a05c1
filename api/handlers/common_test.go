package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BaSui01/skillflow/internal/ctxkeys"
	"github.com/BaSui01/skillflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// =============================================================================
// 🧪 Common 函数测试
// =============================================================================

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name       string
		data       any
		wantStatus int
	}{
		{name: "simple object", data: map[string]string{"message": "hello"}, wantStatus: http.StatusOK},
		{name: "array", data: []int{1, 2, 3}, wantStatus: http.StatusOK},
		{name: "created", data: nil, wantStatus: http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteJSON(w, tt.wantStatus, tt.data)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
			assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		})
	}
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(ctxkeys.WithRequestID(r.Context(), "req-42"))

	WriteSuccess(w, r, map[string]string{"key": "value"})

	assert.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
	assert.False(t, resp.Timestamp.IsZero())
	assert.Equal(t, "req-42", resp.RequestID)
}

func TestWriteSuccess_RequestIDFromHeader(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "hdr-1")

	WriteSuccess(w, r, "ok")

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "hdr-1", resp.RequestID)
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedCode   types.ErrorCode
	}{
		{
			name:           "invalid argument",
			err:            types.NewError(types.ErrInvalidArgument, "query is required"),
			expectedStatus: http.StatusBadRequest,
			expectedCode:   types.ErrInvalidArgument,
		},
		{
			name:           "not found",
			err:            types.NewError(types.ErrNotFound, "skill not found").WithSkill("ghost"),
			expectedStatus: http.StatusNotFound,
			expectedCode:   types.ErrNotFound,
		},
		{
			name:           "capacity",
			err:            types.NewError(types.ErrCapacityExceeded, "too many active skills"),
			expectedStatus: http.StatusConflict,
			expectedCode:   types.ErrCapacityExceeded,
		},
		{
			name:           "circular",
			err:            fmt.Errorf("chain: %w", types.NewError(types.ErrCircularDependency, "a -> b -> a")),
			expectedStatus: http.StatusUnprocessableEntity,
			expectedCode:   types.ErrCircularDependency,
		},
		{
			name:           "plain error",
			err:            errors.New("disk on fire"),
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   types.ErrInternalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			WriteError(w, r, tt.err, nil, zaptest.NewLogger(t))

			assert.Equal(t, tt.expectedStatus, w.Code)

			var resp Response
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.False(t, resp.Success)
			assert.Nil(t, resp.Data)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.expectedCode), resp.Error.Code)
			assert.NotEmpty(t, resp.Error.Message)
		})
	}
}

func TestWriteError_CarriesSkillAndData(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	err := types.NewError(types.ErrMissingDependency, "dependency not registered").
		WithSkill("app").
		WithCause(errors.New("storage"))

	WriteError(w, r, err, map[string]int{"activated": 1}, zap.NewNop())

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "app", resp.Error.Skill)
	assert.Equal(t, "storage", resp.Error.Details)
	assert.Equal(t, map[string]any{"activated": float64(1)}, resp.Data)
}

func TestDecodeJSONBody(t *testing.T) {
	type payload struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	}

	tests := []struct {
		name      string
		body      string
		wantErr   bool
		checkFunc func(*testing.T, *payload)
	}{
		{
			name: "valid JSON",
			body: `{"name":"test","value":123}`,
			checkFunc: func(t *testing.T, p *payload) {
				assert.Equal(t, "test", p.Name)
				assert.Equal(t, 123, p.Value)
			},
		},
		{name: "invalid JSON", body: `{"name":"test",}`, wantErr: true},
		{name: "unknown field", body: `{"name":"test","unknown":"field"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/test", bytes.NewBufferString(tt.body))

			var result payload
			err := DecodeJSONBody(w, r, &result, zap.NewNop())

			if tt.wantErr {
				assert.True(t, types.IsCode(err, types.ErrInvalidArgument))
				assert.Equal(t, http.StatusBadRequest, w.Code)
				return
			}
			assert.NoError(t, err)
			tt.checkFunc(t, &result)
		})
	}
}

func TestDecodeJSONBody_Empty(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/test", nil)

	var dst map[string]any
	err := DecodeJSONBody(w, r, &dst, zap.NewNop())

	assert.True(t, types.IsCode(err, types.ErrInvalidArgument))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDecodeJSONBody_MaxBodySize(t *testing.T) {
	oversized := `{"name":"` + strings.Repeat("x", 2<<20) + `"}`

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(oversized))

	var result struct {
		Name string `json:"name"`
	}
	err := DecodeJSONBody(w, r, &result, zap.NewNop())

	assert.Error(t, err, "body exceeding 1 MB should be rejected")
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestValidateContentType(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		want        bool
	}{
		{name: "application/json", contentType: "application/json", want: true},
		{name: "with charset", contentType: "application/json; charset=utf-8", want: true},
		{name: "uppercase charset", contentType: "application/json; charset=UTF-8", want: true},
		{name: "extra whitespace", contentType: "application/json;  charset=utf-8", want: true},
		{name: "text/plain", contentType: "text/plain", want: false},
		{name: "empty", contentType: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/test", nil)
			r.Header.Set("Content-Type", tt.contentType)

			assert.Equal(t, tt.want, ValidateContentType(w, r, zap.NewNop()))
			if !tt.want {
				assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
			}
		})
	}
}

func TestResponseWriter(t *testing.T) {
	w := httptest.NewRecorder()
	rw := NewResponseWriter(w)

	assert.Equal(t, http.StatusOK, rw.StatusCode)
	assert.False(t, rw.Written)

	rw.WriteHeader(http.StatusCreated)
	assert.Equal(t, http.StatusCreated, rw.StatusCode)
	assert.True(t, rw.Written)

	// 第二次写入被忽略
	rw.WriteHeader(http.StatusBadRequest)
	assert.Equal(t, http.StatusCreated, rw.StatusCode)

	n, err := rw.Write([]byte("test"))
	assert.NoError(t, err)
	assert.Equal(t, 4, n)
}
