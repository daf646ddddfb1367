package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labelgate/backend/internal/auth"
	"labelgate/backend/internal/cache"
	"labelgate/backend/internal/config"
	"labelgate/backend/internal/domain"
	"labelgate/backend/internal/health"
	"labelgate/backend/internal/service"
	"labelgate/backend/internal/storage/memory"
)

const testPassword = "correct-horse"

type envelope struct {
	Code      int             `json:"code"`
	Msg       string          `json:"msg"`
	ErrorCode string          `json:"errorCode"`
	Data      json.RawMessage `json:"data"`
}

type testServer struct {
	router *gin.Engine
	token  string
}

func newTestServer(t *testing.T) *testServer {
	return newLimitedTestServer(t, config.RateLimitConfig{ValidationsPerMinute: 100, LabelsPerMinute: 100})
}

func newLimitedTestServer(t *testing.T, limits config.RateLimitConfig) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		CORS:      config.CORSConfig{AllowedOrigins: []string{"*"}},
		Barcodes:  config.BarcodesConfig{LowWatermark: 1, MaxImportBytes: 1 << 20},
		RateLimit: limits,
	}

	store := memory.NewStore()
	statusCache := cache.NewLocalCache(16, time.Second)
	t.Cleanup(statusCache.Close)

	keys := service.NewKeyService(store, 8, nil)
	pool := service.NewBarcodePoolService(store, statusCache, nil)
	activity := service.NewActivityRecorder(store, nil)

	hash, err := auth.HashPassword(testPassword)
	require.NoError(t, err)
	tokens := auth.NewJWTManager(&config.JWTConfig{
		Secret: "test-secret-key-for-development-32-chars-long",
		Issuer: "labelgate",
		Expiry: time.Hour,
	})
	authSvc := auth.NewService("admin", hash, tokens, store, nil)

	router := NewRouter(RouterDependencies{
		Config:          cfg,
		LabelService:    service.NewLabelService(keys, pool, activity, nil),
		KeyService:      keys,
		PoolService:     pool,
		ActivityService: activity,
		AuthService:     authSvc,
		HealthChecker:   health.NewHealthChecker(store, nil),
	})

	login, err := authSvc.Login(context.Background(), "admin", testPassword)
	require.NoError(t, err)
	return &testServer{router: router, token: login.AccessToken}
}

func (s *testServer) do(t *testing.T, method, path string, body any, admin bool) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	contentType := "application/json"
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
		contentType = "text/plain"
	default:
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", contentType)
	if admin {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestEndToEndLabelFlow(t *testing.T) {
	s := newTestServer(t)

	// 管理员创建一次性密钥
	status, env := s.do(t, http.MethodPost, "/api/admin/keys",
		map[string]any{"prefix": "DEMO", "description": "single use", "maxUses": 1}, true)
	require.Equal(t, http.StatusCreated, status, env.Msg)
	key := decode[domain.AccessKey](t, env.Data)
	assert.Regexp(t, `^DEMO-[A-Z0-9]{8}$`, key.Code)

	status, env = s.do(t, http.MethodPost, "/api/keys/validate", map[string]string{"code": key.Code}, false)
	require.Equal(t, http.StatusOK, status)
	valid := decode[validateKeyResponse](t, env.Data)
	assert.True(t, valid.Valid)
	assert.Equal(t, 1, valid.Key.RemainingUses)

	// 生成标签消耗唯一一次使用
	status, env = s.do(t, http.MethodPost, "/api/labels",
		map[string]any{"code": key.Code, "label": map[string]any{"recipient": "Jane"}}, false)
	require.Equal(t, http.StatusCreated, status, env.Msg)
	label := decode[generateLabelResponse](t, env.Data)
	assert.Equal(t, 0, label.Key.RemainingUses)
	assert.False(t, label.Key.IsActive)
	assert.Equal(t, "5kg", label.LabelData["weight"])
	assert.NotEmpty(t, label.EntryID)

	status, env = s.do(t, http.MethodPost, "/api/labels",
		map[string]any{"code": key.Code, "label": map[string]any{}}, false)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, ErrorCodeKeyExhausted, env.ErrorCode)

	status, env = s.do(t, http.MethodPost, "/api/keys/validate", map[string]string{"code": key.Code}, false)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "exhausted", decode[validateKeyResponse](t, env.Data).Reason)

	// 导入条码后为预览分配
	status, env = s.do(t, http.MethodPost, "/api/admin/barcodes/import", "(91)000111222\n", true)
	require.Equal(t, http.StatusOK, status, env.Msg)
	report := decode[service.IngestReport](t, env.Data)
	assert.Equal(t, 1, report.Inserted)

	status, env = s.do(t, http.MethodGet, "/api/barcodes/status", nil, false)
	require.Equal(t, http.StatusOK, status)
	poolStatus := decode[service.PoolStatus](t, env.Data)
	assert.True(t, poolStatus.HasAvailable)
	assert.Equal(t, "000111222", poolStatus.NextAvailable.LinearValue)

	status, env = s.do(t, http.MethodPost, "/api/labels/barcode", map[string]string{"code": key.Code}, false)
	require.Equal(t, http.StatusOK, status, env.Msg)
	barcode := decode[barcodeResponse](t, env.Data)
	assert.Equal(t, "000111222", barcode.LinearValue)
	assert.NotNil(t, barcode.UsedAt)

	// 一次使用只对应一个条码
	status, env = s.do(t, http.MethodPost, "/api/labels/barcode", map[string]string{"code": key.Code}, false)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, ErrorCodeNoPendingLabel, env.ErrorCode)

	// 使用记录带有密钥代码和分配到的条码
	status, env = s.do(t, http.MethodGet, "/api/admin/activity", nil, true)
	require.Equal(t, http.StatusOK, status)
	activity := decode[activityResponse](t, env.Data)
	require.Equal(t, 1, activity.Count)
	assert.Equal(t, key.Code, activity.Items[0].KeyCode)
	assert.True(t, activity.Items[0].LabelData.HasBarcode())

	status, env = s.do(t, http.MethodGet, "/api/admin/barcodes/stats", nil, true)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, domain.PoolStats{Total: 1, Used: 1, Available: 0}, decode[domain.PoolStats](t, env.Data))
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer(t)

	t.Run("未登录", func(t *testing.T) {
		status, env := s.do(t, http.MethodGet, "/api/admin/keys", nil, false)
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "authentication required", env.Msg)
	})

	t.Run("登录失败", func(t *testing.T) {
		status, _ := s.do(t, http.MethodPost, "/api/admin/login",
			map[string]string{"username": "admin", "password": "wrong-password"}, false)
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("校验失败的消息直接返回", func(t *testing.T) {
		status, env := s.do(t, http.MethodPost, "/api/admin/keys",
			map[string]any{"prefix": "DEMO", "description": "x", "maxUses": 0}, true)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, ErrorCodeValidation, env.ErrorCode)
		assert.NotContains(t, env.Msg, service.ErrValidation.Error())
	})

	t.Run("上限不能小于已用次数", func(t *testing.T) {
		_, env := s.do(t, http.MethodPost, "/api/admin/keys",
			map[string]any{"prefix": "CAP", "description": "cap", "maxUses": 3}, true)
		key := decode[domain.AccessKey](t, env.Data)
		for i := 0; i < 2; i++ {
			status, _ := s.do(t, http.MethodPost, "/api/labels", map[string]any{"code": key.Code}, false)
			require.Equal(t, http.StatusCreated, status)
		}

		status, env := s.do(t, http.MethodPut, "/api/admin/keys/"+key.ID,
			map[string]any{"description": "cap", "maxUses": 1}, true)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "maximum uses cannot be less than current usage (2)", env.Msg)

		status, env = s.do(t, http.MethodPost, "/api/admin/keys/"+key.ID+"/toggle",
			map[string]any{"isActive": false}, true)
		require.Equal(t, http.StatusOK, status)
		assert.False(t, decode[domain.AccessKey](t, env.Data).IsActive)

		status, env = s.do(t, http.MethodPost, "/api/labels", map[string]any{"code": key.Code}, false)
		assert.Equal(t, http.StatusForbidden, status)
		assert.Equal(t, ErrorCodeKeyInactive, env.ErrorCode)

		status, _ = s.do(t, http.MethodDelete, "/api/admin/keys/"+key.ID, nil, true)
		assert.Equal(t, http.StatusOK, status)
		status, _ = s.do(t, http.MethodDelete, "/api/admin/keys/"+key.ID, nil, true)
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("没有可用行的导入返回报告", func(t *testing.T) {
		status, env := s.do(t, http.MethodPost, "/api/admin/barcodes/import",
			map[string]string{"text": "no marker here\n(01)123"}, true)
		assert.Equal(t, http.StatusBadRequest, status)
		report := decode[service.IngestReport](t, env.Data)
		assert.Len(t, report.Rejected, 2)
	})

	t.Run("清空条码池", func(t *testing.T) {
		status, _ := s.do(t, http.MethodPost, "/api/admin/barcodes/import", "(91)1\n(91)2\n(91)2", true)
		require.Equal(t, http.StatusOK, status)

		status, env := s.do(t, http.MethodGet, "/api/admin/barcodes", nil, true)
		require.Equal(t, http.StatusOK, status)
		assert.Len(t, decode[barcodeListResponse](t, env.Data).Items, 2)

		status, env = s.do(t, http.MethodDelete, "/api/admin/barcodes", nil, true)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, map[string]int{"deleted": 2}, decode[map[string]int](t, env.Data))
	})

	t.Run("注销后令牌失效", func(t *testing.T) {
		status, env := s.do(t, http.MethodGet, "/api/admin/me", nil, true)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "admin", decode[meResponse](t, env.Data).Username)

		status, _ = s.do(t, http.MethodPost, "/api/admin/logout", nil, true)
		require.Equal(t, http.StatusOK, status)

		status, _ = s.do(t, http.MethodGet, "/api/admin/me", nil, true)
		assert.Equal(t, http.StatusUnauthorized, status)
	})
}

func TestUnknownKey(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodPost, "/api/keys/validate", map[string]string{"code": "NOPE-00000000"}, false)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "invalid access key", env.Msg)

	status, _ = s.do(t, http.MethodPost, "/api/labels/barcode", map[string]string{"code": "NOPE-00000000"}, false)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestLabelRoutesRateLimited(t *testing.T) {
	s := newLimitedTestServer(t, config.RateLimitConfig{ValidationsPerMinute: 100, LabelsPerMinute: 2})

	for i := 0; i < 2; i++ {
		status, _ := s.do(t, http.MethodPost, "/api/labels/barcode", map[string]string{"code": "UNKNOWN-00000000"}, false)
		assert.Equal(t, http.StatusNotFound, status)
	}
	status, _ := s.do(t, http.MethodPost, "/api/labels/barcode", map[string]string{"code": "UNKNOWN-00000000"}, false)
	assert.Equal(t, http.StatusTooManyRequests, status)

	status, _ = s.do(t, http.MethodPost, "/api/labels", map[string]any{"code": "UNKNOWN-00000000"}, false)
	assert.Equal(t, http.StatusTooManyRequests, status, "生成标签与分配条码共用额度")
}
