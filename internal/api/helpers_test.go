package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/mautops/moneylens/internal/anchor"
	"github.com/mautops/moneylens/internal/api"
	"github.com/mautops/moneylens/internal/auth"
	"github.com/mautops/moneylens/internal/chain"
	"github.com/mautops/moneylens/internal/config"
	"github.com/mautops/moneylens/internal/database"
	"github.com/mautops/moneylens/internal/repository"
	"github.com/mautops/moneylens/internal/service"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	adminEmail    = "admin@moneylens.test"
	adminPassword = "admin-password"
)

var (
	testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	testRecorder = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
)

// testServer 完整装配的测试服务
type testServer struct {
	router *gin.Engine
	db     *gorm.DB
	ledger *chain.MemoryLedger
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Connect(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

// newTestServer 使用内存数据库与内存合约装配路由
func newTestServer(t *testing.T, customize ...func(*api.Dependencies)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := setupTestDB(t)
	ledger := chain.NewMemoryLedger(testContract, testRecorder)
	logger := quietLogger()

	tokens := auth.NewTokenManager("test-secret", time.Hour)
	blacklist := auth.NewMemoryBlacklist()
	auditSvc := service.NewAuditLogService(repository.NewAuditLogRepository(db))
	worker := anchor.NewWorker(db, ledger, nil, logger, anchor.Options{})

	table, err := service.NewCurrencyTable("USD")
	require.NoError(t, err)
	public := service.NewPublicService(db, ledger, table, logger)
	authSvc := service.NewAuthService(db, tokens, blacklist, auditSvc)

	_, err = authSvc.EnsureAdmin(context.Background(), "Root", adminEmail, adminPassword)
	require.NoError(t, err)

	deps := &api.Dependencies{
		Logger:      logger,
		DB:          db,
		Ledger:      ledger,
		Tokens:      tokens,
		Blacklist:   blacklist,
		Gateway:     service.NewGatewayService(ledger, auditSvc, logger),
		Auth:        authSvc,
		Departments: service.NewDepartmentService(db),
		Entries:     service.NewLedgerService(db, auditSvc, worker, ledger, nil, logger),
		Public:      public,
		Export:      service.NewExportService(public, logger),
		Audit:       auditSvc,
	}
	for _, fn := range customize {
		fn(deps)
	}

	return &testServer{
		router: api.SetupRoutes(deps),
		db:     db,
		ledger: ledger,
	}
}

// do 发送请求，body 为字符串时原样发送
func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// decode 解析 JSON 响应
func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

// login 登录并返回令牌
func (s *testServer) login(t *testing.T, email, password string) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/login", "", map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	token, _ := decode(t, w)["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func object(t *testing.T, v interface{}) map[string]interface{} {
	t.Helper()
	m, ok := v.(map[string]interface{})
	require.True(t, ok, "expected object, got %T", v)
	return m
}
