package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/moneylens/internal/auth"
	"github.com/mautops/moneylens/internal/chain"
	"github.com/mautops/moneylens/internal/config"
	"github.com/mautops/moneylens/internal/model"
	"github.com/mautops/moneylens/internal/service"
	"github.com/mautops/moneylens/internal/websocket"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Dependencies 路由所需的组件，链下存储相关字段在独立网关模式下为空
type Dependencies struct {
	Logger    *logrus.Logger
	CORS      config.CORSConfig
	RateLimit config.RateLimitConfig
	HSTS      bool
	Tracing   bool

	DB     *gorm.DB
	Ledger chain.Ledger

	Tokens    *auth.TokenManager
	Blacklist auth.Blacklist

	Gateway     service.GatewayService
	Auth        service.AuthService
	Departments service.DepartmentService
	Entries     service.LedgerService
	Public      service.PublicService
	Export      service.ExportService
	Audit       service.AuditLogService
	Hub         *websocket.Hub

	// OpenGatewayWrites 为 true 时 POST /api/transactions 不要求认证
	OpenGatewayWrites bool
}

// SetupRoutes 配置路由
func SetupRoutes(deps *Dependencies) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	router := gin.New()
	router.Use(gin.Recovery())

	// 中间件
	router.Use(RequestIDMiddleware())
	router.Use(RequestLogMiddleware(logger))
	router.Use(SecurityHeadersMiddleware(deps.HSTS))
	router.Use(CORSMiddleware(deps.CORS))
	router.Use(RateLimitMiddleware(deps.RateLimit.RPS, deps.RateLimit.Burst))
	if deps.Tracing {
		router.Use(TracingMiddleware())
	}
	router.Use(ErrorHandlerMiddleware(logger))

	router.NoRoute(func(c *gin.Context) {
		Error(c, http.StatusNotFound, "route not found", "")
	})

	// 运维端点
	router.GET("/ready", NewHealthController(deps.DB, deps.Ledger).Ready)
	router.GET("/metrics", MetricsHandler)

	var requireAuth gin.HandlerFunc
	if deps.Tokens != nil {
		requireAuth = auth.JWTAuthMiddleware(deps.Tokens, deps.Blacklist)
	}
	adminOnly := auth.RequireRoles(model.RoleAdmin)
	approvers := auth.RequireRoles(model.RoleAdmin, model.RoleDeptHead)

	api := router.Group("/api")

	// 链上网关
	gateway := NewGatewayController(deps.Gateway)
	api.GET("/health", gateway.Health)
	api.GET("/transactions", gateway.List)
	api.GET("/transactions/:id", gateway.Get)
	api.GET("/stats", gateway.Stats)
	if deps.OpenGatewayWrites || requireAuth == nil {
		api.POST("/transactions", gateway.Add)
	} else {
		api.POST("/transactions", requireAuth, adminOnly, gateway.Add)
	}

	// 独立网关模式到此为止
	if deps.Auth == nil || requireAuth == nil {
		return router
	}

	authCtl := NewAuthController(deps.Auth)
	api.POST("/login", authCtl.Login)
	api.POST("/logout", requireAuth, authCtl.Logout)
	api.GET("/me", requireAuth, authCtl.Me)

	departments := NewDepartmentController(deps.Departments)
	api.GET("/departments/hierarchy", departments.Hierarchy)
	deptGroup := api.Group("/departments", requireAuth)
	{
		deptGroup.GET("", departments.List)
		deptGroup.GET("/:id", departments.Get)
		deptGroup.POST("", adminOnly, departments.Create)
	}

	entries := NewLedgerController(deps.Entries)
	ledger := api.Group("/ledger", requireAuth)
	{
		ledger.POST("", entries.Create)
		ledger.GET("", entries.List)
		ledger.GET("/verify", entries.Verify)
		ledger.GET("/reconcile", adminOnly, entries.Reconcile)
		ledger.GET("/:id", entries.Get)
		ledger.GET("/:id/history", entries.History)
		ledger.POST("/:id/approve", approvers, entries.Approve)
		ledger.POST("/:id/reject", approvers, entries.Reject)
		ledger.POST("/:id/settle", approvers, entries.Settle)
		ledger.POST("/:id/anchor", adminOnly, entries.Anchor)
	}

	if deps.Audit != nil {
		api.GET("/audit", requireAuth, adminOnly, NewAuditController(deps.Audit).List)
	}

	public := NewPublicController(deps.Public, deps.Export)
	publicGroup := api.Group("/public")
	{
		publicGroup.GET("/transactions", public.Transactions)
		publicGroup.GET("/transactions/export.xlsx", public.Export)
		publicGroup.GET("/stats", public.Stats)
		publicGroup.GET("/currencies", public.Currencies)
	}

	if deps.Hub != nil {
		router.GET("/ws/ledger", websocket.Handler(deps.Hub, deps.CORS.AllowedOrigins))
	}

	return router
}
