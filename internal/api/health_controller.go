package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mautops/moneylens/internal/chain"
	"gorm.io/gorm"
)

// readyTimeout 单项就绪检查的超时
const readyTimeout = 5 * time.Second

// HealthController 就绪检查控制器
type HealthController struct {
	db     *gorm.DB
	ledger chain.Ledger
}

// NewHealthController 创建就绪检查控制器，db 可为空（独立网关）
func NewHealthController(db *gorm.DB, ledger chain.Ledger) *HealthController {
	return &HealthController{
		db:     db,
		ledger: ledger,
	}
}

// Ready 检查数据库与链上节点，任一不可用时返回 503
func (h *HealthController) Ready(c *gin.Context) {
	ready := true
	checks := make(map[string]string)

	if h.db != nil {
		if err := h.checkDatabase(c.Request.Context()); err != nil {
			ready = false
			checks["database"] = "unhealthy: " + err.Error()
		} else {
			checks["database"] = "healthy"
		}
	} else {
		checks["database"] = "not configured"
	}

	if h.ledger != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
		err := h.ledger.Ping(ctx)
		cancel()
		if err != nil {
			ready = false
			checks["chain"] = "unhealthy: " + err.Error()
		} else {
			checks["chain"] = "healthy"
		}
	} else {
		checks["chain"] = "not configured"
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"ready":     ready,
		"timestamp": time.Now().Unix(),
		"checks":    checks,
	})
}

// checkDatabase 检查数据库连接
func (h *HealthController) checkDatabase(ctx context.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	return sqlDB.PingContext(ctx)
}
