package api

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mautops/moneylens/internal/model"
	"github.com/mautops/moneylens/internal/service"
)

// AuditController 审计记录查询控制器
type AuditController struct {
	audit service.AuditLogService
}

// NewAuditController 创建审计控制器
func NewAuditController(audit service.AuditLogService) *AuditController {
	return &AuditController{audit: audit}
}

// auditView 审计记录输出，详情原样输出为 JSON
type auditView struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	RequestID    string          `json:"request_id,omitempty"`
	IP           string          `json:"ip,omitempty"`
	Details      json.RawMessage `json:"details,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

func newAuditView(log *model.AuditLogModel) auditView {
	v := auditView{
		ID:           log.ID,
		UserID:       log.UserID,
		Action:       log.Action,
		ResourceType: log.ResourceType,
		ResourceID:   log.ResourceID,
		RequestID:    log.RequestID,
		IP:           log.IP,
		CreatedAt:    log.CreatedAt,
	}
	if json.Valid(log.Details) {
		v.Details = json.RawMessage(log.Details)
	}
	return v
}

// List 审计记录列表
// @Summary      审计记录列表
// @Description  按用户、动作与资源过滤审计记录，新的在前
// @Tags         审计
// @Accept       json
// @Produce      json
// @Param        request query service.AuditQuery false "过滤条件"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  ErrorResponse
// @Failure      401  {object}  ErrorResponse
// @Failure      403  {object}  ErrorResponse
// @Router       /audit [get]
// @Security     BearerAuth
func (a *AuditController) List(c *gin.Context) {
	var query service.AuditQuery
	if err := bindQuery(c, &query); err != nil {
		respondBindError(c, err)
		return
	}

	logs, err := a.audit.List(requestContext(c), &query)
	if err != nil {
		handleError(c, err)
		return
	}

	views := make([]auditView, 0, len(logs))
	for _, log := range logs {
		views = append(views, newAuditView(log))
	}
	Success(c, gin.H{
		"count":  len(views),
		"audits": views,
	})
}
