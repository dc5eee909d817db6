package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/moneylens/internal/model"
	"github.com/mautops/moneylens/internal/repository"
)

// 审计动作
const (
	ActionLogin            = "login"
	ActionLogout           = "logout"
	ActionCreateDepartment = "create_department"
	ActionCreateEntry      = "create_entry"
	ActionApprove          = "approve"
	ActionReject           = "reject"
	ActionSettle           = "settle"
	ActionAnchor           = "anchor"
	ActionChainWrite       = "chain_write"
)

// 审计资源类型
const (
	ResourceDepartment  = "department"
	ResourceLedgerEntry = "ledger_entry"
	ResourceUser        = "user"
	ResourceChain       = "chain"
)

// AuditLogService 审计日志服务
type AuditLogService interface {
	RecordAction(ctx context.Context, userID, action, resourceType, resourceID string, details interface{}) error
	List(ctx context.Context, query *AuditQuery) ([]*model.AuditLogModel, error)
}

// AuditQuery 审计记录查询参数
type AuditQuery struct {
	UserID       string `form:"user_id"`
	Action       string `form:"action"`
	ResourceType string `form:"resource_type"`
	ResourceID   string `form:"resource_id"`
	Limit        int    `form:"limit" binding:"omitempty,min=1,max=500"`
}

type auditLogService struct {
	auditRepo repository.AuditLogRepository
}

// NewAuditLogService 创建审计日志服务
func NewAuditLogService(auditRepo repository.AuditLogRepository) AuditLogService {
	return &auditLogService{auditRepo: auditRepo}
}

// RecordAction 记录操作审计日志
func (s *auditLogService) RecordAction(ctx context.Context, userID, action, resourceType, resourceID string, details interface{}) error {
	auditLog, err := newAuditLog(ctx, userID, action, resourceType, resourceID, details)
	if err != nil {
		return err
	}
	return s.auditRepo.Create(auditLog)
}

// List 按条件查询审计记录，仅管理员可见
func (s *auditLogService) List(ctx context.Context, query *AuditQuery) ([]*model.AuditLogModel, error) {
	if query == nil {
		query = &AuditQuery{}
	}
	return s.auditRepo.Find(repository.AuditFilter{
		UserID:       strings.TrimSpace(query.UserID),
		Action:       strings.TrimSpace(query.Action),
		ResourceType: strings.TrimSpace(query.ResourceType),
		ResourceID:   strings.TrimSpace(query.ResourceID),
		Limit:        query.Limit,
	})
}

// newAuditLog 构造审计日志，供事务内直接写入
func newAuditLog(ctx context.Context, userID, action, resourceType, resourceID string, details interface{}) (*model.AuditLogModel, error) {
	var detailsJSON []byte
	if details != nil {
		raw, err := json.Marshal(details)
		if err != nil {
			return nil, fmt.Errorf("failed to encode audit details: %w", err)
		}
		detailsJSON = raw
	}

	info := RequestInfoFrom(ctx)
	if userID == "" {
		userID = "anonymous"
	}

	return &model.AuditLogModel{
		ID:           uuid.New().String(),
		UserID:       userID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		RequestID:    info.RequestID,
		IP:           info.IP,
		UserAgent:    info.UserAgent,
		Details:      detailsJSON,
		CreatedAt:    time.Now(),
	}, nil
}
