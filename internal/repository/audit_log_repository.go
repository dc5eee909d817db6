package repository

import (
	"github.com/mautops/moneylens/internal/model"
	"gorm.io/gorm"
)

// maxAuditPage 单次查询审计记录的上限
const maxAuditPage = 500

// AuditFilter 审计查询条件，空字段不参与过滤
type AuditFilter struct {
	UserID       string
	Action       string
	ResourceType string
	ResourceID   string
	Limit        int
}

// AuditLogRepository 审计日志仓储接口
type AuditLogRepository interface {
	Create(log *model.AuditLogModel) error
	FindByResource(resourceType string, resourceID string) ([]*model.AuditLogModel, error)
	Find(filter AuditFilter) ([]*model.AuditLogModel, error)
}

type auditLogRepository struct {
	db *gorm.DB
}

// NewAuditLogRepository 创建审计日志仓储
func NewAuditLogRepository(db *gorm.DB) AuditLogRepository {
	return &auditLogRepository{db: db}
}

// Create 写入审计记录，记录只追加不修改
func (r *auditLogRepository) Create(log *model.AuditLogModel) error {
	if err := log.Validate(); err != nil {
		return err
	}
	return r.db.Create(log).Error
}

// FindByResource 查询单个资源的审计记录，新的在前
func (r *auditLogRepository) FindByResource(resourceType string, resourceID string) ([]*model.AuditLogModel, error) {
	return r.Find(AuditFilter{ResourceType: resourceType, ResourceID: resourceID})
}

// Find 按条件查询审计记录，新的在前
func (r *auditLogRepository) Find(filter AuditFilter) ([]*model.AuditLogModel, error) {
	limit := filter.Limit
	if limit <= 0 || limit > maxAuditPage {
		limit = maxAuditPage
	}

	q := r.db.Model(&model.AuditLogModel{})
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.Action != "" {
		q = q.Where("action = ?", filter.Action)
	}
	if filter.ResourceType != "" {
		q = q.Where("resource_type = ?", filter.ResourceType)
	}
	if filter.ResourceID != "" {
		q = q.Where("resource_id = ?", filter.ResourceID)
	}

	logs := make([]*model.AuditLogModel, 0)
	err := q.Order("created_at DESC").Limit(limit).Find(&logs).Error
	return logs, err
}
