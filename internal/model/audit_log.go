package model

import (
	"errors"
	"time"
)

// AuditLogModel 写操作审计记录
// 链上写入的 ResourceID 为交易哈希，其余为资源主键
type AuditLogModel struct {
	ID           string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	UserID       string    `gorm:"type:varchar(64);not null" json:"user_id"`
	Action       string    `gorm:"type:varchar(64);not null;index" json:"action"`
	ResourceType string    `gorm:"type:varchar(32);not null" json:"resource_type"`
	ResourceID   string    `gorm:"type:varchar(66);not null" json:"resource_id"`
	RequestID    string    `gorm:"type:varchar(64);index" json:"request_id,omitempty"`
	IP           string    `gorm:"type:varchar(45)" json:"ip,omitempty"`
	UserAgent    string    `gorm:"type:text" json:"user_agent,omitempty"`
	Details      []byte    `gorm:"type:jsonb" json:"-"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`
}

// TableName 指定表名
func (AuditLogModel) TableName() string {
	return "audit_logs"
}

// Validate 必填字段检查
func (m *AuditLogModel) Validate() error {
	switch {
	case m.ID == "":
		return errors.New("audit log id is required")
	case m.UserID == "":
		return errors.New("audit log user is required")
	case m.Action == "":
		return errors.New("audit log action is required")
	case m.ResourceType == "" || m.ResourceID == "":
		return errors.New("audit log resource is required")
	}
	return nil
}
