package model

import (
	"errors"
	"time"
)

// 锚定事件状态
const (
	AnchorEventPending    = "pending"
	AnchorEventProcessing = "processing"
	AnchorEventDone       = "done"
	AnchorEventFailed     = "failed"
)

// AnchorEventModel 上链锚定事件（outbox），与账目在同一事务中写入
type AnchorEventModel struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)"`
	EntryID   uint      `gorm:"not null;index"`
	Status    string    `gorm:"type:varchar(32);not null;default:'pending';index"`
	Attempts  int       `gorm:"type:int;default:0"`
	LastError string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"not null;index"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName 指定表名
func (AnchorEventModel) TableName() string {
	return "anchor_events"
}

// Validate 验证锚定事件模型
func (aem *AnchorEventModel) Validate() error {
	if aem.ID == "" {
		return errors.New("anchor event ID is required")
	}
	if aem.EntryID == 0 {
		return errors.New("entry ID is required")
	}
	if aem.Status == "" {
		aem.Status = AnchorEventPending
	}
	return nil
}
