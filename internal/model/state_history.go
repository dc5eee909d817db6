package model

import (
	"errors"
	"fmt"
	"time"
)

// StateHistoryModel 账目状态流转记录，自增主键保证同一时刻写入的记录有序
type StateHistoryModel struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryID   uint      `gorm:"not null;index" json:"entry_id"`
	FromState string    `gorm:"type:varchar(32)" json:"from_state"`
	ToState   string    `gorm:"type:varchar(32);not null" json:"to_state"`
	Reason    string    `gorm:"type:text" json:"reason"`
	Operator  string    `gorm:"type:varchar(64);not null" json:"operator"`
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}

// TableName 指定表名
func (StateHistoryModel) TableName() string {
	return "state_history"
}

// Validate 校验流转记录，目标状态必须是已知状态
func (m *StateHistoryModel) Validate() error {
	if m.EntryID == 0 {
		return errors.New("history entry id is required")
	}
	if !IsValidStatus(m.ToState) {
		return fmt.Errorf("invalid target status %q", m.ToState)
	}
	if m.FromState != "" && !IsValidStatus(m.FromState) {
		return fmt.Errorf("invalid source status %q", m.FromState)
	}
	if m.Operator == "" {
		return errors.New("history operator is required")
	}
	return nil
}
