package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// 账目业务状态
const (
	StatusPending  = "Pending"
	StatusApproved = "Approved"
	StatusRejected = "Rejected"
	StatusSettled  = "Settled"
)

// 上链锚定状态，与业务状态相互独立
const (
	AnchorNone     = "none"
	AnchorQueued   = "queued"
	AnchorAnchored = "anchored"
	AnchorFailed   = "failed"
)

// LedgerEntryModel 链下账目数据模型
type LedgerEntryModel struct {
	TransactionID   uint            `gorm:"primaryKey;autoIncrement" json:"transaction_id"`
	DeptID          string          `gorm:"type:varchar(64);not null;index" json:"dept_id"`
	FromDept        string          `gorm:"type:varchar(255);not null" json:"from_dept"`
	ToDept          string          `gorm:"type:varchar(255);not null" json:"to_dept"`
	Amount          decimal.Decimal `gorm:"type:decimal(19,4);not null" json:"amount"`
	Purpose         string          `gorm:"type:text;not null" json:"purpose"`
	Status          string          `gorm:"type:varchar(32);not null;index" json:"status"`
	CreatedByID     string          `gorm:"type:varchar(64);not null;index" json:"created_by"`
	ApprovedByID    *string         `gorm:"type:varchar(64)" json:"approved_by"`
	InvoiceURL      string          `gorm:"type:varchar(1024)" json:"invoice_url"`
	RejectionReason string          `gorm:"type:text" json:"rejection_reason"`
	Anomaly         bool            `gorm:"not null;default:false;index" json:"anomaly"`
	AnomalyReason   string          `gorm:"type:text" json:"anomaly_reason"`
	PreviousHash    string          `gorm:"type:varchar(64)" json:"previous_hash"`
	CurrentHash     string          `gorm:"type:varchar(64);not null;uniqueIndex" json:"current_hash"`
	AnchorState     string          `gorm:"type:varchar(16);not null;default:'none';index" json:"anchor_state"`
	AnchorError     string          `gorm:"type:text" json:"anchor_error"`
	TransactionHash *string         `gorm:"type:varchar(66);index" json:"transaction_hash"`
	ChainIndex      *uint64         `gorm:"index" json:"chain_index"`
	AnchoredAt      *time.Time      `json:"anchored_at"`
	CreatedAt       time.Time       `gorm:"not null;index" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"not null" json:"updated_at"`
}

// TableName 指定表名
func (LedgerEntryModel) TableName() string {
	return "ledger_entries"
}

// IsTerminal 是否处于终态
func (le *LedgerEntryModel) IsTerminal() bool {
	return le.Status == StatusRejected || le.Status == StatusSettled
}

// IsValidStatus 是否为已知状态
func IsValidStatus(status string) bool {
	switch status {
	case StatusPending, StatusApproved, StatusRejected, StatusSettled:
		return true
	}
	return false
}

// CanTransition 判断状态流转是否合法
func CanTransition(from, to string) bool {
	switch from {
	case StatusPending:
		return to == StatusApproved || to == StatusRejected
	case StatusApproved:
		return to == StatusSettled || to == StatusRejected
	}
	return false
}

// Validate 验证账目模型
func (le *LedgerEntryModel) Validate() error {
	if le.DeptID == "" {
		return errors.New("department ID is required")
	}
	if le.FromDept == "" || le.ToDept == "" {
		return errors.New("from and to departments are required")
	}
	if !le.Amount.IsPositive() {
		return errors.New("amount must be positive")
	}
	if le.Purpose == "" {
		return errors.New("purpose is required")
	}
	if le.CreatedByID == "" {
		return errors.New("creator is required")
	}
	if le.CurrentHash == "" {
		return errors.New("current hash is required")
	}
	if !IsValidStatus(le.Status) {
		return errors.New("invalid status")
	}
	return nil
}
