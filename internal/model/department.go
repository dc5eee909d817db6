package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// DepartmentModel 部门数据模型，ParentDeptID 为空表示根部门
type DepartmentModel struct {
	DeptID          string          `gorm:"primaryKey;type:varchar(64)" json:"dept_id"`
	Name            string          `gorm:"type:varchar(255);not null;uniqueIndex" json:"name"`
	Description     string          `gorm:"type:text" json:"description"`
	ParentDeptID    *string         `gorm:"type:varchar(64);index" json:"parent_dept_id"`
	HeadUserID      *string         `gorm:"type:varchar(64)" json:"head_user_id"`
	AllocatedBudget decimal.Decimal `gorm:"type:decimal(19,4);not null;default:0" json:"allocated_budget"`
	CreatedAt       time.Time       `gorm:"not null" json:"created_at"`
}

// TableName 指定表名
func (DepartmentModel) TableName() string {
	return "departments"
}

// Validate 验证部门模型
func (dm *DepartmentModel) Validate() error {
	if dm.DeptID == "" {
		return errors.New("department ID is required")
	}
	if dm.Name == "" {
		return errors.New("department name is required")
	}
	if dm.AllocatedBudget.IsNegative() {
		return errors.New("allocated budget must not be negative")
	}
	if dm.ParentDeptID != nil && *dm.ParentDeptID == dm.DeptID {
		return errors.New("department cannot be its own parent")
	}
	return nil
}
