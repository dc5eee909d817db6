package model

import (
	"errors"
	"time"
)

// 用户角色
const (
	RoleAdmin          = "Admin"
	RoleDeptHead       = "DeptHead"
	RoleProjectManager = "ProjectManager"
)

// UserModel 用户数据模型
type UserModel struct {
	UserID       string    `gorm:"primaryKey;type:varchar(64)"`
	Name         string    `gorm:"type:varchar(255);not null"`
	Email        string    `gorm:"type:varchar(255);not null;uniqueIndex"`
	PasswordHash string    `gorm:"type:varchar(255);not null"`
	Role         string    `gorm:"type:varchar(32);not null;index"`
	DeptID       *string   `gorm:"type:varchar(64);index"`
	CreatedAt    time.Time `gorm:"not null"`
}

// TableName 指定表名
func (UserModel) TableName() string {
	return "users"
}

// IsValidRole 判断角色是否合法
func IsValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleDeptHead, RoleProjectManager:
		return true
	}
	return false
}

// Validate 验证用户模型
func (um *UserModel) Validate() error {
	if um.UserID == "" {
		return errors.New("user ID is required")
	}
	if um.Email == "" {
		return errors.New("email is required")
	}
	if um.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	if !IsValidRole(um.Role) {
		return errors.New("invalid user role")
	}
	return nil
}
