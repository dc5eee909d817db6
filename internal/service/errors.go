package service

import (
	"errors"
	"fmt"
)

// 业务错误
var (
	// ErrValidation 请求参数不合法
	ErrValidation = errors.New("validation failed")
	// ErrEntryNotFound 账目不存在
	ErrEntryNotFound = errors.New("ledger entry not found")
	// ErrDepartmentNotFound 部门不存在
	ErrDepartmentNotFound = errors.New("department not found")
	// ErrDepartmentExists 部门名称重复
	ErrDepartmentExists = errors.New("department already exists")
	// ErrBudgetExceeded 子部门预算超出上级部门
	ErrBudgetExceeded = errors.New("budget allocation exceeds parent department budget")
	// ErrInvalidTransition 状态流转不合法
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrForbidden 无权操作该资源
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidCredentials 邮箱或密码错误
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrEmailTaken 邮箱已被使用
	ErrEmailTaken = errors.New("email already registered")
	// ErrAnchorDisabled 未配置链上客户端
	ErrAnchorDisabled = errors.New("chain anchoring is not available")
)

// ValidationError 参数校验错误，Error() 直接返回面向调用方的信息
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Is 使 errors.Is(err, ErrValidation) 成立
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// invalid 构造参数校验错误
func invalid(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}
