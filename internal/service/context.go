package service

import (
	"context"

	"github.com/mautops/moneylens/internal/model"
)

type requestInfoKey struct{}

// RequestInfo 审计所需的请求信息
type RequestInfo struct {
	RequestID string
	IP        string
	UserAgent string
}

// WithRequestInfo 将请求信息附加到上下文
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

// RequestInfoFrom 从上下文读取请求信息
func RequestInfoFrom(ctx context.Context) RequestInfo {
	if ctx == nil {
		return RequestInfo{}
	}
	info, _ := ctx.Value(requestInfoKey{}).(RequestInfo)
	return info
}

// Actor 当前操作人
type Actor struct {
	UserID string
	Role   string
	DeptID string
}

// IsAdmin 是否管理员
func (a Actor) IsAdmin() bool {
	return a.Role == model.RoleAdmin
}

// canActOnDept 非管理员且绑定了部门时只能操作本部门
func (a Actor) canActOnDept(deptID string) bool {
	if a.IsAdmin() || a.DeptID == "" {
		return true
	}
	return a.DeptID == deptID
}
