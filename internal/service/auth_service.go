package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/moneylens/internal/auth"
	"github.com/mautops/moneylens/internal/model"
	"github.com/mautops/moneylens/internal/repository"
	"gorm.io/gorm"
)

// AuthService 登录认证服务
type AuthService interface {
	Login(ctx context.Context, req *LoginRequest) (*LoginResult, error)
	Logout(ctx context.Context, claims *auth.Claims) error
	Me(ctx context.Context, userID string) (*UserView, error)
	// EnsureAdmin 不存在时创建管理员账号，返回是否新建
	EnsureAdmin(ctx context.Context, name, email, password string) (bool, error)
}

// LoginRequest 登录请求
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResult 登录结果
type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *UserView `json:"user"`
}

// UserView 对外展示的用户信息，不含密码哈希
type UserView struct {
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	DeptID    *string   `json:"dept_id"`
	CreatedAt time.Time `json:"created_at"`
}

// NewUserView 转换用户模型
func NewUserView(u *model.UserModel) *UserView {
	return &UserView{
		UserID:    u.UserID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      u.Role,
		DeptID:    u.DeptID,
		CreatedAt: u.CreatedAt,
	}
}

// authService 认证服务实现
type authService struct {
	db        *gorm.DB
	userRepo  repository.UserRepository
	tokens    *auth.TokenManager
	blacklist auth.Blacklist
	auditSvc  AuditLogService
}

// NewAuthService 创建认证服务
func NewAuthService(db *gorm.DB, tokens *auth.TokenManager, blacklist auth.Blacklist, auditSvc AuditLogService) AuthService {
	return &authService{
		db:        db,
		userRepo:  repository.NewUserRepository(db),
		tokens:    tokens,
		blacklist: blacklist,
		auditSvc:  auditSvc,
	}
}

// Login 校验邮箱密码并签发令牌
func (s *authService) Login(ctx context.Context, req *LoginRequest) (*LoginResult, error) {
	if req == nil || strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return nil, invalid("email and password are required")
	}

	user, err := s.userRepo.FindByEmail(strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		return nil, ErrInvalidCredentials
	}

	sub := auth.Subject{
		UserID: user.UserID,
		Email:  user.Email,
		Name:   user.Name,
		Role:   user.Role,
	}
	if user.DeptID != nil {
		sub.DeptID = *user.DeptID
	}
	token, claims, err := s.tokens.Issue(sub)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	if s.auditSvc != nil {
		_ = s.auditSvc.RecordAction(ctx, user.UserID, ActionLogin, ResourceUser, user.UserID, map[string]string{"email": user.Email})
	}

	return &LoginResult{
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
		User:      NewUserView(user),
	}, nil
}

// Logout 将令牌加入黑名单直至过期
func (s *authService) Logout(ctx context.Context, claims *auth.Claims) error {
	if claims == nil || claims.ID == "" {
		return auth.ErrTokenInvalid
	}
	ttl := s.tokens.Remaining(claims)
	if ttl <= 0 {
		return nil
	}
	if err := s.blacklist.Add(ctx, claims.ID, ttl); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	if s.auditSvc != nil {
		_ = s.auditSvc.RecordAction(ctx, claims.UserID, ActionLogout, ResourceUser, claims.UserID, nil)
	}
	return nil
}

// Me 当前用户信息
func (s *authService) Me(ctx context.Context, userID string) (*UserView, error) {
	user, err := s.userRepo.FindByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	return NewUserView(user), nil
}

// EnsureAdmin 创建初始管理员
func (s *authService) EnsureAdmin(ctx context.Context, name, email, password string) (bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false, invalid("admin email is required")
	}

	if _, err := s.userRepo.FindByEmail(email); err == nil {
		return false, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return false, invalid("admin password: %s", err.Error())
	}
	if strings.TrimSpace(name) == "" {
		name = "Administrator"
	}

	user := &model.UserModel{
		UserID:       uuid.New().String(),
		Name:         strings.TrimSpace(name),
		Email:        email,
		PasswordHash: hash,
		Role:         model.RoleAdmin,
		CreatedAt:    time.Now(),
	}
	if err := user.Validate(); err != nil {
		return false, invalid("%s", err.Error())
	}
	if err := s.userRepo.Save(user); err != nil {
		return false, fmt.Errorf("failed to create admin: %w", err)
	}
	return true, nil
}
