package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// 上下文键
const (
	ContextUserID = "user_id"
	ContextEmail  = "email"
	ContextName   = "name"
	ContextRole   = "role"
	ContextDeptID = "dept_id"
	ContextClaims = "claims"
)

func abort(c *gin.Context, status int, msg string, detail string) {
	body := gin.H{"success": false, "error": msg}
	if detail != "" {
		body["detail"] = detail
	}
	c.AbortWithStatusJSON(status, body)
}

// BearerToken 从 Authorization 头中取出令牌
func BearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// JWTAuthMiddleware JWT 认证中间件
func JWTAuthMiddleware(tokens *TokenManager, blacklist Blacklist) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := BearerToken(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "missing or malformed authorization header", "")
			return
		}

		claims, err := tokens.Parse(token)
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, ErrTokenExpired) {
				msg = "token expired"
			}
			abort(c, http.StatusUnauthorized, msg, "")
			return
		}

		if blacklist != nil {
			revoked, err := blacklist.Contains(c.Request.Context(), claims.ID)
			if err != nil {
				logrus.WithError(err).Error("failed to check token blacklist")
				abort(c, http.StatusServiceUnavailable, "authentication backend unavailable", "")
				return
			}
			if revoked {
				abort(c, http.StatusUnauthorized, "token revoked", "")
				return
			}
		}

		// 将用户信息存储到上下文
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextEmail, claims.Email)
		c.Set(ContextName, claims.Name)
		c.Set(ContextRole, claims.Role)
		c.Set(ContextDeptID, claims.DeptID)
		c.Set(ContextClaims, claims)

		c.Next()
	}
}

// RequireRoles 角色权限中间件，须在 JWTAuthMiddleware 之后使用
func RequireRoles(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(ContextRole)
		if role == "" {
			abort(c, http.StatusUnauthorized, "unauthenticated", "")
			return
		}
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		abort(c, http.StatusForbidden, "insufficient role", role)
	}
}

// ClaimsFrom 取出当前请求的声明
func ClaimsFrom(c *gin.Context) (*Claims, bool) {
	v, ok := c.Get(ContextClaims)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}
