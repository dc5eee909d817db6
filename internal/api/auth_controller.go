package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/moneylens/internal/auth"
	"github.com/mautops/moneylens/internal/service"
)

// AuthController 登录控制器
type AuthController struct {
	authService service.AuthService
}

// NewAuthController 创建登录控制器
func NewAuthController(authService service.AuthService) *AuthController {
	return &AuthController{authService: authService}
}

// Login 邮箱密码登录，签发 bearer 令牌
// @Summary      登录
// @Description  邮箱密码登录，返回 bearer 令牌
// @Tags         认证
// @Accept       json
// @Produce      json
// @Param        request body service.LoginRequest true "登录信息"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  ErrorResponse
// @Failure      401  {object}  ErrorResponse
// @Router       /login [post]
func (a *AuthController) Login(c *gin.Context) {
	var req service.LoginRequest
	if err := bindJSON(c, &req); err != nil {
		respondBindError(c, err)
		return
	}

	result, err := a.authService.Login(requestContext(c), &req)
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, gin.H{
		"token":      result.Token,
		"expires_at": result.ExpiresAt,
		"user":       result.User,
	})
}

// Logout 吊销当前令牌
// @Summary      登出
// @Description  吊销当前令牌
// @Tags         认证
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  ErrorResponse
// @Router       /logout [post]
// @Security     BearerAuth
func (a *AuthController) Logout(c *gin.Context) {
	claims, ok := auth.ClaimsFrom(c)
	if !ok {
		Error(c, http.StatusUnauthorized, "unauthenticated", "")
		return
	}
	if err := a.authService.Logout(requestContext(c), claims); err != nil {
		handleError(c, err)
		return
	}
	Success(c, gin.H{"message": "Logged out"})
}

// Me 当前用户
// @Summary      当前用户
// @Description  返回令牌对应的用户
// @Tags         认证
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /me [get]
// @Security     BearerAuth
func (a *AuthController) Me(c *gin.Context) {
	user, err := a.authService.Me(requestContext(c), c.GetString(auth.ContextUserID))
	if err != nil {
		handleError(c, err)
		return
	}
	Success(c, gin.H{"user": user})
}
