package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorResponse 错误响应格式
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Detail  string `json:"detail,omitempty"`
}

// Success 成功响应，fields 与 success 标记平铺在同一层
func Success(c *gin.Context, fields gin.H) {
	Respond(c, http.StatusOK, fields)
}

// Created 创建成功响应
func Created(c *gin.Context, fields gin.H) {
	Respond(c, http.StatusCreated, fields)
}

// Respond 指定状态码的成功响应
func Respond(c *gin.Context, status int, fields gin.H) {
	body := gin.H{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	c.JSON(status, body)
}

// Error 错误响应
func Error(c *gin.Context, code int, message string, detail string) {
	statusCode := http.StatusInternalServerError
	if code >= 400 && code < 600 {
		statusCode = code
	}

	c.AbortWithStatusJSON(statusCode, ErrorResponse{
		Success: false,
		Error:   message,
		Detail:  detail,
	})
}
