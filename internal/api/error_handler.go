package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/mautops/moneylens/internal/chain"
	"github.com/mautops/moneylens/internal/service"
	"github.com/mautops/moneylens/internal/utils"
	"github.com/sirupsen/logrus"
)

// maxBodyBytes 请求体上限
const maxBodyBytes = 1 << 20

// APIError API 错误
type APIError struct {
	Code    int
	Message string
	Detail  string
}

func (e *APIError) Error() string {
	return e.Message
}

// ErrorHandlerMiddleware 将 handler 通过 c.Error 记录的错误转换为统一响应
func ErrorHandlerMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		var apiErr *APIError
		if errors.As(err, &apiErr) {
			Error(c, apiErr.Code, apiErr.Message, apiErr.Detail)
			return
		}
		status, message := ErrorStatus(err)
		if status >= http.StatusInternalServerError {
			logger.WithError(err).WithField("request_id", c.GetString(RequestIDKey)).Error("request failed")
		}
		Error(c, status, message, detailFor(status, message, err))
	}
}

// WrapError 包装错误
func WrapError(err error, code int, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Detail:  err.Error(),
	}
}

// ChainErrorStatus 将链上错误映射为 HTTP 状态码
func ChainErrorStatus(err error) int {
	switch {
	case errors.Is(err, chain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chain.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, chain.ErrTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// ErrorStatus 将服务层与链上错误映射为状态码和面向调用方的信息
func ErrorStatus(err error) (int, string) {
	var verr *utils.ValidationError
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Message
	case errors.Is(err, service.ErrBudgetExceeded):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrEntryNotFound), errors.Is(err, service.ErrDepartmentNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrDepartmentExists),
		errors.Is(err, service.ErrEmailTaken):
		return http.StatusConflict, err.Error()
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, service.ErrAnchorDisabled):
		return http.StatusServiceUnavailable, err.Error()
	}

	status := ChainErrorStatus(err)
	switch status {
	case http.StatusNotFound:
		return status, "Transaction not found"
	case http.StatusServiceUnavailable:
		return status, chain.ErrUnavailable.Error()
	case http.StatusGatewayTimeout:
		return status, chain.ErrTimeout.Error()
	}
	// 其余链上错误原样返回
	return status, err.Error()
}

// detailFor 只有信息被概括时才附带原始错误
func detailFor(status int, message string, err error) string {
	if status == http.StatusNotFound || err.Error() == message {
		return ""
	}
	return err.Error()
}

// handleError 直接写出错误响应
func handleError(c *gin.Context, err error) {
	_ = c.Error(err)
	status, message := ErrorStatus(err)
	Error(c, status, message, detailFor(status, message, err))
}

// bindJSON 严格解析 JSON 请求体：拒绝未知字段与类型错误，然后执行 binding 校验
func bindJSON(c *gin.Context, obj interface{}) error {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)

	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(obj); err != nil {
		if errors.Is(err, io.EOF) {
			return &APIError{Code: http.StatusBadRequest, Message: "invalid request", Detail: "request body is required"}
		}
		return WrapError(err, http.StatusBadRequest, "invalid request")
	}
	if dec.More() {
		return &APIError{Code: http.StatusBadRequest, Message: "invalid request", Detail: "unexpected data after JSON body"}
	}
	if err := binding.Validator.ValidateStruct(obj); err != nil {
		return WrapError(err, http.StatusBadRequest, "invalid request")
	}
	return nil
}

// bindQuery 解析查询参数
func bindQuery(c *gin.Context, obj interface{}) error {
	if err := c.ShouldBindQuery(obj); err != nil {
		return WrapError(err, http.StatusBadRequest, "invalid query")
	}
	return nil
}

// respondBindError 输出绑定错误
func respondBindError(c *gin.Context, err error) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		Error(c, apiErr.Code, apiErr.Message, apiErr.Detail)
		return
	}
	Error(c, http.StatusBadRequest, "invalid request", fmt.Sprint(err))
}
