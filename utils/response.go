package utils

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"rentgidi-chat/services"
)

// RespondSuccess 200 返回数据
func RespondSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// RespondCreated 201 返回数据
func RespondCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, data)
}

// RespondError 按错误类型映射状态码，存储错误只返回通用信息
func RespondError(c *gin.Context, err error) {
	status := StatusFor(err)
	msg := "internal server error"
	var svcErr *services.Error
	switch {
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrInvalidToken):
		msg = "unauthorized"
	case errors.As(err, &svcErr):
		// services.Error 的信息本身可以对外展示
		msg = svcErr.Msg
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// StatusFor 错误 -> HTTP 状态码
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
