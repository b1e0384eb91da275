package handler

import (
	"errors"
	"net/http"
	"strconv"

	"chatify/internal/service"
	"chatify/pkg/logger"
	"chatify/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// statusOf 业务错误类别对应的HTTP状态码
func statusOf(kind service.Kind) int {
	switch kind {
	case service.KindInvalidRequest, service.KindEditWindowExpired:
		return http.StatusBadRequest
	case service.KindUnauthorized:
		return http.StatusUnauthorized
	case service.KindForbidden:
		return http.StatusForbidden
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindConflict:
		return http.StatusConflict
	case service.KindUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail 把service层错误写成统一响应
func fail(c *gin.Context, err error) {
	var se *service.Error
	if !errors.As(err, &se) {
		logger.Error("未分类的错误", zap.String("path", c.FullPath()), zap.Error(err))
		response.ErrorWithDetails(c, http.StatusInternalServerError, "Internal server error", err)
		return
	}

	status := statusOf(se.Kind)
	if status >= http.StatusInternalServerError {
		logger.Error("请求处理失败",
			zap.String("path", c.FullPath()),
			zap.String("kind", se.Kind.String()),
			zap.Error(err),
		)
		response.ErrorWithDetails(c, status, se.Message, se.Err)
		return
	}
	response.Error(c, status, se.Message)
}

// paramID 解析路径中的ID参数
func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}
