package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthHandler 提供存活探针。
type HealthHandler struct{}

// NewHealthHandler 创建一个新的 HealthHandler 实例。
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

// Check 返回进程存活状态。
func (h *HealthHandler) Check(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
