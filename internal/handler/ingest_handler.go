package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"news-rag-go/internal/model"
	"news-rag-go/internal/service"
	"news-rag-go/pkg/log"
)

// IngestHandler 负责处理摄取相关的 HTTP 请求。
type IngestHandler struct {
	ingestService service.IngestService
}

// NewIngestHandler 创建一个新的 IngestHandler 实例。
func NewIngestHandler(ingestService service.IngestService) *IngestHandler {
	return &IngestHandler{ingestService: ingestService}
}

// Trigger 同步执行一次摄取运行并返回报告。
func (h *IngestHandler) Trigger(c *gin.Context) {
	report, err := h.ingestService.Trigger(c.Request.Context())
	if err != nil {
		log.Errorf("[IngestHandler] 摄取运行失败: %v", err)
		// 报告依然返回，供运维对照部分完成的运行
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "摄取运行失败", "data": report})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": report})
}

// Enqueue 把一篇文章投递到异步摄取队列。
func (h *IngestHandler) Enqueue(c *gin.Context) {
	var article model.SourceArticle
	if err := c.ShouldBindJSON(&article); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的文章格式", "data": nil})
		return
	}
	if article.Title == "" || article.Body == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "文章标题与正文不能为空", "data": nil})
		return
	}

	taskID, err := h.ingestService.EnqueueArticle(c.Request.Context(), article)
	if err != nil {
		log.Errorf("[IngestHandler] 投递摄取任务失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "投递任务失败", "data": nil})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"code": http.StatusAccepted, "message": "success", "data": gin.H{"taskId": taskID}})
}

// LatestReport 返回最近一次摄取运行的报告。
func (h *IngestHandler) LatestReport(c *gin.Context) {
	report, err := h.ingestService.LatestReport(c.Request.Context())
	if err != nil {
		log.Errorf("[IngestHandler] 查询摄取报告失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询报告失败", "data": nil})
		return
	}
	if report == nil {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "尚无摄取运行记录", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": report})
}
