// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"news-rag-go/internal/model"
	"news-rag-go/internal/service"
	"news-rag-go/pkg/log"
	"news-rag-go/pkg/token"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理问答相关的 HTTP 与 WebSocket 请求。
type ChatHandler struct {
	chatService  service.ChatService
	tokenManager *token.Manager
}

// NewChatHandler 创建一个新的 ChatHandler 实例。
func NewChatHandler(chatService service.ChatService, tokenManager *token.Manager) *ChatHandler {
	return &ChatHandler{
		chatService:  chatService,
		tokenManager: tokenManager,
	}
}

// chatRequest 是非流式问答与流式令牌申请共用的请求体。
type chatRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message" binding:"required"`
}

// SendMessage 处理非流式问答请求。
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求参数", "data": nil})
		return
	}

	answer, err := h.chatService.SendMessage(c.Request.Context(), req.SessionID, req.Message)
	if err != nil {
		log.Errorf("[ChatHandler] 问答失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "问答失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": answer})
}

// GetHistory 返回按插入顺序排列的会话历史。
func (h *ChatHandler) GetHistory(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少 sessionId 参数", "data": nil})
		return
	}

	history, err := h.chatService.GetHistory(c.Request.Context(), sessionID)
	if err != nil {
		log.Errorf("[ChatHandler] 获取会话 %s 历史失败: %v", sessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取历史失败", "data": nil})
		return
	}
	if history == nil {
		history = []model.ConversationTurn{}
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": history})
}

// ResetSession 立即删除会话历史。
func (h *ChatHandler) ResetSession(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if err := h.chatService.ResetSession(c.Request.Context(), sessionID); err != nil {
		log.Errorf("[ChatHandler] 重置会话 %s 失败: %v", sessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "重置会话失败", "data": gin.H{"success": false}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"success": true}})
}

// GetStreamToken 为一次流式问答签发短时令牌。
// websocket 握手无法携带请求体，先把 (sessionId, message) 绑定进令牌。
func (h *ChatHandler) GetStreamToken(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求参数", "data": nil})
		return
	}

	t, err := h.tokenManager.GenerateStreamToken(req.SessionID, req.Message)
	if err != nil {
		log.Errorf("[ChatHandler] 签发流式令牌失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "签发令牌失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"token": t}})
}

// Stream 处理一个传入的 WebSocket 流式问答连接。
// 每个分片包装成 {"chunk":"..."} 下发，终止事件携带会话 ID 与引用列表。
func (h *ChatHandler) Stream(c *gin.Context) {
	claims, err := h.tokenManager.VerifyStreamToken(c.Param("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Errorf("[ChatHandler] WebSocket 升级失败: %v", err)
		return
	}
	defer conn.Close()

	// 客户端断开时取消生成，释放后端流句柄
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	ch, err := h.chatService.StreamMessage(ctx, claims.SessionID, claims.Message)
	if err != nil {
		log.Errorf("[ChatHandler] 流式问答启动失败: %v", err)
		_ = conn.WriteJSON(gin.H{"type": "error", "message": "问答失败"})
		return
	}

	for fragment := range ch {
		if fragment.Done {
			if fragment.Err != nil {
				_ = conn.WriteJSON(gin.H{"type": "error", "message": "生成中断"})
				return
			}
			_ = conn.WriteJSON(gin.H{
				"type":      "completion",
				"sessionId": fragment.SessionID,
				"citations": fragment.Citations,
			})
			return
		}
		if err := conn.WriteJSON(gin.H{"chunk": fragment.Delta}); err != nil {
			log.Warnf("[ChatHandler] 下发分片失败, 客户端可能已断开: %v", err)
			cancel()
			return
		}
	}
}
