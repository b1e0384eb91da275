package handler

import (
	"chatify/internal/service"
	"chatify/pkg/jwt"
	"chatify/pkg/response"

	"github.com/gin-gonic/gin"
)

// MessageHandler 消息处理器
type MessageHandler struct {
	service *service.MessageService
}

// NewMessageHandler 创建MessageHandler实例
func NewMessageHandler(s *service.MessageService) *MessageHandler {
	return &MessageHandler{service: s}
}

// Register 挂载 /api/messages 下的路由
func (h *MessageHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/contacts", h.GetContacts)
	rg.GET("/chats", h.GetChatPartners)
	rg.GET("/:id", h.GetMessages)
	rg.POST("/send/:id", h.SendMessage)
	rg.POST("/:id/react", h.React)
	rg.PUT("/:id/edit", h.Edit)
	rg.DELETE("/:id", h.Delete)
}

// GetContacts 除自己外的所有用户
func (h *MessageHandler) GetContacts(c *gin.Context) {
	users, err := h.service.Contacts(c.Request.Context(), jwt.GetUserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, users)
}

// GetChatPartners 聊过天的用户
func (h *MessageHandler) GetChatPartners(c *gin.Context) {
	partners, err := h.service.ChatPartners(c.Request.Context(), jwt.GetUserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, partners)
}

// GetMessages 与指定用户的消息历史
func (h *MessageHandler) GetMessages(c *gin.Context) {
	otherID, ok := paramID(c, "id")
	if !ok {
		return
	}
	messages, err := h.service.Conversation(c.Request.Context(), jwt.GetUserID(c), otherID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, messages)
}

// SendMessage 发送消息，持久化成功即返回201
func (h *MessageHandler) SendMessage(c *gin.Context) {
	receiverID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var in service.SendInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	message, err := h.service.Send(c.Request.Context(), jwt.GetUserID(c), receiverID, in)
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, message)
}

// React 设置/切换回应
func (h *MessageHandler) React(c *gin.Context) {
	messageID, ok := paramID(c, "id")
	if !ok {
		return
	}
	type req struct {
		Type string `json:"type"`
		Kind string `json:"kind"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	kind := r.Kind
	if kind == "" {
		kind = r.Type
	}

	message, err := h.service.React(c.Request.Context(), jwt.GetUserID(c), messageID, kind)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, message)
}

// Edit 编辑消息文本
func (h *MessageHandler) Edit(c *gin.Context) {
	messageID, ok := paramID(c, "id")
	if !ok {
		return
	}
	type req struct {
		Text string `json:"text"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	message, err := h.service.Edit(c.Request.Context(), jwt.GetUserID(c), messageID, r.Text)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, message)
}

// Delete 撤回消息（保留记录，替换为撤回标记）
func (h *MessageHandler) Delete(c *gin.Context) {
	messageID, ok := paramID(c, "id")
	if !ok {
		return
	}
	message, err := h.service.Delete(c.Request.Context(), jwt.GetUserID(c), messageID)
	if err != nil {
		fail(c, err)
		return
	}
	response.SuccessWithMessage(c, "Message deleted", message)
}
