package controllers

import (
	"github.com/gin-gonic/gin"

	"rentgidi-chat/middlewares"
	"rentgidi-chat/models"
	"rentgidi-chat/services"
	"rentgidi-chat/utils"
)

type MessageController struct {
	messages *services.MessageService
}

func NewMessageController(messages *services.MessageService) *MessageController {
	return &MessageController{messages: messages}
}

type sendMessageRequest struct {
	TopicID     string              `json:"topicId"`
	ReceiverID  string              `json:"receiverId"`
	Content     string              `json:"content"`
	MessageType string              `json:"messageType"`
	Attachments []models.Attachment `json:"attachments"`
}

type sendMessageResponse struct {
	MessageID    string                    `json:"messageId"`
	Message      *models.Message           `json:"message"`
	Conversation services.ConversationView `json:"conversation"`
}

// SendMessage 与 socket sendMessage 走同一个 MessageService.SendMessage，不做推送
func (ctl *MessageController) SendMessage(c *gin.Context) {
	var input sendMessageRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondError(c, &services.Error{Kind: services.ErrValidation, Msg: "invalid request body"})
		return
	}
	res, err := ctl.messages.SendMessage(c.Request.Context(), services.SendInput{
		SenderID:    c.GetString(middlewares.ContextUserID),
		RecipientID: input.ReceiverID,
		TopicID:     input.TopicID,
		Content:     input.Content,
		Kind:        input.MessageType,
		Attachments: input.Attachments,
	})
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondCreated(c, sendMessageResponse{
		MessageID:    res.Message.MessageID,
		Message:      res.Message,
		Conversation: services.NewConversationView(res.Conversation),
	})
}

// GetMessages 按会话 ID 分页拉取历史，用于断线补齐
func (ctl *MessageController) GetMessages(c *gin.Context) {
	conversationID := c.Query("conversationId")
	if conversationID == "" {
		utils.RespondError(c, &services.Error{Kind: services.ErrValidation, Msg: "conversationId is required"})
		return
	}
	page, limit := pageParams(c)
	history, err := ctl.messages.GetConversationHistory(c.Request.Context(), conversationID, c.GetString(middlewares.ContextUserID), page, limit)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondSuccess(c, history)
}

// MarkAsRead 重复标记返回 200
func (ctl *MessageController) MarkAsRead(c *gin.Context) {
	res, err := ctl.messages.MarkMessageAsRead(c.Request.Context(), c.Param("id"), c.GetString(middlewares.ContextUserID))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondSuccess(c, res.Message)
}
