package controllers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"rentgidi-chat/middlewares"
	"rentgidi-chat/services"
	"rentgidi-chat/utils"
)

type ConversationController struct {
	messages *services.MessageService
}

func NewConversationController(messages *services.MessageService) *ConversationController {
	return &ConversationController{messages: messages}
}

// GetConversations 当前用户的会话列表，按最近活动倒序
func (ctl *ConversationController) GetConversations(c *gin.Context) {
	userID := c.GetString(middlewares.ContextUserID)
	list, err := ctl.messages.GetUserConversationsList(c.Request.Context(), userID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondSuccess(c, list)
}

// GetConversationByTopic 某个房源下的会话历史，?with= 指定对方
func (ctl *ConversationController) GetConversationByTopic(c *gin.Context) {
	userID := c.GetString(middlewares.ContextUserID)
	page, limit := pageParams(c)
	history, err := ctl.messages.GetConversationByTopic(c.Request.Context(), c.Param("topicId"), userID, c.Query("with"), page, limit)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondSuccess(c, history)
}

// SetConversationActive 参与者启用或停用会话
func (ctl *ConversationController) SetConversationActive(c *gin.Context) {
	var input struct {
		Active *bool `json:"active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondError(c, &services.Error{Kind: services.ErrValidation, Msg: "active is required"})
		return
	}
	userID := c.GetString(middlewares.ContextUserID)
	conv, err := ctl.messages.SetConversationActive(c.Request.Context(), c.Param("id"), userID, *input.Active)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondSuccess(c, services.NewConversationView(conv))
}

// pageParams 非法或缺省值交给 services.NormalizePage 处理
func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	return page, limit
}
