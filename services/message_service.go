package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rentgidi-chat/models"
	"rentgidi-chat/store"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	maxContentLen   = 5000
	previewLen      = 120
)

// ConversationView 会话对外结构
type ConversationView struct {
	ID            string     `json:"_id"`
	Participants  []string   `json:"participants"`
	TopicID       string     `json:"topicId"`
	LastMessageID string     `json:"lastMessage,omitempty"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	IsActive      bool       `json:"isActive"`
	CreatedAt     time.Time  `json:"createdAt"`
}

func NewConversationView(c *models.Conversation) ConversationView {
	return ConversationView{
		ID:            c.ConversationID,
		Participants:  c.Participants(),
		TopicID:       c.TopicID,
		LastMessageID: c.LastMessageID,
		LastMessageAt: c.LastMessageAt,
		IsActive:      c.IsActive,
		CreatedAt:     c.CreatedAt,
	}
}

type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
	HasMore    bool  `json:"hasMore"`
}

// History 一页历史消息，消息按时间正序
type History struct {
	Messages     []models.Message `json:"messages"`
	Conversation ConversationView `json:"conversation"`
	Topic        Topic            `json:"topic"`
	Pagination   Pagination       `json:"pagination"`
}

type LastMessagePreview struct {
	ID       string `json:"_id"`
	Content  string `json:"content"`
	SenderID string `json:"senderId"`
}

// ConversationSummary 会话列表中的一项
type ConversationSummary struct {
	ID               string              `json:"_id"`
	OtherParticipant Identity            `json:"otherParticipant"`
	Topic            Topic               `json:"topic"`
	LastMessage      *LastMessagePreview `json:"lastMessage,omitempty"`
	LastMessageAt    *time.Time          `json:"lastMessageAt,omitempty"`
	UnreadCount      int64               `json:"unreadCount"`
	IsActive         bool                `json:"isActive"`
}

type SendInput struct {
	SenderID    string
	RecipientID string
	TopicID     string
	Content     string
	Kind        string
	Attachments []models.Attachment
}

type SendResult struct {
	Message      *models.Message
	Conversation *models.Conversation
}

type ReadResult struct {
	Message *models.Message
	// Changed 为 false 表示消息此前已读
	Changed bool
}

// MessageService 网关和 REST 共用的消息核心逻辑
type MessageService struct {
	store    *store.Store
	users    UserDirectory
	topics   TopicDirectory
	notifier NotificationDispatcher
	log      *zap.Logger
	now      func() time.Time
}

type Option func(*MessageService)

// WithClock 替换时间来源，测试使用
func WithClock(now func() time.Time) Option {
	return func(s *MessageService) { s.now = now }
}

func NewMessageService(st *store.Store, users UserDirectory, topics TopicDirectory, notifier NotificationDispatcher, log *zap.Logger, opts ...Option) *MessageService {
	s := &MessageService{
		store:    st,
		users:    users,
		topics:   topics,
		notifier: notifier,
		log:      log.Named("messages"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendMessage 校验、查找或创建会话、在同一事务中写入消息并更新会话，最后派发通知
func (s *MessageService) SendMessage(ctx context.Context, in SendInput) (*SendResult, error) {
	content := strings.TrimSpace(in.Content)
	switch {
	case in.SenderID == "":
		return nil, validationError("sender is required")
	case in.TopicID == "":
		return nil, validationError("topicId is required")
	case in.RecipientID == "":
		return nil, validationError("receiverId is required")
	case in.RecipientID == in.SenderID:
		return nil, validationError("cannot send a message to yourself")
	case content == "":
		return nil, validationError("message content cannot be empty")
	case utf8.RuneCountInString(content) > maxContentLen:
		return nil, validationError("message content is too long")
	}
	kind := in.Kind
	if kind == "" {
		kind = models.MessageTypeText
	}
	if !models.ValidMessageType(kind) {
		return nil, validationError("unsupported message type")
	}

	if _, err := s.users.ResolveUser(ctx, in.RecipientID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, validationError("recipient does not exist")
		}
		s.log.Error("failed to resolve recipient", zap.String("recipientId", in.RecipientID), zap.Error(err))
		return nil, storageError("failed to send message")
	}

	conv, created, err := s.store.FindOrCreateConversation(ctx, in.SenderID, in.RecipientID, in.TopicID)
	if err != nil {
		s.log.Error("failed to find or create conversation", zap.String("topicId", in.TopicID), zap.Error(err))
		return nil, storageError("failed to send message")
	}
	if !conv.IsActive {
		return nil, validationError("conversation is no longer active")
	}

	now := s.now().UTC()
	msg := &models.Message{
		MessageID:      uuid.NewString(),
		ConversationID: conv.ConversationID,
		SenderID:       in.SenderID,
		ReceiverID:     in.RecipientID,
		TopicID:        in.TopicID,
		Content:        content,
		MessageType:    kind,
		Attachments:    in.Attachments,
		CreatedAt:      now,
	}
	err = s.store.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.CreateMessage(ctx, msg); err != nil {
			return err
		}
		return tx.TouchLastMessage(ctx, conv.ConversationID, msg.MessageID, now)
	})
	if err != nil {
		s.log.Error("failed to persist message", zap.String("conversationId", conv.ConversationID), zap.Error(err))
		return nil, storageError("failed to send message")
	}
	conv.LastMessageID = msg.MessageID
	conv.LastMessageAt = &now

	if created {
		s.log.Info("conversation created", zap.String("conversationId", conv.ConversationID), zap.String("topicId", conv.TopicID))
	}

	s.notifier.Dispatch(Notification{
		RecipientID:    msg.ReceiverID,
		SenderID:       msg.SenderID,
		ConversationID: msg.ConversationID,
		TopicID:        msg.TopicID,
		MessageID:      msg.MessageID,
		Preview:        preview(msg.Content),
		CreatedAt:      msg.CreatedAt,
	})

	return &SendResult{Message: msg, Conversation: conv}, nil
}

// GetConversationByTopic 取用户在该房源下的会话历史
// with 非空时指定对方；否则取最近活跃的会话
func (s *MessageService) GetConversationByTopic(ctx context.Context, topicID, userID, with string, page, limit int) (*History, error) {
	if topicID == "" {
		return nil, validationError("topicId is required")
	}

	var conv *models.Conversation
	if with != "" {
		c, err := s.store.FindConversation(ctx, userID, with, topicID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			s.log.Error("failed to load conversation", zap.String("topicId", topicID), zap.Error(err))
			return nil, storageError("failed to load conversation")
		}
		conv = c
	} else {
		convs, err := s.store.ConversationsForTopic(ctx, topicID, userID)
		if err != nil {
			s.log.Error("failed to load conversations", zap.String("topicId", topicID), zap.Error(err))
			return nil, storageError("failed to load conversation")
		}
		if len(convs) > 0 {
			conv = &convs[0]
		}
	}

	if conv == nil {
		exists, err := s.store.TopicHasConversations(ctx, topicID)
		if err != nil {
			return nil, storageError("failed to load conversation")
		}
		if exists {
			return nil, forbiddenError("you are not a participant of this conversation")
		}
		return nil, notFoundError("conversation not found")
	}
	return s.history(ctx, conv, userID, page, limit)
}

// GetConversationHistory 按会话 ID 取历史
func (s *MessageService) GetConversationHistory(ctx context.Context, conversationID, userID string, page, limit int) (*History, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFoundError("conversation not found")
		}
		return nil, storageError("failed to load conversation")
	}
	return s.history(ctx, conv, userID, page, limit)
}

func (s *MessageService) history(ctx context.Context, conv *models.Conversation, userID string, page, limit int) (*History, error) {
	if !conv.HasParticipant(userID) {
		return nil, forbiddenError("you are not a participant of this conversation")
	}
	page, limit = NormalizePage(page, limit)

	msgs, total, err := s.store.ListMessages(ctx, conv.ConversationID, (page-1)*limit, limit)
	if err != nil {
		s.log.Error("failed to list messages", zap.String("conversationId", conv.ConversationID), zap.Error(err))
		return nil, storageError("failed to load messages")
	}
	topic, err := s.topics.ResolveTopic(ctx, conv.TopicID)
	if err != nil {
		s.log.Warn("failed to resolve topic", zap.String("topicId", conv.TopicID), zap.Error(err))
		topic = Topic{ID: conv.TopicID}
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return &History{
		Messages:     msgs,
		Conversation: NewConversationView(conv),
		Topic:        topic,
		Pagination: Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: totalPages,
			HasMore:    page < totalPages,
		},
	}, nil
}

// MarkMessageAsRead 只有接收方可以标记已读，重复标记视为成功
// 非会话成员得到 not found，不暴露消息是否存在
func (s *MessageService) MarkMessageAsRead(ctx context.Context, messageID, userID string) (*ReadResult, error) {
	if messageID == "" {
		return nil, validationError("messageId is required")
	}
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFoundError("message not found")
		}
		s.log.Error("failed to load message", zap.String("messageId", messageID), zap.Error(err))
		return nil, storageError("failed to mark message as read")
	}
	switch userID {
	case msg.ReceiverID:
	case msg.SenderID:
		return nil, forbiddenError("only the recipient can mark a message as read")
	default:
		return nil, notFoundError("message not found")
	}
	if msg.IsRead {
		return &ReadResult{Message: msg}, nil
	}

	now := s.now().UTC()
	changed, err := s.store.MarkRead(ctx, messageID, now)
	if err != nil {
		s.log.Error("failed to mark message read", zap.String("messageId", messageID), zap.Error(err))
		return nil, storageError("failed to mark message as read")
	}
	if !changed {
		// 并发标记，以库中的已读时间为准
		fresh, err := s.store.GetMessage(ctx, messageID)
		if err != nil {
			s.log.Error("failed to reload message", zap.String("messageId", messageID), zap.Error(err))
			return nil, storageError("failed to mark message as read")
		}
		return &ReadResult{Message: fresh}, nil
	}
	msg.IsRead = true
	msg.ReadAt = &now
	return &ReadResult{Message: msg, Changed: changed}, nil
}

// GetUserConversationsList 会话列表，附带对方身份、房源信息和未读数
func (s *MessageService) GetUserConversationsList(ctx context.Context, userID string) ([]ConversationSummary, error) {
	rows, err := s.store.ListConversationsForUser(ctx, userID)
	if err != nil {
		s.log.Error("failed to list conversations", zap.String("userId", userID), zap.Error(err))
		return nil, storageError("failed to load conversations")
	}

	userIDs := make([]string, 0, len(rows))
	topicIDs := make([]string, 0, len(rows))
	for _, r := range rows {
		userIDs = append(userIDs, r.OtherParticipant(userID))
		topicIDs = append(topicIDs, r.TopicID)
	}
	users, err := s.users.ResolveUsers(ctx, userIDs)
	if err != nil {
		s.log.Warn("failed to resolve participants", zap.Error(err))
		users = map[string]Identity{}
	}
	topics, err := s.topics.ResolveTopics(ctx, topicIDs)
	if err != nil {
		s.log.Warn("failed to resolve topics", zap.Error(err))
		topics = map[string]Topic{}
	}

	out := make([]ConversationSummary, 0, len(rows))
	for _, r := range rows {
		other := r.OtherParticipant(userID)
		ident, ok := users[other]
		if !ok {
			ident = Identity{ID: other}
		}
		topic, ok := topics[r.TopicID]
		if !ok {
			topic = Topic{ID: r.TopicID}
		}
		summary := ConversationSummary{
			ID:               r.ConversationID,
			OtherParticipant: ident,
			Topic:            topic,
			LastMessageAt:    r.LastMessageAt,
			UnreadCount:      r.UnreadCount,
			IsActive:         r.IsActive,
		}
		if r.LastMessageID != "" && r.LastMessageContent != nil {
			last := &LastMessagePreview{ID: r.LastMessageID, Content: preview(*r.LastMessageContent)}
			if r.LastMessageSenderID != nil {
				last.SenderID = *r.LastMessageSenderID
			}
			summary.LastMessage = last
		}
		out = append(out, summary)
	}
	return out, nil
}

// SetConversationActive 会话成员开启或关闭会话
func (s *MessageService) SetConversationActive(ctx context.Context, conversationID, userID string, active bool) (*models.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFoundError("conversation not found")
		}
		return nil, storageError("failed to update conversation")
	}
	if !conv.HasParticipant(userID) {
		return nil, notFoundError("conversation not found")
	}
	if err := s.store.SetActive(ctx, conversationID, active); err != nil {
		s.log.Error("failed to update conversation", zap.String("conversationId", conversationID), zap.Error(err))
		return nil, storageError("failed to update conversation")
	}
	conv.IsActive = active
	return conv, nil
}

// TypingAudience 能看到 userID 在该房源下输入状态的用户：房东和与其已有会话的对方
func (s *MessageService) TypingAudience(ctx context.Context, topicID, userID string) ([]string, error) {
	convs, err := s.store.ConversationsForTopic(ctx, topicID, userID)
	if err != nil {
		return nil, storageError("failed to load conversations")
	}
	seen := map[string]bool{userID: true}
	var out []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for i := range convs {
		add(convs[i].OtherParticipant(userID))
	}
	topic, err := s.topics.ResolveTopic(ctx, topicID)
	if err != nil {
		s.log.Warn("failed to resolve topic", zap.String("topicId", topicID), zap.Error(err))
	}
	add(topic.OwnerID)
	return out, nil
}

// NormalizePage 页码从 1 开始，limit 限制在 [1, MaxPageSize]
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return page, limit
}

func preview(content string) string {
	if utf8.RuneCountInString(content) <= previewLen {
		return content
	}
	r := []rune(content)
	return string(r[:previewLen]) + "…"
}
