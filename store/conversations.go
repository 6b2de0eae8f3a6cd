package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"rentgidi-chat/models"
)

// ConversationRow 会话列表的一行，附带当前用户的未读数和最后一条消息
type ConversationRow struct {
	models.Conversation
	UnreadCount         int64
	LastMessageContent  *string
	LastMessageSenderID *string
}

// OrderedPair 将两个用户 ID 排序，保证同一对用户只有一种存储形式
func OrderedPair(x, y string) (string, string) {
	if x <= y {
		return x, y
	}
	return y, x
}

// FindOrCreateConversation 查找或创建 (用户对, 话题) 的会话
// 并发首发消息时唯一约束只允许一次创建成功，另一方转为重新查询
func (s *Store) FindOrCreateConversation(ctx context.Context, x, y, topicID string) (*models.Conversation, bool, error) {
	a, b := OrderedPair(x, y)
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		conv, err := s.FindConversation(ctx, a, b, topicID)
		if err == nil {
			return conv, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}

		conv = &models.Conversation{
			ConversationID: uuid.NewString(),
			ParticipantA:   a,
			ParticipantB:   b,
			TopicID:        topicID,
			IsActive:       true,
		}
		err = s.db.WithContext(ctx).Create(conv).Error
		if err == nil {
			return conv, true, nil
		}
		if !isDuplicateKey(err) {
			return nil, false, fmt.Errorf("failed to create conversation: %w", err)
		}
	}
	return nil, false, ErrConflict
}

// FindConversation 按用户对和话题精确查找
func (s *Store) FindConversation(ctx context.Context, x, y, topicID string) (*models.Conversation, error) {
	a, b := OrderedPair(x, y)
	var conv models.Conversation
	err := s.db.WithContext(ctx).
		Where("participant_a = ? AND participant_b = ? AND topic_id = ?", a, b, topicID).
		First(&conv).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &conv, nil
}

// GetConversation 按 ID 查找
func (s *Store) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	var conv models.Conversation
	if err := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID).First(&conv).Error; err != nil {
		return nil, notFound(err)
	}
	return &conv, nil
}

// ConversationsForTopic 用户在某话题下参与的会话，最近活跃的在前
func (s *Store) ConversationsForTopic(ctx context.Context, topicID, userID string) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := s.db.WithContext(ctx).
		Where("topic_id = ? AND (participant_a = ? OR participant_b = ?)", topicID, userID, userID).
		Order("COALESCE(last_message_at, created_at) DESC").
		Find(&convs).Error
	if err != nil {
		return nil, err
	}
	return convs, nil
}

// TopicHasConversations 话题下是否存在任意会话
func (s *Store) TopicHasConversations(ctx context.Context, topicID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Conversation{}).Where("topic_id = ?", topicID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// TouchLastMessage 更新会话的最后一条消息指针
func (s *Store) TouchLastMessage(ctx context.Context, conversationID, messageID string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("conversation_id = ?", conversationID).
		Updates(map[string]interface{}{
			"last_message_id": messageID,
			"last_message_at": at,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update last message: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetActive 切换会话的 isActive 标记，记录永不删除
func (s *Store) SetActive(ctx context.Context, conversationID string, active bool) error {
	res := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("conversation_id = ?", conversationID).
		Update("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// 值未变化时部分驱动也返回 0，确认记录存在
		if _, err := s.GetConversation(ctx, conversationID); err != nil {
			return err
		}
	}
	return nil
}

// ListConversationsForUser 用户参与的全部会话，按最后消息时间倒序
func (s *Store) ListConversationsForUser(ctx context.Context, userID string) ([]ConversationRow, error) {
	var rows []ConversationRow
	err := s.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Select(`conversations.*,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = conversations.conversation_id AND m.receiver_id = ? AND m.is_read = ?) AS unread_count,
			(SELECT lm.content FROM messages lm WHERE lm.message_id = conversations.last_message_id) AS last_message_content,
			(SELECT lm.sender_id FROM messages lm WHERE lm.message_id = conversations.last_message_id) AS last_message_sender_id`,
			userID, false).
		Where("participant_a = ? OR participant_b = ?", userID, userID).
		Order("COALESCE(last_message_at, created_at) DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
