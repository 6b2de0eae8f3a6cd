package store

import (
	"context"
	"fmt"
	"time"

	"rentgidi-chat/models"
)

// CreateMessage 插入一条消息
func (s *Store) CreateMessage(ctx context.Context, msg *models.Message) error {
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// GetMessage 按对外 ID 查找消息
func (s *Store) GetMessage(ctx context.Context, messageID string) (*models.Message, error) {
	var msg models.Message
	if err := s.db.WithContext(ctx).Where("message_id = ?", messageID).First(&msg).Error; err != nil {
		return nil, notFound(err)
	}
	return &msg, nil
}

// MarkRead 未读 -> 已读，只会发生一次；返回本次是否真正更新
func (s *Store) MarkRead(ctx context.Context, messageID string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("message_id = ? AND is_read = ?", messageID, false).
		Updates(map[string]interface{}{
			"is_read": true,
			"read_at": at,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark message read: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListMessages 返回会话中从最新往前偏移 offset 的 limit 条消息，结果按时间正序
func (s *Store) ListMessages(ctx context.Context, conversationID string, offset, limit int) ([]models.Message, int64, error) {
	db := s.db.WithContext(ctx).Model(&models.Message{}).Where("conversation_id = ?", conversationID)

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var msgs []models.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").Order("id DESC").
		Offset(offset).Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, 0, err
	}
	// 倒序取窗口，再翻转为时间正序
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, total, nil
}
