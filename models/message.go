package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	MessageTypeText     = "text"
	MessageTypeImage    = "image"
	MessageTypeDocument = "document"
)

// ValidMessageType reports whether t is a known message kind.
func ValidMessageType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeDocument:
		return true
	}
	return false
}

// Attachment 附件元数据，文件本身由上传服务保存
type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Message 会话中的一条消息
// ID 自增，用于同一时间戳下的写入顺序；MessageID 对外暴露
type Message struct {
	ID             uint                            `gorm:"primaryKey;autoIncrement" json:"-"`
	MessageID      string                          `gorm:"type:varchar(36);uniqueIndex;not null" json:"_id"`
	ConversationID string                          `gorm:"type:varchar(36);not null;index:idx_msg_conv_created,priority:1" json:"conversationId"`
	SenderID       string                          `gorm:"type:varchar(64);not null;index" json:"senderId"`
	ReceiverID     string                          `gorm:"type:varchar(64);not null;index" json:"receiverId"`
	TopicID        string                          `gorm:"type:varchar(64);index" json:"topicId,omitempty"`
	Content        string                          `gorm:"type:text;not null" json:"content"`
	MessageType    string                          `gorm:"type:varchar(16);not null;default:'text'" json:"messageType"`
	Attachments    datatypes.JSONSlice[Attachment] `json:"attachments,omitempty"`
	IsRead         bool                            `gorm:"not null;default:false;index" json:"isRead"`
	ReadAt         *time.Time                      `json:"readAt,omitempty"`
	CreatedAt      time.Time                       `gorm:"<-:create;not null;index:idx_msg_conv_created,priority:2" json:"createdAt"`
}
