package models

import "time"

// Conversation 两个用户围绕同一房源的私聊会话
// ParticipantA/ParticipantB 按字典序存储，(A, B, TopicID) 唯一
type Conversation struct {
	ConversationID string     `gorm:"primaryKey;type:varchar(36)" json:"_id"`
	ParticipantA   string     `gorm:"type:varchar(64);not null;uniqueIndex:uk_conv_pair_topic,priority:1;index" json:"participantA"`
	ParticipantB   string     `gorm:"type:varchar(64);not null;uniqueIndex:uk_conv_pair_topic,priority:2;index" json:"participantB"`
	TopicID        string     `gorm:"type:varchar(64);not null;uniqueIndex:uk_conv_pair_topic,priority:3;index" json:"topicId"`
	LastMessageID  string     `gorm:"type:varchar(36)" json:"lastMessage,omitempty"`
	LastMessageAt  *time.Time `gorm:"index" json:"lastMessageAt,omitempty"`
	IsActive       bool       `gorm:"not null;default:true" json:"isActive"`
	CreatedAt      time.Time  `gorm:"<-:create;autoCreateTime" json:"createdAt"`
}

// Participants 返回有序的参与者对
func (c *Conversation) Participants() []string {
	return []string{c.ParticipantA, c.ParticipantB}
}

// HasParticipant 判断用户是否为会话成员
func (c *Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.ParticipantA == userID || c.ParticipantB == userID)
}

// OtherParticipant 返回会话中的另一方
func (c *Conversation) OtherParticipant(userID string) string {
	if c.ParticipantA == userID {
		return c.ParticipantB
	}
	return c.ParticipantA
}
