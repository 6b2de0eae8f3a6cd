package models

import "time"

// User 用户身份信息，由账户服务维护，消息模块只读
type User struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"_id"`
	Name      string    `gorm:"type:varchar(128)" json:"name"`
	Role      string    `gorm:"type:varchar(32);default:'tenant'" json:"role"` // tenant | landlord | admin
	Email     string    `gorm:"type:varchar(255)" json:"email,omitempty"`
	AvatarURL string    `gorm:"type:varchar(512)" json:"avatar,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Property 房源信息，会话以房源为话题
type Property struct {
	ID         string    `gorm:"primaryKey;type:varchar(64)" json:"_id"`
	Title      string    `gorm:"type:varchar(256)" json:"title"`
	Address    string    `gorm:"type:varchar(512)" json:"address,omitempty"`
	ImageURL   string    `gorm:"type:varchar(512)" json:"image,omitempty"`
	LandlordID string    `gorm:"type:varchar(64);index" json:"landlordId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
