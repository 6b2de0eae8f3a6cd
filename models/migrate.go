package models

import "gorm.io/gorm"

// Migrate 自动迁移消息模块用到的表
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Property{},
		&Conversation{},
		&Message{},
	)
}
