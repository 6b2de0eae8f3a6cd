package store

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("record not found")
	// ErrConflict 并发创建会话多次冲突后仍未能读到记录
	ErrConflict = errors.New("conversation creation conflict")
)

// maxCreateAttempts 并发创建会话时 "查询-创建" 的最大轮数
const maxCreateAttempts = 3

// Store 会话与消息的持久化层，并发控制交给数据库唯一约束
type Store struct {
	db *gorm.DB
}

// New 创建 Store
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB 返回底层连接，测试使用
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction 在同一事务中执行 fn，fn 收到的 Store 绑定到事务
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "SQLSTATE 23505")
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
