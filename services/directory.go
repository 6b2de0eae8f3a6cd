package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"rentgidi-chat/models"
)

// Identity 参与者身份
type Identity struct {
	ID   string `json:"_id"`
	Role string `json:"role"`
	Name string `json:"name"`
}

// Topic 会话所属房源的展示信息
type Topic struct {
	ID       string `json:"_id"`
	Title    string `json:"title,omitempty"`
	Address  string `json:"address,omitempty"`
	ImageURL string `json:"image,omitempty"`
	OwnerID  string `json:"ownerId,omitempty"`
}

// UserDirectory 身份查询，由账户模块提供
type UserDirectory interface {
	ResolveUser(ctx context.Context, id string) (Identity, error)
	ResolveUsers(ctx context.Context, ids []string) (map[string]Identity, error)
}

// TopicDirectory 房源查询，由房源模块提供
type TopicDirectory interface {
	ResolveTopic(ctx context.Context, id string) (Topic, error)
	ResolveTopics(ctx context.Context, ids []string) (map[string]Topic, error)
}

// GormDirectory 基于 users / properties 表的默认实现
type GormDirectory struct {
	db *gorm.DB
}

func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

func (d *GormDirectory) ResolveUser(ctx context.Context, id string) (Identity, error) {
	var u models.User
	if err := d.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Identity{}, notFoundError("user not found")
		}
		return Identity{}, err
	}
	return toIdentity(u), nil
}

func (d *GormDirectory) ResolveUsers(ctx context.Context, ids []string) (map[string]Identity, error) {
	out := make(map[string]Identity, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []models.User
	if err := d.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	for _, u := range users {
		out[u.ID] = toIdentity(u)
	}
	return out, nil
}

// ResolveTopic 房源不存在时只返回 ID，不视为错误
func (d *GormDirectory) ResolveTopic(ctx context.Context, id string) (Topic, error) {
	topics, err := d.ResolveTopics(ctx, []string{id})
	if err != nil {
		return Topic{}, err
	}
	return topics[id], nil
}

func (d *GormDirectory) ResolveTopics(ctx context.Context, ids []string) (map[string]Topic, error) {
	out := make(map[string]Topic, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var props []models.Property
	if err := d.db.WithContext(ctx).Where("id IN ?", ids).Find(&props).Error; err != nil {
		return nil, err
	}
	for _, id := range ids {
		out[id] = Topic{ID: id}
	}
	for _, p := range props {
		out[p.ID] = Topic{ID: p.ID, Title: p.Title, Address: p.Address, ImageURL: p.ImageURL, OwnerID: p.LandlordID}
	}
	return out, nil
}

func toIdentity(u models.User) Identity {
	return Identity{ID: u.ID, Role: u.Role, Name: u.Name}
}
