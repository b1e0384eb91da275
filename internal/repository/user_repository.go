package repository

import (
	"context"
	"time"

	"chatify/internal/model"

	"gorm.io/gorm"
)

// UserRepository 用户数据仓储
type UserRepository struct {
	orm *gorm.DB
}

func NewUserRepository(orm *gorm.DB) *UserRepository {
	return &UserRepository{orm: orm}
}

func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	return translate(r.orm.WithContext(ctx).Create(user).Error)
}

func (r *UserRepository) GetByID(ctx context.Context, id uint) (*model.User, error) {
	var u model.User
	if err := r.orm.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	if err := r.orm.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

// Exists 判断用户是否存在
func (r *UserRepository) Exists(ctx context.Context, id uint) (bool, error) {
	var count int64
	err := r.orm.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Count(&count).Error
	return count > 0, translate(err)
}

// ListExcept 获取除指定用户外的所有用户
func (r *UserRepository) ListExcept(ctx context.Context, id uint) ([]model.User, error) {
	var users []model.User
	err := r.orm.WithContext(ctx).
		Where("id <> ?", id).
		Order("full_name ASC").
		Order("id ASC").
		Find(&users).Error
	return users, translate(err)
}

// ListByIDs 按给定ID顺序返回用户，不存在的ID被跳过
func (r *UserRepository) ListByIDs(ctx context.Context, ids []uint) ([]model.User, error) {
	if len(ids) == 0 {
		return []model.User{}, nil
	}

	var users []model.User
	if err := r.orm.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, translate(err)
	}

	byID := make(map[uint]model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	ordered := make([]model.User, 0, len(users))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			ordered = append(ordered, u)
		}
	}
	return ordered, nil
}

// SetPresence 写入在线状态与最近在线时间
func (r *UserRepository) SetPresence(ctx context.Context, id uint, online bool, lastSeen time.Time) error {
	return translate(r.orm.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"is_online": online, "last_seen": lastSeen}).Error)
}

// TouchLastSeen 刷新最近在线时间
func (r *UserRepository) TouchLastSeen(ctx context.Context, id uint, at time.Time) error {
	return translate(r.orm.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", id).
		Update("last_seen", at).Error)
}

// UpdateProfile 更新资料字段
func (r *UserRepository) UpdateProfile(ctx context.Context, id uint, fields map[string]interface{}) error {
	result := r.orm.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", id).
		Updates(fields)
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetPresence 进程启动时把所有用户标记为离线（上次进程的会话已全部失效）
func (r *UserRepository) ResetPresence(ctx context.Context) error {
	return translate(r.orm.WithContext(ctx).
		Model(&model.User{}).
		Where("is_online = ?", true).
		Update("is_online", false).Error)
}
