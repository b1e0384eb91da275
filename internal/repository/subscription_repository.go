package repository

import (
	"context"

	"chatify/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SubscriptionRepository 推送订阅仓储
type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// Upsert 按 endpoint 写入或覆盖订阅
func (r *SubscriptionRepository) Upsert(ctx context.Context, sub *model.PushSubscription) error {
	return translate(r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "endpoint"}},
			DoUpdates: clause.AssignmentColumns([]string{"user_id", "p256dh", "auth", "updated_at"}),
		}).
		Create(sub).Error)
}

// ListByUser 获取用户的所有订阅
func (r *SubscriptionRepository) ListByUser(ctx context.Context, userID uint) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id ASC").Find(&subs).Error
	return subs, translate(err)
}

// DeleteByEndpoint 删除失效的订阅
func (r *SubscriptionRepository) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	return translate(r.db.WithContext(ctx).Where("endpoint = ?", endpoint).Delete(&model.PushSubscription{}).Error)
}
