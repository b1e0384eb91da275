package repository

import (
	"context"
	"time"

	"chatify/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MessageRepository 消息数据仓储
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建MessageRepository实例
func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func preloadReactions(db *gorm.DB) *gorm.DB {
	return db.Order("id ASC")
}

// Create 创建消息
func (r *MessageRepository) Create(ctx context.Context, message *model.Message) error {
	return translate(r.db.WithContext(ctx).Omit("Reactions").Create(message).Error)
}

// GetByID 根据ID获取消息（包含回应）
func (r *MessageRepository) GetByID(ctx context.Context, id uint) (*model.Message, error) {
	var message model.Message
	err := r.db.WithContext(ctx).
		Preload("Reactions", preloadReactions).
		First(&message, id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &message, nil
}

// ListConversation 获取两个用户之间的全部消息（双向，按时间升序）
func (r *MessageRepository) ListConversation(ctx context.Context, userID, otherUserID uint) ([]model.Message, error) {
	var messages []model.Message

	err := r.db.WithContext(ctx).
		Preload("Reactions", preloadReactions).
		Where(
			"(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			userID, otherUserID, otherUserID, userID,
		).
		Order("created_at ASC").
		Order("id ASC").
		Find(&messages).Error

	return messages, translate(err)
}

// ListPartnerIDs 获取与用户有过消息往来的用户ID，最近联系的在前
func (r *MessageRepository) ListPartnerIDs(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint

	err := r.db.WithContext(ctx).Raw(`
		SELECT partner_id FROM (
			SELECT receiver_id AS partner_id, created_at FROM message WHERE sender_id = ?
			UNION ALL
			SELECT sender_id AS partner_id, created_at FROM message WHERE receiver_id = ?
		) AS t
		GROUP BY partner_id
		ORDER BY MAX(created_at) DESC, partner_id ASC`, userID, userID).
		Scan(&ids).Error
	if err != nil {
		return nil, translate(err)
	}
	return ids, nil
}

// UpdateFields 按字段更新消息（map 形式，零值同样会写入）
func (r *MessageRepository) UpdateFields(ctx context.Context, id uint, fields map[string]interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&model.Message{}).
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

// SaveReaction 写入或覆盖 (消息, 用户) 的回应
func (r *MessageRepository) SaveReaction(ctx context.Context, messageID, userID uint, kind string) error {
	reaction := model.Reaction{MessageID: messageID, UserID: userID, Type: kind}
	return translate(r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"type"}),
		}).
		Create(&reaction).Error)
}

// DeleteReaction 移除 (消息, 用户) 的回应
func (r *MessageRepository) DeleteReaction(ctx context.Context, messageID, userID uint) error {
	return translate(r.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ?", messageID, userID).
		Delete(&model.Reaction{}).Error)
}

// MarkDelivered 设置送达时间，已送达的不会被覆盖；返回是否发生变化
func (r *MessageRepository) MarkDelivered(ctx context.Context, id uint, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Message{}).
		Where("id = ? AND delivered_at IS NULL", id).
		Update("delivered_at", at)
	return result.RowsAffected > 0, translate(result.Error)
}

// MarkRead 设置已读时间，同时补齐送达时间；返回是否发生变化
func (r *MessageRepository) MarkRead(ctx context.Context, id uint, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Message{}).
		Where("id = ? AND read_at IS NULL", id).
		Updates(map[string]interface{}{
			"read_at":      at,
			"delivered_at": gorm.Expr("COALESCE(delivered_at, ?)", at),
		})
	return result.RowsAffected > 0, translate(result.Error)
}

// MarkAllReadFrom 将 senderID 发给 readerID 的所有未读消息标记为已读
// 返回本次被更新的消息（按时间升序）
func (r *MessageRepository) MarkAllReadFrom(ctx context.Context, readerID, senderID uint, at time.Time) ([]model.Message, error) {
	var updated []model.Message

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uint
		if err := tx.Model(&model.Message{}).
			Where("sender_id = ? AND receiver_id = ? AND read_at IS NULL", senderID, readerID).
			Order("created_at ASC").
			Order("id ASC").
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		if err := tx.Model(&model.Message{}).
			Where("id IN ? AND read_at IS NULL", ids).
			Updates(map[string]interface{}{
				"read_at":      at,
				"delivered_at": gorm.Expr("COALESCE(delivered_at, ?)", at),
			}).Error; err != nil {
			return err
		}

		return tx.Where("id IN ?", ids).
			Order("created_at ASC").
			Order("id ASC").
			Find(&updated).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return updated, nil
}

// CountUnreadFrom 获取 senderID 发给 readerID 的未读消息数量
func (r *MessageRepository) CountUnreadFrom(ctx context.Context, readerID, senderID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Message{}).
		Where("sender_id = ? AND receiver_id = ? AND read_at IS NULL", senderID, readerID).
		Count(&count).Error
	return count, translate(err)
}
