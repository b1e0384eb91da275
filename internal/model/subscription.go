package model

import "time"

// PushSubscription 浏览器推送订阅（Web Push）
// 同一个 endpoint 只保存一条，重复保存时覆盖所属用户与密钥
type PushSubscription struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index;comment:用户ID" json:"userId"`
	Endpoint  string    `gorm:"type:varchar(512);not null;uniqueIndex;comment:推送地址" json:"endpoint"`
	P256dh    string    `gorm:"type:varchar(255);comment:客户端公钥" json:"p256dh"`
	Auth      string    `gorm:"type:varchar(255);comment:认证密钥" json:"auth"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (PushSubscription) TableName() string { return "push_subscription" }
