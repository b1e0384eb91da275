package model

import (
	"time"
)

// User 用户模型
// 说明：密码仅存储哈希（PasswordHash），不存储明文
// IsOnline / LastSeen 只由在线状态注册表在连接建立与断开时写入
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	FullName     string    `gorm:"type:varchar(64);not null;comment:显示名称" json:"fullName"`
	Email        string    `gorm:"type:varchar(128);not null;uniqueIndex;comment:邮箱" json:"email"`
	PasswordHash string    `gorm:"type:varchar(255);not null;comment:密码哈希" json:"-"`
	ProfilePic   string    `gorm:"type:varchar(512);comment:头像URL" json:"profilePic"`
	IsOnline     bool      `gorm:"default:false;comment:是否在线" json:"isOnline"`
	LastSeen     time.Time `gorm:"comment:最近在线时间" json:"lastSeen"`
	CreatedAt    time.Time `gorm:"comment:创建时间" json:"createdAt"`
	UpdatedAt    time.Time `gorm:"comment:更新时间" json:"updatedAt"`
}

// TableName 指定表名（全局配置使用单数表名）
func (User) TableName() string { return "user" }

// ChatPartner 聊天列表中的用户，附带对方发来的未读消息数
type ChatPartner struct {
	User
	UnreadCount int64 `json:"unreadCount"`
}
