package model

import (
	"strings"
	"time"
)

// DeletedMessageText 撤回后的消息占位文本
const DeletedMessageText = "This message was deleted"

// 表情回应类型
const (
	ReactionLike  = "like"
	ReactionLove  = "love"
	ReactionLaugh = "laugh"
	ReactionWow   = "wow"
	ReactionAngry = "angry"
	ReactionSad   = "sad"
)

var reactionKinds = map[string]struct{}{
	ReactionLike:  {},
	ReactionLove:  {},
	ReactionLaugh: {},
	ReactionWow:   {},
	ReactionAngry: {},
	ReactionSad:   {},
}

// IsValidReaction 判断回应类型是否合法
func IsValidReaction(kind string) bool {
	_, ok := reactionKinds[kind]
	return ok
}

// Message 单聊消息模型
// 撤回为软删除：保留 id/发送者/接收者/时间，清空内容
// 状态流转：sent -> delivered -> read，单调不可回退
type Message struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	SenderID      uint       `gorm:"not null;index:idx_message_pair,priority:1;comment:发送者ID" json:"senderId"`
	ReceiverID    uint       `gorm:"not null;index:idx_message_pair,priority:2;index;comment:接收者ID" json:"receiverId"`
	Text          string     `gorm:"type:text;comment:文本内容" json:"text,omitempty"`
	Image         string     `gorm:"type:varchar(512);comment:图片URL" json:"image,omitempty"`
	Voice         string     `gorm:"type:varchar(512);comment:语音URL" json:"voice,omitempty"`
	VoiceDuration float64    `gorm:"default:0;comment:语音时长(秒)" json:"voiceDuration"`
	Reactions     []Reaction `gorm:"foreignKey:MessageID" json:"reactions"`
	ReplyTo       *uint      `gorm:"index;comment:引用的消息ID" json:"replyTo"`
	IsEdited      bool       `gorm:"default:false" json:"isEdited"`
	EditedAt      *time.Time `json:"editedAt,omitempty"`
	IsDeleted     bool       `gorm:"default:false" json:"isDeleted"`
	DeletedAt     *time.Time `json:"deletedAt,omitempty"`
	DeliveredAt   *time.Time `json:"deliveredAt,omitempty"`
	ReadAt        *time.Time `json:"readAt,omitempty"`
	CreatedAt     time.Time  `gorm:"index;comment:创建时间" json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

func (Message) TableName() string { return "message" }

// HasContent 文本、图片、语音至少有一项
func (m *Message) HasContent() bool {
	return strings.TrimSpace(m.Text) != "" || m.Image != "" || m.Voice != ""
}

// Reaction 消息表情回应，每个 (消息, 用户) 至多一条
type Reaction struct {
	ID        uint   `gorm:"primaryKey" json:"-"`
	MessageID uint   `gorm:"not null;uniqueIndex:idx_reaction_message_user,priority:1" json:"-"`
	UserID    uint   `gorm:"not null;uniqueIndex:idx_reaction_message_user,priority:2" json:"userId"`
	Type      string `gorm:"type:varchar(16);not null" json:"type"`
}

func (Reaction) TableName() string { return "message_reaction" }

// ReactionChange 回应切换的结果
type ReactionChange int

const (
	ReactionAdded ReactionChange = iota + 1
	ReactionReplaced
	ReactionRemoved
)

// ToggleReaction 切换 userID 的回应：
// 无回应则追加；同类型则移除；不同类型则原位替换。
// 返回新的回应列表（不修改入参）与变更类型。
func ToggleReaction(reactions []Reaction, userID uint, kind string) ([]Reaction, ReactionChange) {
	out := make([]Reaction, 0, len(reactions)+1)
	change := ReactionAdded
	for _, r := range reactions {
		if r.UserID != userID {
			out = append(out, r)
			continue
		}
		if change != ReactionAdded {
			// 历史脏数据：同一用户多条回应，只保留第一条
			continue
		}
		if r.Type == kind {
			change = ReactionRemoved
			continue
		}
		r.Type = kind
		out = append(out, r)
		change = ReactionReplaced
	}
	if change == ReactionAdded {
		out = append(out, Reaction{UserID: userID, Type: kind})
	}
	return out, change
}
