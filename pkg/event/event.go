// Package event 定义实时通道上的事件名与载荷，供 service 与 websocket 共用
package event

import (
	"encoding/json"
	"time"

	"chatify/internal/model"
)

// 服务端下发事件
const (
	OnlineUsers             = "getOnlineUsers"
	UserStatusUpdate        = "userStatusUpdate"
	UserTyping              = "userTyping"
	NewMessage              = "newMessage"
	MessageStatusUpdate     = "messageStatusUpdate"
	MessageReaction         = "messageReaction"
	MessageEdited           = "messageEdited"
	MessageDeleted          = "messageDeleted"
	IncomingCall            = "incomingCall"
	CallRinging             = "callRinging"
	CallFailed              = "callFailed"
	CallAnswered            = "callAnswered"
	CallRejected            = "callRejected"
	CallEnded               = "callEnded"
	IceCandidate            = "iceCandidate"
	ParticipantStatusUpdate = "participantStatusUpdate"
	Error                   = "error"
)

// 客户端上行事件
const (
	ClientTyping           = "typing"
	ClientStopTyping       = "stopTyping"
	ClientMessageDelivered = "messageDelivered"
	ClientMessageRead      = "messageRead"
	ClientMarkMessagesRead = "markMessagesRead"
	ClientInitiateCall     = "initiateCall"
	ClientAnswerCall       = "answerCall"
	ClientRejectCall       = "rejectCall"
	ClientEndCall          = "endCall"
	ClientIceCandidate     = "iceCandidate"
	ClientCallStatusUpdate = "callStatusUpdate"
	ClientHeartbeat        = "heartbeat"
)

// Frame 传输帧 {"event": "...", "data": {...}}
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OnlineUsersPayload 在线用户快照（升序）
type OnlineUsersPayload []uint

// UserStatus 在线状态变更
type UserStatus struct {
	UserID   uint      `json:"userId"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

// Typing 输入状态
type Typing struct {
	UserID   uint   `json:"userId"`
	UserName string `json:"userName"`
	IsTyping bool   `json:"isTyping"`
}

// MessageStatus 送达/已读回执
type MessageStatus struct {
	MessageID   uint       `json:"messageId"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
	ReadAt      *time.Time `json:"readAt,omitempty"`
}

// Reaction 回应变更
type Reaction struct {
	MessageID uint             `json:"messageId"`
	Reactions []model.Reaction `json:"reactions"`
	UpdatedBy uint             `json:"updatedBy"`
}

// MessageChange 编辑或撤回后的完整消息
type MessageChange struct {
	*model.Message
	UpdatedBy uint `json:"updatedBy"`
}

// 通话相关

// CallType 通话类型
type CallType string

const (
	CallVoice CallType = "voice"
	CallVideo CallType = "video"
)

// InitiateCall 客户端发起通话
type InitiateCall struct {
	ReceiverID uint            `json:"receiverId"`
	CallType   CallType        `json:"callType"`
	Offer      json.RawMessage `json:"offer"`
}

// IncomingCallPayload 被叫收到的来电
type IncomingCallPayload struct {
	CallID     string          `json:"callId"`
	CallerID   uint            `json:"callerId"`
	CallerName string          `json:"callerName"`
	CallerPic  string          `json:"callerProfilePic,omitempty"`
	CallType   CallType        `json:"callType"`
	Offer      json.RawMessage `json:"offer"`
}

// CallRingingPayload 主叫收到的振铃确认
type CallRingingPayload struct {
	CallID     string `json:"callId"`
	ReceiverID uint   `json:"receiverId"`
}

// CallFailedPayload 呼叫失败
type CallFailedPayload struct {
	CallID     string `json:"callId,omitempty"`
	ReceiverID uint   `json:"receiverId"`
	Reason     string `json:"reason"`
}

// 呼叫失败/拒绝原因
const (
	ReasonUserOffline = "user_offline"
	ReasonUnreachable = "user_unreachable"
	ReasonRejected    = "rejected"
)

// CallAddress 通话信令中服务端需要读取的字段，其余字段原样转发
// 对端可以用 targetId、participantId 或 callerId 指定
type CallAddress struct {
	CallID        string `json:"callId"`
	TargetID      uint   `json:"targetId"`
	ParticipantID uint   `json:"participantId"`
	CallerID      uint   `json:"callerId"`
}

// Peer 返回信令的接收方
func (a CallAddress) Peer() uint {
	switch {
	case a.TargetID != 0:
		return a.TargetID
	case a.ParticipantID != 0:
		return a.ParticipantID
	default:
		return a.CallerID
	}
}

// ReceiverRef 只携带接收者ID的上行事件（typing/stopTyping）
type ReceiverRef struct {
	ReceiverID uint `json:"receiverId"`
}

// MessageRef 只携带消息ID的上行事件（messageDelivered/messageRead）
type MessageRef struct {
	MessageID uint `json:"messageId"`
}

// SenderRef markMessagesRead 的载荷
type SenderRef struct {
	SenderID uint `json:"senderId"`
}

// ErrorPayload 上行事件处理失败时回给发送方
type ErrorPayload struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}
