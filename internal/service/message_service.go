package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"chatify/config"
	"chatify/internal/model"
	"chatify/internal/repository"
	"chatify/pkg/event"
	"chatify/pkg/mq"
	"chatify/pkg/upload"

	"go.uber.org/zap"
)

// MessageStore 消息存储
type MessageStore interface {
	Create(ctx context.Context, message *model.Message) error
	GetByID(ctx context.Context, id uint) (*model.Message, error)
	ListConversation(ctx context.Context, userID, otherUserID uint) ([]model.Message, error)
	ListPartnerIDs(ctx context.Context, userID uint) ([]uint, error)
	CountUnreadFrom(ctx context.Context, readerID, senderID uint) (int64, error)
	UpdateFields(ctx context.Context, id uint, fields map[string]interface{}) error
	SaveReaction(ctx context.Context, messageID, userID uint, kind string) error
	DeleteReaction(ctx context.Context, messageID, userID uint) error
	MarkDelivered(ctx context.Context, id uint, at time.Time) (bool, error)
	MarkRead(ctx context.Context, id uint, at time.Time) (bool, error)
	MarkAllReadFrom(ctx context.Context, readerID, senderID uint, at time.Time) ([]model.Message, error)
}

// Notifier 实时事件下发，目标不在线时静默丢弃
type Notifier interface {
	// EmitTo 投递给用户当前会话，返回是否交给了会话
	EmitTo(userID uint, name string, payload interface{}) bool
	// EmitToPair 投递给两个用户，同一会话只投递一次
	EmitToPair(a, b uint, name string, payload interface{})
	// CancelTyping 取消 sender -> receiver 的输入状态（不下发事件）
	CancelTyping(senderID, receiverID uint)
}

// SendInput 发送消息的内容
// Image / Voice 为 data URI 或已存在的 http(s) 地址
type SendInput struct {
	Text          string  `json:"text"`
	Image         string  `json:"image"`
	Voice         string  `json:"voice"`
	VoiceDuration float64 `json:"voiceDuration"`
	ReplyTo       *uint   `json:"replyTo"`
}

// MessageCreated 投递到消息总线的新消息事件（推送worker消费）
type MessageCreated struct {
	MessageID      uint      `json:"messageId"`
	SenderID       uint      `json:"senderId"`
	ReceiverID     uint      `json:"receiverId"`
	Preview        string    `json:"preview"`
	HasImage       bool      `json:"hasImage"`
	HasVoice       bool      `json:"hasVoice"`
	ReceiverOnline bool      `json:"receiverOnline"`
	CreatedAt      time.Time `json:"createdAt"`
}

const previewLength = 100

// MessageService 会话服务：发送、回应、编辑、撤回与回执
type MessageService struct {
	messages   MessageStore
	users      UserStore
	notifier   Notifier
	uploader   upload.Uploader
	publisher  mq.Publisher
	editWindow time.Duration
	maxText    int
	now        func() time.Time
	locks      *keyLock
	log        *zap.Logger
}

// NewMessageService 创建MessageService实例
func NewMessageService(
	messages MessageStore,
	users UserStore,
	notifier Notifier,
	uploader upload.Uploader,
	publisher mq.Publisher,
	cfg config.MessageConfig,
	log *zap.Logger,
) *MessageService {
	if publisher == nil {
		publisher = mq.NewNoop()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MessageService{
		messages:   messages,
		users:      users,
		notifier:   notifier,
		uploader:   uploader,
		publisher:  publisher,
		editWindow: cfg.EditWindow,
		maxText:    cfg.MaxTextLength,
		now:        func() time.Time { return time.Now().UTC() },
		locks:      newKeyLock(),
		log:        log,
	}
}

// WithClock 替换时钟（测试用）
func (s *MessageService) WithClock(now func() time.Time) *MessageService {
	s.now = now
	return s
}

func messageKey(id uint) string { return fmt.Sprintf("m:%d", id) }

func pairKey(a, b uint) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("p:%d:%d", a, b)
}

func (s *MessageService) checkText(text string) error {
	if s.maxText > 0 && utf8.RuneCountInString(text) > s.maxText {
		return invalid(fmt.Sprintf("Message text cannot exceed %d characters.", s.maxText))
	}
	return nil
}

// Send 发送消息：先持久化，再尽力推送给在线的接收者
func (s *MessageService) Send(ctx context.Context, senderID, receiverID uint, in SendInput) (*model.Message, error) {
	text := strings.TrimSpace(in.Text)
	draft := model.Message{Text: text, Image: in.Image, Voice: in.Voice}
	if !draft.HasContent() {
		return nil, invalid("Text, image, or voice message is required.")
	}
	if senderID == receiverID {
		return nil, invalid("Cannot send messages to yourself.")
	}
	if err := s.checkText(text); err != nil {
		return nil, err
	}
	if in.VoiceDuration < 0 {
		return nil, invalid("Voice duration cannot be negative.")
	}

	exists, err := s.users.Exists(ctx, receiverID)
	if err != nil {
		return nil, upstream("failed to look up receiver", err)
	}
	if !exists {
		return nil, notFound("Receiver not found.")
	}

	if in.ReplyTo != nil {
		if err := s.checkReplyTarget(ctx, *in.ReplyTo, senderID, receiverID); err != nil {
			return nil, err
		}
	}

	imageURL, err := s.resolveMedia(ctx, in.Image, upload.KindImage)
	if err != nil {
		return nil, err
	}
	voiceURL, err := s.resolveMedia(ctx, in.Voice, upload.KindAudio)
	if err != nil {
		return nil, err
	}
	voiceDuration := in.VoiceDuration
	if voiceURL == "" {
		voiceDuration = 0
	}

	// 同一会话内的持久化与推送串行，保证接收方看到的顺序与存储顺序一致
	unlock := s.locks.Lock(pairKey(senderID, receiverID))
	defer unlock()

	message := &model.Message{
		SenderID:      senderID,
		ReceiverID:    receiverID,
		Text:          text,
		Image:         imageURL,
		Voice:         voiceURL,
		VoiceDuration: voiceDuration,
		ReplyTo:       in.ReplyTo,
		CreatedAt:     s.now(),
	}
	if err := s.messages.Create(ctx, message); err != nil {
		return nil, upstream("failed to save message", err)
	}
	message.Reactions = []model.Reaction{}

	s.notifier.CancelTyping(senderID, receiverID)
	online := s.notifier.EmitTo(receiverID, event.NewMessage, message)
	if !online {
		s.log.Debug("接收者不在线，消息仅持久化",
			zap.Uint("message_id", message.ID),
			zap.Uint("receiver_id", receiverID),
		)
	}

	s.publishCreated(ctx, message, online)

	return message, nil
}

func (s *MessageService) checkReplyTarget(ctx context.Context, replyTo, senderID, receiverID uint) error {
	target, err := s.messages.GetByID(ctx, replyTo)
	if errors.Is(err, repository.ErrNotFound) {
		return invalid("Reply target not found.")
	}
	if err != nil {
		return upstream("failed to look up reply target", err)
	}
	if pairKey(target.SenderID, target.ReceiverID) != pairKey(senderID, receiverID) {
		return invalid("Reply target belongs to another conversation.")
	}
	return nil
}

func (s *MessageService) resolveMedia(ctx context.Context, data string, kind upload.Kind) (string, error) {
	if data == "" {
		return "", nil
	}
	if s.uploader == nil {
		return "", upstream("media upload is not configured", nil)
	}
	url, err := s.uploader.Upload(ctx, data, kind)
	switch {
	case err == nil:
		return url, nil
	case errors.Is(err, upload.ErrInvalidData):
		return "", &Error{Kind: KindInvalidRequest, Message: fmt.Sprintf("Invalid %s data.", kind), Err: err}
	case errors.Is(err, upload.ErrTooLarge):
		return "", &Error{Kind: KindInvalidRequest, Message: fmt.Sprintf("The %s is too large.", kind), Err: err}
	default:
		return "", upstream(fmt.Sprintf("failed to upload %s", kind), err)
	}
}

func (s *MessageService) publishCreated(ctx context.Context, m *model.Message, receiverOnline bool) {
	preview := m.Text
	if utf8.RuneCountInString(preview) > previewLength {
		preview = string([]rune(preview)[:previewLength])
	}
	err := s.publisher.Publish(ctx, mq.RoutingMessageCreated, MessageCreated{
		MessageID:      m.ID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Preview:        preview,
		HasImage:       m.Image != "",
		HasVoice:       m.Voice != "",
		ReceiverOnline: receiverOnline,
		CreatedAt:      m.CreatedAt,
	})
	if err != nil {
		s.log.Warn("发布新消息事件失败", zap.Uint("message_id", m.ID), zap.Error(err))
	}
}

func (s *MessageService) load(ctx context.Context, id uint) (*model.Message, error) {
	message, err := s.messages.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFound("Message not found")
	}
	if err != nil {
		return nil, upstream("failed to load message", err)
	}
	if message.Reactions == nil {
		message.Reactions = []model.Reaction{}
	}
	return message, nil
}

// React 切换表情回应并通知双方
func (s *MessageService) React(ctx context.Context, actorID, messageID uint, kind string) (*model.Message, error) {
	if !model.IsValidReaction(kind) {
		return nil, invalid("Invalid reaction type")
	}

	unlock := s.locks.Lock(messageKey(messageID))
	defer unlock()

	message, err := s.load(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if message.SenderID != actorID && message.ReceiverID != actorID {
		return nil, forbidden("You can only react to messages in your own conversations")
	}
	if message.IsDeleted {
		return nil, invalid("Cannot react to a deleted message")
	}

	reactions, change := model.ToggleReaction(message.Reactions, actorID, kind)
	if change == model.ReactionRemoved {
		err = s.messages.DeleteReaction(ctx, messageID, actorID)
	} else {
		err = s.messages.SaveReaction(ctx, messageID, actorID, kind)
	}
	if err != nil {
		return nil, upstream("failed to save reaction", err)
	}
	message.Reactions = reactions

	s.notifier.EmitToPair(message.SenderID, message.ReceiverID, event.MessageReaction, event.Reaction{
		MessageID: message.ID,
		Reactions: reactions,
		UpdatedBy: actorID,
	})

	return message, nil
}

// authorizeChange 编辑/撤回前的权限与时间窗口校验
func (s *MessageService) authorizeChange(message *model.Message, actorID uint, verb string) error {
	if message.SenderID != actorID {
		return forbidden(fmt.Sprintf("You can only %s your own messages", verb))
	}
	if message.IsDeleted {
		return invalid("Message has already been deleted")
	}
	if s.now().Sub(message.CreatedAt) >= s.editWindow {
		return newError(KindEditWindowExpired,
			fmt.Sprintf("Message can only be %sed within %d minutes", strings.TrimSuffix(verb, "e"), int(s.editWindow.Minutes())))
	}
	return nil
}

// Edit 编辑消息文本
func (s *MessageService) Edit(ctx context.Context, actorID, messageID uint, text string) (*model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, invalid("Message text is required")
	}
	if err := s.checkText(text); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(messageKey(messageID))
	defer unlock()

	message, err := s.load(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeChange(message, actorID, "edit"); err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.messages.UpdateFields(ctx, messageID, map[string]interface{}{
		"text":      text,
		"is_edited": true,
		"edited_at": now,
	}); err != nil {
		return nil, upstream("failed to update message", err)
	}
	message.Text = text
	message.IsEdited = true
	message.EditedAt = &now

	s.notifier.EmitToPair(message.SenderID, message.ReceiverID, event.MessageEdited, event.MessageChange{
		Message:   message,
		UpdatedBy: actorID,
	})

	return message, nil
}

// Delete 撤回消息：保留元数据，清空内容
func (s *MessageService) Delete(ctx context.Context, actorID, messageID uint) (*model.Message, error) {
	unlock := s.locks.Lock(messageKey(messageID))
	defer unlock()

	message, err := s.load(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeChange(message, actorID, "delete"); err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.messages.UpdateFields(ctx, messageID, map[string]interface{}{
		"text":           model.DeletedMessageText,
		"image":          "",
		"voice":          "",
		"voice_duration": 0,
		"is_deleted":     true,
		"deleted_at":     now,
	}); err != nil {
		return nil, upstream("failed to delete message", err)
	}
	message.Text = model.DeletedMessageText
	message.Image = ""
	message.Voice = ""
	message.VoiceDuration = 0
	message.IsDeleted = true
	message.DeletedAt = &now

	s.notifier.EmitToPair(message.SenderID, message.ReceiverID, event.MessageDeleted, event.MessageChange{
		Message:   message,
		UpdatedBy: actorID,
	})

	return message, nil
}

// loadAsReceiver 回执只接受来自接收者
func (s *MessageService) loadAsReceiver(ctx context.Context, actorID, messageID uint) (*model.Message, error) {
	message, err := s.load(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if message.ReceiverID != actorID {
		return nil, forbidden("Only the receiver can acknowledge a message")
	}
	return message, nil
}

// MarkDelivered 标记送达（幂等），发生变化时通知发送者
func (s *MessageService) MarkDelivered(ctx context.Context, actorID, messageID uint) (*model.Message, error) {
	message, err := s.loadAsReceiver(ctx, actorID, messageID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	changed, err := s.messages.MarkDelivered(ctx, messageID, now)
	if err != nil {
		return nil, upstream("failed to mark message delivered", err)
	}
	if !changed {
		return message, nil
	}
	message.DeliveredAt = &now

	s.notifier.EmitTo(message.SenderID, event.MessageStatusUpdate, statusOf(message))
	return message, nil
}

// MarkRead 标记已读（同时视为送达），发生变化时通知发送者
func (s *MessageService) MarkRead(ctx context.Context, actorID, messageID uint) (*model.Message, error) {
	message, err := s.loadAsReceiver(ctx, actorID, messageID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	changed, err := s.messages.MarkRead(ctx, messageID, now)
	if err != nil {
		return nil, upstream("failed to mark message read", err)
	}
	if !changed {
		return message, nil
	}
	message.ReadAt = &now
	if message.DeliveredAt == nil {
		message.DeliveredAt = &now
	}

	s.notifier.EmitTo(message.SenderID, event.MessageStatusUpdate, statusOf(message))
	return message, nil
}

// MarkAllReadFrom 把 senderID 发给 readerID 的未读消息全部标记为已读
// 每条消息单独通知发送者，顺序与存储顺序一致
func (s *MessageService) MarkAllReadFrom(ctx context.Context, readerID, senderID uint) ([]model.Message, error) {
	if readerID == senderID {
		return nil, invalid("Cannot mark your own messages as read")
	}

	updated, err := s.messages.MarkAllReadFrom(ctx, readerID, senderID, s.now())
	if err != nil {
		return nil, upstream("failed to mark messages read", err)
	}

	for i := range updated {
		s.notifier.EmitTo(senderID, event.MessageStatusUpdate, statusOf(&updated[i]))
	}
	return updated, nil
}

func statusOf(m *model.Message) event.MessageStatus {
	return event.MessageStatus{
		MessageID:   m.ID,
		DeliveredAt: m.DeliveredAt,
		ReadAt:      m.ReadAt,
	}
}

// Contacts 除自己外的所有用户
func (s *MessageService) Contacts(ctx context.Context, userID uint) ([]model.User, error) {
	users, err := s.users.ListExcept(ctx, userID)
	if err != nil {
		return nil, upstream("failed to list contacts", err)
	}
	if users == nil {
		users = []model.User{}
	}
	return users, nil
}

// ChatPartners 有过消息往来的用户，最近联系的在前，附带每个对方发来的未读数
func (s *MessageService) ChatPartners(ctx context.Context, userID uint) ([]model.ChatPartner, error) {
	ids, err := s.messages.ListPartnerIDs(ctx, userID)
	if err != nil {
		return nil, upstream("failed to list chat partners", err)
	}
	users, err := s.users.ListByIDs(ctx, ids)
	if err != nil {
		return nil, upstream("failed to load chat partners", err)
	}

	partners := make([]model.ChatPartner, 0, len(users))
	for _, u := range users {
		unread, err := s.messages.CountUnreadFrom(ctx, userID, u.ID)
		if err != nil {
			return nil, upstream("failed to count unread messages", err)
		}
		partners = append(partners, model.ChatPartner{User: u, UnreadCount: unread})
	}
	return partners, nil
}

// Conversation 与某个用户的全部消息（双向，按时间升序）
func (s *MessageService) Conversation(ctx context.Context, userID, otherUserID uint) ([]model.Message, error) {
	exists, err := s.users.Exists(ctx, otherUserID)
	if err != nil {
		return nil, upstream("failed to look up user", err)
	}
	if !exists {
		return nil, notFound("User not found")
	}

	messages, err := s.messages.ListConversation(ctx, userID, otherUserID)
	if err != nil {
		return nil, upstream("failed to load messages", err)
	}
	if messages == nil {
		messages = []model.Message{}
	}
	for i := range messages {
		if messages[i].Reactions == nil {
			messages[i].Reactions = []model.Reaction{}
		}
	}
	return messages, nil
}
