package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"chatify/config"
	"chatify/internal/model"
	"chatify/pkg/event"

	"go.uber.org/zap"
)

// Receipts 送达/已读回执处理（由消息服务实现）
type Receipts interface {
	MarkDelivered(ctx context.Context, actorID, messageID uint) (*model.Message, error)
	MarkRead(ctx context.Context, actorID, messageID uint) (*model.Message, error)
	MarkAllReadFrom(ctx context.Context, readerID, senderID uint) ([]model.Message, error)
}

// Hub 实时通道的入口：会话表、投递、输入状态、通话信令和上行事件分发
type Hub struct {
	Manager    *Manager
	Router     *Router
	Typing     *TypingTracker
	Calls      *CallRelay
	Dispatcher *Dispatcher

	mu       sync.RWMutex
	receipts Receipts
	log      *zap.Logger
}

// NewHub 创建Hub并注册所有上行事件
func NewHub(cfg config.WebSocketConfig, store PresenceStore, mirror PresenceMirror, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	manager := NewManager(store, mirror, log)
	router := manager.router
	h := &Hub{
		Manager:    manager,
		Router:     router,
		Calls:      NewCallRelay(router, log),
		Dispatcher: NewDispatcher(),
		log:        log,
	}
	h.Typing = NewTypingTracker(cfg.TypingTimeout, func(receiverID uint, payload event.Typing) {
		router.EmitTo(receiverID, event.UserTyping, payload)
	})
	h.registerHandlers()
	return h
}

// UseReceipts 绑定回执处理（消息服务依赖Hub，因此在构造后注入）
func (h *Hub) UseReceipts(r Receipts) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.receipts = r
}

func (h *Hub) getReceipts() (Receipts, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.receipts == nil {
		return nil, errInvalid("receipts are not available")
	}
	return h.receipts, nil
}

// EmitTo 实现 service.Notifier
func (h *Hub) EmitTo(userID uint, name string, payload interface{}) bool {
	return h.Router.EmitTo(userID, name, payload)
}

// EmitToPair 实现 service.Notifier
func (h *Hub) EmitToPair(a, b uint, name string, payload interface{}) {
	h.Router.EmitToPair(a, b, name, payload)
}

// CancelTyping 实现 service.Notifier
func (h *Hub) CancelTyping(senderID, receiverID uint) {
	h.Typing.Cancel(senderID, receiverID)
}

// Disconnect 实现 service.SessionCloser
func (h *Hub) Disconnect(userID uint) bool {
	if !h.Manager.Disconnect(userID) {
		return false
	}
	h.Typing.StopAll(userID)
	return true
}

// Connect 登记新会话
func (h *Hub) Connect(c *Client) {
	h.Manager.Register(c)
}

// Leave 会话结束：注销，只有当前会话才结束该用户的输入状态
func (h *Hub) Leave(c *Client) {
	if h.Manager.Unregister(c) {
		h.Typing.StopAll(c.UserID)
	}
}

// Handle 处理一帧上行数据，失败时向发送方回 error 事件
func (h *Hub) Handle(ctx context.Context, c *Client, raw []byte) {
	name, err := h.Dispatcher.Dispatch(ctx, c, raw)
	if err == nil {
		return
	}
	h.log.Debug("处理上行事件失败", zap.Uint("user_id", c.UserID), zap.String("event", name), zap.Error(err))
	h.Router.Send(c, event.Error, event.ErrorPayload{Event: name, Message: publicMessage(err)})
}

type publicError interface {
	Public() string
}

func publicMessage(err error) string {
	var pe publicError
	if errors.As(err, &pe) {
		return pe.Public()
	}
	if errors.Is(err, ErrUnknownEvent) || errors.Is(err, ErrMalformedFrame) {
		return err.Error()
	}
	return "request failed"
}

func (h *Hub) registerHandlers() {
	d := h.Dispatcher

	d.Register(event.ClientTyping, func(ctx context.Context, c *Client, data json.RawMessage) error {
		ref, err := decode[event.ReceiverRef](data)
		if err != nil {
			return err
		}
		if ref.ReceiverID == 0 || ref.ReceiverID == c.UserID {
			return errInvalid("receiverId is required")
		}
		h.Typing.Start(c.UserID, c.UserName, ref.ReceiverID)
		return nil
	})
	d.Register(event.ClientStopTyping, func(ctx context.Context, c *Client, data json.RawMessage) error {
		ref, err := decode[event.ReceiverRef](data)
		if err != nil {
			return err
		}
		if ref.ReceiverID == 0 || ref.ReceiverID == c.UserID {
			return errInvalid("receiverId is required")
		}
		h.Typing.Stop(c.UserID, c.UserName, ref.ReceiverID)
		return nil
	})

	d.Register(event.ClientMessageDelivered, func(ctx context.Context, c *Client, data json.RawMessage) error {
		ref, err := decode[event.MessageRef](data)
		if err != nil {
			return err
		}
		r, err := h.getReceipts()
		if err != nil {
			return err
		}
		_, err = r.MarkDelivered(ctx, c.UserID, ref.MessageID)
		return err
	})
	d.Register(event.ClientMessageRead, func(ctx context.Context, c *Client, data json.RawMessage) error {
		ref, err := decode[event.MessageRef](data)
		if err != nil {
			return err
		}
		r, err := h.getReceipts()
		if err != nil {
			return err
		}
		_, err = r.MarkRead(ctx, c.UserID, ref.MessageID)
		return err
	})
	d.Register(event.ClientMarkMessagesRead, func(ctx context.Context, c *Client, data json.RawMessage) error {
		ref, err := decode[event.SenderRef](data)
		if err != nil {
			return err
		}
		r, err := h.getReceipts()
		if err != nil {
			return err
		}
		_, err = r.MarkAllReadFrom(ctx, c.UserID, ref.SenderID)
		return err
	})

	d.Register(event.ClientInitiateCall, func(ctx context.Context, c *Client, data json.RawMessage) error {
		in, err := decode[event.InitiateCall](data)
		if err != nil {
			return err
		}
		return h.Calls.Initiate(c, in)
	})
	for clientEvent := range callForwards {
		clientEvent := clientEvent
		d.Register(clientEvent, func(ctx context.Context, c *Client, data json.RawMessage) error {
			return h.Calls.Forward(c, clientEvent, data)
		})
	}

	d.Register(event.ClientHeartbeat, func(ctx context.Context, c *Client, data json.RawMessage) error {
		h.Manager.Heartbeat(c)
		return nil
	})
}
