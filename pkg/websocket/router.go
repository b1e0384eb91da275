package websocket

import (
	"encoding/json"
	"fmt"

	"chatify/pkg/event"
	"chatify/pkg/metrics"

	"go.uber.org/zap"
)

// Router 按用户ID把事件投递到会话；用户不在线时直接丢弃
type Router struct {
	manager *Manager
	log     *zap.Logger
}

func NewRouter(manager *Manager, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{manager: manager, log: log}
}

func encodeFrame(name string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("编码事件 %s 失败: %w", name, err)
	}
	return json.Marshal(event.Frame{Event: name, Data: data})
}

// deliver 非阻塞写入会话发送队列
func deliver(c *Client, name string, frame []byte) bool {
	ok, full := c.Enqueue(frame)
	switch {
	case ok:
		metrics.IncEmitted(name)
	case full:
		metrics.IncDropped(name, metrics.DropBufferFull)
	default:
		metrics.IncDropped(name, metrics.DropOffline)
	}
	return ok
}

// EmitTo 推送给指定用户，返回是否交给了会话
func (r *Router) EmitTo(userID uint, name string, payload interface{}) bool {
	client := r.manager.Lookup(userID)
	if client == nil {
		metrics.IncDropped(name, metrics.DropOffline)
		return false
	}
	return r.Send(client, name, payload)
}

// EmitToPair 推送给会话双方，同一用户只推一次
func (r *Router) EmitToPair(a, b uint, name string, payload interface{}) {
	frame, err := encodeFrame(name, payload)
	if err != nil {
		r.log.Error("事件编码失败", zap.String("event", name), zap.Error(err))
		return
	}
	ids := []uint{a}
	if b != a {
		ids = append(ids, b)
	}
	for _, id := range ids {
		if client := r.manager.Lookup(id); client != nil {
			deliver(client, name, frame)
		} else {
			metrics.IncDropped(name, metrics.DropOffline)
		}
	}
}

// Send 直接推送给某个会话
func (r *Router) Send(client *Client, name string, payload interface{}) bool {
	frame, err := encodeFrame(name, payload)
	if err != nil {
		r.log.Error("事件编码失败", zap.String("event", name), zap.Error(err))
		return false
	}
	return deliver(client, name, frame)
}

// Broadcast 推送给所有在线会话
func (r *Router) Broadcast(name string, payload interface{}) {
	r.BroadcastExcept(nil, name, payload)
}

// BroadcastExcept 推送给除 except 外的所有会话，帧只编码一次
func (r *Router) BroadcastExcept(except *Client, name string, payload interface{}) {
	frame, err := encodeFrame(name, payload)
	if err != nil {
		r.log.Error("事件编码失败", zap.String("event", name), zap.Error(err))
		return
	}
	for _, c := range r.manager.snapshot() {
		if c == except {
			continue
		}
		deliver(c, name, frame)
	}
}
