package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"chatify/pkg/event"
	"chatify/pkg/metrics"
)

// ErrUnknownEvent 未注册的事件名
var ErrUnknownEvent = errors.New("unknown event")

// ErrMalformedFrame 无法解析的帧
var ErrMalformedFrame = errors.New("malformed frame")

// InvalidEventError 事件载荷不合法，原因会回给客户端
type InvalidEventError struct {
	Reason string
}

func (e *InvalidEventError) Error() string { return e.Reason }

// Public 可以返回给客户端的描述
func (e *InvalidEventError) Public() string { return e.Reason }

func errInvalid(reason string) error {
	return &InvalidEventError{Reason: reason}
}

// HandlerFunc 上行事件处理函数
type HandlerFunc func(ctx context.Context, c *Client, data json.RawMessage) error

// Dispatcher 事件名到处理函数的分发表
type Dispatcher struct {
	handlers map[string]HandlerFunc
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]HandlerFunc)}
}

// Register 注册处理函数，同名覆盖
func (d *Dispatcher) Register(name string, h HandlerFunc) {
	d.handlers[name] = h
}

// Events 已注册的事件名（排序）
func (d *Dispatcher) Events() []string {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch 解析帧并调用对应处理函数，返回事件名便于回错
func (d *Dispatcher) Dispatch(ctx context.Context, c *Client, raw []byte) (string, error) {
	var frame event.Frame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
		metrics.IncInbound("malformed", "error")
		return "", ErrMalformedFrame
	}
	h, ok := d.handlers[frame.Event]
	if !ok {
		metrics.IncInbound("unknown", "error")
		return frame.Event, ErrUnknownEvent
	}
	if err := h(ctx, c, frame.Data); err != nil {
		metrics.IncInbound(frame.Event, "error")
		return frame.Event, err
	}
	metrics.IncInbound(frame.Event, "ok")
	return frame.Event, nil
}

// decode 把载荷解析为 T；空载荷视为非法
func decode[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, errInvalid("missing payload")
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, errInvalid("invalid payload")
	}
	return v, nil
}
