package websocket

import (
	"sync"
	"time"

	"chatify/pkg/event"
)

const defaultTypingTimeout = 2 * time.Second

type typingKey struct {
	sender   uint
	receiver uint
}

type typingEntry struct {
	timer *time.Timer
	name  string
	gen   uint64
}

// TypingTracker 输入状态去抖：收到 typing 后在 timeout 内没有新的 typing 则自动推送 isTyping=false
type TypingTracker struct {
	mu      sync.Mutex
	entries map[typingKey]*typingEntry
	gen     uint64
	timeout time.Duration
	emit    func(receiverID uint, payload event.Typing)
}

func NewTypingTracker(timeout time.Duration, emit func(receiverID uint, payload event.Typing)) *TypingTracker {
	if timeout <= 0 {
		timeout = defaultTypingTimeout
	}
	return &TypingTracker{
		entries: make(map[typingKey]*typingEntry),
		timeout: timeout,
		emit:    emit,
	}
}

// Start 推送 isTyping=true 并重置自动结束计时
func (t *TypingTracker) Start(senderID uint, senderName string, receiverID uint) {
	key := typingKey{sender: senderID, receiver: receiverID}

	t.mu.Lock()
	t.gen++
	gen := t.gen
	if e, ok := t.entries[key]; ok {
		e.timer.Stop()
	}
	t.entries[key] = &typingEntry{
		name: senderName,
		gen:  gen,
		timer: time.AfterFunc(t.timeout, func() {
			t.expire(key, gen)
		}),
	}
	t.mu.Unlock()

	t.emit(receiverID, event.Typing{UserID: senderID, UserName: senderName, IsTyping: true})
}

// Stop 取消计时并推送 isTyping=false
func (t *TypingTracker) Stop(senderID uint, senderName string, receiverID uint) {
	t.remove(typingKey{sender: senderID, receiver: receiverID})
	t.emit(receiverID, event.Typing{UserID: senderID, UserName: senderName, IsTyping: false})
}

// Cancel 静默取消计时（消息已发出时使用）
func (t *TypingTracker) Cancel(senderID, receiverID uint) {
	t.remove(typingKey{sender: senderID, receiver: receiverID})
}

// StopAll 会话断开时结束该用户所有输入状态
func (t *TypingTracker) StopAll(senderID uint) {
	type pending struct {
		receiver uint
		name     string
	}
	var stopped []pending

	t.mu.Lock()
	for key, e := range t.entries {
		if key.sender != senderID {
			continue
		}
		e.timer.Stop()
		delete(t.entries, key)
		stopped = append(stopped, pending{receiver: key.receiver, name: e.name})
	}
	t.mu.Unlock()

	for _, p := range stopped {
		t.emit(p.receiver, event.Typing{UserID: senderID, UserName: p.name, IsTyping: false})
	}
}

// Active 正在进行的输入状态数
func (t *TypingTracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *TypingTracker) remove(key typingKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[key]; ok {
		e.timer.Stop()
		delete(t.entries, key)
	}
}

func (t *TypingTracker) expire(key typingKey, gen uint64) {
	t.mu.Lock()
	e, ok := t.entries[key]
	if !ok || e.gen != gen {
		// 已被新的 typing 或 stopTyping 取代
		t.mu.Unlock()
		return
	}
	delete(t.entries, key)
	t.mu.Unlock()

	t.emit(key.receiver, event.Typing{UserID: key.sender, UserName: e.name, IsTyping: false})
}
