package websocket

import (
	"sync"
	"testing"
	"time"

	"chatify/pkg/event"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type typingSink struct {
	mu     sync.Mutex
	events []event.Typing
	to     []uint
}

func (s *typingSink) emit(receiverID uint, payload event.Typing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.to = append(s.to, receiverID)
	s.events = append(s.events, payload)
}

func (s *typingSink) snapshot() []event.Typing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.Typing(nil), s.events...)
}

func TestTypingAutoStops(t *testing.T) {
	sink := &typingSink{}
	tr := NewTypingTracker(30*time.Millisecond, sink.emit)

	tr.Start(1, "Alice", 2)
	require.Eventually(t, func() bool { return len(sink.snapshot()) == 2 }, time.Second, 5*time.Millisecond)

	got := sink.snapshot()
	assert.True(t, got[0].IsTyping)
	assert.False(t, got[1].IsTyping)
	assert.Equal(t, "Alice", got[1].UserName)
	assert.Equal(t, 0, tr.Active())
}

func TestTypingRestartDebounces(t *testing.T) {
	sink := &typingSink{}
	tr := NewTypingTracker(150*time.Millisecond, sink.emit)

	tr.Start(1, "Alice", 2)
	time.Sleep(60 * time.Millisecond)
	tr.Start(1, "Alice", 2)
	time.Sleep(110 * time.Millisecond)
	// 第一次的计时已被取消
	assert.Len(t, sink.snapshot(), 2)

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 3 }, time.Second, 5*time.Millisecond)
	assert.False(t, sink.snapshot()[2].IsTyping)
}

func TestTypingStopEmitsOnce(t *testing.T) {
	sink := &typingSink{}
	tr := NewTypingTracker(30*time.Millisecond, sink.emit)

	tr.Start(1, "Alice", 2)
	tr.Stop(1, "Alice", 2)
	time.Sleep(60 * time.Millisecond)

	got := sink.snapshot()
	require.Len(t, got, 2)
	assert.False(t, got[1].IsTyping)
}

func TestTypingCancelIsSilent(t *testing.T) {
	sink := &typingSink{}
	tr := NewTypingTracker(30*time.Millisecond, sink.emit)

	tr.Start(1, "Alice", 2)
	tr.Cancel(1, 2)
	time.Sleep(60 * time.Millisecond)
	assert.Len(t, sink.snapshot(), 1)
}

func TestTypingStopAll(t *testing.T) {
	sink := &typingSink{}
	tr := NewTypingTracker(time.Minute, sink.emit)

	tr.Start(1, "Alice", 2)
	tr.Start(1, "Alice", 3)
	tr.Start(4, "Dan", 2)
	tr.StopAll(1)

	assert.Equal(t, 1, tr.Active())
	stops := 0
	for _, e := range sink.snapshot() {
		if !e.IsTyping {
			stops++
			assert.Equal(t, uint(1), e.UserID)
		}
	}
	assert.Equal(t, 2, stops)
}
