package websocket

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chatify/pkg/event"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterBroadcastsSnapshotAndDelta(t *testing.T) {
	store := newMemoryPresence()
	m := NewManager(store, store, nil)

	alice := newTestClient(1, "Alice")
	m.Register(alice)
	snap := decodeData[[]uint](t, nextFrame(t, alice))
	assert.Equal(t, []uint{1}, snap)
	// 上线通知不发给自己
	assertNoFrame(t, alice)

	bob := newTestClient(2, "Bob")
	m.Register(bob)

	f := nextFrame(t, alice)
	assert.Equal(t, event.OnlineUsers, f.Event)
	assert.Equal(t, []uint{1, 2}, decodeData[[]uint](t, f))
	f = nextFrame(t, alice)
	assert.Equal(t, event.UserStatusUpdate, f.Event)
	status := decodeData[event.UserStatus](t, f)
	assert.Equal(t, uint(2), status.UserID)
	assert.True(t, status.IsOnline)

	f = nextFrame(t, bob)
	assert.Equal(t, event.OnlineUsers, f.Event)
	assertNoFrame(t, bob)

	assert.Equal(t, []uint{1, 2}, m.OnlineUserIDs())
	assert.Equal(t, []presenceCall{{1, true}, {2, true}}, store.history())
	assert.True(t, store.mirrored[2])
}

func TestRegisterEvictsPreviousSession(t *testing.T) {
	m := NewManager(nil, nil, nil)
	first := newTestClient(1, "Alice")
	second := newTestClient(1, "Alice")

	m.Register(first)
	m.Register(second)

	assert.True(t, first.Closed())
	assert.Same(t, second, m.Lookup(1))
	assert.Equal(t, 1, m.Count())

	// 旧会话稍后注销不影响新会话
	assert.False(t, m.Unregister(first))
	assert.True(t, m.IsOnline(1))
}

func TestUnregisterBroadcastsOffline(t *testing.T) {
	store := newMemoryPresence()
	m := NewManager(store, store, nil)
	alice := newTestClient(1, "Alice")
	bob := newTestClient(2, "Bob")
	m.Register(alice)
	m.Register(bob)
	drain(alice)

	require.True(t, m.Unregister(bob))
	assert.True(t, bob.Closed())

	f := nextFrame(t, alice)
	assert.Equal(t, event.OnlineUsers, f.Event)
	assert.Equal(t, []uint{1}, decodeData[[]uint](t, f))
	f = nextFrame(t, alice)
	status := decodeData[event.UserStatus](t, f)
	assert.Equal(t, uint(2), status.UserID)
	assert.False(t, status.IsOnline)

	assert.Equal(t, presenceCall{2, false}, store.history()[2])
	assert.False(t, store.mirrored[2])
	assert.False(t, m.Unregister(bob))
}

func TestPresenceFailureDoesNotBlockRegistry(t *testing.T) {
	store := newMemoryPresence()
	store.fail = errors.New("db down")
	m := NewManager(store, store, nil)

	alice := newTestClient(1, "Alice")
	m.Register(alice)
	assert.True(t, m.IsOnline(1))
	assert.True(t, m.Unregister(alice))
	assert.False(t, m.IsOnline(1))
}

func TestDisconnect(t *testing.T) {
	m := NewManager(nil, nil, nil)
	assert.False(t, m.Disconnect(7))

	c := newTestClient(7, "x")
	m.Register(c)
	assert.True(t, m.Disconnect(7))
	assert.True(t, c.Closed())
	assert.Nil(t, m.Lookup(7))
}

func TestHeartbeatOnlyForCurrentSession(t *testing.T) {
	store := newMemoryPresence()
	m := NewManager(store, store, nil)
	stale := newTestClient(1, "Alice")
	m.Heartbeat(stale)
	assert.Empty(t, store.history())

	m.Register(stale)
	m.Heartbeat(stale)
	assert.Len(t, store.history(), 2)
	assert.Equal(t, 1, store.refreshed)
}

// slowPresence 模拟写库延迟
type slowPresence struct {
	*memoryPresence
	delay time.Duration
}

func (p *slowPresence) SetPresence(ctx context.Context, id uint, online bool, lastSeen time.Time) error {
	time.Sleep(p.delay)
	return p.memoryPresence.SetPresence(ctx, id, online, lastSeen)
}

func TestSlowPresenceStoreDoesNotSerializeUsers(t *testing.T) {
	store := &slowPresence{memoryPresence: newMemoryPresence(), delay: 200 * time.Millisecond}
	m := NewManager(store, nil, nil)

	start := time.Now()
	var wg sync.WaitGroup
	for id := uint(1); id <= 10; id++ {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			m.Register(newTestClient(id, "user"))
		}(id)
	}
	wg.Wait()

	// 串行写入需要约2秒
	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, m.OnlineUserIDs(), 10)
	assert.Len(t, store.history(), 10)
}

func TestSlowPresenceStoreOnlyPausesCaller(t *testing.T) {
	store := &slowPresence{memoryPresence: newMemoryPresence(), delay: 300 * time.Millisecond}
	m := NewManager(store, nil, nil)

	done := make(chan struct{})
	go func() {
		m.Register(newTestClient(1, "Alice"))
		close(done)
	}()

	// 写库期间会话表仍可读写
	require.Eventually(t, func() bool { return m.IsOnline(1) }, time.Second, 5*time.Millisecond)
	bob := newTestClient(2, "Bob")
	registered := make(chan struct{})
	go func() {
		m.Register(bob)
		close(registered)
	}()
	require.Eventually(t, func() bool { return m.IsOnline(2) }, 100*time.Millisecond, 5*time.Millisecond)

	<-done
	<-registered
}

func TestStalePresenceWriteIsSkipped(t *testing.T) {
	store := newMemoryPresence()
	m := NewManager(store, nil, nil)
	c := newTestClient(1, "Alice")

	m.presenceMu.Lock()
	older, olderSeq := m.acquireSlotLocked(1)
	newer, newerSeq := m.acquireSlotLocked(1)
	m.presenceMu.Unlock()
	require.Same(t, older, newer)

	m.ordered(1, newer, newerSeq, func(ctx context.Context) { m.persist(ctx, c, false, time.Now()) })
	m.ordered(1, older, olderSeq, func(ctx context.Context) { m.persist(ctx, c, true, time.Now()) })

	assert.Equal(t, []presenceCall{{1, false}}, store.history())
	m.presenceMu.Lock()
	assert.Empty(t, m.slots)
	m.presenceMu.Unlock()
}
