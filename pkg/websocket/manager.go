package websocket

import (
	"context"
	"sort"
	"sync"
	"time"

	"chatify/pkg/event"
	"chatify/pkg/metrics"

	"go.uber.org/zap"
)

const persistTimeout = 5 * time.Second

// PresenceStore 在线状态持久化（用户表 isOnline / lastSeen）
type PresenceStore interface {
	SetPresence(ctx context.Context, id uint, online bool, lastSeen time.Time) error
}

// PresenceMirror 在线状态镜像（Redis），失败只记录日志
type PresenceMirror interface {
	SetOnline(ctx context.Context, userID uint, fullName string, at time.Time) error
	SetOffline(ctx context.Context, userID uint) error
	Refresh(ctx context.Context, userID uint) error
}

// Manager 在线会话表：每个用户最多一个会话，新会话顶替旧会话
// 表的变更和快照广播在 presenceMu 下串行完成；落库在锁外按用户串行，
// 同一用户的写入按变更顺序生效，不同用户互不等待
type Manager struct {
	clients map[uint]*Client
	lock    sync.RWMutex

	presenceMu sync.Mutex
	seq        uint64
	slots      map[uint]*presenceSlot

	router *Router
	store  PresenceStore
	mirror PresenceMirror
	now    func() time.Time
	log    *zap.Logger
}

// presenceSlot 单个用户的落库队列，written 为已写入的最大序号
type presenceSlot struct {
	mu      sync.Mutex
	written uint64
	refs    int
}

// NewManager 创建会话表，store/mirror 可为nil
func NewManager(store PresenceStore, mirror PresenceMirror, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		clients: make(map[uint]*Client),
		slots:   make(map[uint]*presenceSlot),
		store:   store,
		mirror:  mirror,
		now:     func() time.Time { return time.Now().UTC() },
		log:     log,
	}
	m.router = NewRouter(m, log)
	return m
}

// Register 登记会话并广播在线快照和上线通知
func (m *Manager) Register(client *Client) {
	now := m.now()

	m.presenceMu.Lock()
	m.lock.Lock()
	prev := m.clients[client.UserID]
	m.clients[client.UserID] = client
	online := m.onlineIDsLocked()
	count := len(m.clients)
	m.lock.Unlock()

	if prev != nil && prev != client {
		// 同一用户的旧会话被顶替
		prev.Close()
		m.log.Info("旧会话被顶替", zap.Uint("user_id", client.UserID), zap.String("session", prev.ID))
	}
	metrics.SetActiveSessions(count)

	m.router.Broadcast(event.OnlineUsers, event.OnlineUsersPayload(online))
	m.router.BroadcastExcept(client, event.UserStatusUpdate, event.UserStatus{UserID: client.UserID, IsOnline: true, LastSeen: now})
	slot, seq := m.acquireSlotLocked(client.UserID)
	m.presenceMu.Unlock()

	m.ordered(client.UserID, slot, seq, func(ctx context.Context) { m.persist(ctx, client, true, now) })

	m.log.Info("用户上线", zap.Uint("user_id", client.UserID), zap.String("session", client.ID), zap.Int("online", count))
}

// Unregister 注销会话；只有当前登记的会话才会触发离线
func (m *Manager) Unregister(client *Client) bool {
	now := m.now()

	m.presenceMu.Lock()
	m.lock.Lock()
	cur, ok := m.clients[client.UserID]
	if !ok || cur != client {
		m.lock.Unlock()
		m.presenceMu.Unlock()
		client.Close()
		return false
	}
	delete(m.clients, client.UserID)
	online := m.onlineIDsLocked()
	count := len(m.clients)
	m.lock.Unlock()

	client.Close()
	metrics.SetActiveSessions(count)

	m.router.Broadcast(event.OnlineUsers, event.OnlineUsersPayload(online))
	m.router.Broadcast(event.UserStatusUpdate, event.UserStatus{UserID: client.UserID, IsOnline: false, LastSeen: now})
	slot, seq := m.acquireSlotLocked(client.UserID)
	m.presenceMu.Unlock()

	m.ordered(client.UserID, slot, seq, func(ctx context.Context) { m.persist(ctx, client, false, now) })

	m.log.Info("用户离线", zap.Uint("user_id", client.UserID), zap.String("session", client.ID), zap.Int("online", count))
	return true
}

// Disconnect 断开用户当前会话（登出）
func (m *Manager) Disconnect(userID uint) bool {
	client := m.Lookup(userID)
	if client == nil {
		return false
	}
	return m.Unregister(client)
}

// Heartbeat 刷新最近在线时间和镜像TTL
func (m *Manager) Heartbeat(client *Client) {
	m.presenceMu.Lock()
	if m.Lookup(client.UserID) != client {
		m.presenceMu.Unlock()
		return
	}
	slot, seq := m.acquireSlotLocked(client.UserID)
	m.presenceMu.Unlock()

	m.ordered(client.UserID, slot, seq, func(ctx context.Context) {
		if m.store != nil {
			if err := m.store.SetPresence(ctx, client.UserID, true, m.now()); err != nil {
				m.log.Debug("心跳刷新在线状态失败", zap.Uint("user_id", client.UserID), zap.Error(err))
			}
		}
		if m.mirror != nil {
			if err := m.mirror.Refresh(ctx, client.UserID); err != nil {
				m.log.Debug("心跳刷新Redis在线状态失败", zap.Uint("user_id", client.UserID), zap.Error(err))
			}
		}
	})
}

// Lookup 返回用户当前会话，不在线返回nil
func (m *Manager) Lookup(userID uint) *Client {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.clients[userID]
}

// IsOnline 判断用户是否在线
func (m *Manager) IsOnline(userID uint) bool {
	return m.Lookup(userID) != nil
}

// OnlineUserIDs 在线用户ID（升序）
func (m *Manager) OnlineUserIDs() []uint {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.onlineIDsLocked()
}

// Count 在线会话数
func (m *Manager) Count() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.clients)
}

func (m *Manager) onlineIDsLocked() []uint {
	ids := make([]uint, 0, len(m.clients))
	for id := range m.clients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (m *Manager) snapshot() []*Client {
	m.lock.RLock()
	defer m.lock.RUnlock()
	out := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, c)
	}
	return out
}

// acquireSlotLocked 为一次落库分配序号，调用方持有 presenceMu
func (m *Manager) acquireSlotLocked(userID uint) (*presenceSlot, uint64) {
	m.seq++
	slot, ok := m.slots[userID]
	if !ok {
		slot = &presenceSlot{}
		m.slots[userID] = slot
	}
	slot.refs++
	return slot, m.seq
}

// ordered 在用户的落库队列上执行 fn；已有更新的写入完成时跳过
func (m *Manager) ordered(userID uint, slot *presenceSlot, seq uint64, fn func(ctx context.Context)) {
	slot.mu.Lock()
	if seq > slot.written {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		fn(ctx)
		cancel()
		slot.written = seq
	}
	slot.mu.Unlock()

	m.presenceMu.Lock()
	slot.refs--
	if slot.refs == 0 {
		delete(m.slots, userID)
	}
	m.presenceMu.Unlock()
}

// persist 写库和Redis镜像，失败不影响会话表
func (m *Manager) persist(ctx context.Context, client *Client, online bool, at time.Time) {
	if m.store != nil {
		if err := m.store.SetPresence(ctx, client.UserID, online, at); err != nil {
			m.log.Warn("写入在线状态失败", zap.Uint("user_id", client.UserID), zap.Bool("online", online), zap.Error(err))
		}
	}
	if m.mirror == nil {
		return
	}
	var err error
	if online {
		err = m.mirror.SetOnline(ctx, client.UserID, client.UserName, at)
	} else {
		err = m.mirror.SetOffline(ctx, client.UserID)
	}
	if err != nil {
		m.log.Warn("写入Redis在线状态失败", zap.Uint("user_id", client.UserID), zap.Error(err))
	}
}
