package websocket

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client 代表一个WebSocket会话
// ID: 会话唯一标识
// UserID: 用户ID
// Conn: WebSocket连接（测试中可为nil）
// Send: 待写出的帧
type Client struct {
	ID          string
	UserID      uint
	UserName    string
	Avatar      string
	ConnectedAt time.Time
	Conn        *websocket.Conn
	Send        chan []byte

	mu     sync.Mutex
	closed bool
}

// NewClient 创建会话
func NewClient(conn *websocket.Conn, userID uint, userName, avatar string, buffer int) *Client {
	if buffer <= 0 {
		buffer = 256
	}
	return &Client{
		ID:          uuid.NewString(),
		UserID:      userID,
		UserName:    userName,
		Avatar:      avatar,
		ConnectedAt: time.Now(),
		Conn:        conn,
		Send:        make(chan []byte, buffer),
	}
}

// Enqueue 非阻塞写入发送队列，会话已关闭或队列已满时返回false
func (c *Client) Enqueue(frame []byte) (ok bool, full bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, false
	}
	select {
	case c.Send <- frame:
		return true, false
	default:
		return false, true
	}
}

// Close 关闭发送队列，写协程随后关闭底层连接；可重复调用
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

// Closed 会话是否已关闭
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
