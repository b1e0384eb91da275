package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chatify/config"
	"chatify/internal/model"
	"chatify/pkg/jwt"
	"chatify/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	maxFrameBytes  = 64 << 10
	handleTimeout  = 10 * time.Second
	defaultPing    = 30 * time.Second
	defaultReadTTL = 60 * time.Second
)

// UserLookup 握手时加载用户资料
type UserLookup interface {
	GetByID(ctx context.Context, id uint) (*model.User, error)
}

// Handler WebSocket 握手与读写循环
type Handler struct {
	hub      *Hub
	jwt      *jwt.JWTService
	users    UserLookup
	cfg      config.WebSocketConfig
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHandler clientURL 为空时不校验 Origin
func NewHandler(hub *Hub, jwtService *jwt.JWTService, users UserLookup, cfg config.WebSocketConfig, clientURL string, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPing
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTTL
	}
	return &Handler{
		hub:   hub,
		jwt:   jwtService,
		users: users,
		cfg:   cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(clientURL),
		},
		log: log,
	}
}

func originChecker(clientURL string) func(r *http.Request) bool {
	allowed := strings.TrimRight(clientURL, "/")
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if allowed == "" || origin == "" {
			return true
		}
		if strings.EqualFold(strings.TrimRight(origin, "/"), allowed) {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

// ServeWS Gin路由处理函数
func (h *Handler) ServeWS(c *gin.Context) {
	protocol := c.GetHeader("Sec-WebSocket-Protocol")
	token := jwt.TokenFromRequest(c.Request)
	if token == "" {
		token = strings.TrimSpace(strings.TrimPrefix(protocol, "Bearer "))
	}
	if token == "" {
		response.Unauthorized(c, "缺少token")
		return
	}

	claims, err := h.jwt.ValidateToken(token)
	if err != nil {
		response.Unauthorized(c, "token无效或已过期")
		return
	}
	userID, err := claims.UserID()
	if err != nil || userID == 0 {
		response.Unauthorized(c, "token无效")
		return
	}

	user, err := h.users.GetByID(c.Request.Context(), userID)
	if err != nil || user == nil {
		response.Unauthorized(c, "用户不存在")
		return
	}

	// 回显子协议，避免客户端提示 "Server sent no subprotocol"
	respHeader := http.Header{}
	if protocol != "" {
		respHeader.Set("Sec-WebSocket-Protocol", protocol)
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, respHeader)
	if err != nil {
		h.log.Debug("WebSocket升级失败", zap.Uint("user_id", userID), zap.Error(err))
		return
	}

	client := NewClient(conn, user.ID, user.FullName, user.ProfilePic, h.cfg.SendBuffer)
	h.hub.Connect(client)

	go h.writePump(client)
	h.readPump(client)
}

// writePump 写协程 + 定时发送ping；发送队列关闭后关闭连接
func (h *Handler) writePump(client *Client) {
	conn := client.Conn
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.Debug("写入WebSocket失败", zap.Uint("user_id", client.UserID), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// readPump 读协程。若超时未收到任何读事件则断开
func (h *Handler) readPump(client *Client) {
	conn := client.Conn
	defer func() {
		h.hub.Leave(client)
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) && !client.Closed() {
				h.log.Debug("读取WebSocket失败", zap.Uint("user_id", client.UserID), zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))

		ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
		h.hub.Handle(ctx, client, payload)
		cancel()
	}
}
