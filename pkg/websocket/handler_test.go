package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatify/config"
	"chatify/internal/model"
	"chatify/pkg/event"
	"chatify/pkg/jwt"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type userMap map[uint]*model.User

func (m userMap) GetByID(ctx context.Context, id uint) (*model.User, error) {
	if u, ok := m[id]; ok {
		return u, nil
	}
	return nil, errors.New("not found")
}

type wsFixture struct {
	hub    *Hub
	jwt    *jwt.JWTService
	server *httptest.Server
	url    string
}

func newWSFixture(t *testing.T, clientURL string) *wsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	jwtService := jwt.NewJWTService(config.JWTConfig{Secret: "test-secret", ExpireTime: time.Hour, Issuer: "chatify"})
	cfg := config.WebSocketConfig{PingInterval: time.Second, ReadTimeout: 5 * time.Second, SendBuffer: 32, TypingTimeout: time.Minute}
	hub := NewHub(cfg, nil, nil, nil)
	users := userMap{
		1: {ID: 1, FullName: "Alice"},
		2: {ID: 2, FullName: "Bob"},
	}

	r := gin.New()
	r.GET("/ws", NewHandler(hub, jwtService, users, cfg, clientURL, nil).ServeWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &wsFixture{
		hub:    hub,
		jwt:    jwtService,
		server: srv,
		url:    "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

func (f *wsFixture) token(t *testing.T, userID uint) string {
	t.Helper()
	token, err := f.jwt.GenerateToken(userID, nil)
	require.NoError(t, err)
	return token
}

func (f *wsFixture) dial(t *testing.T, userID uint) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(f.url+"?token="+f.token(t, userID), nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil 读取帧直到出现指定事件
func readUntil(t *testing.T, conn *websocket.Conn, name string) event.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		var f event.Frame
		require.NoError(t, json.Unmarshal(raw, &f))
		if f.Event == name {
			return f
		}
	}
}

func TestServeWSRejectsMissingToken(t *testing.T) {
	f := newWSFixture(t, "")
	_, resp, err := websocket.DefaultDialer.Dial(f.url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeWSRejectsUnknownUser(t *testing.T) {
	f := newWSFixture(t, "")
	_, resp, err := websocket.DefaultDialer.Dial(f.url+"?token="+f.token(t, 99), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeWSRejectsForeignOrigin(t *testing.T) {
	f := newWSFixture(t, "https://chat.example.com")
	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(f.url+"?token="+f.token(t, 1), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServeWSPresenceAndTyping(t *testing.T) {
	f := newWSFixture(t, "")

	alice := f.dial(t, 1)
	snap := readUntil(t, alice, event.OnlineUsers)
	assert.JSONEq(t, `[1]`, string(snap.Data))

	bob := f.dial(t, 2)
	readUntil(t, bob, event.OnlineUsers)
	status := readUntil(t, alice, event.UserStatusUpdate)
	assert.Contains(t, string(status.Data), `"userId":2`)

	require.NoError(t, alice.WriteJSON(map[string]interface{}{
		"event": event.ClientTyping,
		"data":  map[string]uint{"receiverId": 2},
	}))
	typing := readUntil(t, bob, event.UserTyping)
	var payload event.Typing
	require.NoError(t, json.Unmarshal(typing.Data, &payload))
	assert.Equal(t, uint(1), payload.UserID)
	assert.Equal(t, "Alice", payload.UserName)
	assert.True(t, payload.IsTyping)

	// bob 断开后 alice 收到离线通知
	require.NoError(t, bob.Close())
	require.Eventually(t, func() bool { return !f.hub.Manager.IsOnline(2) }, 2*time.Second, 10*time.Millisecond)
	offline := readUntil(t, alice, event.UserStatusUpdate)
	assert.Contains(t, string(offline.Data), `"isOnline":false`)
}

func TestServeWSLogoutClosesConnection(t *testing.T) {
	f := newWSFixture(t, "")
	alice := f.dial(t, 1)
	readUntil(t, alice, event.OnlineUsers)

	require.True(t, f.hub.Disconnect(1))

	require.NoError(t, alice.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := alice.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err.Error())
			break
		}
	}
}
