package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// PresenceData 在线状态数据
type PresenceData struct {
	UserID   uint      `json:"userId"`
	FullName string    `json:"fullName"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

// 在线状态相关常量
const (
	PresenceKeyPrefix = "chatify:presence:user:" // 用户在线状态key前缀
	OnlineUsersKey    = "chatify:online:users"   // 在线用户集合key
	PresenceTTL       = 2 * time.Minute          // 在线状态TTL（2倍心跳周期）
)

// PresenceKey 用户在线状态key
func PresenceKey(userID uint) string {
	return PresenceKeyPrefix + strconv.FormatUint(uint64(userID), 10)
}

// Presence 在线状态镜像，供其他进程/外部worker查询
// 进程内的会话表才是在线状态的真实来源，这里只做尽力写入
type Presence struct {
	client *redis.Client
}

// NewPresence 创建在线状态镜像，client为nil时所有操作为空操作
func NewPresence(client *redis.Client) *Presence {
	return &Presence{client: client}
}

// Enabled 是否连接了Redis
func (p *Presence) Enabled() bool {
	return p != nil && p.client != nil
}

// SetOnline 标记用户在线
func (p *Presence) SetOnline(ctx context.Context, userID uint, fullName string, at time.Time) error {
	if !p.Enabled() {
		return nil
	}

	data, err := json.Marshal(PresenceData{UserID: userID, FullName: fullName, IsOnline: true, LastSeen: at})
	if err != nil {
		return fmt.Errorf("序列化在线状态失败: %w", err)
	}

	pipe := p.client.TxPipeline()
	pipe.Set(ctx, PresenceKey(userID), data, PresenceTTL)
	pipe.SAdd(ctx, OnlineUsersKey, userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("设置用户在线状态失败: %w", err)
	}
	return nil
}

// SetOffline 标记用户离线
func (p *Presence) SetOffline(ctx context.Context, userID uint) error {
	if !p.Enabled() {
		return nil
	}

	pipe := p.client.TxPipeline()
	pipe.Del(ctx, PresenceKey(userID))
	pipe.SRem(ctx, OnlineUsersKey, userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("删除用户在线状态失败: %w", err)
	}
	return nil
}

// Refresh 刷新用户在线状态（延长TTL），心跳时调用
func (p *Presence) Refresh(ctx context.Context, userID uint) error {
	if !p.Enabled() {
		return nil
	}

	ok, err := p.client.Expire(ctx, PresenceKey(userID), PresenceTTL).Result()
	if err != nil {
		return fmt.Errorf("刷新用户在线状态失败: %w", err)
	}
	if !ok {
		return fmt.Errorf("用户不在线")
	}
	return nil
}

// Get 获取用户在线状态
func (p *Presence) Get(ctx context.Context, userID uint) (*PresenceData, error) {
	if !p.Enabled() {
		return nil, fmt.Errorf("redis客户端未初始化")
	}

	data, err := p.client.Get(ctx, PresenceKey(userID)).Bytes()
	if err != nil {
		return nil, fmt.Errorf("获取用户在线状态失败: %w", err)
	}

	var presence PresenceData
	if err := json.Unmarshal(data, &presence); err != nil {
		return nil, fmt.Errorf("反序列化在线状态失败: %w", err)
	}
	return &presence, nil
}

// OnlineUserIDs 获取所有在线用户ID列表
func (p *Presence) OnlineUserIDs(ctx context.Context) ([]uint, error) {
	if !p.Enabled() {
		return nil, nil
	}

	members, err := p.client.SMembers(ctx, OnlineUsersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("获取在线用户列表失败: %w", err)
	}
	return parseIDs(members), nil
}

// Reset 清空在线镜像，进程启动时调用（上一次进程遗留的在线记录已失效）
func (p *Presence) Reset(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}

	ids, err := p.OnlineUserIDs(ctx)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, PresenceKey(id))
	}
	keys = append(keys, OnlineUsersKey)
	return p.client.Del(ctx, keys...).Err()
}

func parseIDs(members []string) []uint {
	userIDs := make([]uint, 0, len(members))
	for _, member := range members {
		id, err := strconv.ParseUint(member, 10, 64)
		if err != nil {
			continue
		}
		userIDs = append(userIDs, uint(id))
	}
	return userIDs
}
