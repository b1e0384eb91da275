package service

import (
	"context"
	"errors"
	"net/mail"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"chatify/internal/model"
	"chatify/internal/repository"
	"chatify/pkg/jwt"
	"chatify/pkg/mq"
	"chatify/pkg/password"
	"chatify/pkg/upload"

	"go.uber.org/zap"
)

// UserStore 用户存储
type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id uint) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	Exists(ctx context.Context, id uint) (bool, error)
	ListExcept(ctx context.Context, id uint) ([]model.User, error)
	ListByIDs(ctx context.Context, ids []uint) ([]model.User, error)
	TouchLastSeen(ctx context.Context, id uint, at time.Time) error
	UpdateProfile(ctx context.Context, id uint, fields map[string]interface{}) error
}

// SubscriptionStore 推送订阅存储
type SubscriptionStore interface {
	Upsert(ctx context.Context, sub *model.PushSubscription) error
}

// SessionCloser 断开用户的实时会话（登出时使用）
type SessionCloser interface {
	Disconnect(userID uint) bool
}

const (
	minPasswordLength = 6
	maxNameLength     = 64
)

// SignupInput 注册参数
type SignupInput struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ProfileInput 资料更新参数，ProfilePic 为 data URI
type ProfileInput struct {
	FullName   *string `json:"fullName"`
	ProfilePic string  `json:"profilePic"`
}

// SubscriptionInput 浏览器 PushSubscription.toJSON() 的结构
type SubscriptionInput struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// UserRegistered 投递到消息总线的注册事件（欢迎邮件worker消费）
type UserRegistered struct {
	UserID   uint   `json:"userId"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
}

type UserService struct {
	repo       UserStore
	subs       SubscriptionStore
	jwtService *jwt.JWTService
	uploader   upload.Uploader
	publisher  mq.Publisher
	sessions   SessionCloser
	now        func() time.Time
	log        *zap.Logger
}

func NewUserService(
	repo UserStore,
	subs SubscriptionStore,
	jwtService *jwt.JWTService,
	uploader upload.Uploader,
	publisher mq.Publisher,
	sessions SessionCloser,
	log *zap.Logger,
) *UserService {
	if publisher == nil {
		publisher = mq.NewNoop()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &UserService{
		repo:       repo,
		subs:       subs,
		jwtService: jwtService,
		uploader:   uploader,
		publisher:  publisher,
		sessions:   sessions,
		now:        func() time.Time { return time.Now().UTC() },
		log:        log,
	}
}

func (s *UserService) issueToken(u *model.User) (string, error) {
	token, err := s.jwtService.GenerateToken(u.ID, map[string]interface{}{"fullName": u.FullName})
	if err != nil {
		return "", upstream("failed to issue token", err)
	}
	return token, nil
}

// Signup 注册并签发令牌
func (s *UserService) Signup(ctx context.Context, in SignupInput) (*model.User, string, error) {
	fullName := strings.TrimSpace(in.FullName)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if fullName == "" || email == "" || in.Password == "" {
		return nil, "", invalid("All fields are required")
	}
	if utf8.RuneCountInString(fullName) > maxNameLength {
		return nil, "", invalid("Full name is too long")
	}
	if len(in.Password) < minPasswordLength {
		return nil, "", invalid("Password must be at least 6 characters")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, "", invalid("Invalid email format")
	}

	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return nil, "", newError(KindConflict, "Email already exists")
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, "", upstream("failed to look up user", err)
	}

	// 密码哈希
	hash, err := password.Hash(in.Password)
	if err != nil {
		return nil, "", upstream("failed to hash password", err)
	}
	user := &model.User{
		FullName:     fullName,
		Email:        email,
		PasswordHash: hash,
		LastSeen:     s.now(),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, "", newError(KindConflict, "Email already exists")
		}
		return nil, "", upstream("failed to create user", err)
	}

	token, err := s.issueToken(user)
	if err != nil {
		return nil, "", err
	}

	if err := s.publisher.Publish(ctx, mq.RoutingUserRegistered, UserRegistered{
		UserID:   user.ID,
		Email:    user.Email,
		FullName: user.FullName,
	}); err != nil {
		s.log.Warn("发布注册事件失败", zap.Uint("user_id", user.ID), zap.Error(err))
	}

	return user, token, nil
}

// Login 登录
func (s *UserService) Login(ctx context.Context, email, plainPassword string) (*model.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || plainPassword == "" {
		return nil, "", invalid("Email and password are required")
	}
	u, err := s.repo.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, "", newError(KindUnauthorized, "Invalid credentials")
	}
	if err != nil {
		return nil, "", upstream("failed to look up user", err)
	}
	if !password.Verify(plainPassword, u.PasswordHash) {
		return nil, "", newError(KindUnauthorized, "Invalid credentials")
	}
	token, err := s.issueToken(u)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

// Logout 断开实时会话，离线状态由在线注册表写入
func (s *UserService) Logout(ctx context.Context, userID uint) {
	if s.sessions != nil && s.sessions.Disconnect(userID) {
		s.log.Info("用户登出，已断开实时会话", zap.Uint("user_id", userID))
	}
}

// Check 返回当前登录用户
func (s *UserService) Check(ctx context.Context, userID uint) (*model.User, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, newError(KindUnauthorized, "User not found")
	}
	if err != nil {
		return nil, upstream("failed to load user", err)
	}
	return u, nil
}

// UpdateProfile 更新显示名称和/或头像
func (s *UserService) UpdateProfile(ctx context.Context, userID uint, in ProfileInput) (*model.User, error) {
	fields := make(map[string]interface{})

	if in.FullName != nil {
		name := strings.TrimSpace(*in.FullName)
		if name == "" {
			return nil, invalid("Full name cannot be empty")
		}
		if utf8.RuneCountInString(name) > maxNameLength {
			return nil, invalid("Full name is too long")
		}
		fields["full_name"] = name
	}

	if in.ProfilePic != "" {
		if s.uploader == nil {
			return nil, upstream("media upload is not configured", nil)
		}
		picURL, err := s.uploader.Upload(ctx, in.ProfilePic, upload.KindImage)
		switch {
		case errors.Is(err, upload.ErrInvalidData), errors.Is(err, upload.ErrTooLarge):
			return nil, &Error{Kind: KindInvalidRequest, Message: "Invalid profile picture", Err: err}
		case err != nil:
			return nil, upstream("failed to upload profile picture", err)
		}
		fields["profile_pic"] = picURL
	}

	if len(fields) == 0 {
		return nil, invalid("Profile pic is required")
	}

	if err := s.repo.UpdateProfile(ctx, userID, fields); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFound("User not found")
		}
		return nil, upstream("failed to update profile", err)
	}
	return s.Check(ctx, userID)
}

// SaveSubscription 保存浏览器推送订阅
func (s *UserService) SaveSubscription(ctx context.Context, userID uint, in SubscriptionInput) error {
	endpoint := strings.TrimSpace(in.Endpoint)
	if endpoint == "" || in.Keys.P256dh == "" || in.Keys.Auth == "" {
		return invalid("Invalid subscription")
	}
	if u, err := url.Parse(endpoint); err != nil || u.Scheme != "https" || u.Host == "" {
		return invalid("Subscription endpoint must be an https URL")
	}

	if err := s.subs.Upsert(ctx, &model.PushSubscription{
		UserID:   userID,
		Endpoint: endpoint,
		P256dh:   in.Keys.P256dh,
		Auth:     in.Keys.Auth,
	}); err != nil {
		return upstream("failed to save subscription", err)
	}
	return nil
}

// TouchLastSeen 刷新最近在线时间，失败只记录日志
func (s *UserService) TouchLastSeen(ctx context.Context, userID uint) {
	if err := s.repo.TouchLastSeen(ctx, userID, s.now()); err != nil {
		s.log.Debug("更新最近在线时间失败", zap.Uint("user_id", userID), zap.Error(err))
	}
}
