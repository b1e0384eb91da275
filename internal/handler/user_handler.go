package handler

import (
	"net/http"

	"chatify/internal/service"
	"chatify/pkg/jwt"
	"chatify/pkg/response"

	"github.com/gin-gonic/gin"
)

type UserHandler struct {
	service        *service.UserService
	jwt            *jwt.JWTService
	secureCookie   bool
	vapidPublicKey string
}

func NewUserHandler(s *service.UserService, jwtService *jwt.JWTService, secureCookie bool, vapidPublicKey string) *UserHandler {
	return &UserHandler{
		service:        s,
		jwt:            jwtService,
		secureCookie:   secureCookie,
		vapidPublicKey: vapidPublicKey,
	}
}

// Register 挂载 /api/auth 下的路由，auth 为认证中间件
func (h *UserHandler) Register(rg *gin.RouterGroup, auth ...gin.HandlerFunc) {
	rg.POST("/signup", h.Signup)
	rg.POST("/login", h.Login)
	rg.GET("/vapid-public-key", h.VapidPublicKey)

	protected := rg.Group("", auth...)
	protected.POST("/logout", h.Logout)
	protected.GET("/check", h.Check)
	protected.PUT("/update-profile", h.UpdateProfile)
	protected.POST("/save-subscription", h.SaveSubscription)
}

func (h *UserHandler) setTokenCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(jwt.CookieName, token, int(h.jwt.ExpireAfter().Seconds()), "/", "", h.secureCookie, true)
}

// Signup 用户注册
func (h *UserHandler) Signup(c *gin.Context) {
	var in service.SignupInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	user, token, err := h.service.Signup(c.Request.Context(), in)
	if err != nil {
		fail(c, err)
		return
	}

	h.setTokenCookie(c, token)
	response.Created(c, user)
}

// Login 用户登录
func (h *UserHandler) Login(c *gin.Context) {
	type req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	user, token, err := h.service.Login(c.Request.Context(), r.Email, r.Password)
	if err != nil {
		fail(c, err)
		return
	}

	h.setTokenCookie(c, token)
	response.Success(c, user)
}

// Logout 清除cookie并断开实时会话
func (h *UserHandler) Logout(c *gin.Context) {
	h.service.Logout(c.Request.Context(), jwt.GetUserID(c))
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(jwt.CookieName, "", -1, "/", "", h.secureCookie, true)
	response.SuccessWithMessage(c, "Logged out successfully", nil)
}

// Check 当前登录用户
func (h *UserHandler) Check(c *gin.Context) {
	user, err := h.service.Check(c.Request.Context(), jwt.GetUserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, user)
}

// UpdateProfile 更新显示名称/头像
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	var in service.ProfileInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	user, err := h.service.UpdateProfile(c.Request.Context(), jwt.GetUserID(c), in)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, user)
}

// SaveSubscription 保存浏览器推送订阅
func (h *UserHandler) SaveSubscription(c *gin.Context) {
	var in service.SubscriptionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	if err := h.service.SaveSubscription(c.Request.Context(), jwt.GetUserID(c), in); err != nil {
		fail(c, err)
		return
	}
	response.Created(c, nil)
}

// VapidPublicKey 推送公钥（未配置时返回404）
func (h *UserHandler) VapidPublicKey(c *gin.Context) {
	if h.vapidPublicKey == "" {
		response.NotFound(c, "Push notifications are not configured")
		return
	}
	response.Success(c, gin.H{"publicKey": h.vapidPublicKey})
}
