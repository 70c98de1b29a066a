package httptransport

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"freemail/backend/internal/auth"
	"freemail/backend/internal/config"
	"freemail/backend/internal/middleware"
)

// AuthHandler 处理认证相关的 HTTP 请求
type AuthHandler struct {
	authService *auth.Service
	cookie      string
	log         *zap.Logger
}

// NewAuthHandler 创建新的认证处理器实例
func NewAuthHandler(authService *auth.Service, cfg config.JWTConfig, log *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		cookie:      cfg.CookieName,
		log:         log,
	}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type acceptInviteRequest struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login 处理用户登录请求
// @Summary 用户登录
// @Description 使用邮箱和密码登录，令牌同时写入响应体与 HttpOnly Cookie
// @Tags 认证
// @Accept json
// @Produce json
// @Param request body loginRequest true "登录凭证"
// @Success 200 {object} auth.Session "登录成功"
// @Failure 400 {object} Response "请求参数错误"
// @Failure 401 {object} Response "邮箱或密码错误"
// @Router /v1/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	session, err := h.authService.Login(c.Request.Context(), strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	h.setSessionCookie(c, session)
	Success(c, session)
}

// Logout 清除会话 Cookie
// @Summary 退出登录
// @Tags 认证
// @Success 204 "已退出"
// @Router /v1/auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie, "", -1, "/", "", c.Request.TLS != nil, true)
	NoContent(c)
}

// Refresh 刷新令牌
// @Summary 刷新访问令牌
// @Description 使用刷新令牌换取新的令牌对
// @Tags 认证
// @Accept json
// @Produce json
// @Param request body refreshRequest true "包含刷新令牌的请求"
// @Success 200 {object} auth.Session "新的令牌对"
// @Failure 400 {object} Response "请求参数错误"
// @Failure 401 {object} Response "刷新令牌无效或已过期"
// @Router /v1/auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	session, err := h.authService.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	h.setSessionCookie(c, session)
	Success(c, session)
}

// AcceptInvite 使用邀请令牌设置密码
// @Summary 接受邀请
// @Description 设置初始密码并清除一次性邀请令牌，成功后直接登录
// @Tags 认证
// @Accept json
// @Produce json
// @Param request body acceptInviteRequest true "邀请令牌与新密码"
// @Success 200 {object} auth.Session
// @Failure 400 {object} Response "令牌无效或密码不符合要求"
// @Router /v1/auth/invite/accept [post]
func (h *AuthHandler) AcceptInvite(c *gin.Context) {
	var req acceptInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	session, err := h.authService.AcceptInvite(c.Request.Context(), strings.TrimSpace(req.Token), req.Password)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	h.log.Info("invite accepted", zap.String("user_id", session.User.ID))
	h.setSessionCookie(c, session)
	Success(c, session)
}

// Me 获取当前用户信息
// @Summary 获取当前用户信息
// @Tags 认证
// @Produce json
// @Security BearerAuth
// @Success 200 {object} domain.User "用户信息"
// @Failure 401 {object} Response "未认证或令牌无效"
// @Failure 404 {object} Response "用户不存在"
// @Router /v1/auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	user, err := h.authService.Me(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, user)
}

func (h *AuthHandler) setSessionCookie(c *gin.Context, session *auth.Session) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie, session.Tokens.AccessToken, int(session.Tokens.ExpiresIn), "/", "", c.Request.TLS != nil, true)
}
