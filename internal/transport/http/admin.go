package httptransport

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"freemail/backend/internal/auth"
	"freemail/backend/internal/domain"
)

// AdminHandler 管理员处理器
type AdminHandler struct {
	authService *auth.Service
	log         *zap.Logger
}

// NewAdminHandler 创建管理员处理器
func NewAdminHandler(authService *auth.Service, log *zap.Logger) *AdminHandler {
	return &AdminHandler{authService: authService, log: log}
}

// InviteUserRequest 创建邀请制租户请求
type InviteUserRequest struct {
	Email           string `json:"email" binding:"required"`
	Role            string `json:"role"`
	DisplayName     string `json:"display_name"`
	RecoveryEmail   string `json:"recovery_email"`
	PermanentDomain string `json:"permanent_domain"`
}

// ListUsers godoc
// @Summary 获取租户列表
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {array} domain.User
// @Failure 403 {object} Response
// @Router /v1/admin/users [get]
func (h *AdminHandler) ListUsers(c *gin.Context) {
	users, err := h.authService.ListUsers(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if users == nil {
		users = []*domain.User{}
	}
	Success(c, users)
}

// InviteUser godoc
// @Summary 创建邀请制租户
// @Description 创建尚未设置密码的租户，返回一次性邀请令牌
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body InviteUserRequest true "租户信息"
// @Success 201 {object} auth.Invitation
// @Failure 400 {object} Response
// @Failure 409 {object} Response
// @Router /v1/admin/users [post]
func (h *AdminHandler) InviteUser(c *gin.Context) {
	var req InviteUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	invitation, err := h.authService.Invite(c.Request.Context(), auth.InviteInput{
		Email:           req.Email,
		Role:            domain.UserRole(req.Role),
		DisplayName:     req.DisplayName,
		RecoveryEmail:   req.RecoveryEmail,
		PermanentDomain: req.PermanentDomain,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Created(c, invitation)
}
