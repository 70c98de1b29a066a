package httptransport

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"freemail/backend/internal/domain"
	"freemail/backend/internal/middleware"
	"freemail/backend/internal/service"
)

// EmailHandler 邮箱地址与收件箱处理器
type EmailHandler struct {
	service *service.AddressService
	log     *zap.Logger
}

// NewEmailHandler 创建邮箱地址处理器
func NewEmailHandler(service *service.AddressService, log *zap.Logger) *EmailHandler {
	return &EmailHandler{service: service, log: log}
}

// CreateEmailRequest 开通邮箱地址请求
type CreateEmailRequest struct {
	Email     string `json:"email" binding:"required"`
	Domain    string `json:"domain" binding:"required"`
	InboxName string `json:"inboxName"`
}

// AdminCreateEmailRequest 管理员为任意租户开通地址
type AdminCreateEmailRequest struct {
	UserID string `json:"userId" binding:"required"`
	CreateEmailRequest
}

// RenameInboxRequest 重命名收件箱请求
type RenameInboxRequest struct {
	Name string `json:"name" binding:"required"`
}

type emailWithInbox struct {
	Email *domain.EmailAddress `json:"email"`
	Inbox *domain.Inbox        `json:"inbox"`
}

// Create godoc
// @Summary 开通邮箱地址
// @Description 在当前租户拥有的域名下同时创建地址与收件箱
// @Tags Emails
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateEmailRequest true "地址信息"
// @Success 201 {object} emailWithInbox
// @Failure 400 {object} Response
// @Failure 403 {object} Response
// @Failure 409 {object} Response
// @Router /v1/emails [post]
func (h *EmailHandler) Create(c *gin.Context) {
	userID, _ := middleware.UserID(c)

	var req CreateEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	h.create(c, service.CreateAddressInput{
		TenantID:  userID,
		Email:     req.Email,
		Domain:    req.Domain,
		InboxName: req.InboxName,
	})
}

// CreateForTenant godoc
// @Summary 管理员为租户开通邮箱地址
// @Description 可使用任意已存在的域名
// @Tags Emails
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body AdminCreateEmailRequest true "地址信息"
// @Success 201 {object} emailWithInbox
// @Failure 400 {object} Response
// @Failure 409 {object} Response
// @Router /v1/emails/admin [post]
func (h *EmailHandler) CreateForTenant(c *gin.Context) {
	var req AdminCreateEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	h.create(c, service.CreateAddressInput{
		TenantID:  req.UserID,
		Email:     req.Email,
		Domain:    req.Domain,
		InboxName: req.InboxName,
		AnyDomain: true,
	})
}

func (h *EmailHandler) create(c *gin.Context, in service.CreateAddressInput) {
	addr, inbox, err := h.service.Create(c.Request.Context(), in)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Created(c, emailWithInbox{Email: addr, Inbox: inbox})
}

// List godoc
// @Summary 获取邮箱地址列表
// @Tags Emails
// @Produce json
// @Security BearerAuth
// @Success 200 {array} domain.EmailAddress
// @Router /v1/emails [get]
func (h *EmailHandler) List(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	h.list(c, userID)
}

// ListForTenant godoc
// @Summary 管理员查看租户的邮箱地址
// @Tags Emails
// @Produce json
// @Security BearerAuth
// @Param userId path string true "租户ID"
// @Success 200 {array} domain.EmailAddress
// @Router /v1/emails/admin/{userId} [get]
func (h *EmailHandler) ListForTenant(c *gin.Context) {
	h.list(c, c.Param("userId"))
}

func (h *EmailHandler) list(c *gin.Context, tenantID string) {
	list, err := h.service.List(c.Request.Context(), tenantID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if list == nil {
		list = []*domain.EmailAddress{}
	}
	Success(c, list)
}

// Get godoc
// @Summary 获取邮箱地址详情
// @Tags Emails
// @Produce json
// @Security BearerAuth
// @Param id path string true "地址ID"
// @Success 200 {object} domain.EmailAddress
// @Failure 404 {object} Response
// @Router /v1/emails/{id} [get]
func (h *EmailHandler) Get(c *gin.Context) {
	userID, _ := middleware.UserID(c)

	addr, err := h.service.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, addr)
}

// Delete godoc
// @Summary 删除邮箱地址
// @Description 地址与收件箱一并删除。管理员可通过 userId 指定租户，并通过 cascade=tenant 在租户没有剩余地址时删除租户
// @Tags Emails
// @Produce json
// @Security BearerAuth
// @Param id path string true "地址ID"
// @Param userId query string false "租户ID（管理员）"
// @Param cascade query string false "tenant（管理员）"
// @Success 200 {object} service.DeleteResult
// @Failure 404 {object} Response
// @Router /v1/emails/{id} [delete]
func (h *EmailHandler) Delete(c *gin.Context) {
	tenantID, _ := middleware.UserID(c)
	cascade := false
	if isAdmin(c) {
		if other := c.Query("userId"); other != "" {
			tenantID = other
		}
		cascade = c.Query("cascade") == "tenant"
	}

	result, err := h.service.Delete(c.Request.Context(), tenantID, c.Param("id"), cascade)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, result)
}

// ListInboxes godoc
// @Summary 获取收件箱列表
// @Description 每个收件箱附带其邮箱地址
// @Tags Inboxes
// @Produce json
// @Security BearerAuth
// @Success 200 {array} domain.InboxView
// @Router /v1/inboxes [get]
func (h *EmailHandler) ListInboxes(c *gin.Context) {
	userID, _ := middleware.UserID(c)

	list, err := h.service.ListInboxes(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if list == nil {
		list = []domain.InboxView{}
	}
	Success(c, list)
}

// GetInbox godoc
// @Summary 获取收件箱详情
// @Tags Inboxes
// @Produce json
// @Security BearerAuth
// @Param id path string true "收件箱ID"
// @Success 200 {object} domain.InboxView
// @Failure 404 {object} Response
// @Router /v1/inboxes/{id} [get]
func (h *EmailHandler) GetInbox(c *gin.Context) {
	userID, _ := middleware.UserID(c)

	inbox, err := h.service.GetInbox(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, inbox)
}

// RenameInbox godoc
// @Summary 重命名收件箱
// @Tags Inboxes
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "收件箱ID"
// @Param request body RenameInboxRequest true "新名称"
// @Success 200 {object} domain.InboxView
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Router /v1/inboxes/{id} [patch]
func (h *EmailHandler) RenameInbox(c *gin.Context) {
	userID, _ := middleware.UserID(c)

	var req RenameInboxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	inbox, err := h.service.RenameInbox(c.Request.Context(), userID, c.Param("id"), req.Name)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, inbox)
}

func isAdmin(c *gin.Context) bool {
	return c.GetString(middleware.ContextRole) == string(domain.RoleAdmin)
}
