package httptransport

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"freemail/backend/internal/domain"
	"freemail/backend/internal/middleware"
	"freemail/backend/internal/service"
)

// DomainHandler 租户域名处理器
type DomainHandler struct {
	service *service.DomainService
	log     *zap.Logger
}

// NewDomainHandler 创建域名处理器
func NewDomainHandler(service *service.DomainService, log *zap.Logger) *DomainHandler {
	return &DomainHandler{service: service, log: log}
}

// ClaimDomainRequest 认领域名请求
type ClaimDomainRequest struct {
	Domain string `json:"domain" binding:"required"`
}

// Claim godoc
// @Summary 认领域名
// @Description 域名全局唯一，统一保存为小写
// @Tags Domains
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body ClaimDomainRequest true "域名"
// @Success 201 {object} domain.MailDomain
// @Failure 400 {object} Response
// @Failure 409 {object} Response
// @Router /v1/domains [post]
func (h *DomainHandler) Claim(c *gin.Context) {
	userID, _ := middleware.UserID(c)

	var req ClaimDomainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	d, err := h.service.Claim(c.Request.Context(), userID, req.Domain)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Created(c, d)
}

// List godoc
// @Summary 获取域名列表
// @Tags Domains
// @Produce json
// @Security BearerAuth
// @Success 200 {array} domain.MailDomain
// @Router /v1/domains [get]
func (h *DomainHandler) List(c *gin.Context) {
	userID, _ := middleware.UserID(c)

	domains, err := h.service.List(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	// 没有域名时返回空数组而不是 null
	if domains == nil {
		domains = []*domain.MailDomain{}
	}
	Success(c, domains)
}

// Get godoc
// @Summary 获取域名详情
// @Tags Domains
// @Produce json
// @Security BearerAuth
// @Param id path string true "域名ID"
// @Success 200 {object} domain.MailDomain
// @Failure 404 {object} Response
// @Router /v1/domains/{id} [get]
func (h *DomainHandler) Get(c *gin.Context) {
	userID, _ := middleware.UserID(c)

	d, err := h.service.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, d)
}

// Delete godoc
// @Summary 删除域名
// @Description 域名下仍有邮箱地址时拒绝删除
// @Tags Domains
// @Security BearerAuth
// @Param id path string true "域名ID"
// @Success 204
// @Failure 404 {object} Response
// @Failure 409 {object} Response
// @Router /v1/domains/{id} [delete]
func (h *DomainHandler) Delete(c *gin.Context) {
	userID, _ := middleware.UserID(c)

	if err := h.service.Delete(c.Request.Context(), userID, c.Param("id")); err != nil {
		respondError(c, h.log, err)
		return
	}
	NoContent(c)
}
