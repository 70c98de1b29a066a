package httptransport

import (
	"errors"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"freemail/backend/internal/domain"
	"freemail/backend/internal/middleware"
	"freemail/backend/internal/service"
)

// MessageHandler 邮件读取、修改与外发
type MessageHandler struct {
	messages *service.MessageService
	outbound *service.OutboundService
	log      *zap.Logger
}

// NewMessageHandler 创建邮件处理器
func NewMessageHandler(messages *service.MessageService, outbound *service.OutboundService, log *zap.Logger) *MessageHandler {
	return &MessageHandler{messages: messages, outbound: outbound, log: log}
}

// SendMessageRequest 外发邮件请求
type SendMessageRequest struct {
	From        string                  `json:"from"`
	To          []string                `json:"to"`
	Cc          []string                `json:"cc"`
	Bcc         []string                `json:"bcc"`
	Subject     string                  `json:"subject"`
	HTML        string                  `json:"html"`
	Text        string                  `json:"text"`
	ThreadID    string                  `json:"threadId"`
	Attachments []service.AttachmentRef `json:"attachments"`
}

// messageView 附件始终输出为数组
type messageView struct {
	*domain.Message
	Attachments []*domain.Attachment `json:"attachments"`
}

func viewOf(m *domain.Message) messageView {
	atts := m.Attachments
	if atts == nil {
		atts = []*domain.Attachment{}
	}
	return messageView{Message: m, Attachments: atts}
}

// List godoc
// @Summary 获取邮件列表
// @Description 按创建时间倒序。inboxId 为 unassigned 时只返回未关联收件箱的邮件
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Param inboxId query string false "收件箱ID"
// @Param folder query string false "文件夹"
// @Param isStarred query bool false "是否星标"
// @Param limit query int false "数量上限"
// @Success 200 {array} domain.Message
// @Failure 400 {object} Response
// @Router /v1/messages [get]
func (h *MessageHandler) List(c *gin.Context) {
	var inboxID *string
	if v, ok := c.GetQuery("inboxId"); ok && v != "" {
		inboxID = &v
	}
	h.list(c, inboxID)
}

// ListByInbox godoc
// @Summary 获取收件箱中的邮件
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Param inboxId path string true "收件箱ID"
// @Success 200 {array} domain.Message
// @Router /v1/messages/inbox/{inboxId} [get]
func (h *MessageHandler) ListByInbox(c *gin.Context) {
	inboxID := c.Param("inboxId")
	h.list(c, &inboxID)
}

func (h *MessageHandler) list(c *gin.Context, inboxID *string) {
	userID, _ := middleware.UserID(c)

	in := service.ListMessagesInput{InboxID: inboxID}
	if v, ok := c.GetQuery("folder"); ok && v != "" {
		in.Folder = &v
	}
	if v, ok := c.GetQuery("isStarred"); ok && v != "" {
		starred, err := strconv.ParseBool(v)
		if err != nil {
			BadRequest(c, MsgInvalidRequest)
			return
		}
		in.Starred = &starred
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			BadRequest(c, MsgInvalidRequest)
			return
		}
		in.Limit = limit
	}

	list, err := h.messages.List(c.Request.Context(), userID, in)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if list == nil {
		list = []*domain.Message{}
	}
	Success(c, list)
}

// Get godoc
// @Summary 获取邮件详情
// @Description 附件内联返回
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Param id path string true "邮件ID"
// @Success 200 {object} domain.Message
// @Failure 404 {object} Response
// @Router /v1/messages/{id} [get]
func (h *MessageHandler) Get(c *gin.Context) {
	userID, _ := middleware.UserID(c)

	msg, err := h.messages.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, viewOf(msg))
}

// Thread godoc
// @Summary 获取会话
// @Description 按时间正序返回同一线程的邮件，附件内联
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Param threadId path string true "线程ID"
// @Success 200 {array} domain.Message
// @Router /v1/messages/thread/{threadId} [get]
func (h *MessageHandler) Thread(c *gin.Context) {
	userID, _ := middleware.UserID(c)

	list, err := h.messages.Thread(c.Request.Context(), userID, c.Param("threadId"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	views := make([]messageView, 0, len(list))
	for _, m := range list {
		views = append(views, viewOf(m))
	}
	Success(c, views)
}

// Update godoc
// @Summary 修改邮件状态
// @Description 只接受 is_read、folder、is_starred，其余字段忽略
// @Tags Messages
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "邮件ID"
// @Param request body domain.MessagePatch true "修改内容"
// @Success 200 {object} domain.Message
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Router /v1/messages/{id} [patch]
func (h *MessageHandler) Update(c *gin.Context) {
	userID, _ := middleware.UserID(c)

	var patch domain.MessagePatch
	if err := c.ShouldBindJSON(&patch); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	msg, err := h.messages.Update(c.Request.Context(), userID, c.Param("id"), patch)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, msg)
}

// Send godoc
// @Summary 发送邮件
// @Description 经外发中继投递成功后保存已发送副本
// @Tags Messages
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body SendMessageRequest true "邮件内容"
// @Success 202 {object} domain.Message
// @Failure 400 {object} Response
// @Failure 500 {object} Response
// @Router /v1/messages [post]
func (h *MessageHandler) Send(c *gin.Context) {
	userID, _ := middleware.UserID(c)

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	msg, err := h.outbound.Send(c.Request.Context(), service.SendInput{
		TenantID:    userID,
		From:        req.From,
		To:          req.To,
		Cc:          req.Cc,
		Bcc:         req.Bcc,
		Subject:     req.Subject,
		HTML:        req.HTML,
		Text:        req.Text,
		ThreadID:    req.ThreadID,
		Attachments: req.Attachments,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Accepted(c, viewOf(msg))
}
