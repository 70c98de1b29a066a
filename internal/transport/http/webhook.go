package httptransport

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"freemail/backend/internal/service"
)

// WebhookSecretHeader 上游中继携带的共享密钥头
const WebhookSecretHeader = "x-webhook-secret"

// WebhookHandler 入站邮件 webhook
type WebhookHandler struct {
	inbound *service.InboundService
	secret  string
	log     *zap.Logger
}

// NewWebhookHandler 创建 webhook 处理器，secret 为空时不校验
func NewWebhookHandler(inbound *service.InboundService, secret string, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{inbound: inbound, secret: secret, log: log}
}

// Inbound godoc
// @Summary 接收入站邮件
// @Description 请求体为 {"rawEmail": base64}、{"email": 原文} 或原始 RFC 5322 字节。无法路由的邮件静默丢弃并返回 204
// @Tags Webhook
// @Accept json
// @Param x-webhook-secret header string false "共享密钥"
// @Success 204
// @Failure 400 {object} Response
// @Failure 403 {object} Response
// @Failure 413 {object} Response
// @Failure 500 {object} Response
// @Router /v1/webhook/inbound [post]
func (h *WebhookHandler) Inbound(c *gin.Context) {
	if h.secret != "" {
		got := c.GetHeader(WebhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			h.log.Warn("webhook secret mismatch", zap.String("remote_addr", c.ClientIP()))
			Forbidden(c, MsgWebhookForbidden)
			return
		}
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			TooLarge(c, MsgFileTooLarge)
			return
		}
		BadRequest(c, MsgInvalidRequest)
		return
	}

	raw, err := service.DecodePayload(c.ContentType(), body)
	if err != nil {
		h.log.Warn("inbound payload rejected", zap.Error(err))
		respondError(c, h.log, err)
		return
	}

	// 无法路由的邮件同样返回 204
	if _, err := h.inbound.Deliver(c.Request.Context(), raw); err != nil {
		respondError(c, h.log, err)
		return
	}
	NoContent(c)
}
