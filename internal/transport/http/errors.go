package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"freemail/backend/internal/apperr"
	"freemail/backend/internal/auth"
	"freemail/backend/internal/blob"
	"freemail/backend/internal/service"
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = map[error]string{
	// 认证错误
	auth.ErrInvalidCredentials: MsgInvalidCredentials,
	auth.ErrInvalidToken:       MsgTokenInvalid,
	auth.ErrEmailExists:        "该邮箱已被注册",
	auth.ErrUserNotFound:       "用户不存在",
	auth.ErrInviteInvalid:      "邀请链接无效或已过期",

	// 域名错误
	service.ErrDomainNotFound: "域名不存在",
	service.ErrDomainExists:   "域名已被占用",
	service.ErrDomainNotOwned: "域名不存在或无权使用",
	service.ErrDomainInUse:    "域名下仍有邮箱地址，无法删除",
	service.ErrDomainUnknown:  "域名不存在",
	service.ErrDomainMismatch: "邮箱地址与所选域名不一致",

	// 地址与收件箱错误
	service.ErrUserNotFound:    "用户不存在",
	service.ErrAddressExists:   "邮箱地址已存在",
	service.ErrAddressNotFound: "邮箱地址不存在",
	service.ErrInboxNotFound:   "收件箱不存在",
	service.ErrInboxName:       "收件箱名称不能为空",

	// 邮件错误
	service.ErrMessageNotFound: MsgMessageNotFound,
	service.ErrInvalidFolder:   "文件夹名称无效",
	service.ErrMissingSender:   "发件地址不能为空",
	service.ErrNoRecipients:    "至少需要一个收件人",
	service.ErrAttachmentURL:   "附件缺少 URL",
	blob.ErrForeignURL:         "附件地址不是本站上传的文件",
	service.ErrEmptyPayload:    "邮件内容不能为空",
	service.ErrInvalidPayload:  "邮件内容无法解码",
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	if msg, ok := errorMessages[err]; ok {
		return msg
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		if msg, ok := errorMessages[error(appErr)]; ok {
			return msg
		}
		return appErr.Msg
	}
	return err.Error()
}

// 通用错误消息
const (
	// 请求相关
	MsgInvalidRequest = "请求参数格式错误"
	MsgInternal       = "服务器内部错误，请稍后重试"
	MsgFileRequired   = "请上传文件"
	MsgFileTooLarge   = "文件超过大小限制"

	// 认证相关
	MsgAuthRequired       = "需要登录认证"
	MsgInvalidCredentials = "用户名或密码错误"
	MsgTokenInvalid       = "无效的访问令牌"
	MsgWebhookForbidden   = "webhook 密钥无效"

	// 邮件相关
	MsgMessageNotFound = "邮件不存在"
)

// respondError 按错误类别写出响应。下游错误只向客户端返回通用消息，详情写入日志。
func respondError(c *gin.Context, log *zap.Logger, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		BadRequest(c, GetErrorMessage(err))
	case apperr.KindAuth:
		Unauthorized(c, GetErrorMessage(err))
	case apperr.KindForbidden:
		Forbidden(c, GetErrorMessage(err))
	case apperr.KindNotFound:
		NotFound(c, GetErrorMessage(err))
	case apperr.KindConflict:
		Conflict(c, GetErrorMessage(err))
	case apperr.KindTooLarge:
		TooLarge(c, GetErrorMessage(err))
	default:
		_ = c.Error(err)
		log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		InternalError(c, MsgInternal)
	}
}
