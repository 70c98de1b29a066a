package smtp

import (
	"context"
	"errors"
	"io"
	"strings"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"freemail/backend/internal/apperr"
	"freemail/backend/internal/domain"
	"freemail/backend/internal/logger"
	"freemail/backend/internal/service"
)

// Inbound 入站管道
type Inbound interface {
	Accepts(ctx context.Context, address string) (bool, error)
	DeliverEnvelope(ctx context.Context, raw []byte, envelope []string) (*service.Delivery, error)
}

var (
	errInvalidRecipient = &gosmtp.SMTPError{
		Code:         501,
		EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
		Message:      "invalid recipient address",
	}
	errUnknownRecipient = &gosmtp.SMTPError{
		Code:         550,
		EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
		Message:      "recipient mailbox not found",
	}
	errNoRecipients = &gosmtp.SMTPError{
		Code:         554,
		EnhancedCode: gosmtp.EnhancedCode{5, 5, 1},
		Message:      "no valid recipients",
	}
	errUnparsable = &gosmtp.SMTPError{
		Code:         554,
		EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
		Message:      "message could not be parsed",
	}
	errTemporary = &gosmtp.SMTPError{
		Code:         451,
		EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
		Message:      "temporary failure, try again later",
	}
	errTooManyConnections = &gosmtp.SMTPError{
		Code:         421,
		EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
		Message:      "too many connections, try again later",
	}
)

// Backend 实现 go-smtp 的 Backend 接口。
//
// 只接收发往本系统已开通地址的邮件，不提供中继：
// RCPT 阶段通过地址目录校验收件人，无法解析的地址一律 550 拒绝。
type Backend struct {
	inbound Inbound
	limiter *ConnectionLimiter
	log     *zap.Logger
}

// NewBackend 创建 SMTP Backend，limiter 可为 nil
func NewBackend(inbound Inbound, limiter *ConnectionLimiter, log *zap.Logger) *Backend {
	return &Backend{
		inbound: inbound,
		limiter: limiter,
		log:     logger.OrNop(log),
	}
}

// NewSession 创建新的 SMTP 会话。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	if b.limiter != nil && !b.limiter.Acquire() {
		b.log.Warn("smtp connection rejected by limiter", zap.String("remote_addr", remoteAddr(c)))
		return nil, errTooManyConnections
	}
	return &session{backend: b, remote: remoteAddr(c)}, nil
}

type session struct {
	backend    *Backend
	remote     string
	from       string
	recipients []string
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	s.from = from
	return nil
}

// Rcpt 处理 RCPT 命令。只接受地址目录能解析的收件人。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := domain.NormalizeAddress(strings.Trim(strings.TrimSpace(to), "<>"))
	if err := domain.ValidateAddress(addr); err != nil {
		return errInvalidRecipient
	}

	ok, err := s.backend.inbound.Accepts(context.Background(), addr)
	if err != nil {
		s.backend.log.Error("smtp recipient lookup failed", zap.String("rcpt", addr), zap.Error(err))
		return errTemporary
	}
	if !ok {
		s.backend.log.Info("smtp recipient rejected", zap.String("rcpt", addr), zap.String("remote_addr", s.remote))
		return errUnknownRecipient
	}

	s.recipients = append(s.recipients, addr)
	return nil
}

// Data 处理邮件内容，交给入站管道。
func (s *session) Data(r io.Reader) error {
	if len(s.recipients) == 0 {
		return errNoRecipients
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	delivery, err := s.backend.inbound.DeliverEnvelope(context.Background(), raw, s.recipients)
	switch {
	case apperr.Is(err, apperr.KindValidation):
		return errUnparsable
	case err != nil && delivery != nil && delivery.Message != nil:
		// 邮件已落库，仅附件上传失败；不要求对端重投
		s.backend.log.Warn("smtp message stored with attachment errors",
			zap.String("message_id", delivery.Message.ID),
			zap.Error(err),
		)
		return nil
	case err != nil:
		return errTemporary
	}

	if delivery.Discarded {
		s.backend.log.Warn("smtp message discarded after RCPT accepted", zap.Strings("recipients", s.recipients))
		return nil
	}
	s.backend.log.Debug("smtp message accepted",
		zap.String("from", s.from),
		zap.String("message_id", delivery.Message.ID),
		zap.String("remote_addr", s.remote),
	)
	return nil
}

// Reset 重置状态。
func (s *session) Reset() {
	s.from = ""
	s.recipients = nil
}

// Logout 会话结束，释放连接许可。
func (s *session) Logout() error {
	if s.backend.limiter != nil {
		s.backend.limiter.Release()
	}
	return nil
}

func remoteAddr(c *gosmtp.Conn) string {
	if c == nil || c.Conn() == nil {
		return ""
	}
	return c.Conn().RemoteAddr().String()
}

// isClosed 服务器正常关闭
func isClosed(err error) bool {
	return errors.Is(err, gosmtp.ErrServerClosed)
}
