package relay

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"freemail/backend/internal/config"
	"freemail/backend/internal/logger"
)

// TLS 模式
const (
	TLSModeStartTLS = "starttls"
	TLSModeImplicit = "tls"
	TLSModeNone     = "none"
)

// SMTPRelay 通过认证的 SMTP 中继（默认 Brevo 587 + STARTTLS）发送邮件。
type SMTPRelay struct {
	addr      string
	host      string
	username  string
	password  string
	tlsMode   string
	timeout   time.Duration
	tlsConfig *tls.Config
	hostname  string
	now       func() time.Time
	log       *zap.Logger
}

// NewSMTPRelay 创建 SMTP 中继
func NewSMTPRelay(cfg config.RelaySMTPConfig, log *zap.Logger) *SMTPRelay {
	mode := cfg.TLSMode
	if mode == "" {
		mode = TLSModeStartTLS
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SMTPRelay{
		addr:      net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		host:      cfg.Host,
		username:  cfg.Username,
		password:  cfg.Password,
		tlsMode:   mode,
		timeout:   timeout,
		tlsConfig: &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12},
		now:       time.Now,
		log:       logger.OrNop(log),
	}
}

// Name 实现 Relay
func (r *SMTPRelay) Name() string {
	return "smtp"
}

// Send 实现 Relay
func (r *SMTPRelay) Send(ctx context.Context, msg *Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	raw, err := Compose(msg, r.hostname, r.now())
	if err != nil {
		return fmt.Errorf("compose message: %w", err)
	}

	c, err := r.dial(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	c.CommandTimeout = r.timeout
	c.SubmissionTimeout = r.timeout

	if r.username != "" {
		if err := c.Auth(sasl.NewPlainClient("", r.username, r.password)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	rcpts := msg.Envelope()
	from := msg.From
	if addr, err := addressList([]string{msg.From}); err == nil && len(addr) == 1 {
		from = addr[0].Address
	}
	if err := c.SendMail(from, rcpts, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	if err := c.Quit(); err != nil {
		r.log.Debug("smtp quit failed", zap.Error(err))
	}

	r.log.Info("message relayed",
		zap.String("relay", r.Name()),
		zap.String("from", from),
		zap.Int("recipients", len(rcpts)),
		zap.Int("bytes", len(raw)),
	)
	return nil
}

func (r *SMTPRelay) dial(ctx context.Context) (*gosmtp.Client, error) {
	dialer := &net.Dialer{Timeout: r.timeout}

	switch r.tlsMode {
	case TLSModeImplicit:
		conn, err := (&tls.Dialer{NetDialer: dialer, Config: r.tlsConfig}).DialContext(ctx, "tcp", r.addr)
		if err != nil {
			return nil, fmt.Errorf("dial relay %s: %w", r.addr, err)
		}
		return gosmtp.NewClient(conn), nil
	case TLSModeNone:
		conn, err := dialer.DialContext(ctx, "tcp", r.addr)
		if err != nil {
			return nil, fmt.Errorf("dial relay %s: %w", r.addr, err)
		}
		return gosmtp.NewClient(conn), nil
	default:
		conn, err := dialer.DialContext(ctx, "tcp", r.addr)
		if err != nil {
			return nil, fmt.Errorf("dial relay %s: %w", r.addr, err)
		}
		c, err := gosmtp.NewClientStartTLS(conn, r.tlsConfig)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("starttls with %s: %w", r.host, err)
		}
		return c, nil
	}
}
