package smtp

import (
	"context"
	"net"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"freemail/backend/internal/config"
	"freemail/backend/internal/logger"
)

const (
	defaultMaxMessageBytes = 25 << 20
	maxRecipients          = 50
	ioTimeout              = 30 * time.Second
)

// Server 只接收邮件的 SMTP 服务器
type Server struct {
	srv *gosmtp.Server
	log *zap.Logger
}

// NewServer 按配置创建 SMTP 服务器
func NewServer(cfg config.SMTPConfig, backend *Backend, log *zap.Logger) *Server {
	srv := gosmtp.NewServer(backend)
	srv.Addr = cfg.BindAddr
	srv.Domain = cfg.Domain
	srv.ReadTimeout = ioTimeout
	srv.WriteTimeout = ioTimeout
	srv.MaxRecipients = maxRecipients
	srv.MaxMessageBytes = cfg.MaxMessageBytes
	if srv.MaxMessageBytes <= 0 {
		srv.MaxMessageBytes = defaultMaxMessageBytes
	}
	return &Server{srv: srv, log: logger.OrNop(log)}
}

// Serve 在指定监听器上提供服务
func (s *Server) Serve(l net.Listener) error {
	if err := s.srv.Serve(l); err != nil && !isClosed(err) {
		return err
	}
	return nil
}

// Run 监听配置的地址直到 ctx 结束
func (s *Server) Run(ctx context.Context) error {
	l, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.log.Info("starting SMTP server",
		zap.String("address", l.Addr().String()),
		zap.String("domain", s.srv.Domain),
	)

	go func() {
		<-ctx.Done()
		if err := s.srv.Close(); err != nil && !isClosed(err) {
			s.log.Warn("SMTP server close warning", zap.Error(err))
		}
	}()
	return s.Serve(l)
}

// Close 关闭服务器与所有连接
func (s *Server) Close() error {
	if err := s.srv.Close(); err != nil && !isClosed(err) {
		return err
	}
	return nil
}
