package smtp

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freemail/backend/internal/apperr"
	"freemail/backend/internal/config"
	"freemail/backend/internal/domain"
	"freemail/backend/internal/service"
)

// fakeInbound 已知地址集合 + 记录投递
type fakeInbound struct {
	mu         sync.Mutex
	known      map[string]bool
	lookupErr  error
	deliverErr error
	delivered  [][]string
	raw        [][]byte
}

func (f *fakeInbound) Accepts(_ context.Context, address string) (bool, error) {
	if f.lookupErr != nil {
		return false, f.lookupErr
	}
	return f.known[address], nil
}

func (f *fakeInbound) DeliverEnvelope(_ context.Context, raw []byte, envelope []string) (*service.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deliverErr != nil {
		return nil, f.deliverErr
	}
	f.delivered = append(f.delivered, envelope)
	f.raw = append(f.raw, raw)
	return &service.Delivery{Message: &domain.Message{ID: "m1"}, Recipient: envelope[0]}, nil
}

func (f *fakeInbound) deliveries() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.delivered...)
}

func startSMTP(t *testing.T, inbound Inbound, limiter *ConnectionLimiter) string {
	t.Helper()
	srv := NewServer(config.SMTPConfig{Domain: "mx.freemail.test", MaxMessageBytes: 1 << 20}, NewBackend(inbound, limiter, nil), nil)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { _ = srv.Close() })
	return l.Addr().String()
}

func smtpCode(err error) int {
	var smtpErr *gosmtp.SMTPError
	if errors.As(err, &smtpErr) {
		return smtpErr.Code
	}
	return 0
}

const rawEmail = "From: bob@remote.example\r\nTo: alice@tenant1.example\r\nSubject: Hello\r\n\r\nhi there\r\n"

func TestBackend(t *testing.T) {
	t.Run("只接受已开通的收件人", func(t *testing.T) {
		inbound := &fakeInbound{known: map[string]bool{"alice@tenant1.example": true}}
		addr := startSMTP(t, inbound, nil)

		c, err := gosmtp.Dial(addr)
		require.NoError(t, err)
		defer c.Close()

		require.NoError(t, c.Hello("client.example"))
		require.NoError(t, c.Mail("bob@remote.example", nil))
		assert.Equal(t, 550, smtpCode(c.Rcpt("nobody@tenant1.example", nil)))
		assert.Equal(t, 501, smtpCode(c.Rcpt("not-an-address", nil)))
		require.NoError(t, c.Rcpt("Alice@Tenant1.example", nil))

		w, err := c.Data()
		require.NoError(t, err)
		_, err = w.Write([]byte(rawEmail))
		require.NoError(t, err)
		require.NoError(t, w.Close())
		require.NoError(t, c.Quit())

		got := inbound.deliveries()
		require.Len(t, got, 1)
		assert.Equal(t, []string{"alice@tenant1.example"}, got[0])
		assert.True(t, strings.Contains(string(inbound.raw[0]), "Subject: Hello"))
	})

	t.Run("目录故障返回临时错误", func(t *testing.T) {
		inbound := &fakeInbound{lookupErr: errors.New("redis down")}
		addr := startSMTP(t, inbound, nil)

		c, err := gosmtp.Dial(addr)
		require.NoError(t, err)
		defer c.Close()

		require.NoError(t, c.Mail("bob@remote.example", nil))
		assert.Equal(t, 451, smtpCode(c.Rcpt("alice@tenant1.example", nil)))
	})

	t.Run("无法解析的邮件永久拒绝", func(t *testing.T) {
		inbound := &fakeInbound{
			known:      map[string]bool{"alice@tenant1.example": true},
			deliverErr: apperr.Validation("email payload could not be decoded"),
		}
		addr := startSMTP(t, inbound, nil)

		c, err := gosmtp.Dial(addr)
		require.NoError(t, err)
		defer c.Close()

		require.NoError(t, c.Mail("bob@remote.example", nil))
		require.NoError(t, c.Rcpt("alice@tenant1.example", nil))
		w, err := c.Data()
		require.NoError(t, err)
		_, _ = w.Write([]byte(rawEmail))
		assert.Equal(t, 554, smtpCode(w.Close()))
	})

	t.Run("持久化失败返回临时错误", func(t *testing.T) {
		inbound := &fakeInbound{
			known:      map[string]bool{"alice@tenant1.example": true},
			deliverErr: apperr.Downstream("persistence failure", errors.New("db down")),
		}
		addr := startSMTP(t, inbound, nil)

		c, err := gosmtp.Dial(addr)
		require.NoError(t, err)
		defer c.Close()

		require.NoError(t, c.Mail("bob@remote.example", nil))
		require.NoError(t, c.Rcpt("alice@tenant1.example", nil))
		w, err := c.Data()
		require.NoError(t, err)
		_, _ = w.Write([]byte(rawEmail))
		assert.Equal(t, 451, smtpCode(w.Close()))
	})
}

func TestConnectionLimiter(t *testing.T) {
	t.Run("并发连接上限", func(t *testing.T) {
		l := NewConnectionLimiter(2, 0)
		assert.True(t, l.Acquire())
		assert.True(t, l.Acquire())
		assert.False(t, l.Acquire())
		assert.Equal(t, 2, l.Current())

		l.Release()
		assert.True(t, l.Acquire())
	})

	t.Run("新建连接速率", func(t *testing.T) {
		l := NewConnectionLimiter(0, 3)
		for i := 0; i < 3; i++ {
			assert.True(t, l.Acquire())
		}
		assert.False(t, l.Acquire())
	})

	t.Run("释放不会变为负数", func(t *testing.T) {
		l := NewConnectionLimiter(1, 0)
		l.Release()
		assert.Equal(t, 0, l.Current())
	})
}
