package relay

import (
	"context"
	"errors"
	"strings"

	"freemail/backend/internal/domain"
)

var (
	// ErrNoRecipients 邮件没有任何收件人
	ErrNoRecipients = errors.New("relay: message has no recipients")
	// ErrNoSender 缺少发件地址
	ErrNoSender = errors.New("relay: message has no sender")
)

// Attachment 外发邮件附件（内容已取回）
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Message 交给中继发送的邮件
type Message struct {
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment
}

// Envelope 返回 SMTP 信封收件人：to、cc、bcc 合并去重，保持原有顺序。
func (m *Message) Envelope() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range [][]string{m.To, m.Cc, m.Bcc} {
		for _, raw := range list {
			addr := domain.NormalizeAddress(raw)
			if addr == "" {
				continue
			}
			if _, ok := seen[addr]; ok {
				continue
			}
			seen[addr] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}

// Validate 检查发件地址与收件人
func (m *Message) Validate() error {
	if strings.TrimSpace(m.From) == "" {
		return ErrNoSender
	}
	if len(m.Envelope()) == 0 {
		return ErrNoRecipients
	}
	return nil
}

// Relay 外发邮件中继。
type Relay interface {
	Send(ctx context.Context, msg *Message) error
	Name() string
}
