package relay

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"

	"freemail/backend/internal/domain"
)

// Compose 将邮件编码为 RFC 5322 字节。Bcc 只进入信封，不写入头部。
func Compose(msg *Message, hostname string, now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetSubject(msg.Subject)

	from, err := addressList([]string{msg.From})
	if err != nil {
		return nil, err
	}
	h.SetAddressList("From", from)
	if len(msg.To) > 0 {
		to, err := addressList(msg.To)
		if err != nil {
			return nil, err
		}
		h.SetAddressList("To", to)
	}
	if len(msg.Cc) > 0 {
		cc, err := addressList(msg.Cc)
		if err != nil {
			return nil, err
		}
		h.SetAddressList("Cc", cc)
	}
	if hostname == "" {
		hostname = domain.DomainOf(domain.NormalizeAddress(msg.From))
	}
	if err := h.GenerateMessageIDWithHostname(hostname); err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create mail writer: %w", err)
	}

	if msg.Text != "" || msg.HTML != "" || len(msg.Attachments) == 0 {
		if err := writeBodies(mw, msg); err != nil {
			return nil, err
		}
	}

	for _, att := range msg.Attachments {
		var ah mail.AttachmentHeader
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		ah.Set("Content-Type", contentType)
		ah.SetFilename(att.Filename)
		w, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, fmt.Errorf("create attachment %q: %w", att.Filename, err)
		}
		if _, err := w.Write(att.Content); err != nil {
			w.Close()
			return nil, fmt.Errorf("write attachment %q: %w", att.Filename, err)
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close mail writer: %w", err)
	}
	return buf.Bytes(), nil
}

func writeBodies(mw *mail.Writer, msg *Message) error {
	iw, err := mw.CreateInline()
	if err != nil {
		return fmt.Errorf("create inline: %w", err)
	}
	if msg.Text != "" || msg.HTML == "" {
		if err := writePart(iw, "text/plain", msg.Text); err != nil {
			return err
		}
	}
	if msg.HTML != "" {
		if err := writePart(iw, "text/html", msg.HTML); err != nil {
			return err
		}
	}
	return iw.Close()
}

func writePart(iw *mail.InlineWriter, contentType, body string) error {
	var h mail.InlineHeader
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	w, err := iw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func addressList(raw []string) ([]*mail.Address, error) {
	out := make([]*mail.Address, 0, len(raw))
	for _, r := range raw {
		if parsed, err := mail.ParseAddress(r); err == nil {
			out = append(out, parsed)
			continue
		}
		addr := domain.NormalizeAddress(r)
		if err := domain.ValidateAddress(addr); err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", r, err)
		}
		out = append(out, &mail.Address{Address: addr})
	}
	return out, nil
}
