// Package mailparse 解析 RFC 5322 / MIME 邮件。
package mailparse

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"freemail/backend/internal/domain"
)

const (
	// DefaultFilename 附件缺少文件名时使用
	DefaultFilename = "attachment.bin"
	// DefaultMimeType 附件缺少类型时使用
	DefaultMimeType = "application/octet-stream"

	maxDepth = 10
)

// ErrEmpty 邮件内容为空
var ErrEmpty = errors.New("empty message")

// Part 一个附件部分
type Part struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Size 附件字节数
func (p Part) Size() int64 { return int64(len(p.Content)) }

// Email 解析后的邮件
type Email struct {
	Subject     string
	From        string   // 规范化的小写地址，可能为空
	Recipients  []string // To 在前 Cc 在后，保持头部顺序并去重
	Text        string
	HTML        string
	Attachments []Part
}

var wordDecoder = &mime.WordDecoder{CharsetReader: charsetReader}

// Parse 解析原始邮件
func Parse(raw []byte) (*Email, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmpty
	}

	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse mail: %w", err)
	}

	email := &Email{
		Subject: strings.TrimSpace(decodeHeader(msg.Header.Get("Subject"))),
		From:    firstAddress(msg.Header.Get("From")),
	}

	seen := make(map[string]struct{})
	for _, field := range []string{"To", "Cc"} {
		for _, addr := range AddressList(msg.Header.Get(field)) {
			if _, dup := seen[addr]; dup {
				continue
			}
			seen[addr] = struct{}{}
			email.Recipients = append(email.Recipients, addr)
		}
	}

	if err := email.walk(msg.Header, msg.Body, 0); err != nil {
		return nil, err
	}
	return email, nil
}

// headerGetter 统一 mail.Header 与 multipart 头部的访问方式
type headerGetter interface {
	Get(key string) string
}

func (e *Email) walk(h headerGetter, body io.Reader, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("multipart nesting exceeds %d levels", maxDepth)
	}

	mediaType, params, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil {
		mediaType, params = "text/plain", map[string]string{}
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return fmt.Errorf("multipart message without boundary")
		}
		mr := multipart.NewReader(body, boundary)
		for {
			part, err := mr.NextRawPart()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("parse multipart: %w", err)
			}
			if err := e.walk(part.Header, part, depth+1); err != nil {
				return err
			}
		}
	}

	if name, ok := attachmentName(h, mediaType, params); ok {
		content, err := io.ReadAll(transferDecoder(body, h.Get("Content-Transfer-Encoding")))
		if err != nil {
			return fmt.Errorf("read attachment %q: %w", name, err)
		}
		if mediaType == "" {
			mediaType = DefaultMimeType
		}
		e.Attachments = append(e.Attachments, Part{Filename: name, ContentType: mediaType, Content: content})
		return nil
	}

	text, err := decodeBody(body, h.Get("Content-Transfer-Encoding"), params["charset"])
	if err != nil {
		return fmt.Errorf("decode body: %w", err)
	}

	switch {
	case mediaType == "text/html":
		if e.HTML == "" {
			e.HTML = text
		}
	case strings.HasPrefix(mediaType, "text/"):
		if e.Text == "" {
			e.Text = text
		}
	}
	return nil
}

// attachmentName 判断部分是否为附件，并返回文件名
func attachmentName(h headerGetter, mediaType string, params map[string]string) (string, bool) {
	disposition, dispParams, _ := mime.ParseMediaType(h.Get("Content-Disposition"))
	filename := dispParams["filename"]
	if filename == "" {
		filename = params["name"]
	}
	filename = strings.TrimSpace(decodeHeader(filename))

	switch {
	case disposition == "attachment":
	case disposition == "inline" && filename != "":
	case filename != "" && !strings.HasPrefix(mediaType, "text/"):
	case !strings.HasPrefix(mediaType, "text/") && !strings.HasPrefix(mediaType, "multipart/"):
	default:
		return "", false
	}
	if filename == "" {
		filename = DefaultFilename
	}
	return filename, true
}

func transferDecoder(r io.Reader, encoding string) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	default:
		return r
	}
}

// decodeBody 解码传输编码并转换为 UTF-8
func decodeBody(r io.Reader, transferEncoding, charset string) (string, error) {
	body, err := io.ReadAll(transferDecoder(r, transferEncoding))
	if err != nil {
		return "", err
	}
	if enc := lookupCharset(charset); enc != nil {
		if converted, _, err := transform.Bytes(enc.NewDecoder(), body); err == nil {
			body = converted
		}
	}
	return string(body), nil
}

// lookupCharset 返回非 UTF-8 字符集的编码，未知或 UTF-8 返回 nil
func lookupCharset(charset string) encoding.Encoding {
	charset = strings.ToLower(strings.Trim(strings.TrimSpace(charset), `"`))
	switch charset {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		return nil
	case "gb2312", "gbk":
		return simplifiedchinese.GBK
	case "ks_c_5601-1987":
		return korean.EUCKR
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil
	}
	return enc
}

func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	if enc := lookupCharset(charset); enc != nil {
		return transform.NewReader(input, enc.NewDecoder()), nil
	}
	return input, nil
}

// decodeHeader 解码 RFC 2047 编码的头部
func decodeHeader(value string) string {
	decoded, err := wordDecoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

// AddressList 解析地址列表头部，返回规范化的小写地址
func AddressList(header string) []string {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}

	parser := mail.AddressParser{WordDecoder: wordDecoder}
	if list, err := parser.ParseList(header); err == nil {
		out := make([]string, 0, len(list))
		for _, a := range list {
			out = append(out, strings.ToLower(a.Address))
		}
		return out
	}

	var out []string
	for _, piece := range strings.Split(header, ",") {
		if addr := domain.NormalizeAddress(piece); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

func firstAddress(header string) string {
	list := AddressList(header)
	if len(list) == 0 {
		return ""
	}
	return list[0]
}
