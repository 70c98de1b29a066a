package mailparse

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func TestParse(t *testing.T) {
	t.Run("纯文本邮件", func(t *testing.T) {
		raw := crlf(`From: "Bob" <Bob@Sender.example>
To: alice@tenant1.example
Subject: Hello

Plain body
`)
		email, err := Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, "Hello", email.Subject)
		assert.Equal(t, "bob@sender.example", email.From)
		assert.Equal(t, []string{"alice@tenant1.example"}, email.Recipients)
		assert.Equal(t, "Plain body\r\n", email.Text)
		assert.Empty(t, email.HTML)
		assert.Empty(t, email.Attachments)
	})

	t.Run("收件人按头部顺序合并去重", func(t *testing.T) {
		raw := crlf(`From: bob@sender.example
To: "Carol" <CAROL@tenant2.example>, alice@tenant1.example
Cc: alice@tenant1.example, dave@tenant3.example
Subject: x

body
`)
		email, err := Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, []string{"carol@tenant2.example", "alice@tenant1.example", "dave@tenant3.example"}, email.Recipients)
	})

	t.Run("无法严格解析的地址头部", func(t *testing.T) {
		raw := crlf(`From: Ops Team [Billing] <OPS@example.com>
To: Alice Smith [HR] <Alice@Tenant1.example>
Subject: x

body
`)
		email, err := Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, "ops@example.com", email.From)
		assert.Equal(t, []string{"alice@tenant1.example"}, email.Recipients)
	})

	t.Run("缺少主题", func(t *testing.T) {
		email, err := Parse(crlf("To: a@b.example\n\nhi\n"))
		require.NoError(t, err)
		assert.Equal(t, "", email.Subject)
	})

	t.Run("编码主题与GBK正文", func(t *testing.T) {
		gbk, err := simplifiedchinese.GBK.NewEncoder().String("你好，世界")
		require.NoError(t, err)
		raw := crlf(`From: a@b.example
To: c@d.example
Subject: =?UTF-8?B?5rWL6K+V?=
Content-Type: text/plain; charset=gbk
Content-Transfer-Encoding: base64

` + base64.StdEncoding.EncodeToString([]byte(gbk)) + "\n")
		email, err := Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, "测试", email.Subject)
		assert.Equal(t, "你好，世界", email.Text)
	})

	t.Run("多部分邮件含附件", func(t *testing.T) {
		pdf := []byte("%PDF-1.4 fake")
		raw := crlf(`From: bob@sender.example
To: alice@tenant1.example
Subject: Welcome
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="outer"

--outer
Content-Type: multipart/alternative; boundary="inner"

--inner
Content-Type: text/plain; charset=utf-8
Content-Transfer-Encoding: quoted-printable

Hello =E2=9C=93
--inner
Content-Type: text/html; charset=utf-8

<p>Hello</p>
--inner--
--outer
Content-Type: application/pdf; name="guide.pdf"
Content-Disposition: attachment; filename="guide.pdf"
Content-Transfer-Encoding: base64

` + base64.StdEncoding.EncodeToString(pdf) + `
--outer
Content-Type: image/png
Content-Transfer-Encoding: base64

iVBORw0KGgo=
--outer--
`)
		email, err := Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, "Hello ✓", email.Text)
		assert.Equal(t, "<p>Hello</p>", email.HTML)
		require.Len(t, email.Attachments, 2)

		assert.Equal(t, "guide.pdf", email.Attachments[0].Filename)
		assert.Equal(t, "application/pdf", email.Attachments[0].ContentType)
		assert.Equal(t, pdf, email.Attachments[0].Content)
		assert.Equal(t, int64(len(pdf)), email.Attachments[0].Size())

		assert.Equal(t, DefaultFilename, email.Attachments[1].Filename)
		assert.Equal(t, "image/png", email.Attachments[1].ContentType)
	})

	t.Run("RFC2231文件名", func(t *testing.T) {
		raw := crlf(`From: a@b.example
To: c@d.example
Subject: files
Content-Type: multipart/mixed; boundary="b"

--b
Content-Type: text/plain

body
--b
Content-Type: application/octet-stream
Content-Disposition: attachment; filename*=UTF-8''%E6%8A%A5%E5%91%8A.txt

data
--b--
`)
		email, err := Parse(raw)
		require.NoError(t, err)
		require.Len(t, email.Attachments, 1)
		assert.Equal(t, "报告.txt", email.Attachments[0].Filename)
		assert.Equal(t, []byte("data"), email.Attachments[0].Content)
	})

	t.Run("空内容", func(t *testing.T) {
		_, err := Parse([]byte("  \r\n"))
		assert.ErrorIs(t, err, ErrEmpty)
	})

	t.Run("缺少boundary", func(t *testing.T) {
		_, err := Parse(crlf("To: a@b.example\nContent-Type: multipart/mixed\n\nx\n"))
		assert.Error(t, err)
	})
}

func TestPreview(t *testing.T) {
	t.Run("优先纯文本", func(t *testing.T) {
		assert.Equal(t, "hello world", Preview("  hello\n  world ", "<b>ignored</b>"))
	})

	t.Run("去除HTML标签与实体", func(t *testing.T) {
		got := Preview("", "<style>p{color:red}</style><p>Tom &amp; Jerry</p><script>alert(1)</script>")
		assert.Equal(t, "Tom & Jerry", got)
	})

	t.Run("按字符截断", func(t *testing.T) {
		long := strings.Repeat("邮", 200)
		got := Preview(long, "")
		assert.Equal(t, PreviewLength, len([]rune(got)))
	})

	t.Run("都为空", func(t *testing.T) {
		assert.Equal(t, "", Preview("", ""))
	})
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "", Truncate("abc", 0))
	assert.Equal(t, "你好", Truncate("你好世界", 2))
}

func TestTruncateFilename(t *testing.T) {
	assert.Equal(t, "report.pdf", TruncateFilename("report.pdf", 20))
	assert.Equal(t, "repo.pdf", TruncateFilename("report.pdf", 8))
	assert.Equal(t, "报告.pdf", TruncateFilename("报告报告报告.pdf", 6))
	assert.Equal(t, "abcde", TruncateFilename("abcdefgh", 5))
	assert.Equal(t, "a.ver", TruncateFilename("a.verylongextension", 5))
}
