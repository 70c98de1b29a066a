package mailparse

import (
	"html"
	"path"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// PreviewLength 预览文本的最大字符数
const PreviewLength = 120

var strictPolicy = bluemonday.StrictPolicy()

// Preview 取纯文本正文，缺失时取去除标签后的 HTML，截断为 PreviewLength 个字符
func Preview(text, htmlBody string) string {
	source := strings.TrimSpace(text)
	if source == "" && strings.TrimSpace(htmlBody) != "" {
		source = StripHTML(htmlBody)
	}
	return Truncate(strings.Join(strings.Fields(source), " "), PreviewLength)
}

// StripHTML 去除全部标签并还原实体
func StripHTML(body string) string {
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(body)))
}

// Truncate 按字符截断，不拆分多字节字符
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// TruncateFilename 截断到 n 个字符，尽量保留扩展名
func TruncateFilename(name string, n int) string {
	if len([]rune(name)) <= n {
		return name
	}
	ext := path.Ext(name)
	extLen := len([]rune(ext))
	if extLen == 0 || extLen >= n {
		return Truncate(name, n)
	}
	return Truncate(strings.TrimSuffix(name, ext), n-extLen) + ext
}
