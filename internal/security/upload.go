package security

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/gabriel-vasile/mimetype"
)

var (
	// ErrEmptyFile 上传内容为空
	ErrEmptyFile = errors.New("empty file")
	// ErrFileTooLarge 超过上传上限
	ErrFileTooLarge = errors.New("file too large")
	// ErrDangerousFile 可执行文件或危险扩展名
	ErrDangerousFile = errors.New("dangerous file type")
)

// maxFilenameLength 文件名最大字节数
const maxFilenameLength = 255

// FallbackFilename 文件名清洗后为空时使用
const FallbackFilename = "attachment.bin"

// UploadPolicy 上传文件检查器
type UploadPolicy struct {
	maxFileSize         int64
	dangerousExtensions map[string]bool
}

// NewUploadPolicy 创建上传检查器，maxFileSize<=0 表示不限制大小
func NewUploadPolicy(maxFileSize int64) *UploadPolicy {
	return &UploadPolicy{
		maxFileSize: maxFileSize,
		dangerousExtensions: map[string]bool{
			".exe": true,
			".bat": true,
			".cmd": true,
			".scr": true,
			".pif": true,
			".com": true,
			".vbs": true,
			".msi": true,
			".jar": true,
			".ps1": true,
		},
	}
}

// MaxFileSize 返回上传上限
func (p *UploadPolicy) MaxFileSize() int64 {
	return p.maxFileSize
}

// Check 检查上传内容，返回清洗后的文件名与 MIME 类型。
// 声明类型缺失或为通用二进制时按内容嗅探。
func (p *UploadPolicy) Check(filename string, content []byte, declaredType string) (string, string, error) {
	if len(content) == 0 {
		return "", "", ErrEmptyFile
	}
	if p.maxFileSize > 0 && int64(len(content)) > p.maxFileSize {
		return "", "", fmt.Errorf("%w: exceeds %d bytes", ErrFileTooLarge, p.maxFileSize)
	}

	name := SanitizeFilename(filename)
	ext := strings.ToLower(filepath.Ext(name))
	if p.dangerousExtensions[ext] {
		return "", "", fmt.Errorf("%w: %s", ErrDangerousFile, ext)
	}

	detected := mimetype.Detect(content)
	if executable(detected) {
		return "", "", fmt.Errorf("%w: %s", ErrDangerousFile, detected.String())
	}

	return name, contentType(declaredType, detected), nil
}

// executable 沿类型树向上匹配可执行格式
func executable(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is("application/vnd.microsoft.portable-executable") ||
			m.Is("application/x-elf") ||
			m.Is("application/x-mach-binary") {
			return true
		}
	}
	return false
}

func contentType(declared string, detected *mimetype.MIME) string {
	mediaType, params, err := mime.ParseMediaType(declared)
	if err != nil || mediaType == "" || mediaType == "application/octet-stream" {
		return detected.String()
	}
	return mime.FormatMediaType(mediaType, params)
}

// SanitizeFilename 去掉路径与控制字符，限制长度
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == '/' || r == ':' || r == '"' {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(strings.Trim(name, "."))
	if name == "" {
		return FallbackFilename
	}
	for len(name) > maxFilenameLength {
		ext := filepath.Ext(name)
		if len(ext) >= maxFilenameLength {
			ext = ""
		}
		r := []rune(strings.TrimSuffix(name, ext))
		name = string(r[:len(r)-1]) + ext
	}
	return name
}
