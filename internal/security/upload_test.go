package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"report.pdf":            "report.pdf",
		"../../etc/passwd":      "passwd",
		`C:\Users\bob\cv.docx`:  "cv.docx",
		"  bad\x00name\n.txt ":  "badname.txt",
		"":                      FallbackFilename,
		"...":                   FallbackFilename,
		"季度报告.xlsx":             "季度报告.xlsx",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeFilename(in), in)
	}

	t.Run("超长文件名保留扩展名", func(t *testing.T) {
		name := SanitizeFilename(strings.Repeat("a", 400) + ".pdf")
		assert.LessOrEqual(t, len(name), maxFilenameLength)
		assert.True(t, strings.HasSuffix(name, ".pdf"))
	})
}

func TestUploadPolicy(t *testing.T) {
	p := NewUploadPolicy(1024)

	t.Run("通过并嗅探类型", func(t *testing.T) {
		name, ct, err := p.Check("notes.txt", []byte("hello world"), "")
		require.NoError(t, err)
		assert.Equal(t, "notes.txt", name)
		assert.True(t, strings.HasPrefix(ct, "text/plain"))
	})

	t.Run("保留声明类型", func(t *testing.T) {
		_, ct, err := p.Check("a.pdf", []byte("%PDF-1.4"), "application/pdf")
		require.NoError(t, err)
		assert.Equal(t, "application/pdf", ct)
	})

	t.Run("空文件", func(t *testing.T) {
		_, _, err := p.Check("a.txt", nil, "")
		assert.ErrorIs(t, err, ErrEmptyFile)
	})

	t.Run("超过上限", func(t *testing.T) {
		_, _, err := p.Check("a.bin", make([]byte, 1025), "")
		assert.ErrorIs(t, err, ErrFileTooLarge)
	})

	t.Run("危险扩展名", func(t *testing.T) {
		_, _, err := p.Check("setup.EXE", []byte("hi"), "")
		assert.ErrorIs(t, err, ErrDangerousFile)
	})

	t.Run("可执行文件魔数", func(t *testing.T) {
		elf := append([]byte{0x7F, 'E', 'L', 'F', 2, 1, 1, 0}, make([]byte, 64)...)
		_, _, err := p.Check("innocent.png", elf, "image/png")
		assert.ErrorIs(t, err, ErrDangerousFile)
	})
}
