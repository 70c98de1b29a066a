package blob

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"freemail/backend/internal/config"
	"freemail/backend/internal/logger"
)

const maxFilenameLength = 200

// FilesystemStore 本地磁盘对象存储，供离线部署与开发环境使用。
// 文件按 {basePath}/{YYYY-MM-DD}/{id}_{filename} 存放，由 HTTP 层以 /files 静态路由对外提供。
type FilesystemStore struct {
	basePath  string
	publicURL string
	maxBytes  int64
	now       func() time.Time
	log       *zap.Logger
}

// NewFilesystemStore 创建本地存储并确保根目录存在
func NewFilesystemStore(cfg config.BlobConfig, log *zap.Logger) (*FilesystemStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("blob: filesystem path is required")
	}
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create base directory: %w", err)
	}
	return &FilesystemStore{
		basePath:  cfg.Path,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		maxBytes:  cfg.MaxUploadBytes,
		now:       time.Now,
		log:       logger.OrNop(log),
	}, nil
}

// Upload 写入文件并返回公开 URL
func (s *FilesystemStore) Upload(_ context.Context, filename string, content []byte) (string, error) {
	if s.maxBytes > 0 && int64(len(content)) > s.maxBytes {
		return "", ErrTooLarge
	}

	id := uuid.NewString()
	rel := path.Join(s.now().UTC().Format("2006-01-02"), id[:8]+"_"+diskFilename(filename))
	full := filepath.Join(s.basePath, filepath.FromSlash(rel))

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("blob: create directory: %w", err)
	}
	if err := os.WriteFile(full, content, 0o644); err != nil {
		return "", fmt.Errorf("blob: write %s: %w", rel, err)
	}

	url := s.publicURL + "/" + rel
	s.log.Debug("blob stored on disk", zap.String("path", full), zap.Int("size", len(content)))
	return url, nil
}

// Fetch 读取本存储签发的 URL 对应的文件
func (s *FilesystemStore) Fetch(_ context.Context, url string) ([]byte, error) {
	rel, ok := strings.CutPrefix(url, s.publicURL+"/")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrForeignURL, url)
	}
	clean := path.Clean("/" + rel)
	if clean != "/"+rel || strings.Contains(rel, "..") {
		return nil, fmt.Errorf("%w: invalid path %q", ErrForeignURL, rel)
	}

	content, err := os.ReadFile(filepath.Join(s.basePath, filepath.FromSlash(rel)))
	if err != nil {
		return nil, fmt.Errorf("blob: read %s: %w", rel, err)
	}
	if s.maxBytes > 0 && int64(len(content)) > s.maxBytes {
		return nil, ErrTooLarge
	}
	return content, nil
}

// diskFilename 生成可落盘的文件名：去掉路径与控制字符，替换 Windows 保留字符，限制长度并保留扩展名
func diskFilename(filename string) string {
	filename = strings.ReplaceAll(filename, "\\", "/")
	filename = path.Base(filename)

	for _, char := range []string{"<", ">", ":", "\"", "|", "?", "*", "/"} {
		filename = strings.ReplaceAll(filename, char, "_")
	}
	filename = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, filename)
	filename = strings.Trim(filename, " .")

	if len(filename) > maxFilenameLength {
		ext := filepath.Ext(filename)
		if len(ext) >= maxFilenameLength {
			ext = ""
		}
		filename = strings.ToValidUTF8(filename[:maxFilenameLength-len(ext)], "") + ext
	}
	if filename == "" {
		filename = "unnamed"
	}
	return filename
}
