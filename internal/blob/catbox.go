package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"freemail/backend/internal/apperr"
	"freemail/backend/internal/config"
	"freemail/backend/internal/logger"
)

var (
	// ErrUploadRejected 对象存储返回了非 URL 响应
	ErrUploadRejected = errors.New("blob: upload rejected")
	// ErrTooLarge 内容超过允许大小
	ErrTooLarge = errors.New("blob: content too large")
	// ErrForeignURL 地址不是本存储签发的
	ErrForeignURL = apperr.Validation("attachment url was not issued by the blob store")
)

// DefaultCatboxFileHost catbox 文件的下载主机
const DefaultCatboxFileHost = "files.catbox.moe"

// Store 对象存储：上传返回可访问的 URL，并可按 URL 取回内容。
type Store interface {
	Upload(ctx context.Context, filename string, content []byte) (string, error)
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// CatboxStore 基于 catbox.moe 用户 API 的对象存储
type CatboxStore struct {
	endpoint string
	fileHost string
	maxBytes int64
	client   *http.Client
	log      *zap.Logger
}

// NewCatboxStore 创建 Catbox 客户端，超时由 http.Client 统一控制
func NewCatboxStore(cfg config.BlobConfig, log *zap.Logger) *CatboxStore {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	fileHost := strings.ToLower(cfg.CatboxFileHost)
	if fileHost == "" {
		fileHost = DefaultCatboxFileHost
	}
	s := &CatboxStore{
		endpoint: cfg.CatboxURL,
		fileHost: fileHost,
		maxBytes: cfg.MaxUploadBytes,
		log:      logger.OrNop(log),
	}
	s.client = &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errors.New("blob: too many redirects")
			}
			if !s.issued(req.URL) {
				return fmt.Errorf("%w: redirect to %s", ErrForeignURL, req.URL.Host)
			}
			return nil
		},
	}
	return s
}

// issued 只接受文件主机上的 https 地址
func (s *CatboxStore) issued(u *neturl.URL) bool {
	return u.Scheme == "https" && u.User == nil && strings.EqualFold(u.Host, s.fileHost)
}

// Upload 以 multipart 表单上传文件
func (s *CatboxStore) Upload(ctx context.Context, filename string, content []byte) (string, error) {
	if s.maxBytes > 0 && int64(len(content)) > s.maxBytes {
		return "", ErrTooLarge
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.WriteField("reqtype", "fileupload"); err != nil {
		return "", err
	}
	part, err := form.CreateFormFile("fileToUpload", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(content); err != nil {
		return "", err
	}
	if err := form.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload %q: %w", filename, err)
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("read upload response: %w", err)
	}
	url := strings.TrimSpace(string(text))
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(url, "https://") {
		return "", fmt.Errorf("%w: status %d: %s", ErrUploadRejected, resp.StatusCode, url)
	}

	s.log.Debug("blob uploaded",
		zap.String("filename", filename),
		zap.Int("size", len(content)),
		zap.String("url", url),
	)
	return url, nil
}

// Fetch 下载先前上传的内容，只接受文件主机上的地址
func (s *CatboxStore) Fetch(ctx context.Context, url string) ([]byte, error) {
	u, err := neturl.Parse(url)
	if err != nil || !s.issued(u) {
		return nil, fmt.Errorf("%w: %q", ErrForeignURL, url)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build fetch request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	r := io.Reader(resp.Body)
	if s.maxBytes > 0 {
		r = io.LimitReader(resp.Body, s.maxBytes+1)
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if s.maxBytes > 0 && int64(len(content)) > s.maxBytes {
		return nil, ErrTooLarge
	}
	return content, nil
}
