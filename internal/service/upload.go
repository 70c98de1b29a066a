package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"freemail/backend/internal/apperr"
	"freemail/backend/internal/blob"
	"freemail/backend/internal/domain"
	"freemail/backend/internal/logger"
	"freemail/backend/internal/security"
)

// UploadResult 上传结果
type UploadResult struct {
	URL       string `json:"url"`
	Filename  string `json:"filename"`
	MimeType  string `json:"mimetype"`
	SizeBytes int64  `json:"size_bytes"`
}

// UploadService 将客户端文件转存到对象存储
type UploadService struct {
	blobs    blob.Store
	policy   *security.UploadPolicy
	messages *MessageService
	log      *zap.Logger
}

// NewUploadService 创建上传服务
func NewUploadService(blobs blob.Store, policy *security.UploadPolicy, messages *MessageService, log *zap.Logger) *UploadService {
	return &UploadService{
		blobs:    blobs,
		policy:   policy,
		messages: messages,
		log:      logger.OrNop(log),
	}
}

// MaxBytes 单文件上限
func (s *UploadService) MaxBytes() int64 {
	return s.policy.MaxFileSize()
}

// Upload 检查并上传文件
func (s *UploadService) Upload(ctx context.Context, filename, contentType string, content []byte) (*UploadResult, error) {
	name, mimeType, err := s.policy.Check(filename, content, contentType)
	switch {
	case errors.Is(err, security.ErrFileTooLarge):
		return nil, apperr.TooLarge(err.Error())
	case err != nil:
		return nil, apperr.Validation(err.Error())
	}

	url, err := s.blobs.Upload(ctx, name, content)
	if err != nil {
		if errors.Is(err, blob.ErrTooLarge) {
			return nil, apperr.TooLarge("file too large")
		}
		s.log.Error("blob upload failed", zap.String("filename", name), zap.Error(err))
		return nil, apperr.Downstream("upload failed", err)
	}

	return &UploadResult{
		URL:       url,
		Filename:  name,
		MimeType:  mimeType,
		SizeBytes: int64(len(content)),
	}, nil
}

// UploadAttachment 上传并挂到租户拥有的邮件上
func (s *UploadService) UploadAttachment(ctx context.Context, tenantID, messageID, filename, contentType string, content []byte) (*domain.Attachment, error) {
	if _, err := s.messages.Get(ctx, tenantID, messageID); err != nil {
		return nil, err
	}
	res, err := s.Upload(ctx, filename, contentType, content)
	if err != nil {
		return nil, err
	}
	return s.messages.AttachToOwned(ctx, tenantID, messageID, NewAttachment{
		Filename: res.Filename,
		MimeType: res.MimeType,
		Size:     res.SizeBytes,
		URL:      res.URL,
	})
}
