package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"freemail/backend/internal/domain"
	"freemail/backend/internal/logger"
	"freemail/backend/internal/mailparse"
	"freemail/backend/internal/storage"
	"freemail/backend/internal/thread"
)

// CreateMessageInput 新建邮件的输入
type CreateMessageInput struct {
	TenantID   string
	InboxID    *string
	Direction  domain.Direction
	Subject    string
	From       string
	Recipients []string
	ThreadID   string // 显式指定时直接使用
	Text       string
	HTML       string
	Status     domain.MessageStatus
	Folder     string

	Attachments []NewAttachment
}

// NewAttachment 随邮件一起写入的附件记录
type NewAttachment struct {
	Filename string
	MimeType string
	Size     int64
	URL      string
}

// ListMessagesInput 邮件列表查询参数
type ListMessagesInput struct {
	InboxID *string // 为 domain.UnassignedInbox 时只返回未关联收件箱的邮件
	Folder  *string
	Starred *bool
	Limit   int
}

// MessageService 邮件存储：线程分配、按租户隔离的读写。
type MessageService struct {
	store        storage.Store
	resolver     *thread.Resolver
	defaultLimit int
	maxLimit     int
	now          func() time.Time
	log          *zap.Logger
}

// NewMessageService 创建邮件服务
func NewMessageService(store storage.Store, resolver *thread.Resolver, defaultLimit, maxLimit int, log *zap.Logger) *MessageService {
	if defaultLimit <= 0 {
		defaultLimit = 25
	}
	if maxLimit < defaultLimit {
		maxLimit = defaultLimit
	}
	return &MessageService{
		store:        store,
		resolver:     resolver,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
		now:          func() time.Time { return time.Now().UTC() },
		log:          logger.OrNop(log),
	}
}

// Create 分配线程 ID 并持久化邮件（及随附的附件记录）
func (s *MessageService) Create(ctx context.Context, in CreateMessageInput) (*domain.Message, error) {
	subject := in.Subject
	if strings.TrimSpace(subject) == "" {
		subject = domain.NoSubject
	}
	subject = mailparse.Truncate(subject, domain.MaxSubjectLength)
	folder := in.Folder
	if folder == "" {
		folder = domain.FolderInbox
		if in.Direction == domain.DirectionOutbound {
			folder = domain.FolderSent
		}
	}

	id := uuid.NewString()
	threadID, err := s.resolver.Resolve(ctx, thread.Request{
		TenantID:  in.TenantID,
		InboxID:   in.InboxID,
		Subject:   subject,
		ThreadID:  strings.TrimSpace(in.ThreadID),
		MessageID: id,
	})
	if err != nil {
		return nil, storeError(err, nil)
	}

	now := s.now()
	msg := &domain.Message{
		ID:          id,
		UserID:      in.TenantID,
		InboxID:     in.InboxID,
		Direction:   in.Direction,
		Subject:     subject,
		SubjectKey:  thread.SubjectKey(subject),
		FromAddress: domain.StringPtr(mailparse.Truncate(in.From, domain.MaxAddressLength)),
		Recipients:  append(domain.StringList{}, in.Recipients...),
		ThreadID:    threadID,
		PreviewText: mailparse.Preview(in.Text, in.HTML),
		BodyPlain:   domain.StringPtr(in.Text),
		BodyHTML:    domain.StringPtr(in.HTML),
		Status:      in.Status,
		Folder:      folder,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	atts := make([]*domain.Attachment, 0, len(in.Attachments))
	for i, a := range in.Attachments {
		atts = append(atts, newAttachment(id, i, a, now))
	}

	if err := s.store.CreateMessage(ctx, msg, atts); err != nil {
		return nil, storeError(err, nil)
	}
	if len(atts) > 0 {
		msg.Attachments = atts
	}

	s.log.Debug("message stored",
		zap.String("message_id", id),
		zap.String("tenant_id", in.TenantID),
		zap.String("thread_id", threadID),
		zap.String("direction", string(in.Direction)),
	)
	return msg, nil
}

// AddAttachment 为已存在的邮件追加附件记录
func (s *MessageService) AddAttachment(ctx context.Context, messageID string, position int, a NewAttachment) (*domain.Attachment, error) {
	att := newAttachment(messageID, position, a, s.now())
	if err := s.store.AddAttachment(ctx, att); err != nil {
		return nil, storeError(err, nil)
	}
	return att, nil
}

// AttachToOwned 校验邮件归属后追加附件
func (s *MessageService) AttachToOwned(ctx context.Context, tenantID, messageID string, a NewAttachment) (*domain.Attachment, error) {
	if _, err := s.store.GetMessage(ctx, tenantID, messageID); err != nil {
		return nil, storeError(err, ErrMessageNotFound)
	}
	existing, err := s.store.ListAttachments(ctx, messageID)
	if err != nil {
		return nil, storeError(err, nil)
	}
	return s.AddAttachment(ctx, messageID, len(existing), a)
}

// List 按创建时间倒序列出邮件
func (s *MessageService) List(ctx context.Context, tenantID string, in ListMessagesInput) ([]*domain.Message, error) {
	filter := domain.MessageFilter{Starred: in.Starred, Limit: s.clampLimit(in.Limit)}
	if in.InboxID != nil {
		if *in.InboxID == domain.UnassignedInbox {
			filter.Unassigned = true
		} else {
			filter.InboxID = in.InboxID
		}
	}
	if in.Folder != nil && *in.Folder != "" {
		if !domain.ValidFolder(*in.Folder) {
			return nil, ErrInvalidFolder
		}
		filter.Folder = in.Folder
	}

	list, err := s.store.ListMessages(ctx, tenantID, filter)
	if err != nil {
		return nil, storeError(err, nil)
	}
	return list, nil
}

// Get 返回邮件及其附件
func (s *MessageService) Get(ctx context.Context, tenantID, id string) (*domain.Message, error) {
	msg, err := s.store.GetMessage(ctx, tenantID, id)
	if err != nil {
		return nil, storeError(err, ErrMessageNotFound)
	}
	atts, err := s.store.ListAttachments(ctx, msg.ID)
	if err != nil {
		return nil, storeError(err, nil)
	}
	msg.Attachments = nonNil(atts)
	return msg, nil
}

// Thread 按时间正序返回会话，附件内联
func (s *MessageService) Thread(ctx context.Context, tenantID, threadID string) ([]*domain.Message, error) {
	list, err := s.store.ListThread(ctx, tenantID, threadID)
	if err != nil {
		return nil, storeError(err, nil)
	}
	if len(list) == 0 {
		return list, nil
	}

	ids := make([]string, len(list))
	for i, m := range list {
		ids[i] = m.ID
	}
	byMessage, err := s.store.ListAttachmentsForMessages(ctx, ids)
	if err != nil {
		return nil, storeError(err, nil)
	}
	for _, m := range list {
		m.Attachments = nonNil(byMessage[m.ID])
	}
	return list, nil
}

// Update 修改白名单字段
func (s *MessageService) Update(ctx context.Context, tenantID, id string, patch domain.MessagePatch) (*domain.Message, error) {
	if patch.Folder != nil && !domain.ValidFolder(*patch.Folder) {
		return nil, ErrInvalidFolder
	}
	msg, err := s.store.UpdateMessage(ctx, tenantID, id, patch, s.now())
	if err != nil {
		return nil, storeError(err, ErrMessageNotFound)
	}
	return msg, nil
}

// ListAttachments 列出租户邮件的附件
func (s *MessageService) ListAttachments(ctx context.Context, tenantID, messageID string) ([]*domain.Attachment, error) {
	if _, err := s.store.GetMessage(ctx, tenantID, messageID); err != nil {
		return nil, storeError(err, ErrMessageNotFound)
	}
	atts, err := s.store.ListAttachments(ctx, messageID)
	if err != nil {
		return nil, storeError(err, nil)
	}
	return nonNil(atts), nil
}

func (s *MessageService) clampLimit(limit int) int {
	if limit <= 0 {
		return s.defaultLimit
	}
	if limit > s.maxLimit {
		return s.maxLimit
	}
	return limit
}

func newAttachment(messageID string, position int, a NewAttachment, now time.Time) *domain.Attachment {
	filename := a.Filename
	if filename == "" {
		filename = mailparse.DefaultFilename
	}
	mimeType := a.MimeType
	if mimeType == "" {
		mimeType = mailparse.DefaultMimeType
	}
	return &domain.Attachment{
		ID:        uuid.NewString(),
		MessageID: messageID,
		Filename:  mailparse.TruncateFilename(filename, domain.MaxFilenameLength),
		MimeType:  mailparse.Truncate(mimeType, domain.MaxMimeTypeLength),
		SizeBytes: a.Size,
		URL:       a.URL,
		Position:  position,
		CreatedAt: now,
	}
}

func nonNil(atts []*domain.Attachment) []*domain.Attachment {
	if atts == nil {
		return []*domain.Attachment{}
	}
	return atts
}
