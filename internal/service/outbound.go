package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"freemail/backend/internal/apperr"
	"freemail/backend/internal/blob"
	"freemail/backend/internal/domain"
	"freemail/backend/internal/logger"
	"freemail/backend/internal/mailparse"
	"freemail/backend/internal/relay"
)

// AttachmentRef 已上传到对象存储的附件引用
type AttachmentRef struct {
	Filename    string `json:"filename"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
}

// SendInput 外发邮件请求
type SendInput struct {
	TenantID    string
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	HTML        string
	Text        string
	ThreadID    string
	Attachments []AttachmentRef
}

// OutboundService 外发：取回附件、交给中继、按入站同样的路径保存已发送副本。
type OutboundService struct {
	directory *Directory
	messages  *MessageService
	blobs     blob.Store
	relay     relay.Relay
	events    EventPublisher
	metrics   PipelineMetrics
	log       *zap.Logger
}

// NewOutboundService 创建外发服务
func NewOutboundService(directory *Directory, messages *MessageService, blobs blob.Store, r relay.Relay, events EventPublisher, metrics PipelineMetrics, log *zap.Logger) *OutboundService {
	return &OutboundService{
		directory: directory,
		messages:  messages,
		blobs:     blobs,
		relay:     r,
		events:    events,
		metrics:   metrics,
		log:       logger.OrNop(log),
	}
}

// Send 发送邮件。中继失败时不保存任何记录。
func (s *OutboundService) Send(ctx context.Context, in SendInput) (*domain.Message, error) {
	from := strings.TrimSpace(in.From)
	if len(in.To) == 0 {
		return nil, ErrNoRecipients
	}
	if from == "" {
		return nil, ErrMissingSender
	}
	for _, a := range in.Attachments {
		if strings.TrimSpace(a.URL) == "" {
			return nil, ErrAttachmentURL
		}
	}

	out := &relay.Message{
		From:    from,
		To:      in.To,
		Cc:      in.Cc,
		Bcc:     in.Bcc,
		Subject: in.Subject,
		Text:    in.Text,
		HTML:    in.HTML,
	}
	if len(out.Envelope()) == 0 {
		return nil, ErrNoRecipients
	}

	files, err := s.fetchAttachments(ctx, in.Attachments)
	if errors.Is(err, blob.ErrForeignURL) {
		s.log.Warn("outbound attachment url rejected", zap.String("tenant_id", in.TenantID), zap.Error(err))
		return nil, err
	}
	if err != nil {
		s.log.Error("outbound attachment fetch failed", zap.String("tenant_id", in.TenantID), zap.Error(err))
		return nil, apperr.Downstream("attachment fetch failed", err)
	}
	out.Attachments = files

	if err := s.relay.Send(ctx, out); err != nil {
		s.log.Error("relay send failed",
			zap.String("relay", s.relay.Name()),
			zap.String("tenant_id", in.TenantID),
			zap.String("from", from),
			zap.Error(err),
		)
		s.observe(OutcomeFailed)
		return nil, apperr.Downstream("send failed", err)
	}
	s.observe(OutcomeSuccess)

	var inboxID *string
	binding, found, err := s.directory.ResolveByAddress(ctx, from)
	if err != nil {
		s.log.Warn("sender inbox lookup failed", zap.String("from", from), zap.Error(err))
	} else if found && binding.TenantID == in.TenantID {
		id := binding.InboxID
		inboxID = &id
	}

	refs := make([]NewAttachment, len(files))
	for i, f := range files {
		refs[i] = NewAttachment{
			Filename: f.Filename,
			MimeType: f.ContentType,
			Size:     int64(len(f.Content)),
			URL:      in.Attachments[i].URL,
		}
	}

	msg, err := s.messages.Create(ctx, CreateMessageInput{
		TenantID:    in.TenantID,
		InboxID:     inboxID,
		Direction:   domain.DirectionOutbound,
		Subject:     in.Subject,
		From:        domain.NormalizeAddress(from),
		Recipients:  out.Envelope(),
		ThreadID:    in.ThreadID,
		Text:        in.Text,
		HTML:        in.HTML,
		Status:      domain.StatusSent,
		Folder:      domain.FolderSent,
		Attachments: refs,
	})
	if err != nil {
		s.log.Error("sent copy persist failed", zap.String("tenant_id", in.TenantID), zap.Error(err))
		return nil, err
	}

	publish(ctx, s.events, s.log, msg)
	s.log.Info("outbound message sent",
		zap.String("message_id", msg.ID),
		zap.String("tenant_id", in.TenantID),
		zap.String("thread_id", msg.ThreadID),
		zap.Int("recipients", len(msg.Recipients)),
		zap.Int("attachments", len(refs)),
	)
	return msg, nil
}

// fetchAttachments 并发取回所有附件，任一失败即取消其余
func (s *OutboundService) fetchAttachments(ctx context.Context, refs []AttachmentRef) ([]relay.Attachment, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	files := make([]relay.Attachment, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentUploads)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			content, err := s.blobs.Fetch(gctx, ref.URL)
			if err != nil {
				return fmt.Errorf("fetch %q: %w", ref.Filename, err)
			}
			filename := ref.Filename
			if filename == "" {
				filename = mailparse.DefaultFilename
			}
			contentType := ref.ContentType
			if contentType == "" {
				contentType = mailparse.DefaultMimeType
			}
			files[i] = relay.Attachment{Filename: filename, ContentType: contentType, Content: content}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

func (s *OutboundService) observe(outcome string) {
	if s.metrics != nil {
		s.metrics.OutboundSend(s.relay.Name(), outcome)
	}
}
