package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"freemail/backend/internal/apperr"
	"freemail/backend/internal/blob"
	"freemail/backend/internal/domain"
	"freemail/backend/internal/logger"
	"freemail/backend/internal/mailparse"
)

// maxConcurrentUploads 单封邮件的并发上传数
const maxConcurrentUploads = 4

// PipelineMetrics 收发管道指标
type PipelineMetrics interface {
	InboundDelivery(outcome string)
	AttachmentUpload(outcome string)
	OutboundSend(relay, outcome string)
}

// 入站结果
const (
	OutcomePersisted = "persisted"
	OutcomeDiscarded = "discarded"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
	OutcomeSuccess   = "success"
)

// Delivery 一次入站投递的结果
type Delivery struct {
	Message   *domain.Message
	Recipient string
	Discarded bool
}

// InboundService 入站路由：解析、定位收件人、分配线程、持久化、上传附件。
type InboundService struct {
	directory *Directory
	messages  *MessageService
	blobs     blob.Store
	events    EventPublisher
	metrics   PipelineMetrics
	log       *zap.Logger
}

// NewInboundService 创建入站服务，events 与 metrics 可为 nil
func NewInboundService(directory *Directory, messages *MessageService, blobs blob.Store, events EventPublisher, metrics PipelineMetrics, log *zap.Logger) *InboundService {
	return &InboundService{
		directory: directory,
		messages:  messages,
		blobs:     blobs,
		events:    events,
		metrics:   metrics,
		log:       logger.OrNop(log),
	}
}

// Accepts 判断地址能否被路由到某个收件箱
func (s *InboundService) Accepts(ctx context.Context, address string) (bool, error) {
	_, found, err := s.directory.ResolveByAddress(ctx, address)
	return found, err
}

// Deliver 处理一封原始邮件。
//
// 没有可识别的收件人时返回 Discarded 且不持久化；调用方断开不会中断处理。
// 附件上传失败时邮件已落库，返回结果的同时返回下游错误。
func (s *InboundService) Deliver(ctx context.Context, raw []byte) (*Delivery, error) {
	return s.deliver(ctx, raw, nil)
}

// DeliverEnvelope 与 Deliver 相同，但优先按 SMTP 信封收件人路由，头部收件人作为后备。
func (s *InboundService) DeliverEnvelope(ctx context.Context, raw []byte, envelope []string) (*Delivery, error) {
	return s.deliver(ctx, raw, envelope)
}

func (s *InboundService) deliver(ctx context.Context, raw []byte, envelope []string) (*Delivery, error) {
	ctx = context.WithoutCancel(ctx)

	email, err := mailparse.Parse(raw)
	if err != nil {
		s.log.Warn("inbound payload rejected", zap.Int("bytes", len(raw)), zap.Error(err))
		s.observeDelivery(OutcomeRejected)
		return nil, apperr.Wrap(apperr.KindValidation, ErrInvalidPayload.Error(), err)
	}

	var binding domain.AddressBinding
	found := false
	candidates := append(append([]string(nil), envelope...), email.Recipients...)
	for _, rcpt := range candidates {
		binding, found, err = s.directory.ResolveByAddress(ctx, rcpt)
		if err != nil {
			s.observeDelivery(OutcomeFailed)
			return nil, err
		}
		if found {
			break
		}
	}
	if !found {
		s.log.Info("inbound delivery discarded",
			zap.Strings("recipients", email.Recipients),
			zap.String("from", email.From),
		)
		s.observeDelivery(OutcomeDiscarded)
		return &Delivery{Discarded: true}, nil
	}

	inboxID := binding.InboxID
	msg, err := s.messages.Create(ctx, CreateMessageInput{
		TenantID:   binding.TenantID,
		InboxID:    &inboxID,
		Direction:  domain.DirectionInbound,
		Subject:    email.Subject,
		From:       email.From,
		Recipients: email.Recipients,
		Text:       email.Text,
		HTML:       email.HTML,
		Status:     domain.StatusReceived,
		Folder:     domain.FolderInbox,
	})
	if err != nil {
		s.log.Error("inbound message persist failed",
			zap.String("tenant_id", binding.TenantID),
			zap.String("recipient", binding.Email),
			zap.Error(err),
		)
		s.observeDelivery(OutcomeFailed)
		return nil, err
	}

	delivery := &Delivery{Message: msg, Recipient: binding.Email}
	uploadErr := s.storeAttachments(ctx, msg, email.Attachments)

	publish(ctx, s.events, s.log, msg)

	if uploadErr != nil {
		s.log.Error("inbound attachment upload failed",
			zap.String("message_id", msg.ID),
			zap.String("tenant_id", msg.UserID),
			zap.Int("attachments", len(email.Attachments)),
			zap.Int("stored", len(msg.Attachments)),
			zap.Error(uploadErr),
		)
		s.observeDelivery(OutcomeFailed)
		return delivery, apperr.Downstream("attachment upload failed", uploadErr)
	}

	s.log.Info("inbound message stored",
		zap.String("message_id", msg.ID),
		zap.String("tenant_id", msg.UserID),
		zap.String("inbox_id", inboxID),
		zap.String("thread_id", msg.ThreadID),
		zap.Int("attachments", len(msg.Attachments)),
	)
	s.observeDelivery(OutcomePersisted)
	return delivery, nil
}

// storeAttachments 并发上传后按部件顺序登记；每个部件独立，失败汇总返回。
func (s *InboundService) storeAttachments(ctx context.Context, msg *domain.Message, parts []mailparse.Part) error {
	if len(parts) == 0 {
		return nil
	}

	urls := make([]string, len(parts))
	errs := make([]error, len(parts))

	var g errgroup.Group
	g.SetLimit(maxConcurrentUploads)
	for i, part := range parts {
		i, part := i, part
		g.Go(func() error {
			url, err := s.blobs.Upload(ctx, part.Filename, part.Content)
			if err != nil {
				errs[i] = fmt.Errorf("upload %q: %w", part.Filename, err)
				s.observeUpload(OutcomeFailed)
				return nil
			}
			urls[i] = url
			s.observeUpload(OutcomeSuccess)
			return nil
		})
	}
	_ = g.Wait()

	for i, part := range parts {
		if errs[i] != nil {
			continue
		}
		att, err := s.messages.AddAttachment(ctx, msg.ID, i, NewAttachment{
			Filename: part.Filename,
			MimeType: part.ContentType,
			Size:     part.Size(),
			URL:      urls[i],
		})
		if err != nil {
			errs[i] = fmt.Errorf("record %q: %w", part.Filename, err)
			continue
		}
		msg.Attachments = append(msg.Attachments, att)
	}
	return errors.Join(errs...)
}

func (s *InboundService) observeDelivery(outcome string) {
	if s.metrics != nil {
		s.metrics.InboundDelivery(outcome)
	}
}

func (s *InboundService) observeUpload(outcome string) {
	if s.metrics != nil {
		s.metrics.AttachmentUpload(outcome)
	}
}
