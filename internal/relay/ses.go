package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"go.uber.org/zap"

	"freemail/backend/internal/config"
	"freemail/backend/internal/logger"
)

// SendEmailAPI SESv2 SendEmail 操作，测试时可替换。
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESRelay 通过 Amazon SESv2 发送原始 MIME 邮件。
type SESRelay struct {
	client           SendEmailAPI
	configurationSet string
	now              func() time.Time
	log              *zap.Logger
}

// NewSESRelay 按配置加载 AWS 凭证并创建 SES 中继
func NewSESRelay(ctx context.Context, cfg config.RelaySESConfig, log *zap.Logger) (*SESRelay, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSESRelayWithClient(sesv2.NewFromConfig(awsCfg), cfg.ConfigurationSet, log), nil
}

// NewSESRelayWithClient 使用给定客户端创建 SES 中继
func NewSESRelayWithClient(client SendEmailAPI, configurationSet string, log *zap.Logger) *SESRelay {
	return &SESRelay{
		client:           client,
		configurationSet: configurationSet,
		now:              time.Now,
		log:              logger.OrNop(log),
	}
}

// Name 实现 Relay
func (r *SESRelay) Name() string {
	return "ses"
}

// Send 实现 Relay。Bcc 只出现在 Destination 中。
func (r *SESRelay) Send(ctx context.Context, msg *Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	raw, err := Compose(msg, "", r.now())
	if err != nil {
		return fmt.Errorf("compose message: %w", err)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination: &types.Destination{
			ToAddresses:  msg.To,
			CcAddresses:  msg.Cc,
			BccAddresses: msg.Bcc,
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: raw},
		},
	}
	if r.configurationSet != "" {
		input.ConfigurationSetName = aws.String(r.configurationSet)
	}

	out, err := r.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send: %w", err)
	}

	fields := []zap.Field{
		zap.String("relay", r.Name()),
		zap.Int("recipients", len(msg.Envelope())),
		zap.Int("bytes", len(raw)),
	}
	if out != nil && out.MessageId != nil {
		fields = append(fields, zap.String("ses_message_id", *out.MessageId))
	}
	r.log.Info("message relayed", fields...)
	return nil
}
