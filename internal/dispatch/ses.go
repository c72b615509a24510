package dispatch

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"go.uber.org/zap"

	"mailrelay/backend/internal/domain"
)

// SESTransport 通过 AWS SES (SDK v2) 发送。
// 客户端在构造时由服务商配置生成，不依赖进程级 AWS 环境。
//
// 走 SendEmail 的 Simple 内容形态，不携带附件；
// 信封里的附件会被丢弃并记一条告警日志。
type SESTransport struct {
	provider *domain.Provider
	client   *sesv2.Client
	log      *zap.Logger
}

// NewSESTransport 创建 SES 传输。
// 配置键：ses_access_key_id / access_key_id、ses_secret_access_key /
// secret_access_key、ses_region / region（默认 us-east-1）。
func NewSESTransport(provider *domain.Provider, log *zap.Logger) (*SESTransport, error) {
	cfg := provider.Config
	accessKey := cfg.StringOr("ses_access_key_id", "access_key_id", "")
	secretKey := cfg.StringOr("ses_secret_access_key", "secret_access_key", "")
	region := cfg.StringOr("ses_region", "region", "us-east-1")

	if accessKey == "" || secretKey == "" {
		return nil, domain.ConfigurationErrorf("provider %s: ses credentials missing", provider.ID)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, domain.ConfigurationErrorf("provider %s: aws config: %v", provider.ID, err)
	}

	if log == nil {
		log = zap.NewNop()
	}
	return &SESTransport{
		provider: provider,
		client:   sesv2.NewFromConfig(awsCfg),
		log:      log,
	}, nil
}

// Send 通过 SES SendEmail API 发送。
func (t *SESTransport) Send(ctx context.Context, msg *Message) (*Result, error) {
	input := t.buildInput(msg)

	result, err := t.client.SendEmail(ctx, input)
	if err != nil {
		return nil, domain.TransportErrorf("ses send: %v", err)
	}

	messageID := ""
	if result.MessageId != nil {
		messageID = *result.MessageId
	}
	return &Result{
		ProviderMessageID: messageID,
		Response:          "accepted by ses",
	}, nil
}

// buildInput 把传输消息装配成 Simple 形态的 SendEmail 入参。
func (t *SESTransport) buildInput(msg *Message) *sesv2.SendEmailInput {
	if len(msg.Attachments) > 0 {
		t.log.Warn("ses transport dropped attachments",
			zap.String("provider_id", t.provider.ID),
			zap.String("message_id", msg.ID),
			zap.Int("attachments", len(msg.Attachments)),
		)
	}

	from := msg.From
	if msg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", msg.FromName, msg.From)
	}

	body := &types.Body{}
	if msg.HTML != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")}
	}
	if msg.Text != "" {
		body.Text = &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination: &types.Destination{
			ToAddresses:  msg.To,
			CcAddresses:  msg.Cc,
			BccAddresses: msg.Bcc,
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	if addr := t.provider.BounceAddress; addr != "" {
		input.FeedbackForwardingEmailAddress = aws.String(addr)
	}
	return input
}
