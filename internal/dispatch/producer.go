package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailrelay/backend/internal/domain"
	"mailrelay/backend/internal/monitoring"
	"mailrelay/backend/internal/queue"
)

// EnqueueInput 出站发送请求。
type EnqueueInput struct {
	TenantID     string
	ProviderID   string
	UserID       string
	To           []string
	Cc           []string
	Bcc          []string
	Subject      string
	BodyContent  string
	BodyFormat   domain.BodyFormat
	TemplateID   string
	TemplateData map[string]any
	Attachments  []domain.AttachmentSpec
	Metadata     map[string]any
}

// Producer 出站生产者：创建台账行并发布到出站队列。
type Producer struct {
	store   domain.Store
	queue   queue.Queue
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// NewProducer 创建出站生产者。
func NewProducer(store domain.Store, q queue.Queue, metrics *monitoring.Metrics, log *zap.Logger) *Producer {
	return &Producer{store: store, queue: q, metrics: metrics, log: log}
}

// Enqueue 受理一条发送请求：校验、落账（pending）、发布、推进到 queued。
// 台账行先于队列发布存在，调度器消费重复投递时以此行判重。
func (p *Producer) Enqueue(ctx context.Context, input EnqueueInput) (*domain.OutboxMessage, error) {
	if input.TenantID == "" {
		return nil, domain.ValidationErrorf("tenant_id is required")
	}
	if err := domain.ValidateRecipients(input.To, input.Cc, input.Bcc); err != nil {
		return nil, err
	}
	if input.BodyContent == "" && input.TemplateID == "" {
		return nil, domain.ValidationErrorf("either body_content or template_id is required")
	}

	format := input.BodyFormat
	if format == "" {
		format = domain.BodyFormatHTML
	}

	msg := &domain.OutboxMessage{
		ID:           uuid.NewString(),
		TenantID:     input.TenantID,
		To:           input.To,
		Cc:           input.Cc,
		Bcc:          input.Bcc,
		Subject:      input.Subject,
		BodyFormat:   format,
		TemplateData: input.TemplateData,
		Metadata:     input.Metadata,
		Status:       domain.OutboxStatusPending,
	}
	if input.BodyContent != "" {
		msg.BodyContent = &input.BodyContent
	}
	if input.TemplateID != "" {
		msg.TemplateID = &input.TemplateID
	}
	if input.UserID != "" {
		msg.UserID = &input.UserID
	}
	if input.ProviderID != "" {
		msg.ProviderID = &input.ProviderID
	}

	if err := p.store.CreateOutbox(msg); err != nil {
		return nil, err
	}

	env := &domain.OutboundEnvelope{
		MessageID:    msg.ID,
		TenantID:     msg.TenantID,
		ProviderID:   input.ProviderID,
		To:           msg.To,
		Cc:           msg.Cc,
		Bcc:          msg.Bcc,
		Subject:      msg.Subject,
		BodyContent:  input.BodyContent,
		BodyFormat:   format,
		TemplateID:   input.TemplateID,
		TemplateData: input.TemplateData,
		Attachments:  input.Attachments,
	}
	if err := p.publish(ctx, msg, env); err != nil {
		return msg, err
	}

	p.metrics.OutboundEnqueued.Inc()
	p.log.Info("message enqueued",
		zap.String("message_id", msg.ID),
		zap.String("tenant_id", msg.TenantID),
		zap.Int("recipients", len(msg.To)+len(msg.Cc)+len(msg.Bcc)),
	)
	return msg, nil
}

// Resend 人工重发一条失败的消息。
// 只允许 failed 状态重发；retry_count 仅在这里递增。
func (p *Producer) Resend(ctx context.Context, messageID string) (*domain.OutboxMessage, error) {
	msg, err := p.store.GetOutbox(messageID)
	if err != nil {
		return nil, err
	}
	if msg.Status != domain.OutboxStatusFailed {
		return nil, domain.ValidationErrorf("message %s is %s, only failed messages can be resent", msg.ID, msg.Status)
	}

	msg.Status = domain.OutboxStatusPending
	msg.RetryCount++
	msg.ErrorMessage = ""
	if err := p.store.UpdateOutbox(msg); err != nil {
		return nil, err
	}

	env := &domain.OutboundEnvelope{
		MessageID:    msg.ID,
		TenantID:     msg.TenantID,
		To:           msg.To,
		Cc:           msg.Cc,
		Bcc:          msg.Bcc,
		Subject:      msg.Subject,
		BodyFormat:   msg.BodyFormat,
		TemplateData: msg.TemplateData,
	}
	if msg.ProviderID != nil {
		env.ProviderID = *msg.ProviderID
	}
	if msg.BodyContent != nil {
		env.BodyContent = *msg.BodyContent
	}
	if msg.TemplateID != nil {
		env.TemplateID = *msg.TemplateID
	}
	// 已入库的附件按存储路径随信封重新加载
	if attachments, err := p.store.ListAttachments(domain.AttachmentOwnerOutbound, msg.ID); err == nil {
		for _, att := range attachments {
			if att.StoragePath == "" {
				continue
			}
			env.Attachments = append(env.Attachments, domain.AttachmentSpec{
				StoragePath: att.StoragePath,
				Filename:    att.Filename,
				MimeType:    att.ContentType,
			})
		}
	}

	if err := p.publish(ctx, msg, env); err != nil {
		return msg, err
	}

	p.metrics.OutboundResent.Inc()
	p.log.Info("message resent",
		zap.String("message_id", msg.ID),
		zap.Int("retry_count", msg.RetryCount),
	)
	return msg, nil
}

// publish 发布信封并把台账行推进到 queued。
// 发布失败时行保持 pending，留给人工重发兜底。
func (p *Producer) publish(ctx context.Context, msg *domain.OutboxMessage, env *domain.OutboundEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := p.queue.Publish(ctx, payload); err != nil {
		p.log.Error("queue publish failed",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return domain.TransportErrorf("queue publish: %v", err)
	}

	now := time.Now().UTC()
	msg.Status = domain.OutboxStatusQueued
	msg.QueuedAt = &now
	return p.store.UpdateOutbox(msg)
}
