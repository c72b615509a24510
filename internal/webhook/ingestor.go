// Package webhook 实现服务商投递事件回调的接收与台账写回。
package webhook

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailrelay/backend/internal/domain"
	"mailrelay/backend/internal/monitoring"
)

// Outcome 一次回调的处理结果。
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"   // 事件已写回台账
	OutcomeNotFound Outcome = "not_found" // 消息标识未知（陈旧/外部回调），未做任何改动
	OutcomeIgnored  Outcome = "ignored"   // 事件类型未知或重复，按无操作处理
)

// sesEnvelope AWS SES 事件信封（SNS 展开后的形态）。
type sesEnvelope struct {
	EventType string `json:"eventType"`
	SES       struct {
		Mail struct {
			MessageID string `json:"messageId"`
			Timestamp string `json:"timestamp"`
		} `json:"mail"`
		Receipt struct {
			Recipients []string `json:"recipients"`
		} `json:"receipt"`
		Bounce struct {
			BounceType    string `json:"bounceType"`
			BounceSubType string `json:"bounceSubType"`
		} `json:"bounce"`
		Complaint struct {
			ComplaintFeedbackType string `json:"complaintFeedbackType"`
		} `json:"complaint"`
	} `json:"ses"`
}

// genericEnvelope 通用回调格式，兼容两套键名风格。
type genericEnvelope struct {
	EventType   string `json:"event_type"`
	Type        string `json:"Type"`
	Recipient   string `json:"recipient"`
	Email       string `json:"Email"`
	MessageID1  string `json:"message_id"`
	MessageID2  string `json:"MessageID"`
	Timestamp   string `json:"timestamp"`
	DeliveredAt string `json:"DeliveredAt"`
	Reason      string `json:"reason"`
	Description string `json:"Description"`
}

// event 归一化后的投递事件。
type event struct {
	Type      domain.WebhookEventType
	MessageID string
	Recipient string
	Reason    string
	At        time.Time
}

// Ingestor 回调接收器：解析服务商事件并写回出站台账。
type Ingestor struct {
	store   domain.Store
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// NewIngestor 创建回调接收器。
func NewIngestor(store domain.Store, metrics *monitoring.Metrics, log *zap.Logger) *Ingestor {
	return &Ingestor{store: store, metrics: metrics, log: log}
}

// Ingest 处理一条回调报文。
// 未知消息标识返回 OutcomeNotFound 而不是错误：
// 陈旧或他人系统的回调是预期情况。
// 所有能解析的事件无论结局都会落入 WebhookEvent 审计账。
func (i *Ingestor) Ingest(payload []byte) (Outcome, error) {
	ev, err := parseEvent(payload)
	if err != nil {
		i.metrics.WebhookUnknownTotal.Inc()
		return OutcomeIgnored, err
	}
	if ev.Type == "" {
		i.metrics.WebhookUnknownTotal.Inc()
		i.log.Info("unknown webhook event type ignored")
		i.audit(ev, payload, false)
		return OutcomeIgnored, nil
	}

	i.metrics.WebhookEventsTotal.WithLabelValues(string(ev.Type)).Inc()

	if ev.MessageID == "" {
		i.audit(ev, payload, false)
		return OutcomeNotFound, nil
	}

	msg, err := i.store.GetOutboxByProviderMessageID(ev.MessageID)
	if err != nil {
		i.log.Info("webhook for unknown message id, ignored",
			zap.String("provider_message_id", ev.MessageID),
			zap.String("event_type", string(ev.Type)),
		)
		i.audit(ev, payload, false)
		return OutcomeNotFound, nil
	}

	changed := applyEvent(msg, ev)
	if changed {
		if err := i.store.UpdateOutbox(msg); err != nil {
			i.audit(ev, payload, false)
			return OutcomeApplied, err
		}
	}

	i.audit(ev, payload, true)
	i.log.Info("webhook event applied",
		zap.String("message_id", msg.ID),
		zap.String("event_type", string(ev.Type)),
		zap.String("status", string(msg.Status)),
		zap.Bool("changed", changed),
	)
	return OutcomeApplied, nil
}

// applyEvent 按固定映射表把事件写到台账行上。
// 幂等：同一事件应用两次得到同一终局。
// Open/Click 只补时间戳，绝不回退已有终态。
func applyEvent(msg *domain.OutboxMessage, ev *event) bool {
	at := ev.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	switch ev.Type {
	case domain.WebhookEventBounce:
		if msg.Status == domain.OutboxStatusBounced {
			return false
		}
		msg.Status = domain.OutboxStatusBounced
		msg.BounceReason = ev.Reason
		msg.BouncedAt = &at
		return true

	case domain.WebhookEventComplaint:
		if msg.Status == domain.OutboxStatusComplained {
			return false
		}
		msg.Status = domain.OutboxStatusComplained
		msg.BounceReason = ev.Reason
		return true

	case domain.WebhookEventDelivery:
		changed := false
		if msg.Status.CanTransitionTo(domain.OutboxStatusDelivered) {
			msg.Status = domain.OutboxStatusDelivered
			changed = true
		}
		if msg.DeliveredAt == nil || !msg.DeliveredAt.Equal(at) {
			msg.DeliveredAt = &at
			changed = true
		}
		return changed

	case domain.WebhookEventOpen:
		if msg.OpenedAt != nil {
			return false
		}
		msg.OpenedAt = &at
		return true

	case domain.WebhookEventClick:
		if msg.ClickedAt != nil {
			return false
		}
		msg.ClickedAt = &at
		return true
	}
	return false
}

// parseEvent 解析回调报文：先按 SES 信封，再退到通用格式。
func parseEvent(payload []byte) (*event, error) {
	var ses sesEnvelope
	if err := json.Unmarshal(payload, &ses); err != nil {
		return nil, domain.ParseErrorf("webhook payload: %v", err)
	}

	if ses.EventType != "" && ses.SES.Mail.MessageID != "" {
		ev := &event{
			Type:      mapEventType(ses.EventType),
			MessageID: ses.SES.Mail.MessageID,
		}
		if len(ses.SES.Receipt.Recipients) > 0 {
			ev.Recipient = ses.SES.Receipt.Recipients[0]
		}
		if t, err := time.Parse(time.RFC3339, ses.SES.Mail.Timestamp); err == nil {
			ev.At = t
		}
		switch ev.Type {
		case domain.WebhookEventBounce:
			ev.Reason = strings.TrimSpace(ses.SES.Bounce.BounceType + " " + ses.SES.Bounce.BounceSubType)
		case domain.WebhookEventComplaint:
			ev.Reason = ses.SES.Complaint.ComplaintFeedbackType
		}
		return ev, nil
	}

	var gen genericEnvelope
	if err := json.Unmarshal(payload, &gen); err != nil {
		return nil, domain.ParseErrorf("webhook payload: %v", err)
	}
	ev := &event{
		Type:      mapEventType(firstNonEmpty(gen.EventType, gen.Type)),
		MessageID: firstNonEmpty(gen.MessageID1, gen.MessageID2),
		Recipient: firstNonEmpty(gen.Recipient, gen.Email),
		Reason:    firstNonEmpty(gen.Reason, gen.Description),
	}
	if ts := firstNonEmpty(gen.Timestamp, gen.DeliveredAt); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			ev.At = t
		}
	}
	return ev, nil
}

// mapEventType 服务商事件名 → 内部事件类型。未知类型映射为空。
func mapEventType(raw string) domain.WebhookEventType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "bounce", "bounced":
		return domain.WebhookEventBounce
	case "complaint", "complained", "spam":
		return domain.WebhookEventComplaint
	case "delivery", "delivered":
		return domain.WebhookEventDelivery
	case "open", "opened":
		return domain.WebhookEventOpen
	case "click", "clicked":
		return domain.WebhookEventClick
	}
	return ""
}

// audit 把事件落入审计账。失败只记日志，不影响回调结果。
func (i *Ingestor) audit(ev *event, payload []byte, processed bool) {
	row := &domain.WebhookEvent{
		ID:         uuid.NewString(),
		EventType:  ev.Type,
		Recipient:  ev.Recipient,
		MessageID:  ev.MessageID,
		Reason:     ev.Reason,
		RawPayload: string(payload),
		Processed:  processed,
		EventAt:    ev.At,
	}
	if processed {
		now := time.Now().UTC()
		row.ProcessedAt = &now
	}
	if err := i.store.SaveWebhookEvent(row); err != nil {
		i.log.Warn("webhook audit persist failed", zap.Error(err))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
