package domain

import "time"

// OutboxStatus 出站邮件状态。
//
// 状态机：pending → queued → processing → sent | failed。
// sent 之后还可能收到服务商的异步反馈：
// sent → delivered / bounced / complained（由 Webhook 写回）。
// failed → pending 是唯一允许的人工回退（重发，retry_count + 1）。
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"    // 已创建，等待入队
	OutboxStatusQueued     OutboxStatus = "queued"     // 已发布到出站队列
	OutboxStatusProcessing OutboxStatus = "processing" // 被某个 worker 认领，发送中
	OutboxStatusSent       OutboxStatus = "sent"       // 服务商已接受（不等于最终送达）
	OutboxStatusFailed     OutboxStatus = "failed"     // 发送失败（可人工重发）
	OutboxStatusDelivered  OutboxStatus = "delivered"  // Webhook 确认送达
	OutboxStatusBounced    OutboxStatus = "bounced"    // Webhook 确认退信
	OutboxStatusComplained OutboxStatus = "complained" // Webhook 收到投诉
)

// outboxTransitions 合法的状态迁移表。
// 状态只能沿表内方向前进；唯一的人工回退是 failed → pending（重发）。
var outboxTransitions = map[OutboxStatus][]OutboxStatus{
	OutboxStatusPending:    {OutboxStatusQueued},
	OutboxStatusQueued:     {OutboxStatusProcessing},
	OutboxStatusProcessing: {OutboxStatusSent, OutboxStatusFailed},
	OutboxStatusSent:       {OutboxStatusDelivered, OutboxStatusBounced, OutboxStatusComplained},
	OutboxStatusDelivered:  {OutboxStatusBounced, OutboxStatusComplained},
	OutboxStatusFailed:     {OutboxStatusPending},
}

// CanTransitionTo 判断从当前状态迁移到目标状态是否合法。
func (s OutboxStatus) CanTransitionTo(next OutboxStatus) bool {
	for _, allowed := range outboxTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal 判断是否为终态（不再被调度器处理）。
func (s OutboxStatus) IsTerminal() bool {
	switch s {
	case OutboxStatusSent, OutboxStatusFailed, OutboxStatusDelivered,
		OutboxStatusBounced, OutboxStatusComplained:
		return true
	}
	return false
}

// BodyFormat 正文格式
type BodyFormat string

const (
	BodyFormatEML  BodyFormat = "eml"  // 原始 RFC-822 内容
	BodyFormatText BodyFormat = "text" // 纯文本
	BodyFormatHTML BodyFormat = "html" // HTML
	BodyFormatJSON BodyFormat = "json" // 结构化内容（由模板在发送时展开）
)

// OutboxMessage 表示一封出站邮件，是调度器状态机的核心实体。
//
// 不变式：body_content 只有在 status ∈ {pending, queued} 且设置了
// template_id 时才允许为空（内容在发送时由模板合成）；
// 一旦 status = sent，body_content 即为实际发出的内容。
type OutboxMessage struct {
	ID         string   `json:"id" gorm:"primaryKey;type:varchar(36)"`
	TenantID   string   `json:"tenantId" gorm:"type:varchar(36);index;not null"`
	ProviderID *string  `json:"providerId,omitempty" gorm:"type:varchar(36);index"`
	UserID     *string  `json:"userId,omitempty" gorm:"type:varchar(36);index"`
	To         []string `json:"to" gorm:"serializer:json;type:json"`
	Cc         []string `json:"cc,omitempty" gorm:"serializer:json;type:json"`
	Bcc        []string `json:"bcc,omitempty" gorm:"serializer:json;type:json"`
	Subject    string   `json:"subject" gorm:"type:varchar(998)"`

	BodyContent *string    `json:"bodyContent,omitempty" gorm:"type:text"`
	BodyFormat  BodyFormat `json:"bodyFormat" gorm:"type:varchar(10);default:'html'"`

	TemplateID   *string        `json:"templateId,omitempty" gorm:"type:varchar(36);index"`
	TemplateData map[string]any `json:"templateData,omitempty" gorm:"serializer:json;type:json"`

	Status       OutboxStatus `json:"status" gorm:"type:varchar(20);index;default:'pending'"`
	ErrorMessage string       `json:"errorMessage,omitempty" gorm:"type:text"`
	RetryCount   int          `json:"retryCount" gorm:"default:0"`

	// 服务商侧的消息标识，Webhook 回调用它反查这条记录
	ProviderMessageID string `json:"providerMessageId,omitempty" gorm:"type:varchar(255);index"`
	ProviderResponse  string `json:"providerResponse,omitempty" gorm:"type:text"`
	BounceReason      string `json:"bounceReason,omitempty" gorm:"type:text"`

	Metadata map[string]any `json:"metadata,omitempty" gorm:"serializer:json;type:json"`

	QueuedAt         *time.Time `json:"queuedAt,omitempty"`
	ProcessingAt     *time.Time `json:"processingAt,omitempty"`
	SentAt           *time.Time `json:"sentAt,omitempty"`
	DeliveredAt      *time.Time `json:"deliveredAt,omitempty"`
	BouncedAt        *time.Time `json:"bouncedAt,omitempty"`
	OpenedAt         *time.Time `json:"openedAt,omitempty"`
	ClickedAt        *time.Time `json:"clickedAt,omitempty"`
	ProcessingTimeMs int64      `json:"processingTimeMs"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AllRecipients 合并 to/cc/bcc 为一个收件人列表（投递用，顺序保留）。
func (m *OutboxMessage) AllRecipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	out = append(out, m.To...)
	out = append(out, m.Cc...)
	out = append(out, m.Bcc...)
	return out
}
