package domain

import "time"

// WebhookEventType 服务商投递事件类型
type WebhookEventType string

const (
	WebhookEventBounce    WebhookEventType = "bounce"    // 退信
	WebhookEventComplaint WebhookEventType = "complaint" // 投诉（标记为垃圾邮件）
	WebhookEventDelivery  WebhookEventType = "delivery"  // 送达确认
	WebhookEventOpen      WebhookEventType = "open"      // 打开
	WebhookEventClick     WebhookEventType = "click"     // 点击
)

// WebhookEvent 表示一次服务商投递事件回调。
// 创建后除 Processed/ProcessedAt 外不可变，原始报文原样保留以便审计。
type WebhookEvent struct {
	ID          string           `json:"id" gorm:"primaryKey;type:varchar(36)"`
	EventType   WebhookEventType `json:"eventType" gorm:"type:varchar(20);index;not null"`
	Recipient   string           `json:"recipient" gorm:"type:varchar(255);index"`
	MessageID   string           `json:"messageId" gorm:"type:varchar(255);index"` // 服务商消息标识
	Reason      string           `json:"reason,omitempty" gorm:"type:text"`        // 退信/投诉原因或子类型
	RawPayload  string           `json:"rawPayload,omitempty" gorm:"type:text"`
	Processed   bool             `json:"processed" gorm:"default:false;index"`
	ProcessedAt *time.Time       `json:"processedAt,omitempty"`
	EventAt     time.Time        `json:"eventAt"`
	CreatedAt   time.Time        `json:"createdAt"`
}
