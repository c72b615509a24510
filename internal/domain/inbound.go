package domain

import "time"

// InboundStatus 入站邮件状态。
// new → processed → queued → delivered；发布失败时 → failed。
type InboundStatus string

const (
	InboundStatusNew       InboundStatus = "new"       // 已拉取并解析入库
	InboundStatusProcessed InboundStatus = "processed" // 分类/线程归并完成
	InboundStatusQueued    InboundStatus = "queued"    // 已发布到入站队列
	InboundStatusDelivered InboundStatus = "delivered" // 下游消费者已确认
	InboundStatusFailed    InboundStatus = "failed"    // 发布失败（记录错误，下个周期重试）
)

// InboundMessage 表示一封从服务商邮箱拉取的入站邮件。
//
// 不变式：MessageID（服务商分配的消息标识）在整个入站台账中唯一，
// 对同一封邮件的第二次拉取必须是无操作（幂等去重）。
type InboundMessage struct {
	ID         string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	TenantID   string `json:"tenantId" gorm:"type:varchar(36);index;not null"`
	ProviderID string `json:"providerId" gorm:"type:varchar(36);index;not null"`

	// 服务商消息标识（Message-ID 头），全局去重键
	MessageID  string `json:"messageId" gorm:"type:varchar(255);uniqueIndex;not null"`
	InReplyTo  string `json:"inReplyTo,omitempty" gorm:"type:varchar(255);index"`
	References string `json:"references,omitempty" gorm:"type:text"`
	ThreadID   string `json:"threadId,omitempty" gorm:"type:varchar(255);index"`

	Subject   string   `json:"subject" gorm:"type:varchar(998)"`
	FromEmail string   `json:"fromEmail" gorm:"type:varchar(255);index"`
	FromName  string   `json:"fromName" gorm:"type:varchar(255)"`
	ToEmails  []string `json:"toEmails" gorm:"serializer:json;type:json"`
	CcEmails  []string `json:"ccEmails,omitempty" gorm:"serializer:json;type:json"`
	BccEmails []string `json:"bccEmails,omitempty" gorm:"serializer:json;type:json"`

	BodyContent string     `json:"bodyContent,omitempty" gorm:"type:text"`
	BodyFormat  BodyFormat `json:"bodyFormat" gorm:"type:varchar(10);default:'text'"`

	IsReply     bool `json:"isReply" gorm:"default:false;index"`
	IsForward   bool `json:"isForward" gorm:"default:false"`
	IsAutoReply bool `json:"isAutoReply" gorm:"default:false"`

	Status       InboundStatus `json:"status" gorm:"type:varchar(20);index;default:'new'"`
	ErrorMessage string        `json:"errorMessage,omitempty" gorm:"type:text"`
	RetryCount   int           `json:"retryCount" gorm:"default:0"`

	ReceivedAt time.Time `json:"receivedAt"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
