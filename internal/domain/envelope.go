package domain

import "time"

// AttachmentSpec 出站信封中的附件描述。
// 内容来源四选一：URL 远程拉取 / 内联 base64 / 原始字节 / 本地文件路径。
type AttachmentSpec struct {
	URL         string `json:"url,omitempty"`
	Content     string `json:"content,omitempty"` // base64 编码的内容
	FilePath    string `json:"file_path,omitempty"`
	StoragePath string `json:"storage_path,omitempty"` // 已入库附件的存储路径
	Filename    string `json:"filename"`
	MimeType    string `json:"mime_type,omitempty"`
}

// OutboundEnvelope 生产者发布到出站队列的消息信封。
// 台账里的 OutboxMessage 行在发布之前就已存在，
// 因此以 message_id 为幂等键的重发/去重始终成立。
type OutboundEnvelope struct {
	MessageID  string   `json:"message_id"`
	TenantID   string   `json:"tenant_id"`
	ProviderID string   `json:"provider_id,omitempty"`
	To         []string `json:"to"`
	Cc         []string `json:"cc,omitempty"`
	Bcc        []string `json:"bcc,omitempty"`
	Subject    string   `json:"subject,omitempty"`

	// 二选一：直接正文，或模板引用
	BodyContent  string         `json:"body_content,omitempty"`
	BodyFormat   BodyFormat     `json:"body_format,omitempty"`
	TemplateID   string         `json:"template_id,omitempty"`
	TemplateData map[string]any `json:"template_data,omitempty"`

	Attachments []AttachmentSpec `json:"attachments,omitempty"`
}

// InboundEnvelope 入站拉取器发布到入站队列的消息信封，
// 供下游消费者（自动化、CRM 同步等）使用。
type InboundEnvelope struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	ProviderID  string     `json:"provider_id"`
	MessageID   string     `json:"message_id"`
	Subject     string     `json:"subject"`
	FromEmail   string     `json:"from_email"`
	FromName    string     `json:"from_name,omitempty"`
	ToEmails    []string   `json:"to_emails"`
	BodyFormat  BodyFormat `json:"body_format"`
	BodyContent string     `json:"body_content,omitempty"`
	IsReply     bool       `json:"is_reply"`
	ThreadID    string     `json:"thread_id,omitempty"`
	ReceivedAt  time.Time  `json:"received_at"`
	Timestamp   time.Time  `json:"timestamp"`
	Type        string     `json:"type"` // 固定为 "inbound_email"
}

// NewInboundEnvelope 从入站邮件构造下游信封。
func NewInboundEnvelope(msg *InboundMessage) *InboundEnvelope {
	return &InboundEnvelope{
		ID:          msg.ID,
		TenantID:    msg.TenantID,
		ProviderID:  msg.ProviderID,
		MessageID:   msg.MessageID,
		Subject:     msg.Subject,
		FromEmail:   msg.FromEmail,
		FromName:    msg.FromName,
		ToEmails:    msg.ToEmails,
		BodyFormat:  msg.BodyFormat,
		BodyContent: msg.BodyContent,
		IsReply:     msg.IsReply,
		ThreadID:    msg.ThreadID,
		ReceivedAt:  msg.ReceivedAt,
		Timestamp:   time.Now().UTC(),
		Type:        "inbound_email",
	}
}
