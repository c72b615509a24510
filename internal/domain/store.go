package domain

// Store 聚合台账的全部存储接口。
// 实现要求支持并发读写；更新按消息 ID 逐行进行（乐观更新），
// 不依赖跨行事务。
type Store interface {
	// ========== Tenant Repository ==========
	SaveTenant(tenant *Tenant) error
	GetTenant(id string) (*Tenant, error)

	// ========== Provider Repository ==========
	SaveProvider(provider *Provider) error
	GetProvider(id string) (*Provider, error)
	ListActiveProvidersByTenant(tenantID string) ([]Provider, error)
	ListActiveProviders() ([]Provider, error)

	// ========== Template Repository ==========
	SaveTemplate(template *Template) error
	GetTemplate(id string) (*Template, error)

	// ========== Outbox Repository ==========
	CreateOutbox(msg *OutboxMessage) error
	GetOutbox(id string) (*OutboxMessage, error)
	GetOutboxByProviderMessageID(providerMessageID string) (*OutboxMessage, error)
	UpdateOutbox(msg *OutboxMessage) error
	ListOutboxByTenant(tenantID string, limit, offset int) ([]OutboxMessage, error)

	// ========== Inbound Repository ==========
	CreateInbound(msg *InboundMessage) error
	GetInbound(id string) (*InboundMessage, error)
	// HasInboundMessageID 判断服务商消息标识是否已入库（拉取去重）
	HasInboundMessageID(messageID string) (bool, error)
	UpdateInbound(msg *InboundMessage) error
	ListInboundByTenant(tenantID string, limit, offset int) ([]InboundMessage, error)

	// ========== Attachment Repository ==========
	SaveAttachment(att *Attachment) error
	ListAttachments(owner AttachmentOwner, messageID string) ([]Attachment, error)

	// ========== WebhookEvent Repository ==========
	SaveWebhookEvent(event *WebhookEvent) error
	MarkWebhookEventProcessed(id string) error

	// Ping 健康检查
	Ping() error
}
