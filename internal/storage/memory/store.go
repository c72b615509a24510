// Package memory 提供台账的内存存储实现，用于开发模式和测试。
package memory

import (
	"sort"
	"sync"
	"time"

	"mailrelay/backend/internal/domain"
)

// Store 内存存储实现
type Store struct {
	mu sync.RWMutex

	tenants       map[string]*domain.Tenant
	providers     map[string]*domain.Provider
	templates     map[string]*domain.Template
	outbox        map[string]*domain.OutboxMessage
	inbound       map[string]*domain.InboundMessage
	inboundByMID  map[string]string // 服务商消息标识 → 内部 ID
	attachments   map[string][]*domain.Attachment
	webhookEvents map[string]*domain.WebhookEvent
}

// NewStore 创建内存存储实例。
func NewStore() *Store {
	return &Store{
		tenants:       make(map[string]*domain.Tenant),
		providers:     make(map[string]*domain.Provider),
		templates:     make(map[string]*domain.Template),
		outbox:        make(map[string]*domain.OutboxMessage),
		inbound:       make(map[string]*domain.InboundMessage),
		inboundByMID:  make(map[string]string),
		attachments:   make(map[string][]*domain.Attachment),
		webhookEvents: make(map[string]*domain.WebhookEvent),
	}
}

// ========== Tenant Repository ==========

func (s *Store) SaveTenant(tenant *domain.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = time.Now().UTC()
	}
	tenant.UpdatedAt = time.Now().UTC()
	cp := *tenant
	s.tenants[tenant.ID] = &cp
	return nil
}

func (s *Store) GetTenant(id string) (*domain.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, domain.ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

// ========== Provider Repository ==========

func (s *Store) SaveProvider(provider *domain.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if provider.CreatedAt.IsZero() {
		provider.CreatedAt = time.Now().UTC()
	}
	provider.UpdatedAt = time.Now().UTC()
	cp := *provider
	s.providers[provider.ID] = &cp
	return nil
}

func (s *Store) GetProvider(id string) (*domain.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[id]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) ListActiveProvidersByTenant(tenantID string) ([]domain.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Provider
	for _, p := range s.providers {
		if p.IsActive && p.TenantID == tenantID {
			out = append(out, *p)
		}
	}
	sortProviders(out)
	return out, nil
}

func (s *Store) ListActiveProviders() ([]domain.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Provider
	for _, p := range s.providers {
		if p.IsActive {
			out = append(out, *p)
		}
	}
	sortProviders(out)
	return out, nil
}

// sortProviders 按创建时间排序，保证解析优先级的确定性。
func sortProviders(providers []domain.Provider) {
	sort.Slice(providers, func(i, j int) bool {
		if providers[i].CreatedAt.Equal(providers[j].CreatedAt) {
			return providers[i].ID < providers[j].ID
		}
		return providers[i].CreatedAt.Before(providers[j].CreatedAt)
	})
}

// ========== Template Repository ==========

func (s *Store) SaveTemplate(template *domain.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if template.CreatedAt.IsZero() {
		template.CreatedAt = time.Now().UTC()
	}
	template.UpdatedAt = time.Now().UTC()
	cp := *template
	s.templates[template.ID] = &cp
	return nil
}

func (s *Store) GetTemplate(id string) (*domain.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, domain.ErrTemplateNotFound
	}
	cp := *t
	return &cp, nil
}

// ========== Outbox Repository ==========

func (s *Store) CreateOutbox(msg *domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.outbox[msg.ID]; exists {
		return domain.ErrDuplicateMessage
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.UpdatedAt = time.Now().UTC()
	cp := *msg
	s.outbox[msg.ID] = &cp
	return nil
}

func (s *Store) GetOutbox(id string) (*domain.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.outbox[id]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *Store) GetOutboxByProviderMessageID(providerMessageID string) (*domain.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if providerMessageID == "" {
		return nil, domain.ErrMessageNotFound
	}
	for _, m := range s.outbox {
		if m.ProviderMessageID == providerMessageID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, domain.ErrMessageNotFound
}

func (s *Store) UpdateOutbox(msg *domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.outbox[msg.ID]; !ok {
		return domain.ErrMessageNotFound
	}
	msg.UpdatedAt = time.Now().UTC()
	cp := *msg
	s.outbox[msg.ID] = &cp
	return nil
}

func (s *Store) ListOutboxByTenant(tenantID string, limit, offset int) ([]domain.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.OutboxMessage
	for _, m := range s.outbox {
		if m.TenantID == tenantID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, limit, offset), nil
}

// ========== Inbound Repository ==========

func (s *Store) CreateInbound(msg *domain.InboundMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.inboundByMID[msg.MessageID]; exists {
		return domain.ErrDuplicateMessage
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.UpdatedAt = time.Now().UTC()
	cp := *msg
	s.inbound[msg.ID] = &cp
	s.inboundByMID[msg.MessageID] = msg.ID
	return nil
}

func (s *Store) GetInbound(id string) (*domain.InboundMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.inbound[id]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *Store) HasInboundMessageID(messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.inboundByMID[messageID]
	return ok, nil
}

func (s *Store) UpdateInbound(msg *domain.InboundMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inbound[msg.ID]; !ok {
		return domain.ErrMessageNotFound
	}
	msg.UpdatedAt = time.Now().UTC()
	cp := *msg
	s.inbound[msg.ID] = &cp
	return nil
}

func (s *Store) ListInboundByTenant(tenantID string, limit, offset int) ([]domain.InboundMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.InboundMessage
	for _, m := range s.inbound {
		if m.TenantID == tenantID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	return paginate(out, limit, offset), nil
}

// ========== Attachment Repository ==========

func (s *Store) SaveAttachment(att *domain.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if att.CreatedAt.IsZero() {
		att.CreatedAt = time.Now().UTC()
	}
	cp := *att
	key := attachmentKey(att.OwnerType, att.MessageID)
	s.attachments[key] = append(s.attachments[key], &cp)
	return nil
}

func (s *Store) ListAttachments(owner domain.AttachmentOwner, messageID string) ([]domain.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.attachments[attachmentKey(owner, messageID)]
	out := make([]domain.Attachment, 0, len(list))
	for _, a := range list {
		out = append(out, *a)
	}
	return out, nil
}

func attachmentKey(owner domain.AttachmentOwner, messageID string) string {
	return string(owner) + ":" + messageID
}

// ========== WebhookEvent Repository ==========

func (s *Store) SaveWebhookEvent(event *domain.WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	cp := *event
	s.webhookEvents[event.ID] = &cp
	return nil
}

func (s *Store) MarkWebhookEventProcessed(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.webhookEvents[id]
	if !ok {
		return domain.ErrMessageNotFound
	}
	now := time.Now().UTC()
	e.Processed = true
	e.ProcessedAt = &now
	return nil
}

// Ping 健康检查（内存存储永远可用）。
func (s *Store) Ping() error { return nil }

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
