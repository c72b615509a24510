// Package postgres 提供台账的数据库存储实现。
// 通过 GORM dialector 同时支持 PostgreSQL 和 MySQL。
package postgres

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mailrelay/backend/internal/domain"
)

// Store 数据库存储实现
type Store struct {
	db *gorm.DB
}

// NewStore 创建 PostgreSQL 存储实例。
func NewStore(dsn string) (*Store, error) {
	return NewStoreWithDialector(postgres.Open(dsn))
}

// NewMySQLStore 创建 MySQL 存储实例。
func NewMySQLStore(dsn string) (*Store, error) {
	return NewStoreWithDialector(mysql.Open(dsn))
}

// NewStoreWithDialector 使用指定的 GORM dialector 创建存储实例。
func NewStoreWithDialector(dialector gorm.Dialector) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	return &Store{db: db}, nil
}

// AutoMigrate 建表/迁移台账 schema。
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(
		&domain.Tenant{},
		&domain.Provider{},
		&domain.Template{},
		&domain.OutboxMessage{},
		&domain.InboundMessage{},
		&domain.Attachment{},
		&domain.WebhookEvent{},
	)
}

// ========== Tenant Repository ==========

func (s *Store) SaveTenant(tenant *domain.Tenant) error {
	return s.db.Save(tenant).Error
}

func (s *Store) GetTenant(id string) (*domain.Tenant, error) {
	var t domain.Tenant
	if err := s.db.First(&t, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTenantNotFound
		}
		return nil, err
	}
	return &t, nil
}

// ========== Provider Repository ==========

func (s *Store) SaveProvider(provider *domain.Provider) error {
	return s.db.Save(provider).Error
}

func (s *Store) GetProvider(id string) (*domain.Provider, error) {
	var p domain.Provider
	if err := s.db.First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrProviderNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListActiveProvidersByTenant(tenantID string) ([]domain.Provider, error) {
	var out []domain.Provider
	err := s.db.
		Where("tenant_id = ? AND is_active = ?", tenantID, true).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

func (s *Store) ListActiveProviders() ([]domain.Provider, error) {
	var out []domain.Provider
	err := s.db.
		Where("is_active = ?", true).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// ========== Template Repository ==========

func (s *Store) SaveTemplate(template *domain.Template) error {
	return s.db.Save(template).Error
}

func (s *Store) GetTemplate(id string) (*domain.Template, error) {
	var t domain.Template
	if err := s.db.First(&t, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTemplateNotFound
		}
		return nil, err
	}
	return &t, nil
}

// ========== Outbox Repository ==========

func (s *Store) CreateOutbox(msg *domain.OutboxMessage) error {
	err := s.db.Create(msg).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrDuplicateMessage
	}
	return err
}

func (s *Store) GetOutbox(id string) (*domain.OutboxMessage, error) {
	var m domain.OutboxMessage
	if err := s.db.First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (s *Store) GetOutboxByProviderMessageID(providerMessageID string) (*domain.OutboxMessage, error) {
	if providerMessageID == "" {
		return nil, domain.ErrMessageNotFound
	}
	var m domain.OutboxMessage
	if err := s.db.First(&m, "provider_message_id = ?", providerMessageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, err
	}
	return &m, nil
}

// UpdateOutbox 按消息 ID 整行保存（乐观的逐行更新，不做跨行事务）。
func (s *Store) UpdateOutbox(msg *domain.OutboxMessage) error {
	result := s.db.Model(&domain.OutboxMessage{}).Where("id = ?", msg.ID).Select("*").Updates(msg)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

func (s *Store) ListOutboxByTenant(tenantID string, limit, offset int) ([]domain.OutboxMessage, error) {
	var out []domain.OutboxMessage
	q := s.db.Where("tenant_id = ?", tenantID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Offset(offset).Find(&out).Error
	return out, err
}

// ========== Inbound Repository ==========

func (s *Store) CreateInbound(msg *domain.InboundMessage) error {
	err := s.db.Create(msg).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrDuplicateMessage
	}
	return err
}

func (s *Store) GetInbound(id string) (*domain.InboundMessage, error) {
	var m domain.InboundMessage
	if err := s.db.First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (s *Store) HasInboundMessageID(messageID string) (bool, error) {
	var count int64
	err := s.db.Model(&domain.InboundMessage{}).
		Where("message_id = ?", messageID).
		Count(&count).Error
	return count > 0, err
}

func (s *Store) UpdateInbound(msg *domain.InboundMessage) error {
	result := s.db.Model(&domain.InboundMessage{}).Where("id = ?", msg.ID).Select("*").Updates(msg)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

func (s *Store) ListInboundByTenant(tenantID string, limit, offset int) ([]domain.InboundMessage, error) {
	var out []domain.InboundMessage
	q := s.db.Where("tenant_id = ?", tenantID).Order("received_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Offset(offset).Find(&out).Error
	return out, err
}

// ========== Attachment Repository ==========

func (s *Store) SaveAttachment(att *domain.Attachment) error {
	return s.db.Save(att).Error
}

func (s *Store) ListAttachments(owner domain.AttachmentOwner, messageID string) ([]domain.Attachment, error) {
	var out []domain.Attachment
	err := s.db.
		Where("owner_type = ? AND message_id = ?", owner, messageID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

// ========== WebhookEvent Repository ==========

func (s *Store) SaveWebhookEvent(event *domain.WebhookEvent) error {
	return s.db.Save(event).Error
}

func (s *Store) MarkWebhookEventProcessed(id string) error {
	now := time.Now().UTC()
	result := s.db.Model(&domain.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{"processed": true, "processed_at": &now})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

// Ping 健康检查。
func (s *Store) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
