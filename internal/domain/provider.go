package domain

import (
	"strconv"
	"time"
)

// ProviderKind 投递服务商类型
type ProviderKind string

const (
	ProviderKindSMTP ProviderKind = "smtp" // 标准 SMTP 服务器
	ProviderKindSES  ProviderKind = "ses"  // AWS SES
	ProviderKindNull ProviderKind = "null" // 空实现（测试/演练模式，不真正发送）
)

// Provider 表示租户级别的投递服务商配置。
// 同一个租户可以配置多个服务商；出站投递时按优先级解析（见 provider.Registry），
// 入站拉取时遍历所有配置了邮箱凭证的激活服务商。
type Provider struct {
	ID            string            `json:"id" gorm:"primaryKey;type:varchar(36)"`
	TenantID      string            `json:"tenantId" gorm:"type:varchar(36);index;not null"`
	Name          string            `json:"name" gorm:"type:varchar(255)"`
	Kind          ProviderKind      `json:"kind" gorm:"type:varchar(20);not null"`
	Config        ProviderConfig    `json:"config" gorm:"serializer:json;type:json"`       // 连接配置（主机/端口/凭证/加密方式等）
	Headers       map[string]string `json:"headers" gorm:"serializer:json;type:json"`      // 附加到每封邮件的头部覆盖
	FromEmail     string            `json:"fromEmail" gorm:"type:varchar(255)"`            // 默认发件地址
	FromName      string            `json:"fromName" gorm:"type:varchar(255)"`             // 默认发件人显示名
	BounceAddress string            `json:"bounceAddress" gorm:"type:varchar(255)"`        // 退信地址（Return-Path）
	IsActive      bool              `json:"isActive" gorm:"default:true;index"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// ProviderConfig 服务商连接配置。
// 键支持别名：优先取特定键（如 smtp_host），回退到通用键（如 host），
// 最后使用硬编码默认值。禁止把原始 map 直接传入下层，
// 下层只通过 StringOr/IntOr/BoolOr 取值。
type ProviderConfig map[string]string

// StringOr 按「特定键 → 通用键 → 默认值」的顺序解析字符串配置。
func (c ProviderConfig) StringOr(primary, fallback, def string) string {
	if v, ok := c[primary]; ok && v != "" {
		return v
	}
	if fallback != "" {
		if v, ok := c[fallback]; ok && v != "" {
			return v
		}
	}
	return def
}

// IntOr 按别名顺序解析整数配置，解析失败时返回默认值。
func (c ProviderConfig) IntOr(primary, fallback string, def int) int {
	raw := c.StringOr(primary, fallback, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// BoolOr 按别名顺序解析布尔配置。
func (c ProviderConfig) BoolOr(primary, fallback string, def bool) bool {
	raw := c.StringOr(primary, fallback, "")
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}

// SMTPHost 解析 SMTP 主机（smtp_host → host → ""）。
func (c ProviderConfig) SMTPHost() string { return c.StringOr("smtp_host", "host", "") }

// SMTPPort 解析 SMTP 端口（smtp_port → port → 587）。
func (c ProviderConfig) SMTPPort() int { return c.IntOr("smtp_port", "port", 587) }

// SMTPUsername 解析 SMTP 用户名。
func (c ProviderConfig) SMTPUsername() string { return c.StringOr("smtp_username", "username", "") }

// SMTPPassword 解析 SMTP 密码。
func (c ProviderConfig) SMTPPassword() string { return c.StringOr("smtp_password", "password", "") }

// SMTPEncryption 解析加密方式（ssl/tls/starttls/none）。
func (c ProviderConfig) SMTPEncryption() string {
	return c.StringOr("smtp_encryption", "encryption", "starttls")
}

// MailboxProtocol 入站邮箱协议（imap/pop3），未配置返回空字符串。
func (c ProviderConfig) MailboxProtocol() string { return c.StringOr("mailbox_protocol", "protocol", "") }

// MailboxHost 入站邮箱主机（imap_host → mailbox_host → ""）。
func (c ProviderConfig) MailboxHost() string { return c.StringOr("imap_host", "mailbox_host", "") }

// MailboxPort 入站邮箱端口，默认 IMAPS 993。
func (c ProviderConfig) MailboxPort() int { return c.IntOr("imap_port", "mailbox_port", 993) }

// MailboxUsername 入站邮箱用户名。
func (c ProviderConfig) MailboxUsername() string {
	return c.StringOr("imap_username", "mailbox_username", "")
}

// MailboxPassword 入站邮箱密码。
func (c ProviderConfig) MailboxPassword() string {
	return c.StringOr("imap_password", "mailbox_password", "")
}

// HasMailboxCredentials 判断该服务商是否配置了完整的入站邮箱凭证。
// 缺少任何一项时入站拉取会跳过该服务商（记为 skipped，不算错误）。
func (p *Provider) HasMailboxCredentials() bool {
	return p.Config.MailboxHost() != "" &&
		p.Config.MailboxUsername() != "" &&
		p.Config.MailboxPassword() != ""
}
