package domain

import "time"

// Template 表示邮件模板。
// 一旦被已发送的邮件引用即视为不可变：渲染是模板 + 数据的纯函数，
// 保证重试/重发时产出与首次发送完全一致的内容。
type Template struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	TenantID    string    `json:"tenantId" gorm:"type:varchar(36);index;not null"`
	Name        string    `json:"name" gorm:"type:varchar(255);not null"`
	Subject     string    `json:"subject" gorm:"type:varchar(500)"` // 主题模板（支持占位变量）
	BodyHTML    string    `json:"bodyHtml" gorm:"type:text"`        // HTML 正文模板
	BodyText    string    `json:"bodyText" gorm:"type:text"`        // 纯文本正文模板
	Category    string    `json:"category" gorm:"type:varchar(100);index"`
	Language    string    `json:"language" gorm:"type:varchar(10);default:'en'"`
	IsActive    bool      `json:"isActive" gorm:"default:true;index"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
