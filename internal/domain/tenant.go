package domain

import "time"

// Tenant 表示一个租户。
// 租户是系统的隔离单位：每个租户拥有自己的投递服务商、
// 发件记录和收件记录，删除租户时级联删除其全部数据。
type Tenant struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name      string    `json:"name" gorm:"type:varchar(255);not null"`
	IsActive  bool      `json:"isActive" gorm:"default:true;index"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
