package domain

import "time"

// AttachmentOwner 附件归属类型。
// 一个附件只属于一封出站或入站邮件，由类型标记区分，绝不同时属于两者。
type AttachmentOwner string

const (
	AttachmentOwnerOutbound AttachmentOwner = "outbound"
	AttachmentOwnerInbound  AttachmentOwner = "inbound"
)

// Attachment 表示邮件附件。
// 内容本体存放在文件存储中（按 SHA-256 内容寻址），台账只记录元数据。
type Attachment struct {
	ID          string          `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OwnerType   AttachmentOwner `json:"ownerType" gorm:"type:varchar(10);index:idx_attachment_owner;not null"`
	MessageID   string          `json:"messageId" gorm:"type:varchar(36);index:idx_attachment_owner;not null"`
	Filename    string          `json:"filename" gorm:"type:varchar(255)"`
	ContentType string          `json:"contentType" gorm:"type:varchar(100)"`
	StoragePath string          `json:"storagePath,omitempty" gorm:"type:varchar(500)"`
	Size        int64           `json:"size"`
	ContentHash string          `json:"contentHash,omitempty" gorm:"type:varchar(64)"` // SHA-256 十六进制
	ContentID   string          `json:"contentId,omitempty" gorm:"type:varchar(255)"`  // 内联引用（cid:）
	Content     []byte          `json:"-" gorm:"-"`                                    // 附件内容（不入库，从文件存储加载）
	CreatedAt   time.Time       `json:"createdAt"`
}
