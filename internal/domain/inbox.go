package domain

import "time"

// MetadataKey 是收件箱与邮件元数据允许使用的键。
type MetadataKey string

// 元数据键
const (
	MetaRemoteAddr         MetadataKey = "remote_addr"
	MetaHelo               MetadataKey = "helo"
	MetaAttachmentCount    MetadataKey = "attachment_count"
	MetaContentFlag        MetadataKey = "content_flag"
	MetaFlaggedAttachments MetadataKey = "flagged_attachments"
	MetaCreatedBy          MetadataKey = "created_by"
)

// Metadata 是固定键集合到字符串的映射，以 JSON 存储。
type Metadata map[MetadataKey]string

// Inbox 表示一个临时收件箱。
//
// 地址在所有未清除的收件箱中唯一；ExpiresAt 之后由清理任务删除。
type Inbox struct {
	ID           string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Address      string    `json:"address" gorm:"type:varchar(255);uniqueIndex;not null"`
	CreatedAt    time.Time `json:"createdAt" gorm:"not null"`
	ExpiresAt    time.Time `json:"expiresAt" gorm:"index;not null"`
	IsActive     bool      `json:"isActive" gorm:"default:true;index;not null"`
	MessageCount int       `json:"messageCount" gorm:"default:0;not null"`
	Metadata     Metadata  `json:"metadata" gorm:"type:text;serializer:json"`

	Messages []Message `json:"-" gorm:"foreignKey:InboxID;constraint:OnDelete:CASCADE"`
}

// TableName 指定表名
func (Inbox) TableName() string {
	return "inboxes"
}

// IsExpired 判断收件箱在给定时刻是否已过期
func (i *Inbox) IsExpired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

// Remaining 返回收件箱剩余生存时间，过期后为 0
func (i *Inbox) Remaining(now time.Time) time.Duration {
	if d := i.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
