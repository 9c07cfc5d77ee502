package domain

import "time"

// MaxFilenameLength 是附件文件名保留的最大字符数。
const MaxFilenameLength = 255

// Attachment 表示邮件附件，内容只以密文保存。
type Attachment struct {
	ID               string     `json:"id" gorm:"primaryKey;type:varchar(36)"`            // 附件唯一标识
	MessageID        string     `json:"messageId" gorm:"type:varchar(36);index;not null"` // 所属邮件ID
	Filename         string     `json:"filename" gorm:"type:varchar(255);not null"`       // 文件名
	ContentType      string     `json:"contentType" gorm:"type:varchar(255);not null"`    // MIME类型
	SizeBytes        int64      `json:"sizeBytes" gorm:"not null"`                        // 明文大小（字节）
	ContentEncrypted Ciphertext `json:"-" gorm:"not null"`                                // 加密后的内容
	CreatedAt        time.Time  `json:"createdAt"`
}

// TableName 指定表名
func (Attachment) TableName() string {
	return "attachments"
}
