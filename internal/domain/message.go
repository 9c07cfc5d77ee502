package domain

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// MaxSubjectLength 是主题字段的最大字符数（RFC 5322 单行上限）。
const MaxSubjectLength = 998

// HeaderKey 是允许保存的邮件头名称。
type HeaderKey string

// 允许保存的邮件头
const (
	HeaderFrom       HeaderKey = "From"
	HeaderTo         HeaderKey = "To"
	HeaderCc         HeaderKey = "Cc"
	HeaderSubject    HeaderKey = "Subject"
	HeaderDate       HeaderKey = "Date"
	HeaderMessageID  HeaderKey = "Message-ID"
	HeaderInReplyTo  HeaderKey = "In-Reply-To"
	HeaderReferences HeaderKey = "References"
	HeaderReturnPath HeaderKey = "Return-Path"
	HeaderReplyTo    HeaderKey = "Reply-To"
)

// AllowedHeaders 按固定顺序列出需要提取的邮件头。
var AllowedHeaders = []HeaderKey{
	HeaderFrom, HeaderTo, HeaderCc, HeaderSubject, HeaderDate,
	HeaderMessageID, HeaderInReplyTo, HeaderReferences, HeaderReturnPath, HeaderReplyTo,
}

// Headers 是允许列表内邮件头到值的映射，缺失的头不出现。
type Headers map[HeaderKey]string

// Message 表示收件箱内的一封邮件。
//
// 正文、原始邮件只以密文形式持久化。
type Message struct {
	ID                string      `json:"id" gorm:"primaryKey;type:varchar(36)"`
	InboxID           string      `json:"inboxId" gorm:"type:varchar(36);index;not null"`
	FromAddress       string      `json:"from" gorm:"type:varchar(255);index;not null"`
	ToAddress         string      `json:"to" gorm:"type:varchar(255);not null"`
	Subject           string      `json:"subject" gorm:"type:varchar(998);not null;default:''"`
	BodyHTMLEncrypted *Ciphertext `json:"-"`
	BodyTextEncrypted *Ciphertext `json:"-"`
	RawEncrypted      Ciphertext  `json:"-" gorm:"not null"`
	ReceivedAt        time.Time   `json:"receivedAt" gorm:"index;not null"`
	SizeBytes         int64       `json:"sizeBytes" gorm:"not null"`
	HasAttachments    bool        `json:"hasAttachments" gorm:"default:false;not null"`
	IsRead            bool        `json:"isRead" gorm:"default:false;not null"`
	Headers           Headers     `json:"headers" gorm:"type:text;serializer:json"`
	Metadata          Metadata    `json:"metadata" gorm:"type:text;serializer:json"`

	Attachments []Attachment `json:"attachments,omitempty" gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE"`
}

// TableName 指定表名
func (Message) TableName() string {
	return "messages"
}

// Ciphertext 是 Crypto Vault 输出的 base64 密文。
//
// 原始邮件最大可达十余 MB，MySQL 的 TEXT 只有 64KB，因此在 MySQL 上使用 LONGTEXT。
type Ciphertext string

// GormDBDataType 按数据库方言选择列类型
func (Ciphertext) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "mysql" {
		return "LONGTEXT"
	}
	return "TEXT"
}
