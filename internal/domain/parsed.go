package domain

// ParsedEmail 是邮件解析器的输出。
//
// HTMLBody 未经过滤，写入存储前必须经过 sanitize。
type ParsedEmail struct {
	Subject     string
	TextBody    *string
	HTMLBody    *string
	Headers     Headers
	Attachments []ParsedAttachment
}

// ParsedAttachment 是解码后的附件明文。
type ParsedAttachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Size 返回附件字节数
func (a ParsedAttachment) Size() int64 {
	return int64(len(a.Content))
}
