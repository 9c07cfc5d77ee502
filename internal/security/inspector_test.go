package security

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/SandeepBunny16/secure-tempmail/internal/domain"
)

func strPtr(s string) *string { return &s }

func TestInspector_Inspect(t *testing.T) {
	in := NewInspector()

	t.Run("正常邮件无标记", func(t *testing.T) {
		meta := in.Inspect(&domain.ParsedEmail{
			Subject:  "Your verification code",
			TextBody: strPtr("Code: 482913"),
		})
		assert.Empty(t, meta)
	})

	t.Run("HTML中的脚本标记为恶意", func(t *testing.T) {
		meta := in.Inspect(&domain.ParsedEmail{
			HTMLBody: strPtr("<p>hi</p><script>\nalert(1)\n</script>"),
		})
		assert.Equal(t, "malicious", meta[domain.MetaContentFlag])
	})

	t.Run("多个垃圾关键词标记为垃圾邮件", func(t *testing.T) {
		meta := in.Inspect(&domain.ParsedEmail{
			Subject:  "Congratulations WINNER",
			TextBody: strPtr("Claim your lottery prize, act now"),
		})
		assert.Equal(t, "spam", meta[domain.MetaContentFlag])
	})

	t.Run("危险附件按名称排序记录", func(t *testing.T) {
		meta := in.Inspect(&domain.ParsedEmail{
			Attachments: []domain.ParsedAttachment{
				{Filename: "setup.EXE", Content: []byte("x")},
				{Filename: "invoice.pdf", Content: []byte("%PDF-1.7")},
				{Filename: "report.txt", Content: []byte{0x7F, 0x45, 0x4C, 0x46, 0x02}},
			},
		})
		assert.Equal(t, "report.txt,setup.EXE", meta[domain.MetaFlaggedAttachments])
		assert.NotContains(t, meta, domain.MetaContentFlag)
	})
}
