package smtp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SandeepBunny16/secure-tempmail/internal/domain"
)

func crlf(lines ...string) []byte {
	return []byte(strings.Join(lines, "\r\n"))
}

func invoiceMail() []byte {
	return crlf(
		"From: Billing <billing@example.com>",
		"To: tmp_abc@drop.example",
		"Subject: Your invoice",
		"Date: Mon, 02 Jan 2006 15:04:05 +0000",
		"Message-ID: <inv-1@example.com>",
		"X-Mailer: test",
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="outer"`,
		"",
		"--outer",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Please find the invoice attached.",
		"--outer",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>Please find the <b>invoice</b> attached.</p>",
		"--outer",
		`Content-Type: application/pdf; name="invoice.pdf"`,
		`Content-Disposition: attachment; filename="invoice.pdf"`,
		"Content-Transfer-Encoding: base64",
		"",
		"JVBERi0xLjQK",
		"--outer--",
		"",
	)
}

func TestParseEmail_Multipart(t *testing.T) {
	parsed, err := ParseEmail(invoiceMail())
	require.NoError(t, err)

	assert.Equal(t, "Your invoice", parsed.Subject)
	require.NotNil(t, parsed.TextBody)
	assert.Equal(t, "Please find the invoice attached.", *parsed.TextBody)
	require.NotNil(t, parsed.HTMLBody)
	assert.Contains(t, *parsed.HTMLBody, "<b>invoice</b>")

	require.Len(t, parsed.Attachments, 1)
	att := parsed.Attachments[0]
	assert.Equal(t, "invoice.pdf", att.Filename)
	assert.Equal(t, "application/pdf", att.ContentType)
	assert.Equal(t, []byte("%PDF-1.4\n"), att.Content)
	assert.Equal(t, int64(9), att.Size())

	t.Run("只保留允许列表内的邮件头", func(t *testing.T) {
		assert.Equal(t, "Billing <billing@example.com>", parsed.Headers[domain.HeaderFrom])
		assert.Equal(t, "<inv-1@example.com>", parsed.Headers[domain.HeaderMessageID])
		assert.NotContains(t, parsed.Headers, domain.HeaderKey("X-Mailer"))
		assert.NotContains(t, parsed.Headers, domain.HeaderCc)
	})
}

func TestParseEmail_SinglePart(t *testing.T) {
	tests := []struct {
		name     string
		raw      []byte
		wantText string
		wantHTML string
	}{
		{
			name:     "缺少Content-Type按纯文本处理",
			raw:      crlf("Subject: hi", "", "plain body"),
			wantText: "plain body",
		},
		{
			name:     "HTML正文",
			raw:      crlf("Content-Type: text/html", "", "<i>x</i>"),
			wantHTML: "<i>x</i>",
		},
		{
			name:     "quoted-printable解码",
			raw:      crlf("Content-Type: text/plain; charset=utf-8", "Content-Transfer-Encoding: quoted-printable", "", "caf=C3=A9"),
			wantText: "café",
		},
		{
			name:     "字符集转换",
			raw:      crlf("Content-Type: text/plain; charset=iso-8859-1", "Content-Transfer-Encoding: quoted-printable", "", "caf=E9"),
			wantText: "café",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := ParseEmail(tt.raw)
			require.NoError(t, err)
			if tt.wantText != "" {
				require.NotNil(t, parsed.TextBody)
				assert.Equal(t, tt.wantText, *parsed.TextBody)
			} else {
				assert.Nil(t, parsed.TextBody)
			}
			if tt.wantHTML != "" {
				require.NotNil(t, parsed.HTMLBody)
				assert.Equal(t, tt.wantHTML, *parsed.HTMLBody)
			} else {
				assert.Nil(t, parsed.HTMLBody)
			}
			assert.Empty(t, parsed.Attachments)
		})
	}
}

func TestParseEmail_Subject(t *testing.T) {
	t.Run("缺少主题", func(t *testing.T) {
		parsed, err := ParseEmail(crlf("From: a@example.com", "", "x"))
		require.NoError(t, err)
		assert.Equal(t, "", parsed.Subject)
		assert.NotContains(t, parsed.Headers, domain.HeaderSubject)
	})

	t.Run("编码字解码", func(t *testing.T) {
		parsed, err := ParseEmail(crlf("Subject: =?UTF-8?B?5L2g5aW9?=", "", "x"))
		require.NoError(t, err)
		assert.Equal(t, "你好", parsed.Subject)
	})
}

func TestParseEmail_FirstBodyWins(t *testing.T) {
	raw := crlf(
		`Content-Type: multipart/alternative; boundary="b"`,
		"",
		"--b",
		"Content-Type: text/plain",
		"",
		"first",
		"--b",
		"Content-Type: text/plain",
		"",
		"second",
		"--b",
		"Content-Type: text/html",
		"",
		"<p>first</p>",
		"--b",
		"Content-Type: text/html",
		"",
		"<p>second</p>",
		"--b--",
		"",
	)
	parsed, err := ParseEmail(raw)
	require.NoError(t, err)
	assert.Equal(t, "first", *parsed.TextBody)
	assert.Equal(t, "<p>first</p>", *parsed.HTMLBody)
}

func TestParseEmail_DispositionDoesNotHideBody(t *testing.T) {
	t.Run("单部分邮件带文件名仍是正文", func(t *testing.T) {
		raw := crlf(
			"Subject: list digest",
			"Content-Type: text/plain; charset=utf-8",
			`Content-Disposition: inline; filename="msg.txt"`,
			"",
			"digest body",
		)
		parsed, err := ParseEmail(raw)
		require.NoError(t, err)
		require.NotNil(t, parsed.TextBody)
		assert.Equal(t, "digest body", *parsed.TextBody)
		assert.Empty(t, parsed.Attachments)
	})

	t.Run("文本附件同时作为第一个纯文本正文", func(t *testing.T) {
		raw := crlf(
			`Content-Type: multipart/mixed; boundary="m"`,
			"",
			"--m",
			"Content-Type: text/html",
			"",
			"<p>see attached</p>",
			"--m",
			"Content-Type: text/plain",
			`Content-Disposition: attachment; filename="notes.txt"`,
			"",
			"attached notes",
			"--m",
			"Content-Type: text/plain",
			"",
			"later text",
			"--m--",
			"",
		)
		parsed, err := ParseEmail(raw)
		require.NoError(t, err)
		require.NotNil(t, parsed.HTMLBody)
		require.NotNil(t, parsed.TextBody)
		assert.Equal(t, "attached notes", *parsed.TextBody)
		require.Len(t, parsed.Attachments, 1)
		assert.Equal(t, "notes.txt", parsed.Attachments[0].Filename)
		assert.Equal(t, []byte("attached notes"), parsed.Attachments[0].Content)
	})
}

func TestParseEmail_Nested(t *testing.T) {
	raw := crlf(
		`Content-Type: multipart/mixed; boundary="outer"`,
		"",
		"--outer",
		`Content-Type: multipart/alternative; boundary="inner"`,
		"",
		"--inner",
		"Content-Type: text/plain",
		"",
		"nested text",
		"--inner",
		"Content-Type: text/html",
		"",
		"<p>nested</p>",
		"--inner--",
		"--outer",
		"Content-Type: text/csv",
		`Content-Disposition: attachment; filename="report.csv"`,
		"",
		"a,b",
		"--outer--",
		"",
	)
	parsed, err := ParseEmail(raw)
	require.NoError(t, err)
	assert.Equal(t, "nested text", *parsed.TextBody)
	assert.Equal(t, "<p>nested</p>", *parsed.HTMLBody)
	require.Len(t, parsed.Attachments, 1)
	assert.Equal(t, "report.csv", parsed.Attachments[0].Filename)
	assert.Equal(t, "text/csv", parsed.Attachments[0].ContentType)
}

func TestParseEmail_Attachments(t *testing.T) {
	longName := strings.Repeat("a", 300) + ".txt"

	raw := crlf(
		`Content-Type: multipart/mixed; boundary="m"`,
		"",
		"--m",
		"Content-Type: text/plain",
		"",
		"body",
		"--m",
		"Content-Type: application/octet-stream",
		"Content-Disposition: attachment",
		"",
		"no filename",
		"--m",
		`Content-Type: application/octet-stream; name="fallback.bin"`,
		"Content-Disposition: attachment",
		"",
		"named by content type",
		"--m",
		"Content-Type: application/octet-stream",
		`Content-Disposition: attachment; filename="empty.bin"`,
		"",
		"",
		"--m",
		"Content-Type: text/plain",
		`Content-Disposition: attachment; filename="`+longName+`"`,
		"",
		"long",
		"--m",
		"Content-Type: application/octet-stream",
		`Content-Disposition: attachment; filename="=?UTF-8?B?5Y+R56Wo?=.pdf"`,
		"",
		"encoded",
		"--m",
		`Content-Type: image/png; name="logo.png"`,
		"",
		"no disposition",
		"--m--",
		"",
	)

	parsed, err := ParseEmail(raw)
	require.NoError(t, err)
	assert.Equal(t, "body", *parsed.TextBody)

	names := make([]string, 0, len(parsed.Attachments))
	for _, a := range parsed.Attachments {
		assert.Positive(t, a.Size())
		names = append(names, a.Filename)
	}

	t.Run("没有文件名不算附件", func(t *testing.T) {
		assert.NotContains(t, names, "")
		assert.NotContains(t, names, "logo.png")
	})
	t.Run("回退到Content-Type的name参数", func(t *testing.T) {
		assert.Contains(t, names, "fallback.bin")
	})
	t.Run("空附件被丢弃", func(t *testing.T) {
		assert.NotContains(t, names, "empty.bin")
	})
	t.Run("文件名截断", func(t *testing.T) {
		require.Len(t, names, 3)
		assert.Equal(t, domain.MaxFilenameLength, len([]rune(names[1])))
	})
	t.Run("文件名编码字解码", func(t *testing.T) {
		assert.Equal(t, "发票.pdf", names[2])
	})
}

func TestParseEmail_Malformed(t *testing.T) {
	t.Run("空输入", func(t *testing.T) {
		_, err := ParseEmail(nil)
		assert.ErrorIs(t, err, domain.ErrParseFailure)
		_, err = ParseEmail([]byte("  \r\n"))
		assert.ErrorIs(t, err, domain.ErrParseFailure)
	})

	t.Run("顶层邮件头无法读取", func(t *testing.T) {
		_, err := ParseEmail(crlf("this line has no colon", "", "body"))
		assert.ErrorIs(t, err, domain.ErrParseFailure)
	})

	t.Run("损坏的子部分被丢弃", func(t *testing.T) {
		raw := crlf(
			`Content-Type: multipart/mixed; boundary="m"`,
			"",
			"--m",
			"Content-Type: text/plain",
			"",
			"survives",
			"--m",
			"Content-Type: application/pdf",
			`Content-Disposition: attachment; filename="broken.pdf"`,
			"Content-Transfer-Encoding: base64",
			"",
			"!!!not base64!!!",
			"--m--",
			"",
		)
		parsed, err := ParseEmail(raw)
		require.NoError(t, err)
		assert.Equal(t, "survives", *parsed.TextBody)
		assert.Empty(t, parsed.Attachments)
	})

	t.Run("未知字符集保留原始字节", func(t *testing.T) {
		parsed, err := ParseEmail(crlf("Content-Type: text/plain; charset=x-unknown-42", "", "raw text"))
		require.NoError(t, err)
		require.NotNil(t, parsed.TextBody)
		assert.Equal(t, "raw text", *parsed.TextBody)
	})
}
