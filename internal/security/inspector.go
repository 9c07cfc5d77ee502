package security

import (
	"bytes"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/SandeepBunny16/secure-tempmail/internal/domain"
)

// Inspector 对解析后的邮件做启发式检查，结果只写入元数据，不会拒收邮件。
type Inspector struct {
	// 恶意内容模式
	maliciousPatterns []*regexp.Regexp

	// 垃圾邮件关键词
	spamKeywords []string

	// 危险文件扩展名
	dangerousExtensions map[string]bool

	// 可执行文件魔数
	executableSignatures [][]byte
}

// NewInspector 创建内容检查器
func NewInspector() *Inspector {
	return &Inspector{
		maliciousPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`),
			regexp.MustCompile(`(?i)javascript:`),
			regexp.MustCompile(`(?i)\bon(load|error|click|mouseover)\s*=`),
			regexp.MustCompile(`(?i)document\.cookie`),
			regexp.MustCompile(`(?i)<(iframe|object|embed)[^>]*>`),
		},
		spamKeywords: []string{
			"viagra", "casino", "lottery", "winner", "congratulations",
			"free money", "click here", "limited time", "act now",
			"guaranteed", "no risk", "earn money", "work from home",
		},
		dangerousExtensions: map[string]bool{
			".exe": true, ".bat": true, ".cmd": true, ".scr": true,
			".pif": true, ".com": true, ".vbs": true, ".js": true,
			".jar": true, ".ps1": true, ".msi": true, ".hta": true,
		},
		executableSignatures: [][]byte{
			{0x4D, 0x5A},             // PE
			{0x7F, 0x45, 0x4C, 0x46}, // ELF
			{0xFE, 0xED, 0xFA, 0xCE}, // Mach-O
			{0xCE, 0xFA, 0xED, 0xFE}, // Mach-O (reverse)
		},
	}
}

// Inspect 返回需要合并进邮件元数据的标记；没有发现时返回空映射
//
// 必须在 HTML 清理之前调用，检查的是原始内容。
func (in *Inspector) Inspect(parsed *domain.ParsedEmail) domain.Metadata {
	meta := domain.Metadata{}

	var body strings.Builder
	body.WriteString(parsed.Subject)
	if parsed.TextBody != nil {
		body.WriteByte('\n')
		body.WriteString(*parsed.TextBody)
	}
	if parsed.HTMLBody != nil {
		body.WriteByte('\n')
		body.WriteString(*parsed.HTMLBody)
	}
	if flag := in.checkContent(body.String()); flag != "" {
		meta[domain.MetaContentFlag] = flag
	}

	var flagged []string
	for _, att := range parsed.Attachments {
		if in.isDangerousAttachment(att) {
			flagged = append(flagged, att.Filename)
		}
	}
	if len(flagged) > 0 {
		sort.Strings(flagged)
		meta[domain.MetaFlaggedAttachments] = strings.Join(flagged, ",")
	}

	return meta
}

// checkContent 检查正文，返回 "malicious"、"spam" 或空字符串
func (in *Inspector) checkContent(content string) string {
	for _, pattern := range in.maliciousPatterns {
		if pattern.MatchString(content) {
			return "malicious"
		}
	}

	lower := strings.ToLower(content)
	hits := 0
	for _, keyword := range in.spamKeywords {
		if strings.Contains(lower, keyword) {
			hits++
		}
	}
	if hits >= 3 {
		return "spam"
	}
	return ""
}

// isDangerousAttachment 根据扩展名和文件头判断附件是否可执行
func (in *Inspector) isDangerousAttachment(att domain.ParsedAttachment) bool {
	if in.dangerousExtensions[strings.ToLower(filepath.Ext(att.Filename))] {
		return true
	}
	for _, sig := range in.executableSignatures {
		if bytes.HasPrefix(att.Content, sig) {
			return true
		}
	}
	return false
}
