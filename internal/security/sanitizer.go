package security

import (
	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer 清理邮件 HTML 正文，去除脚本、事件属性与不安全链接。
//
// Sanitize 是纯函数且幂等：Sanitize(Sanitize(x)) == Sanitize(x)。
type Sanitizer struct {
	policy *bluemonday.Policy
}

// NewSanitizer 创建使用安全标签白名单的 HTML 清理器
func NewSanitizer() *Sanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"a", "abbr", "acronym", "b", "blockquote", "br", "code", "div",
		"em", "i", "li", "ol", "p", "pre", "span", "strong", "ul",
		"h1", "h2", "h3", "h4", "h5", "h6",
		"table", "thead", "tbody", "tr", "th", "td",
		"img", "hr",
	)

	p.AllowAttrs("class", "id").Globally()
	p.AllowAttrs("href", "title").OnElements("a")
	p.AllowAttrs("src", "alt", "title", "width", "height").OnElements("img")
	p.AllowAttrs("title").OnElements("abbr", "acronym")
	p.AllowAttrs("border", "cellpadding", "cellspacing").OnElements("table")
	p.AllowAttrs("colspan", "rowspan").OnElements("th", "td")

	p.AllowURLSchemes("http", "https", "mailto")
	p.RequireParseableURLs(true)

	return &Sanitizer{policy: p}
}

// Sanitize 返回清理后的 HTML
func (s *Sanitizer) Sanitize(html string) string {
	if html == "" {
		return ""
	}
	return s.policy.Sanitize(html)
}
