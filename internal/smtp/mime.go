package smtp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/SandeepBunny16/secure-tempmail/internal/domain"
)

// maxPartDepth 限制 multipart 嵌套层数
const maxPartDepth = 16

func init() {
	message.CharsetReader = charsetReader
}

// charsetReader 通过 x/text 把任意已知字符集转换为 UTF-8
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(strings.TrimSpace(charset))
	if err != nil {
		return nil, fmt.Errorf("unhandled charset %q: %w", charset, err)
	}
	return enc.NewDecoder().Reader(input), nil
}

// ParseEmail 解析原始邮件，提取主题、正文、允许列表内的邮件头和附件。
//
// 无法解析的子部分会被丢弃；只有顶层邮件头无法读取时返回 domain.ErrParseFailure。
// HTML 正文原样返回，清洗由持久化流程负责。
func ParseEmail(raw []byte) (*domain.ParsedEmail, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty message", domain.ErrParseFailure)
	}

	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !tolerable(err) {
		return nil, fmt.Errorf("%w: %v", domain.ErrParseFailure, err)
	}

	parsed := &domain.ParsedEmail{
		Subject: headerText(entity.Header, string(domain.HeaderSubject)),
		Headers: domain.Headers{},
	}
	for _, key := range domain.AllowedHeaders {
		if v := headerText(entity.Header, string(key)); v != "" {
			parsed.Headers[key] = v
		}
	}

	walkEntity(entity, parsed, 0)
	return parsed, nil
}

// tolerable 未知字符集或传输编码不影响结构，按原始字节继续处理
func tolerable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}

// walkEntity 按文档顺序遍历所有部分
func walkEntity(entity *message.Entity, parsed *domain.ParsedEmail, depth int) {
	if depth > maxPartDepth {
		return
	}

	if mr := entity.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil && (part == nil || !tolerable(err)) {
				// 边界损坏后无法继续定位后续部分
				return
			}
			walkEntity(part, parsed, depth+1)
		}
	}

	mediaType := contentType(entity.Header)

	// 单部分邮件的顶层实体始终是正文
	filename, isAttachment := attachmentFilename(entity.Header)
	isAttachment = isAttachment && depth > 0

	// 正文选择与 Content-Disposition 无关：按文档顺序取第一个非空的同类型部分
	wantText := mediaType == "text/plain" && parsed.TextBody == nil
	wantHTML := mediaType == "text/html" && parsed.HTMLBody == nil
	if !isAttachment && !wantText && !wantHTML {
		return
	}

	content, err := io.ReadAll(entity.Body)
	if err != nil || len(content) == 0 {
		return
	}

	switch {
	case wantText:
		parsed.TextBody = bodyText(content)
	case wantHTML:
		parsed.HTMLBody = bodyText(content)
	}

	if isAttachment {
		parsed.Attachments = append(parsed.Attachments, domain.ParsedAttachment{
			Filename:    truncateFilename(filename),
			ContentType: mediaType,
			Content:     content,
		})
	}
}

// contentType 缺失或无法解析时按 text/plain 处理
func contentType(h message.Header) string {
	t, _, _ := h.ContentType()
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "" {
		return "text/plain"
	}
	return t
}

// attachmentFilename 只有同时带 Content-Disposition 和文件名的部分才算附件
func attachmentFilename(h message.Header) (string, bool) {
	if !h.Has("Content-Disposition") {
		return "", false
	}
	_, params, _ := h.ContentDisposition()
	name := params["filename"]
	if name == "" {
		_, ctParams, _ := h.ContentType()
		name = ctParams["name"]
	}
	name = strings.TrimSpace(decodeWords(name))
	return name, name != ""
}

func bodyText(content []byte) *string {
	s := strings.ToValidUTF8(string(content), "�")
	return &s
}

func headerText(h message.Header, key string) string {
	v, err := h.Text(key)
	if err != nil {
		v = h.Get(key)
	}
	return strings.TrimSpace(v)
}

func decodeWords(s string) string {
	if s == "" {
		return s
	}
	dec := mime.WordDecoder{CharsetReader: message.CharsetReader}
	decoded, err := dec.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}

func truncateFilename(name string) string {
	if utf8.RuneCountInString(name) <= domain.MaxFilenameLength {
		return name
	}
	return string([]rune(name)[:domain.MaxFilenameLength])
}
