package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SandeepBunny16/secure-tempmail/internal/domain"
	"github.com/SandeepBunny16/secure-tempmail/internal/monitoring"
	"github.com/SandeepBunny16/secure-tempmail/internal/storage"
)

// Cipher 是静态加密所需的能力，由 crypto.Vault 实现
type Cipher interface {
	EncryptString(plaintext []byte) (string, error)
	DecryptString(encoded string) ([]byte, error)
}

// HTMLSanitizer 清理不可信 HTML
type HTMLSanitizer interface {
	Sanitize(html string) string
}

// ContentInspector 返回需要写入邮件元数据的内容标记
type ContentInspector interface {
	Inspect(parsed *domain.ParsedEmail) domain.Metadata
}

// MessageService 负责邮件的加密持久化与解密读取
type MessageService struct {
	store     storage.DurableStore
	index     storage.FastIndex
	cipher    Cipher
	sanitizer HTMLSanitizer
	inspector ContentInspector
	quota     int
	recorder  *monitoring.Recorder
	log       *zap.Logger
	now       func() time.Time
}

// MessageServiceDeps 聚合 MessageService 的依赖
type MessageServiceDeps struct {
	Store     storage.DurableStore
	Index     storage.FastIndex
	Cipher    Cipher
	Sanitizer HTMLSanitizer
	Inspector ContentInspector // 可选
	Quota     int
	Recorder  *monitoring.Recorder
	Log       *zap.Logger
}

// NewMessageService 创建邮件业务服务。
func NewMessageService(deps MessageServiceDeps) *MessageService {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &MessageService{
		store:     deps.Store,
		index:     deps.Index,
		cipher:    deps.Cipher,
		sanitizer: deps.Sanitizer,
		inspector: deps.Inspector,
		quota:     deps.Quota,
		recorder:  deps.Recorder,
		log:       log.Named("pipeline"),
		now:       time.Now,
	}
}

// PersistInput 定义保存一封已接收邮件所需的输入。
type PersistInput struct {
	InboxID    string
	Address    string // 规范化后的收件地址
	Sender     string // MAIL FROM
	ExpiresAt  time.Time
	Parsed     *domain.ParsedEmail
	Raw        []byte
	RemoteAddr string
	Helo       string
}

// Persist 清理、加密并在一个事务内保存邮件与附件，返回邮件 ID
//
// 失败时不会留下任何行；配额在事务内再次检查，并发投递可能在此被拒绝。
func (s *MessageService) Persist(ctx context.Context, in PersistInput) (string, error) {
	if in.Parsed == nil {
		return "", fmt.Errorf("%w: missing parsed email", domain.ErrParseFailure)
	}

	metadata := domain.Metadata{
		domain.MetaAttachmentCount: strconv.Itoa(len(in.Parsed.Attachments)),
	}
	if in.RemoteAddr != "" {
		metadata[domain.MetaRemoteAddr] = in.RemoteAddr
	}
	if in.Helo != "" {
		metadata[domain.MetaHelo] = in.Helo
	}
	if s.inspector != nil {
		for k, v := range s.inspector.Inspect(in.Parsed) {
			metadata[k] = v
		}
	}

	message, err := s.buildMessage(in, metadata)
	if err != nil {
		return "", err
	}

	if err := s.store.SaveMessageWithQuota(ctx, message, s.quota); err != nil {
		return "", err
	}

	s.bumpIndex(ctx, in)

	if flag := metadata[domain.MetaContentFlag]; flag != "" {
		s.recorder.ContentFlagged(flag)
	}
	s.log.Info("message stored",
		zap.String("message_id", message.ID),
		zap.String("inbox_id", message.InboxID),
		zap.Int64("size_bytes", message.SizeBytes),
		zap.Int("attachments", len(message.Attachments)),
	)
	return message.ID, nil
}

// buildMessage 生成待写入的密文行
func (s *MessageService) buildMessage(in PersistInput, metadata domain.Metadata) (*domain.Message, error) {
	parsed := in.Parsed
	now := s.now().UTC()

	message := &domain.Message{
		ID:          uuid.NewString(),
		InboxID:     in.InboxID,
		FromAddress: in.Sender,
		ToAddress:   in.Address,
		Subject:     truncateRunes(parsed.Subject, domain.MaxSubjectLength),
		ReceivedAt:  now,
		SizeBytes:   int64(len(in.Raw)),
		Headers:     parsed.Headers,
		Metadata:    metadata,
	}

	if parsed.HTMLBody != nil {
		sealed, err := s.cipher.EncryptString([]byte(s.sanitizer.Sanitize(*parsed.HTMLBody)))
		if err != nil {
			return nil, err
		}
		html := domain.Ciphertext(sealed)
		message.BodyHTMLEncrypted = &html
	}
	if parsed.TextBody != nil {
		sealed, err := s.cipher.EncryptString([]byte(*parsed.TextBody))
		if err != nil {
			return nil, err
		}
		text := domain.Ciphertext(sealed)
		message.BodyTextEncrypted = &text
	}

	raw, err := s.cipher.EncryptString(in.Raw)
	if err != nil {
		return nil, err
	}
	message.RawEncrypted = domain.Ciphertext(raw)

	for _, att := range parsed.Attachments {
		if att.Size() == 0 {
			continue
		}
		sealed, err := s.cipher.EncryptString(att.Content)
		if err != nil {
			return nil, err
		}
		message.Attachments = append(message.Attachments, domain.Attachment{
			ID:               uuid.NewString(),
			MessageID:        message.ID,
			Filename:         truncateRunes(att.Filename, domain.MaxFilenameLength),
			ContentType:      truncateRunes(att.ContentType, domain.MaxFilenameLength),
			SizeBytes:        att.Size(),
			ContentEncrypted: domain.Ciphertext(sealed),
			CreatedAt:        now,
		})
	}
	message.HasAttachments = len(message.Attachments) > 0

	return message, nil
}

// bumpIndex 提交后尽力更新索引计数，失败只记录日志
func (s *MessageService) bumpIndex(ctx context.Context, in PersistInput) {
	expiresAt := in.ExpiresAt
	if expiresAt.IsZero() {
		inbox, err := s.store.GetInbox(ctx, in.InboxID)
		if err != nil {
			s.log.Warn("skip index counter update", zap.String("inbox_id", in.InboxID), zap.Error(err))
			return
		}
		expiresAt = inbox.ExpiresAt
	}

	if _, err := s.index.IncrementCount(ctx, in.Address, expiresAt); err != nil {
		s.recorder.IndexFailure("increment")
		s.log.Warn("failed to increment index counter",
			zap.String("inbox_id", in.InboxID),
			zap.Error(err),
		)
	}
}

// ========== 读取 ==========

// AttachmentView 是解密后的附件
type AttachmentView struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	SizeBytes   int64  `json:"sizeBytes"`
	Content     []byte `json:"content"`
}

// MessageView 是解密后的邮件
type MessageView struct {
	ID          string           `json:"id"`
	InboxID     string           `json:"inboxId"`
	From        string           `json:"from"`
	To          string           `json:"to"`
	Subject     string           `json:"subject"`
	TextBody    *string          `json:"text,omitempty"`
	HTMLBody    *string          `json:"html,omitempty"`
	ReceivedAt  time.Time        `json:"receivedAt"`
	SizeBytes   int64            `json:"sizeBytes"`
	IsRead      bool             `json:"isRead"`
	Headers     domain.Headers   `json:"headers"`
	Metadata    domain.Metadata  `json:"metadata"`
	Attachments []AttachmentView `json:"attachments"`
}

// Get 获取并解密单封邮件
//
// 任何解密失败都返回不透明的 ErrDecryptionFailed，密文保持不变。
func (s *MessageService) Get(ctx context.Context, id string) (*MessageView, error) {
	message, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}

	view := &MessageView{
		ID:          message.ID,
		InboxID:     message.InboxID,
		From:        message.FromAddress,
		To:          message.ToAddress,
		Subject:     message.Subject,
		ReceivedAt:  message.ReceivedAt,
		SizeBytes:   message.SizeBytes,
		IsRead:      message.IsRead,
		Headers:     message.Headers,
		Metadata:    message.Metadata,
		Attachments: make([]AttachmentView, 0, len(message.Attachments)),
	}

	if view.HTMLBody, err = s.decryptOptional(message.BodyHTMLEncrypted); err != nil {
		return nil, s.decryptionFailed(message.ID, err)
	}
	if view.TextBody, err = s.decryptOptional(message.BodyTextEncrypted); err != nil {
		return nil, s.decryptionFailed(message.ID, err)
	}

	for _, att := range message.Attachments {
		content, err := s.cipher.DecryptString(string(att.ContentEncrypted))
		if err != nil {
			return nil, s.decryptionFailed(message.ID, err)
		}
		view.Attachments = append(view.Attachments, AttachmentView{
			ID:          att.ID,
			Filename:    att.Filename,
			ContentType: att.ContentType,
			SizeBytes:   att.SizeBytes,
			Content:     content,
		})
	}

	return view, nil
}

// GetRaw 获取并解密原始邮件
func (s *MessageService) GetRaw(ctx context.Context, id string) ([]byte, error) {
	message, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	raw, err := s.cipher.DecryptString(string(message.RawEncrypted))
	if err != nil {
		return nil, s.decryptionFailed(message.ID, err)
	}
	return raw, nil
}

// List 列出收件箱内的邮件（不解密正文）。
func (s *MessageService) List(ctx context.Context, inboxID string) ([]domain.Message, error) {
	return s.store.ListMessages(ctx, inboxID)
}

// MarkRead 将邮件标记为已读。
func (s *MessageService) MarkRead(ctx context.Context, id string) error {
	return s.store.MarkMessageRead(ctx, id)
}

func (s *MessageService) decryptOptional(sealed *domain.Ciphertext) (*string, error) {
	if sealed == nil {
		return nil, nil
	}
	plain, err := s.cipher.DecryptString(string(*sealed))
	if err != nil {
		return nil, err
	}
	text := string(plain)
	return &text, nil
}

func (s *MessageService) decryptionFailed(messageID string, err error) error {
	s.log.Warn("message decryption failed", zap.String("message_id", messageID), zap.Error(err))
	return domain.ErrDecryptionFailed
}

// truncateRunes 按字符截断字符串，不切断多字节字符
func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}

// IsPolicyRejection 判断错误是否为对发送方的永久拒绝
func IsPolicyRejection(err error) bool {
	return errors.Is(err, domain.ErrUnknownRecipient) ||
		errors.Is(err, domain.ErrQuotaExceeded) ||
		errors.Is(err, domain.ErrOversizeMessage)
}
