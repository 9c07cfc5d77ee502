package smtp

import (
	"errors"

	gosmtp "github.com/emersion/go-smtp"

	"github.com/SandeepBunny16/secure-tempmail/internal/domain"
	"github.com/SandeepBunny16/secure-tempmail/internal/monitoring"
)

// 会话层固定回复
var (
	// ErrNoRecipients DATA 之前没有任何有效收件人
	ErrNoRecipients = &gosmtp.SMTPError{
		Code:         554,
		EnhancedCode: gosmtp.EnhancedCode{5, 5, 1},
		Message:      "no valid recipients",
	}

	// ErrTooManyRecipients 每个事务只接受一个收件人
	ErrTooManyRecipients = &gosmtp.SMTPError{
		Code:         452,
		EnhancedCode: gosmtp.EnhancedCode{4, 5, 3},
		Message:      "too many recipients",
	}

	// ErrInvalidRecipient 收件人地址语法错误
	ErrInvalidRecipient = &gosmtp.SMTPError{
		Code:         501,
		EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
		Message:      "invalid recipient address",
	}

	// ErrConnectionLimit 连接数或新建速率超限
	ErrConnectionLimit = &gosmtp.SMTPError{
		Code:         421,
		EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
		Message:      "too many connections, try again later",
	}
)

// toSMTPError 把错误分类映射为 SMTP 回复
//
// 策略拒绝是 5xx 永久失败；其余错误一律 451，让发送方重试。
func toSMTPError(err error) *gosmtp.SMTPError {
	var smtpErr *gosmtp.SMTPError
	switch {
	case errors.As(err, &smtpErr):
		return smtpErr
	case errors.Is(err, domain.ErrUnknownRecipient):
		return &gosmtp.SMTPError{Code: 550, EnhancedCode: gosmtp.EnhancedCode{5, 1, 1}, Message: "recipient mailbox not found"}
	case errors.Is(err, domain.ErrQuotaExceeded):
		return &gosmtp.SMTPError{Code: 552, EnhancedCode: gosmtp.EnhancedCode{5, 2, 2}, Message: "mailbox full"}
	case errors.Is(err, domain.ErrOversizeMessage):
		return &gosmtp.SMTPError{Code: 552, EnhancedCode: gosmtp.EnhancedCode{5, 3, 4}, Message: "message exceeds maximum size"}
	case errors.Is(err, domain.ErrParseFailure):
		return &gosmtp.SMTPError{Code: 451, EnhancedCode: gosmtp.EnhancedCode{4, 6, 0}, Message: "message could not be processed"}
	default:
		return &gosmtp.SMTPError{Code: 451, EnhancedCode: gosmtp.EnhancedCode{4, 3, 0}, Message: "temporary failure, try again later"}
	}
}

// reasonOf 返回错误对应的指标标签
func reasonOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrUnknownRecipient):
		return monitoring.ReasonUnknownRecipient
	case errors.Is(err, domain.ErrQuotaExceeded):
		return monitoring.ReasonQuotaExceeded
	case errors.Is(err, domain.ErrOversizeMessage):
		return monitoring.ReasonTooLarge
	case errors.Is(err, domain.ErrParseFailure):
		return monitoring.ReasonParseFailure
	case errors.Is(err, domain.ErrCryptoFailure):
		return monitoring.ReasonCryptoFailure
	case errors.Is(err, domain.ErrStorageFailure):
		return monitoring.ReasonStorageFailure
	default:
		return monitoring.ReasonInternal
	}
}
