package domain

import "errors"

// 收信流程的错误分类。
//
// 策略类拒绝（收件人未知、配额、超大）对发送方是永久失败；
// 基础设施类错误（解析、加密、存储）是临时失败，发送方会重试。
var (
	// ErrUnknownRecipient 收件人不存在或已过期
	ErrUnknownRecipient = errors.New("unknown recipient")

	// ErrQuotaExceeded 收件箱邮件数已达上限
	ErrQuotaExceeded = errors.New("inbox quota exceeded")

	// ErrOversizeMessage 邮件超过最大字节数
	ErrOversizeMessage = errors.New("message exceeds maximum size")

	// ErrParseFailure 邮件信封或头部无法读取
	ErrParseFailure = errors.New("message could not be parsed")

	// ErrCryptoFailure 加密或解密失败
	ErrCryptoFailure = errors.New("crypto failure")

	// ErrStorageFailure 持久化存储不可用或写入失败
	ErrStorageFailure = errors.New("storage failure")

	// ErrIndexFailure 快速索引不可用，调用方应回退到持久化存储
	ErrIndexFailure = errors.New("index failure")
)

// 检索侧错误
var (
	ErrInboxNotFound   = errors.New("inbox not found")
	ErrMessageNotFound = errors.New("message not found")

	// ErrDecryptionFailed 对检索方不透明的解密失败
	ErrDecryptionFailed = errors.New("decryption failed")
)
