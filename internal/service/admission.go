package service

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/SandeepBunny16/secure-tempmail/internal/domain"
	"github.com/SandeepBunny16/secure-tempmail/internal/monitoring"
	"github.com/SandeepBunny16/secure-tempmail/internal/storage"
)

// RejectReason 是准入拒绝原因
type RejectReason string

// 准入拒绝原因
const (
	RejectUnknownRecipient RejectReason = "unknown_recipient"
	RejectQuotaExceeded    RejectReason = "quota_exceeded"
	RejectTooLarge         RejectReason = "too_large"
)

// Err 返回拒绝原因对应的错误分类
func (r RejectReason) Err() error {
	switch r {
	case RejectUnknownRecipient:
		return domain.ErrUnknownRecipient
	case RejectQuotaExceeded:
		return domain.ErrQuotaExceeded
	case RejectTooLarge:
		return domain.ErrOversizeMessage
	default:
		return nil
	}
}

// Decision 准入结果
//
// ExpiresAt 只有在从持久化存储读取收件箱时才会填充。
type Decision struct {
	Accepted  bool
	Reason    RejectReason
	InboxID   string
	ExpiresAt time.Time
}

func accept(inboxID string, expiresAt time.Time) Decision {
	return Decision{Accepted: true, InboxID: inboxID, ExpiresAt: expiresAt}
}

func reject(reason RejectReason) Decision {
	return Decision{Reason: reason}
}

// AdmissionController 在持久化之前做廉价的接收检查
//
// 只读取索引，不修改计数；配额的最终判断在持久化事务内完成。
type AdmissionController struct {
	index    storage.FastIndex
	inboxes  storage.InboxRepository
	quota    int
	maxBytes int64
	// confirmMisses 为 true 时，索引未命中会回查持久化存储并回填索引
	confirmMisses bool
	// missBudget 限制 Redis 未命中的回查频率，nil 表示不回查
	missBudget *rate.Limiter
	recorder   *monitoring.Recorder
	log        *zap.Logger
}

// AdmissionOptions 准入控制参数
type AdmissionOptions struct {
	MaxMessages     int
	MaxMessageBytes int64
	// ConfirmMisses 适用于进程内索引：重启后索引为空，需要从持久化存储恢复
	ConfirmMisses bool
	// MissConfirmRate 每秒最多回查的未命中次数，用于 Redis 丢失数据后的恢复
	MissConfirmRate float64
}

// NewAdmissionController 创建准入控制器
func NewAdmissionController(
	index storage.FastIndex,
	inboxes storage.InboxRepository,
	opts AdmissionOptions,
	recorder *monitoring.Recorder,
	log *zap.Logger,
) *AdmissionController {
	if log == nil {
		log = zap.NewNop()
	}
	ac := &AdmissionController{
		index:         index,
		inboxes:       inboxes,
		quota:         opts.MaxMessages,
		maxBytes:      opts.MaxMessageBytes,
		confirmMisses: opts.ConfirmMisses,
		recorder:      recorder,
		log:           log.Named("admission"),
	}
	if opts.MissConfirmRate > 0 {
		burst := int(math.Ceil(opts.MissConfirmRate))
		ac.missBudget = rate.NewLimiter(rate.Limit(opts.MissConfirmRate), burst)
	}
	return ac
}

// MaxMessageBytes 返回允许的最大邮件字节数
func (a *AdmissionController) MaxMessageBytes() int64 {
	return a.maxBytes
}

// Quota 返回单个收件箱的邮件上限
func (a *AdmissionController) Quota() int {
	return a.quota
}

// Admit 按 收件人 -> 配额 -> 大小 的顺序判断是否接收
//
// 返回的 error 只表示基础设施故障（索引与持久化存储都不可用）。
func (a *AdmissionController) Admit(ctx context.Context, address string, sizeBytes int64) (Decision, error) {
	inboxID, count, expiresAt, err := a.resolve(ctx, address)
	if errors.Is(err, domain.ErrInboxNotFound) {
		return reject(RejectUnknownRecipient), nil
	}
	if err != nil {
		return Decision{}, err
	}

	if count >= int64(a.quota) {
		return reject(RejectQuotaExceeded), nil
	}
	if sizeBytes > a.maxBytes {
		return reject(RejectTooLarge), nil
	}
	return accept(inboxID, expiresAt), nil
}

// resolve 返回收件箱 ID 与当前计数；不存在时返回 ErrInboxNotFound
func (a *AdmissionController) resolve(ctx context.Context, address string) (string, int64, time.Time, error) {
	inboxID, err := a.index.LookupInbox(ctx, address)
	switch {
	case errors.Is(err, storage.ErrIndexMiss):
		if !a.shouldConfirmMiss() {
			return "", 0, time.Time{}, domain.ErrInboxNotFound
		}
		return a.fromStore(ctx, address, true)
	case err != nil:
		a.indexFailed("lookup", address, err)
		return a.fromStore(ctx, address, false)
	}

	count, err := a.index.MessageCount(ctx, address)
	if err != nil {
		a.indexFailed("count", address, err)
		return a.fromStore(ctx, address, false)
	}
	return inboxID, count, time.Time{}, nil
}

// shouldConfirmMiss 进程内索引总是回查；Redis 只在回查预算内回查，
// 防止发往未知地址的垃圾邮件压垮持久化存储
func (a *AdmissionController) shouldConfirmMiss() bool {
	if a.confirmMisses {
		return true
	}
	return a.missBudget != nil && a.missBudget.Allow()
}

func (a *AdmissionController) fromStore(ctx context.Context, address string, reseed bool) (string, int64, time.Time, error) {
	inbox, err := a.inboxes.GetInboxByAddress(ctx, address)
	if err != nil {
		return "", 0, time.Time{}, err
	}

	if reseed {
		if err := a.index.SeedInbox(ctx, inbox); err != nil {
			a.indexFailed("seed", address, err)
		}
	}
	return inbox.ID, int64(inbox.MessageCount), inbox.ExpiresAt, nil
}

func (a *AdmissionController) indexFailed(op, address string, err error) {
	a.recorder.IndexFailure(op)
	a.log.Warn("fast index unavailable, falling back to durable store",
		zap.String("op", op),
		zap.String("address", address),
		zap.Error(err),
	)
}
