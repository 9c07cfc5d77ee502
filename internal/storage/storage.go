package storage

import (
	"context"
	"errors"
	"time"

	"github.com/SandeepBunny16/secure-tempmail/internal/domain"
)

var (
	// ErrIndexMiss 表示快速索引中不存在该键（与索引不可用区分）
	ErrIndexMiss = errors.New("index entry not found")

	// ErrAddressTaken 地址已被其他收件箱占用
	ErrAddressTaken = errors.New("address already exists")
)

// InboxRepository 收件箱持久化接口
type InboxRepository interface {
	CreateInbox(ctx context.Context, inbox *domain.Inbox) error
	GetInbox(ctx context.Context, id string) (*domain.Inbox, error)
	// GetInboxByAddress 只返回未过期且处于激活状态的收件箱
	GetInboxByAddress(ctx context.Context, address string) (*domain.Inbox, error)
	AddressExists(ctx context.Context, address string) (bool, error)
	// SetInboxExpiry 修改过期时间，用于提前过期
	SetInboxExpiry(ctx context.Context, id string, expiresAt time.Time) error
	ListExpiredInboxes(ctx context.Context, now time.Time, limit int) ([]domain.Inbox, error)
	// DeleteInbox 在同一事务中删除收件箱及其邮件、附件，返回删除的邮件数
	DeleteInbox(ctx context.Context, id string) (int64, error)
}

// MessageRepository 邮件持久化接口
type MessageRepository interface {
	// SaveMessageWithQuota 在一个事务内完成带配额条件的计数自增与邮件、附件写入
	SaveMessageWithQuota(ctx context.Context, message *domain.Message, quota int) error
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
	ListMessages(ctx context.Context, inboxID string) ([]domain.Message, error)
	CountMessages(ctx context.Context, inboxID string) (int64, error)
	MarkMessageRead(ctx context.Context, id string) error
}

// DurableStore 是权威的关系型存储
type DurableStore interface {
	InboxRepository
	MessageRepository
	Ping(ctx context.Context) error
	Close() error
}

// FastIndex 是带 TTL 的地址索引与计数器，只作为准入加速，不作为删除依据。
//
// 键:
//   - inbox:{address}       -> 收件箱 ID
//   - inbox:id:{id}         -> 地址
//   - inbox:count:{address} -> 单调递增的邮件计数
type FastIndex interface {
	SeedInbox(ctx context.Context, inbox *domain.Inbox) error
	LookupInbox(ctx context.Context, address string) (string, error)
	LookupAddress(ctx context.Context, inboxID string) (string, error)
	MessageCount(ctx context.Context, address string) (int64, error)
	IncrementCount(ctx context.Context, address string, expiresAt time.Time) (int64, error)
	PurgeInbox(ctx context.Context, inboxID, address string) error
	Ping(ctx context.Context) error
}

// 快速索引键格式
const (
	AddressKeyPrefix = "inbox:"
	IDKeyPrefix      = "inbox:id:"
	CountKeyPrefix   = "inbox:count:"
)

// AddressKey 返回地址到 ID 的键
func AddressKey(address string) string { return AddressKeyPrefix + address }

// IDKey 返回 ID 到地址的键
func IDKey(inboxID string) string { return IDKeyPrefix + inboxID }

// CountKey 返回计数器键
func CountKey(address string) string { return CountKeyPrefix + address }
