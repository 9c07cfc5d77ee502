package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/SandeepBunny16/secure-tempmail/internal/domain"
	"github.com/SandeepBunny16/secure-tempmail/internal/storage"
)

// Index 基于 Redis 的快速索引实现
//
// 所有键的 TTL 不超过收件箱的剩余生存时间，键过期即等于索引中收件箱消失。
type Index struct {
	*Client
}

var _ storage.FastIndex = (*Index)(nil)

// NewIndex 创建快速索引
func NewIndex(client *Client) *Index {
	return &Index{Client: client}
}

// ========== 收件箱映射 ==========

// SeedInbox 写入地址与 ID 的双向映射，计数器不存在时以当前计数初始化
func (i *Index) SeedInbox(ctx context.Context, inbox *domain.Inbox) error {
	ttl := inbox.Remaining(time.Now())
	if ttl <= 0 {
		return nil
	}

	_, err := i.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, storage.AddressKey(inbox.Address), inbox.ID, ttl)
		pipe.Set(ctx, storage.IDKey(inbox.ID), inbox.Address, ttl)
		pipe.SetNX(ctx, storage.CountKey(inbox.Address), inbox.MessageCount, ttl)
		return nil
	})
	if err != nil {
		return indexErr("seed inbox", err)
	}
	return nil
}

// LookupInbox 根据地址返回收件箱 ID
func (i *Index) LookupInbox(ctx context.Context, address string) (string, error) {
	id, err := i.rdb.Get(ctx, storage.AddressKey(address)).Result()
	if err != nil {
		return "", indexErr("lookup inbox", err)
	}
	return id, nil
}

// LookupAddress 根据收件箱 ID 返回地址
func (i *Index) LookupAddress(ctx context.Context, inboxID string) (string, error) {
	address, err := i.rdb.Get(ctx, storage.IDKey(inboxID)).Result()
	if err != nil {
		return "", indexErr("lookup address", err)
	}
	return address, nil
}

// ========== 计数器 ==========

// MessageCount 返回当前计数，计数器不存在时返回 0
func (i *Index) MessageCount(ctx context.Context, address string) (int64, error) {
	count, err := i.rdb.Get(ctx, storage.CountKey(address)).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, indexErr("message count", err)
	}
	return count, nil
}

// IncrementCount 自增计数器并把过期时间对齐到收件箱的过期时刻
func (i *Index) IncrementCount(ctx context.Context, address string, expiresAt time.Time) (int64, error) {
	key := storage.CountKey(address)

	var incr *goredis.IntCmd
	_, err := i.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireAt(ctx, key, expiresAt)
		return nil
	})
	if err != nil {
		return 0, indexErr("increment count", err)
	}
	return incr.Val(), nil
}

// PurgeInbox 删除收件箱相关的全部键，address 为空时通过 ID 反查
func (i *Index) PurgeInbox(ctx context.Context, inboxID, address string) error {
	if address == "" {
		found, err := i.LookupAddress(ctx, inboxID)
		switch {
		case errors.Is(err, storage.ErrIndexMiss):
		case err != nil:
			return err
		default:
			address = found
		}
	}

	keys := []string{storage.IDKey(inboxID)}
	if address != "" {
		keys = append(keys, storage.AddressKey(address), storage.CountKey(address))
	}
	if err := i.rdb.Del(ctx, keys...).Err(); err != nil {
		return indexErr("purge inbox", err)
	}
	return nil
}

// indexErr 区分键不存在与 Redis 不可用
func indexErr(op string, err error) error {
	if errors.Is(err, goredis.Nil) {
		return storage.ErrIndexMiss
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrIndexFailure, op, err)
}
