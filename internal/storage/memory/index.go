package memory

import (
	"context"
	"sync"
	"time"

	"github.com/SandeepBunny16/secure-tempmail/internal/domain"
	"github.com/SandeepBunny16/secure-tempmail/internal/storage"
)

type entry struct {
	value     string
	count     int64
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// Index 进程内快速索引，仅用于未配置 Redis 的单实例部署和测试
type Index struct {
	mu   sync.RWMutex
	keys map[string]entry
	now  func() time.Time
}

var _ storage.FastIndex = (*Index)(nil)

// NewIndex 创建进程内索引
func NewIndex() *Index {
	return &Index{
		keys: make(map[string]entry),
		now:  time.Now,
	}
}

// SeedInbox 写入地址与 ID 的双向映射
func (i *Index) SeedInbox(_ context.Context, inbox *domain.Inbox) error {
	now := i.now()
	if !inbox.ExpiresAt.After(now) {
		return nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.keys[storage.AddressKey(inbox.Address)] = entry{value: inbox.ID, expiresAt: inbox.ExpiresAt}
	i.keys[storage.IDKey(inbox.ID)] = entry{value: inbox.Address, expiresAt: inbox.ExpiresAt}
	countKey := storage.CountKey(inbox.Address)
	if e, ok := i.keys[countKey]; !ok || e.expired(now) {
		i.keys[countKey] = entry{count: int64(inbox.MessageCount), expiresAt: inbox.ExpiresAt}
	}
	return nil
}

// LookupInbox 根据地址返回收件箱 ID
func (i *Index) LookupInbox(_ context.Context, address string) (string, error) {
	e, ok := i.get(storage.AddressKey(address))
	if !ok {
		return "", storage.ErrIndexMiss
	}
	return e.value, nil
}

// LookupAddress 根据收件箱 ID 返回地址
func (i *Index) LookupAddress(_ context.Context, inboxID string) (string, error) {
	e, ok := i.get(storage.IDKey(inboxID))
	if !ok {
		return "", storage.ErrIndexMiss
	}
	return e.value, nil
}

// MessageCount 返回当前计数，不存在时为 0
func (i *Index) MessageCount(_ context.Context, address string) (int64, error) {
	e, ok := i.get(storage.CountKey(address))
	if !ok {
		return 0, nil
	}
	return e.count, nil
}

// IncrementCount 自增计数器并把过期时间设为 expiresAt
func (i *Index) IncrementCount(_ context.Context, address string, expiresAt time.Time) (int64, error) {
	key := storage.CountKey(address)
	now := i.now()

	i.mu.Lock()
	defer i.mu.Unlock()

	e, ok := i.keys[key]
	if !ok || e.expired(now) {
		e = entry{}
	}
	e.count++
	e.expiresAt = expiresAt
	i.keys[key] = e
	return e.count, nil
}

// PurgeInbox 删除收件箱相关的全部键
func (i *Index) PurgeInbox(_ context.Context, inboxID, address string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	idKey := storage.IDKey(inboxID)
	if address == "" {
		if e, ok := i.keys[idKey]; ok {
			address = e.value
		}
	}
	delete(i.keys, idKey)
	if address != "" {
		delete(i.keys, storage.AddressKey(address))
		delete(i.keys, storage.CountKey(address))
	}
	return nil
}

// Ping 进程内索引始终可用
func (i *Index) Ping(context.Context) error {
	return nil
}

// Sweep 删除已过期的键，返回删除数量
func (i *Index) Sweep() int {
	now := i.now()

	i.mu.Lock()
	defer i.mu.Unlock()

	removed := 0
	for key, e := range i.keys {
		if e.expired(now) {
			delete(i.keys, key)
			removed++
		}
	}
	return removed
}

// Len 返回当前保存的键数量（含尚未清理的过期键）
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.keys)
}

func (i *Index) get(key string) (entry, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	e, ok := i.keys[key]
	if !ok || e.expired(i.now()) {
		return entry{}, false
	}
	return e, true
}
