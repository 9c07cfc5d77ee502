package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/SandeepBunny16/secure-tempmail/internal/domain"
	"github.com/SandeepBunny16/secure-tempmail/internal/storage"
)

// ========== Inbox Repository ==========

// CreateInbox 保存新收件箱
func (s *Store) CreateInbox(ctx context.Context, inbox *domain.Inbox) error {
	if !inbox.ExpiresAt.After(inbox.CreatedAt) {
		return fmt.Errorf("inbox expires_at must be after created_at")
	}
	if inbox.MessageCount < 0 {
		return fmt.Errorf("inbox message_count must not be negative")
	}

	err := s.db.WithContext(ctx).Create(inbox).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return storage.ErrAddressTaken
	}
	if err != nil {
		return storageErr("create inbox", err)
	}
	return nil
}

// GetInbox 根据 ID 获取收件箱（包括已过期但尚未清理的）
func (s *Store) GetInbox(ctx context.Context, id string) (*domain.Inbox, error) {
	var inbox domain.Inbox
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&inbox).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrInboxNotFound
	}
	if err != nil {
		return nil, storageErr("get inbox", err)
	}
	return &inbox, nil
}

// GetInboxByAddress 根据地址获取激活且未过期的收件箱
func (s *Store) GetInboxByAddress(ctx context.Context, address string) (*domain.Inbox, error) {
	var inbox domain.Inbox
	err := s.db.WithContext(ctx).
		Where("address = ? AND is_active = ? AND expires_at > ?", address, true, time.Now().UTC()).
		Take(&inbox).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrInboxNotFound
	}
	if err != nil {
		return nil, storageErr("get inbox by address", err)
	}
	return &inbox, nil
}

// AddressExists 检查地址是否已被占用（包括未清理的过期收件箱）
func (s *Store) AddressExists(ctx context.Context, address string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.Inbox{}).Where("address = ?", address).Count(&count).Error
	if err != nil {
		return false, storageErr("check address", err)
	}
	return count > 0, nil
}

// SetInboxExpiry 修改收件箱过期时间
func (s *Store) SetInboxExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	res := s.db.WithContext(ctx).Model(&domain.Inbox{}).Where("id = ?", id).UpdateColumn("expires_at", expiresAt.UTC())
	if res.Error != nil {
		return storageErr("set inbox expiry", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&domain.Inbox{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return storageErr("set inbox expiry", err)
	}
	if count == 0 {
		return domain.ErrInboxNotFound
	}
	return nil
}

// ListExpiredInboxes 返回最多 limit 个在 now 之前过期的收件箱，最早过期的优先
func (s *Store) ListExpiredInboxes(ctx context.Context, now time.Time, limit int) ([]domain.Inbox, error) {
	var inboxes []domain.Inbox
	err := s.db.WithContext(ctx).
		Where("expires_at < ?", now.UTC()).
		Order("expires_at ASC").
		Limit(limit).
		Find(&inboxes).Error
	if err != nil {
		return nil, storageErr("list expired inboxes", err)
	}
	return inboxes, nil
}

// DeleteInbox 在同一事务中删除收件箱、邮件和附件
//
// 返回值:
//   - int64: 被删除的邮件数
//   - error: 收件箱不存在时返回 ErrInboxNotFound
func (s *Store) DeleteInbox(ctx context.Context, id string) (int64, error) {
	var deleted int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		messageIDs := tx.Model(&domain.Message{}).Select("id").Where("inbox_id = ?", id)
		if err := tx.Where("message_id IN (?)", messageIDs).Delete(&domain.Attachment{}).Error; err != nil {
			return storageErr("delete attachments", err)
		}

		res := tx.Where("inbox_id = ?", id).Delete(&domain.Message{})
		if res.Error != nil {
			return storageErr("delete messages", res.Error)
		}
		deleted = res.RowsAffected

		res = tx.Where("id = ?", id).Delete(&domain.Inbox{})
		if res.Error != nil {
			return storageErr("delete inbox", res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.ErrInboxNotFound
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
