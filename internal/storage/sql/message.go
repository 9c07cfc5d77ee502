package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/SandeepBunny16/secure-tempmail/internal/domain"
)

// ========== Message Repository ==========

// SaveMessageWithQuota 以配额条件自增收件箱计数并写入邮件与附件
//
// 自增语句带 message_count < quota 条件，是配额的线性化点：
// 两个并发投递同时通过准入检查时，只有一个能让该语句生效。
// 未生效时回滚整个事务，不会留下任何邮件行。
func (s *Store) SaveMessageWithQuota(ctx context.Context, message *domain.Message, quota int) error {
	if message.SizeBytes <= 0 {
		return fmt.Errorf("message size_bytes must be positive")
	}
	for _, att := range message.Attachments {
		if att.SizeBytes <= 0 {
			return fmt.Errorf("attachment size_bytes must be positive")
		}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		res := tx.Model(&domain.Inbox{}).
			Where("id = ? AND is_active = ? AND expires_at > ? AND message_count < ?", message.InboxID, true, now, quota).
			UpdateColumn("message_count", gorm.Expr("message_count + ?", 1))
		if res.Error != nil {
			return storageErr("increment message count", res.Error)
		}

		if res.RowsAffected == 0 {
			var inbox domain.Inbox
			err := tx.Select("id").
				Where("id = ? AND is_active = ? AND expires_at > ?", message.InboxID, true, now).
				Take(&inbox).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrUnknownRecipient
			}
			if err != nil {
				return storageErr("check inbox", err)
			}
			return domain.ErrQuotaExceeded
		}

		if err := tx.Create(message).Error; err != nil {
			return storageErr("insert message", err)
		}
		return nil
	})
}

// GetMessage 根据 ID 获取邮件及其附件
func (s *Store) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	var message domain.Message
	err := s.db.WithContext(ctx).Preload("Attachments").Where("id = ?", id).Take(&message).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, storageErr("get message", err)
	}
	return &message, nil
}

// ListMessages 按接收时间倒序列出收件箱内的邮件（不含附件内容）
func (s *Store) ListMessages(ctx context.Context, inboxID string) ([]domain.Message, error) {
	var messages []domain.Message
	err := s.db.WithContext(ctx).
		Where("inbox_id = ?", inboxID).
		Order("received_at DESC").
		Find(&messages).Error
	if err != nil {
		return nil, storageErr("list messages", err)
	}
	return messages, nil
}

// CountMessages 统计收件箱内的邮件数
func (s *Store) CountMessages(ctx context.Context, inboxID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.Message{}).Where("inbox_id = ?", inboxID).Count(&count).Error
	if err != nil {
		return 0, storageErr("count messages", err)
	}
	return count, nil
}

// MarkMessageRead 标记邮件为已读
func (s *Store) MarkMessageRead(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&domain.Message{}).Where("id = ?", id).UpdateColumn("is_read", true)
	if res.Error != nil {
		return storageErr("mark message read", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	// MySQL 对未变化的行返回 0，需要再确认一次
	var count int64
	if err := s.db.WithContext(ctx).Model(&domain.Message{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return storageErr("mark message read", err)
	}
	if count == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}
